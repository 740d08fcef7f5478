//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/panyam/authsession/devserver"
)

// AutoMigrate runs database migrations for all authsession tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&EntryModel{},
		&AccountModel{},
	)
}

// =============================================================================
// KVStore
// =============================================================================

// KVStore implements authsession.KeyValueStore using GORM. Each namespace is
// an independent key space, so one table can hold many users' sessions.
type KVStore struct {
	db        *gorm.DB
	namespace string
}

func NewKVStore(db *gorm.DB, namespace string) *KVStore {
	return &KVStore{db: db, namespace: namespace}
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var model EntryModel
	err := s.db.WithContext(ctx).
		Where("namespace = ? AND name = ?", s.namespace, key).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	return model.Value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	model := &EntryModel{Namespace: s.namespace, Name: key, Value: value}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "namespace"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(model).Error
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).
		Where("namespace = ? AND name = ?", s.namespace, key).
		Delete(&EntryModel{}).Error
}

// =============================================================================
// AccountStore
// =============================================================================

// AccountStore implements devserver.AccountStore using GORM
type AccountStore struct {
	db *gorm.DB
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db}
}

func (s *AccountStore) CreateAccount(ctx context.Context, account *devserver.Account) error {
	model := AccountToModel(account)
	model.Email = strings.ToLower(model.Email)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&AccountModel{}).Where("email = ?", model.Email).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return devserver.ErrEmailTaken
		}
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		account.CreatedAt = model.CreatedAt
		return nil
	})
}

func (s *AccountStore) GetAccountByEmail(ctx context.Context, email string) (*devserver.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "email = ?", strings.ToLower(email)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, devserver.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}

func (s *AccountStore) GetAccountByID(ctx context.Context, id string) (*devserver.Account, error) {
	var model AccountModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, devserver.ErrAccountNotFound
		}
		return nil, err
	}
	return model.ToAccount(), nil
}
