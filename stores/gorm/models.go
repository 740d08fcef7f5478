//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	"github.com/panyam/authsession/devserver"
)

// EntryModel is one KeyValueStore entry
type EntryModel struct {
	Namespace string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"primaryKey;size:64"`
	Value     string    `gorm:"type:text"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (EntryModel) TableName() string {
	return "session_entries"
}

// AccountModel is the GORM model for dev server accounts
type AccountModel struct {
	ID           string    `gorm:"primaryKey;size:64"`
	Email        string    `gorm:"uniqueIndex;size:255;not null"`
	Role         string    `gorm:"size:64"`
	DisplayName  string    `gorm:"size:255"`
	PasswordHash string    `gorm:"size:255"`
	CreatedAt    time.Time `gorm:"autoCreateTime"`
	UpdatedAt    time.Time `gorm:"autoUpdateTime"`
}

func (AccountModel) TableName() string {
	return "accounts"
}

func (m *AccountModel) ToAccount() *devserver.Account {
	return &devserver.Account{
		ID:           m.ID,
		Email:        m.Email,
		Role:         m.Role,
		DisplayName:  m.DisplayName,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
	}
}

func AccountToModel(a *devserver.Account) *AccountModel {
	return &AccountModel{
		ID:           a.ID,
		Email:        a.Email,
		Role:         a.Role,
		DisplayName:  a.DisplayName,
		PasswordHash: a.PasswordHash,
		CreatedAt:    a.CreatedAt,
	}
}
