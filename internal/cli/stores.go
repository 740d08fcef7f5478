package cli

import (
	"context"
	"fmt"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/panyam/authsession"
	"github.com/panyam/authsession/internal/config"
	"github.com/panyam/authsession/stores/fs"
	"github.com/panyam/authsession/stores/gae"
	gormstore "github.com/panyam/authsession/stores/gorm"
)

// openStore opens the KeyValueStore selected by cfg. The returned close
// function releases any connection the store holds.
func openStore(ctx context.Context, cfg config.Store) (authsession.KeyValueStore, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory:
		return authsession.NewMemoryStore(), noop, nil

	case config.DriverFile:
		s, err := fs.NewStore(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, noop, nil

	case config.DriverSQLite, config.DriverPostgres, config.DriverMySQL:
		db, closeDB, err := openDB(cfg)
		if err != nil {
			return nil, nil, err
		}
		return gormstore.NewKVStore(db, cfg.Namespace), closeDB, nil

	case config.DriverDatastore:
		client, err := gae.NewClient(ctx, cfg.ProjectID, cfg.CredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return gae.NewKVStore(client, "", cfg.Namespace), client.Close, nil
	}

	return nil, nil, fmt.Errorf("%w: %q", config.ErrUnknownStoreDriver, cfg.Driver)
}

// openDB opens and migrates the database selected by cfg.
func openDB(cfg config.Store) (*gorm.DB, func() error, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, nil, fmt.Errorf("%w: %q is not a database", config.ErrUnknownStoreDriver, cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s database: %w", cfg.Driver, err)
	}
	if err := gormstore.AutoMigrate(db); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate %s database: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	return db, sqlDB.Close, nil
}
