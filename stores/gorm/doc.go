//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based stores for authsession.
// It supports any database that GORM supports (PostgreSQL, MySQL, SQLite, etc.)
// and suits shared or long-lived deployments of the CLI and the dev server.
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - session_entries: KeyValueStore entries, partitioned by namespace
//   - accounts: dev server accounts with bcrypt password hashes
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	_ = gormstore.AutoMigrate(db)
//	tokens := authsession.NewTokenStore(gormstore.NewKVStore(db, "alice"))
//	accounts := gormstore.NewAccountStore(db)
package gorm
