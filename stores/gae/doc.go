//go:build !wasm
// +build !wasm

// Package gae provides a Google Cloud Datastore KeyValueStore for authsession.
// It supports multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
// The package uses a single kind, SessionEntry. The key name is
// "<partition>:<key>", so many sessions can share one namespace.
//
// # Usage
//
//	client, _ := gae.NewClient(ctx, projectID, "")  // or a credentials file
//	kv := gae.NewKVStore(client, "tenant-123", "alice")
//	tokens := authsession.NewTokenStore(kv)
package gae
