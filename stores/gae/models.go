//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"
)

// EntryEntity is the Datastore entity for one KeyValueStore entry
type EntryEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	Partition string         `datastore:"partition"`
	Name      string         `datastore:"name"`
	Value     string         `datastore:"value,noindex"`
	UpdatedAt time.Time      `datastore:"updated_at"`
}
