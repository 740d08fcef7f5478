//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/option"
)

// KindEntry is the Datastore kind of session entries
const KindEntry = "SessionEntry"

// NewClient creates a Datastore client. An empty credentialsFile uses
// Application Default Credentials.
func NewClient(ctx context.Context, projectID, credentialsFile string) (*datastore.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := datastore.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return client, nil
}

// KVStore implements authsession.KeyValueStore using Google Cloud Datastore
type KVStore struct {
	client    *datastore.Client
	namespace string
	partition string
}

// NewKVStore creates a Datastore-backed KVStore. partition separates
// sessions that share a namespace.
func NewKVStore(client *datastore.Client, namespace, partition string) *KVStore {
	return &KVStore{
		client:    client,
		namespace: namespace,
		partition: partition,
	}
}

func (s *KVStore) entryKey(name string) *datastore.Key {
	key := datastore.NameKey(KindEntry, EntryKeyName(s.partition, name), nil)
	key.Namespace = s.namespace
	return key
}

// EntryKeyName is the Datastore key name of an entry
func EntryKeyName(partition, name string) string {
	return partition + ":" + name
}

func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entity EntryEntity
	if err := s.client.Get(ctx, s.entryKey(key), &entity); err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return entity.Value, true, nil
}

func (s *KVStore) Set(ctx context.Context, key, value string) error {
	entity := &EntryEntity{
		Partition: s.partition,
		Name:      key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	if _, err := s.client.Put(ctx, s.entryKey(key), entity); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Delete(ctx, s.entryKey(key)); err != nil && !errors.Is(err, datastore.ErrNoSuchEntity) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
