// Package memory provides in-memory implementations of store interfaces.
// They are suitable for tests, simulations and single-process deployments
// without persistent storage requirements.
package memory

import (
	"bytes"
	"context"
	"sort"
	"sync"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// KVStore is an in-memory implementation of liquidstake.KVStore.
// Values are copied on the way in and out so callers cannot alias stored bytes.
type KVStore struct {
	data map[string][]byte
	mu   sync.RWMutex
}

// NewKVStore creates a new empty in-memory key/value store.
func NewKVStore() *KVStore {
	return &KVStore{
		data: make(map[string][]byte),
	}
}

// Get returns the value stored at key and whether it exists.
func (s *KVStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	return bytes.Clone(v), true, nil
}

// Iterate calls fn for every key with the given prefix in ascending key order.
// fn must not write to the store.
func (s *KVStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = bytes.Clone(s.data[k])
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn([]byte(k), values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Write applies every op in batch under a single lock.
func (s *KVStore) Write(ctx context.Context, batch *liquidstake.Batch) error {
	if batch == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range batch.Ops {
		if op.Delete {
			delete(s.data, string(op.Key))
			continue
		}
		s.data[string(op.Key)] = bytes.Clone(op.Value)
	}
	return nil
}

// Len returns the number of stored keys.
func (s *KVStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Verify that KVStore implements liquidstake.KVStore
var _ liquidstake.KVStore = (*KVStore)(nil)
