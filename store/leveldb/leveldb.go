// Package leveldb provides a persistent liquidstake.KVStore backed by goleveldb.
// Engine state batches map one-to-one onto leveldb write batches, so a saved
// state is either fully on disk or not at all.
package leveldb

import (
	"bytes"
	"context"
	stderrors "errors"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// KVStore is a goleveldb-backed key/value store. A single database can hold
// several engine instances by giving each its own key prefix via Namespace.
type KVStore struct {
	db     *leveldb.DB
	prefix []byte
	sync   bool
	owned  bool
}

// Option configures a KVStore.
type Option func(*KVStore)

// WithSync makes every batch write fsync before returning.
func WithSync(sync bool) Option {
	return func(s *KVStore) {
		s.sync = sync
	}
}

// Open opens or creates a database in dir.
func Open(dir string, opts ...Option) (*KVStore, error) {
	db, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to open leveldb", err).With("dir", dir)
	}
	return newStore(db, opts...), nil
}

// OpenInMemory opens a database that lives only in memory.
func OpenInMemory(opts ...Option) (*KVStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to open in-memory leveldb", err)
	}
	return newStore(db, opts...), nil
}

func newStore(db *leveldb.DB, opts ...Option) *KVStore {
	s := &KVStore{db: db, owned: true}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Namespace returns a view of the same database with every key prefixed by ns
// and liquidstake.NamespaceSeparator. ns must not contain the separator.
// Closing a namespace does not close the underlying database.
func (s *KVStore) Namespace(ns string) *KVStore {
	prefix := make([]byte, 0, len(s.prefix)+len(ns)+1)
	prefix = append(prefix, s.prefix...)
	prefix = append(prefix, ns...)
	prefix = append(prefix, liquidstake.NamespaceSeparator)
	return &KVStore{db: s.db, prefix: prefix, sync: s.sync}
}

func (s *KVStore) key(k []byte) []byte {
	if len(s.prefix) == 0 {
		return k
	}
	out := make([]byte, 0, len(s.prefix)+len(k))
	out = append(out, s.prefix...)
	return append(out, k...)
}

// Get returns the value stored at key and whether it exists.
func (s *KVStore) Get(ctx context.Context, key []byte) ([]byte, bool, error) {
	v, err := s.db.Get(s.key(key), nil)
	if stderrors.Is(err, leveldb.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.NewStoreError(errors.STORE_ERROR, "leveldb get failed", err)
	}
	return v, true, nil
}

// Iterate calls fn for every key with the given prefix in ascending key order.
func (s *KVStore) Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error {
	iter := s.db.NewIterator(util.BytesPrefix(s.key(prefix)), nil)
	defer iter.Release()

	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		key := bytes.Clone(iter.Key()[len(s.prefix):])
		value := bytes.Clone(iter.Value())
		if err := fn(key, value); err != nil {
			return err
		}
	}
	if err := iter.Error(); err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "leveldb iteration failed", err)
	}
	return nil
}

// Write applies batch as one leveldb write batch.
func (s *KVStore) Write(ctx context.Context, batch *liquidstake.Batch) error {
	if batch == nil || batch.Len() == 0 {
		return nil
	}
	b := new(leveldb.Batch)
	for _, op := range batch.Ops {
		if op.Delete {
			b.Delete(s.key(op.Key))
			continue
		}
		b.Put(s.key(op.Key), op.Value)
	}
	if err := s.db.Write(b, &opt.WriteOptions{Sync: s.sync}); err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "leveldb batch write failed", err)
	}
	return nil
}

// Close releases the database if this store opened it.
func (s *KVStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

// Verify that KVStore implements liquidstake.KVStore
var _ liquidstake.KVStore = (*KVStore)(nil)
