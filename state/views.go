package state

import (
	"context"
	"sort"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// SetView is a membership-only set persisted under a key prefix.
// Additions are buffered until the owning State is saved.
type SetView struct {
	prefix  string
	members map[string]struct{}
	added   map[string]struct{}
}

func loadSet(ctx context.Context, kv liquidstake.KVStore, prefix string) (*SetView, error) {
	s := &SetView{
		prefix:  prefix,
		members: make(map[string]struct{}),
		added:   make(map[string]struct{}),
	}
	err := kv.Iterate(ctx, []byte(prefix), func(key, _ []byte) error {
		s.members[string(key[len(prefix):])] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to load set "+prefix, err)
	}
	return s, nil
}

// Insert adds member. Inserting an existing member is a no-op.
func (s *SetView) Insert(member string) {
	if _, ok := s.members[member]; ok {
		return
	}
	s.members[member] = struct{}{}
	s.added[member] = struct{}{}
}

// Contains reports membership.
func (s *SetView) Contains(member string) bool {
	_, ok := s.members[member]
	return ok
}

// Members returns all members in ascending order.
func (s *SetView) Members() []string {
	out := make([]string, 0, len(s.members))
	for m := range s.members {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of members.
func (s *SetView) Len() int { return len(s.members) }

func (s *SetView) flush(batch *liquidstake.Batch) {
	for m := range s.added {
		batch.Put([]byte(s.prefix+m), []byte{1})
	}
}

func (s *SetView) reset() {
	s.added = make(map[string]struct{})
}

// AmountMapView maps string keys to amounts persisted under a key prefix.
// Writes are buffered until the owning State is saved.
type AmountMapView struct {
	prefix  string
	entries map[string]liquidstake.Amount
	dirty   map[string]struct{}
}

func loadAmountMap(ctx context.Context, kv liquidstake.KVStore, prefix string) (*AmountMapView, error) {
	m := &AmountMapView{
		prefix:  prefix,
		entries: make(map[string]liquidstake.Amount),
		dirty:   make(map[string]struct{}),
	}
	err := kv.Iterate(ctx, []byte(prefix), func(key, value []byte) error {
		v, err := liquidstake.AmountFromBytes(value)
		if err != nil {
			return err
		}
		m.entries[string(key[len(prefix):])] = v
		return nil
	})
	if err != nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "failed to load map "+prefix, err)
	}
	return m, nil
}

// Get returns the value at key and whether an entry exists.
func (m *AmountMapView) Get(key string) (liquidstake.Amount, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Insert stores value at key. Negative values are never persisted.
func (m *AmountMapView) Insert(key string, value liquidstake.Amount) error {
	if value < 0 {
		return errors.NewEngineError(errors.INVALID_AMOUNT, "refusing to store negative amount", nil)
	}
	m.entries[key] = value
	m.dirty[key] = struct{}{}
	return nil
}

// Keys returns all keys in ascending order.
func (m *AmountMapView) Keys() []string {
	out := make([]string, 0, len(m.entries))
	for k := range m.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *AmountMapView) flush(batch *liquidstake.Batch) {
	for k := range m.dirty {
		batch.Put([]byte(m.prefix+k), m.entries[k].Bytes())
	}
}

func (m *AmountMapView) reset() {
	m.dirty = make(map[string]struct{})
}
