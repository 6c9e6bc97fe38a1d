// Package state holds the persistent schema of a liquid-staking engine instance:
// the approved token registry, the stake balance ledger, the set of tokens paid
// out through native staking, and the set of message ids already executed.
//
// A State is loaded from a KVStore at the start of every operation or message
// and saved back in one atomic batch at the end. If the caller does not call
// Save, nothing the operation did is persisted.
package state

import (
	"context"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

const (
	prefixApproved     = "r/"
	prefixStake        = "s/"
	prefixNativeFunded = "n/"
	prefixProcessed    = "m/"
)

// State is the root view of an engine instance's storage.
type State struct {
	kv liquidstake.KVStore

	approved     *SetView
	stakes       *AmountMapView
	nativeFunded *SetView
	processed    *SetView
}

// Load reads the full engine state from kv.
func Load(ctx context.Context, kv liquidstake.KVStore) (*State, error) {
	if kv == nil {
		return nil, errors.NewStoreError(errors.STORE_ERROR, "kv store not configured", nil)
	}
	approved, err := loadSet(ctx, kv, prefixApproved)
	if err != nil {
		return nil, err
	}
	stakes, err := loadAmountMap(ctx, kv, prefixStake)
	if err != nil {
		return nil, err
	}
	nativeFunded, err := loadSet(ctx, kv, prefixNativeFunded)
	if err != nil {
		return nil, err
	}
	processed, err := loadSet(ctx, kv, prefixProcessed)
	if err != nil {
		return nil, err
	}
	return &State{
		kv:           kv,
		approved:     approved,
		stakes:       stakes,
		nativeFunded: nativeFunded,
		processed:    processed,
	}, nil
}

// Registry returns the token registry bound to protocol as the always-approved token.
func (s *State) Registry(protocol liquidstake.TokenID) *Registry {
	return &Registry{set: s.approved, protocol: protocol}
}

// Ledger returns the stake balance ledger.
func (s *State) Ledger() *Ledger {
	return &Ledger{entries: s.stakes}
}

// NativeFunded returns the set of tokens that have been paid out for native stakes.
func (s *State) NativeFunded() *SetView {
	return s.nativeFunded
}

// Processed returns the set of executed message ids.
func (s *State) Processed() *SetView {
	return s.processed
}

// Save writes every buffered change in a single atomic batch.
func (s *State) Save(ctx context.Context) error {
	batch := &liquidstake.Batch{}
	s.approved.flush(batch)
	s.stakes.flush(batch)
	s.nativeFunded.flush(batch)
	s.processed.flush(batch)
	if batch.Len() == 0 {
		return nil
	}
	if err := s.kv.Write(ctx, batch); err != nil {
		return errors.NewStoreError(errors.STORE_ERROR, "failed to save state", err)
	}
	s.approved.reset()
	s.stakes.reset()
	s.nativeFunded.reset()
	s.processed.reset()
	return nil
}
