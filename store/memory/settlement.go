package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// SettlementStore is an in-memory implementation of liquidstake.SettlementStore.
// Records are keyed by message id and copied on read so callers never share
// a record with the store.
type SettlementStore struct {
	settlements map[string]*liquidstake.Settlement
	mu          sync.RWMutex
}

// NewSettlementStore creates a new in-memory settlement store.
func NewSettlementStore() *SettlementStore {
	return &SettlementStore{
		settlements: make(map[string]*liquidstake.Settlement),
	}
}

// Save persists a new settlement record.
// Returns an error if a settlement with the same ID already exists.
func (s *SettlementStore) Save(ctx context.Context, settlement *liquidstake.Settlement) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.settlements[settlement.ID]; exists {
		return errors.NewStoreError(errors.STORE_ERROR, "settlement already exists", nil).
			With("settlement_id", settlement.ID)
	}

	cp := *settlement
	s.settlements[settlement.ID] = &cp
	return nil
}

// FindByID retrieves a settlement by its message id.
func (s *SettlementStore) FindByID(ctx context.Context, id string) (*liquidstake.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	settlement, exists := s.settlements[id]
	if !exists {
		return nil, errors.NewStoreError(errors.NOT_FOUND, "settlement not found", nil).
			With("settlement_id", id)
	}

	cp := *settlement
	return &cp, nil
}

// FindByOwner returns all settlements for an owner, newest first.
func (s *SettlementStore) FindByOwner(ctx context.Context, owner liquidstake.Owner) ([]*liquidstake.Settlement, error) {
	return s.List(ctx, liquidstake.SettlementFilters{Owner: owner})
}

// Update applies partial updates to an existing settlement.
// Only non-nil fields in the update are applied.
func (s *SettlementStore) Update(ctx context.Context, id string, update *liquidstake.SettlementUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settlement, exists := s.settlements[id]
	if !exists {
		return errors.NewStoreError(errors.NOT_FOUND, "settlement not found", nil).
			With("settlement_id", id)
	}

	if update.Status != nil {
		settlement.Status = *update.Status
	}
	if update.Reason != nil {
		settlement.Reason = *update.Reason
	}
	if update.SettledAt != nil {
		t := *update.SettledAt
		settlement.SettledAt = &t
	}

	settlement.UpdatedAt = time.Now()
	return nil
}

// List returns settlements matching the given filters, newest first.
// Offset and Limit are applied after filtering; a zero Limit means no limit.
func (s *SettlementStore) List(ctx context.Context, filters liquidstake.SettlementFilters) ([]*liquidstake.Settlement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*liquidstake.Settlement, 0)
	for _, settlement := range s.settlements {
		if filters.Owner != "" && settlement.Owner != filters.Owner {
			continue
		}
		if filters.Origin != "" && settlement.Origin != filters.Origin {
			continue
		}
		if filters.Destination != "" && settlement.Destination != filters.Destination {
			continue
		}
		if filters.Status != nil && settlement.Status != *filters.Status {
			continue
		}
		if filters.Kind != nil && settlement.Kind != *filters.Kind {
			continue
		}
		cp := *settlement
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []*liquidstake.Settlement{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// Verify that SettlementStore implements liquidstake.SettlementStore
var _ liquidstake.SettlementStore = (*SettlementStore)(nil)
