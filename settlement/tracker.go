package settlement

import (
	"context"
	"strings"
	"time"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Tracker records settlement state for cross-chain messages and fires hooks
// on every change.
type Tracker struct {
	store liquidstake.SettlementStore
	hooks *HookRegistry
	now   func() time.Time
}

// NewTracker creates a tracker over store. A nil hooks registry gets a fresh one.
func NewTracker(store liquidstake.SettlementStore, hooks *HookRegistry) *Tracker {
	if hooks == nil {
		hooks = NewHookRegistry()
	}
	return &Tracker{
		store: store,
		hooks: hooks,
		now:   time.Now,
	}
}

// Hooks returns the registry the tracker triggers.
func (t *Tracker) Hooks() *HookRegistry {
	return t.hooks
}

// Initiate records env as a new settlement in the initiated state.
func (t *Tracker) Initiate(ctx context.Context, env liquidstake.MessageEnvelope) (*liquidstake.Settlement, error) {
	if t.store == nil {
		return nil, errors.NewHostError(errors.STORE_ERROR, "settlement store not configured", nil)
	}
	if strings.TrimSpace(env.ID) == "" || env.Message == nil {
		return nil, errors.NewHostError(errors.STORE_ERROR, "message id and body are required", nil)
	}

	now := t.now()
	tokenIn, tokenOut := liquidstake.MessageTokens(env.Message)
	s := &liquidstake.Settlement{
		ID:          env.ID,
		Kind:        env.Message.MessageKind(),
		Status:      liquidstake.StatusInitiated,
		Origin:      env.Origin,
		Destination: env.Destination,
		Owner:       liquidstake.MessageOwner(env.Message),
		Amount:      liquidstake.MessageAmount(env.Message),
		TokenIn:     tokenIn,
		TokenOut:    tokenOut,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.store.Save(ctx, s); err != nil {
		return nil, errors.NewHostError(errors.STORE_ERROR, "failed to save settlement", err)
	}
	t.hooks.Trigger(HookInitiated, s)
	return s, nil
}

// MarkInFlight records that the message was committed to its outbound queue.
func (t *Tracker) MarkInFlight(ctx context.Context, id string) error {
	return t.transition(ctx, id, liquidstake.StatusInFlight, "")
}

// MarkSettled records that the home chain executed the message.
func (t *Tracker) MarkSettled(ctx context.Context, id string) error {
	return t.transition(ctx, id, liquidstake.StatusSettled, "")
}

// MarkFailed records that the home chain rejected the message.
func (t *Tracker) MarkFailed(ctx context.Context, id string, reason string) error {
	return t.transition(ctx, id, liquidstake.StatusFailed, reason)
}

// Get returns the settlement for message id.
func (t *Tracker) Get(ctx context.Context, id string) (*liquidstake.Settlement, error) {
	return t.store.FindByID(ctx, id)
}

// List returns settlements matching filters.
func (t *Tracker) List(ctx context.Context, filters liquidstake.SettlementFilters) ([]*liquidstake.Settlement, error) {
	return t.store.List(ctx, filters)
}

func (t *Tracker) transition(ctx context.Context, id string, next liquidstake.SettlementStatus, reason string) error {
	s, err := t.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := ValidateTransition(s.Status, next); err != nil {
		return err
	}
	update := &liquidstake.SettlementUpdate{Status: &next}
	if strings.TrimSpace(reason) != "" {
		update.Reason = &reason
	}
	if next == liquidstake.StatusSettled {
		settledAt := t.now()
		update.SettledAt = &settledAt
	}
	if err := t.store.Update(ctx, id, update); err != nil {
		return errors.NewHostError(errors.STORE_ERROR, "failed to update settlement", err)
	}
	updated, err := t.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	t.hooks.Trigger(hookFor(next), updated)
	t.hooks.Trigger(HookStatusChanged, updated)
	return nil
}
