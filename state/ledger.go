package state

import (
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Ledger tracks staked amounts per owner. It is bookkeeping only and is not
// reconciled against custody balances held by token services.
type Ledger struct {
	entries *AmountMapView
}

// Balance returns the owner's entry and whether one was ever recorded.
func (l *Ledger) Balance(owner liquidstake.Owner) (liquidstake.Amount, bool) {
	return l.entries.Get(string(owner))
}

// Credit adds amount to owner's entry, creating it if missing.
func (l *Ledger) Credit(owner liquidstake.Owner, amount liquidstake.Amount) (liquidstake.Amount, error) {
	current, _ := l.entries.Get(string(owner))
	next, err := current.CheckedAdd(amount)
	if err != nil {
		return current, err
	}
	if err := l.entries.Insert(string(owner), next); err != nil {
		return current, err
	}
	return next, nil
}

// Debit subtracts amount from owner's entry. It fails with NO_STAKE when the
// owner has no entry and INSUFFICIENT_BALANCE when the entry is smaller than
// amount; in both cases the entry is left untouched.
func (l *Ledger) Debit(owner liquidstake.Owner, amount liquidstake.Amount) (liquidstake.Amount, error) {
	current, ok := l.entries.Get(string(owner))
	if !ok {
		return 0, errors.NewEngineError(errors.NO_STAKE, fmt.Sprintf("no stake found for %s", owner), nil).
			With("owner", string(owner))
	}
	if current < amount {
		return current, errors.NewEngineError(errors.INSUFFICIENT_BALANCE,
			fmt.Sprintf("stake balance %s is less than %s", current, amount), nil).
			With("owner", string(owner))
	}
	next, err := current.CheckedSub(amount)
	if err != nil {
		return current, err
	}
	if err := l.entries.Insert(string(owner), next); err != nil {
		return current, err
	}
	return next, nil
}

// Owners returns every owner with a recorded entry in ascending order.
func (l *Ledger) Owners() []liquidstake.Owner {
	keys := l.entries.Keys()
	out := make([]liquidstake.Owner, len(keys))
	for i, k := range keys {
		out[i] = liquidstake.Owner(k)
	}
	return out
}
