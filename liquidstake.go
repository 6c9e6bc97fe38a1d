// Package liquidstake provides a Go engine for cross-chain liquid staking.
// It keeps a registry of exchangeable token types, tracks per-owner stake
// balances and settles stake, unstake and swap requests that originate on one
// chain but must be fulfilled by custody held on the engine's home chain.
//
// Signing keys, token custody, message transport and persistence are supplied
// by the caller through the interfaces in this package; the engine uses them.
package liquidstake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go/keypair"

	"github.com/marwen-abid/liquidstake-go/errors"
)

// Owner identifies an account that can hold balances and authorize transfers.
// Owners are Stellar strkey account addresses (G...).
type Owner string

// Validate reports whether the owner is a well-formed account address.
func (o Owner) Validate() error {
	if strings.TrimSpace(string(o)) == "" {
		return errors.NewEngineError(errors.INVALID_OWNER, "owner is empty", nil)
	}
	if _, err := keypair.ParseAddress(string(o)); err != nil {
		return errors.NewEngineError(errors.INVALID_OWNER, fmt.Sprintf("invalid owner %q", o), err)
	}
	return nil
}

func (o Owner) String() string { return string(o) }

// ChainID identifies an independently sequenced ledger.
type ChainID string

func (c ChainID) String() string { return string(c) }

// NamespaceSeparator ends a chain's key prefix in shared stores, so chain ids
// may not contain it.
const NamespaceSeparator = '|'

// Validate reports whether the chain id is non-empty and free of NamespaceSeparator.
func (c ChainID) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return errors.NewHostError(errors.CONFIG_INVALID, "chain id is empty", nil)
	}
	if strings.ContainsRune(string(c), NamespaceSeparator) {
		return errors.NewHostError(errors.CONFIG_INVALID,
			fmt.Sprintf("chain id %q contains %q", c, NamespaceSeparator), nil)
	}
	return nil
}

// TokenID identifies a fungible-token custody service instance.
// Two TokenIDs are equal iff they denote the same service instance.
type TokenID string

func (t TokenID) String() string { return string(t) }

// Account addresses an owner's funds on a specific chain.
type Account struct {
	Chain ChainID `json:"chain_id"`
	Owner Owner   `json:"owner"`
}

func (a Account) String() string {
	return fmt.Sprintf("%s@%s", a.Owner, a.Chain)
}

// Parameters are fixed when an engine instance is created.
type Parameters struct {
	// ProtocolToken is always exchangeable, even if never registered.
	ProtocolToken TokenID `json:"protocol_token" yaml:"protocolToken"`

	// Admin, when set, is the only signer allowed to register new tokens.
	// When empty, NewLst is open to any caller.
	Admin Owner `json:"admin,omitempty" yaml:"admin"`
}

// Validate checks that the creation parameters are usable.
func (p Parameters) Validate() error {
	if strings.TrimSpace(string(p.ProtocolToken)) == "" {
		return errors.NewEngineError(errors.CONFIG_INVALID, "protocol token is required", nil)
	}
	if p.Admin != "" {
		if err := p.Admin.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Caller describes who is invoking an external token service.
// Signer is set only when the engine forwards the authenticated signer;
// Application is always the calling engine's own custody identity.
type Caller struct {
	Signer      Owner
	Application Owner
}

// TransferCall moves funds held by Owner on the current chain to Target.
type TransferCall struct {
	Owner  Owner   `json:"owner"`
	Amount Amount  `json:"amount"`
	Target Account `json:"target_account"`
}

// TokenService is the external fungible-token custody contract consumed by the engine.
// Implementations decide whether the caller may move Owner's funds.
type TokenService interface {
	// Transfer moves call.Amount of token from call.Owner on chain to call.Target.
	Transfer(ctx context.Context, token TokenID, chain ChainID, caller Caller, call TransferCall) error

	// Balance returns the current balance of account for token.
	Balance(ctx context.Context, token TokenID, account Account) (Amount, error)
}

// KVStore is an opaque key/value map with atomic batch writes.
// The engine loads its state from a KVStore and saves it back in a single batch.
type KVStore interface {
	// Get returns the value stored at key and whether it exists.
	Get(ctx context.Context, key []byte) ([]byte, bool, error)

	// Iterate calls fn for every key with the given prefix in ascending key order.
	Iterate(ctx context.Context, prefix []byte, fn func(key, value []byte) error) error

	// Write applies all puts and deletes in batch atomically.
	Write(ctx context.Context, batch *Batch) error
}

// BatchOp is a single put or delete in a Batch.
type BatchOp struct {
	Key    []byte
	Value  []byte
	Delete bool
}

// Batch collects writes to be applied atomically by a KVStore.
type Batch struct {
	Ops []BatchOp
}

// Put records a write of value at key.
func (b *Batch) Put(key, value []byte) {
	b.Ops = append(b.Ops, BatchOp{Key: key, Value: value})
}

// Delete records removal of key.
func (b *Batch) Delete(key []byte) {
	b.Ops = append(b.Ops, BatchOp{Key: key, Delete: true})
}

// Len returns the number of pending writes.
func (b *Batch) Len() int { return len(b.Ops) }

// Signer proves the identity of an owner by signing operation payloads.
// The engine never manages keys; callers provide a Signer.
type Signer interface {
	// PublicKey returns the Stellar address (G...) identifying this signer.
	PublicKey() string

	// SignMessage signs an arbitrary payload and returns the raw signature.
	SignMessage(ctx context.Context, payload []byte) ([]byte, error)
}

// TransactionSigner is an optional extension for signers that can also sign
// Stellar transaction envelopes (base64 XDR), as used by the Stellar custody adapter.
type TransactionSigner interface {
	Signer
	SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error)
}

// NonceStore tracks submission nonces for replay protection.
type NonceStore interface {
	// Use records nonce as spent until expiresAt. It returns false if the
	// nonce was already used and has not expired.
	Use(ctx context.Context, nonce string, expiresAt time.Time) (bool, error)
}

// SettlementStore is the persistence interface for settlement records.
type SettlementStore interface {
	// Save persists a new settlement record.
	Save(ctx context.Context, s *Settlement) error

	// FindByID retrieves a settlement by its message id.
	FindByID(ctx context.Context, id string) (*Settlement, error)

	// FindByOwner returns all settlements for an owner, newest first.
	FindByOwner(ctx context.Context, owner Owner) ([]*Settlement, error)

	// Update applies partial updates to an existing settlement.
	// Only non-nil fields in the update are applied.
	Update(ctx context.Context, id string, update *SettlementUpdate) error

	// List returns settlements matching the given filters.
	List(ctx context.Context, filters SettlementFilters) ([]*Settlement, error)
}

// Settlement follows one cross-chain operation from the origin chain to the home chain.
type Settlement struct {
	ID          string           `json:"id"`
	Kind        MessageKind      `json:"kind"`
	Status      SettlementStatus `json:"status"`
	Origin      ChainID          `json:"origin"`
	Destination ChainID          `json:"destination"`
	Owner       Owner            `json:"owner"`
	Amount      Amount           `json:"amount"`
	TokenIn     TokenID          `json:"token_in,omitempty"`
	TokenOut    TokenID          `json:"token_out,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	SettledAt   *time.Time       `json:"settled_at,omitempty"`
}

// SettlementUpdate contains the mutable fields for a settlement update.
type SettlementUpdate struct {
	Status    *SettlementStatus
	Reason    *string
	SettledAt *time.Time
}

// SettlementFilters for listing settlements.
type SettlementFilters struct {
	Owner       Owner
	Origin      ChainID
	Destination ChainID
	Status      *SettlementStatus
	Kind        *MessageKind
	Limit       int
	Offset      int
}

// SettlementStatus is the lifecycle state of a cross-chain operation.
type SettlementStatus string

const (
	// StatusInitiated is set when the origin chain has executed its local step.
	StatusInitiated SettlementStatus = "initiated"

	// StatusInFlight means the message was committed to the outbound queue.
	StatusInFlight SettlementStatus = "in_flight"

	// StatusSettled is a terminal state: the home chain executed the message.
	StatusSettled SettlementStatus = "settled"

	// StatusFailed is a terminal state: the home chain rejected the message.
	// No compensation is performed for funds moved by the origin step.
	StatusFailed SettlementStatus = "failed"
)
