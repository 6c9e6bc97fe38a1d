// Package engine implements the liquid-staking state machine: lifecycle control,
// the operation dispatcher and the message handler.
//
// An Engine is bound to a Runtime for exactly one operation or message. The
// host loads it, executes one request and calls Store; if any step returns an
// error the host discards the engine together with every buffered effect.
package engine

import (
	"context"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/state"
)

// Runtime is the execution context a host provides to the engine.
type Runtime interface {
	// ChainID is the chain currently executing.
	ChainID() liquidstake.ChainID

	// HomeChainID is the chain the engine instance was created on.
	HomeChainID() liquidstake.ChainID

	// ApplicationOwner is the engine's own custody identity.
	ApplicationOwner() liquidstake.Owner

	// AuthenticatedSigner is the signer of the current operation, or the
	// signer forwarded with the current message. Empty when none.
	AuthenticatedSigner() liquidstake.Owner

	// Parameters are the creation parameters of the instance.
	Parameters() liquidstake.Parameters

	// Storage is this chain's state for the instance.
	Storage() liquidstake.KVStore

	// HomeStorage is a read-only view of the home chain's committed state.
	HomeStorage() liquidstake.KVStore

	// Tokens is the fungible token custody service.
	Tokens() liquidstake.TokenService

	// TransferNative moves the chain's native asset from source to target.
	TransferNative(ctx context.Context, source liquidstake.Owner, amount liquidstake.Amount, target liquidstake.Account) error

	// SendMessage queues msg for destination with the current signer
	// forwarded, and returns the message id.
	SendMessage(ctx context.Context, destination liquidstake.ChainID, msg liquidstake.Message) (string, error)
}

// Engine executes operations and messages against one chain's state.
type Engine struct {
	rt     Runtime
	params liquidstake.Parameters
	state  *state.State
	escrow *Escrow

	home *state.Registry
}

// Load reads the instance state from rt's storage.
func Load(ctx context.Context, rt Runtime) (*Engine, error) {
	if rt == nil {
		return nil, errors.NewEngineError(errors.CONFIG_INVALID, "runtime is nil", nil)
	}
	params := rt.Parameters()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	st, err := state.Load(ctx, rt.Storage())
	if err != nil {
		return nil, err
	}
	return &Engine{
		rt:     rt,
		params: params,
		state:  st,
		escrow: NewEscrow(rt),
	}, nil
}

// Instantiate initializes a freshly created instance. The protocol token is
// approved immediately.
func (e *Engine) Instantiate(ctx context.Context) error {
	e.Registry().Register(e.params.ProtocolToken)
	Logger().Info("instantiated")
	return nil
}

// Store persists every change made by the current request in one batch.
func (e *Engine) Store(ctx context.Context) error {
	return e.state.Save(ctx)
}

// Registry returns this chain's token registry.
func (e *Engine) Registry() *state.Registry {
	return e.state.Registry(e.params.ProtocolToken)
}

// Ledger returns this chain's stake balance ledger.
func (e *Engine) Ledger() *state.Ledger {
	return e.state.Ledger()
}

// NativeFunded reports whether token has been paid out for a native stake.
func (e *Engine) NativeFunded(token liquidstake.TokenID) bool {
	return e.state.NativeFunded().Contains(string(token))
}

// Processed reports whether the message with id has already been executed here.
func (e *Engine) Processed(id string) bool {
	return e.state.Processed().Contains(id)
}

func (e *Engine) onHome() bool {
	return e.rt.ChainID() == e.rt.HomeChainID()
}

// homeRegistry returns the authoritative registry. Off the home chain it is
// read from the home chain's committed state and never written.
func (e *Engine) homeRegistry(ctx context.Context) (*state.Registry, error) {
	if e.onHome() {
		return e.Registry(), nil
	}
	if e.home != nil {
		return e.home, nil
	}
	st, err := state.Load(ctx, e.rt.HomeStorage())
	if err != nil {
		return nil, err
	}
	e.home = st.Registry(e.params.ProtocolToken)
	return e.home, nil
}
