package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Escrow issues calls to the external token custody service on behalf of an
// engine instance. Custody always lives with the application owner on the
// home chain.
type Escrow struct {
	rt Runtime
}

// NewEscrow returns an escrow client bound to rt.
func NewEscrow(rt Runtime) *Escrow {
	return &Escrow{rt: rt}
}

func (e *Escrow) custody() liquidstake.Account {
	return liquidstake.Account{Chain: e.rt.HomeChainID(), Owner: e.rt.ApplicationOwner()}
}

// Pull moves amount of token from owner's account on the current chain into
// custody. The authenticated signer is forwarded so the token service can
// check that owner authorized the move.
func (e *Escrow) Pull(ctx context.Context, owner liquidstake.Owner, amount liquidstake.Amount, token liquidstake.TokenID) error {
	caller := liquidstake.Caller{
		Signer:      e.rt.AuthenticatedSigner(),
		Application: e.rt.ApplicationOwner(),
	}
	call := liquidstake.TransferCall{Owner: owner, Amount: amount, Target: e.custody()}
	return e.transfer(ctx, token, caller, call)
}

// Push moves amount of token out of custody to owner's account on destination.
// The call is made as the application itself.
func (e *Escrow) Push(ctx context.Context, amount liquidstake.Amount, owner liquidstake.Owner, token liquidstake.TokenID, destination liquidstake.ChainID) error {
	caller := liquidstake.Caller{Application: e.rt.ApplicationOwner()}
	call := liquidstake.TransferCall{
		Owner:  e.rt.ApplicationOwner(),
		Amount: amount,
		Target: liquidstake.Account{Chain: destination, Owner: owner},
	}
	return e.transfer(ctx, token, caller, call)
}

// Relocate moves owner's own funds of token from the current chain to the
// same owner on the home chain, authenticated as owner.
func (e *Escrow) Relocate(ctx context.Context, owner liquidstake.Owner, amount liquidstake.Amount, token liquidstake.TokenID) error {
	caller := liquidstake.Caller{
		Signer:      e.rt.AuthenticatedSigner(),
		Application: e.rt.ApplicationOwner(),
	}
	call := liquidstake.TransferCall{
		Owner:  owner,
		Amount: amount,
		Target: liquidstake.Account{Chain: e.rt.HomeChainID(), Owner: owner},
	}
	return e.transfer(ctx, token, caller, call)
}

// ReserveBalance returns the custody balance of token.
func (e *Escrow) ReserveBalance(ctx context.Context, token liquidstake.TokenID) (liquidstake.Amount, error) {
	bal, err := e.rt.Tokens().Balance(ctx, token, e.custody())
	if err != nil {
		return 0, errors.NewEngineError(errors.EXTERNAL_CALL_FAILED, fmt.Sprintf("reserve query for %s failed", token), err).
			With("token", string(token))
	}
	return bal, nil
}

// DepositNative moves amount of the chain's native asset from user into custody.
// Only the user can move their own native funds.
func (e *Escrow) DepositNative(ctx context.Context, user liquidstake.Owner, amount liquidstake.Amount) error {
	if signer := e.rt.AuthenticatedSigner(); signer != user {
		return errors.NewEngineError(errors.UNAUTHORIZED, "native transfer must be signed by the user", nil).
			With("user", string(user)).With("signer", string(signer))
	}
	if err := e.rt.TransferNative(ctx, user, amount, e.custody()); err != nil {
		return errors.NewEngineError(errors.EXTERNAL_CALL_FAILED, "native transfer failed", err).
			With("user", string(user))
	}
	return nil
}

func (e *Escrow) transfer(ctx context.Context, token liquidstake.TokenID, caller liquidstake.Caller, call liquidstake.TransferCall) error {
	err := e.rt.Tokens().Transfer(ctx, token, e.rt.ChainID(), caller, call)
	if err != nil {
		Logger().Debug("token transfer rejected",
			zap.String("chain", string(e.rt.ChainID())),
			zap.String("token", string(token)),
			zap.String("owner", string(call.Owner)),
			zap.Stringer("amount", call.Amount),
			zap.Stringer("target", call.Target),
			zap.Error(err))
		return errors.NewEngineError(errors.EXTERNAL_CALL_FAILED, fmt.Sprintf("transfer of %s %s failed", call.Amount, token), err).
			With("token", string(token)).
			With("owner", string(call.Owner))
	}
	return nil
}
