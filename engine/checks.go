package engine

import (
	"context"
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/state"
)

func requirePositive(amount liquidstake.Amount) error {
	if !amount.IsPositive() {
		return errors.NewEngineError(errors.INVALID_AMOUNT, fmt.Sprintf("amount must be positive, got %s", amount), nil)
	}
	return nil
}

func requireExchangeable(reg *state.Registry, tokens ...liquidstake.TokenID) error {
	for _, token := range tokens {
		if !reg.IsExchangeable(token) {
			return errors.NewEngineError(errors.UNAPPROVED_TOKEN, fmt.Sprintf("token %q is not approved", token), nil).
				With("token", string(token))
		}
	}
	return nil
}

func (e *Engine) requireSigner(owner liquidstake.Owner) error {
	if signer := e.rt.AuthenticatedSigner(); signer != owner {
		return errors.NewEngineError(errors.UNAUTHORIZED, "operation must be signed by its owner", nil).
			With("owner", string(owner)).
			With("signer", string(signer))
	}
	return nil
}

func (e *Engine) requireReserve(ctx context.Context, token liquidstake.TokenID, amount liquidstake.Amount) error {
	reserve, err := e.escrow.ReserveBalance(ctx, token)
	if err != nil {
		return err
	}
	if reserve < amount {
		return errors.NewEngineError(errors.RESERVE_EXHAUSTED,
			fmt.Sprintf("reserve of %s holds %s, need %s", token, reserve, amount), nil).
			With("token", string(token))
	}
	return nil
}

func (e *Engine) requireHome(what string) error {
	if !e.onHome() {
		return errors.NewEngineError(errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("%s must execute on home chain %s", what, e.rt.HomeChainID()), nil).
			With("chain", string(e.rt.ChainID()))
	}
	return nil
}

// precheckCredit fails before any external call if crediting owner would overflow.
func (e *Engine) precheckCredit(owner liquidstake.Owner, amount liquidstake.Amount) error {
	current, _ := e.Ledger().Balance(owner)
	_, err := current.CheckedAdd(amount)
	return err
}
