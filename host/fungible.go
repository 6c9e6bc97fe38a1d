package host

import (
	"context"
	"fmt"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// fungible is the network's in-process token custody service. Bound to a
// transaction it can transfer; without one it only reads committed balances.
type fungible struct {
	net *Network
	tx  *txn
}

var _ liquidstake.TokenService = (*fungible)(nil)

// Transfer moves call.Amount of token from call.Owner on chain. The caller
// must be the owner itself or the application acting on its own account.
func (f *fungible) Transfer(ctx context.Context, token liquidstake.TokenID, chain liquidstake.ChainID, caller liquidstake.Caller, call liquidstake.TransferCall) error {
	if f.tx == nil {
		return errors.NewHostError(errors.PROTOCOL_VIOLATION, "token transfers need an executing chain", nil)
	}
	if chain != f.tx.chain {
		return errors.NewHostError(errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("transfer on %s issued while %s is executing", chain, f.tx.chain), nil)
	}
	if !f.net.tokens[token] {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("no token service for %q", token), nil)
	}
	if !authorized(caller, call.Owner) {
		return errors.NewHostError(errors.UNAUTHORIZED,
			fmt.Sprintf("caller may not move funds of %s", call.Owner), nil).
			With("token", string(token))
	}
	return f.tx.move(TokenAsset(token), call.Owner, call.Amount, call.Target)
}

// Balance returns account's balance of token, including uncommitted writes of
// the bound transaction.
func (f *fungible) Balance(ctx context.Context, token liquidstake.TokenID, account liquidstake.Account) (liquidstake.Amount, error) {
	if !f.net.tokens[token] {
		return 0, errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("no token service for %q", token), nil)
	}
	key := balanceKey{asset: TokenAsset(token), account: account}
	if f.tx != nil {
		return f.tx.balance(key), nil
	}
	v, _ := f.net.book.get(key)
	return v, nil
}

func authorized(caller liquidstake.Caller, owner liquidstake.Owner) bool {
	if owner == "" {
		return false
	}
	return owner == caller.Signer || owner == caller.Application
}
