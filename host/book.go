package host

import (
	"fmt"
	"sort"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// Asset is either a chain's native asset or a fungible token.
type Asset struct {
	Token  liquidstake.TokenID
	Native bool
}

// NativeAsset is the chain-intrinsic asset.
var NativeAsset = Asset{Native: true}

// TokenAsset returns the asset for token.
func TokenAsset(token liquidstake.TokenID) Asset {
	return Asset{Token: token}
}

func (a Asset) String() string {
	if a.Native {
		return "native"
	}
	return string(a.Token)
}

type balanceKey struct {
	asset   Asset
	account liquidstake.Account
}

// balanceBook holds every committed balance in the network.
type balanceBook struct {
	balances map[balanceKey]liquidstake.Amount
}

func newBalanceBook() *balanceBook {
	return &balanceBook{balances: make(map[balanceKey]liquidstake.Amount)}
}

func (b *balanceBook) get(key balanceKey) (liquidstake.Amount, bool) {
	v, ok := b.balances[key]
	return v, ok
}

func (b *balanceBook) credit(key balanceKey, amount liquidstake.Amount) error {
	current := b.balances[key]
	next, err := current.CheckedAdd(amount)
	if err != nil {
		return err
	}
	b.balances[key] = next
	return nil
}

// Holding is one non-empty balance in the book.
type Holding struct {
	Asset   Asset
	Account liquidstake.Account
	Amount  liquidstake.Amount
}

func (b *balanceBook) holdings(asset Asset) []Holding {
	var out []Holding
	for k, v := range b.balances {
		if k.asset == asset {
			out = append(out, Holding{Asset: k.asset, Account: k.account, Amount: v})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.String() < out[j].Account.String()
	})
	return out
}

// Credit is a value transfer that lands on another chain when its route is drained.
type Credit struct {
	Asset  Asset
	Target liquidstake.Account
	Amount liquidstake.Amount
}

func (c Credit) String() string {
	return fmt.Sprintf("%s %s to %s", c.Amount, c.Asset, c.Target)
}

func insufficientFunds(asset Asset, account liquidstake.Account, have, want liquidstake.Amount) error {
	return errors.NewHostError(errors.INSUFFICIENT_BALANCE,
		fmt.Sprintf("%s holds %s %s, need %s", account, have, asset, want), nil).
		With("account", account.String()).
		With("asset", asset.String())
}
