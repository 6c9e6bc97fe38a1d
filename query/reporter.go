// Package query is the read-only reporting surface over a host network.
package query

import (
	"context"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/engine"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/host"
	"github.com/marwen-abid/liquidstake-go/settlement"
)

// Source is what a Reporter reads from. *host.Network satisfies it.
type Source interface {
	HomeChain() liquidstake.ChainID
	ApplicationOwner() liquidstake.Owner
	Chains() []liquidstake.ChainID
	View(ctx context.Context, chain liquidstake.ChainID, fn func(*engine.Engine) error) error
	TokenService() liquidstake.TokenService
	Tracker() *settlement.Tracker
	PendingCount() int
	DeadLetters() []host.DeadLetter
}

var _ Source = (*host.Network)(nil)

// Reporter answers read-only questions about engine state.
type Reporter struct {
	src Source
}

func NewReporter(src Source) *Reporter {
	return &Reporter{src: src}
}

// TokenStatus is registry membership of one token on one chain.
type TokenStatus struct {
	Chain        liquidstake.ChainID `json:"chain_id"`
	Token        liquidstake.TokenID `json:"token_id"`
	Exchangeable bool                `json:"exchangeable"`
	NativeFunded bool                `json:"native_funded"`
}

// StakeBalance is an owner's ledger entry on one chain.
type StakeBalance struct {
	Chain  liquidstake.ChainID `json:"chain_id"`
	Owner  liquidstake.Owner   `json:"owner"`
	Amount liquidstake.Amount  `json:"amount"`
	Exists bool                `json:"exists"`
}

// Reserve is the custody balance of one token.
type Reserve struct {
	Token   liquidstake.TokenID `json:"token_id"`
	Custody liquidstake.Account `json:"custody"`
	Amount  liquidstake.Amount  `json:"amount"`
}

// Status summarizes the network.
type Status struct {
	HomeChain   liquidstake.ChainID   `json:"home_chain"`
	Application liquidstake.Owner     `json:"application"`
	Chains      []liquidstake.ChainID `json:"chains"`
	Tokens      []liquidstake.TokenID `json:"approved_tokens"`
	Pending     int                   `json:"pending_deliveries"`
	DeadLetters int                   `json:"dead_letters"`
}

// Token reports whether token is exchangeable on chain. Only the home chain
// registers tokens, so other chains report just the protocol token.
func (r *Reporter) Token(ctx context.Context, chain liquidstake.ChainID, token liquidstake.TokenID) (TokenStatus, error) {
	out := TokenStatus{Chain: chain, Token: token}
	err := r.src.View(ctx, chain, func(e *engine.Engine) error {
		out.Exchangeable = e.Registry().IsExchangeable(token)
		out.NativeFunded = e.NativeFunded(token)
		return nil
	})
	return out, err
}

// ApprovedTokens lists the home registry.
func (r *Reporter) ApprovedTokens(ctx context.Context) ([]liquidstake.TokenID, error) {
	var out []liquidstake.TokenID
	err := r.src.View(ctx, r.src.HomeChain(), func(e *engine.Engine) error {
		out = e.Registry().Tokens()
		return nil
	})
	return out, err
}

// Stake returns owner's stake ledger entry on chain.
func (r *Reporter) Stake(ctx context.Context, chain liquidstake.ChainID, owner liquidstake.Owner) (StakeBalance, error) {
	if err := owner.Validate(); err != nil {
		return StakeBalance{}, err
	}
	out := StakeBalance{Chain: chain, Owner: owner}
	err := r.src.View(ctx, chain, func(e *engine.Engine) error {
		out.Amount, out.Exists = e.Ledger().Balance(owner)
		return nil
	})
	return out, err
}

// Reserve returns the custody balance of token on the home chain.
func (r *Reporter) Reserve(ctx context.Context, token liquidstake.TokenID) (Reserve, error) {
	custody := liquidstake.Account{Chain: r.src.HomeChain(), Owner: r.src.ApplicationOwner()}
	amount, err := r.src.TokenService().Balance(ctx, token, custody)
	if err != nil {
		return Reserve{}, err
	}
	return Reserve{Token: token, Custody: custody, Amount: amount}, nil
}

// Settlement returns the settlement record for message id.
func (r *Reporter) Settlement(ctx context.Context, id string) (*liquidstake.Settlement, error) {
	t, err := r.tracker()
	if err != nil {
		return nil, err
	}
	return t.Get(ctx, id)
}

// Settlements lists settlement records matching filters.
func (r *Reporter) Settlements(ctx context.Context, filters liquidstake.SettlementFilters) ([]*liquidstake.Settlement, error) {
	t, err := r.tracker()
	if err != nil {
		return nil, err
	}
	return t.List(ctx, filters)
}

// Status summarizes the network.
func (r *Reporter) Status(ctx context.Context) (Status, error) {
	tokens, err := r.ApprovedTokens(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{
		HomeChain:   r.src.HomeChain(),
		Application: r.src.ApplicationOwner(),
		Chains:      r.src.Chains(),
		Tokens:      tokens,
		Pending:     r.src.PendingCount(),
		DeadLetters: len(r.src.DeadLetters()),
	}, nil
}

func (r *Reporter) tracker() (*settlement.Tracker, error) {
	t := r.src.Tracker()
	if t == nil {
		return nil, errors.NewHostError(errors.NOT_FOUND, "settlement tracking is not enabled", nil)
	}
	return t, nil
}
