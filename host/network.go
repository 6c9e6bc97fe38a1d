// Package host is an execution environment for liquid-staking engines.
//
// A Network owns a set of chains, the balances of every asset on them, one
// in-process token custody service per registered token, and a FIFO queue per
// chain pair. Each execution is a transaction: engine state, balance changes
// and outbound messages are committed together or not at all. All execution is
// serialized by a single network lock, so each chain runs one request at a time.
package host

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/core/crypto"
	"github.com/marwen-abid/liquidstake-go/engine"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/settlement"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

const maxDeliveryRounds = 64

// Config describes the engine instance a network hosts.
type Config struct {
	// Name derives the instance's custody identity.
	Name string

	// HomeChain is the chain the instance is created on.
	HomeChain liquidstake.ChainID

	Parameters liquidstake.Parameters
}

// Observer receives execution outcomes. *metrics.Recorder satisfies it.
type Observer interface {
	OperationExecuted(kind liquidstake.OperationKind, err error)
	MessageExecuted(kind liquidstake.MessageKind, err error)
	SetPending(n int)
}

type nopObserver struct{}

func (nopObserver) OperationExecuted(liquidstake.OperationKind, error) {}
func (nopObserver) MessageExecuted(liquidstake.MessageKind, error)     {}
func (nopObserver) SetPending(int)                                     {}

// StorageFactory opens the state store for a chain.
type StorageFactory func(chain liquidstake.ChainID) (liquidstake.KVStore, error)

// Option configures a Network.
type Option func(*Network)

// WithStorage sets how chain state stores are opened. Defaults to in-memory stores.
func WithStorage(factory StorageFactory) Option {
	return func(n *Network) {
		n.storage = factory
	}
}

// WithTracker records settlements for every cross-chain message.
func WithTracker(tracker *settlement.Tracker) Option {
	return func(n *Network) {
		n.tracker = tracker
	}
}

// WithObserver reports execution outcomes to o.
func WithObserver(o Observer) Option {
	return func(n *Network) {
		if o != nil {
			n.observer = o
		}
	}
}

// WithAuthorizer sets the capability check used by Submit.
func WithAuthorizer(a *Authorizer) Option {
	return func(n *Network) {
		n.auth = a
	}
}

// WithTokenService replaces the in-process custody services with svc, such as
// the Horizon-backed stellar.TokenService. Transfers made through svc take
// effect immediately and are not undone when the execution later fails.
func WithTokenService(svc liquidstake.TokenService) Option {
	return func(n *Network) {
		n.external = svc
	}
}

// WithClock overrides the time source used for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(n *Network) {
		n.now = now
	}
}

// Chain is one independently sequenced ledger in the network.
type Chain struct {
	id liquidstake.ChainID
	kv liquidstake.KVStore
}

// ID returns the chain id.
func (c *Chain) ID() liquidstake.ChainID { return c.id }

// DeadLetter is a delivery that could not be applied. It is never retried.
type DeadLetter struct {
	Route    Route
	Envelope *liquidstake.MessageEnvelope
	Credit   *Credit
	Reason   string
	At       time.Time
}

// Network hosts one engine instance across many chains.
type Network struct {
	mu sync.Mutex

	home     liquidstake.ChainID
	params   liquidstake.Parameters
	appOwner liquidstake.Owner

	chains map[liquidstake.ChainID]*Chain
	tokens map[liquidstake.TokenID]bool
	book   *balanceBook
	queues map[Route][]delivery
	dead   []DeadLetter

	storage  StorageFactory
	external liquidstake.TokenService
	tracker  *settlement.Tracker
	observer Observer
	auth     *Authorizer
	now      func() time.Time
	newID    func() string
}

// New creates a network, its home chain and the engine instance on it.
func New(ctx context.Context, cfg Config, opts ...Option) (*Network, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.NewHostError(errors.CONFIG_INVALID, "application name is required", nil)
	}
	if strings.TrimSpace(string(cfg.HomeChain)) == "" {
		return nil, errors.NewHostError(errors.CONFIG_INVALID, "home chain is required", nil)
	}
	if err := cfg.Parameters.Validate(); err != nil {
		return nil, err
	}
	kp, err := crypto.DeriveKeypair(cfg.Name)
	if err != nil {
		return nil, errors.NewHostError(errors.CONFIG_INVALID, "failed to derive custody identity", err)
	}

	n := &Network{
		home:     cfg.HomeChain,
		params:   cfg.Parameters,
		appOwner: liquidstake.Owner(kp.Address()),
		chains:   make(map[liquidstake.ChainID]*Chain),
		tokens:   make(map[liquidstake.TokenID]bool),
		book:     newBalanceBook(),
		queues:   make(map[Route][]delivery),
		storage: func(liquidstake.ChainID) (liquidstake.KVStore, error) {
			return memory.NewKVStore(), nil
		},
		observer: nopObserver{},
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.auth == nil {
		n.auth = NewAuthorizer()
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	home, err := n.addChainLocked(cfg.HomeChain)
	if err != nil {
		return nil, err
	}
	tx, err := n.execute(ctx, home, "", func(e *engine.Engine) error {
		return e.Instantiate(ctx)
	})
	if err != nil {
		return nil, err
	}
	n.commit(ctx, tx)

	Logger().Info("network created",
		zap.String("home", string(n.home)),
		zap.String("application", string(n.appOwner)),
		zap.String("protocol_token", string(n.params.ProtocolToken)))
	return n, nil
}

// HomeChain returns the chain the engine instance was created on.
func (n *Network) HomeChain() liquidstake.ChainID { return n.home }

// ApplicationOwner returns the engine's custody identity.
func (n *Network) ApplicationOwner() liquidstake.Owner { return n.appOwner }

// Parameters returns the instance's creation parameters.
func (n *Network) Parameters() liquidstake.Parameters { return n.params }

// Tracker returns the settlement tracker, or nil if none is configured.
func (n *Network) Tracker() *settlement.Tracker { return n.tracker }

// AddChain creates a chain. Adding an existing chain returns it unchanged.
func (n *Network) AddChain(id liquidstake.ChainID) (*Chain, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.addChainLocked(id)
}

func (n *Network) addChainLocked(id liquidstake.ChainID) (*Chain, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if c, ok := n.chains[id]; ok {
		return c, nil
	}
	kv, err := n.storage(id)
	if err != nil {
		return nil, errors.NewHostError(errors.STORE_ERROR, fmt.Sprintf("failed to open storage for %s", id), err)
	}
	c := &Chain{id: id, kv: kv}
	n.chains[id] = c
	return c, nil
}

// Chains returns every chain id in ascending order.
func (n *Network) Chains() []liquidstake.ChainID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]liquidstake.ChainID, 0, len(n.chains))
	for id := range n.chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// RegisterToken creates a token custody service for token.
func (n *Network) RegisterToken(token liquidstake.TokenID) error {
	if strings.TrimSpace(string(token)) == "" {
		return errors.NewHostError(errors.CONFIG_INVALID, "token id is empty", nil)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.tokens[token] = true
	return nil
}

// Tokens returns the token ids that have a custody service.
func (n *Network) Tokens() []liquidstake.TokenID {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]liquidstake.TokenID, 0, len(n.tokens))
	for t := range n.tokens {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Mint creates amount of token in account.
func (n *Network) Mint(token liquidstake.TokenID, account liquidstake.Account, amount liquidstake.Amount) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.tokens[token] {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("no token service for %q", token), nil)
	}
	return n.fundLocked(TokenAsset(token), account, amount)
}

// FundNative creates amount of the native asset in account.
func (n *Network) FundNative(account liquidstake.Account, amount liquidstake.Amount) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.fundLocked(NativeAsset, account, amount)
}

func (n *Network) fundLocked(asset Asset, account liquidstake.Account, amount liquidstake.Amount) error {
	if _, ok := n.chains[account.Chain]; !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", account.Chain), nil)
	}
	if err := account.Owner.Validate(); err != nil {
		return err
	}
	return n.book.credit(balanceKey{asset: asset, account: account}, amount)
}

// Balance returns the committed balance of asset in account and whether the
// account ever held it.
func (n *Network) Balance(asset Asset, account liquidstake.Account) (liquidstake.Amount, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.get(balanceKey{asset: asset, account: account})
}

// Holdings returns every account holding asset.
func (n *Network) Holdings(asset Asset) []Holding {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.book.holdings(asset)
}

// TokenService returns a read-only view of the custody services.
func (n *Network) TokenService() liquidstake.TokenService {
	return &lockedTokens{net: n}
}

// Execute runs op on chain as signer. Signer must already be authenticated;
// use Submit for signed submissions.
func (n *Network) Execute(ctx context.Context, chain liquidstake.ChainID, signer liquidstake.Owner, op liquidstake.Operation) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.chains[chain]
	if !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", chain), nil)
	}
	tx, err := n.execute(ctx, c, signer, func(e *engine.Engine) error {
		return e.ExecuteOperation(ctx, op)
	})
	kind := liquidstake.OperationKind("")
	if op != nil {
		kind = op.OperationKind()
	}
	n.observer.OperationExecuted(kind, err)
	if err != nil {
		return err
	}
	n.commit(ctx, tx)
	return nil
}

// Submit verifies a signed operation and executes it on its chain.
func (n *Network) Submit(ctx context.Context, signed *liquidstake.SignedOperation) error {
	op, err := n.auth.Verify(ctx, signed)
	if err != nil {
		Logger().Debug("submission rejected", zap.Error(err))
		return err
	}
	return n.Execute(ctx, signed.Chain, signed.Signer, op)
}

// View loads the engine on chain for reading. Nothing fn does is persisted.
func (n *Network) View(ctx context.Context, chain liquidstake.ChainID, fn func(*engine.Engine) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.chains[chain]
	if !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", chain), nil)
	}
	rt := &runtime{net: n, chain: c, tx: newTxn(n, c.id)}
	eng, err := engine.Load(ctx, rt)
	if err != nil {
		return err
	}
	return fn(eng)
}

// execute runs fn against a fresh engine in a new transaction and stores the
// engine state on success. The returned transaction is not yet committed.
func (n *Network) execute(ctx context.Context, c *Chain, signer liquidstake.Owner, fn func(*engine.Engine) error) (*txn, error) {
	tx := newTxn(n, c.id)
	rt := &runtime{net: n, chain: c, signer: signer, tx: tx}
	eng, err := engine.Load(ctx, rt)
	if err != nil {
		return nil, err
	}
	if err := fn(eng); err != nil {
		return nil, err
	}
	if err := eng.Store(ctx); err != nil {
		return nil, err
	}
	return tx, nil
}

func (n *Network) commit(ctx context.Context, tx *txn) {
	sent := tx.commit()
	if n.tracker != nil {
		for _, env := range sent {
			if _, err := n.tracker.Initiate(ctx, env); err != nil {
				Logger().Warn("failed to record settlement", zap.String("message_id", env.ID), zap.Error(err))
				continue
			}
			if err := n.tracker.MarkInFlight(ctx, env.ID); err != nil {
				Logger().Warn("failed to mark settlement in flight", zap.String("message_id", env.ID), zap.Error(err))
			}
		}
	}
	n.observer.SetPending(n.pendingCountLocked())
}

func (n *Network) push(r Route, item delivery) {
	n.queues[r] = append(n.queues[r], item)
}

// Pending returns the routes with queued deliveries in ascending order.
func (n *Network) Pending() []Route {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pendingLocked()
}

func (n *Network) pendingLocked() []Route {
	var out []Route
	for r, q := range n.queues {
		if len(q) > 0 {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// PendingCount returns the number of queued deliveries across all routes.
func (n *Network) PendingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pendingCountLocked()
}

func (n *Network) pendingCountLocked() int {
	total := 0
	for _, q := range n.queues {
		total += len(q)
	}
	return total
}

// DeadLetters returns every delivery that failed.
func (n *Network) DeadLetters() []DeadLetter {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]DeadLetter(nil), n.dead...)
}

// Delivered describes one applied delivery.
type Delivered struct {
	Route    Route
	Envelope *liquidstake.MessageEnvelope
	Credit   *Credit
	Err      error
}

// Deliver drains the route from -> to in order and returns what was delivered.
// A message the destination rejects is dead-lettered and does not stop the drain.
func (n *Network) Deliver(ctx context.Context, from, to liquidstake.ChainID) ([]Delivered, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	out, err := n.deliverLocked(ctx, Route{From: from, To: to})
	n.observer.SetPending(n.pendingCountLocked())
	return out, err
}

// DeliverAll drains every route until no deliveries remain.
func (n *Network) DeliverAll(ctx context.Context) ([]Delivered, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	defer func() { n.observer.SetPending(n.pendingCountLocked()) }()

	var all []Delivered
	for round := 0; round < maxDeliveryRounds; round++ {
		routes := n.pendingLocked()
		if len(routes) == 0 {
			return all, nil
		}
		for _, r := range routes {
			out, err := n.deliverLocked(ctx, r)
			all = append(all, out...)
			if err != nil {
				return all, err
			}
		}
	}
	return all, errors.NewHostError(errors.PROTOCOL_VIOLATION, "deliveries did not quiesce", nil)
}

func (n *Network) deliverLocked(ctx context.Context, r Route) ([]Delivered, error) {
	var out []Delivered
	for len(n.queues[r]) > 0 {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		item := n.queues[r][0]
		n.queues[r] = n.queues[r][1:]
		if len(n.queues[r]) == 0 {
			delete(n.queues, r)
		}

		d := Delivered{Route: r, Envelope: item.envelope, Credit: item.credit}
		if item.credit != nil {
			d.Err = n.applyCredit(*item.credit)
		} else {
			d.Err = n.applyMessage(ctx, r, item.envelope)
		}
		if d.Err != nil {
			n.dead = append(n.dead, DeadLetter{
				Route:    r,
				Envelope: item.envelope,
				Credit:   item.credit,
				Reason:   d.Err.Error(),
				At:       n.now(),
			})
		}
		out = append(out, d)
	}
	return out, nil
}

func (n *Network) applyCredit(c Credit) error {
	err := n.book.credit(balanceKey{asset: c.Asset, account: c.Target}, c.Amount)
	if err != nil {
		Logger().Error("credit could not be applied", zap.Stringer("credit", c), zap.Error(err))
	}
	return err
}

func (n *Network) applyMessage(ctx context.Context, r Route, env *liquidstake.MessageEnvelope) error {
	c, ok := n.chains[r.To]
	if !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", r.To), nil)
	}
	tx, err := n.execute(ctx, c, env.AuthenticatedSigner, func(e *engine.Engine) error {
		return e.ExecuteMessage(ctx, *env)
	})
	n.observer.MessageExecuted(env.Message.MessageKind(), err)
	if err != nil {
		Logger().Warn("message rejected",
			zap.String("route", r.String()),
			zap.String("kind", string(env.Message.MessageKind())),
			zap.String("message_id", env.ID),
			zap.Error(err))
		if n.tracker != nil {
			if terr := n.tracker.MarkFailed(ctx, env.ID, err.Error()); terr != nil {
				Logger().Warn("failed to mark settlement failed", zap.String("message_id", env.ID), zap.Error(terr))
			}
		}
		return err
	}
	n.commit(ctx, tx)
	if n.tracker != nil {
		if err := n.tracker.MarkSettled(ctx, env.ID); err != nil {
			Logger().Warn("failed to mark settlement settled", zap.String("message_id", env.ID), zap.Error(err))
		}
	}
	return nil
}

// Replay executes an already delivered message again on its destination, as
// an at-least-once transport would. The engine drops ids it has already
// executed, so a replay normally has no effect. Settlement records are not touched.
func (n *Network) Replay(ctx context.Context, env liquidstake.MessageEnvelope) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	c, ok := n.chains[env.Destination]
	if !ok {
		return errors.NewHostError(errors.NOT_FOUND, fmt.Sprintf("unknown chain %q", env.Destination), nil)
	}
	tx, err := n.execute(ctx, c, env.AuthenticatedSigner, func(e *engine.Engine) error {
		return e.ExecuteMessage(ctx, env)
	})
	if err != nil {
		return err
	}
	sent := tx.commit()
	if len(sent) > 0 {
		Logger().Warn("replayed message sent new messages", zap.String("message_id", env.ID))
	}
	n.observer.SetPending(n.pendingCountLocked())
	return nil
}

// Close closes every chain store that can be closed.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	var first error
	for _, c := range n.chains {
		if closer, ok := c.kv.(io.Closer); ok {
			if err := closer.Close(); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// lockedTokens reads committed custody balances under the network lock.
type lockedTokens struct {
	net *Network
}

func (l *lockedTokens) Transfer(ctx context.Context, token liquidstake.TokenID, chain liquidstake.ChainID, caller liquidstake.Caller, call liquidstake.TransferCall) error {
	return errors.NewHostError(errors.PROTOCOL_VIOLATION, "read-only token view", nil)
}

func (l *lockedTokens) Balance(ctx context.Context, token liquidstake.TokenID, account liquidstake.Account) (liquidstake.Amount, error) {
	if l.net.external != nil {
		return l.net.external.Balance(ctx, token, account)
	}
	l.net.mu.Lock()
	defer l.net.mu.Unlock()
	return (&fungible{net: l.net}).Balance(ctx, token, account)
}
