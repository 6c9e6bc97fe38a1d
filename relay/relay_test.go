package relay

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/host"
)

const (
	stakeChain liquidstake.ChainID = "stake-chain"
	userChain  liquidstake.ChainID = "user-chain"
	plst       liquidstake.TokenID = "PLST"
)

func newNetwork(t *testing.T) (*host.Network, liquidstake.Owner) {
	t.Helper()
	ctx := context.Background()
	net, err := host.New(ctx, host.Config{
		Name:       "relay-test",
		HomeChain:  stakeChain,
		Parameters: liquidstake.Parameters{ProtocolToken: plst},
	})
	require.NoError(t, err)
	_, err = net.AddChain(userChain)
	require.NoError(t, err)
	require.NoError(t, net.RegisterToken(plst))
	require.NoError(t, net.Mint(plst, liquidstake.Account{Chain: stakeChain, Owner: net.ApplicationOwner()}, liquidstake.FromTokens(100)))

	user := liquidstake.Owner(keypair.MustRandom().Address())
	require.NoError(t, net.FundNative(liquidstake.Account{Chain: userChain, Owner: user}, liquidstake.FromTokens(10)))
	return net, user
}

func TestTickDeliversAndNotifies(t *testing.T) {
	ctx := context.Background()
	net, user := newNetwork(t)
	require.NoError(t, net.Execute(ctx, userChain, user, liquidstake.StakeNative{User: user, Amount: liquidstake.FromTokens(4), LstTypeOut: plst}))

	r := New(net)
	var all, messages []Event
	r.OnDelivered(func(evt Event) error {
		all = append(all, evt)
		return nil
	})
	r.OnDelivered(func(evt Event) error {
		messages = append(messages, evt)
		return nil
	}, WithDestination(stakeChain), WithKind(liquidstake.KindStakeNativeMessage))

	n, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, messages, 1)
	assert.NotEmpty(t, messages[0].MessageID)
	assert.NoError(t, messages[0].Err)

	// The payout credit was queued by the first pass.
	n, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, all, 3)
	assert.NotNil(t, all[2].Credit)
	assert.Equal(t, host.Route{From: stakeChain, To: userChain}, all[2].Route)

	bal, _ := net.Balance(host.TokenAsset(plst), liquidstake.Account{Chain: userChain, Owner: user})
	assert.Equal(t, liquidstake.FromTokens(4), bal)
}

func TestHandlerErrorsDoNotStopDelivery(t *testing.T) {
	ctx := context.Background()
	net, user := newNetwork(t)
	require.NoError(t, net.Execute(ctx, userChain, user, liquidstake.StakeNative{User: user, Amount: liquidstake.FromTokens(1), LstTypeOut: plst}))

	r := New(net)
	calls := 0
	r.OnDelivered(func(Event) error {
		calls++
		return assert.AnError
	})
	n, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, n, calls)
	assert.Equal(t, []host.Route{{From: stakeChain, To: userChain}}, net.Pending())

	_, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Empty(t, net.Pending())
}

func TestStartDrainsUntilStopped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	net, user := newNetwork(t)

	r := New(net, WithInterval(5*time.Millisecond), WithRateLimit(1000, 10))
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.NoError(t, net.Execute(ctx, userChain, user, liquidstake.StakeNative{User: user, Amount: liquidstake.FromTokens(2), LstTypeOut: plst}))

	require.Eventually(t, func() bool {
		bal, _ := net.Balance(host.TokenAsset(plst), liquidstake.Account{Chain: userChain, Owner: user})
		return bal == liquidstake.FromTokens(2)
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, r.Stop())
	require.NoError(t, r.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestStartRejectsSecondRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := New(&flakyNetwork{}, WithInterval(time.Millisecond))

	go func() { _ = r.Start(ctx) }()
	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.running
	}, time.Second, time.Millisecond)

	err := r.Start(ctx)
	assert.Equal(t, errors.PROTOCOL_VIOLATION, errors.CodeOf(err))
	cancel()
}

// flakyNetwork fails every Deliver call and records when it was called.
type flakyNetwork struct {
	mu    sync.Mutex
	calls []time.Time
	n     atomic.Int32
}

func (f *flakyNetwork) Pending() []host.Route {
	return []host.Route{{From: userChain, To: stakeChain}}
}

func (f *flakyNetwork) Deliver(ctx context.Context, from, to liquidstake.ChainID) ([]host.Delivered, error) {
	f.mu.Lock()
	f.calls = append(f.calls, time.Now())
	f.mu.Unlock()
	f.n.Add(1)
	return nil, errors.NewHostError(errors.STORE_ERROR, "boom", nil)
}

func TestStartBacksOffOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := &flakyNetwork{}
	r := New(f, WithInterval(time.Millisecond), WithBackoff(20*time.Millisecond, 40*time.Millisecond))

	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	require.Eventually(t, func() bool { return f.n.Load() >= 3 }, 2*time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.GreaterOrEqual(t, f.calls[1].Sub(f.calls[0]), 20*time.Millisecond)
	assert.GreaterOrEqual(t, f.calls[2].Sub(f.calls[1]), 40*time.Millisecond)
}

func TestFilters(t *testing.T) {
	msg := Event{Route: host.Route{From: userChain, To: stakeChain}, MessageID: "m", Kind: liquidstake.KindSwapMessage}
	credit := Event{Route: host.Route{From: stakeChain, To: userChain}, Credit: &host.Credit{}}

	assert.True(t, WithOrigin(userChain)(msg))
	assert.False(t, WithOrigin(userChain)(credit))
	assert.True(t, WithDestination(userChain)(credit))
	assert.True(t, WithKind(liquidstake.KindSwapMessage)(msg))
	assert.False(t, WithKind("")(credit))
	assert.True(t, MessagesOnly()(msg))
	assert.False(t, MessagesOnly()(credit))
	assert.False(t, Failed()(msg))
	assert.True(t, Failed()(Event{Err: assert.AnError}))
}
