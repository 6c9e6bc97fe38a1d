package engine

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

const (
	homeChain liquidstake.ChainID = "stake-chain"
	userChain liquidstake.ChainID = "user-chain"

	plst liquidstake.TokenID = "PLST"
	foo  liquidstake.TokenID = "FOO"
	bar  liquidstake.TokenID = "BAR"
)

type mockTokens struct {
	mock.Mock
}

func (m *mockTokens) Transfer(ctx context.Context, token liquidstake.TokenID, chain liquidstake.ChainID, caller liquidstake.Caller, call liquidstake.TransferCall) error {
	args := m.Called(ctx, token, chain, caller, call)
	return args.Error(0)
}

func (m *mockTokens) Balance(ctx context.Context, token liquidstake.TokenID, account liquidstake.Account) (liquidstake.Amount, error) {
	args := m.Called(ctx, token, account)
	return args.Get(0).(liquidstake.Amount), args.Error(1)
}

type nativeTransfer struct {
	source liquidstake.Owner
	amount liquidstake.Amount
	target liquidstake.Account
}

type sentMessage struct {
	destination liquidstake.ChainID
	message     liquidstake.Message
}

type fakeRuntime struct {
	chain  liquidstake.ChainID
	app    liquidstake.Owner
	signer liquidstake.Owner
	params liquidstake.Parameters
	kv     *memory.KVStore
	homeKV *memory.KVStore
	tokens *mockTokens

	native []nativeTransfer
	sent   []sentMessage
}

func (r *fakeRuntime) ChainID() liquidstake.ChainID           { return r.chain }
func (r *fakeRuntime) HomeChainID() liquidstake.ChainID       { return homeChain }
func (r *fakeRuntime) ApplicationOwner() liquidstake.Owner    { return r.app }
func (r *fakeRuntime) AuthenticatedSigner() liquidstake.Owner { return r.signer }
func (r *fakeRuntime) Parameters() liquidstake.Parameters     { return r.params }
func (r *fakeRuntime) Storage() liquidstake.KVStore           { return r.kv }
func (r *fakeRuntime) HomeStorage() liquidstake.KVStore       { return r.homeKV }
func (r *fakeRuntime) Tokens() liquidstake.TokenService       { return r.tokens }

func (r *fakeRuntime) TransferNative(ctx context.Context, source liquidstake.Owner, amount liquidstake.Amount, target liquidstake.Account) error {
	r.native = append(r.native, nativeTransfer{source: source, amount: amount, target: target})
	return nil
}

func (r *fakeRuntime) SendMessage(ctx context.Context, destination liquidstake.ChainID, msg liquidstake.Message) (string, error) {
	r.sent = append(r.sent, sentMessage{destination: destination, message: msg})
	return uuid.NewString(), nil
}

type fixture struct {
	home *fakeRuntime
	user *fakeRuntime
	addr liquidstake.Owner
}

func randomOwner() liquidstake.Owner {
	return liquidstake.Owner(keypair.MustRandom().Address())
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	app := randomOwner()
	user := randomOwner()
	params := liquidstake.Parameters{ProtocolToken: plst}
	homeKV := memory.NewKVStore()

	home := &fakeRuntime{chain: homeChain, app: app, params: params, kv: homeKV, homeKV: homeKV, tokens: &mockTokens{}}
	remote := &fakeRuntime{chain: userChain, app: app, signer: user, params: params, kv: memory.NewKVStore(), homeKV: homeKV, tokens: &mockTokens{}}

	ctx := context.Background()
	eng, err := Load(ctx, home)
	require.NoError(t, err)
	require.NoError(t, eng.Instantiate(ctx))
	require.NoError(t, eng.Store(ctx))

	return &fixture{home: home, user: remote, addr: user}
}

// run loads an engine on rt, executes fn and stores on success, like a host does.
func run(t *testing.T, rt *fakeRuntime, fn func(*Engine) error) error {
	t.Helper()
	ctx := context.Background()
	eng, err := Load(ctx, rt)
	require.NoError(t, err)
	if err := fn(eng); err != nil {
		return err
	}
	return eng.Store(ctx)
}

func execOp(t *testing.T, rt *fakeRuntime, op liquidstake.Operation) error {
	return run(t, rt, func(e *Engine) error { return e.ExecuteOperation(context.Background(), op) })
}

func execMsg(t *testing.T, rt *fakeRuntime, env liquidstake.MessageEnvelope) error {
	return run(t, rt, func(e *Engine) error { return e.ExecuteMessage(context.Background(), env) })
}

func (f *fixture) custody() liquidstake.Account {
	return liquidstake.Account{Chain: homeChain, Owner: f.home.app}
}

func (f *fixture) register(t *testing.T, tokens ...liquidstake.TokenID) {
	t.Helper()
	for _, tok := range tokens {
		require.NoError(t, execOp(t, f.home, liquidstake.NewLst{TokenID: tok}))
	}
}

func TestInstantiateApprovesProtocolToken(t *testing.T) {
	f := newFixture(t)
	err := run(t, f.home, func(e *Engine) error {
		assert.True(t, e.Registry().IsExchangeable(plst))
		assert.False(t, e.Registry().IsExchangeable(foo))
		assert.Equal(t, []liquidstake.TokenID{plst}, e.Registry().Tokens())
		return nil
	})
	require.NoError(t, err)
}

func TestLoadRejectsMissingProtocolToken(t *testing.T) {
	rt := &fakeRuntime{chain: homeChain, kv: memory.NewKVStore()}
	_, err := Load(context.Background(), rt)
	assert.Equal(t, errors.CONFIG_INVALID, errors.CodeOf(err))
}

func TestNewLstRegistersOnHomeChain(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo)
	f.register(t, foo)

	require.NoError(t, run(t, f.home, func(e *Engine) error {
		assert.True(t, e.Registry().IsExchangeable(foo))
		return nil
	}))

	err := execOp(t, f.user, liquidstake.NewLst{TokenID: bar})
	assert.ErrorIs(t, err, errors.ErrProtocolViolation)
}

func TestNewLstRestrictedToAdmin(t *testing.T) {
	f := newFixture(t)
	admin := randomOwner()
	f.home.params.Admin = admin

	f.home.signer = randomOwner()
	err := execOp(t, f.home, liquidstake.NewLst{TokenID: foo})
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	f.home.signer = admin
	require.NoError(t, execOp(t, f.home, liquidstake.NewLst{TokenID: foo}))
}

func TestStakeNativeFromUserChainSendsMessage(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo)

	op := liquidstake.StakeNative{User: f.addr, Amount: liquidstake.FromTokens(10), LstTypeOut: foo}
	require.NoError(t, execOp(t, f.user, op))

	require.Len(t, f.user.native, 1)
	assert.Equal(t, nativeTransfer{source: f.addr, amount: liquidstake.FromTokens(10), target: f.custody()}, f.user.native[0])

	require.Len(t, f.user.sent, 1)
	assert.Equal(t, homeChain, f.user.sent[0].destination)
	assert.Equal(t, liquidstake.StakeNativeMessage{
		User: f.addr, Amount: liquidstake.FromTokens(10), LstTypeOut: foo, UserChainID: userChain,
	}, f.user.sent[0].message)
	f.user.tokens.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStakeNativeUnapprovedTokenNeverTouchesCustody(t *testing.T) {
	f := newFixture(t)

	err := execOp(t, f.user, liquidstake.StakeNative{User: f.addr, Amount: liquidstake.FromTokens(1), LstTypeOut: foo})
	assert.ErrorIs(t, err, errors.ErrUnapprovedToken)
	assert.Empty(t, f.user.native)
	assert.Empty(t, f.user.sent)
	f.user.tokens.AssertExpectations(t)
	assert.Empty(t, f.user.tokens.Calls)
}

func TestStakeNativeRejectsZeroAmount(t *testing.T) {
	f := newFixture(t)
	err := execOp(t, f.user, liquidstake.StakeNative{User: f.addr, Amount: 0, LstTypeOut: plst})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestStakeNativeRequiresUserSignature(t *testing.T) {
	f := newFixture(t)
	f.user.signer = randomOwner()
	err := execOp(t, f.user, liquidstake.StakeNative{User: f.addr, Amount: liquidstake.FromTokens(1), LstTypeOut: plst})
	assert.ErrorIs(t, err, errors.ErrUnauthorized)
	assert.Empty(t, f.user.native)
}

func TestStakeNativeMessagePaysOutAtPar(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo)
	f.home.signer = f.addr

	ten := liquidstake.FromTokens(10)
	f.home.tokens.On("Balance", mock.Anything, foo, f.custody()).Return(liquidstake.FromTokens(100), nil)
	f.home.tokens.On("Transfer", mock.Anything, foo, homeChain,
		liquidstake.Caller{Application: f.home.app},
		liquidstake.TransferCall{Owner: f.home.app, Amount: ten, Target: liquidstake.Account{Chain: userChain, Owner: f.addr}},
	).Return(nil).Once()

	env := liquidstake.MessageEnvelope{
		ID:      uuid.NewString(),
		Origin:  userChain,
		Message: liquidstake.StakeNativeMessage{User: f.addr, Amount: ten, LstTypeOut: foo, UserChainID: userChain},
	}
	require.NoError(t, execMsg(t, f.home, env))
	f.home.tokens.AssertExpectations(t)

	require.NoError(t, run(t, f.home, func(e *Engine) error {
		assert.True(t, e.NativeFunded(foo))
		assert.True(t, e.Processed(env.ID))
		return nil
	}))

	// Redelivery of the same message id has no effect.
	require.NoError(t, execMsg(t, f.home, env))
	f.home.tokens.AssertNumberOfCalls(t, "Transfer", 1)
}

func TestStakeNativeMessageReserveExhausted(t *testing.T) {
	f := newFixture(t)
	f.home.tokens.On("Balance", mock.Anything, plst, f.custody()).Return(liquidstake.FromTokens(3), nil)

	env := liquidstake.MessageEnvelope{
		ID:      uuid.NewString(),
		Message: liquidstake.StakeNativeMessage{User: f.addr, Amount: liquidstake.FromTokens(5), LstTypeOut: plst, UserChainID: userChain},
	}
	err := execMsg(t, f.home, env)
	assert.ErrorIs(t, err, errors.ErrReserveExhausted)
	f.home.tokens.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, run(t, f.home, func(e *Engine) error {
		assert.False(t, e.Processed(env.ID))
		return nil
	}))
}

func TestMessageOffHomeChainIsProtocolViolation(t *testing.T) {
	f := newFixture(t)
	env := liquidstake.MessageEnvelope{
		ID:      uuid.NewString(),
		Message: liquidstake.StakeLstMessage{User: f.addr, AmountIn: liquidstake.FromTokens(1), UserChainID: userChain},
	}
	err := execMsg(t, f.user, env)
	assert.ErrorIs(t, err, errors.ErrProtocolViolation)
	assert.Empty(t, f.user.tokens.Calls)
}

func TestStakeLstPullsIntoHomeCustody(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo)

	ten := liquidstake.FromTokens(10)
	f.user.tokens.On("Transfer", mock.Anything, foo, userChain,
		liquidstake.Caller{Signer: f.addr, Application: f.user.app},
		liquidstake.TransferCall{Owner: f.addr, Amount: ten, Target: f.custody()},
	).Return(nil).Once()

	require.NoError(t, execOp(t, f.user, liquidstake.StakeLst{User: f.addr, Amount: ten, LstTypeIn: foo}))
	f.user.tokens.AssertExpectations(t)

	require.Len(t, f.user.sent, 1)
	assert.Equal(t, liquidstake.StakeLstMessage{User: f.addr, AmountIn: ten, UserChainID: userChain}, f.user.sent[0].message)
}

func TestStakeLstExternalFailureAbortsOperation(t *testing.T) {
	f := newFixture(t)
	cause := assert.AnError
	f.user.tokens.On("Transfer", mock.Anything, plst, userChain, mock.Anything, mock.Anything).Return(cause)

	err := execOp(t, f.user, liquidstake.StakeLst{User: f.addr, Amount: liquidstake.FromTokens(1), LstTypeIn: plst})
	assert.ErrorIs(t, err, errors.ErrExternalCallFailed)
	assert.ErrorIs(t, err, cause)
	assert.Empty(t, f.user.sent)
}

func TestSwapChecksReserveBeforePull(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo, bar)
	f.user.tokens.On("Balance", mock.Anything, foo, f.custody()).Return(liquidstake.FromTokens(4), nil)

	err := execOp(t, f.user, liquidstake.Swap{User: f.addr, AmountIn: liquidstake.FromTokens(5), LstTypeIn: bar, LstTypeOut: foo})
	assert.ErrorIs(t, err, errors.ErrReserveExhausted)
	f.user.tokens.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSwapUnapprovedTokenNeverTouchesCustody(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo)

	err := execOp(t, f.user, liquidstake.Swap{User: f.addr, AmountIn: liquidstake.FromTokens(5), LstTypeIn: bar, LstTypeOut: foo})
	assert.ErrorIs(t, err, errors.ErrUnapprovedToken)
	assert.Empty(t, f.user.tokens.Calls)
}

func TestSwapOnHomeCompletesInline(t *testing.T) {
	f := newFixture(t)
	f.register(t, foo, bar)
	f.home.signer = f.addr

	five := liquidstake.FromTokens(5)
	f.home.tokens.On("Balance", mock.Anything, foo, f.custody()).Return(liquidstake.FromTokens(95), nil)
	f.home.tokens.On("Transfer", mock.Anything, bar, homeChain,
		liquidstake.Caller{Signer: f.addr, Application: f.home.app},
		liquidstake.TransferCall{Owner: f.addr, Amount: five, Target: f.custody()},
	).Return(nil).Once()
	f.home.tokens.On("Transfer", mock.Anything, foo, homeChain,
		liquidstake.Caller{Application: f.home.app},
		liquidstake.TransferCall{Owner: f.home.app, Amount: five, Target: liquidstake.Account{Chain: homeChain, Owner: f.addr}},
	).Return(nil).Once()

	require.NoError(t, execOp(t, f.home, liquidstake.Swap{User: f.addr, AmountIn: five, LstTypeIn: bar, LstTypeOut: foo}))
	f.home.tokens.AssertExpectations(t)
	assert.Empty(t, f.home.sent)
}

func TestStakeThenUnstakeRestoresLedger(t *testing.T) {
	f := newFixture(t)
	f.home.signer = f.addr
	f.home.tokens.On("Transfer", mock.Anything, plst, homeChain, mock.Anything, mock.Anything).Return(nil)

	seven := liquidstake.FromTokens(7)
	require.NoError(t, execOp(t, f.home, liquidstake.Stake{Owner: f.addr, Amount: seven}))
	require.NoError(t, run(t, f.home, func(e *Engine) error {
		bal, ok := e.Ledger().Balance(f.addr)
		assert.True(t, ok)
		assert.Equal(t, seven, bal)
		return nil
	}))

	err := execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: liquidstake.FromTokens(8)})
	assert.ErrorIs(t, err, errors.ErrInsufficientBalance)

	require.NoError(t, execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: seven}))
	require.NoError(t, run(t, f.home, func(e *Engine) error {
		bal, _ := e.Ledger().Balance(f.addr)
		assert.Equal(t, liquidstake.Zero, bal)
		return nil
	}))
}

func TestUnstakeWithoutStake(t *testing.T) {
	f := newFixture(t)
	f.home.signer = f.addr
	err := execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: liquidstake.FromTokens(1)})
	assert.ErrorIs(t, err, errors.ErrNoStake)
}

func TestUnstakeZeroNeedsOnlyAnEntry(t *testing.T) {
	f := newFixture(t)
	f.home.signer = f.addr

	err := execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: liquidstake.Zero})
	assert.ErrorIs(t, err, errors.ErrNoStake)

	f.home.tokens.On("Transfer", mock.Anything, plst, homeChain, mock.Anything, mock.Anything).Return(nil)
	seven := liquidstake.FromTokens(7)
	require.NoError(t, execOp(t, f.home, liquidstake.Stake{Owner: f.addr, Amount: seven}))

	require.NoError(t, execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: liquidstake.Zero}))
	require.NoError(t, run(t, f.home, func(e *Engine) error {
		bal, _ := e.Ledger().Balance(f.addr)
		assert.Equal(t, seven, bal)
		return nil
	}))

	err = execOp(t, f.home, liquidstake.Unstake{Owner: f.addr, Amount: -1})
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}

func TestStakeFromUserChainRelocatesThenSends(t *testing.T) {
	f := newFixture(t)
	three := liquidstake.FromTokens(3)
	f.user.tokens.On("Transfer", mock.Anything, plst, userChain,
		liquidstake.Caller{Signer: f.addr, Application: f.user.app},
		liquidstake.TransferCall{Owner: f.addr, Amount: three, Target: liquidstake.Account{Chain: homeChain, Owner: f.addr}},
	).Return(nil).Once()

	require.NoError(t, execOp(t, f.user, liquidstake.Stake{Owner: f.addr, Amount: three}))
	f.user.tokens.AssertExpectations(t)
	require.Len(t, f.user.sent, 1)
	assert.Equal(t, liquidstake.StakeLocalAccountMessage{Owner: f.addr, Amount: three}, f.user.sent[0].message)
}

func TestQuoteAtPar(t *testing.T) {
	out, err := Quote(liquidstake.MustParseAmount("12.3456789"), ParRate)
	require.NoError(t, err)
	assert.Equal(t, liquidstake.MustParseAmount("12.3456789"), out)

	_, err = Quote(-1, ParRate)
	assert.ErrorIs(t, err, errors.ErrInvalidAmount)
}
