package query

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/host"
	"github.com/marwen-abid/liquidstake-go/settlement"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

const (
	stakeChain liquidstake.ChainID = "stake-chain"
	userChain  liquidstake.ChainID = "user-chain"
	plst       liquidstake.TokenID = "PLST"
	foo        liquidstake.TokenID = "FOO"
)

type fixture struct {
	net  *host.Network
	user *keypair.Full
	srv  *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	net, err := host.New(ctx, host.Config{
		Name:       "query-test",
		HomeChain:  stakeChain,
		Parameters: liquidstake.Parameters{ProtocolToken: plst},
	}, host.WithTracker(settlement.NewTracker(memory.NewSettlementStore(), nil)))
	require.NoError(t, err)
	_, err = net.AddChain(userChain)
	require.NoError(t, err)

	custody := liquidstake.Account{Chain: stakeChain, Owner: net.ApplicationOwner()}
	for _, tok := range []liquidstake.TokenID{plst, foo} {
		require.NoError(t, net.RegisterToken(tok))
		require.NoError(t, net.Mint(tok, custody, liquidstake.FromTokens(100)))
	}
	require.NoError(t, net.Execute(ctx, stakeChain, "", liquidstake.NewLst{TokenID: foo}))

	user := keypair.MustRandom()
	require.NoError(t, net.FundNative(liquidstake.Account{Chain: userChain, Owner: liquidstake.Owner(user.Address())}, liquidstake.FromTokens(50)))

	srv := httptest.NewServer(NewHandler(NewReporter(net), net))
	t.Cleanup(srv.Close)
	return &fixture{net: net, user: user, srv: srv}
}

func (f *fixture) owner() liquidstake.Owner { return liquidstake.Owner(f.user.Address()) }

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) submit(t *testing.T, chain liquidstake.ChainID, nonce string, op liquidstake.Operation) (int, errorResponse) {
	t.Helper()
	encoded, err := liquidstake.EncodeOperation(op)
	require.NoError(t, err)
	signed := &liquidstake.SignedOperation{
		Chain:     chain,
		Signer:    f.owner(),
		Nonce:     nonce,
		ExpiresAt: time.Now().Add(time.Minute),
		Operation: encoded,
	}
	signed.Signature, err = f.user.Sign(signed.SigningPayload())
	require.NoError(t, err)

	body, err := json.Marshal(signed)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+"/operations", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out errorResponse
	if resp.StatusCode != http.StatusAccepted {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestReporterAfterNativeStake(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	rep := NewReporter(f.net)

	require.NoError(t, f.net.Execute(ctx, userChain, f.owner(), liquidstake.StakeNative{User: f.owner(), Amount: liquidstake.FromTokens(5), LstTypeOut: foo}))
	_, err := f.net.DeliverAll(ctx)
	require.NoError(t, err)

	tok, err := rep.Token(ctx, stakeChain, foo)
	require.NoError(t, err)
	assert.True(t, tok.Exchangeable)
	assert.True(t, tok.NativeFunded)

	tokens, err := rep.ApprovedTokens(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []liquidstake.TokenID{plst, foo}, tokens)

	reserve, err := rep.Reserve(ctx, foo)
	require.NoError(t, err)
	assert.Equal(t, liquidstake.FromTokens(95), reserve.Amount)
	assert.Equal(t, f.net.ApplicationOwner(), reserve.Custody.Owner)

	list, err := rep.Settlements(ctx, liquidstake.SettlementFilters{Owner: f.owner()})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, liquidstake.StatusSettled, list[0].Status)

	status, err := rep.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, stakeChain, status.HomeChain)
	assert.Equal(t, []liquidstake.ChainID{stakeChain, userChain}, status.Chains)
	assert.Zero(t, status.Pending)
}

func TestStakeRejectsInvalidOwner(t *testing.T) {
	f := newFixture(t)
	_, err := NewReporter(f.net).Stake(context.Background(), stakeChain, "bob")
	assert.ErrorIs(t, err, errors.ErrInvalidOwner)
}

func TestHandlerRoutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.net.Mint(plst, liquidstake.Account{Chain: stakeChain, Owner: f.owner()}, liquidstake.FromTokens(3)))
	require.NoError(t, f.net.Execute(ctx, stakeChain, f.owner(), liquidstake.Stake{Owner: f.owner(), Amount: liquidstake.FromTokens(3)}))

	var tok TokenStatus
	assert.Equal(t, http.StatusOK, f.get(t, "/chains/stake-chain/tokens/FOO", &tok))
	assert.True(t, tok.Exchangeable)

	var stake StakeBalance
	assert.Equal(t, http.StatusOK, f.get(t, "/chains/stake-chain/stakes/"+f.user.Address(), &stake))
	assert.Equal(t, liquidstake.FromTokens(3), stake.Amount)
	assert.True(t, stake.Exists)

	var reserve Reserve
	assert.Equal(t, http.StatusOK, f.get(t, "/reserves/PLST", &reserve))
	assert.Equal(t, liquidstake.FromTokens(103), reserve.Amount)

	var missing errorResponse
	assert.Equal(t, http.StatusNotFound, f.get(t, "/settlements/nope", &missing))
	assert.Equal(t, errors.NOT_FOUND, missing.Code)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/reserves/BAR", nil))
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/settlements?limit=x", nil))

	var list struct {
		Settlements []*liquidstake.Settlement `json:"settlements"`
	}
	assert.Equal(t, http.StatusOK, f.get(t, "/settlements?status=failed", &list))
	assert.Empty(t, list.Settlements)
}

func TestHandlerSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	code, _ := f.submit(t, userChain, "n-1", liquidstake.StakeNative{User: f.owner(), Amount: liquidstake.FromTokens(2), LstTypeOut: plst})
	assert.Equal(t, http.StatusAccepted, code)
	_, err := f.net.DeliverAll(ctx)
	require.NoError(t, err)

	bal, _ := f.net.Balance(host.TokenAsset(plst), liquidstake.Account{Chain: userChain, Owner: f.owner()})
	assert.Equal(t, liquidstake.FromTokens(2), bal)

	code, resp := f.submit(t, userChain, "n-1", liquidstake.StakeNative{User: f.owner(), Amount: liquidstake.FromTokens(2), LstTypeOut: plst})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, errors.UNAUTHORIZED, resp.Code)

	code, resp = f.submit(t, userChain, "n-2", liquidstake.StakeNative{User: f.owner(), Amount: liquidstake.FromTokens(2), LstTypeOut: "BAR"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, errors.UNAPPROVED_TOKEN, resp.Code)

	resp2, err := http.Post(f.srv.URL+"/operations", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}

func TestWriteJSONLogsEncodeFailure(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, map[string]any{"rate": make(chan int)})

	assert.Equal(t, http.StatusOK, rec.Code)
	entries := logs.FilterMessage("failed to write response").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusOK), entries[0].ContextMap()["status"])
}
