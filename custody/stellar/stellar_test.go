package stellar

import (
	"context"
	"testing"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	hProtocol "github.com/stellar/go-stellar-sdk/protocols/horizon"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/base"
	"github.com/stellar/go-stellar-sdk/protocols/horizon/operations"
	"github.com/stellar/go/keypair"
	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/signers"
)

const stellarChain liquidstake.ChainID = "stellar-testnet"

func TestParseAsset(t *testing.T) {
	issuer := keypair.MustRandom().Address()

	a, err := ParseAsset(NativeToken)
	require.NoError(t, err)
	assert.True(t, a.IsNative())

	a, err = ParseAsset(liquidstake.TokenID("USDC:" + issuer))
	require.NoError(t, err)
	assert.Equal(t, "USDC", a.GetCode())
	assert.Equal(t, issuer, a.GetIssuer())

	_, err = ParseAsset("USDC")
	assert.ErrorIs(t, err, errors.ErrUnapprovedToken)
	_, err = ParseAsset("USDC:nope")
	assert.ErrorIs(t, err, errors.ErrInvalidOwner)
}

func TestTransferSubmitsSignedPayment(t *testing.T) {
	custody := keypair.MustRandom()
	user := keypair.MustRandom()
	issuer := keypair.MustRandom().Address()
	token := liquidstake.TokenID("PLST:" + issuer)

	hc := &horizonclient.MockClient{}
	hc.On("AccountDetail", horizonclient.AccountRequest{AccountID: custody.Address()}).
		Return(hProtocol.Account{AccountID: custody.Address(), Sequence: 41}, nil)

	var submitted string
	hc.On("SubmitTransactionXDR", mock.AnythingOfType("string")).
		Run(func(args mock.Arguments) { submitted = args.String(0) }).
		Return(hProtocol.Transaction{Hash: "abc"}, nil)

	svc := NewTokenService(hc, stellarChain, network.TestNetworkPassphrase, WithSigner(signers.FromKeypair(custody)))
	err := svc.Transfer(context.Background(), token, stellarChain,
		liquidstake.Caller{Application: liquidstake.Owner(custody.Address())},
		liquidstake.TransferCall{
			Owner:  liquidstake.Owner(custody.Address()),
			Amount: liquidstake.MustParseAmount("2.5"),
			Target: liquidstake.Account{Chain: stellarChain, Owner: liquidstake.Owner(user.Address())},
		})
	require.NoError(t, err)
	hc.AssertExpectations(t)

	parsed, err := txnbuild.TransactionFromXDR(submitted)
	require.NoError(t, err)
	tx, ok := parsed.Transaction()
	require.True(t, ok)
	assert.Len(t, tx.Signatures(), 1)
	assert.Equal(t, int64(42), tx.SequenceNumber())
	require.Len(t, tx.Operations(), 1)
	payment, ok := tx.Operations()[0].(*txnbuild.Payment)
	require.True(t, ok)
	assert.Equal(t, user.Address(), payment.Destination)
	assert.Equal(t, "2.5000000", payment.Amount)
	assert.Equal(t, "PLST", payment.Asset.GetCode())
}

func TestTransferRejections(t *testing.T) {
	custody := keypair.MustRandom()
	stranger := keypair.MustRandom()
	target := liquidstake.Account{Chain: stellarChain, Owner: liquidstake.Owner(keypair.MustRandom().Address())}
	hc := &horizonclient.MockClient{}
	svc := NewTokenService(hc, stellarChain, network.TestNetworkPassphrase, WithSigner(signers.FromKeypair(custody)))
	ctx := context.Background()
	app := liquidstake.Caller{Application: liquidstake.Owner(custody.Address())}

	err := svc.Transfer(ctx, NativeToken, "other-chain", app,
		liquidstake.TransferCall{Owner: app.Application, Amount: liquidstake.One, Target: target})
	assert.ErrorIs(t, err, errors.ErrProtocolViolation)

	err = svc.Transfer(ctx, NativeToken, stellarChain, app,
		liquidstake.TransferCall{Owner: liquidstake.Owner(stranger.Address()), Amount: liquidstake.One, Target: target})
	assert.ErrorIs(t, err, errors.ErrUnauthorized)

	signerOnly := liquidstake.Caller{Signer: liquidstake.Owner(stranger.Address())}
	err = svc.Transfer(ctx, NativeToken, stellarChain, signerOnly,
		liquidstake.TransferCall{Owner: liquidstake.Owner(stranger.Address()), Amount: liquidstake.One, Target: target})
	assert.ErrorIs(t, err, errors.ErrUnauthorized, "no key held for the stranger")

	hc.AssertNotCalled(t, "SubmitTransactionXDR", mock.Anything)
}

func TestBalance(t *testing.T) {
	owner := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()
	hc := &horizonclient.MockClient{}
	hc.On("AccountDetail", horizonclient.AccountRequest{AccountID: owner}).Return(hProtocol.Account{
		AccountID: owner,
		Balances: []hProtocol.Balance{
			{Balance: "12.0000000", Asset: base.Asset{Type: "native"}},
			{Balance: "3.5000000", Asset: base.Asset{Type: "credit_alphanum4", Code: "FOO", Issuer: issuer}},
		},
	}, nil)

	svc := NewTokenService(hc, stellarChain, network.TestNetworkPassphrase)
	account := liquidstake.Account{Chain: stellarChain, Owner: liquidstake.Owner(owner)}
	ctx := context.Background()

	bal, err := svc.Balance(ctx, NativeToken, account)
	require.NoError(t, err)
	assert.Equal(t, liquidstake.FromTokens(12), bal)

	bal, err = svc.Balance(ctx, liquidstake.TokenID("FOO:"+issuer), account)
	require.NoError(t, err)
	assert.Equal(t, liquidstake.MustParseAmount("3.5"), bal)

	bal, err = svc.Balance(ctx, liquidstake.TokenID("BAR:"+issuer), account)
	require.NoError(t, err)
	assert.Equal(t, liquidstake.Zero, bal)
}

func TestWatcherReportsIncomingPayments(t *testing.T) {
	custody := keypair.MustRandom().Address()
	user := keypair.MustRandom().Address()
	issuer := keypair.MustRandom().Address()

	incoming := operations.Payment{
		Base:   operations.Base{ID: "1", PT: "100", TransactionHash: "h1", Type: "payment"},
		Asset:  base.Asset{Type: "credit_alphanum4", Code: "FOO", Issuer: issuer},
		From:   user,
		To:     custody,
		Amount: "7.0000000",
	}
	outgoing := operations.Payment{
		Base:   operations.Base{ID: "2", PT: "101", TransactionHash: "h2", Type: "payment"},
		Asset:  base.Asset{Type: "native"},
		From:   custody,
		To:     user,
		Amount: "1.0000000",
	}

	hc := &horizonclient.MockClient{}
	hc.On("StreamPayments", mock.Anything, horizonclient.OperationRequest{
		ForAccount: custody,
		Cursor:     "99",
		Order:      horizonclient.OrderAsc,
	}, mock.Anything).Run(func(args mock.Arguments) {
		handler := args.Get(2).(horizonclient.OperationHandler)
		handler(incoming)
		handler(outgoing)
	}).Return(nil)

	var saved []string
	w := NewWatcher(hc, liquidstake.Owner(custody),
		WithCursor("99"),
		WithCursorSaver(func(c string) error {
			saved = append(saved, c)
			return nil
		}))

	var deposits []Deposit
	w.OnDeposit(func(d Deposit) error {
		deposits = append(deposits, d)
		return nil
	})

	require.NoError(t, w.Start(context.Background()))
	require.Len(t, deposits, 1)
	assert.Equal(t, liquidstake.TokenID("FOO:"+issuer), deposits[0].Token)
	assert.Equal(t, liquidstake.FromTokens(7), deposits[0].Amount)
	assert.Equal(t, liquidstake.Owner(user), deposits[0].From)
	assert.Equal(t, []string{"100", "101"}, saved)
	assert.Equal(t, "101", w.Cursor())
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}
