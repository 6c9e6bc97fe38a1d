// Package stellar implements token custody on a Stellar network through Horizon.
//
// Token ids are "native" for lumens or "CODE:ISSUER" for issued assets. The
// whole Stellar network is a single chain, so transfers never leave it.
package stellar

import (
	"context"
	"fmt"
	"strings"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// NativeToken is the token id of lumens.
const NativeToken liquidstake.TokenID = "native"

const defaultTimeoutSeconds = 60

// TokenService moves Stellar assets by building, signing and submitting
// payment transactions. It can only move funds of owners it holds a signer for.
type TokenService struct {
	client            horizonclient.ClientInterface
	chain             liquidstake.ChainID
	networkPassphrase string
	signers           map[liquidstake.Owner]liquidstake.TransactionSigner
	baseFee           int64
	timeoutSeconds    int64
}

var _ liquidstake.TokenService = (*TokenService)(nil)

// Option configures a TokenService.
type Option func(*TokenService)

// WithSigner lets the service move funds held by signer's account.
func WithSigner(signer liquidstake.TransactionSigner) Option {
	return func(s *TokenService) {
		s.signers[liquidstake.Owner(signer.PublicKey())] = signer
	}
}

// WithBaseFee sets the per-operation fee in stroops (default: txnbuild.MinBaseFee).
func WithBaseFee(fee int64) Option {
	return func(s *TokenService) {
		s.baseFee = fee
	}
}

// WithTimeout sets the transaction validity window in seconds (default: 60).
func WithTimeout(seconds int64) Option {
	return func(s *TokenService) {
		s.timeoutSeconds = seconds
	}
}

// NewTokenService creates a custody service for the Stellar network that
// chain stands for.
func NewTokenService(client horizonclient.ClientInterface, chain liquidstake.ChainID, networkPassphrase string, opts ...Option) *TokenService {
	s := &TokenService{
		client:            client,
		chain:             chain,
		networkPassphrase: networkPassphrase,
		signers:           make(map[liquidstake.Owner]liquidstake.TransactionSigner),
		baseFee:           txnbuild.MinBaseFee,
		timeoutSeconds:    defaultTimeoutSeconds,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ParseAsset converts a token id into a txnbuild asset.
func ParseAsset(token liquidstake.TokenID) (txnbuild.Asset, error) {
	if token == NativeToken {
		return txnbuild.NativeAsset{}, nil
	}
	code, issuer, ok := strings.Cut(string(token), ":")
	if !ok || code == "" || issuer == "" {
		return nil, errors.NewEngineError(errors.UNAPPROVED_TOKEN, fmt.Sprintf("token %q is not CODE:ISSUER", token), nil)
	}
	if err := liquidstake.Owner(issuer).Validate(); err != nil {
		return nil, err
	}
	return txnbuild.CreditAsset{Code: code, Issuer: issuer}, nil
}

// Transfer pays call.Amount of token from call.Owner to call.Target.
func (s *TokenService) Transfer(ctx context.Context, token liquidstake.TokenID, chain liquidstake.ChainID, caller liquidstake.Caller, call liquidstake.TransferCall) error {
	if chain != s.chain || call.Target.Chain != s.chain {
		return errors.NewHostError(errors.PROTOCOL_VIOLATION,
			fmt.Sprintf("stellar custody serves %s only", s.chain), nil)
	}
	if call.Owner != caller.Signer && call.Owner != caller.Application {
		return errors.NewHostError(errors.UNAUTHORIZED, fmt.Sprintf("caller may not move funds of %s", call.Owner), nil)
	}
	signer, ok := s.signers[call.Owner]
	if !ok {
		return errors.NewHostError(errors.UNAUTHORIZED, fmt.Sprintf("no signing key for %s", call.Owner), nil)
	}
	if !call.Amount.IsPositive() {
		return errors.NewHostError(errors.INVALID_AMOUNT, "transfer amount must be positive", nil)
	}
	if err := call.Target.Owner.Validate(); err != nil {
		return err
	}
	asset, err := ParseAsset(token)
	if err != nil {
		return err
	}

	account, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: string(call.Owner)})
	if err != nil {
		return errors.NewHostError(errors.EXTERNAL_CALL_FAILED, fmt.Sprintf("failed to load account %s", call.Owner), err)
	}
	seq, err := account.GetSequenceNumber()
	if err != nil {
		return errors.NewHostError(errors.EXTERNAL_CALL_FAILED, "invalid account sequence", err)
	}
	source := txnbuild.NewSimpleAccount(string(call.Owner), seq)

	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &source,
		IncrementSequenceNum: true,
		BaseFee:              s.baseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(s.timeoutSeconds)},
		Operations: []txnbuild.Operation{&txnbuild.Payment{
			Destination: string(call.Target.Owner),
			Amount:      call.Amount.String(),
			Asset:       asset,
		}},
	})
	if err != nil {
		return errors.NewHostError(errors.EXTERNAL_CALL_FAILED, "failed to build payment", err)
	}
	unsigned, err := tx.Base64()
	if err != nil {
		return errors.NewHostError(errors.CODEC_ERROR, "failed to encode payment", err)
	}
	signed, err := signer.SignTransaction(ctx, unsigned, s.networkPassphrase)
	if err != nil {
		return errors.NewHostError(errors.EXTERNAL_CALL_FAILED, "failed to sign payment", err)
	}

	result, err := s.client.SubmitTransactionXDR(signed)
	if err != nil {
		return errors.NewHostError(errors.EXTERNAL_CALL_FAILED, "payment submission failed", err).
			With("token", string(token))
	}
	Logger().Info("payment submitted",
		zap.String("token", string(token)),
		zap.String("from", string(call.Owner)),
		zap.String("to", string(call.Target.Owner)),
		zap.Stringer("amount", call.Amount),
		zap.String("tx_hash", result.Hash))
	return nil
}

// Balance returns account's balance of token. Accounts that do not exist or
// do not hold the asset report zero.
func (s *TokenService) Balance(ctx context.Context, token liquidstake.TokenID, account liquidstake.Account) (liquidstake.Amount, error) {
	if account.Chain != s.chain {
		return 0, errors.NewHostError(errors.PROTOCOL_VIOLATION, fmt.Sprintf("stellar custody serves %s only", s.chain), nil)
	}
	if _, err := ParseAsset(token); err != nil {
		return 0, err
	}
	detail, err := s.client.AccountDetail(horizonclient.AccountRequest{AccountID: string(account.Owner)})
	if err != nil {
		if horizonclient.IsNotFoundError(err) {
			return 0, nil
		}
		return 0, errors.NewHostError(errors.EXTERNAL_CALL_FAILED, fmt.Sprintf("failed to load account %s", account.Owner), err)
	}
	for _, b := range detail.Balances {
		if tokenOf(b.Type, b.Code, b.Issuer) != token {
			continue
		}
		return liquidstake.ParseAmount(b.Balance)
	}
	return 0, nil
}

func tokenOf(assetType, code, issuer string) liquidstake.TokenID {
	if assetType == "native" {
		return NativeToken
	}
	return liquidstake.TokenID(code + ":" + issuer)
}
