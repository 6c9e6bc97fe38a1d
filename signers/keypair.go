package signers

import (
	"context"
	"fmt"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/txnbuild"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// keypairSigner wraps a stellar/go keypair.
type keypairSigner struct {
	kp *keypair.Full
}

var _ liquidstake.TransactionSigner = (*keypairSigner)(nil)

// FromSecret creates a signer from a Stellar secret key (S...).
// Returns an error if the secret key is invalid.
func FromSecret(secret string) (liquidstake.TransactionSigner, error) {
	kp, err := keypair.ParseFull(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return &keypairSigner{kp: kp}, nil
}

// FromKeypair creates a signer from an existing full keypair.
func FromKeypair(kp *keypair.Full) liquidstake.TransactionSigner {
	return &keypairSigner{kp: kp}
}

// PublicKey returns the Stellar address (G...) for this keypair.
func (s *keypairSigner) PublicKey() string {
	return s.kp.Address()
}

// SignMessage signs payload with the ed25519 key.
func (s *keypairSigner) SignMessage(ctx context.Context, payload []byte) ([]byte, error) {
	return s.kp.Sign(payload)
}

// SignTransaction signs a Stellar transaction envelope (base64 XDR) and
// returns the signed envelope as base64 XDR.
func (s *keypairSigner) SignTransaction(ctx context.Context, xdr string, networkPassphrase string) (string, error) {
	parsed, err := txnbuild.TransactionFromXDR(xdr)
	if err != nil {
		return "", fmt.Errorf("failed to parse transaction XDR: %w", err)
	}

	tx, ok := parsed.Transaction()
	if !ok {
		return "", fmt.Errorf("expected a Transaction, got a FeeBumpTransaction")
	}

	signedTx, err := tx.Sign(networkPassphrase, s.kp)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	return signedTx.Base64()
}
