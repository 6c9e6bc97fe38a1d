package signers

import (
	"context"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// callbackSigner wraps a custom signing function for external signing services.
type callbackSigner struct {
	publicKey string
	signFunc  func(context.Context, []byte) ([]byte, error)
}

// FromCallback creates a Signer from a public key and an arbitrary signing function.
// Intended for wrapping HSMs, custodial APIs, or any external signing service.
func FromCallback(
	publicKey string,
	signFunc func(context.Context, []byte) ([]byte, error),
) liquidstake.Signer {
	return &callbackSigner{
		publicKey: publicKey,
		signFunc:  signFunc,
	}
}

// PublicKey returns the Stellar address (G...) for this signer.
func (s *callbackSigner) PublicKey() string {
	return s.publicKey
}

// SignMessage delegates to the callback function.
func (s *callbackSigner) SignMessage(ctx context.Context, payload []byte) ([]byte, error) {
	return s.signFunc(ctx, payload)
}
