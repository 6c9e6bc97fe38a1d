package host

import (
	"context"
	"time"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/core/crypto"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

// Authorizer is the capability check a chain performs before an operation
// reaches the engine. It verifies the signer's signature over the submission,
// rejects expired or replayed nonces, and throttles each signer.
type Authorizer struct {
	nonces  liquidstake.NonceStore
	limiter *signerLimiter
	now     func() time.Time
}

// AuthorizerOption configures an Authorizer.
type AuthorizerOption func(*Authorizer)

// WithNonceStore sets where spent nonces are recorded.
func WithNonceStore(store liquidstake.NonceStore) AuthorizerOption {
	return func(a *Authorizer) {
		a.nonces = store
	}
}

// WithSubmissionLimit allows each signer rps submissions per second with the given burst.
func WithSubmissionLimit(rps float64, burst int) AuthorizerOption {
	return func(a *Authorizer) {
		a.limiter = newSignerLimiter(rps, burst, 0)
	}
}

// NewAuthorizer creates an authorizer with an in-memory nonce store and no throttling.
func NewAuthorizer(opts ...AuthorizerOption) *Authorizer {
	a := &Authorizer{
		nonces: memory.NewNonceStore(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Verify checks signed and returns the decoded operation.
func (a *Authorizer) Verify(ctx context.Context, signed *liquidstake.SignedOperation) (liquidstake.Operation, error) {
	if signed == nil {
		return nil, errors.NewHostError(errors.UNAUTHORIZED, "missing submission", nil)
	}
	if err := signed.Signer.Validate(); err != nil {
		return nil, err
	}
	now := a.now()
	if !signed.ExpiresAt.After(now) {
		return nil, errors.NewHostError(errors.UNAUTHORIZED, "submission expired", nil).
			With("signer", string(signed.Signer))
	}
	if !a.limiter.allow(string(signed.Signer), now) {
		return nil, errors.NewHostError(errors.RATE_LIMITED, "too many submissions", nil).
			With("signer", string(signed.Signer))
	}

	ok, err := crypto.VerifySignature(string(signed.Signer), signed.SigningPayload(), signed.Signature)
	if err != nil {
		return nil, errors.NewHostError(errors.UNAUTHORIZED, "signature check failed", err)
	}
	if !ok {
		return nil, errors.NewHostError(errors.UNAUTHORIZED, "invalid signature", nil).
			With("signer", string(signed.Signer))
	}

	fresh, err := a.nonces.Use(ctx, signed.Nonce, signed.ExpiresAt)
	if err != nil {
		return nil, errors.NewHostError(errors.STORE_ERROR, "failed to record nonce", err)
	}
	if !fresh {
		return nil, errors.NewHostError(errors.UNAUTHORIZED, "nonce already used", nil).
			With("signer", string(signed.Signer))
	}

	return liquidstake.DecodeOperation(signed.Operation)
}
