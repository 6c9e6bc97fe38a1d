// Package crypto holds the signing primitives shared by hosts and clients:
// submission nonces, Stellar ed25519 signature checks and derived identities.
package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/stellar/go/keypair"
)

// GenerateNonce generates a cryptographically secure random nonce and returns it as a base64-encoded string.
// The length parameter specifies the number of random bytes to generate.
func GenerateNonce(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("nonce length must be positive, got %d", length)
	}

	nonce := make([]byte, length)
	_, err := rand.Read(nonce)
	if err != nil {
		return "", fmt.Errorf("failed to generate random nonce: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(nonce), nil
}

// VerifySignature verifies a Stellar signature over message using the given public key (G...).
// It returns true if the signature is valid and false if it is not; an error
// means the public key itself could not be parsed.
func VerifySignature(publicKey string, message, signature []byte) (bool, error) {
	kp, err := keypair.ParseAddress(publicKey)
	if err != nil {
		return false, fmt.Errorf("failed to parse public key: %w", err)
	}

	if err := kp.Verify(message, signature); err != nil {
		return false, nil
	}
	return true, nil
}

// HashSHA256 computes the SHA256 hash of the provided data and returns it as a byte slice.
func HashSHA256(data []byte) []byte {
	hash := sha256.Sum256(data)
	return hash[:]
}

// DeriveKeypair returns the deterministic keypair for a named identity.
// The same name always yields the same address.
func DeriveKeypair(name string) (*keypair.Full, error) {
	var seed [32]byte
	copy(seed[:], HashSHA256([]byte("liquidstake:"+name)))
	return keypair.FromRawSeed(seed)
}
