// Package signers provides convenience constructors for Signer implementations.
//
// It offers two patterns:
//   - FromSecret: wraps a Stellar secret key (S...) using stellar/go keypair.
//     The result signs operation payloads and Stellar transaction envelopes.
//   - FromCallback: wraps an external signing function such as an HSM or a
//     custodial API.
package signers
