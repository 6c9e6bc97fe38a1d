package state

import (
	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// Registry is the set of approved token ids plus the protocol token.
// It only grows: there is no removal.
type Registry struct {
	set      *SetView
	protocol liquidstake.TokenID
}

// Register approves token. Registering an approved token is a no-op.
func (r *Registry) Register(token liquidstake.TokenID) {
	r.set.Insert(string(token))
}

// IsExchangeable reports whether token is the protocol token or registered.
func (r *Registry) IsExchangeable(token liquidstake.TokenID) bool {
	if token == "" {
		return false
	}
	return token == r.protocol || r.set.Contains(string(token))
}

// Protocol returns the protocol token id.
func (r *Registry) Protocol() liquidstake.TokenID {
	return r.protocol
}

// Tokens returns every explicitly registered token id in ascending order.
func (r *Registry) Tokens() []liquidstake.TokenID {
	members := r.set.Members()
	out := make([]liquidstake.TokenID, len(members))
	for i, m := range members {
		out[i] = liquidstake.TokenID(m)
	}
	return out
}
