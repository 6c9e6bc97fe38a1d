// Package toml publishes a stellar.toml (SEP-1) describing the custody
// account of a liquid-staking network and the Stellar assets it accepts.
package toml

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	liquidstake "github.com/marwen-abid/liquidstake-go"
)

// WellKnownPath is where SEP-1 clients look for the file.
const WellKnownPath = "/.well-known/stellar.toml"

// NetworkInfo is what the published file advertises.
type NetworkInfo struct {
	// NetworkPassphrase identifies the Stellar network the custody account lives on.
	NetworkPassphrase string

	// Accounts are the custody accounts operated by the network.
	Accounts []liquidstake.Owner

	// Currencies are the accepted tokens. Only CODE:ISSUER tokens are
	// Stellar assets; other token ids are skipped when rendering.
	Currencies []liquidstake.TokenID

	// Description is written to DOCUMENTATION.ORG_DESCRIPTION when set.
	Description string
}

// Source returns the current NetworkInfo.
type Source func(ctx context.Context) (*NetworkInfo, error)

type Publisher struct {
	source Source
}

func NewPublisher(source Source) *Publisher {
	return &Publisher{source: source}
}

// Render formats info as stellar.toml.
func Render(info *NetworkInfo) string {
	var b strings.Builder

	if info.NetworkPassphrase != "" {
		fmt.Fprintf(&b, "NETWORK_PASSPHRASE=%q\n", info.NetworkPassphrase)
	}
	if len(info.Accounts) > 0 {
		quoted := make([]string, 0, len(info.Accounts))
		for _, a := range info.Accounts {
			quoted = append(quoted, fmt.Sprintf("%q", a))
		}
		fmt.Fprintf(&b, "ACCOUNTS=[%s]\n", strings.Join(quoted, ", "))
	}
	if info.Description != "" {
		b.WriteString("\n[DOCUMENTATION]\n")
		fmt.Fprintf(&b, "ORG_DESCRIPTION=%q\n", info.Description)
	}

	for _, token := range info.Currencies {
		code, issuer, ok := strings.Cut(string(token), ":")
		if !ok || code == "" || issuer == "" {
			continue
		}
		b.WriteString("\n[[CURRENCIES]]\n")
		fmt.Fprintf(&b, "code=%q\n", code)
		fmt.Fprintf(&b, "issuer=%q\n", issuer)
		b.WriteString("status=\"live\"\n")
		b.WriteString("display_decimals=7\n")
	}

	return b.String()
}

func (p *Publisher) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := p.source(r.Context())
		if err != nil {
			http.Error(w, "stellar.toml unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(Render(info)))
	}
}
