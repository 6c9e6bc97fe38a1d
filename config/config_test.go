package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stellar/go/keypair"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lstd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromPathMergesOverDefaults(t *testing.T) {
	user := keypair.MustRandom().Address()
	path := writeConfig(t, `
network:
  name: demo
  chains: [user-chain]
tokens:
  - id: FOO
    approve: true
    balances:
      - chain: stake-chain
        owner: custody
        amount: "100"
native:
  - chain: user-chain
    owner: `+user+`
    amount: 25.5
relay:
  interval: 50ms
`)

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Network.Name)
	assert.Equal(t, "stake-chain", cfg.Network.HomeChain, "default kept")
	assert.Equal(t, "PLST", cfg.Network.ProtocolToken)
	assert.Equal(t, []liquidstake.ChainID{"stake-chain", "user-chain"}, cfg.ChainIDs())
	require.Len(t, cfg.Tokens, 1)
	assert.True(t, cfg.Tokens[0].Approve)
	assert.Equal(t, liquidstake.FromTokens(100), cfg.Tokens[0].Balances[0].Amount)
	assert.Equal(t, liquidstake.MustParseAmount("25.5"), cfg.Native[0].Amount)
	assert.Equal(t, 50*time.Millisecond, cfg.Relay.Interval)
	assert.Equal(t, time.Second, cfg.Relay.BackoffInitial)
	assert.Equal(t, StorageMemory, cfg.Storage.Driver)
	assert.Equal(t, CustodyMemory, cfg.Custody.Driver)
}

func TestLoadFromPathMissingExplicitFile(t *testing.T) {
	_, err := LoadFromPath(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errors.CONFIG_INVALID, errors.CodeOf(err))
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("network:\n  nmae: typo\n"))
	assert.Equal(t, errors.CONFIG_INVALID, errors.CodeOf(err))
}

func TestParseEmptyDocument(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Config{}, cfg)
}

func TestMergeDoesNotOverwriteWithUnsetFields(t *testing.T) {
	dst := Default()
	dev := true
	dst.Log.Development = &dev

	Merge(&dst, Config{HTTP: HTTPConfig{Addr: ":9000"}})

	assert.Equal(t, ":9000", dst.HTTP.Addr)
	assert.Equal(t, "lst", dst.Network.Name)
	assert.True(t, dst.Development())
	assert.Equal(t, 500*time.Millisecond, dst.Relay.Interval)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("LST_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("LST_STORAGE_DRIVER", StorageLevelDB)
	t.Setenv("LST_DATA_DIR", "/var/lib/lstd")
	t.Setenv("LST_LOG_LEVEL", "debug")
	t.Setenv("LST_LOG_DEVELOPMENT", "not-a-bool")
	t.Setenv("LST_CUSTODY_DRIVER", CustodyStellar)
	t.Setenv("LST_HORIZON_URL", "https://horizon-testnet.stellar.org")

	cfg := Default()
	ApplyEnvOverrides(&cfg)

	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
	assert.Equal(t, StorageLevelDB, cfg.Storage.Driver)
	assert.Equal(t, "/var/lib/lstd", cfg.Storage.Dir)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Development())
	assert.Equal(t, CustodyStellar, cfg.Custody.Driver)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	user := keypair.MustRandom().Address()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Network.Name = "" }},
		{"missing protocol token", func(c *Config) { c.Network.ProtocolToken = "" }},
		{"bad admin", func(c *Config) { c.Network.Admin = "not-an-address" }},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "postgres" }},
		{"leveldb without dir", func(c *Config) { c.Storage.Driver = StorageLevelDB; c.Storage.Dir = "" }},
		{"backoff inverted", func(c *Config) { c.Relay.BackoffMax = time.Millisecond }},
		{"separator in home chain", func(c *Config) { c.Network.HomeChain = "a|s/" }},
		{"separator in chain", func(c *Config) { c.Network.Chains = []string{"user|chain"} }},
		{"unknown custody", func(c *Config) { c.Custody.Driver = "vault" }},
		{"stellar custody without horizon", func(c *Config) { c.Custody.Driver = CustodyStellar }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"duplicate token", func(c *Config) { c.Tokens = []TokenConfig{{ID: "FOO"}, {ID: "FOO"}} }},
		{"balance on unknown chain", func(c *Config) {
			c.Native = []BalanceConfig{{Chain: "nowhere", Owner: user, Amount: liquidstake.One}}
		}},
		{"balance with bad owner", func(c *Config) {
			c.Native = []BalanceConfig{{Chain: "stake-chain", Owner: "bob", Amount: liquidstake.One}}
		}},
		{"zero balance", func(c *Config) {
			c.Tokens = []TokenConfig{{ID: "FOO", Balances: []BalanceConfig{{Chain: "stake-chain", Owner: CustodyOwner}}}}
		}},
	}

	require.NoError(t, Default().Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			assert.Equal(t, errors.CONFIG_INVALID, errors.CodeOf(err))
		})
	}
}
