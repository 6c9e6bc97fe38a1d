// Package config loads lstd configuration from YAML with environment overrides.
package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/errors"
)

// CustodyOwner may be used as a balance owner to mean the engine's own custody account.
const CustodyOwner = "custody"

const (
	StorageMemory  = "memory"
	StorageLevelDB = "leveldb"

	CustodyMemory  = "memory"
	CustodyStellar = "stellar"
)

type Config struct {
	Network NetworkConfig   `yaml:"network"`
	Tokens  []TokenConfig   `yaml:"tokens"`
	Native  []BalanceConfig `yaml:"native"`
	Storage StorageConfig   `yaml:"storage"`
	Custody CustodyConfig   `yaml:"custody"`
	Relay   RelayConfig     `yaml:"relay"`
	Auth    AuthConfig      `yaml:"auth"`
	HTTP    HTTPConfig      `yaml:"http"`
	Log     LogConfig       `yaml:"log"`
	Stellar StellarConfig   `yaml:"stellar"`
}

type NetworkConfig struct {
	Name          string   `yaml:"name"`
	HomeChain     string   `yaml:"homeChain"`
	Chains        []string `yaml:"chains"`
	ProtocolToken string   `yaml:"protocolToken"`
	Admin         string   `yaml:"admin"`
}

// TokenConfig creates a token custody service and its initial balances.
type TokenConfig struct {
	ID       string          `yaml:"id"`
	Approve  bool            `yaml:"approve"`
	Balances []BalanceConfig `yaml:"balances"`
}

type BalanceConfig struct {
	Chain  string             `yaml:"chain"`
	Owner  string             `yaml:"owner"`
	Amount liquidstake.Amount `yaml:"amount"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	Sync   *bool  `yaml:"sync"`
}

// CustodyConfig selects the token custody backend. "memory" keeps token
// balances in the process; "stellar" moves them on the network named by the
// stellar section, with the home chain standing for that network.
type CustodyConfig struct {
	Driver string `yaml:"driver"`
}

type RelayConfig struct {
	Interval       time.Duration `yaml:"interval"`
	BackoffInitial time.Duration `yaml:"backoffInitial"`
	BackoffMax     time.Duration `yaml:"backoffMax"`
	RPS            float64       `yaml:"rps"`
	Burst          int           `yaml:"burst"`
}

type AuthConfig struct {
	SubmissionRPS   float64 `yaml:"submissionRps"`
	SubmissionBurst int     `yaml:"submissionBurst"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development *bool  `yaml:"development"`
}

// StellarConfig points the Horizon custody adapter at a network.
type StellarConfig struct {
	HorizonURL        string `yaml:"horizonUrl"`
	NetworkPassphrase string `yaml:"networkPassphrase"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	return Config{
		Network: NetworkConfig{
			Name:          "lst",
			HomeChain:     "stake-chain",
			ProtocolToken: "PLST",
		},
		Storage: StorageConfig{
			Driver: StorageMemory,
			Dir:    "data",
		},
		Custody: CustodyConfig{Driver: CustodyMemory},
		Relay: RelayConfig{
			Interval:       500 * time.Millisecond,
			BackoffInitial: time.Second,
			BackoffMax:     60 * time.Second,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// LoadFromPath reads configPath, or the first default location that exists
// when configPath is empty, merges it over Default and applies environment
// overrides. An explicit path that cannot be read is an error.
func LoadFromPath(configPath string) (Config, error) {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"lstd.yaml",
			"configs/lstd.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			if configPath != "" {
				return cfg, errors.NewHostError(errors.CONFIG_INVALID, fmt.Sprintf("failed to read %s", path), err)
			}
			continue
		}
		parsed, err := Parse(data)
		if err != nil {
			return cfg, err
		}
		Merge(&cfg, parsed)
		break
	}

	ApplyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Parse decodes a YAML document. Unknown fields are rejected.
func Parse(data []byte) (Config, error) {
	var parsed Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&parsed); err != nil && !stderrors.Is(err, io.EOF) {
		return Config{}, errors.NewHostError(errors.CONFIG_INVALID, "failed to parse config", err)
	}
	return parsed, nil
}

// Merge copies every set field of src over dst.
func Merge(dst *Config, src Config) {
	if src.Network.Name != "" {
		dst.Network.Name = src.Network.Name
	}
	if src.Network.HomeChain != "" {
		dst.Network.HomeChain = src.Network.HomeChain
	}
	if src.Network.Chains != nil {
		dst.Network.Chains = src.Network.Chains
	}
	if src.Network.ProtocolToken != "" {
		dst.Network.ProtocolToken = src.Network.ProtocolToken
	}
	if src.Network.Admin != "" {
		dst.Network.Admin = src.Network.Admin
	}
	if src.Tokens != nil {
		dst.Tokens = src.Tokens
	}
	if src.Native != nil {
		dst.Native = src.Native
	}
	if src.Storage.Driver != "" {
		dst.Storage.Driver = src.Storage.Driver
	}
	if src.Storage.Dir != "" {
		dst.Storage.Dir = src.Storage.Dir
	}
	if src.Storage.Sync != nil {
		dst.Storage.Sync = src.Storage.Sync
	}
	if src.Custody.Driver != "" {
		dst.Custody.Driver = src.Custody.Driver
	}
	if src.Relay.Interval != 0 {
		dst.Relay.Interval = src.Relay.Interval
	}
	if src.Relay.BackoffInitial != 0 {
		dst.Relay.BackoffInitial = src.Relay.BackoffInitial
	}
	if src.Relay.BackoffMax != 0 {
		dst.Relay.BackoffMax = src.Relay.BackoffMax
	}
	if src.Relay.RPS != 0 {
		dst.Relay.RPS = src.Relay.RPS
	}
	if src.Relay.Burst != 0 {
		dst.Relay.Burst = src.Relay.Burst
	}
	if src.Auth.SubmissionRPS != 0 {
		dst.Auth.SubmissionRPS = src.Auth.SubmissionRPS
	}
	if src.Auth.SubmissionBurst != 0 {
		dst.Auth.SubmissionBurst = src.Auth.SubmissionBurst
	}
	if src.HTTP.Addr != "" {
		dst.HTTP.Addr = src.HTTP.Addr
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.Development != nil {
		dst.Log.Development = src.Log.Development
	}
	if src.Stellar.HorizonURL != "" {
		dst.Stellar.HorizonURL = src.Stellar.HorizonURL
	}
	if src.Stellar.NetworkPassphrase != "" {
		dst.Stellar.NetworkPassphrase = src.Stellar.NetworkPassphrase
	}
}

// ApplyEnvOverrides applies LST_* environment variables. Malformed values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("LST_HTTP_ADDR")); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("LST_STORAGE_DRIVER")); v != "" {
		cfg.Storage.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("LST_DATA_DIR")); v != "" {
		cfg.Storage.Dir = v
	}
	if v := strings.TrimSpace(os.Getenv("LST_CUSTODY_DRIVER")); v != "" {
		cfg.Custody.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("LST_LOG_LEVEL")); v != "" {
		cfg.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("LST_HORIZON_URL")); v != "" {
		cfg.Stellar.HorizonURL = v
	}

	raw := strings.TrimSpace(os.Getenv("LST_LOG_DEVELOPMENT"))
	if raw == "" {
		return
	}
	dev, err := strconv.ParseBool(raw)
	if err != nil {
		return
	}
	cfg.Log.Development = &dev
}

// Validate reports the first problem in cfg as a CONFIG_INVALID error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Network.Name) == "" {
		return invalid("network.name is required")
	}
	if strings.TrimSpace(c.Network.HomeChain) == "" {
		return invalid("network.homeChain is required")
	}
	if err := liquidstake.ChainID(c.Network.HomeChain).Validate(); err != nil {
		return errors.NewHostError(errors.CONFIG_INVALID, "invalid network.homeChain", err)
	}
	if err := c.Parameters().Validate(); err != nil {
		return errors.NewHostError(errors.CONFIG_INVALID, "invalid network parameters", err)
	}

	chains := make(map[string]bool, len(c.Network.Chains)+1)
	chains[c.Network.HomeChain] = true
	for _, ch := range c.Network.Chains {
		if strings.TrimSpace(ch) == "" {
			return invalid("network.chains contains an empty id")
		}
		if err := liquidstake.ChainID(ch).Validate(); err != nil {
			return errors.NewHostError(errors.CONFIG_INVALID, "invalid network.chains entry", err)
		}
		chains[ch] = true
	}

	seen := make(map[string]bool, len(c.Tokens))
	for i, tok := range c.Tokens {
		if strings.TrimSpace(tok.ID) == "" {
			return invalid(fmt.Sprintf("tokens[%d].id is required", i))
		}
		if seen[tok.ID] {
			return invalid(fmt.Sprintf("token %q is listed twice", tok.ID))
		}
		seen[tok.ID] = true
		for j, b := range tok.Balances {
			if err := b.validate(chains); err != nil {
				return invalid(fmt.Sprintf("tokens[%d].balances[%d]: %v", i, j, err))
			}
		}
	}
	for i, b := range c.Native {
		if err := b.validate(chains); err != nil {
			return invalid(fmt.Sprintf("native[%d]: %v", i, err))
		}
	}

	switch c.Storage.Driver {
	case StorageMemory:
	case StorageLevelDB:
		if strings.TrimSpace(c.Storage.Dir) == "" {
			return invalid("storage.dir is required for leveldb")
		}
	default:
		return invalid(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
	}

	switch c.Custody.Driver {
	case CustodyMemory:
	case CustodyStellar:
		if strings.TrimSpace(c.Stellar.HorizonURL) == "" {
			return invalid("stellar.horizonUrl is required for stellar custody")
		}
	default:
		return invalid(fmt.Sprintf("unknown custody driver %q", c.Custody.Driver))
	}

	if c.Relay.Interval <= 0 {
		return invalid("relay.interval must be positive")
	}
	if c.Relay.BackoffInitial <= 0 || c.Relay.BackoffMax < c.Relay.BackoffInitial {
		return invalid("relay backoff must satisfy 0 < backoffInitial <= backoffMax")
	}
	if c.Relay.RPS < 0 || c.Relay.Burst < 0 || c.Auth.SubmissionRPS < 0 || c.Auth.SubmissionBurst < 0 {
		return invalid("rate limits must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return errors.NewHostError(errors.CONFIG_INVALID, fmt.Sprintf("invalid log level %q", c.Log.Level), err)
	}
	return nil
}

func (b BalanceConfig) validate(chains map[string]bool) error {
	if !chains[b.Chain] {
		return fmt.Errorf("unknown chain %q", b.Chain)
	}
	if b.Owner != CustodyOwner {
		if err := liquidstake.Owner(b.Owner).Validate(); err != nil {
			return err
		}
	}
	if !b.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	return nil
}

// Parameters returns the engine creation parameters.
func (c Config) Parameters() liquidstake.Parameters {
	return liquidstake.Parameters{
		ProtocolToken: liquidstake.TokenID(c.Network.ProtocolToken),
		Admin:         liquidstake.Owner(c.Network.Admin),
	}
}

// ChainIDs returns the home chain followed by the other configured chains.
func (c Config) ChainIDs() []liquidstake.ChainID {
	out := []liquidstake.ChainID{liquidstake.ChainID(c.Network.HomeChain)}
	for _, ch := range c.Network.Chains {
		if ch != c.Network.HomeChain {
			out = append(out, liquidstake.ChainID(ch))
		}
	}
	return out
}

// Development reports whether a development logger was requested.
func (c Config) Development() bool {
	return c.Log.Development != nil && *c.Log.Development
}

func invalid(msg string) error {
	return errors.NewHostError(errors.CONFIG_INVALID, msg, nil)
}
