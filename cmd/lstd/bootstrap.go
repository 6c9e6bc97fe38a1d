package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/config"
	"github.com/marwen-abid/liquidstake-go/custody/stellar"
	"github.com/marwen-abid/liquidstake-go/engine"
	"github.com/marwen-abid/liquidstake-go/host"
	"github.com/marwen-abid/liquidstake-go/metrics"
	"github.com/marwen-abid/liquidstake-go/query"
	"github.com/marwen-abid/liquidstake-go/relay"
	"github.com/marwen-abid/liquidstake-go/settlement"
	"github.com/marwen-abid/liquidstake-go/store/leveldb"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

// loadConfig reads and validates the file named by --config.
func loadConfig(c *cli.Context) (config.Config, error) {
	return config.LoadFromPath(c.String("config"))
}

// newLogger builds the process logger and hands it to every package that logs.
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if cfg.Development() {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	log, err := zc.Build()
	if err != nil {
		return nil, err
	}

	engine.SetLogger(log.Named("engine"))
	host.SetLogger(log.Named("host"))
	query.SetLogger(log.Named("query"))
	relay.SetLogger(log.Named("relay"))
	stellar.SetLogger(log.Named("stellar"))
	return log, nil
}

// daemon is a running network plus everything that must be closed with it.
type daemon struct {
	net      *host.Network
	recorder *metrics.Recorder
	closers  []func() error
}

func (d *daemon) Close() error {
	var first error
	if d.net != nil {
		first = d.net.Close()
	}
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openDaemon creates the network described by cfg and seeds its balances.
func openDaemon(ctx context.Context, cfg config.Config, log *zap.Logger) (*daemon, error) {
	d := &daemon{recorder: metrics.New()}

	storage, closeStorage, err := storageFactory(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if closeStorage != nil {
		d.closers = append(d.closers, closeStorage)
	}

	tracker := settlement.NewTracker(memory.NewSettlementStore(), settlement.NewHookRegistry())
	d.recorder.Attach(tracker.Hooks())

	var authOpts []host.AuthorizerOption
	if cfg.Auth.SubmissionRPS > 0 {
		authOpts = append(authOpts, host.WithSubmissionLimit(cfg.Auth.SubmissionRPS, cfg.Auth.SubmissionBurst))
	}

	opts := []host.Option{
		host.WithStorage(storage),
		host.WithTracker(tracker),
		host.WithObserver(d.recorder),
		host.WithAuthorizer(host.NewAuthorizer(authOpts...)),
	}
	if cfg.Custody.Driver == config.CustodyStellar {
		client, err := horizonClient(cfg)
		if err != nil {
			d.Close()
			return nil, err
		}
		svc, err := custodyService(cfg, client)
		if err != nil {
			d.Close()
			return nil, err
		}
		opts = append(opts, host.WithTokenService(svc))
		log.Info("custody on stellar", zap.String("horizon", cfg.Stellar.HorizonURL))
	}

	net, err := host.New(ctx, host.Config{
		Name:       cfg.Network.Name,
		HomeChain:  liquidstake.ChainID(cfg.Network.HomeChain),
		Parameters: cfg.Parameters(),
	}, opts...)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.net = net

	if cfg.Storage.Driver == config.StorageLevelDB {
		var owners int
		err := net.View(ctx, net.HomeChain(), func(e *engine.Engine) error {
			owners = len(e.Ledger().Owners())
			return nil
		})
		if err != nil {
			d.Close()
			return nil, err
		}
		if owners > 0 {
			log.Warn("restored stake ledger from disk; token and native balances and undelivered messages are not persisted and are seeded again from config",
				zap.String("dir", cfg.Storage.Dir),
				zap.Int("ledger_owners", owners))
		}
	}

	if err := seed(ctx, net, cfg); err != nil {
		d.Close()
		return nil, err
	}

	log.Info("network ready",
		zap.String("home", string(net.HomeChain())),
		zap.Int("chains", len(net.Chains())),
		zap.Int("tokens", len(net.Tokens())),
		zap.String("custody", string(net.ApplicationOwner())))
	return d, nil
}

// storageFactory returns how chain stores are opened and, for leveldb, a
// function closing the shared database.
func storageFactory(cfg config.StorageConfig) (host.StorageFactory, func() error, error) {
	switch cfg.Driver {
	case config.StorageLevelDB:
		var opts []leveldb.Option
		if cfg.Sync != nil {
			opts = append(opts, leveldb.WithSync(*cfg.Sync))
		}
		db, err := leveldb.Open(filepath.Join(cfg.Dir, "state"), opts...)
		if err != nil {
			return nil, nil, err
		}
		factory := func(chain liquidstake.ChainID) (liquidstake.KVStore, error) {
			return db.Namespace(string(chain)), nil
		}
		return factory, db.Close, nil
	default:
		factory := func(liquidstake.ChainID) (liquidstake.KVStore, error) {
			return memory.NewKVStore(), nil
		}
		return factory, nil, nil
	}
}

// seed adds the configured chains, creates token services with their initial
// balances, funds native balances and approves tokens on the home chain.
func seed(ctx context.Context, net *host.Network, cfg config.Config) error {
	for _, chain := range cfg.ChainIDs() {
		if chain == net.HomeChain() {
			continue
		}
		if _, err := net.AddChain(chain); err != nil {
			return err
		}
	}

	owner := func(s string) liquidstake.Owner {
		if s == config.CustodyOwner {
			return net.ApplicationOwner()
		}
		return liquidstake.Owner(s)
	}

	for _, tc := range cfg.Tokens {
		token := liquidstake.TokenID(tc.ID)
		if err := net.RegisterToken(token); err != nil {
			return err
		}
		for _, b := range tc.Balances {
			account := liquidstake.Account{Chain: liquidstake.ChainID(b.Chain), Owner: owner(b.Owner)}
			if err := net.Mint(token, account, b.Amount); err != nil {
				return fmt.Errorf("mint %s to %s: %w", token, account, err)
			}
		}
	}
	for _, b := range cfg.Native {
		account := liquidstake.Account{Chain: liquidstake.ChainID(b.Chain), Owner: owner(b.Owner)}
		if err := net.FundNative(account, b.Amount); err != nil {
			return fmt.Errorf("fund %s: %w", account, err)
		}
	}

	registrar := net.Parameters().Admin
	if registrar == "" {
		registrar = net.ApplicationOwner()
	}
	for _, tc := range cfg.Tokens {
		if !tc.Approve {
			continue
		}
		op := liquidstake.NewLst{TokenID: liquidstake.TokenID(tc.ID)}
		if err := net.Execute(ctx, net.HomeChain(), registrar, op); err != nil {
			return fmt.Errorf("approve %s: %w", tc.ID, err)
		}
	}
	return nil
}

// newRelay configures message delivery from cfg.
func newRelay(net *host.Network, cfg config.RelayConfig) *relay.Relay {
	opts := []relay.Option{
		relay.WithInterval(cfg.Interval),
		relay.WithBackoff(cfg.BackoffInitial, cfg.BackoffMax),
	}
	if cfg.RPS > 0 {
		opts = append(opts, relay.WithRateLimit(cfg.RPS, cfg.Burst))
	}
	return relay.New(net, opts...)
}
