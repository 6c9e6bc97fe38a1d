package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/stellar/go-stellar-sdk/clients/horizonclient"
	"github.com/stellar/go/network"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/config"
	"github.com/marwen-abid/liquidstake-go/core/crypto"
	"github.com/marwen-abid/liquidstake-go/custody/stellar"
	"github.com/marwen-abid/liquidstake-go/errors"
	"github.com/marwen-abid/liquidstake-go/signers"
)

var accountFlag = &cli.StringFlag{
	Name:  "account",
	Usage: "custody account to inspect, defaults to the address derived from network.name",
}

func custodyBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "custody-balance",
		Usage:     "show the Stellar custody reserve of each token",
		ArgsUsage: "[TOKEN...]",
		Flags:     []cli.Flag{accountFlag},
		Action:    runCustodyBalance,
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "stream payments into the Stellar custody account",
		Flags: []cli.Flag{
			accountFlag,
			&cli.StringFlag{
				Name:  "cursor-file",
				Usage: "file the last processed cursor is read from and saved to",
			},
		},
		Action: runWatch,
	}
}

func horizonClient(cfg config.Config) (*horizonclient.Client, error) {
	if cfg.Stellar.HorizonURL == "" {
		return nil, errors.NewHostError(errors.CONFIG_INVALID, "stellar.horizonUrl is required", nil)
	}
	return &horizonclient.Client{
		HorizonURL: cfg.Stellar.HorizonURL,
		HTTP:       &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func networkPassphrase(cfg config.Config) string {
	if cfg.Stellar.NetworkPassphrase != "" {
		return cfg.Stellar.NetworkPassphrase
	}
	return network.TestNetworkPassphrase
}

// custodyService moves home-chain tokens on Stellar, signing as the custody
// account derived from network.name.
func custodyService(cfg config.Config, client horizonclient.ClientInterface) (*stellar.TokenService, error) {
	kp, err := crypto.DeriveKeypair(cfg.Network.Name)
	if err != nil {
		return nil, err
	}
	return stellar.NewTokenService(client, liquidstake.ChainID(cfg.Network.HomeChain), networkPassphrase(cfg),
		stellar.WithSigner(signers.FromKeypair(kp))), nil
}

func custodyAccount(c *cli.Context, cfg config.Config) (liquidstake.Owner, error) {
	if a := c.String("account"); a != "" {
		owner := liquidstake.Owner(a)
		return owner, owner.Validate()
	}
	kp, err := crypto.DeriveKeypair(cfg.Network.Name)
	if err != nil {
		return "", err
	}
	return liquidstake.Owner(kp.Address()), nil
}

func runCustodyBalance(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if _, err := newLogger(cfg); err != nil {
		return err
	}
	client, err := horizonClient(cfg)
	if err != nil {
		return err
	}
	owner, err := custodyAccount(c, cfg)
	if err != nil {
		return err
	}

	chain := liquidstake.ChainID(cfg.Network.HomeChain)
	svc := stellar.NewTokenService(client, chain, networkPassphrase(cfg))

	tokens := []liquidstake.TokenID{stellar.NativeToken}
	if c.NArg() > 0 {
		tokens = tokens[:0]
		for _, arg := range c.Args().Slice() {
			tokens = append(tokens, liquidstake.TokenID(arg))
		}
	} else {
		for _, tc := range cfg.Tokens {
			if strings.Contains(tc.ID, ":") {
				tokens = append(tokens, liquidstake.TokenID(tc.ID))
			}
		}
	}

	fmt.Fprintf(c.App.Writer, "custody %s\n", owner)
	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "token\tbalance")
	for _, token := range tokens {
		bal, err := svc.Balance(c.Context, token, liquidstake.Account{Chain: chain, Owner: owner})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", token, bal)
	}
	return w.Flush()
}

func runWatch(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	client, err := horizonClient(cfg)
	if err != nil {
		return err
	}
	owner, err := custodyAccount(c, cfg)
	if err != nil {
		return err
	}

	var opts []stellar.WatcherOption
	if path := c.String("cursor-file"); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			opts = append(opts, stellar.WithCursor(strings.TrimSpace(string(data))))
		case !os.IsNotExist(err):
			return err
		}
		opts = append(opts, stellar.WithCursorSaver(func(cursor string) error {
			return os.WriteFile(path, []byte(cursor+"\n"), 0o600)
		}))
	}

	watcher := stellar.NewWatcher(client, owner, opts...)
	watcher.OnDeposit(func(d stellar.Deposit) error {
		log.Info("custody deposit",
			zap.String("id", d.ID),
			zap.String("from", string(d.From)),
			zap.String("token", string(d.Token)),
			zap.Stringer("amount", d.Amount),
			zap.String("tx_hash", d.TransactionHash))
		return nil
	})

	log.Info("watching custody account", zap.String("account", string(owner)), zap.String("horizon", cfg.Stellar.HorizonURL))
	err = watcher.Start(c.Context)
	if c.Context.Err() != nil {
		return nil
	}
	return err
}
