package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/stellar/go/keypair"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/host"
	"github.com/marwen-abid/liquidstake-go/relay"
	"github.com/marwen-abid/liquidstake-go/settlement"
	"github.com/marwen-abid/liquidstake-go/store/memory"
)

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "run a scripted stake and swap scenario on an in-memory network",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "home", Value: "stake-chain", Usage: "home chain id"},
			&cli.StringFlag{Name: "user-chain", Value: "user-chain", Usage: "chain the user submits from"},
			&cli.StringFlag{Name: "reserve", Value: "100", Usage: "initial custody supply of each token"},
			&cli.StringFlag{Name: "stake", Value: "10", Usage: "native amount staked for each token"},
			&cli.StringFlag{Name: "swap", Value: "5", Usage: "amount used for the token stake and the swap"},
		},
		Action: runSimulate,
	}
}

type simulation struct {
	ctx   context.Context
	net   *host.Network
	relay *relay.Relay
	home  liquidstake.ChainID
	chain liquidstake.ChainID
	user  liquidstake.Owner
	out   io.Writer
}

func runSimulate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	var amounts [3]liquidstake.Amount
	for i, name := range []string{"reserve", "stake", "swap"} {
		if amounts[i], err = liquidstake.ParseAmount(c.String(name)); err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
	}
	supply, stake, swap := amounts[0], amounts[1], amounts[2]

	ctx := c.Context
	tracker := settlement.NewTracker(memory.NewSettlementStore(), settlement.NewHookRegistry())
	tracker.Hooks().On(settlement.HookFailed, func(s *liquidstake.Settlement) {
		log.Warn("settlement failed", zap.String("id", s.ID), zap.String("reason", s.Reason))
	})

	protocol := liquidstake.TokenID(cfg.Network.ProtocolToken)
	net, err := host.New(ctx, host.Config{
		Name:       cfg.Network.Name,
		HomeChain:  liquidstake.ChainID(c.String("home")),
		Parameters: liquidstake.Parameters{ProtocolToken: protocol},
	}, host.WithTracker(tracker))
	if err != nil {
		return err
	}
	defer net.Close()

	s := &simulation{
		ctx:   ctx,
		net:   net,
		relay: relay.New(net),
		home:  net.HomeChain(),
		chain: liquidstake.ChainID(c.String("user-chain")),
		user:  liquidstake.Owner(keypair.MustRandom().Address()),
		out:   c.App.Writer,
	}
	if _, err := net.AddChain(s.chain); err != nil {
		return err
	}

	foo, bar := liquidstake.TokenID("FOO"), liquidstake.TokenID("BAR")
	custody := liquidstake.Account{Chain: s.home, Owner: net.ApplicationOwner()}
	for _, token := range []liquidstake.TokenID{protocol, foo, bar} {
		if err := net.RegisterToken(token); err != nil {
			return err
		}
		if err := net.Mint(token, custody, supply); err != nil {
			return err
		}
	}
	native, err := stake.CheckedAdd(stake)
	if err != nil {
		return err
	}
	if err := net.FundNative(liquidstake.Account{Chain: s.chain, Owner: s.user}, native); err != nil {
		return err
	}
	for _, token := range []liquidstake.TokenID{foo, bar} {
		if err := net.Execute(ctx, s.home, net.ApplicationOwner(), liquidstake.NewLst{TokenID: token}); err != nil {
			return err
		}
	}

	tokens := []liquidstake.TokenID{protocol, foo, bar}
	s.report("initial", tokens)

	steps := []struct {
		name string
		op   liquidstake.Operation
	}{
		{"stake native for FOO", liquidstake.StakeNative{User: s.user, Amount: stake, LstTypeOut: foo}},
		{"stake native for BAR", liquidstake.StakeNative{User: s.user, Amount: stake, LstTypeOut: bar}},
		{"stake FOO for " + string(protocol), liquidstake.StakeLst{User: s.user, Amount: swap, LstTypeIn: foo}},
		{"swap BAR for FOO", liquidstake.Swap{User: s.user, AmountIn: swap, LstTypeIn: bar, LstTypeOut: foo}},
	}
	for _, step := range steps {
		if err := s.run(step.op); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
		s.report(step.name, tokens)
	}

	settlements, err := tracker.List(ctx, liquidstake.SettlementFilters{Owner: s.user})
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "\n%d settlements, %d dead letters\n", len(settlements), len(net.DeadLetters()))
	return nil
}

// run executes op on the user chain and relays until nothing is pending.
func (s *simulation) run(op liquidstake.Operation) error {
	if err := s.net.Execute(s.ctx, s.chain, s.user, op); err != nil {
		return err
	}
	for {
		n, err := s.relay.Tick(s.ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
	}
}

func (s *simulation) report(title string, tokens []liquidstake.TokenID) {
	fmt.Fprintf(s.out, "\n== %s\n", title)
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "asset\tuser\treserve")
	native, _ := s.net.Balance(host.NativeAsset, liquidstake.Account{Chain: s.chain, Owner: s.user})
	nativeReserve, _ := s.net.Balance(host.NativeAsset, liquidstake.Account{Chain: s.home, Owner: s.net.ApplicationOwner()})
	fmt.Fprintf(w, "native\t%s\t%s\n", native, nativeReserve)
	for _, token := range tokens {
		user, _ := s.net.Balance(host.TokenAsset(token), liquidstake.Account{Chain: s.chain, Owner: s.user})
		reserve, _ := s.net.Balance(host.TokenAsset(token), liquidstake.Account{Chain: s.home, Owner: s.net.ApplicationOwner()})
		fmt.Fprintf(w, "%s\t%s\t%s\n", token, user, reserve)
	}
	w.Flush()
}
