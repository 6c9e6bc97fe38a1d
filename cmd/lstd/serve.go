package main

import (
	"context"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	liquidstake "github.com/marwen-abid/liquidstake-go"
	"github.com/marwen-abid/liquidstake-go/core/toml"
	"github.com/marwen-abid/liquidstake-go/query"
	"github.com/marwen-abid/liquidstake-go/relay"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the network, the relay and the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "listen address, overrides http.addr",
			},
			&cli.BoolFlag{
				Name:  "read-only",
				Usage: "do not accept operations at POST /operations",
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if addr := c.String("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	ctx := c.Context
	d, err := openDaemon(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := d.Close(); err != nil {
			log.Warn("close failed", zap.Error(err))
		}
	}()

	rl := newRelay(d.net, cfg.Relay)
	rl.OnDelivered(func(evt relay.Event) error {
		log.Warn("message rejected by destination",
			zap.String("route", evt.Route.String()),
			zap.String("message_id", evt.MessageID),
			zap.String("kind", string(evt.Kind)),
			zap.Error(evt.Err))
		return nil
	}, relay.MessagesOnly(), relay.Failed())

	var submit query.Submitter
	if !c.Bool("read-only") {
		submit = d.net
	}
	reporter := query.NewReporter(d.net)
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.recorder.Handler())
	mux.Handle(toml.WellKnownPath, toml.NewPublisher(func(ctx context.Context) (*toml.NetworkInfo, error) {
		status, err := reporter.Status(ctx)
		if err != nil {
			return nil, err
		}
		return &toml.NetworkInfo{
			NetworkPassphrase: cfg.Stellar.NetworkPassphrase,
			Accounts:          []liquidstake.Owner{status.Application},
			Currencies:        status.Tokens,
			Description:       "liquid-staking custody for " + cfg.Network.Name,
		}, nil
	}).Handler())
	mux.Handle("/", query.NewHandler(reporter, submit))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		if err := rl.Start(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err = <-errCh:
		log.Error("server stopped", zap.Error(err))
	}

	rl.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := srv.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
