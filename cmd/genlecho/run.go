package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/genlecho/internal/channel/bus"
	"github.com/danmuck/genlecho/internal/config"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/observability"
	"github.com/danmuck/genlecho/internal/requester"
	"github.com/danmuck/genlecho/internal/responder"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	var (
		wait  time.Duration
		serve bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run responder and requester in-process over the bus and exchange one echo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDemo(ctx, cmd, opts.cfg, wait, serve)
		},
	}
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "how long to wait for the reply and notification")
	cmd.Flags().BoolVar(&serve, "serve", false, "keep the responder running after the exchange until interrupted")
	return cmd
}

func runDemo(ctx context.Context, cmd *cobra.Command, cfg config.Config, wait time.Duration, serve bool) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsDone := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		go func() { metricsDone <- observability.Serve(ctx, cfg.MetricsAddr, "demo", cfg.CorsOrigins...) }()
	} else {
		metricsDone <- nil
	}

	b := bus.New(bus.Options{MaxMessageSize: cfg.MaxMessageSize})
	defer func() { err = multierr.Append(err, b.Close()) }()

	respConn := b.Dial()
	resp := responder.New(respConn, respConn, responder.Config{
		Service:      cfg.Service,
		Group:        cfg.Group,
		DumpFrames:   cfg.DumpFrames,
		RequestRate:  cfg.RequestRate,
		RequestBurst: cfg.RequestBurst,
	})
	if err := resp.Start(); err != nil {
		return err
	}
	serveDone := make(chan error, 1)
	go func() { serveDone <- resp.Serve() }()

	events, onEvent := eventSink()
	req, err := requester.Connect(b.Dial(), requester.Config{
		Service:    cfg.Service,
		Group:      cfg.Group,
		DumpFrames: cfg.DumpFrames,
		OnEvent:    onEvent,
	})
	if err != nil {
		return multierr.Append(err, resp.Close())
	}
	runDone := make(chan error, 1)
	go func() { runDone <- req.Run() }()

	payload := echo.Payload{Message: cfg.Message, Data: cfg.Data}
	seq, err := req.SendEcho(payload)
	if err == nil {
		var out outcome
		out, err = awaitOutcome(ctx, events, seq, wait)
		if err == nil {
			printOutcome(cmd.OutOrStdout(), payload, out)
		}
	}

	if err == nil && serve {
		log.Info().Msg("run serving until interrupted")
		<-ctx.Done()
	}

	cancel()
	err = multierr.Combine(err, req.Close(), resp.Close(), <-runDone, <-serveDone, <-metricsDone)
	return err
}
