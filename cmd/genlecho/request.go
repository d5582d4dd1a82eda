package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/genlecho/internal/channel/netlinkchan"
	"github.com/danmuck/genlecho/internal/config"
	"github.com/danmuck/genlecho/internal/echo"
	"github.com/danmuck/genlecho/internal/observability"
	"github.com/danmuck/genlecho/internal/requester"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

func newRequestCmd(opts *rootOptions) *cobra.Command {
	var (
		wait time.Duration
		once bool
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Send an echo to the kernel service over generic netlink and print what comes back",
		Long: `Send an echo to the kernel service over generic netlink.

The receive loop then prints every reply and group notification until
interrupted. With --once the command exits after the reply to its own request,
waiting at most --wait.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runRequest(ctx, cmd, opts.cfg, wait, once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the reply instead of receiving until interrupted")
	cmd.Flags().DurationVar(&wait, "wait", 2*time.Second, "with --once, how long to wait for the reply and notification")
	return cmd
}

func runRequest(ctx context.Context, cmd *cobra.Command, cfg config.Config, wait time.Duration, once bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	metricsDone := make(chan error, 1)
	if cfg.MetricsAddr != "" {
		go func() { metricsDone <- observability.Serve(ctx, cfg.MetricsAddr, observability.RoleRequester, cfg.CorsOrigins...) }()
	} else {
		metricsDone <- nil
	}

	conn, err := netlinkchan.Dial(netlinkchan.Options{MaxMessageSize: cfg.MaxMessageSize})
	if err != nil {
		cancel()
		return multierr.Append(err, <-metricsDone)
	}
	events, onEvent := eventSink()
	req, err := requester.Connect(conn, requester.Config{
		Service:    cfg.Service,
		Group:      cfg.Group,
		DumpFrames: cfg.DumpFrames,
		OnEvent:    onEvent,
	})
	if err != nil {
		cancel()
		return multierr.Combine(err, conn.Close(), <-metricsDone)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- req.Run() }()

	payload := echo.Payload{Message: cfg.Message, Data: cfg.Data}
	seq, err := req.SendEcho(payload)
	switch {
	case err != nil:
	case once:
		var out outcome
		out, err = awaitOutcome(ctx, events, seq, wait)
		if err == nil {
			printOutcome(cmd.OutOrStdout(), payload, out)
		}
	default:
		printSent(cmd.OutOrStdout(), payload)
		err = streamEvents(ctx, cmd.OutOrStdout(), events)
	}

	cancel()
	return multierr.Combine(err, req.Close(), <-runDone, <-metricsDone)
}
