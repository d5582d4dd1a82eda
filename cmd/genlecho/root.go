package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/danmuck/genlecho/internal/config"
	"github.com/danmuck/genlecho/internal/logging"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
	logLevel   string
	dumpFrames bool
	cfg        config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var wait time.Duration
	root := &cobra.Command{
		Use:   "genlecho",
		Short: "Echo requests and group notifications over generic netlink",
		Long: `Echo requests and group notifications over generic netlink.

Without a subcommand the configured transport decides: bus runs both sides
in-process, netlink sends one request to the kernel service and keeps
receiving until interrupted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if opts.logLevel != "" && !logging.SetLevel(opts.logLevel) {
				return fmt.Errorf("unknown log level %q", opts.logLevel)
			}
			if cmd.Annotations["config"] == "skip" {
				return nil
			}
			cfg, err := loadConfig(cmd, opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("dump-frames") {
				cfg.DumpFrames = opts.dumpFrames
			}
			opts.cfg = cfg
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			switch opts.cfg.Transport {
			case config.TransportNetlink:
				return runRequest(ctx, cmd, opts.cfg, wait, false)
			default:
				return runDemo(ctx, cmd, opts.cfg, wait, false)
			}
		},
	}
	root.Flags().DurationVar(&wait, "wait", 2*time.Second, "bus transport: how long to wait for the reply and notification")

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a TOML config file")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flags.BoolVar(&opts.dumpFrames, "dump-frames", false, "hex dump every frame at debug level")

	root.AddCommand(newRunCmd(opts), newRequestCmd(opts), newConfigCmd())
	return root
}

// loadConfig layers defaults, the optional file, then the environment.
func loadConfig(cmd *cobra.Command, path string) (config.Config, error) {
	cfg := config.DefaultConfig()
	if path = strings.TrimSpace(path); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else if _, err := os.Stat("genlecho.toml"); err == nil {
		loaded, err := config.Load("genlecho.toml")
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	return config.ApplyEnv(cmd.Context(), cfg, config.DotEnvFile)
}
