package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"dispatch/internal/config"
)

var (
	configPath string
	debug      bool

	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "dispatch",
	Short:         "Relay upstream activity to chat webhooks",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()

		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded

		level := cfg.Log.Level
		if debug {
			level = "debug"
		}
		logger = newLogger(level, cfg.Log.Format)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd(), runCmd(), seedCmd(), ledgerCmd())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run every enabled pipeline on its schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.Info("Starting bot", "bot", cfg.Bot.Name, "config", configPath)
			if err := config.NewLoader(cfg, logger).Serve(cmd.Context()); err != nil {
				return err
			}
			logger.Info("Bot stopped successfully")
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run one pipeline once and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader := config.NewLoader(cfg, logger)

			backend, err := loader.OpenStorage(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			bot, err := loader.BuildBot(backend)
			if err != nil {
				return err
			}

			p, ok := bot.Pipeline(args[0])
			if !ok {
				return fmt.Errorf("unknown pipeline %q (available: %s)", args[0], strings.Join(bot.Pipelines(), ", "))
			}

			summary, err := p.RunOnce(ctx)
			if summary != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: posted=%d skipped=%d failed=%d (fatal=%d transient=%d) deferred=%d\n",
					summary.Pipeline, summary.Posted, summary.Skipped, summary.Failed(),
					summary.FailedFatal, summary.FailedTransient, summary.Deferred)
			}
			return err
		},
	}
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <pipeline>",
		Short: "Mark everything currently visible as delivered without posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader := config.NewLoader(cfg, logger)

			backend, err := loader.OpenStorage(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			bot, err := loader.BuildBot(backend)
			if err != nil {
				return err
			}

			p, ok := bot.Pipeline(args[0])
			if !ok {
				return fmt.Errorf("unknown pipeline %q", args[0])
			}

			n, err := p.Seed(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: seeded %d items\n", args[0], n)
			return nil
		},
	}
}

func ledgerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ledger <key>...",
		Short: "Show whether items are recorded as delivered or rejected",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			loader := config.NewLoader(cfg, logger)

			backend, err := loader.OpenStorage(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			led := loader.Ledger(backend)
			for _, key := range args {
				status, ok, err := led.Lookup(ctx, key)
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: absent\n", key)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", key, status)
			}
			return nil
		},
	}
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
