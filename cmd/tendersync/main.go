package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"TenderSync/internal/app"
	"TenderSync/internal/config"
	"TenderSync/internal/domain"
	"TenderSync/internal/infrastructure/storage"
	"TenderSync/internal/logging"
)

func main() {
	var configFile string
	var cmdRoot = &cobra.Command{
		Use:           "tendersync",
		Short:         "Synchronize UK public tenders into a local store",
		SilenceErrors: true,
	}
	cmdRoot.PersistentFlags().StringVarP(&configFile, "config", "c", "", "load configuration from file (defaults to $TENDERSYNC_CONFIG)")

	cmdRoot.AddCommand(cmdSync(&configFile))
	cmdRoot.AddCommand(cmdServe(&configFile))
	cmdRoot.AddCommand(cmdMigrate(&configFile))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmdRoot.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tendersync:", err)
		stop()
		os.Exit(1)
	}
}

func cmdSync(configFile *string) *cobra.Command {
	var (
		opts domain.SyncOptions
		days int
	)
	var cmd = &cobra.Command{
		Use:          "sync",
		Short:        "run one synchronization against the tender source",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configFile)
			if err != nil {
				return err
			}
			opts.WindowDays = domain.Days(cfg.Sync.WindowDays)
			if cmd.Flags().Changed("days") {
				opts.WindowDays = domain.Days(days)
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			summary, err := application.Sync(cmd.Context(), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: fetched %d, inserted %d, updated %d, skipped %d\n",
				summary.RunID, summary.Fetched, summary.Inserted, summary.Updated, summary.Skipped)
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "incremental window in days (0 syncs from now)")
	cmd.Flags().BoolVar(&opts.FullSync, "full", opts.FullSync, "ignore the window and fetch every release")
	cmd.Flags().IntVar(&opts.Limit, "limit", opts.Limit, "stop after this many records (0 for no limit)")
	return cmd
}

func cmdServe(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:          "serve",
		Short:        "serve the HTTP API and run scheduled syncs",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configFile)
			if err != nil {
				return err
			}

			application, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer application.Close()

			if err := application.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func cmdMigrate(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:          "migrate",
		Short:        "apply database schema migrations",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(*configFile)
			if err != nil {
				return err
			}
			return storage.Migrate(cfg.Database, logger.With("component", "migrate"))
		},
	}
}

func load(configFile string) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.New(cfg.Logging), nil
}
