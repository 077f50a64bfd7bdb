// Command sakilasync synchronizes the operational rental schema into a
// denormalized analytical schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sakilasync/internal/config"
	"sakilasync/internal/metrics"
	"sakilasync/internal/metrics/datadog"
	"sakilasync/internal/source"
	syncer "sakilasync/internal/sync"
	"sakilasync/internal/validate"
	"sakilasync/internal/warehouse"

	// register all warehouse backends; WAREHOUSE_KIND picks one at runtime.
	_ "sakilasync/internal/warehouse/all"
)

// errValidationFailed signals a data problem already reported on stdout; it
// maps to exit code 1 without a second error message.
var errValidationFailed = errors.New("validation failed")

func main() {
	if err := rootCmd().Execute(); err != nil {
		if !errors.Is(err, errValidationFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:   "sakilasync",
		Short: "Synchronize the rental business schema into a star schema",
		Long: `sakilasync reads the normalized operational database (films, actors,
stores, customers, rentals, payments) and maintains a denormalized star
schema for analytics: dimensions, bridges and facts with stable surrogate
keys. Configuration comes from the environment (see .env support):

  SOURCE_DSN       Postgres DSN of the operational database (required)
  WAREHOUSE_KIND   sqlite | postgres | mssql (default sqlite)
  WAREHOUSE_DSN    analytical backend DSN (default analytics.db)
  METRICS_BACKEND  datadog | none (default none)
  METRICS_TAGS     extra comma-separated metric tags`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		initCmd(&verbose),
		fullLoadCmd(&verbose),
		incrementalCmd(&verbose),
		validateCmd(&verbose),
	)
	return root
}

// app bundles everything an invocation needs. close() must run before the
// process exits so pools drain and buffered metrics flush.
type app struct {
	cfg   config.Config
	log   *zap.SugaredLogger
	src   *source.Repo
	wh    warehouse.Repository
	close func()
}

func setup(ctx context.Context, verbose bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(verbose)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	log := logger.Sugar()

	closeMetrics := setupMetrics(ctx, cfg, log)

	src, err := source.New(ctx, cfg.SourceDSN)
	if err != nil {
		closeMetrics()
		return nil, fmt.Errorf("open source: %w", err)
	}

	wh, err := warehouse.New(ctx, warehouse.Config{Kind: cfg.WarehouseKind, DSN: cfg.WarehouseDSN})
	if err != nil {
		src.Close()
		closeMetrics()
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	return &app{
		cfg: cfg,
		log: log,
		src: src,
		wh:  wh,
		close: func() {
			wh.Close()
			src.Close()
			closeMetrics()
			_ = logger.Sync()
		},
	}, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if verbose {
		zcfg = zap.NewDevelopmentConfig()
	}
	return zcfg.Build()
}

// setupMetrics installs the configured metrics backend and returns its
// shutdown function. Metric failures never abort a sync pass; a backend that
// cannot start is logged and replaced with the nop default.
func setupMetrics(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) func() {
	switch cfg.MetricsBackend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    "sakilasync",
			Tags:       datadog.ParseTagsCSV(cfg.MetricsTags),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Warnw("metrics backend init failed, metrics disabled", "backend", cfg.MetricsBackend, "err", err)
			return func() {}
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Warnw("metrics flush on shutdown failed", "err", err)
			}
		}

	case "", "none":
		return func() {}

	default:
		log.Warnw("unknown metrics backend, metrics disabled", "backend", cfg.MetricsBackend)
		return func() {}
	}
}

func initCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the analytical schema and verify connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *verbose)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.src.Ping(ctx); err != nil {
				return fmt.Errorf("source unreachable: %w", err)
			}
			if err := a.wh.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("create analytical schema: %w", err)
			}
			a.log.Infow("analytical schema ready", "kind", a.cfg.WarehouseKind)
			return nil
		},
	}
}

func fullLoadCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "full-load",
		Short: "Rebuild the analytical schema from the complete source dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *verbose)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.wh.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("create analytical schema: %w", err)
			}
			return syncer.NewEngine(a.src, a.wh, a.log).FullLoad(ctx)
		},
	}
}

func incrementalCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "incremental",
		Short: "Propagate source changes since the last sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *verbose)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.wh.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("create analytical schema: %w", err)
			}
			return syncer.NewEngine(a.src, a.wh, a.log).Incremental(ctx)
		},
	}
}

func validateCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Cross-check the analytical schema against the source",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := setup(ctx, *verbose)
			if err != nil {
				return err
			}
			defer a.close()

			rep, err := validate.New(a.src, a.wh).Run(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, d := range rep.Details {
				fmt.Fprintln(out, "  "+d)
			}
			for _, w := range rep.Warnings {
				fmt.Fprintln(out, "WARNING: "+w)
			}
			for _, e := range rep.Errors {
				fmt.Fprintln(out, "ERROR: "+e)
			}
			fmt.Fprintln(out, "VALIDATION "+rep.Outcome())

			if rep.Failed() {
				return errValidationFailed
			}
			return nil
		},
	}
}
