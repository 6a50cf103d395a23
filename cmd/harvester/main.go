// Package main provides the harvester binary entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwygoda/harvester/internal/adapter/candidates"
	httpAdapter "github.com/cwygoda/harvester/internal/adapter/http"
	"github.com/cwygoda/harvester/internal/config"
	"github.com/cwygoda/harvester/internal/domain"
	"github.com/cwygoda/harvester/internal/metrics"
	"github.com/cwygoda/harvester/internal/worker"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "harvester"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Bulk HTML ingester",
		Long: `Harvester fetches a ranked list of hosts under a concurrency bound and
stores each HTML page once, skipping addresses already in the store.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (TOML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	load := func(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		logger := newLogger(cfg.LogLevel)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	cmd.AddCommand(runCmd(load), pendingCmd(load))
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

type loader func(cmd *cobra.Command) (*config.Config, *slog.Logger, error)

// runFlags mirror config keys; only flags set on the command line override.
type runFlags struct {
	candidates  string
	driver      string
	dsn         string
	db          string
	table       string
	metricsFile string
	concurrency int
	batchSize   int
	queueSize   int
	timeout     time.Duration
	idleFlush   time.Duration
}

func runCmd(load loader) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch and store every candidate not yet stored",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load(cmd)
			if err != nil {
				return err
			}
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.candidates, "candidates", "", "Candidate CSV path")
	fl.StringVar(&f.driver, "driver", "", "Store driver (sqlite, postgres, mysql)")
	fl.StringVar(&f.dsn, "dsn", "", "Store DSN for postgres/mysql")
	fl.StringVar(&f.db, "db", "", "SQLite database path")
	fl.StringVar(&f.table, "table", "", "Page table name")
	fl.StringVar(&f.metricsFile, "metrics-file", "", "Write Prometheus textfile metrics here on exit")
	fl.IntVar(&f.concurrency, "concurrency", 0, "Maximum in-flight fetches")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Rows per flush")
	fl.IntVar(&f.queueSize, "queue-size", 0, "Result queue capacity")
	fl.DurationVar(&f.timeout, "timeout", 0, "Per-request timeout")
	fl.DurationVar(&f.idleFlush, "idle-flush", 0, "Flush a partial batch after this long without a new result")

	return cmd
}

func (f *runFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	fl := cmd.Flags()
	if fl.Changed("candidates") {
		cfg.Candidates = config.ExpandPath(f.candidates)
	}
	if fl.Changed("driver") {
		cfg.Store.Driver = f.driver
	}
	if fl.Changed("dsn") {
		cfg.Store.DSN = f.dsn
	}
	if fl.Changed("db") {
		cfg.Store.Path = config.ExpandPath(f.db)
	}
	if fl.Changed("table") {
		cfg.Store.Table = f.table
	}
	if fl.Changed("metrics-file") {
		cfg.MetricsFile = config.ExpandPath(f.metricsFile)
	}
	if fl.Changed("concurrency") {
		cfg.Fetch.Concurrency = f.concurrency
	}
	if fl.Changed("batch-size") {
		cfg.Writer.BatchSize = f.batchSize
		if !fl.Changed("queue-size") {
			cfg.Writer.QueueSize = 2 * f.batchSize
		}
	}
	if fl.Changed("queue-size") {
		cfg.Writer.QueueSize = f.queueSize
	}
	if fl.Changed("timeout") {
		cfg.Fetch.Timeout = f.timeout
	}
	if fl.Changed("idle-flush") {
		cfg.Writer.IdleFlush = f.idleFlush
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	addrs, err := candidates.Load(cfg.Candidates, cfg.Fetch.Scheme)
	if err != nil {
		return err
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%w in %s", domain.ErrNoCandidates, cfg.Candidates)
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	}
	defer store.Close()

	logger.Info("starting harvester",
		"version", Version,
		"candidates", len(addrs),
		"store", cfg.Store.Driver,
		"concurrency", cfg.Fetch.Concurrency,
		"batch_size", cfg.Writer.BatchSize,
	)

	rec := metrics.New()
	fetcher := httpAdapter.NewFetcher(httpAdapter.Options{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		VerifyTLS:    cfg.Fetch.VerifyTLS,
		MaxIdleConns: cfg.Fetch.Concurrency,
	})
	sched := worker.NewScheduler(fetcher, buildProfiles(cfg), worker.SchedulerConfig{
		Concurrency: cfg.Fetch.Concurrency,
		JitterMin:   cfg.Fetch.JitterMin,
		JitterMax:   cfg.Fetch.JitterMax,
	}, rec, logger)
	coord := worker.NewCoordinator(store, sched, worker.Options{
		QueueSize: cfg.Writer.QueueSize,
		Writer: worker.WriterConfig{
			BatchSize: cfg.Writer.BatchSize,
			IdleFlush: cfg.Writer.IdleFlush,
		},
	}, rec, logger)

	summary, runErr := coord.Run(ctx, addrs)

	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics textfile", "path", cfg.MetricsFile, "err", err)
		}
	}

	if errors.Is(runErr, context.Canceled) {
		logger.Warn("run interrupted; queued results were flushed")
		runErr = nil
	}
	if runErr != nil {
		return runErr
	}

	printSummary(summary)
	return nil
}

func printSummary(s domain.RunSummary) {
	fmt.Printf("Scraped %d sites in %.2f seconds (%d stored, %d skipped, %d already known).\n",
		s.Attempted, s.Elapsed.Seconds(), s.Persisted, s.Skipped, s.Known)
	fmt.Printf("Rate: %.2f sites/second.\n", s.Rate())
	if s.Dropped > 0 {
		fmt.Printf("Dropped %d rows in %d failed flushes.\n", s.Dropped, s.FailedFlushes)
	}
}

func pendingCmd(load loader) *cobra.Command {
	var (
		companion string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List stored pages missing from a companion table",
		Long: `Pending prints the addresses of stored pages that have no row in the
companion table, e.g. the vector table filled by the embedding stage.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := load(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			store, err := openStore(ctx, cfg)
			if err != nil {
				return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
			}
			defer store.Close()

			recs, err := domain.NewIngestService(store).Unembedded(ctx, companion, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range recs {
				fmt.Fprintln(out, r.Address)
			}
			slog.Info("pending pages", "companion", companion, "count", len(recs))
			return nil
		},
	}

	cmd.Flags().StringVar(&companion, "companion", "vectors_data", "Companion table keyed by site")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to list (0 for all)")

	return cmd
}

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
