// Package cli wires configuration, storage and the crawler into commands.
package cli

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/bryan-buckman/infovore/internal/config"
	"github.com/bryan-buckman/infovore/internal/crawler"
	"github.com/bryan-buckman/infovore/internal/database"
	"github.com/bryan-buckman/infovore/internal/enrich"
	"github.com/bryan-buckman/infovore/internal/logging"
	"github.com/bryan-buckman/infovore/internal/metrics"
	"github.com/bryan-buckman/infovore/internal/schedule"
	"github.com/spf13/cobra"
)

var version = "dev"

type rootFlags struct {
	configPath string
	verbose    bool
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:   "infovore",
		Short: "Adaptive RSS/Atom crawler",
		Long: `infovore refreshes feed subscriptions on a cadence learned from how often
each source actually publishes, stores new articles, and serves them over HTTP.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		serveCmd(flags),
		crawlCmd(flags),
		onceCmd(flags),
		importCmd(flags),
		exportCmd(flags),
	)
	return root
}

// app holds what every command needs.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   database.Store
	metrics *metrics.Metrics
	crawler *crawler.Crawler
}

func newApp(flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flags.verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	slog.SetDefault(logger)

	store, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	logger.Info("database opened", "type", store.DatabaseType())

	m := metrics.New()
	opts := []crawler.Option{crawler.WithLogger(logger), crawler.WithMetrics(m)}
	if cfg.Enrich.Endpoint != "" {
		opts = append(opts, crawler.WithEnricher(enrich.NewClient(cfg.Enrich.Endpoint, cfg.Enrich.Timeout, logger)))
	}
	c := crawler.New(store, crawlerOptions(cfg), opts...)

	return &app{cfg: cfg, logger: logger, store: store, metrics: m, crawler: c}, nil
}

func crawlerOptions(cfg *config.Config) crawler.Options {
	return crawler.Options{
		Concurrency:    cfg.Crawler.Concurrency,
		ExpectedCycles: cfg.Crawler.ExpectedCycles,
		FetchTimeout:   cfg.Crawler.FetchTimeout,
		FetchRetries:   cfg.Crawler.FetchRetries,
		UserAgent:      cfg.Crawler.UserAgent,
		Proxy:          cfg.Crawler.Proxy,
		Retention:      cfg.Crawler.Retention(),
		Schedule: schedule.Options{
			Window:           cfg.Crawler.Window,
			InitialFrequency: cfg.Crawler.InitialFrequency,
		},
	}
}

func pollerOptions(cfg *config.Config) crawler.PollerOptions {
	return crawler.PollerOptions{MinSleep: cfg.Poller.MinSleep, MaxSleep: cfg.Poller.MaxSleep}
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("closing database", "error", err)
	}
}

func formatReport(r crawler.Report) string {
	return fmt.Sprintf("selected %d, succeeded %d, failed %d, productive %d, new %d, updated %d, refitted %d in %s",
		r.Selected, r.Succeeded, r.Failed, r.Productive, r.Inserted, r.Updated, r.Refitted,
		r.Duration.Round(time.Millisecond))
}
