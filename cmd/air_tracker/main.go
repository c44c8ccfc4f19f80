// Command air_tracker ingests airports, departures, aircraft and delay
// statistics from AeroDataBox into the relational store.
//
// Usage:
//
//	air_tracker run         [-config FILE] [-seeds DEL,BOM] [-driver postgres|sqlite]
//	air_tracker daemon      [-config FILE] [-interval 15m]
//	air_tracker init-schema [-config FILE]
//	air_tracker report      [-config FILE] NAME
//
// The config file path defaults to $AIR_TRACKER_CONFIG. Credentials and
// connection settings may also be supplied through the environment
// (RAPIDAPI_KEY, POSTGRES_HOST, SQLITE_PATH, NATS_URL, ...).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/config"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/ingest"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/logging"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/metrics"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/report"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

func usage(w io.Writer) {
	fmt.Fprintln(w, "air_tracker - commands:")
	fmt.Fprintln(w, "  run          - run the pipeline once and exit")
	fmt.Fprintln(w, "  daemon       - run the pipeline on an interval and serve /metrics")
	fmt.Fprintln(w, "  init-schema  - create the tables and exit")
	fmt.Fprintln(w, "  report       - print one report as JSON (names: "+reportNames()+")")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  air_tracker run [-config FILE] [-seeds DEL,BOM] [-driver postgres|sqlite]")
	fmt.Fprintln(w, "  air_tracker daemon [-config FILE] [-interval 15m]")
	fmt.Fprintln(w, "  air_tracker init-schema [-config FILE]")
	fmt.Fprintln(w, "  air_tracker report [-config FILE] NAME")
	fmt.Fprintln(w, "")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	cmd := strings.ToLower(os.Args[1])
	switch cmd {
	case "run":
		err = runOnce(ctx, os.Args[2:])
	case "daemon":
		err = runDaemon(ctx, os.Args[2:])
	case "init-schema":
		err = runInitSchema(ctx, os.Args[2:])
	case "report":
		err = runReport(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		usage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage(os.Stderr)
		os.Exit(2)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// commonFlags are shared by every subcommand.
type commonFlags struct {
	configPath *string
	driver     *string
	seeds      *string
}

func newFlagSet(name string) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	return fs, commonFlags{
		configPath: fs.String("config", envOrDefault("AIR_TRACKER_CONFIG", ""), "YAML config file"),
		driver:     fs.String("driver", "", "Storage driver override (postgres or sqlite)"),
		seeds:      fs.String("seeds", "", "Comma-separated IATA seed codes (overrides config)"),
	}
}

func (f commonFlags) load() (*config.Config, error) {
	cfg, err := config.Load(*f.configPath)
	if err != nil {
		return nil, err
	}
	if *f.driver != "" {
		cfg.Storage.Driver = *f.driver
	}
	if *f.seeds != "" {
		cfg.Pipeline.SeedCodes = strings.Split(*f.seeds, ",")
	}
	return cfg, cfg.Validate()
}

// app holds the wired collaborators of one invocation.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	store    storage.Store
	metrics  *metrics.Metrics
	archive  *storage.ClickHouseDB
	events   *events.Publisher
	pipeline *ingest.Pipeline
}

func (a *app) Close() {
	if a.events != nil {
		_ = a.events.Close()
	}
	if a.archive != nil {
		_ = a.archive.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.log.Sync()
}

// newApp opens the store and, when ingesting, the provider client and the
// optional archive and event publisher.
func newApp(ctx context.Context, cfg *config.Config, ingesting bool) (*app, error) {
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, metrics: metrics.New()}

	a.store, err = storage.Open(ctx, cfg.Storage)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", ingest.ErrStoreUnavailable, err)
	}
	if !ingesting {
		return a, nil
	}

	if err := cfg.RequireProviderKey(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.store.CreateSchema(ctx); err != nil {
		a.Close()
		return nil, err
	}

	client := provider.New(cfg.Provider,
		provider.WithLogger(log.Named("provider")),
		provider.WithMetrics(a.metrics),
	)
	deps := ingest.Deps{
		Store:    a.store,
		Provider: client,
		Logger:   log.Named("ingest"),
		Metrics:  a.metrics,
	}

	if cfg.Storage.ClickHouse.Enabled {
		ch, err := storage.OpenClickHouse(ctx, cfg.Storage.ClickHouse)
		if err != nil {
			log.Warn("clickhouse archive disabled", zap.Error(err))
		} else if err := ch.CreateSchema(ctx); err != nil {
			log.Warn("clickhouse archive disabled", zap.Error(err))
			_ = ch.Close()
		} else {
			a.archive = ch
			deps.Archive = ch
		}
	}

	if cfg.NATS.Enabled {
		pub, err := events.Connect(cfg.NATS, log.Named("events"))
		if err != nil {
			log.Warn("stage events disabled", zap.Error(err))
		} else {
			a.events = pub
			deps.Publisher = pub
		}
	}

	a.pipeline = ingest.NewPipeline(deps, cfg.Pipeline.SeedCodes)
	return a, nil
}

func runOnce(ctx context.Context, args []string) error {
	fs, common := newFlagSet("run")
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	sum, err := a.pipeline.Run(ctx)
	logSummary(a.log, sum)
	return err
}

func runDaemon(ctx context.Context, args []string) error {
	fs, common := newFlagSet("daemon")
	interval := fs.Duration("interval", 0, "Time between runs (overrides config)")
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	if *interval > 0 {
		cfg.Pipeline.Interval = *interval
	}
	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Metrics.Address, a.metrics.Handler(), a.log)
		})
	}

	g.Go(func() error {
		return loop(ctx, a.pipeline, cfg.Pipeline.Interval, a.log)
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runner is the part of the pipeline the daemon loop drives.
type runner interface {
	Run(ctx context.Context) (ingest.Summary, error)
}

// loop runs p immediately and then every interval until ctx ends. Rejected
// credentials stop the loop; every other failure waits for the next tick.
func loop(ctx context.Context, p runner, interval time.Duration, log *zap.Logger) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		sum, err := p.Run(ctx)
		logSummary(log, sum)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case provider.Fatal(err):
			return err
		case err != nil:
			log.Error("run aborted, retrying next interval", zap.Error(err), zap.Duration("interval", interval))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func serveMetrics(ctx context.Context, addr string, h http.Handler, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info("metrics listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runInitSchema(ctx context.Context, args []string) error {
	fs, common := newFlagSet("init-schema")
	_ = fs.Parse(args)

	cfg, err := common.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.store.CreateSchema(ctx); err != nil {
		return err
	}
	a.log.Info("schema ready", zap.String("driver", cfg.Storage.Driver))
	return nil
}

func runReport(ctx context.Context, args []string, w io.Writer) error {
	fs, common := newFlagSet("report")
	pretty := fs.Bool("pretty", true, "Pretty-print JSON output")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("report: expected one report name (%s)", reportNames())
	}

	cfg, err := common.load()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	db, dialect := a.store.SQL()
	reports := report.New(db, dialect, thresholds(cfg.Report))
	res, err := reports.Run(ctx, fs.Arg(0))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if *pretty {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func thresholds(c config.ReportConfig) report.Thresholds {
	return report.Thresholds{
		Hub:             c.Hub,
		MinAircraftUses: c.MinAircraftUses,
		MinOutbound:     c.MinOutbound,
		MinModels:       c.MinModels,
		TopDestinations: c.TopDestinations,
		RecentArrivals:  c.RecentArrivals,
	}
}

func reportNames() string {
	var names []string
	for _, d := range report.Definitions() {
		names = append(names, d.Name)
	}
	return strings.Join(names, ", ")
}

func logSummary(log *zap.Logger, sum ingest.Summary) {
	for _, st := range sum.Stages {
		log.Info("stage summary",
			zap.String("run_id", sum.RunID),
			zap.String("stage", st.Stage),
			zap.Int("processed", st.Processed),
			zap.Int("written", st.Written),
			zap.Int("skipped", st.Skipped),
			zap.Int("failed", st.Failed),
		)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
