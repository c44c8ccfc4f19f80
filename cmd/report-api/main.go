// Package main provides the report-api server for the ingested flight data.
//
// This is a read-only REST API over the tables written by air_tracker. It
// runs the fixed analytics reports and serves point lookups.
//
// Usage:
//
//	report-api [options]
//
// Options:
//
//	-config FILE        YAML config file (env: AIR_TRACKER_CONFIG)
//	-driver NAME        Storage driver override (postgres or sqlite)
//	-addr ADDR          Listen address (default from config, :8081)
//	-auth               Enable API key authentication
//	-api-keys KEYS      Comma-separated list of valid API keys
//
// API Endpoints:
//
//	GET /api/v1/health
//	    Health check endpoint; pings the store.
//
//	GET /api/v1/reports
//	    List the available reports.
//
//	GET /api/v1/reports/{name}
//	    Run one report.
//
//	GET /api/v1/counts
//	GET /api/v1/airports/{iata}
//	GET /api/v1/aircraft/{registration}
//	GET /api/v1/flights/{id}
//	GET /api/v1/delays/{airport}/{date}
//	    Point lookups over stored rows.
//
//	GET /metrics
//	    Prometheus metrics.
//
// Authentication:
//
//	When -auth is enabled, requests must include an API key via:
//	  - X-API-Key header
//	  - Authorization: Bearer <key> header
//	  - ?api_key=<key> query parameter
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/api"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/config"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/logging"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/metrics"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/report"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

func main() {
	configPath := flag.String("config", envOrDefault("AIR_TRACKER_CONFIG", ""), "YAML config file")
	driver := flag.String("driver", "", "Storage driver override (postgres or sqlite)")
	addr := flag.String("addr", "", "HTTP listen address")
	authEnabled := flag.Bool("auth", false, "Enable API key authentication")
	apiKeys := flag.String("api-keys", "", "Comma-separated list of valid API keys (when auth enabled)")

	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *driver != "" {
		cfg.Storage.Driver = *driver
	}
	if *addr != "" {
		cfg.API.Address = *addr
	}
	if *authEnabled {
		cfg.API.AuthEnabled = true
	}

	// Parse API keys.
	if *apiKeys != "" {
		keys := strings.Split(*apiKeys, ",")
		for i := range keys {
			keys[i] = strings.TrimSpace(keys[i])
		}
		cfg.API.APIKeys = keys
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	db, dialect := store.SQL()
	reports := report.New(db, dialect, report.Thresholds{
		Hub:             cfg.Report.Hub,
		MinAircraftUses: cfg.Report.MinAircraftUses,
		MinOutbound:     cfg.Report.MinOutbound,
		MinModels:       cfg.Report.MinModels,
		TopDestinations: cfg.Report.TopDestinations,
		RecentArrivals:  cfg.Report.RecentArrivals,
	})

	// Create and run server.
	server := api.NewServer(store, reports, metrics.New().Handler(), log.Named("api"), api.Config{
		Address:     cfg.API.Address,
		AuthEnabled: cfg.API.AuthEnabled,
		APIKeys:     cfg.API.APIKeys,
	})

	if err := server.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}
