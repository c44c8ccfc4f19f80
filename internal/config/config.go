// Package config loads the YAML configuration shared by the binaries.
// Values come from built-in defaults, then the config file, then the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/logging"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/metrics"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// DefaultSeeds are the airports polled when no seed list is configured.
var DefaultSeeds = []string{
	"DEL", "BOM", "BLR", "HYD", "MAA", "CCU", "COK",
	"DXB", "LHR", "JFK", "SIN", "CDG", "HND", "FRA", "SYD",
}

// Config is the root configuration document.
type Config struct {
	Provider provider.Config `yaml:"provider"`
	Storage  storage.Config  `yaml:"storage"`
	NATS     events.Config   `yaml:"nats"`
	Pipeline PipelineConfig  `yaml:"pipeline"`
	Report   ReportConfig    `yaml:"report"`
	API      APIConfig       `yaml:"api"`
	Metrics  metrics.Config  `yaml:"metrics"`
	Logging  logging.Config  `yaml:"logging"`
}

// PipelineConfig controls what is ingested and how often.
type PipelineConfig struct {
	SeedCodes []string      `yaml:"seed_codes"`
	Interval  time.Duration `yaml:"interval"` // Daemon mode only.
}

// ReportConfig holds the thresholds of the fixed reports.
type ReportConfig struct {
	Hub             string `yaml:"hub"`
	MinAircraftUses int    `yaml:"min_aircraft_uses"`
	MinOutbound     int    `yaml:"min_outbound"`
	MinModels       int    `yaml:"min_models"`
	TopDestinations int    `yaml:"top_destinations"`
	RecentArrivals  int    `yaml:"recent_arrivals"`
}

// APIConfig configures the report API server.
type APIConfig struct {
	Address     string   `yaml:"address"`
	AuthEnabled bool     `yaml:"auth_enabled"`
	APIKeys     []string `yaml:"api_keys"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Provider: provider.DefaultConfig(),
		Storage:  storage.DefaultConfig(),
		Pipeline: PipelineConfig{
			SeedCodes: append([]string(nil), DefaultSeeds...),
			Interval:  15 * time.Minute,
		},
		Report: ReportConfig{
			Hub:             "DEL",
			MinAircraftUses: 5,
			MinOutbound:     5,
			MinModels:       2,
			TopDestinations: 3,
			RecentArrivals:  5,
		},
		API: APIConfig{
			Address: ":8081",
		},
		Metrics: metrics.Config{Enabled: true, Address: ":9090"},
		Logging: logging.Config{Level: "info", Format: "json"},
	}
}

// Load reads the config file at path over the defaults and applies
// environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides settings from the environment. Unset variables leave the
// current value alone.
func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
		return nil
	}

	str("RAPIDAPI_KEY", &c.Provider.APIKey)
	str("RAPIDAPI_HOST", &c.Provider.Host)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("POSTGRES_HOST", &c.Storage.Postgres.Host)
	str("POSTGRES_DATABASE", &c.Storage.Postgres.Database)
	str("POSTGRES_USER", &c.Storage.Postgres.User)
	str("POSTGRES_PASSWORD", &c.Storage.Postgres.Password)
	str("POSTGRES_SSLMODE", &c.Storage.Postgres.SSLMode)
	str("SQLITE_PATH", &c.Storage.SQLite.Path)
	str("CLICKHOUSE_HOST", &c.Storage.ClickHouse.Host)
	str("CLICKHOUSE_DATABASE", &c.Storage.ClickHouse.Database)
	str("CLICKHOUSE_USER", &c.Storage.ClickHouse.User)
	str("CLICKHOUSE_PASSWORD", &c.Storage.ClickHouse.Password)
	str("LOG_LEVEL", &c.Logging.Level)
	str("LOG_FORMAT", &c.Logging.Format)

	if err := num("POSTGRES_PORT", &c.Storage.Postgres.Port); err != nil {
		return err
	}
	if err := num("CLICKHOUSE_PORT", &c.Storage.ClickHouse.Port); err != nil {
		return err
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.Storage.ClickHouse.Enabled = true
	}
	if v := getenv("NATS_URL"); v != "" {
		c.NATS.URL = v
		c.NATS.Enabled = true
	}
	if v := getenv("AIR_TRACKER_SEEDS"); v != "" {
		c.Pipeline.SeedCodes = splitList(v)
	}
	if v := getenv("AIR_TRACKER_API_KEYS"); v != "" {
		c.API.APIKeys = splitList(v)
		c.API.AuthEnabled = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	c.Provider.ApplyDefaults()
	c.NATS.ApplyDefaults()
	c.Metrics.ApplyDefaults()
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Pipeline.SeedCodes) == 0 {
		c.Pipeline.SeedCodes = append([]string(nil), DefaultSeeds...)
	}
	if c.Pipeline.Interval <= 0 {
		c.Pipeline.Interval = 15 * time.Minute
	}
	d := Default().Report
	if c.Report.Hub == "" {
		c.Report.Hub = d.Hub
	}
	c.Report.Hub = strings.ToUpper(c.Report.Hub)
	if c.Report.TopDestinations <= 0 {
		c.Report.TopDestinations = d.TopDestinations
	}
	if c.Report.RecentArrivals <= 0 {
		c.Report.RecentArrivals = d.RecentArrivals
	}
	if c.API.Address == "" {
		c.API.Address = Default().API.Address
	}
}

// ErrMissingAPIKey means no provider key was configured.
var ErrMissingAPIKey = errors.New("provider api key is not set (RAPIDAPI_KEY)")

// Validate checks settings every binary depends on.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Storage.Driver) {
	case "postgres", "postgresql", "sqlite":
	default:
		return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("logging.format: unknown format %q", c.Logging.Format)
	}
	if c.Report.MinAircraftUses < 0 || c.Report.MinOutbound < 0 || c.Report.MinModels < 0 {
		return errors.New("report: thresholds must not be negative")
	}
	if c.API.AuthEnabled && len(c.API.APIKeys) == 0 {
		return errors.New("api: auth enabled without api keys")
	}
	return nil
}

// RequireProviderKey returns ErrMissingAPIKey when ingestion cannot
// authenticate.
func (c *Config) RequireProviderKey() error {
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return ErrMissingAPIKey
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
