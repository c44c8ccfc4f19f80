// Package storage is the persistence gateway for airports, aircraft, flights
// and daily delay statistics. PostgreSQL is the primary backend, SQLite serves
// local runs and tests, and ClickHouse optionally archives observations.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Tx is one stage cycle's unit of work. Every write runs inside its own
// savepoint, so a rejected record leaves the cycle usable.
type Tx interface {
	// UpsertAirport inserts or overwrites every non-key column, keyed by iata_code.
	UpsertAirport(ctx context.Context, a Airport) error
	// UpsertFlight inserts or replaces a flight keyed by its derived ID.
	UpsertFlight(ctx context.Context, f Flight) error
	// HasAircraft reports whether the registration is already stored.
	HasAircraft(ctx context.Context, registration string) (bool, error)
	// InsertAircraft writes a new aircraft and never overwrites an existing one.
	// It reports whether a row was inserted.
	InsertAircraft(ctx context.Context, a Aircraft) (bool, error)
	// UpsertDelayStat replaces the snapshot for (airport_code, delay_date).
	UpsertDelayStat(ctx context.Context, d DelayStat) error

	Commit(ctx context.Context) error
	// Rollback is safe to call after Commit.
	Rollback(ctx context.Context) error
}

// Reader exposes point lookups over committed rows.
type Reader interface {
	GetAirport(ctx context.Context, iataCode string) (*Airport, error)
	GetAircraft(ctx context.Context, registration string) (*Aircraft, error)
	GetFlight(ctx context.Context, id string) (*Flight, error)
	GetDelayStat(ctx context.Context, airportCode string, date time.Time) (*DelayStat, error)
	Counts(ctx context.Context) (Counts, error)
}

// Store is a relational backend.
type Store interface {
	Reader

	Begin(ctx context.Context) (Tx, error)
	CreateSchema(ctx context.Context) error
	Ping(ctx context.Context) error
	// SQL returns a database/sql handle for read-only reporting, with the
	// placeholder style of the backend.
	SQL() (*sql.DB, Dialect)
	Close() error
}

// Dialect describes backend SQL differences that matter to raw queries.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite"
)

// Placeholder returns the n-th (1-based) bind parameter marker.
func (d Dialect) Placeholder(n int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// ErrConstraint marks a write rejected by a uniqueness or check constraint.
var ErrConstraint = errors.New("constraint violation")

// IsConstraintViolation reports whether err is a store-side constraint rejection.
func IsConstraintViolation(err error) bool {
	return errors.Is(err, ErrConstraint)
}

// constraintError keeps the driver error while matching ErrConstraint.
type constraintError struct {
	err error
}

func (e *constraintError) Error() string { return "constraint violation: " + e.err.Error() }
func (e *constraintError) Unwrap() []error {
	return []error{ErrConstraint, e.err}
}

// Config selects and configures the backend.
type Config struct {
	Driver     string           `yaml:"driver"` // postgres or sqlite
	Postgres   PostgresConfig   `yaml:"postgres"`
	SQLite     SQLiteConfig     `yaml:"sqlite"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
}

// DefaultConfig returns a configuration with default local development settings.
func DefaultConfig() Config {
	return Config{
		Driver: "postgres",
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "air_tracker",
			User:     "air_tracker",
			Password: "air_tracker",
			SSLMode:  "disable",
		},
		SQLite: SQLiteConfig{
			Path: "air_tracker.db",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "air_tracker",
			User:     "default",
		},
	}
}

// Open connects to the configured relational backend and verifies the
// connection.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "postgres", "postgresql":
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		return pg, nil
	case "sqlite":
		lite, err := OpenSQLite(ctx, cfg.SQLite)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func derefTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func utcDate(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
