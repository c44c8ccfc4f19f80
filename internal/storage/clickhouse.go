package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ClickHouseDB is an append-only archive of every flight observation and
// delay snapshot. The relational tables keep only the latest state; the
// archive keeps history.
type ClickHouseDB struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	// Test the connection.
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseDB{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseDB) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the archive tables.
func (d *ClickHouseDB) CreateSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS flight_observations (
			run_id                  String,
			observed_at             DateTime64(3),
			flight_id               String,
			flight_number           LowCardinality(String),
			aircraft_registration   LowCardinality(String),
			origin_code             LowCardinality(String),
			destination_code        LowCardinality(String),
			scheduled_departure     Nullable(DateTime64(3)),
			actual_departure        Nullable(DateTime64(3)),
			scheduled_arrival       Nullable(DateTime64(3)),
			actual_arrival          Nullable(DateTime64(3)),
			status                  LowCardinality(String),
			airline_code            LowCardinality(String)
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (origin_code, observed_at, flight_id)`,

		`CREATE TABLE IF NOT EXISTS delay_snapshots (
			run_id              String,
			observed_at         DateTime64(3),
			airport_code        LowCardinality(String),
			delay_date          Date,
			total_flights       UInt32,
			delayed_flights     UInt32,
			canceled_flights    UInt32,
			avg_delay_min       Float64,
			median_delay_min    Float64
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(delay_date)
		ORDER BY (airport_code, delay_date, observed_at)`,
	}

	for _, q := range queries {
		if err := d.conn.Exec(ctx, q); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// ArchiveFlights appends one observation row per flight.
func (d *ClickHouseDB) ArchiveFlights(ctx context.Context, runID string, observedAt time.Time, flights []Flight) error {
	if len(flights) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO flight_observations (run_id, observed_at, flight_id, flight_number, aircraft_registration,
			origin_code, destination_code, scheduled_departure, actual_departure, scheduled_arrival,
			actual_arrival, status, airline_code)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, f := range flights {
		err = batch.Append(runID, observedAt.UTC(), f.ID, f.FlightNumber, f.AircraftRegistration,
			f.OriginCode, f.DestinationCode, f.ScheduledDeparture, f.ActualDeparture, f.ScheduledArrival,
			f.ActualArrival, string(f.Status), f.AirlineCode)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ArchiveDelays appends one snapshot row per delay stat.
func (d *ClickHouseDB) ArchiveDelays(ctx context.Context, runID string, observedAt time.Time, stats []DelayStat) error {
	if len(stats) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `
		INSERT INTO delay_snapshots (run_id, observed_at, airport_code, delay_date, total_flights,
			delayed_flights, canceled_flights, avg_delay_min, median_delay_min)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, s := range stats {
		err = batch.Append(runID, observedAt.UTC(), s.AirportCode, utcDate(s.Date), uint32(s.TotalFlights),
			uint32(s.DelayedFlights), uint32(s.CanceledFlights), s.AvgDelayMin, s.MedianDelayMin)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ObservationCount returns the number of archived observations of one flight.
func (d *ClickHouseDB) ObservationCount(ctx context.Context, flightID string) (uint64, error) {
	var n uint64
	if err := d.conn.QueryRow(ctx, `SELECT count() FROM flight_observations WHERE flight_id = ?`, flightID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return n, nil
}
