package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// PostgresDB wraps a PostgreSQL connection pool.
type PostgresDB struct {
	pool *pgxpool.Pool

	sqlOnce sync.Once
	sql     *sql.DB
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresDB, error) {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database, sslMode)

	poolCfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 4
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	// Test the connection.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresDB{pool: pool}, nil
}

// Close closes the PostgreSQL connection pool.
func (d *PostgresDB) Close() error {
	if d.sql != nil {
		_ = d.sql.Close()
	}
	d.pool.Close()
	return nil
}

// Ping verifies the connection.
func (d *PostgresDB) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Pool returns the underlying pool.
func (d *PostgresDB) Pool() *pgxpool.Pool {
	return d.pool
}

// SQL returns a database/sql view of the pool.
func (d *PostgresDB) SQL() (*sql.DB, Dialect) {
	d.sqlOnce.Do(func() {
		d.sql = stdlib.OpenDBFromPool(d.pool)
	})
	return d.sql, DialectPostgres
}

// CreateSchema creates the PostgreSQL tables. Flights carry soft references
// only: no foreign keys to airport or aircraft.
func (d *PostgresDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS airport (
		airport_id      BIGSERIAL PRIMARY KEY,
		icao_code       TEXT NOT NULL UNIQUE,
		iata_code       TEXT NOT NULL UNIQUE,
		name            TEXT NOT NULL DEFAULT '',
		city            TEXT NOT NULL DEFAULT '',
		country         TEXT NOT NULL DEFAULT '',
		continent       TEXT NOT NULL DEFAULT '',
		latitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
		longitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
		timezone        TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS aircraft (
		aircraft_id     BIGSERIAL PRIMARY KEY,
		registration    TEXT NOT NULL UNIQUE,
		model           TEXT NOT NULL DEFAULT '',
		manufacturer    TEXT NOT NULL DEFAULT '',
		icao_type_code  TEXT NOT NULL DEFAULT '',
		owner           TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS flights (
		flight_id               TEXT PRIMARY KEY,
		flight_number           TEXT NOT NULL,
		aircraft_registration   TEXT NOT NULL,
		origin_code             TEXT NOT NULL,
		destination_code        TEXT NOT NULL DEFAULT '',
		scheduled_departure     TIMESTAMPTZ,
		actual_departure        TIMESTAMPTZ,
		scheduled_arrival       TIMESTAMPTZ,
		actual_arrival          TIMESTAMPTZ,
		status                  TEXT NOT NULL DEFAULT 'Unknown' CHECK (status IN (` + statusList() + `)),
		airline_code            TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_flights_origin ON flights(origin_code);
	CREATE INDEX IF NOT EXISTS idx_flights_destination ON flights(destination_code);
	CREATE INDEX IF NOT EXISTS idx_flights_registration ON flights(aircraft_registration);

	CREATE TABLE IF NOT EXISTS airport_delays (
		delay_id            BIGSERIAL PRIMARY KEY,
		airport_code        TEXT NOT NULL,
		delay_date          DATE NOT NULL,
		total_flights       INTEGER NOT NULL,
		delayed_flights     INTEGER NOT NULL DEFAULT 0,
		avg_delay_min       DOUBLE PRECISION NOT NULL DEFAULT 0,
		median_delay_min    DOUBLE PRECISION NOT NULL DEFAULT 0,
		canceled_flights    INTEGER NOT NULL DEFAULT 0,
		UNIQUE (airport_code, delay_date)
	);

	COMMENT ON COLUMN airport_delays.avg_delay_min IS 'Approximation: delayed/total*60, not measured minutes';
	COMMENT ON COLUMN airport_delays.median_delay_min IS 'Approximation: equal to avg_delay_min';
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Begin starts a stage cycle transaction.
func (d *PostgresDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

type pgTx struct {
	tx pgx.Tx
}

// exec runs one statement inside a savepoint.
func (t *pgTx) exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	sp, err := t.tx.Begin(ctx)
	if err != nil {
		return pgconn.CommandTag{}, fmt.Errorf("savepoint: %w", err)
	}
	tag, err := sp.Exec(ctx, query, args...)
	if err != nil {
		_ = sp.Rollback(ctx)
		return tag, classifyPostgres(err)
	}
	if err := sp.Commit(ctx); err != nil {
		return tag, fmt.Errorf("release savepoint: %w", err)
	}
	return tag, nil
}

func (t *pgTx) UpsertAirport(ctx context.Context, a Airport) error {
	_, err := t.exec(ctx, `
		INSERT INTO airport (icao_code, iata_code, name, city, country, continent, latitude, longitude, timezone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (iata_code) DO UPDATE SET
			name = EXCLUDED.name,
			city = EXCLUDED.city,
			country = EXCLUDED.country,
			continent = EXCLUDED.continent,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			timezone = EXCLUDED.timezone
	`, a.ICAOCode, a.IATACode, a.Name, a.City, a.Country, a.Continent, a.Latitude, a.Longitude, a.Timezone)
	if err != nil {
		return fmt.Errorf("upsert airport %s: %w", a.IATACode, err)
	}
	return nil
}

func (t *pgTx) UpsertFlight(ctx context.Context, f Flight) error {
	_, err := t.exec(ctx, `
		INSERT INTO flights (flight_id, flight_number, aircraft_registration, origin_code, destination_code,
			scheduled_departure, actual_departure, scheduled_arrival, actual_arrival, status, airline_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (flight_id) DO UPDATE SET
			flight_number = EXCLUDED.flight_number,
			aircraft_registration = EXCLUDED.aircraft_registration,
			origin_code = EXCLUDED.origin_code,
			destination_code = EXCLUDED.destination_code,
			scheduled_departure = EXCLUDED.scheduled_departure,
			actual_departure = EXCLUDED.actual_departure,
			scheduled_arrival = EXCLUDED.scheduled_arrival,
			actual_arrival = EXCLUDED.actual_arrival,
			status = EXCLUDED.status,
			airline_code = EXCLUDED.airline_code
	`, f.ID, f.FlightNumber, f.AircraftRegistration, f.OriginCode, f.DestinationCode,
		derefTime(f.ScheduledDeparture), derefTime(f.ActualDeparture),
		derefTime(f.ScheduledArrival), derefTime(f.ActualArrival),
		string(f.Status), f.AirlineCode)
	if err != nil {
		return fmt.Errorf("upsert flight %s: %w", f.ID, err)
	}
	return nil
}

func (t *pgTx) HasAircraft(ctx context.Context, registration string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM aircraft WHERE registration = $1)`, registration).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("lookup aircraft %s: %w", registration, err)
	}
	return exists, nil
}

func (t *pgTx) InsertAircraft(ctx context.Context, a Aircraft) (bool, error) {
	tag, err := t.exec(ctx, `
		INSERT INTO aircraft (registration, model, manufacturer, icao_type_code, owner)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (registration) DO NOTHING
	`, a.Registration, a.Model, a.Manufacturer, a.ICAOTypeCode, a.Owner)
	if err != nil {
		return false, fmt.Errorf("insert aircraft %s: %w", a.Registration, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UpsertDelayStat(ctx context.Context, s DelayStat) error {
	_, err := t.exec(ctx, `
		INSERT INTO airport_delays (airport_code, delay_date, total_flights, delayed_flights,
			avg_delay_min, median_delay_min, canceled_flights)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (airport_code, delay_date) DO UPDATE SET
			total_flights = EXCLUDED.total_flights,
			delayed_flights = EXCLUDED.delayed_flights,
			avg_delay_min = EXCLUDED.avg_delay_min,
			median_delay_min = EXCLUDED.median_delay_min,
			canceled_flights = EXCLUDED.canceled_flights
	`, s.AirportCode, utcDate(s.Date), s.TotalFlights, s.DelayedFlights,
		s.AvgDelayMin, s.MedianDelayMin, s.CanceledFlights)
	if err != nil {
		return fmt.Errorf("upsert delay stat %s: %w", s.AirportCode, err)
	}
	return nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// GetAirport retrieves an airport by IATA code.
func (d *PostgresDB) GetAirport(ctx context.Context, iataCode string) (*Airport, error) {
	var a Airport
	err := d.pool.QueryRow(ctx, `
		SELECT icao_code, iata_code, name, city, country, continent, latitude, longitude, timezone
		FROM airport WHERE iata_code = $1
	`, iataCode).Scan(&a.ICAOCode, &a.IATACode, &a.Name, &a.City, &a.Country, &a.Continent,
		&a.Latitude, &a.Longitude, &a.Timezone)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAircraft retrieves an aircraft by registration.
func (d *PostgresDB) GetAircraft(ctx context.Context, registration string) (*Aircraft, error) {
	var a Aircraft
	err := d.pool.QueryRow(ctx, `
		SELECT registration, model, manufacturer, icao_type_code, owner
		FROM aircraft WHERE registration = $1
	`, registration).Scan(&a.Registration, &a.Model, &a.Manufacturer, &a.ICAOTypeCode, &a.Owner)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetFlight retrieves a flight by its derived ID.
func (d *PostgresDB) GetFlight(ctx context.Context, id string) (*Flight, error) {
	var f Flight
	var status string
	err := d.pool.QueryRow(ctx, `
		SELECT flight_id, flight_number, aircraft_registration, origin_code, destination_code,
			scheduled_departure, actual_departure, scheduled_arrival, actual_arrival, status, airline_code
		FROM flights WHERE flight_id = $1
	`, id).Scan(&f.ID, &f.FlightNumber, &f.AircraftRegistration, &f.OriginCode, &f.DestinationCode,
		&f.ScheduledDeparture, &f.ActualDeparture, &f.ScheduledArrival, &f.ActualArrival, &status, &f.AirlineCode)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Status = FlightStatus(status)
	for _, p := range []**time.Time{&f.ScheduledDeparture, &f.ActualDeparture, &f.ScheduledArrival, &f.ActualArrival} {
		if *p != nil {
			u := (*p).UTC()
			*p = &u
		}
	}
	return &f, nil
}

// GetDelayStat retrieves the snapshot for one airport and day.
func (d *PostgresDB) GetDelayStat(ctx context.Context, airportCode string, date time.Time) (*DelayStat, error) {
	var s DelayStat
	err := d.pool.QueryRow(ctx, `
		SELECT airport_code, delay_date, total_flights, delayed_flights, canceled_flights, avg_delay_min, median_delay_min
		FROM airport_delays WHERE airport_code = $1 AND delay_date = $2
	`, airportCode, utcDate(date)).Scan(&s.AirportCode, &s.Date, &s.TotalFlights, &s.DelayedFlights,
		&s.CanceledFlights, &s.AvgDelayMin, &s.MedianDelayMin)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Date = utcDate(s.Date)
	return &s, nil
}

// Counts returns the row count of each pipeline table.
func (d *PostgresDB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := d.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM airport),
			(SELECT COUNT(*) FROM aircraft),
			(SELECT COUNT(*) FROM flights),
			(SELECT COUNT(*) FROM airport_delays)
	`).Scan(&c.Airports, &c.Aircraft, &c.Flights, &c.Delays)
	return c, err
}

// classifyPostgres maps integrity constraint violations (SQLSTATE class 23)
// onto ErrConstraint.
func classifyPostgres(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "23") {
		return &constraintError{err: err}
	}
	return err
}

func statusList() string {
	quoted := make([]string, len(AllStatuses))
	for i, s := range AllStatuses {
		quoted[i] = "'" + string(s) + "'"
	}
	return strings.Join(quoted, ", ")
}
