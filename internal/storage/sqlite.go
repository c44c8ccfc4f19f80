package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteConfig holds SQLite settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

const sqliteTimeLayout = time.RFC3339
const sqliteDateLayout = "2006-01-02"

// SQLiteDB wraps a SQLite database. It is meant for local runs and tests;
// writes are serialised over a single connection.
type SQLiteDB struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path and
// ensures the schema exists.
func OpenSQLite(ctx context.Context, cfg SQLiteConfig) (*SQLiteDB, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrent access.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	d := &SQLiteDB{db: db}
	if err := d.CreateSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

// Close closes the database connection.
func (d *SQLiteDB) Close() error {
	return d.db.Close()
}

// Ping verifies the connection.
func (d *SQLiteDB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// SQL returns the underlying handle.
func (d *SQLiteDB) SQL() (*sql.DB, Dialect) {
	return d.db, DialectSQLite
}

// CreateSchema creates the tables. Timestamps are RFC 3339 UTC text and
// delay_date is YYYY-MM-DD text.
func (d *SQLiteDB) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS airport (
		airport_id INTEGER PRIMARY KEY AUTOINCREMENT,
		icao_code TEXT NOT NULL UNIQUE,
		iata_code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		continent TEXT NOT NULL DEFAULT '',
		latitude REAL NOT NULL DEFAULT 0,
		longitude REAL NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS aircraft (
		aircraft_id INTEGER PRIMARY KEY AUTOINCREMENT,
		registration TEXT NOT NULL UNIQUE,
		model TEXT NOT NULL DEFAULT '',
		manufacturer TEXT NOT NULL DEFAULT '',
		icao_type_code TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS flights (
		flight_id TEXT PRIMARY KEY,
		flight_number TEXT NOT NULL,
		aircraft_registration TEXT NOT NULL,
		origin_code TEXT NOT NULL,
		destination_code TEXT NOT NULL DEFAULT '',
		scheduled_departure TEXT,
		actual_departure TEXT,
		scheduled_arrival TEXT,
		actual_arrival TEXT,
		status TEXT NOT NULL DEFAULT 'Unknown' CHECK (status IN (` + statusList() + `)),
		airline_code TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_flights_origin ON flights(origin_code);
	CREATE INDEX IF NOT EXISTS idx_flights_destination ON flights(destination_code);
	CREATE INDEX IF NOT EXISTS idx_flights_registration ON flights(aircraft_registration);

	-- avg_delay_min and median_delay_min are an approximation (delayed/total*60).
	CREATE TABLE IF NOT EXISTS airport_delays (
		delay_id INTEGER PRIMARY KEY AUTOINCREMENT,
		airport_code TEXT NOT NULL,
		delay_date TEXT NOT NULL,
		total_flights INTEGER NOT NULL,
		delayed_flights INTEGER NOT NULL DEFAULT 0,
		avg_delay_min REAL NOT NULL DEFAULT 0,
		median_delay_min REAL NOT NULL DEFAULT 0,
		canceled_flights INTEGER NOT NULL DEFAULT 0,
		UNIQUE (airport_code, delay_date)
	);
	`

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Begin starts a stage cycle transaction.
func (d *SQLiteDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &sqliteTx{tx: tx}, nil
}

type sqliteTx struct {
	tx *sql.Tx
}

// exec runs one statement inside a savepoint.
func (t *sqliteTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT rec"); err != nil {
		return nil, fmt.Errorf("savepoint: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		_, _ = t.tx.ExecContext(ctx, "ROLLBACK TO rec")
		_, _ = t.tx.ExecContext(ctx, "RELEASE rec")
		return nil, classifySQLite(err)
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE rec"); err != nil {
		return nil, fmt.Errorf("release savepoint: %w", err)
	}
	return res, nil
}

func (t *sqliteTx) UpsertAirport(ctx context.Context, a Airport) error {
	_, err := t.exec(ctx, `
		INSERT INTO airport (icao_code, iata_code, name, city, country, continent, latitude, longitude, timezone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (iata_code) DO UPDATE SET
			name = excluded.name,
			city = excluded.city,
			country = excluded.country,
			continent = excluded.continent,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			timezone = excluded.timezone
	`, a.ICAOCode, a.IATACode, a.Name, a.City, a.Country, a.Continent, a.Latitude, a.Longitude, a.Timezone)
	if err != nil {
		return fmt.Errorf("upsert airport %s: %w", a.IATACode, err)
	}
	return nil
}

func (t *sqliteTx) UpsertFlight(ctx context.Context, f Flight) error {
	_, err := t.exec(ctx, `
		INSERT INTO flights (flight_id, flight_number, aircraft_registration, origin_code, destination_code,
			scheduled_departure, actual_departure, scheduled_arrival, actual_arrival, status, airline_code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (flight_id) DO UPDATE SET
			flight_number = excluded.flight_number,
			aircraft_registration = excluded.aircraft_registration,
			origin_code = excluded.origin_code,
			destination_code = excluded.destination_code,
			scheduled_departure = excluded.scheduled_departure,
			actual_departure = excluded.actual_departure,
			scheduled_arrival = excluded.scheduled_arrival,
			actual_arrival = excluded.actual_arrival,
			status = excluded.status,
			airline_code = excluded.airline_code
	`, f.ID, f.FlightNumber, f.AircraftRegistration, f.OriginCode, f.DestinationCode,
		formatSQLiteTime(f.ScheduledDeparture), formatSQLiteTime(f.ActualDeparture),
		formatSQLiteTime(f.ScheduledArrival), formatSQLiteTime(f.ActualArrival),
		string(f.Status), f.AirlineCode)
	if err != nil {
		return fmt.Errorf("upsert flight %s: %w", f.ID, err)
	}
	return nil
}

func (t *sqliteTx) HasAircraft(ctx context.Context, registration string) (bool, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM aircraft WHERE registration = ?`, registration).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup aircraft %s: %w", registration, err)
	}
	return n > 0, nil
}

func (t *sqliteTx) InsertAircraft(ctx context.Context, a Aircraft) (bool, error) {
	res, err := t.exec(ctx, `
		INSERT INTO aircraft (registration, model, manufacturer, icao_type_code, owner)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (registration) DO NOTHING
	`, a.Registration, a.Model, a.Manufacturer, a.ICAOTypeCode, a.Owner)
	if err != nil {
		return false, fmt.Errorf("insert aircraft %s: %w", a.Registration, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert aircraft %s: %w", a.Registration, err)
	}
	return n == 1, nil
}

func (t *sqliteTx) UpsertDelayStat(ctx context.Context, s DelayStat) error {
	_, err := t.exec(ctx, `
		INSERT INTO airport_delays (airport_code, delay_date, total_flights, delayed_flights,
			avg_delay_min, median_delay_min, canceled_flights)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (airport_code, delay_date) DO UPDATE SET
			total_flights = excluded.total_flights,
			delayed_flights = excluded.delayed_flights,
			avg_delay_min = excluded.avg_delay_min,
			median_delay_min = excluded.median_delay_min,
			canceled_flights = excluded.canceled_flights
	`, s.AirportCode, utcDate(s.Date).Format(sqliteDateLayout), s.TotalFlights, s.DelayedFlights,
		s.AvgDelayMin, s.MedianDelayMin, s.CanceledFlights)
	if err != nil {
		return fmt.Errorf("upsert delay stat %s: %w", s.AirportCode, err)
	}
	return nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// GetAirport retrieves an airport by IATA code.
func (d *SQLiteDB) GetAirport(ctx context.Context, iataCode string) (*Airport, error) {
	var a Airport
	err := d.db.QueryRowContext(ctx, `
		SELECT icao_code, iata_code, name, city, country, continent, latitude, longitude, timezone
		FROM airport WHERE iata_code = ?
	`, iataCode).Scan(&a.ICAOCode, &a.IATACode, &a.Name, &a.City, &a.Country, &a.Continent,
		&a.Latitude, &a.Longitude, &a.Timezone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAircraft retrieves an aircraft by registration.
func (d *SQLiteDB) GetAircraft(ctx context.Context, registration string) (*Aircraft, error) {
	var a Aircraft
	err := d.db.QueryRowContext(ctx, `
		SELECT registration, model, manufacturer, icao_type_code, owner
		FROM aircraft WHERE registration = ?
	`, registration).Scan(&a.Registration, &a.Model, &a.Manufacturer, &a.ICAOTypeCode, &a.Owner)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// GetFlight retrieves a flight by its derived ID.
func (d *SQLiteDB) GetFlight(ctx context.Context, id string) (*Flight, error) {
	var f Flight
	var status string
	var schedDep, actDep, schedArr, actArr sql.NullString
	err := d.db.QueryRowContext(ctx, `
		SELECT flight_id, flight_number, aircraft_registration, origin_code, destination_code,
			scheduled_departure, actual_departure, scheduled_arrival, actual_arrival, status, airline_code
		FROM flights WHERE flight_id = ?
	`, id).Scan(&f.ID, &f.FlightNumber, &f.AircraftRegistration, &f.OriginCode, &f.DestinationCode,
		&schedDep, &actDep, &schedArr, &actArr, &status, &f.AirlineCode)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	f.Status = FlightStatus(status)
	if f.ScheduledDeparture, err = parseSQLiteTime(schedDep); err != nil {
		return nil, err
	}
	if f.ActualDeparture, err = parseSQLiteTime(actDep); err != nil {
		return nil, err
	}
	if f.ScheduledArrival, err = parseSQLiteTime(schedArr); err != nil {
		return nil, err
	}
	if f.ActualArrival, err = parseSQLiteTime(actArr); err != nil {
		return nil, err
	}
	return &f, nil
}

// GetDelayStat retrieves the snapshot for one airport and day.
func (d *SQLiteDB) GetDelayStat(ctx context.Context, airportCode string, date time.Time) (*DelayStat, error) {
	var s DelayStat
	var day string
	err := d.db.QueryRowContext(ctx, `
		SELECT airport_code, delay_date, total_flights, delayed_flights, canceled_flights, avg_delay_min, median_delay_min
		FROM airport_delays WHERE airport_code = ? AND delay_date = ?
	`, airportCode, utcDate(date).Format(sqliteDateLayout)).Scan(&s.AirportCode, &day, &s.TotalFlights,
		&s.DelayedFlights, &s.CanceledFlights, &s.AvgDelayMin, &s.MedianDelayMin)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.Date, err = time.Parse(sqliteDateLayout, day); err != nil {
		return nil, fmt.Errorf("parse delay_date %q: %w", day, err)
	}
	return &s, nil
}

// Counts returns the row count of each pipeline table.
func (d *SQLiteDB) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM airport),
			(SELECT COUNT(*) FROM aircraft),
			(SELECT COUNT(*) FROM flights),
			(SELECT COUNT(*) FROM airport_delays)
	`).Scan(&c.Airports, &c.Aircraft, &c.Flights, &c.Delays)
	return c, err
}

func formatSQLiteTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s.String, err)
	}
	t = t.UTC()
	return &t, nil
}

// classifySQLite maps SQLITE_CONSTRAINT and its extended codes onto ErrConstraint.
func classifySQLite(err error) error {
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		return &constraintError{err: err}
	}
	return err
}
