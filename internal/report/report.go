// Package report runs the fixed read-only analytics queries over the
// ingested tables. Queries are written in the SQL subset shared by
// PostgreSQL and SQLite; only bind parameter markers differ.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// ErrUnknownReport is returned by Run for a name not in Definitions.
var ErrUnknownReport = errors.New("unknown report")

// Thresholds parameterise the reports.
type Thresholds struct {
	Hub             string // Airport whose recent arrivals are listed.
	MinAircraftUses int    // Aircraft with more flights than this.
	MinOutbound     int    // Airports with more departures than this.
	MinModels       int    // City pairs served by more distinct models than this.
	TopDestinations int
	RecentArrivals  int
}

// DefaultThresholds returns the thresholds of the original dashboard.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Hub:             "DEL",
		MinAircraftUses: 5,
		MinOutbound:     5,
		MinModels:       2,
		TopDestinations: 3,
		RecentArrivals:  5,
	}
}

// Reports executes queries against one backend.
type Reports struct {
	db      *sql.DB
	dialect storage.Dialect
	th      Thresholds
}

// New creates a report runner.
func New(db *sql.DB, dialect storage.Dialect, th Thresholds) *Reports {
	d := DefaultThresholds()
	if th.Hub == "" {
		th.Hub = d.Hub
	}
	th.Hub = strings.ToUpper(th.Hub)
	if th.TopDestinations <= 0 {
		th.TopDestinations = d.TopDestinations
	}
	if th.RecentArrivals <= 0 {
		th.RecentArrivals = d.RecentArrivals
	}
	return &Reports{db: db, dialect: dialect, th: th}
}

// Thresholds returns the effective thresholds.
func (r *Reports) Thresholds() Thresholds { return r.th }

func (r *Reports) ph(n int) string { return r.dialect.Placeholder(n) }

// Row types.

type ModelFlights struct {
	Model   string `json:"aircraft_model"`
	Flights int64  `json:"flight_count"`
}

type AircraftUsage struct {
	Registration string `json:"registration"`
	Model        string `json:"model"`
	Flights      int64  `json:"flight_count"`
}

type AirportOutbound struct {
	Airport string `json:"airport_name"`
	Flights int64  `json:"outbound_flights"`
}

type Destination struct {
	Airport  string `json:"name"`
	City     string `json:"city"`
	Arrivals int64  `json:"arrival_count"`
}

type FlightReach struct {
	FlightNumber string `json:"flight_number"`
	Origin       string `json:"origin_airport"`
	Destination  string `json:"destination_airport"`
	Type         string `json:"flight_type"` // Domestic or International
}

type Arrival struct {
	FlightNumber     string     `json:"flight_number"`
	Aircraft         string     `json:"aircraft"`
	DepartureAirport string     `json:"departure_airport"`
	ArrivalTime      *time.Time `json:"arrival_time"`
}

type AirportRef struct {
	IATACode string `json:"iata_code"`
	Name     string `json:"name"`
}

type AirlineStatus struct {
	AirlineCode string `json:"airline_code"`
	OnTime      int64  `json:"on_time"`
	Delayed     int64  `json:"delayed_count"`
	Cancelled   int64  `json:"cancelled_count"`
}

type CancelledFlight struct {
	FlightNumber       string     `json:"flight_number"`
	Registration       string     `json:"aircraft_registration"`
	Origin             string     `json:"origin_airport"`
	Destination        string     `json:"destination_airport"`
	ScheduledDeparture *time.Time `json:"scheduled_departure"`
}

type CityPair struct {
	OriginCity      string `json:"origin_city"`
	DestinationCity string `json:"destination_city"`
	Models          int64  `json:"aircraft_models"`
}

type DelayedShare struct {
	Airport    string  `json:"destination_airport"`
	DelayedPct float64 `json:"delayed_percentage"`
}

// LatestDelay is the newest snapshot of one airport. The delay minutes are
// an approximation derived from the delayed share, not measured.
type LatestDelay struct {
	AirportCode     string     `json:"airport_code"`
	Date            *time.Time `json:"delay_date"`
	TotalFlights    int64      `json:"total_flights"`
	DelayedFlights  int64      `json:"delayed_flights"`
	CanceledFlights int64      `json:"canceled_flights"`
	AvgDelayMin     float64    `json:"avg_delay_min"`
	MedianDelayMin  float64    `json:"median_delay_min"`
	Approximate     bool       `json:"approximate"`
}

func (r *Reports) FlightsPerModel(ctx context.Context) ([]ModelFlights, error) {
	q := `
		SELECT a.model, COUNT(f.flight_id) AS flight_count
		FROM flights f
		JOIN aircraft a ON f.aircraft_registration = a.registration
		GROUP BY a.model
		ORDER BY flight_count DESC, a.model`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *ModelFlights) error {
		return rows.Scan(&v.Model, &v.Flights)
	})
}

func (r *Reports) BusyAircraft(ctx context.Context) ([]AircraftUsage, error) {
	q := `
		SELECT a.registration, a.model, COUNT(f.flight_id) AS flight_count
		FROM flights f
		JOIN aircraft a ON f.aircraft_registration = a.registration
		GROUP BY a.registration, a.model
		HAVING COUNT(f.flight_id) > ` + r.ph(1) + `
		ORDER BY flight_count DESC, a.registration`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *AircraftUsage) error {
		return rows.Scan(&v.Registration, &v.Model, &v.Flights)
	}, r.th.MinAircraftUses)
}

func (r *Reports) BusyAirports(ctx context.Context) ([]AirportOutbound, error) {
	q := `
		SELECT ap.name, COUNT(f.flight_id) AS outbound_flights
		FROM flights f
		JOIN airport ap ON ap.iata_code = f.origin_code
		GROUP BY ap.name
		HAVING COUNT(f.flight_id) > ` + r.ph(1) + `
		ORDER BY outbound_flights DESC, ap.name`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *AirportOutbound) error {
		return rows.Scan(&v.Airport, &v.Flights)
	}, r.th.MinOutbound)
}

func (r *Reports) TopDestinations(ctx context.Context) ([]Destination, error) {
	q := `
		SELECT ap.name, ap.city, COUNT(f.flight_id) AS arrival_count
		FROM flights f
		JOIN airport ap ON ap.iata_code = f.destination_code
		GROUP BY ap.name, ap.city
		ORDER BY arrival_count DESC, ap.name
		LIMIT ` + r.ph(1)
	return query(ctx, r.db, q, func(rows *sql.Rows, v *Destination) error {
		return rows.Scan(&v.Airport, &v.City, &v.Arrivals)
	}, r.th.TopDestinations)
}

// DomesticInternational classifies flights whose both ends are known
// airports by comparing their countries.
func (r *Reports) DomesticInternational(ctx context.Context) ([]FlightReach, error) {
	q := `
		SELECT f.flight_number, ao.name, ad.name,
			CASE WHEN ao.country = ad.country THEN 'Domestic' ELSE 'International' END AS flight_type
		FROM flights f
		JOIN airport ao ON ao.iata_code = f.origin_code
		JOIN airport ad ON ad.iata_code = f.destination_code
		ORDER BY f.flight_number, f.flight_id`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *FlightReach) error {
		return rows.Scan(&v.FlightNumber, &v.Origin, &v.Destination, &v.Type)
	})
}

func (r *Reports) RecentArrivals(ctx context.Context) ([]Arrival, error) {
	q := `
		SELECT f.flight_number, f.aircraft_registration, ao.name,
			COALESCE(f.actual_arrival, f.scheduled_arrival) AS arrival_time
		FROM flights f
		JOIN airport ao ON ao.iata_code = f.origin_code
		WHERE f.destination_code = ` + r.ph(1) + `
		ORDER BY arrival_time DESC NULLS LAST, f.flight_id
		LIMIT ` + r.ph(2)
	return query(ctx, r.db, q, func(rows *sql.Rows, v *Arrival) error {
		return rows.Scan(&v.FlightNumber, &v.Aircraft, &v.DepartureAirport, timeValue{&v.ArrivalTime})
	}, r.th.Hub, r.th.RecentArrivals)
}

func (r *Reports) AirportsWithoutArrivals(ctx context.Context) ([]AirportRef, error) {
	q := `
		SELECT ap.iata_code, ap.name
		FROM airport ap
		LEFT JOIN flights f ON ap.iata_code = f.destination_code
		WHERE f.flight_id IS NULL
		ORDER BY ap.iata_code`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *AirportRef) error {
		return rows.Scan(&v.IATACode, &v.Name)
	})
}

func (r *Reports) StatusByAirline(ctx context.Context) ([]AirlineStatus, error) {
	q := fmt.Sprintf(`
		SELECT airline_code,
			SUM(CASE WHEN status = %s THEN 1 ELSE 0 END) AS on_time,
			SUM(CASE WHEN status = %s THEN 1 ELSE 0 END) AS delayed_count,
			SUM(CASE WHEN status = %s THEN 1 ELSE 0 END) AS cancelled_count
		FROM flights
		GROUP BY airline_code
		ORDER BY airline_code`, r.ph(1), r.ph(2), r.ph(3))
	return query(ctx, r.db, q, func(rows *sql.Rows, v *AirlineStatus) error {
		return rows.Scan(&v.AirlineCode, &v.OnTime, &v.Delayed, &v.Cancelled)
	}, string(storage.StatusOnTime), string(storage.StatusDelayed), string(storage.StatusCancelled))
}

func (r *Reports) CancelledFlights(ctx context.Context) ([]CancelledFlight, error) {
	q := `
		SELECT f.flight_number, f.aircraft_registration, ao.name, ad.name, f.scheduled_departure
		FROM flights f
		JOIN airport ao ON ao.iata_code = f.origin_code
		JOIN airport ad ON ad.iata_code = f.destination_code
		WHERE f.status = ` + r.ph(1) + `
		ORDER BY f.scheduled_departure DESC NULLS LAST, f.flight_id`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *CancelledFlight) error {
		return rows.Scan(&v.FlightNumber, &v.Registration, &v.Origin, &v.Destination, timeValue{&v.ScheduledDeparture})
	}, string(storage.StatusCancelled))
}

func (r *Reports) MultiModelCityPairs(ctx context.Context) ([]CityPair, error) {
	q := `
		SELECT ao.city, ad.city, COUNT(DISTINCT a.model) AS aircraft_models
		FROM flights f
		JOIN airport ao ON ao.iata_code = f.origin_code
		JOIN airport ad ON ad.iata_code = f.destination_code
		JOIN aircraft a ON a.registration = f.aircraft_registration
		GROUP BY ao.city, ad.city
		HAVING COUNT(DISTINCT a.model) > ` + r.ph(1) + `
		ORDER BY aircraft_models DESC, ao.city, ad.city`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *CityPair) error {
		return rows.Scan(&v.OriginCity, &v.DestinationCity, &v.Models)
	}, r.th.MinModels)
}

func (r *Reports) DelayedShareByDestination(ctx context.Context) ([]DelayedShare, error) {
	q := `
		SELECT ap.name,
			CAST(ROUND(SUM(CASE WHEN f.status = ` + r.ph(1) + ` THEN 1 ELSE 0 END) * 100.0 / COUNT(f.flight_id), 2) AS DOUBLE PRECISION) AS delayed_percentage
		FROM flights f
		JOIN airport ap ON ap.iata_code = f.destination_code
		GROUP BY ap.name
		ORDER BY delayed_percentage DESC, ap.name`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *DelayedShare) error {
		return rows.Scan(&v.Airport, &v.DelayedPct)
	}, string(storage.StatusDelayed))
}

// LatestDelays returns the newest snapshot per airport.
func (r *Reports) LatestDelays(ctx context.Context) ([]LatestDelay, error) {
	q := `
		SELECT d.airport_code, d.delay_date, d.total_flights, d.delayed_flights, d.canceled_flights,
			d.avg_delay_min, d.median_delay_min
		FROM airport_delays d
		WHERE d.delay_date = (SELECT MAX(x.delay_date) FROM airport_delays x WHERE x.airport_code = d.airport_code)
		ORDER BY d.airport_code`
	return query(ctx, r.db, q, func(rows *sql.Rows, v *LatestDelay) error {
		v.Approximate = true
		return rows.Scan(&v.AirportCode, timeValue{&v.Date}, &v.TotalFlights, &v.DelayedFlights,
			&v.CanceledFlights, &v.AvgDelayMin, &v.MedianDelayMin)
	})
}

// query runs q and scans every row. It never returns a nil slice on success.
func query[T any](ctx context.Context, db *sql.DB, q string, scan func(*sql.Rows, *T) error, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var v T
		if err := scan(rows, &v); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// timeValue scans a nullable timestamp stored natively (PostgreSQL) or as
// text (SQLite).
type timeValue struct {
	dst **time.Time
}

var textTimeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05Z07:00", "2006-01-02 15:04:05", "2006-01-02"}

func (v timeValue) Scan(src any) error {
	switch s := src.(type) {
	case nil:
		*v.dst = nil
		return nil
	case time.Time:
		t := s.UTC()
		*v.dst = &t
		return nil
	case []byte:
		return v.parse(string(s))
	case string:
		return v.parse(s)
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (v timeValue) parse(s string) error {
	for _, layout := range textTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			*v.dst = &t
			return nil
		}
	}
	return fmt.Errorf("unrecognised time %q", s)
}
