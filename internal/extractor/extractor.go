// Package extractor maps provider documents onto storage rows. It owns the
// defaulting rules for absent fields, timestamp parsing, status
// normalisation and flight identity derivation. It performs no I/O.
package extractor

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// flightNamespace scopes name-based flight IDs to this project.
var flightNamespace = uuid.MustParse("6f1c2a4e-8d3b-5e7a-9c41-2b7d0e5f3a18")

var (
	// ErrMissingKey means an airport document lacks its ICAO or IATA code.
	ErrMissingKey = errors.New("document lacks a key field")
	// ErrNoWindow means a delay summary has no window start.
	ErrNoWindow = errors.New("delay summary has no window start")
	// ErrNoTraffic means a delay summary counts zero flights.
	ErrNoTraffic = errors.New("delay summary counts no flights")
)

// timestampLayouts are tried in order. Layouts without an offset are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp parses an ISO-8601 style timestamp. An empty value yields
// nil without error. The result is always in UTC.
func ParseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", s)
}

// NormaliseFlightNumber uppercases, removes whitespace and strips leading
// zeros from the numeric part. For example "ai 0101" becomes "AI101" and
// "UAL0042" becomes "UAL42".
func NormaliseFlightNumber(flightNum string) string {
	flightNum = strings.ToUpper(strings.Join(strings.Fields(flightNum), ""))
	if flightNum == "" {
		return ""
	}

	// Find where the numeric part starts.
	for i, r := range flightNum {
		if r >= '0' && r <= '9' {
			prefix := flightNum[:i]
			numPart := strings.TrimLeft(flightNum[i:], "0")
			if numPart == "" {
				numPart = "0" // Preserve at least one zero for flight "000".
			}
			return prefix + numPart
		}
	}

	// No numeric part found, return as-is.
	return flightNum
}

// FlightID derives the identity of a movement from its natural key. The same
// flight number, scheduled departure instant and origin always yield the
// same ID regardless of spacing, case or the offset the time was written in.
func FlightID(flightNumber string, scheduledDeparture *time.Time, originCode string) string {
	dep := ""
	if scheduledDeparture != nil {
		dep = scheduledDeparture.UTC().Format(time.RFC3339)
	}
	key := NormaliseFlightNumber(flightNumber) + "|" + dep + "|" + strings.ToUpper(strings.TrimSpace(originCode))
	return uuid.NewSHA1(flightNamespace, []byte(key)).String()
}

// NormaliseStatus maps a provider status string onto the stored enum.
func NormaliseStatus(s string) storage.FlightStatus {
	key := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s))
	switch key {
	case "scheduled", "expected", "checkin", "boarding", "gateclosed":
		return storage.StatusScheduled
	case "ontime", "departed", "enroute", "approaching", "arrived":
		return storage.StatusOnTime
	case "delayed":
		return storage.StatusDelayed
	case "canceled", "cancelled", "canceleduncertain":
		return storage.StatusCancelled
	case "diverted":
		return storage.StatusDiverted
	default:
		return storage.StatusUnknown
	}
}

// Airport maps an airport document. Absent descriptive fields default to
// empty or zero; an absent key field is an error.
func Airport(doc provider.AirportDoc) (storage.Airport, error) {
	a := storage.Airport{
		ICAOCode:  strings.ToUpper(strings.TrimSpace(doc.ICAO)),
		IATACode:  strings.ToUpper(strings.TrimSpace(doc.IATA)),
		Name:      strings.TrimSpace(doc.FullName),
		City:      strings.TrimSpace(doc.MunicipalityName),
		Country:   strings.TrimSpace(doc.Country.Name),
		Continent: strings.TrimSpace(doc.Continent.Name),
		Latitude:  doc.Location.Lat,
		Longitude: doc.Location.Lon,
		Timezone:  strings.TrimSpace(doc.TimeZone),
	}
	if a.Name == "" {
		a.Name = strings.TrimSpace(doc.ShortName)
	}
	if a.ICAOCode == "" || a.IATACode == "" {
		return a, fmt.Errorf("airport icao=%q iata=%q: %w", a.ICAOCode, a.IATACode, ErrMissingKey)
	}
	return a, nil
}

// Aircraft maps an aircraft document. When the document omits its
// registration the requested one is used.
func Aircraft(doc provider.AircraftDoc, requested string) storage.Aircraft {
	reg := strings.TrimSpace(doc.Reg)
	if reg == "" {
		reg = requested
	}
	return storage.Aircraft{
		Registration: reg,
		Model:        strings.TrimSpace(doc.Model),
		Manufacturer: strings.TrimSpace(doc.ProductionLine),
		ICAOTypeCode: strings.TrimSpace(doc.ICAOCode),
		Owner:        strings.TrimSpace(doc.AirlineName),
	}
}

// Movement is the outcome of mapping one departures feed entry.
type Movement struct {
	Flight storage.Flight
	// BadTimestamps names the fields whose values could not be parsed. Those
	// fields are stored as null.
	BadTimestamps []string
}

// FlightFromMovement maps a feed entry observed at origin. It reports false
// for entries without an aircraft registration or flight number, which are
// not stored.
func FlightFromMovement(origin string, e provider.MovementEntry) (Movement, bool) {
	reg := strings.TrimSpace(e.Aircraft.Reg)
	number := strings.TrimSpace(e.Number)
	if reg == "" || number == "" {
		return Movement{}, false
	}

	var m Movement
	parse := func(field, v string) *time.Time {
		t, err := ParseTimestamp(v)
		if err != nil {
			m.BadTimestamps = append(m.BadTimestamps, field+"="+v)
			return nil
		}
		return t
	}

	origin = strings.ToUpper(strings.TrimSpace(origin))
	f := storage.Flight{
		FlightNumber:         number,
		AircraftRegistration: reg,
		OriginCode:           origin,
		DestinationCode:      strings.ToUpper(strings.TrimSpace(e.Movement.Airport.IATA)),
		ScheduledDeparture:   parse("scheduled_departure", e.Movement.ScheduledTime.UTC),
		ActualDeparture:      parse("actual_departure", e.Movement.RevisedTime.Local),
		ScheduledArrival:     parse("scheduled_arrival", e.Movement.ScheduledTime.Local),
		ActualArrival:        parse("actual_arrival", e.Movement.RevisedTime.UTC),
		Status:               NormaliseStatus(e.Status),
		AirlineCode:          strings.ToUpper(strings.TrimSpace(e.Airline.IATA)),
	}
	f.ID = FlightID(f.FlightNumber, f.ScheduledDeparture, f.OriginCode)
	m.Flight = f
	return m, true
}

// DelayStat derives the daily snapshot from a delay summary. The delay
// minutes are an approximation: delayed/total*60, rounded to two decimals,
// used for both average and median.
func DelayStat(code string, doc provider.DelayDoc) (storage.DelayStat, error) {
	from := strings.TrimSpace(doc.From.UTC)
	if from == "" {
		return storage.DelayStat{}, ErrNoWindow
	}
	day, err := windowDay(from)
	if err != nil {
		return storage.DelayStat{}, err
	}

	dep, arr := doc.DeparturesDelayInformation, doc.ArrivalsDelayInformation
	total := dep.NumTotal + arr.NumTotal
	delayed := dep.NumQualifiedTotal + arr.NumQualifiedTotal
	canceled := dep.NumCancelled + arr.NumCancelled
	if total <= 0 {
		return storage.DelayStat{}, ErrNoTraffic
	}

	approx := math.Round(float64(delayed)/float64(total)*60*100) / 100
	return storage.DelayStat{
		AirportCode:     strings.ToUpper(strings.TrimSpace(code)),
		Date:            day,
		TotalFlights:    total,
		DelayedFlights:  delayed,
		CanceledFlights: canceled,
		AvgDelayMin:     approx,
		MedianDelayMin:  approx,
	}, nil
}

// windowDay truncates a window start to its UTC calendar date.
func windowDay(s string) (time.Time, error) {
	t, err := ParseTimestamp(s)
	if err != nil {
		if len(s) < 10 {
			return time.Time{}, fmt.Errorf("window start: %w", err)
		}
		d, derr := time.Parse("2006-01-02", s[:10])
		if derr != nil {
			return time.Time{}, fmt.Errorf("window start: %w", err)
		}
		return d, nil
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC), nil
}
