package ingest

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// fakeProvider serves canned documents and records every call.
type fakeProvider struct {
	mu         sync.Mutex
	airports   map[string]provider.AirportDoc
	departures map[string]provider.DeparturesDoc
	aircraft   map[string]provider.AircraftDoc
	delays     map[string]provider.DelayDoc
	errs       map[string]error // keyed by call, e.g. "airport:DEL"
	calls      []string
	onCall     func(call string)
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		airports:   map[string]provider.AirportDoc{},
		departures: map[string]provider.DeparturesDoc{},
		aircraft:   map[string]provider.AircraftDoc{},
		delays:     map[string]provider.DelayDoc{},
		errs:       map[string]error{},
	}
}

func (p *fakeProvider) record(ctx context.Context, call string) error {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	err := p.errs[call]
	hook := p.onCall
	p.mu.Unlock()
	if hook != nil {
		hook(call)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (p *fakeProvider) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *fakeProvider) CallCount(call string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == call {
			n++
		}
	}
	return n
}

func notFound(endpoint string) error {
	return &provider.CallError{Endpoint: endpoint, Status: 404, Attempts: 1, Err: provider.ErrNotFound}
}

func (p *fakeProvider) Airport(ctx context.Context, code string) (*provider.AirportDoc, error) {
	if err := p.record(ctx, "airport:"+code); err != nil {
		return nil, err
	}
	doc, ok := p.airports[code]
	if !ok {
		return nil, notFound("/airports/iata/" + code)
	}
	return &doc, nil
}

func (p *fakeProvider) Departures(ctx context.Context, code string) (*provider.DeparturesDoc, error) {
	if err := p.record(ctx, "departures:"+code); err != nil {
		return nil, err
	}
	doc, ok := p.departures[code]
	if !ok {
		return nil, notFound("/flights/airports/iata/" + code)
	}
	return &doc, nil
}

func (p *fakeProvider) Aircraft(ctx context.Context, reg string) (*provider.AircraftDoc, error) {
	if err := p.record(ctx, "aircraft:"+reg); err != nil {
		return nil, err
	}
	doc, ok := p.aircraft[reg]
	if !ok {
		return nil, notFound("/aircrafts/reg/" + reg)
	}
	return &doc, nil
}

func (p *fakeProvider) Delays(ctx context.Context, code string) (*provider.DelayDoc, error) {
	if err := p.record(ctx, "delays:"+code); err != nil {
		return nil, err
	}
	doc, ok := p.delays[code]
	if !ok {
		return nil, notFound("/airports/iata/" + code + "/delays")
	}
	return &doc, nil
}

// recorder implements Publisher and Archive.
type recorder struct {
	mu       sync.Mutex
	reports  []events.StageReport
	flights  []storage.Flight
	delays   []storage.DelayStat
	failWith error
}

func (r *recorder) PublishStage(ctx context.Context, rep events.StageReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	return r.failWith
}

func (r *recorder) ArchiveFlights(ctx context.Context, runID string, at time.Time, flights []storage.Flight) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flights = append(r.flights, flights...)
	return r.failWith
}

func (r *recorder) ArchiveDelays(ctx context.Context, runID string, at time.Time, stats []storage.DelayStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, stats...)
	return r.failWith
}

func (r *recorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reports))
	for i, rep := range r.reports {
		out[i] = rep.Stage
	}
	return out
}

func openStore(t *testing.T) *storage.SQLiteDB {
	t.Helper()
	db, err := storage.OpenSQLite(context.Background(), storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "ingest.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var testSeeds = []string{"DEL", "BOM"}

func movement(number, reg, dest, schedUTC, status string) provider.MovementEntry {
	return provider.MovementEntry{
		Number: number,
		Status: status,
		Movement: provider.Movement{
			Airport:       provider.MovementAirport{IATA: dest},
			ScheduledTime: provider.MovementTime{UTC: schedUTC},
		},
		Aircraft: provider.MovementAircraft{Reg: reg},
		Airline:  provider.MovementAirline{IATA: number[:2]},
	}
}

// seededProvider returns the fixture used across the pipeline tests:
// two airports, four storable movements, one registration-less movement,
// one registration unknown to the provider, and one empty delay summary.
func seededProvider() *fakeProvider {
	p := newFakeProvider()
	p.airports["DEL"] = provider.AirportDoc{
		ICAO: "VIDP", IATA: "DEL", FullName: "Indira Gandhi Intl", MunicipalityName: "New Delhi",
		Country: provider.Named{Name: "India"}, Continent: provider.Named{Name: "Asia"},
		Location: provider.Location{Lat: 28.57, Lon: 77.10}, TimeZone: "Asia/Kolkata",
	}
	p.airports["BOM"] = provider.AirportDoc{
		ICAO: "VABB", IATA: "BOM", FullName: "Chhatrapati Shivaji Maharaj Intl", MunicipalityName: "Mumbai",
		Country: provider.Named{Name: "India"}, Continent: provider.Named{Name: "Asia"},
		Location: provider.Location{Lat: 19.09, Lon: 72.87}, TimeZone: "Asia/Kolkata",
	}

	p.departures["DEL"] = provider.DeparturesDoc{Departures: []provider.MovementEntry{
		movement("AI 101", "VT-ANL", "BOM", "2024-03-01 04:30Z", "Departed"),
		movement("6E 2134", "VT-IFA", "BLR", "2024-03-01 05:10Z", "Expected"),
		movement("UK 955", "", "HYD", "2024-03-01 06:00Z", "Expected"),
	}}
	p.departures["BOM"] = provider.DeparturesDoc{Departures: []provider.MovementEntry{
		movement("AI 102", "VT-ANL", "DEL", "2024-03-01 09:00Z", "Delayed"),
		movement("UK 970", "VT-TNA", "DXB", "2024-03-01 09:30Z", "Canceled"),
	}}

	p.aircraft["VT-ANL"] = provider.AircraftDoc{Reg: "VT-ANL", Model: "Boeing 787-8", ProductionLine: "Boeing 787", ICAOCode: "B788", AirlineName: "Air India"}
	p.aircraft["VT-IFA"] = provider.AircraftDoc{Reg: "VT-IFA", Model: "Airbus A320neo", ProductionLine: "Airbus A320", ICAOCode: "A20N", AirlineName: "IndiGo"}

	p.delays["DEL"] = provider.DelayDoc{
		From:                       provider.MovementTime{UTC: "2024-03-01 00:00Z"},
		DeparturesDelayInformation: provider.DelayInformation{NumTotal: 10, NumQualifiedTotal: 3},
		ArrivalsDelayInformation:   provider.DelayInformation{NumTotal: 10, NumQualifiedTotal: 1},
	}
	p.delays["BOM"] = provider.DelayDoc{
		From: provider.MovementTime{UTC: "2024-03-01 00:00Z"},
	}
	return p
}
