package report

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

func at(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func flight(id, number, reg, origin, dest string, status storage.FlightStatus) storage.Flight {
	return storage.Flight{
		ID:                   id,
		FlightNumber:         number,
		AircraftRegistration: reg,
		OriginCode:           origin,
		DestinationCode:      dest,
		Status:               status,
		AirlineCode:          number[:2],
	}
}

// seed loads a small network: three known airports with traffic, one
// without arrivals, an unknown aircraft and an unknown destination.
func seed(t *testing.T) *Reports {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{Path: filepath.Join(t.TempDir(), "report.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tx, err := db.Begin(ctx)
	require.NoError(t, err)

	for _, a := range []storage.Airport{
		{ICAOCode: "VIDP", IATACode: "DEL", Name: "Indira Gandhi International", City: "New Delhi", Country: "India"},
		{ICAOCode: "VABB", IATACode: "BOM", Name: "Chhatrapati Shivaji Maharaj International", City: "Mumbai", Country: "India"},
		{ICAOCode: "OMDB", IATACode: "DXB", Name: "Dubai International", City: "Dubai", Country: "United Arab Emirates"},
		{ICAOCode: "EGLL", IATACode: "LHR", Name: "Heathrow", City: "London", Country: "United Kingdom"},
	} {
		require.NoError(t, tx.UpsertAirport(ctx, a))
	}
	for _, a := range []storage.Aircraft{
		{Registration: "VT-A", Model: "A320"},
		{Registration: "VT-B", Model: "B737"},
		{Registration: "A6-C", Model: "B787"},
	} {
		_, err := tx.InsertAircraft(ctx, a)
		require.NoError(t, err)
	}

	flights := []storage.Flight{
		flight("f1", "AI 1", "VT-A", "DEL", "BOM", storage.StatusOnTime),
		flight("f2", "AI 2", "VT-A", "BOM", "DEL", storage.StatusDelayed),
		flight("f3", "AI 3", "VT-B", "BOM", "DEL", storage.StatusCancelled),
		flight("f4", "EK 1", "A6-C", "DXB", "DEL", storage.StatusOnTime),
		flight("f5", "EK 2", "A6-C", "DEL", "DXB", storage.StatusDelayed),
		flight("f6", "6E 1", "VT-X", "DEL", "BLR", storage.StatusScheduled),
		flight("f7", "AI 4", "VT-B", "BOM", "DEL", storage.StatusOnTime),
		flight("f8", "EK 3", "A6-C", "DXB", "BOM", storage.StatusOnTime),
	}
	flights[1].ScheduledArrival, flights[1].ActualArrival = at("2024-03-01T06:00:00Z"), at("2024-03-01T06:30:00Z")
	flights[2].ScheduledArrival = at("2024-03-01T09:00:00Z")
	flights[2].ScheduledDeparture = at("2024-03-01T07:00:00Z")
	flights[3].ScheduledArrival = at("2024-03-01T08:00:00Z")
	for _, f := range flights {
		require.NoError(t, tx.UpsertFlight(ctx, f))
	}

	for _, d := range []storage.DelayStat{
		{AirportCode: "DEL", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), TotalFlights: 10, DelayedFlights: 1, AvgDelayMin: 6, MedianDelayMin: 6},
		{AirportCode: "DEL", Date: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), TotalFlights: 20, DelayedFlights: 4, AvgDelayMin: 12, MedianDelayMin: 12},
		{AirportCode: "BOM", Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), TotalFlights: 5, DelayedFlights: 0},
	} {
		require.NoError(t, tx.UpsertDelayStat(ctx, d))
	}
	require.NoError(t, tx.Commit(ctx))

	sqlDB, dialect := db.SQL()
	return New(sqlDB, dialect, Thresholds{
		Hub:             "del",
		MinAircraftUses: 1,
		MinOutbound:     2,
		MinModels:       1,
		TopDestinations: 2,
		RecentArrivals:  3,
	})
}

func TestFlightsPerModel(t *testing.T) {
	got, err := seed(t).FlightsPerModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelFlights{{"B787", 3}, {"A320", 2}, {"B737", 2}}, got)
}

func TestBusyAircraft(t *testing.T) {
	got, err := seed(t).BusyAircraft(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AircraftUsage{{"A6-C", "B787", 3}, {"VT-A", "A320", 2}, {"VT-B", "B737", 2}}, got)
}

func TestBusyAirports(t *testing.T) {
	got, err := seed(t).BusyAirports(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AirportOutbound{
		{"Chhatrapati Shivaji Maharaj International", 3},
		{"Indira Gandhi International", 3},
	}, got)
}

func TestTopDestinations(t *testing.T) {
	got, err := seed(t).TopDestinations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Destination{
		{"Indira Gandhi International", "New Delhi", 4},
		{"Chhatrapati Shivaji Maharaj International", "Mumbai", 2},
	}, got)
}

func TestDomesticInternational(t *testing.T) {
	got, err := seed(t).DomesticInternational(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 7, "flights to unknown airports are not classified")

	types := map[string]string{}
	for _, f := range got {
		types[f.FlightNumber] = f.Type
	}
	assert.Equal(t, "Domestic", types["AI 1"])
	assert.Equal(t, "International", types["EK 1"])
	assert.Equal(t, "International", types["EK 3"])
}

func TestRecentArrivals(t *testing.T) {
	got, err := seed(t).RecentArrivals(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "AI 3", got[0].FlightNumber)
	assert.Equal(t, "EK 1", got[1].FlightNumber)
	assert.Equal(t, "AI 2", got[2].FlightNumber, "actual arrival wins over scheduled")
	require.NotNil(t, got[2].ArrivalTime)
	assert.True(t, got[2].ArrivalTime.Equal(*at("2024-03-01T06:30:00Z")))
	assert.Equal(t, "Chhatrapati Shivaji Maharaj International", got[0].DepartureAirport)
}

func TestAirportsWithoutArrivals(t *testing.T) {
	got, err := seed(t).AirportsWithoutArrivals(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AirportRef{{"LHR", "Heathrow"}}, got)
}

func TestStatusByAirline(t *testing.T) {
	got, err := seed(t).StatusByAirline(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []AirlineStatus{
		{"6E", 0, 0, 0},
		{"AI", 2, 1, 1},
		{"EK", 2, 1, 0},
	}, got)
}

func TestCancelledFlights(t *testing.T) {
	got, err := seed(t).CancelledFlights(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AI 3", got[0].FlightNumber)
	assert.Equal(t, "VT-B", got[0].Registration)
	require.NotNil(t, got[0].ScheduledDeparture)
	assert.True(t, got[0].ScheduledDeparture.Equal(*at("2024-03-01T07:00:00Z")))
}

func TestMultiModelCityPairs(t *testing.T) {
	got, err := seed(t).MultiModelCityPairs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []CityPair{{"Mumbai", "New Delhi", 2}}, got)
}

func TestDelayedShareByDestination(t *testing.T) {
	got, err := seed(t).DelayedShareByDestination(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []DelayedShare{
		{"Dubai International", 100},
		{"Indira Gandhi International", 25},
		{"Chhatrapati Shivaji Maharaj International", 0},
	}, got)
}

func TestLatestDelays(t *testing.T) {
	got, err := seed(t).LatestDelays(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "BOM", got[0].AirportCode)
	assert.Equal(t, "DEL", got[1].AirportCode)
	require.NotNil(t, got[1].Date)
	assert.Equal(t, "2024-03-02", got[1].Date.Format("2006-01-02"))
	assert.Equal(t, int64(20), got[1].TotalFlights)
	assert.InDelta(t, 12.0, got[1].AvgDelayMin, 1e-9)
	assert.True(t, got[1].Approximate)
}

func TestRunByName(t *testing.T) {
	r := seed(t)

	res, err := r.Run(context.Background(), "latest-delays")
	require.NoError(t, err)
	assert.Equal(t, "latest-delays", res.Name)
	assert.NotEmpty(t, res.Note)

	_, err = r.Run(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownReport)

	for _, d := range Definitions() {
		_, err := r.Run(context.Background(), d.Name)
		assert.NoError(t, err, d.Name)
	}
}

func TestEmptyStoreYieldsEmptyRows(t *testing.T) {
	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, storage.SQLiteConfig{})
	require.NoError(t, err)
	defer db.Close()

	sqlDB, dialect := db.SQL()
	got, err := New(sqlDB, dialect, DefaultThresholds()).FlightsPerModel(ctx)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestTimeValueScan(t *testing.T) {
	var dst *time.Time
	v := timeValue{&dst}

	require.NoError(t, v.Scan("2024-03-01T06:30:00Z"))
	require.NotNil(t, dst)
	assert.Equal(t, 6, dst.Hour())

	require.NoError(t, v.Scan([]byte("2024-03-02")))
	assert.Equal(t, 2, dst.Day())

	require.NoError(t, v.Scan(nil))
	assert.Nil(t, dst)

	assert.Error(t, v.Scan(42))
}
