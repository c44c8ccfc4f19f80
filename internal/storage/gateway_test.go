package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Keys used by the shared suite all start with ZZ or TEST so the Postgres
// run can clean up after itself.

func tp(t time.Time) *time.Time { return &t }

func withTx(t *testing.T, s Store, fn func(tx Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback(ctx) }()
	fn(tx)
	require.NoError(t, tx.Commit(ctx))
}

func runGatewaySuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("airport overwrite", func(t *testing.T) {
		withTx(t, s, func(tx Tx) {
			require.NoError(t, tx.UpsertAirport(ctx, Airport{
				ICAOCode: "ZZZA", IATACode: "ZZA", Name: "Alpha Intl", City: "Old City",
				Country: "India", Continent: "Asia", Latitude: 28.57, Longitude: 77.10, Timezone: "Asia/Kolkata",
			}))
		})
		withTx(t, s, func(tx Tx) {
			require.NoError(t, tx.UpsertAirport(ctx, Airport{
				ICAOCode: "ZZZA", IATACode: "ZZA", Name: "Alpha Intl", City: "New City",
				Country: "India", Continent: "Asia", Latitude: 28.57, Longitude: 77.10, Timezone: "Asia/Kolkata",
			}))
		})

		got, err := s.GetAirport(ctx, "ZZA")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "New City", got.City)
		assert.Equal(t, "ZZZA", got.ICAOCode)
		assert.Equal(t, "ZZA", got.IATACode)
	})

	t.Run("aircraft first write wins", func(t *testing.T) {
		withTx(t, s, func(tx Tx) {
			has, err := tx.HasAircraft(ctx, "TEST-N12345")
			require.NoError(t, err)
			assert.False(t, has)

			inserted, err := tx.InsertAircraft(ctx, Aircraft{Registration: "TEST-N12345", Model: "737"})
			require.NoError(t, err)
			assert.True(t, inserted)

			has, err = tx.HasAircraft(ctx, "TEST-N12345")
			require.NoError(t, err)
			assert.True(t, has)
		})
		withTx(t, s, func(tx Tx) {
			inserted, err := tx.InsertAircraft(ctx, Aircraft{Registration: "TEST-N12345", Model: "A320"})
			require.NoError(t, err)
			assert.False(t, inserted)
		})

		got, err := s.GetAircraft(ctx, "TEST-N12345")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "737", got.Model)
	})

	t.Run("flight upsert with soft references", func(t *testing.T) {
		dep := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
		f := Flight{
			ID:                   "TEST-flight-1",
			FlightNumber:         "AI 101",
			AircraftRegistration: "TEST-NOT-STORED",
			OriginCode:           "ZZA",
			DestinationCode:      "ZZQ",
			ScheduledDeparture:   tp(dep),
			Status:               StatusScheduled,
			AirlineCode:          "AI",
		}
		withTx(t, s, func(tx Tx) { require.NoError(t, tx.UpsertFlight(ctx, f)) })

		f.Status = StatusDelayed
		f.ActualDeparture = tp(dep.Add(25 * time.Minute))
		withTx(t, s, func(tx Tx) { require.NoError(t, tx.UpsertFlight(ctx, f)) })

		got, err := s.GetFlight(ctx, "TEST-flight-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, StatusDelayed, got.Status)
		assert.Equal(t, "ZZQ", got.DestinationCode)
		require.NotNil(t, got.ScheduledDeparture)
		assert.True(t, dep.Equal(*got.ScheduledDeparture))
		require.NotNil(t, got.ActualDeparture)
		assert.True(t, dep.Add(25*time.Minute).Equal(*got.ActualDeparture))
		assert.Nil(t, got.ScheduledArrival)
		assert.Nil(t, got.ActualArrival)
	})

	t.Run("delay stat replace", func(t *testing.T) {
		day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
		withTx(t, s, func(tx Tx) {
			require.NoError(t, tx.UpsertDelayStat(ctx, DelayStat{
				AirportCode: "ZZA", Date: day.Add(6 * time.Hour), TotalFlights: 10, DelayedFlights: 1,
				AvgDelayMin: 6, MedianDelayMin: 6,
			}))
		})
		withTx(t, s, func(tx Tx) {
			require.NoError(t, tx.UpsertDelayStat(ctx, DelayStat{
				AirportCode: "ZZA", Date: day, TotalFlights: 20, DelayedFlights: 4, CanceledFlights: 2,
				AvgDelayMin: 12, MedianDelayMin: 12,
			}))
		})

		got, err := s.GetDelayStat(ctx, "ZZA", day)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, 20, got.TotalFlights)
		assert.Equal(t, 4, got.DelayedFlights)
		assert.Equal(t, 2, got.CanceledFlights)
		assert.InDelta(t, 12.0, got.AvgDelayMin, 1e-9)
		assert.True(t, day.Equal(got.Date))
	})

	t.Run("constraint violation is isolated", func(t *testing.T) {
		withTx(t, s, func(tx Tx) {
			// Same ICAO as ZZA under a different IATA code.
			err := tx.UpsertAirport(ctx, Airport{ICAOCode: "ZZZA", IATACode: "ZZX"})
			require.Error(t, err)
			assert.True(t, IsConstraintViolation(err))

			err = tx.UpsertFlight(ctx, Flight{ID: "TEST-bad-status", FlightNumber: "X1", OriginCode: "ZZA", Status: "Boarding"})
			require.Error(t, err)
			assert.True(t, IsConstraintViolation(err))

			// The cycle transaction is still usable.
			require.NoError(t, tx.UpsertAirport(ctx, Airport{ICAOCode: "ZZZB", IATACode: "ZZB", City: "Beta"}))
		})

		missing, err := s.GetAirport(ctx, "ZZX")
		require.NoError(t, err)
		assert.Nil(t, missing)

		got, err := s.GetAirport(ctx, "ZZB")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Beta", got.City)
	})

	t.Run("rollback discards cycle", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.UpsertAirport(ctx, Airport{ICAOCode: "ZZZC", IATACode: "ZZC"}))
		require.NoError(t, tx.Rollback(ctx))

		got, err := s.GetAirport(ctx, "ZZC")
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("rollback after commit", func(t *testing.T) {
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
		assert.NoError(t, tx.Rollback(ctx))
	})

	t.Run("lookups miss cleanly", func(t *testing.T) {
		a, err := s.GetAircraft(ctx, "TEST-NONE")
		require.NoError(t, err)
		assert.Nil(t, a)

		f, err := s.GetFlight(ctx, "TEST-none")
		require.NoError(t, err)
		assert.Nil(t, f)

		d, err := s.GetDelayStat(ctx, "ZZN", time.Now())
		require.NoError(t, err)
		assert.Nil(t, d)
	})
}
