package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()

	cfg := DefaultConfig().ClickHouse
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		cfg.Host = v
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	ch, err := OpenClickHouse(ctx, cfg)
	if err != nil {
		return nil
	}
	if err := ch.CreateSchema(ctx); err != nil {
		_ = ch.Close()
		return nil
	}
	return ch
}

func TestClickHouseArchive(t *testing.T) {
	ch := setupTestClickHouse(t)
	if ch == nil {
		t.Skip("No ClickHouse connection available")
	}
	defer ch.Close()

	ctx := context.Background()
	id := "TEST-" + time.Now().Format("150405.000000")
	dep := time.Date(2024, 3, 1, 4, 30, 0, 0, time.UTC)
	f := Flight{ID: id, FlightNumber: "AI 101", OriginCode: "DEL", ScheduledDeparture: &dep, Status: StatusScheduled}

	require.NoError(t, ch.ArchiveFlights(ctx, "run-a", time.Now(), []Flight{f}))
	require.NoError(t, ch.ArchiveFlights(ctx, "run-b", time.Now(), []Flight{f}))

	n, err := ch.ObservationCount(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n, "archive keeps every observation")

	require.NoError(t, ch.ArchiveDelays(ctx, "run-a", time.Now(), []DelayStat{{AirportCode: "ZZA", Date: dep, TotalFlights: 20}}))
	assert.NoError(t, ch.ArchiveFlights(ctx, "run-c", time.Now(), nil))
}
