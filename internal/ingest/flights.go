package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/extractor"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// FlightCollector stores the departures feed of each airport and gathers
// the registrations it references.
type FlightCollector struct {
	deps *Deps
}

// NewFlightCollector creates a flight collector.
func NewFlightCollector(deps Deps) *FlightCollector {
	d := deps.withDefaults()
	return &FlightCollector{deps: &d}
}

// collection accumulates one cycle's output.
type collection struct {
	regs    []string
	flights []storage.Flight
}

// Run fetches each airport's feed and upserts its movements. The returned
// set holds every registration seen in stored flights this cycle.
func (c *FlightCollector) Run(ctx context.Context, runID string, codes []string) (RegistrationSet, events.StageReport, error) {
	var acc collection
	rep, err := c.deps.cycle(ctx, runID, StageFlights, func(tx storage.Tx, u unit) error {
		for _, code := range codes {
			if err := c.collectAirport(ctx, tx, u, code, &acc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RegistrationSet{}, rep, err
	}

	if c.deps.Archive != nil && len(acc.flights) > 0 {
		if err := c.deps.Archive.ArchiveFlights(ctx, runID, rep.FinishedAt, acc.flights); err != nil {
			c.deps.Logger.Warn("archive flights failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return NewRegistrationSet(acc.regs...), rep, nil
}

// collectAirport processes the feed of exactly one airport. The code is both
// the fetch key and the origin of every movement in the feed.
func (c *FlightCollector) collectAirport(ctx context.Context, tx storage.Tx, u unit, code string, acc *collection) error {
	codeField := zap.String("code", code)

	doc, err := c.deps.Provider.Departures(ctx, code)
	if err != nil {
		u.rep.Processed++
		return u.fetchFailed(ctx, codeField, err)
	}

	for _, entry := range doc.Departures {
		u.rep.Processed++
		m, ok := extractor.FlightFromMovement(code, entry)
		if !ok {
			c.deps.Logger.Debug("movement without registration or number, skipping",
				codeField, zap.String("number", entry.Number))
			u.skipped()
			continue
		}
		if len(m.BadTimestamps) > 0 {
			c.deps.Logger.Warn("unparsable timestamps stored as null",
				codeField, zap.String("number", m.Flight.FlightNumber), zap.Strings("fields", m.BadTimestamps))
		}

		if err := tx.UpsertFlight(ctx, m.Flight); err != nil {
			if aerr := u.writeFailed(zap.String("flight_id", m.Flight.ID), err); aerr != nil {
				return aerr
			}
			continue
		}
		u.written()
		acc.flights = append(acc.flights, m.Flight)
		acc.regs = append(acc.regs, m.Flight.AircraftRegistration)
	}
	return nil
}
