package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
)

// ErrStoreUnavailable means the store could not be reached before the run.
var ErrStoreUnavailable = errors.New("store unavailable")

// Pipeline runs the four stages in order: catalog, flights, aircraft, delays.
type Pipeline struct {
	deps  Deps
	seeds []string

	Catalog  *CatalogLoader
	Flights  *FlightCollector
	Aircraft *AircraftResolver
	Delays   *DelayAggregator
}

// NewPipeline wires the stages over shared dependencies.
func NewPipeline(deps Deps, seeds []string) *Pipeline {
	deps = deps.withDefaults()
	return &Pipeline{
		deps:     deps,
		seeds:    NormaliseCodes(seeds),
		Catalog:  NewCatalogLoader(deps),
		Flights:  NewFlightCollector(deps),
		Aircraft: NewAircraftResolver(deps),
		Delays:   NewDelayAggregator(deps),
	}
}

// Seeds returns the normalised seed codes.
func (p *Pipeline) Seeds() []string {
	return append([]string(nil), p.seeds...)
}

// Summary reports one run.
type Summary struct {
	RunID    string               `json:"run_id"`
	Stages   []events.StageReport `json:"stages"`
	Duration time.Duration        `json:"duration"`
}

// Run executes one full pass. Unit failures are absorbed by the stages; an
// error here means the run was aborted. Stages committed before the abort
// stay committed.
func (p *Pipeline) Run(ctx context.Context) (s Summary, err error) {
	start := p.deps.Now()
	s.RunID = uuid.NewString()
	log := p.deps.Logger.With(zap.String("run_id", s.RunID))
	defer func() { s.Duration = p.deps.Now().Sub(start) }()

	if err := p.deps.Store.Ping(ctx); err != nil {
		return s, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	log.Info("run started", zap.Strings("seeds", p.seeds))

	codes, rep, err := p.Catalog.Run(ctx, s.RunID, p.seeds)
	s.Stages = append(s.Stages, rep)
	if err != nil {
		return s, err
	}

	regs, rep, err := p.Flights.Run(ctx, s.RunID, codes)
	s.Stages = append(s.Stages, rep)
	if err != nil {
		return s, err
	}

	rep, err = p.Aircraft.Run(ctx, s.RunID, regs)
	s.Stages = append(s.Stages, rep)
	if err != nil {
		return s, err
	}

	// Delays are keyed by seed code and ignore the catalog outcome.
	rep, err = p.Delays.Run(ctx, s.RunID, p.seeds)
	s.Stages = append(s.Stages, rep)
	if err != nil {
		return s, err
	}

	log.Info("run finished",
		zap.Int("airports", len(codes)),
		zap.Int("registrations", regs.Len()),
		zap.Duration("duration", p.deps.Now().Sub(start)),
	)
	return s, nil
}
