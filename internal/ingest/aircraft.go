package ingest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/extractor"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// AircraftResolver looks up registrations the store does not know yet.
// Registrations resolved or reported missing are remembered for the
// lifetime of the resolver, so later cycles do not spend calls on them.
type AircraftResolver struct {
	deps *Deps

	mu       sync.Mutex
	resolved map[string]struct{}
}

// NewAircraftResolver creates an aircraft resolver.
func NewAircraftResolver(deps Deps) *AircraftResolver {
	d := deps.withDefaults()
	return &AircraftResolver{deps: &d, resolved: make(map[string]struct{})}
}

// Run resolves every registration in set at most once. Aircraft already
// stored cost no provider call and no write. Registrations stored by the
// cycle are remembered only once it commits.
func (r *AircraftResolver) Run(ctx context.Context, runID string, set RegistrationSet) (events.StageReport, error) {
	var pending []string
	rep, err := r.deps.cycle(ctx, runID, StageAircraft, func(tx storage.Tx, u unit) error {
		for _, reg := range set.All() {
			u.rep.Processed++
			stored, err := r.resolve(ctx, tx, u, reg)
			if err != nil {
				return err
			}
			if stored {
				pending = append(pending, reg)
			}
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	r.remember(pending...)
	return rep, nil
}

// resolve reports whether reg is stored by the current transaction.
func (r *AircraftResolver) resolve(ctx context.Context, tx storage.Tx, u unit, reg string) (bool, error) {
	field := zap.String("registration", reg)

	if r.known(reg) {
		u.skipped()
		return false, nil
	}
	has, err := tx.HasAircraft(ctx, reg)
	if err != nil {
		return false, &abortError{err: err}
	}
	if has {
		u.skipped()
		return true, nil
	}

	doc, err := r.deps.Provider.Aircraft(ctx, reg)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			r.remember(reg)
		}
		return false, u.fetchFailed(ctx, field, err)
	}

	inserted, err := tx.InsertAircraft(ctx, extractor.Aircraft(*doc, reg))
	if err != nil {
		return false, u.writeFailed(field, err)
	}
	if !inserted {
		u.skipped()
		return true, nil
	}
	u.written()
	return true, nil
}

func (r *AircraftResolver) known(reg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resolved[reg]
	return ok
}

func (r *AircraftResolver) remember(regs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range regs {
		r.resolved[reg] = struct{}{}
	}
}
