// Package ingest implements the pipeline stages: airport catalog, flight
// collection, aircraft enrichment and delay aggregation. Stages run one at a
// time and make one provider call at a time. Each stage cycle writes through
// a single storage transaction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/metrics"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/provider"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// Stage names, used in logs, metrics and event subjects.
const (
	StageAirports = "airports"
	StageFlights  = "flights"
	StageAircraft = "aircraft"
	StageDelays   = "delays"
)

// Provider is the subset of the provider client the stages call.
type Provider interface {
	Airport(ctx context.Context, code string) (*provider.AirportDoc, error)
	Departures(ctx context.Context, code string) (*provider.DeparturesDoc, error)
	Aircraft(ctx context.Context, registration string) (*provider.AircraftDoc, error)
	Delays(ctx context.Context, code string) (*provider.DelayDoc, error)
}

// Archive receives history rows after a cycle commits.
type Archive interface {
	ArchiveFlights(ctx context.Context, runID string, observedAt time.Time, flights []storage.Flight) error
	ArchiveDelays(ctx context.Context, runID string, observedAt time.Time, stats []storage.DelayStat) error
}

// Publisher announces committed cycles.
type Publisher interface {
	PublishStage(ctx context.Context, r events.StageReport) error
}

// Deps are the collaborators shared by every stage. Store and Provider are
// required; the rest may be nil.
type Deps struct {
	Store     storage.Store
	Provider  Provider
	Archive   Archive
	Publisher Publisher
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// abortError stops the run: rejected credentials, cancellation or a store
// failure that is not a per-record constraint violation.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

// unit records the outcome of one code, registration or movement entry.
type unit struct {
	stage string
	deps  *Deps
	rep   *events.StageReport
}

func (u unit) written() {
	u.rep.Written++
	u.deps.Metrics.RecordResult(u.stage, "written")
}

func (u unit) skipped() {
	u.rep.Skipped++
	u.deps.Metrics.RecordResult(u.stage, "skipped")
}

func (u unit) failed() {
	u.rep.Failed++
	u.deps.Metrics.RecordResult(u.stage, "failed")
}

// fetchFailed classifies a provider error for one unit. It returns a non-nil
// error only when the run must stop.
func (u unit) fetchFailed(ctx context.Context, field zap.Field, err error) error {
	switch {
	case ctx.Err() != nil:
		return &abortError{err: ctx.Err()}
	case provider.Fatal(err):
		u.deps.Logger.Error("provider rejected credentials", zap.String("stage", u.stage), field, zap.Error(err))
		return &abortError{err: err}
	case errors.Is(err, provider.ErrNotFound):
		u.deps.Logger.Info("not found at provider, skipping", zap.String("stage", u.stage), field)
		u.skipped()
	default:
		u.deps.Logger.Warn("provider call failed, skipping", zap.String("stage", u.stage), field, zap.Error(err))
		u.failed()
	}
	return nil
}

// writeFailed classifies a store error for one record.
func (u unit) writeFailed(field zap.Field, err error) error {
	if storage.IsConstraintViolation(err) {
		u.deps.Logger.Warn("write rejected, skipping", zap.String("stage", u.stage), field, zap.Error(err))
		u.failed()
		return nil
	}
	return &abortError{err: err}
}

// cycle runs fn inside one transaction. The transaction is committed when fn
// succeeds and rolled back on every other path.
func (d *Deps) cycle(ctx context.Context, runID, stage string, fn func(tx storage.Tx, u unit) error) (events.StageReport, error) {
	rep := events.StageReport{RunID: runID, Stage: stage, StartedAt: d.Now().UTC()}
	log := d.Logger.With(zap.String("stage", stage), zap.String("run_id", runID))
	committed := false
	defer func() {
		d.Metrics.ObserveStage(stage, committed, d.Now().Sub(rep.StartedAt))
	}()

	tx, err := d.Store.Begin(ctx)
	if err != nil {
		return rep, fmt.Errorf("%s: %w", stage, err)
	}
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil {
				log.Warn("rollback failed", zap.Error(rbErr))
			}
		}
	}()

	if err := fn(tx, unit{stage: stage, deps: d, rep: &rep}); err != nil {
		log.Error("stage aborted, rolling back", zap.Error(err))
		return rep, fmt.Errorf("%s: %w", stage, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return rep, fmt.Errorf("%s: commit: %w", stage, err)
	}
	committed = true
	rep.FinishedAt = d.Now().UTC()

	log.Info("stage committed",
		zap.Int("processed", rep.Processed),
		zap.Int("written", rep.Written),
		zap.Int("skipped", rep.Skipped),
		zap.Int("failed", rep.Failed),
	)
	if d.Publisher != nil {
		if err := d.Publisher.PublishStage(ctx, rep); err != nil {
			log.Warn("publish stage report failed", zap.Error(err))
		}
	}
	return rep, nil
}

// RegistrationSet is an immutable, sorted, duplicate-free set of aircraft
// registrations.
type RegistrationSet struct {
	regs []string
}

// NewRegistrationSet builds a set from regs, dropping blanks and duplicates.
func NewRegistrationSet(regs ...string) RegistrationSet {
	seen := make(map[string]struct{}, len(regs))
	out := make([]string, 0, len(regs))
	for _, r := range regs {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	sort.Strings(out)
	return RegistrationSet{regs: out}
}

// Len returns the number of registrations.
func (s RegistrationSet) Len() int { return len(s.regs) }

// All returns a copy of the registrations in sorted order.
func (s RegistrationSet) All() []string {
	return append([]string(nil), s.regs...)
}

// Contains reports whether reg is in the set.
func (s RegistrationSet) Contains(reg string) bool {
	i := sort.SearchStrings(s.regs, reg)
	return i < len(s.regs) && s.regs[i] == reg
}

// NormaliseCodes uppercases codes and drops blanks and duplicates, keeping
// first-seen order.
func NormaliseCodes(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}
