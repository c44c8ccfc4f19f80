package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/extractor"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// DelayAggregator derives one delay snapshot per airport per day.
type DelayAggregator struct {
	deps *Deps
}

// NewDelayAggregator creates a delay aggregator.
func NewDelayAggregator(deps Deps) *DelayAggregator {
	d := deps.withDefaults()
	return &DelayAggregator{deps: &d}
}

// Run fetches the delay summary of every seed code and replaces the
// snapshot for its day. It does not depend on the airport catalog.
func (a *DelayAggregator) Run(ctx context.Context, runID string, codes []string) (events.StageReport, error) {
	var stats []storage.DelayStat
	rep, err := a.deps.cycle(ctx, runID, StageDelays, func(tx storage.Tx, u unit) error {
		for _, code := range codes {
			u.rep.Processed++
			s, ok, err := a.aggregate(ctx, tx, u, code)
			if err != nil {
				return err
			}
			if ok {
				stats = append(stats, s)
			}
		}
		return nil
	})
	if err != nil {
		return rep, err
	}

	if a.deps.Archive != nil && len(stats) > 0 {
		if err := a.deps.Archive.ArchiveDelays(ctx, runID, rep.FinishedAt, stats); err != nil {
			a.deps.Logger.Warn("archive delays failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return rep, nil
}

func (a *DelayAggregator) aggregate(ctx context.Context, tx storage.Tx, u unit, code string) (storage.DelayStat, bool, error) {
	field := zap.String("code", code)

	doc, err := a.deps.Provider.Delays(ctx, code)
	if err != nil {
		return storage.DelayStat{}, false, u.fetchFailed(ctx, field, err)
	}

	stat, err := extractor.DelayStat(code, *doc)
	switch {
	case errors.Is(err, extractor.ErrNoWindow), errors.Is(err, extractor.ErrNoTraffic):
		a.deps.Logger.Info("empty delay summary, skipping", field, zap.String("reason", err.Error()))
		u.skipped()
		return storage.DelayStat{}, false, nil
	case err != nil:
		a.deps.Logger.Warn("malformed delay summary, skipping", field, zap.Error(err))
		u.failed()
		return storage.DelayStat{}, false, nil
	}

	if err := tx.UpsertDelayStat(ctx, stat); err != nil {
		return storage.DelayStat{}, false, u.writeFailed(field, err)
	}
	u.written()
	return stat, true, nil
}
