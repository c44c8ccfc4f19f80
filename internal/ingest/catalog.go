package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/events"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/extractor"
	"github.com/bUNYrAbbito/Air-Tracker-Flight-Analytics/internal/storage"
)

// CatalogLoader resolves seed codes into airport rows.
type CatalogLoader struct {
	deps *Deps
}

// NewCatalogLoader creates a catalog loader.
func NewCatalogLoader(deps Deps) *CatalogLoader {
	d := deps.withDefaults()
	return &CatalogLoader{deps: &d}
}

// Run looks up every code in order and upserts the airports found. It
// returns the IATA codes that were stored, as reported by the provider, in
// seed order and without duplicates. Codes the provider does not know are
// logged and skipped.
func (c *CatalogLoader) Run(ctx context.Context, runID string, codes []string) ([]string, events.StageReport, error) {
	var loaded []string
	rep, err := c.deps.cycle(ctx, runID, StageAirports, func(tx storage.Tx, u unit) error {
		for _, code := range codes {
			u.rep.Processed++
			iata, err := c.loadAirport(ctx, tx, u, code)
			if err != nil {
				return err
			}
			if iata != "" {
				loaded = append(loaded, iata)
			}
		}
		return nil
	})
	if err != nil {
		return nil, rep, err
	}
	return NormaliseCodes(loaded), rep, nil
}

func (c *CatalogLoader) loadAirport(ctx context.Context, tx storage.Tx, u unit, code string) (string, error) {
	field := zap.String("code", code)

	doc, err := c.deps.Provider.Airport(ctx, code)
	if err != nil {
		return "", u.fetchFailed(ctx, field, err)
	}

	airport, err := extractor.Airport(*doc)
	if err != nil {
		c.deps.Logger.Warn("malformed airport document, skipping", field, zap.Error(err))
		u.failed()
		return "", nil
	}

	if err := tx.UpsertAirport(ctx, airport); err != nil {
		return "", u.writeFailed(field, err)
	}
	u.written()
	return airport.IATACode, nil
}
