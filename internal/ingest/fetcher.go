// Package ingest implements the refresh pipeline: bounded-concurrency
// fetching of the rolling period window, order-insensitive merging of the
// per-period batches, and normalization into a published snapshot.
package ingest

import (
	"context"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/cliffchew84/sghousing/internal/utils"
	"github.com/rs/zerolog/log"
)

// DefaultWorkers is the default concurrency bound for period fetches,
// chosen to respect the upstream datastore's rate limits.
const DefaultWorkers = 4

// PeriodFetcher defines the interface for retrieving one period's raw
// records from the upstream source.
//
// This interface abstracts the datastore client so the fetch fan-out can be
// tested against fakes and is indifferent to the transport behind it.
type PeriodFetcher interface {
	// FetchPeriod retrieves the raw record batch for one calendar month.
	FetchPeriod(ctx context.Context, period string) (model.Batch, error)
}

// Fetcher fans one fetch per period out onto a bounded worker pool and
// collects the results.
//
// Failure isolation: a period whose fetch errors contributes an empty batch
// and is reported in the failed list; it never aborts sibling fetches or the
// overall run. Completion order across periods carries no meaning because the
// merger is order-insensitive.
type Fetcher struct {
	source  PeriodFetcher // Upstream period source
	workers int           // Concurrency bound for in-flight requests
}

// NewFetcher creates a Fetcher over the given source. A non-positive worker
// bound falls back to DefaultWorkers.
func NewFetcher(source PeriodFetcher, workers int) *Fetcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Fetcher{source: source, workers: workers}
}

// FetchAll retrieves every period in the window and blocks until each
// dispatched fetch has completed or failed. It returns one batch per period,
// index-aligned with the input, plus the list of periods whose fetch failed
// (their batches are empty, not missing).
func (f *Fetcher) FetchAll(ctx context.Context, periods []string) ([]model.Batch, []string) {
	batches := make([]model.Batch, len(periods))
	errs := make([]error, len(periods))

	pool := utils.NewWorkerPool(f.workers)
	for i, period := range periods {
		i, period := i, period
		pool.Submit(func() {
			batch, err := f.source.FetchPeriod(ctx, period)
			if err != nil {
				// Per-period failure degrades to an empty batch.
				log.Warn().Err(err).Str("period", period).Msg("period fetch failed")
				batches[i] = model.Batch{Period: period}
				errs[i] = err
				return
			}
			batches[i] = batch
		})
	}
	pool.Wait()

	var failed []string
	for i, err := range errs {
		if err != nil {
			failed = append(failed, periods[i])
		}
	}

	return batches, failed
}
