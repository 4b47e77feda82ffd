package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cliffchew84/sghousing/internal/datagov"
	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/cliffchew84/sghousing/internal/normalize"
	"github.com/rs/zerolog/log"
)

// ErrEmptyDataset is the distinguished result of a refresh cycle in which
// every period fetched empty or every row was dropped. It marks "there is no
// data" rather than a transport or schema failure.
var ErrEmptyDataset = errors.New("empty dataset after refresh")

// defaultRefresherConfig provides default values for the refresh pipeline.
var defaultRefresherConfig = RefresherConfig{
	Window: datagov.RecentWindow,
	Now:    time.Now,
}

// RefresherConfig holds configuration parameters for the Refresher.
type RefresherConfig struct {
	// Window is the number of trailing periods ingested per cycle.
	Window int

	// Now supplies the clock used to enumerate the rolling window. Injected
	// so tests can pin the window.
	Now func() time.Time
}

// Refresher runs one full refresh cycle: enumerate the rolling window, fetch
// every period concurrently, merge, normalize, and materialize an immutable
// snapshot with its presentation metadata and diagnostics.
type Refresher struct {
	cfg        RefresherConfig
	fetcher    *Fetcher
	normalizer *normalize.Normalizer
}

// NewRefresher creates a Refresher over the given fetcher. If cfg is nil the
// defaults (six-period window, wall clock) are used; partial configs are
// merged against the defaults.
func NewRefresher(fetcher *Fetcher, cfg *RefresherConfig) *Refresher {
	if cfg == nil {
		cfg = &defaultRefresherConfig
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultRefresherConfig.Window
	}
	if cfg.Now == nil {
		cfg.Now = defaultRefresherConfig.Now
	}

	return &Refresher{
		cfg:        *cfg,
		fetcher:    fetcher,
		normalizer: normalize.NewNormalizer(),
	}
}

// Refresh executes one refresh cycle and returns the resulting snapshot.
//
// Recoverable failures (failed periods, dropped rows) are absorbed into the
// snapshot's diagnostics. The two fatal outcomes are ErrSchemaMismatch and
// ErrEmptyDataset; in both cases the caller keeps serving its prior snapshot.
func (r *Refresher) Refresh(ctx context.Context) (*model.Snapshot, error) {
	periods := datagov.Recent(r.cfg.Now(), r.cfg.Window)

	batches, failed := r.fetcher.FetchAll(ctx, periods)

	raw, err := Merge(batches)
	if err != nil {
		return nil, fmt.Errorf("merge failed: %w", err)
	}

	records, dropped := r.normalizer.Normalize(raw)

	diags := model.RefreshDiagnostics{
		PeriodsRequested: len(periods),
		PeriodsFailed:    len(failed),
		FailedPeriods:    failed,
		RowsFetched:      len(raw),
		RowsDropped:      dropped,
		RowsNormalized:   len(records),
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %d periods failed, %d rows dropped",
			ErrEmptyDataset, len(failed), dropped)
	}

	snap := buildSnapshot(records, periods, diags)

	log.Info().
		Int("rows", len(records)).
		Int("periods_failed", len(failed)).
		Int("rows_dropped", dropped).
		Msg("refresh cycle complete")

	return snap, nil
}

// buildSnapshot materializes the immutable snapshot: the canonical table
// plus the metadata the presentation layer derives its pickers and slider
// bounds from.
func buildSnapshot(records []model.CanonicalRecord, periods []string, diags model.RefreshDiagnostics) *model.Snapshot {
	townSet := make(map[string]struct{})
	flatSet := make(map[string]struct{})
	monthSet := make(map[string]struct{})

	snap := &model.Snapshot{
		Records:     records,
		Periods:     periods,
		PriceMin:    records[0].Price,
		PriceMax:    records[0].Price,
		AreaSqmMin:  records[0].AreaSqm,
		AreaSqmMax:  records[0].AreaSqm,
		RefreshedAt: time.Now(),
		Diagnostics: diags,
	}

	for _, rec := range records {
		townSet[rec.Town] = struct{}{}
		flatSet[rec.Flat] = struct{}{}
		monthSet[rec.Month] = struct{}{}

		if rec.Price < snap.PriceMin {
			snap.PriceMin = rec.Price
		}
		if rec.Price > snap.PriceMax {
			snap.PriceMax = rec.Price
		}
		if rec.AreaSqm < snap.AreaSqmMin {
			snap.AreaSqmMin = rec.AreaSqm
		}
		if rec.AreaSqm > snap.AreaSqmMax {
			snap.AreaSqmMax = rec.AreaSqm
		}
	}

	snap.Towns = append([]string{"All"}, sortedKeys(townSet)...)
	snap.FlatTypes = sortedKeys(flatSet)
	snap.Months = sortedKeys(monthSet)

	return snap
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
