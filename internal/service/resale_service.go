package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/cliffchew84/sghousing/internal/query"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotStarted is returned for operations on a stopped service.
	ErrNotStarted = errors.New("resale service not started")

	// ErrNoSnapshot indicates no snapshot has been published yet.
	ErrNoSnapshot = errors.New("no snapshot available")

	// ErrInvalidSpec indicates a filter specification that failed validation.
	ErrInvalidSpec = errors.New("invalid filter specification")
)

// RefreshRunner defines the interface for components that execute one full
// refresh cycle and materialize a snapshot.
type RefreshRunner interface {
	// Refresh runs the fetch-merge-normalize pipeline and returns the
	// resulting snapshot.
	Refresh(ctx context.Context) (*model.Snapshot, error)
}

// ResaleService orchestrates the resale data system: it owns the published
// snapshot, runs refresh cycles (on demand and optionally on a timer), and
// evaluates queries.
//
// The published snapshot is held in an atomic pointer: a refresh builds a
// complete new snapshot and swaps it in, so concurrent queries always
// observe one consistent, immutable table and never take a lock. A failed
// refresh leaves the prior snapshot in place.
type ResaleService struct {
	refresher RefreshRunner                 // Executes refresh cycles
	hub       *Hub                          // Fans refresh notices out to subscribers
	validate  *validator.Validate           // Validator instance for filter specs
	snapshot  atomic.Pointer[model.Snapshot] // Currently published snapshot
	started   atomic.Bool                   // Atomic flag tracking service state
	cancel    context.CancelFunc            // Function to cancel service context
}

// NewResaleService creates a ResaleService with the provided dependencies.
// The service is created in a stopped state and must be started with Start
// before it can serve queries.
func NewResaleService(refresher RefreshRunner, hub *Hub) *ResaleService {
	return &ResaleService{
		refresher: refresher,
		hub:       hub,
		validate:  validator.New(),
	}
}

// Start brings the service up: it runs the hub, performs the initial refresh
// cycle, and, when refreshEvery is positive, keeps re-ingesting on that
// interval until Stop or context cancellation. Start fails when the initial
// refresh yields no snapshot, since there would be nothing to serve.
func (s *ResaleService) Start(ctx context.Context, refreshEvery time.Duration) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("resale service has already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	if s.hub != nil {
		if err := s.hub.Run(ctx); err != nil {
			cancel()
			s.started.Store(false)
			return fmt.Errorf("failed to start hub: %v", err)
		}
	}

	if _, err := s.Refresh(ctx); err != nil {
		cancel()
		s.started.Store(false)
		return fmt.Errorf("initial refresh failed: %w", err)
	}

	if refreshEvery > 0 {
		go s.refreshLoop(ctx, refreshEvery)
	}

	s.cancel = cancel
	return nil
}

// Stop gracefully shuts the service down.
func (s *ResaleService) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return ErrNotStarted
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	log.Info().Msg("ResaleService stopped")
	return nil
}

// refreshLoop periodically re-ingests and republishes. Refresh failures are
// logged and absorbed; the prior snapshot keeps serving.
func (s *ResaleService) refreshLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Refresh(ctx); err != nil {
				log.Error().Err(err).Msg("scheduled refresh failed, keeping prior snapshot")
			}
		}
	}
}

// Refresh runs one refresh cycle and, on success, atomically publishes the
// new snapshot and notifies hub subscribers. On failure the prior snapshot
// remains published and the error is returned to the caller.
func (s *ResaleService) Refresh(ctx context.Context) (*model.Snapshot, error) {
	snap, err := s.refresher.Refresh(ctx)
	if err != nil {
		return nil, err
	}

	s.snapshot.Store(snap)

	if s.hub != nil {
		s.hub.Notify(Update{
			RefreshedAt:   snap.RefreshedAt,
			Rows:          len(snap.Records),
			Periods:       snap.Periods,
			PeriodsFailed: snap.Diagnostics.PeriodsFailed,
		})
	}

	return snap, nil
}

// Snapshot returns the currently published snapshot handle, or nil when no
// refresh has succeeded yet.
func (s *ResaleService) Snapshot() *model.Snapshot {
	return s.snapshot.Load()
}

// Query evaluates a filter specification against a snapshot handle and
// returns the filtered view together with its summary statistics.
//
// The handle is explicit rather than implicit state so that a caller holding
// a snapshot keeps getting consistent answers across a concurrent refresh.
func (s *ResaleService) Query(snap *model.Snapshot, spec model.FilterSpec) (model.FilteredView, model.Summary, error) {
	if snap == nil {
		return model.FilteredView{}, model.Summary{}, ErrNoSnapshot
	}

	if err := s.validate.Struct(&spec); err != nil {
		return model.FilteredView{}, model.Summary{}, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	view, err := query.Filter(snap.Records, spec, snap.Periods)
	if err != nil {
		return model.FilteredView{}, model.Summary{}, err
	}

	return view, query.Summarize(view), nil
}
