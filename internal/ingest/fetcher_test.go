package ingest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockPeriodSource is a mock implementation of PeriodFetcher for testing.
type MockPeriodSource struct {
	mock.Mock
}

// FetchPeriod implements the PeriodFetcher interface for testing.
func (m *MockPeriodSource) FetchPeriod(ctx context.Context, period string) (model.Batch, error) {
	args := m.Called(ctx, period)
	return args.Get(0).(model.Batch), args.Error(1)
}

func Test_FetchAll_CollectsAllPeriods(t *testing.T) {
	source := new(MockPeriodSource)
	periods := []string{"2024-04", "2024-05", "2024-06"}
	for _, p := range periods {
		source.On("FetchPeriod", mock.Anything, p).Return(batch(p, testFields, 2), nil)
	}

	fetcher := NewFetcher(source, 2)
	batches, failed := fetcher.FetchAll(context.Background(), periods)

	require.Len(t, batches, 3)
	assert.Empty(t, failed)
	// Results are index-aligned with the requested periods regardless of
	// completion order.
	for i, p := range periods {
		assert.Equal(t, p, batches[i].Period)
		assert.Len(t, batches[i].Records, 2)
	}
	source.AssertExpectations(t)
}

// Test_FetchAll_FailureIsolation verifies a failing period degrades to an
// empty batch without reducing sibling periods' rows.
func Test_FetchAll_FailureIsolation(t *testing.T) {
	source := new(MockPeriodSource)
	source.On("FetchPeriod", mock.Anything, "2024-04").Return(batch("2024-04", testFields, 3), nil)
	source.On("FetchPeriod", mock.Anything, "2024-05").Return(model.Batch{Period: "2024-05"}, errors.New("connection reset"))
	source.On("FetchPeriod", mock.Anything, "2024-06").Return(batch("2024-06", testFields, 4), nil)

	fetcher := NewFetcher(source, 4)
	batches, failed := fetcher.FetchAll(context.Background(), []string{"2024-04", "2024-05", "2024-06"})

	require.Len(t, batches, 3)
	assert.Equal(t, []string{"2024-05"}, failed)
	assert.Len(t, batches[0].Records, 3, "sibling period row counts must be unaffected")
	assert.Empty(t, batches[1].Records)
	assert.Len(t, batches[2].Records, 4, "sibling period row counts must be unaffected")
}

// Test_FetchAll_RespectsWorkerBound verifies no more than the configured
// number of fetches are in flight at once.
func Test_FetchAll_RespectsWorkerBound(t *testing.T) {
	const bound = 2

	var inFlight, peak atomic.Int32
	var mu sync.Mutex

	source := new(MockPeriodSource)
	source.On("FetchPeriod", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cur := inFlight.Add(1)
			mu.Lock()
			if cur > peak.Load() {
				peak.Store(cur)
			}
			mu.Unlock()
			inFlight.Add(-1)
		}).
		Return(model.Batch{}, nil)

	fetcher := NewFetcher(source, bound)
	periods := []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05", "2024-06"}
	fetcher.FetchAll(context.Background(), periods)

	assert.LessOrEqual(t, peak.Load(), int32(bound))
}

func Test_NewFetcher_DefaultWorkers(t *testing.T) {
	f := NewFetcher(new(MockPeriodSource), 0)
	assert.Equal(t, DefaultWorkers, f.workers)
}
