package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fixedNow pins the rolling window to Jan-Jun 2024 for every refresher test.
func fixedNow() time.Time {
	return time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)
}

// fullRaw builds a complete, normalizable raw record.
func fullRaw(month, town, flat, price string) model.RawRecord {
	return model.RawRecord{
		model.RawFieldMonth:          month,
		model.RawFieldTown:           town,
		model.RawFieldFlatType:       flat,
		model.RawFieldBlock:          "123",
		model.RawFieldStreetName:     "BEDOK NORTH AVE 1",
		model.RawFieldStoreyRange:    "04 TO 06",
		model.RawFieldFloorAreaSqm:   "93",
		model.RawFieldRemainingLease: "61 years 04 months",
		model.RawFieldResalePrice:    price,
	}
}

func rawBatch(period string, records ...model.RawRecord) model.Batch {
	fields := make([]string, len(model.RawFields))
	copy(fields, model.RawFields)
	// Signatures are sorted in real batches; order only matters for equality.
	return model.Batch{Period: period, Fields: fields, Records: records}
}

func newTestRefresher(source PeriodFetcher) *Refresher {
	return NewRefresher(NewFetcher(source, 2), &RefresherConfig{Window: 6, Now: fixedNow})
}

func Test_Refresh_BuildsSnapshot(t *testing.T) {
	source := new(MockPeriodSource)
	for _, p := range []string{"2024-01", "2024-02", "2024-03", "2024-04"} {
		source.On("FetchPeriod", mock.Anything, p).Return(model.Batch{Period: p}, nil)
	}
	source.On("FetchPeriod", mock.Anything, "2024-05").Return(
		rawBatch("2024-05", fullRaw("2024-05", "QUEENSTOWN", "4 ROOM", "600000")), nil)
	source.On("FetchPeriod", mock.Anything, "2024-06").Return(
		rawBatch("2024-06",
			fullRaw("2024-06", "BEDOK", "4 ROOM", "500000"),
			fullRaw("2024-06", "BEDOK", "EXECUTIVE", "700000")), nil)

	snap, err := newTestRefresher(source).Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Records, 3)
	assert.Equal(t, []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05", "2024-06"}, snap.Periods)

	// Presentation metadata: towns sorted with "All" prepended, flat codes
	// shortened and sorted, dataset-wide bounds.
	assert.Equal(t, []string{"All", "BEDOK", "QUEENSTOWN"}, snap.Towns)
	assert.Equal(t, []string{"4RM", "EC"}, snap.FlatTypes)
	assert.Equal(t, []string{"2024-05", "2024-06"}, snap.Months)
	assert.Equal(t, 500000.0, snap.PriceMin)
	assert.Equal(t, 700000.0, snap.PriceMax)

	assert.Equal(t, 6, snap.Diagnostics.PeriodsRequested)
	assert.Zero(t, snap.Diagnostics.PeriodsFailed)
	assert.Equal(t, 3, snap.Diagnostics.RowsNormalized)
}

// Test_Refresh_AbsorbsPeriodFailures verifies a failing period shows up in
// diagnostics without failing the refresh or touching sibling rows.
func Test_Refresh_AbsorbsPeriodFailures(t *testing.T) {
	source := new(MockPeriodSource)
	for _, p := range []string{"2024-01", "2024-02", "2024-03", "2024-04"} {
		source.On("FetchPeriod", mock.Anything, p).Return(model.Batch{Period: p}, nil)
	}
	source.On("FetchPeriod", mock.Anything, "2024-05").Return(
		model.Batch{Period: "2024-05"}, errors.New("504 gateway timeout"))
	source.On("FetchPeriod", mock.Anything, "2024-06").Return(
		rawBatch("2024-06", fullRaw("2024-06", "BEDOK", "4 ROOM", "500000")), nil)

	snap, err := newTestRefresher(source).Refresh(context.Background())
	require.NoError(t, err, "a per-period failure must not raise out of refresh")

	assert.Len(t, snap.Records, 1)
	assert.Equal(t, 1, snap.Diagnostics.PeriodsFailed)
	assert.Equal(t, []string{"2024-05"}, snap.Diagnostics.FailedPeriods)
}

func Test_Refresh_CountsDroppedRows(t *testing.T) {
	source := new(MockPeriodSource)
	for _, p := range []string{"2024-01", "2024-02", "2024-03", "2024-04", "2024-05"} {
		source.On("FetchPeriod", mock.Anything, p).Return(model.Batch{Period: p}, nil)
	}
	source.On("FetchPeriod", mock.Anything, "2024-06").Return(
		rawBatch("2024-06",
			fullRaw("2024-06", "BEDOK", "4 ROOM", "500000"),
			fullRaw("2024-06", "BEDOK", "4 ROOM", "not a price")), nil)

	snap, err := newTestRefresher(source).Refresh(context.Background())
	require.NoError(t, err)

	assert.Len(t, snap.Records, 1)
	assert.Equal(t, 2, snap.Diagnostics.RowsFetched)
	assert.Equal(t, 1, snap.Diagnostics.RowsDropped)
}

func Test_Refresh_EmptyDataset(t *testing.T) {
	source := new(MockPeriodSource)
	source.On("FetchPeriod", mock.Anything, mock.Anything).Return(model.Batch{}, errors.New("down"))

	_, err := newTestRefresher(source).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrEmptyDataset)
}

func Test_Refresh_SchemaMismatchIsFatal(t *testing.T) {
	source := new(MockPeriodSource)
	for _, p := range []string{"2024-01", "2024-02", "2024-03", "2024-04"} {
		source.On("FetchPeriod", mock.Anything, p).Return(model.Batch{Period: p}, nil)
	}
	source.On("FetchPeriod", mock.Anything, "2024-05").Return(
		rawBatch("2024-05", fullRaw("2024-05", "BEDOK", "4 ROOM", "500000")), nil)

	drifted := rawBatch("2024-06", fullRaw("2024-06", "BEDOK", "4 ROOM", "500000"))
	drifted.Fields = append([]string{"_id"}, drifted.Fields...)
	source.On("FetchPeriod", mock.Anything, "2024-06").Return(drifted, nil)

	_, err := newTestRefresher(source).Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}
