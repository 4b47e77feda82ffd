package ingest

import (
	"testing"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testFields = []string{"month", "price", "town"}

func batch(period string, fields []string, n int) model.Batch {
	records := make([]model.RawRecord, n)
	for i := range records {
		records[i] = model.RawRecord{"month": period, "town": "BEDOK", "price": "500000"}
	}
	return model.Batch{Period: period, Fields: fields, Records: records}
}

func Test_Merge_Concatenates(t *testing.T) {
	merged, err := Merge([]model.Batch{
		batch("2024-05", testFields, 2),
		batch("2024-06", testFields, 3),
	})
	require.NoError(t, err)
	assert.Len(t, merged, 5)

	// Vertical concatenation preserves batch order and row order.
	assert.Equal(t, "2024-05", merged[0]["month"])
	assert.Equal(t, "2024-06", merged[4]["month"])
}

func Test_Merge_EmptyBatchesContributeNothing(t *testing.T) {
	merged, err := Merge([]model.Batch{
		batch("2024-04", nil, 0),
		batch("2024-05", testFields, 2),
		{Period: "2024-06"}, // failed fetch degraded to an empty batch
	})
	require.NoError(t, err)
	assert.Len(t, merged, 2)
}

func Test_Merge_AllEmpty(t *testing.T) {
	merged, err := Merge([]model.Batch{{Period: "2024-05"}, {Period: "2024-06"}})
	require.NoError(t, err)
	assert.Empty(t, merged)
}

func Test_Merge_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name   string
		fields []string
	}{
		{name: "Extra column", fields: []string{"month", "price", "tenure", "town"}},
		{name: "Missing column", fields: []string{"month", "price"}},
		{name: "Renamed column", fields: []string{"month", "price", "village"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Merge([]model.Batch{
				batch("2024-05", testFields, 1),
				batch("2024-06", tt.fields, 1),
			})
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}
