package ingest

import (
	"errors"
	"fmt"

	"github.com/cliffchew84/sghousing/internal/model"
)

// ErrSchemaMismatch indicates that two period batches disagree on their
// column set. A mismatch is fatal to the refresh cycle: the prior snapshot
// stays in effect.
var ErrSchemaMismatch = errors.New("schema mismatch across period batches")

// Merge vertically concatenates all per-period batches into one raw table.
//
// Rows are preserved as-is: no deduplication and no ordering guarantee
// beyond batch order. Empty batches contribute zero rows without error; all
// non-empty batches must share an identical column signature or the merge
// fails with ErrSchemaMismatch.
func Merge(batches []model.Batch) ([]model.RawRecord, error) {
	var reference []string
	var refPeriod string

	total := 0
	for _, b := range batches {
		if len(b.Records) == 0 {
			continue
		}

		if reference == nil {
			reference = b.Fields
			refPeriod = b.Period
		} else if !sameFields(reference, b.Fields) {
			return nil, fmt.Errorf("%w: period %s has %v, period %s has %v",
				ErrSchemaMismatch, refPeriod, reference, b.Period, b.Fields)
		}

		total += len(b.Records)
	}

	merged := make([]model.RawRecord, 0, total)
	for _, b := range batches {
		merged = append(merged, b.Records...)
	}

	return merged, nil
}

// sameFields reports whether two sorted column signatures are identical.
func sameFields(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
