// Package datagov provides the client for the data.gov.sg datastore API and
// the calendar-period enumeration that drives the rolling ingestion window.
//
// The resale transaction resource is published period-by-period, one calendar
// month per period, with the earliest supported month fixed by the resource
// itself. Enumeration is a pure function of the clock so repeated calls within
// the same month always produce the same window.
package datagov

import (
	"errors"
	"fmt"
	"time"
)

// Epoch of the resale resource: the first day of the earliest month the
// datastore serves for this dataset.
var epochStart = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// RecentWindow is the number of trailing periods ingested on each refresh.
const RecentWindow = 6

// periodLayout is the wire format for period identifiers.
const periodLayout = "2006-01"

// ErrInvalidPeriod indicates a period identifier that is not "YYYY-MM".
var ErrInvalidPeriod = errors.New("invalid period")

// Periods returns every calendar-month identifier from the resource epoch to
// the month of now, inclusive, oldest first. The result is deterministic for
// any two calls within the same calendar month.
func Periods(now time.Time) []string {
	cur := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var out []string
	for m := epochStart; !m.After(cur); m = m.AddDate(0, 1, 0) {
		out = append(out, m.Format(periodLayout))
	}
	return out
}

// Recent returns the trailing n entries of the epoch-to-now period sequence.
// When fewer than n periods exist the full sequence is returned.
func Recent(now time.Time, n int) []string {
	all := Periods(now)
	if n <= 0 || n >= len(all) {
		return all
	}
	return all[len(all)-n:]
}

// ValidatePeriod checks that a period identifier is a well-formed "YYYY-MM"
// month.
func ValidatePeriod(period string) error {
	if period == "" {
		return fmt.Errorf("%w: empty", ErrInvalidPeriod)
	}
	if _, err := time.Parse(periodLayout, period); err != nil {
		return fmt.Errorf("%w: expected YYYY-MM, got %q", ErrInvalidPeriod, period)
	}
	return nil
}
