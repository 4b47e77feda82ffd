// Package query implements the filter engine and the summary aggregator that
// evaluate a FilterSpec against an immutable canonical table.
//
// The filter pipeline applies its steps in a fixed precedence order; a step
// whose spec field is absent still runs as a no-constraint pass. Two
// long-standing quirks are kept and pinned by tests: the max-lease bound
// applies ">=" like the min bound, and the max-area bound is evaluated but
// discarded.
package query

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/rs/zerolog/log"
)

// leaseRow pairs a surviving canonical row with the lease counts parsed from
// its compact lease string. It exists only inside the pipeline.
type leaseRow struct {
	rec    model.CanonicalRecord
	years  int
	months int
}

// Filter evaluates a filter specification against a canonical table (or the
// Rows() of a previously filtered view) and produces a filtered view.
//
// periods is the ordered rolling window the table was ingested over, oldest
// first; the spec's Months field selects its trailing suffix. Zero matches
// is a valid outcome and yields a zero-row view, not an error. Rows whose
// lease string fails to parse are dropped from the view, never failing the
// query.
func Filter(table []model.CanonicalRecord, spec model.FilterSpec, periods []string) (model.FilteredView, error) {
	// Step 1: restrict to the trailing months window.
	window := periods
	if spec.Months > 0 && spec.Months < len(periods) {
		window = periods[len(periods)-spec.Months:]
	}
	monthSet := make(map[string]struct{}, len(window))
	for _, m := range window {
		monthSet[m] = struct{}{}
	}

	// Step 2: flat-type membership. An empty set keeps nothing.
	flatSet := make(map[string]struct{}, len(spec.FlatTypes))
	for _, f := range spec.FlatTypes {
		flatSet[f] = struct{}{}
	}

	// Step 3: the street search is case-insensitive; canonical street names
	// are upper case, so the needle is upper-cased once.
	street := strings.ToUpper(strings.TrimSpace(spec.StreetSubstr))

	working := make([]model.CanonicalRecord, 0, len(table))
	for _, rec := range table {
		if _, ok := monthSet[rec.Month]; !ok {
			continue
		}
		if _, ok := flatSet[rec.Flat]; !ok {
			continue
		}
		if street != "" && !strings.Contains(strings.ToUpper(rec.StreetName), street) {
			continue
		}
		working = append(working, rec)
	}

	// Step 4: derive year/month counts from the compact lease string.
	parsed := make([]leaseRow, 0, len(working))
	for _, rec := range working {
		years, months, err := ParseLease(rec.LeaseLeft)
		if err != nil {
			log.Warn().Err(err).Str("lease_left", rec.LeaseLeft).Msg("dropping row with unparseable lease")
			continue
		}
		parsed = append(parsed, leaseRow{rec: rec, years: years, months: months})
	}

	// Step 5: lease bounds. The max bound deliberately keeps the ">="
	// comparison instead of "<=".
	bounded := parsed[:0]
	for _, row := range parsed {
		if spec.MinLeaseYears != nil && row.years < *spec.MinLeaseYears {
			continue
		}
		if spec.MaxLeaseYears != nil && row.years < *spec.MaxLeaseYears {
			continue
		}
		bounded = append(bounded, row)
	}

	// Step 6: resolve mode and unit into concrete columns; the unused
	// unit's columns do not survive into the view.
	priceOf, perAreaOf, areaOf, err := resolveColumns(spec.PriceMode, spec.AreaUnit)
	if err != nil {
		return model.FilteredView{}, err
	}

	records := make([]model.FilteredRecord, 0, len(bounded))
	rows := make([]model.CanonicalRecord, 0, len(bounded))
	for _, row := range bounded {
		rec := row.rec

		// Step 7: town filter ("All" keeps everything).
		if spec.Town != "" && spec.Town != "All" && rec.Town != spec.Town {
			continue
		}

		// Step 8: price bounds on the resolved price column.
		if spec.MaxPrice != nil && priceOf(rec) > *spec.MaxPrice {
			continue
		}
		if spec.MinPrice != nil && priceOf(rec) < *spec.MinPrice {
			continue
		}

		// Step 9: the max-area comparison is computed and its result
		// discarded; only the min bound filters.
		if spec.MaxArea != nil {
			_ = areaOf(rec) <= *spec.MaxArea
		}
		if spec.MinArea != nil && areaOf(rec) < *spec.MinArea {
			continue
		}

		records = append(records, model.FilteredRecord{
			Month:        rec.Month,
			Town:         rec.Town,
			Flat:         rec.Flat,
			StreetName:   rec.StreetName,
			StoreyRange:  rec.StoreyRange,
			LeaseLeft:    rec.LeaseLeft,
			Area:         areaOf(rec),
			PricePerArea: perAreaOf(rec),
			Price:        rec.Price,
			YearCount:    row.years,
			MthCount:     row.months,
		})
		rows = append(rows, rec)
	}

	return model.NewFilteredView(records, rows, spec.AreaUnit, spec.PriceMode), nil
}

// ParseLease splits a compact lease string on its "y" separator into whole
// years and remainder months. The month part may be absent ("61y") and then
// counts as zero.
func ParseLease(lease string) (years, months int, err error) {
	yearPart, monthPart, found := strings.Cut(lease, "y")
	if !found || yearPart == "" {
		return 0, 0, fmt.Errorf("lease %q has no year separator", lease)
	}

	years, err = strconv.Atoi(yearPart)
	if err != nil {
		return 0, 0, fmt.Errorf("lease %q has non-numeric year count", lease)
	}

	monthPart = strings.TrimSuffix(monthPart, "m")
	if monthPart == "" {
		return years, 0, nil
	}

	months, err = strconv.Atoi(monthPart)
	if err != nil {
		return 0, 0, fmt.Errorf("lease %q has non-numeric month count", lease)
	}

	return years, months, nil
}

// resolveColumns maps the mode and unit pair onto concrete column accessors:
// the resolved price column used for bounds and statistics, the kept unit's
// per-area price, and the kept unit's area.
func resolveColumns(mode model.PriceMode, unit model.AreaUnit) (priceOf, perAreaOf, areaOf func(model.CanonicalRecord) float64, err error) {
	switch unit {
	case model.UnitSqm:
		areaOf = func(r model.CanonicalRecord) float64 { return r.AreaSqm }
		perAreaOf = func(r model.CanonicalRecord) float64 { return r.PriceSqm }
	case model.UnitSqft:
		areaOf = func(r model.CanonicalRecord) float64 { return r.AreaSqft }
		perAreaOf = func(r model.CanonicalRecord) float64 { return r.PriceSqft }
	default:
		return nil, nil, nil, fmt.Errorf("unknown area unit %q", unit)
	}

	switch mode {
	case model.PriceAbsolute:
		priceOf = func(r model.CanonicalRecord) float64 { return r.Price }
	case model.PricePerArea:
		priceOf = perAreaOf
	default:
		return nil, nil, nil, fmt.Errorf("unknown price mode %q", mode)
	}

	return priceOf, perAreaOf, areaOf, nil
}
