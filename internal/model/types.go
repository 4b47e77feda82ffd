// Package model defines core data types for the resale transaction service.
//
// This package contains the fundamental data structures used throughout the
// system for representing raw upstream records, the canonical in-memory table,
// filter specifications and query results. The canonical schema uses float64
// throughout: the derived metrics (square-foot conversion, per-area prices)
// are defined as floating-point arithmetic with stated tolerances, so decimal
// types are only used at the parse edge where numeric text is coerced.
package model

import "time"

// SqftPerSqm is the fixed conversion factor from square metres to square
// feet used for the derived area_sqft column.
const SqftPerSqm = 10.7639

// RawRecord is one transaction exactly as delivered by the upstream
// datastore. The upstream makes no guarantees about its shape: fields may be
// missing, typed as strings or numbers, or malformed. Records are therefore
// carried as loose key/value maps until normalization coerces them into the
// canonical schema.
type RawRecord map[string]any

// Raw field names requested from the upstream datastore, in request order.
const (
	RawFieldMonth          = "month"
	RawFieldTown           = "town"
	RawFieldFlatType       = "flat_type"
	RawFieldBlock          = "block"
	RawFieldStreetName     = "street_name"
	RawFieldStoreyRange    = "storey_range"
	RawFieldFloorAreaSqm   = "floor_area_sqm"
	RawFieldRemainingLease = "remaining_lease"
	RawFieldResalePrice    = "resale_price"
)

// RawFields lists every raw field the fetcher requests, in request order.
// The merger uses this as the expected column signature for every batch.
var RawFields = []string{
	RawFieldMonth,
	RawFieldTown,
	RawFieldFlatType,
	RawFieldBlock,
	RawFieldStreetName,
	RawFieldStoreyRange,
	RawFieldFloorAreaSqm,
	RawFieldRemainingLease,
	RawFieldResalePrice,
}

// Batch is the result of fetching a single period from the upstream source.
//
// Fields carries the sorted column signature observed in the batch so the
// merger can detect schema drift between periods before any rows are
// concatenated. A failed or empty fetch is represented by a Batch with zero
// records, never by a missing Batch.
type Batch struct {
	Period  string      // Calendar month this batch was fetched for ("YYYY-MM")
	Fields  []string    // Sorted column signature observed in the batch
	Records []RawRecord // Raw rows, possibly empty
}

// CanonicalRecord is the normalized, immutable unit of the in-memory table.
//
// Invariants established by normalization:
//   - AreaSqft = AreaSqm * SqftPerSqm
//   - PriceSqm * AreaSqm ≈ PriceSqft * AreaSqft ≈ Price (floating rounding)
//   - AreaSqm > 0 (zero-area rows are dropped before they reach the table)
//
// Records are created once during normalization and never mutated; the table
// is rebuilt wholesale on each refresh rather than patched in place.
type CanonicalRecord struct {
	Month       string  `json:"month"`        // Transaction month, "YYYY-MM"
	Town        string  `json:"town"`         // Town name, upper case
	Flat        string  `json:"flat"`         // Short flat-type code (e.g. "4RM", "EC")
	StreetName  string  `json:"street_name"`  // "BLK <block> <street>"
	StoreyRange string  `json:"storey_range"` // "<lo>-<hi>"
	LeaseLeft   string  `json:"lease_left"`   // Compact remaining lease (e.g. "61y04m")
	AreaSqm     float64 `json:"area_sqm"`     // Floor area in square metres
	AreaSqft    float64 `json:"area_sqft"`    // Derived: AreaSqm * SqftPerSqm
	PriceSqm    float64 `json:"price_sqm"`    // Derived: Price / AreaSqm
	PriceSqft   float64 `json:"price_sqft"`   // Derived: Price / AreaSqft
	Price       float64 `json:"price"`        // Resale price
}

// AreaUnit selects which area column a query resolves against.
type AreaUnit string

const (
	// UnitSqm selects the square-metre columns (area_sqm, price_sqm).
	UnitSqm AreaUnit = "sqm"

	// UnitSqft selects the square-foot columns (area_sqft, price_sqft).
	UnitSqft AreaUnit = "sqft"
)

// PriceMode selects which price column a query resolves against.
type PriceMode string

const (
	// PriceAbsolute resolves to the full transaction price.
	PriceAbsolute PriceMode = "absolute"

	// PricePerArea resolves to the per-area price of the selected unit.
	PricePerArea PriceMode = "per_area"
)

// FilterSpec carries the user-chosen constraints narrowing the canonical
// table to a result view. Months and FlatTypes are the only required fields;
// every optional bound left nil means "no constraint".
//
// Known quirks carried deliberately (flagged, not fixed):
//   - MaxLeaseYears applies the same ">=" comparison as MinLeaseYears.
//   - MaxArea is evaluated but its result is discarded (a no-op bound).
type FilterSpec struct {
	Months        int       `json:"months" validate:"required,oneof=3 6"` // Trailing window length
	Town          string    `json:"town"`                                 // Exact town, "All", or empty (same as "All")
	FlatTypes     []string  `json:"flat_types"`                           // Flat codes to keep; empty keeps nothing
	AreaUnit      AreaUnit  `json:"area_unit" validate:"required,oneof=sqm sqft"`
	PriceMode     PriceMode `json:"price_mode" validate:"required,oneof=absolute per_area"`
	MaxPrice      *float64  `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	MinPrice      *float64  `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxArea       *float64  `json:"max_area,omitempty" validate:"omitempty,gte=0"`
	MinArea       *float64  `json:"min_area,omitempty" validate:"omitempty,gte=0"`
	MinLeaseYears *int      `json:"min_lease_years,omitempty" validate:"omitempty,gte=0"`
	MaxLeaseYears *int      `json:"max_lease_years,omitempty" validate:"omitempty,gte=0"`
	StreetSubstr  string    `json:"street_substring,omitempty"`
}

// FilteredRecord is one row of a FilteredView. The unused unit's area and
// price columns are dropped at unit resolution, so a row only ever exposes
// one area figure and one per-area price, preventing downstream consumers
// from mixing units. YearCount and MthCount are parsed from LeaseLeft during
// filtering and exist only on the view, never on the canonical table.
type FilteredRecord struct {
	Month        string  `json:"month"`
	Town         string  `json:"town"`
	Flat         string  `json:"flat"`
	StreetName   string  `json:"street_name"`
	StoreyRange  string  `json:"storey_range"`
	LeaseLeft    string  `json:"lease_left"`
	Area         float64 `json:"area"`           // Resolved area column
	PricePerArea float64 `json:"price_per_area"` // Resolved per-area price column
	Price        float64 `json:"price"`          // Full transaction price
	YearCount    int     `json:"year_count"`     // Whole years of lease remaining
	MthCount     int     `json:"mth_count"`      // Remainder months, 0 when absent
}

// FilteredView is the result of evaluating a FilterSpec against a canonical
// table: the projected rows plus the unit/mode resolution that produced
// them. It also retains the surviving canonical rows so a view can itself be
// filtered again (the engine is idempotent for an identical spec).
type FilteredView struct {
	Records   []FilteredRecord `json:"records"`
	AreaUnit  AreaUnit         `json:"area_unit"`
	PriceMode PriceMode        `json:"price_mode"`

	rows []CanonicalRecord
}

// NewFilteredView assembles a view from projected records and the canonical
// rows that survived filtering. The two slices are index-aligned.
func NewFilteredView(records []FilteredRecord, rows []CanonicalRecord, unit AreaUnit, mode PriceMode) FilteredView {
	return FilteredView{Records: records, AreaUnit: unit, PriceMode: mode, rows: rows}
}

// Rows returns the surviving canonical rows backing the view, suitable for
// re-filtering. Callers must not mutate the returned slice.
func (v FilteredView) Rows() []CanonicalRecord {
	return v.rows
}

// Count returns the number of rows in the view.
func (v FilteredView) Count() int {
	return len(v.Records)
}

// Summary holds the scalar bounds computed over a filtered view's resolved
// price and area columns. Callers must branch on Count before reading the
// bounds: a zero-row summary leaves them at their zero values and represents
// "no results", not a priced-at-zero dataset.
type Summary struct {
	Count      int     `json:"count"`
	PriceMin   float64 `json:"price_min"`
	PriceMax   float64 `json:"price_max"`
	AreaMin    float64 `json:"area_min"`
	AreaMax    float64 `json:"area_max"`
	PriceLabel string  `json:"price_label"` // "Price", "Price / Sq M" or "Price / Sq Feet"
	AreaLabel  string  `json:"area_label"`  // "Sq M" or "Sq Feet"
}

// RefreshDiagnostics reports the recoverable failures absorbed during one
// refresh cycle. These are surfaced to the caller of Refresh as counts, never
// raised as errors.
type RefreshDiagnostics struct {
	PeriodsRequested int      `json:"periods_requested"` // Periods in the rolling window
	PeriodsFailed    int      `json:"periods_failed"`    // Fetches that yielded no data
	FailedPeriods    []string `json:"failed_periods,omitempty"`
	RowsFetched      int      `json:"rows_fetched"`    // Raw rows after merge
	RowsDropped      int      `json:"rows_dropped"`    // Rows lost to normalization errors
	RowsNormalized   int      `json:"rows_normalized"` // Rows in the published table
}

// Snapshot is one immutable materialization of the canonical table produced
// by a refresh cycle, together with the metadata the presentation layer needs
// to build its pickers. A snapshot is published atomically and never mutated;
// concurrent queries against the same snapshot require no locking.
type Snapshot struct {
	Records     []CanonicalRecord  // The canonical table
	Periods     []string           // Rolling ingestion window, oldest first
	Towns       []string           // Sorted unique towns, "All" prepended
	FlatTypes   []string           // Sorted unique short flat-type codes
	Months      []string           // Sorted unique months present in the table
	PriceMin    float64            // Dataset-wide price minimum
	PriceMax    float64            // Dataset-wide price maximum
	AreaSqmMin  float64            // Dataset-wide area minimum (sq m)
	AreaSqmMax  float64            // Dataset-wide area maximum (sq m)
	RefreshedAt time.Time          // When the refresh cycle completed
	Diagnostics RefreshDiagnostics // Recoverable failures absorbed this cycle
}
