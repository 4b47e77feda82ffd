// Package normalize turns raw datastore records into canonical records.
//
// Each record is transformed independently: the rules below never look at
// sibling rows, perform no I/O, and are deterministic, so the same raw table
// always yields the same canonical table. Rows that cannot be coerced into
// the canonical schema are dropped and counted; a bad row never aborts the
// refresh.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cliffchew84/sghousing/internal/model"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

var (
	// ErrMissingField indicates a raw record without a required field.
	ErrMissingField = errors.New("missing required field")

	// ErrBadNumber indicates a numeric field that could not be parsed.
	ErrBadNumber = errors.New("unparseable numeric field")

	// ErrZeroArea indicates a record whose floor area parses to zero, which
	// would make the per-area price derivation divide by zero.
	ErrZeroArea = errors.New("zero floor area")
)

// Normalizer maps raw records into the canonical schema with its derived
// metrics. The zero value is not usable; construct with NewNormalizer.
type Normalizer struct{}

// NewNormalizer creates a Normalizer.
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize converts raw records to canonical records, dropping rows that
// fail coercion. It returns the canonical table and the number of dropped
// rows.
func (n *Normalizer) Normalize(raw []model.RawRecord) ([]model.CanonicalRecord, int) {
	out := make([]model.CanonicalRecord, 0, len(raw))
	dropped := 0

	for _, r := range raw {
		rec, err := n.normalizeRecord(r)
		if err != nil {
			dropped++
			log.Warn().Err(err).Msg("dropping unnormalizable record")
			continue
		}
		out = append(out, rec)
	}

	if dropped > 0 {
		log.Info().Int("kept", len(out)).Int("dropped", dropped).Msg("normalization complete")
	}
	return out, dropped
}

// normalizeRecord applies the full rule set to one raw record.
func (n *Normalizer) normalizeRecord(r model.RawRecord) (model.CanonicalRecord, error) {
	month, err := stringField(r, model.RawFieldMonth)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	town, err := stringField(r, model.RawFieldTown)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	flatType, err := stringField(r, model.RawFieldFlatType)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	block, err := stringField(r, model.RawFieldBlock)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	street, err := stringField(r, model.RawFieldStreetName)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	storey, err := stringField(r, model.RawFieldStoreyRange)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	lease, err := stringField(r, model.RawFieldRemainingLease)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	areaSqm, err := numericField(r, model.RawFieldFloorAreaSqm)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	price, err := numericField(r, model.RawFieldResalePrice)
	if err != nil {
		return model.CanonicalRecord{}, err
	}

	if areaSqm == 0 {
		return model.CanonicalRecord{}, ErrZeroArea
	}

	areaSqft := areaSqm * model.SqftPerSqm

	return model.CanonicalRecord{
		Month:       month,
		Town:        town,
		Flat:        ShortenFlatType(flatType),
		StreetName:  ComposeStreetName(block, street),
		StoreyRange: NormalizeStoreyRange(storey),
		LeaseLeft:   SimplifyLease(lease),
		AreaSqm:     areaSqm,
		AreaSqft:    areaSqft,
		PriceSqm:    price / areaSqm,
		PriceSqft:   price / areaSqft,
		Price:       price,
	}, nil
}

// SimplifyLease rewrites a descriptive remaining-lease string into compact
// form: "61 years 04 months" becomes "61y04m" and "61 years" becomes "61y".
// The rewrite is pure substitution: plural "s" dropped, " year" to "y",
// " month" to "m", separating spaces removed.
func SimplifyLease(s string) string {
	s = strings.ReplaceAll(s, "s", "")
	s = strings.ReplaceAll(s, " year", "y")
	s = strings.ReplaceAll(s, " month", "m")
	return strings.ReplaceAll(s, " ", "")
}

// ShortenFlatType rewrites a textual flat-type label into its short code:
// " ROOM" to "RM", "EXECUTIVE" to "EC", "MULTI-GENERATION" to "MG". Labels
// matching none of the substitutions pass through unchanged.
func ShortenFlatType(s string) string {
	s = strings.ReplaceAll(s, " ROOM", "RM")
	s = strings.ReplaceAll(s, "EXECUTIVE", "EC")
	s = strings.ReplaceAll(s, "MULTI-GENERATION", "MG")
	return s
}

// NormalizeStoreyRange rewrites "<lo> TO <hi>" as "<lo>-<hi>".
func NormalizeStoreyRange(s string) string {
	return strings.ReplaceAll(s, " TO ", "-")
}

// ComposeStreetName joins block number and street into the canonical
// "BLK <block> <street>" form.
func ComposeStreetName(block, street string) string {
	return "BLK " + block + " " + street
}

// stringField extracts a required text field from a raw record.
func stringField(r model.RawRecord, key string) (string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: %s", ErrMissingField, key)
	}

	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", ErrMissingField, key, v)
	}
	return s, nil
}

// numericField extracts a required numeric field from a raw record. The
// datastore delivers numbers inconsistently as JSON strings or numbers, so
// text values are parsed through decimal to accept both "500000" and
// "500000.00" forms.
func numericField(r model.RawRecord, key string) (float64, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, key)
	}

	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(t))
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrBadNumber, key, t)
		}
		return d.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrBadNumber, key, v)
	}
}
