package query

import "github.com/cliffchew84/sghousing/internal/model"

// Summarize computes the scalar min/max bounds over a filtered view's
// resolved price and area columns.
//
// A zero-row view yields a Summary whose Count is zero and whose bounds are
// left at their zero values; callers are required to branch on Count before
// reading the bounds and present "no results" instead.
func Summarize(view model.FilteredView) model.Summary {
	s := model.Summary{
		Count:      view.Count(),
		PriceLabel: priceLabel(view.PriceMode, view.AreaUnit),
		AreaLabel:  areaLabel(view.AreaUnit),
	}

	if s.Count == 0 {
		return s
	}

	first := view.Records[0]
	s.PriceMin = resolvedPrice(first, view.PriceMode)
	s.PriceMax = s.PriceMin
	s.AreaMin = first.Area
	s.AreaMax = first.Area

	for _, rec := range view.Records[1:] {
		p := resolvedPrice(rec, view.PriceMode)
		if p < s.PriceMin {
			s.PriceMin = p
		}
		if p > s.PriceMax {
			s.PriceMax = p
		}
		if rec.Area < s.AreaMin {
			s.AreaMin = rec.Area
		}
		if rec.Area > s.AreaMax {
			s.AreaMax = rec.Area
		}
	}

	return s
}

// resolvedPrice picks the price column the view was resolved against.
func resolvedPrice(rec model.FilteredRecord, mode model.PriceMode) float64 {
	if mode == model.PricePerArea {
		return rec.PricePerArea
	}
	return rec.Price
}

// priceLabel renders the human-readable name of the resolved price column.
func priceLabel(mode model.PriceMode, unit model.AreaUnit) string {
	if mode == model.PriceAbsolute {
		return "Price"
	}
	if unit == model.UnitSqm {
		return "Price / Sq M"
	}
	return "Price / Sq Feet"
}

// areaLabel renders the human-readable name of the resolved area column.
func areaLabel(unit model.AreaUnit) string {
	if unit == model.UnitSqm {
		return "Sq M"
	}
	return "Sq Feet"
}
