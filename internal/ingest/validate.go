package ingest

import (
	"math"
	"strings"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// Validate checks a raw record against the research item invariants and
// returns every violation, or nil when the record is admissible.
func Validate(rec model.RawRecord) []*model.ValidationError {
	var errs []*model.ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, model.NewValidationError(field, format, args...))
	}

	if _, ok := model.ParseCategory(rec.Category); !ok {
		add("category", "unknown category %q", rec.Category)
	}
	if strings.TrimSpace(rec.ItemService) == "" {
		add("item_service", "required")
	}

	costOK := true
	switch {
	case !finite(rec.CostPerUnit):
		add("cost_per_unit", "must be a number")
		costOK = false
	case rec.CostPerUnit < 0:
		add("cost_per_unit", "must not be negative, got %.2f", rec.CostPerUnit)
		costOK = false
	}

	minOK := checkBound(rec.CostRangeMin, "cost_range_min", add)
	maxOK := checkBound(rec.CostRangeMax, "cost_range_max", add)
	if minOK && maxOK && rec.CostRangeMin != nil && rec.CostRangeMax != nil && *rec.CostRangeMin > *rec.CostRangeMax {
		add("cost_range", "min %.2f exceeds max %.2f", *rec.CostRangeMin, *rec.CostRangeMax)
	} else if costOK {
		if minOK && rec.CostRangeMin != nil && rec.CostPerUnit < *rec.CostRangeMin {
			add("cost_per_unit", "%.2f is below the range minimum %.2f", rec.CostPerUnit, *rec.CostRangeMin)
		}
		if maxOK && rec.CostRangeMax != nil && rec.CostPerUnit > *rec.CostRangeMax {
			add("cost_per_unit", "%.2f is above the range maximum %.2f", rec.CostPerUnit, *rec.CostRangeMax)
		}
	}

	if !finite(rec.ConfidenceScore) || rec.ConfidenceScore < 0 || rec.ConfidenceScore > 1 {
		add("confidence_score", "must be within [0, 1], got %v", rec.ConfidenceScore)
	}
	return errs
}

func checkBound(v *float64, field string, add func(string, string, ...any)) bool {
	if v == nil {
		return true
	}
	if !finite(*v) {
		add(field, "must be a number")
		return false
	}
	if *v < 0 {
		add(field, "must not be negative, got %.2f", *v)
		return false
	}
	return true
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// toItem converts an admissible record into a pending research item.
func toItem(rec model.RawRecord) model.ResearchItem {
	cat, _ := model.ParseCategory(rec.Category)

	var sources []string
	for _, s := range rec.Sources {
		if s = strings.TrimSpace(s); s != "" {
			sources = append(sources, s)
		}
	}
	if sources == nil {
		sources = []string{}
	}

	return model.ResearchItem{
		Category:        cat,
		Name:            strings.TrimSpace(rec.ItemService),
		Comment:         strings.TrimSpace(rec.Comment),
		CPTCode:         strings.TrimSpace(rec.CPTCode),
		UnitCost:        rec.CostPerUnit,
		CostRangeMin:    rec.CostRangeMin,
		CostRangeMax:    rec.CostRangeMax,
		Frequency:       strings.TrimSpace(rec.Frequency),
		Sources:         sources,
		ConfidenceScore: rec.ConfidenceScore,
		Status:          model.StatusPending,
	}
}
