package cost

import (
	"fmt"
	"math"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// CalculationError reports inputs for which a present value is undefined.
type CalculationError struct {
	Reason string
}

func (e *CalculationError) Error() string {
	return "calculation: " + e.Reason
}

// Inputs are the parameters of a single cost projection.
type Inputs struct {
	BaseAnnualCost   float64
	GeographicFactor float64 // 0 means unknown and is treated as 1.0
	InflationRate    float64
	DiscountRate     float64
	DurationYears    int
}

// Project computes the year-by-year and total present value of an annual
// cost. It is pure: the same inputs always yield the same projection.
func Project(in Inputs) (*model.Projection, error) {
	if math.IsNaN(in.BaseAnnualCost) || in.BaseAnnualCost < 0 {
		return nil, &CalculationError{Reason: fmt.Sprintf("base annual cost must be non-negative, got %v", in.BaseAnnualCost)}
	}
	if in.DurationYears < 0 {
		return nil, &CalculationError{Reason: fmt.Sprintf("duration must be non-negative, got %d", in.DurationYears)}
	}
	geo := in.GeographicFactor
	if geo == 0 {
		geo = 1.0
	}
	if math.IsNaN(geo) || geo < 0 {
		return nil, &CalculationError{Reason: fmt.Sprintf("geographic factor must be positive, got %v", in.GeographicFactor)}
	}
	if 1+in.DiscountRate == 0 {
		return nil, &CalculationError{Reason: "discount rate of -1 makes present value undefined"}
	}

	adjusted := in.BaseAnnualCost * geo
	p := &model.Projection{
		AdjustedAnnualCost: adjusted,
		GeographicFactor:   geo,
		InflationRate:      in.InflationRate,
		DiscountRate:       in.DiscountRate,
		DurationYears:      in.DurationYears,
		AnnualBreakdown:    make([]model.ProjectionYear, 0, in.DurationYears),
	}

	for y := 1; y <= in.DurationYears; y++ {
		inflated := adjusted * math.Pow(1+in.InflationRate, float64(y))
		factor := math.Pow(1+in.DiscountRate, float64(y))
		pv := inflated / factor
		if !finite(inflated) || !finite(factor) || !finite(pv) || factor == 0 {
			return nil, &CalculationError{Reason: fmt.Sprintf("projection is not finite in year %d", y)}
		}
		p.AnnualBreakdown = append(p.AnnualBreakdown, model.ProjectionYear{
			Year:           y,
			NominalCost:    inflated,
			DiscountFactor: factor,
			PresentValue:   pv,
		})
		p.TotalNominal += inflated
		p.TotalPresentValue += pv
	}

	return p, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// Defaults holds plan-wide projection defaults.
type Defaults struct {
	InflationRate    float64 `yaml:"inflation_rate" mapstructure:"inflation_rate"`
	DiscountRate     float64 `yaml:"discount_rate" mapstructure:"discount_rate"`
	DurationYears    int     `yaml:"duration_years" mapstructure:"duration_years"`
	GeographicFactor float64 `yaml:"geographic_factor" mapstructure:"geographic_factor"`
}

// DefaultRates returns the default projection assumptions.
func DefaultRates() Defaults {
	return Defaults{
		InflationRate:    0.025,
		DiscountRate:     0.03,
		DurationYears:    30,
		GeographicFactor: 1.0,
	}
}

// Calculator projects research items using plan parameters.
type Calculator struct {
	defaults Defaults
	geo      *GeoIndex
}

// NewCalculator creates a Calculator. geo may be nil, in which case every
// location resolves to the default geographic factor.
func NewCalculator(defaults Defaults, geo *GeoIndex) *Calculator {
	return &Calculator{defaults: defaults, geo: geo}
}

// Params returns projection parameters for a patient location, resolving the
// geographic factor through the index.
func (c *Calculator) Params(location string) model.ProjectionParams {
	factor := c.defaults.GeographicFactor
	if c.geo != nil {
		factor = c.geo.Factor(location)
	}
	if factor <= 0 {
		factor = 1.0
	}
	return model.ProjectionParams{
		InflationRate:    c.defaults.InflationRate,
		DiscountRate:     c.defaults.DiscountRate,
		GeographicFactor: factor,
		DurationYears:    c.defaults.DurationYears,
		Location:         location,
	}
}

// Apply recomputes the item's annual cost and attaches a fresh projection.
func (c *Calculator) Apply(item *model.ResearchItem, params model.ProjectionParams) error {
	item.AnnualUnits = AnnualUnits(item.Frequency)
	item.BaseAnnualCost = item.UnitCost * item.AnnualUnits

	p, err := Project(Inputs{
		BaseAnnualCost:   item.BaseAnnualCost,
		GeographicFactor: params.GeographicFactor,
		InflationRate:    params.InflationRate,
		DiscountRate:     params.DiscountRate,
		DurationYears:    params.DurationYears,
	})
	if err != nil {
		return err
	}
	item.Projection = p
	return nil
}
