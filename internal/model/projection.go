package model

// ProjectionYear is one row of a year-by-year projection.
type ProjectionYear struct {
	Year           int     `json:"year"`
	NominalCost    float64 `json:"nominal_cost"`
	DiscountFactor float64 `json:"discount_factor"`
	PresentValue   float64 `json:"present_value"`
}

// Projection is the multi-year present value of an item's annual cost.
type Projection struct {
	AdjustedAnnualCost float64          `json:"adjusted_annual_cost"`
	GeographicFactor   float64          `json:"geographic_factor"`
	InflationRate      float64          `json:"inflation_rate"`
	DiscountRate       float64          `json:"discount_rate"`
	DurationYears      int              `json:"duration_years"`
	AnnualBreakdown    []ProjectionYear `json:"annual_breakdown"`
	TotalNominal       float64          `json:"total_nominal"`
	TotalPresentValue  float64          `json:"total_present_value"`
}

// Clone returns a copy that does not share the breakdown slice.
func (p Projection) Clone() Projection {
	out := p
	if p.AnnualBreakdown != nil {
		out.AnnualBreakdown = append(make([]ProjectionYear, 0, len(p.AnnualBreakdown)), p.AnnualBreakdown...)
	}
	return out
}
