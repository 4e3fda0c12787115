package model

import "time"

// ApprovalStatus is the review state of a research item.
type ApprovalStatus string

const (
	StatusPending     ApprovalStatus = "pending"
	StatusApproved    ApprovalStatus = "approved"
	StatusRejected    ApprovalStatus = "rejected"
	StatusNeedsReview ApprovalStatus = "needs_review"
)

// Statuses lists every approval status.
var Statuses = []ApprovalStatus{StatusPending, StatusApproved, StatusRejected, StatusNeedsReview}

// Valid reports whether s is a known status.
func (s ApprovalStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusNeedsReview:
		return true
	default:
		return false
	}
}

// Resolved reports whether s no longer blocks plan finalization.
func (s ApprovalStatus) Resolved() bool {
	return s == StatusApproved || s == StatusRejected
}

// ResearchItem is one candidate line of a life care plan.
type ResearchItem struct {
	ID       string   `json:"id"`
	PlanID   string   `json:"plan_id"`
	Category Category `json:"category"`
	Name     string   `json:"name"`
	Comment  string   `json:"comment,omitempty"`
	CPTCode  string   `json:"cpt_code,omitempty"`

	UnitCost       float64  `json:"unit_cost"`
	CostRangeMin   *float64 `json:"cost_range_min,omitempty"`
	CostRangeMax   *float64 `json:"cost_range_max,omitempty"`
	Frequency      string   `json:"frequency,omitempty"`
	AnnualUnits    float64  `json:"annual_units"`
	BaseAnnualCost float64  `json:"base_annual_cost"`

	Sources         []string `json:"sources"`
	ConfidenceScore float64  `json:"confidence_score"`

	Status           ApprovalStatus `json:"status"`
	DoctorNotes      string         `json:"doctor_notes"`
	FollowUpRequired bool           `json:"follow_up_required"`
	Version          int64          `json:"version"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`

	// Projection is derived from the cost inputs and the plan parameters.
	Projection *Projection `json:"projection,omitempty"`
}

// HasRange reports whether both cost range bounds are present.
func (it *ResearchItem) HasRange() bool {
	return it.CostRangeMin != nil && it.CostRangeMax != nil
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (it ResearchItem) Clone() ResearchItem {
	out := it
	if it.CostRangeMin != nil {
		v := *it.CostRangeMin
		out.CostRangeMin = &v
	}
	if it.CostRangeMax != nil {
		v := *it.CostRangeMax
		out.CostRangeMax = &v
	}
	if it.Sources != nil {
		out.Sources = append(make([]string, 0, len(it.Sources)), it.Sources...)
	}
	if it.Projection != nil {
		p := it.Projection.Clone()
		out.Projection = &p
	}
	return out
}

// RawRecord is one candidate record produced by the research collaborator.
type RawRecord struct {
	Category        string   `json:"category"`
	ItemService     string   `json:"item_service"`
	CostPerUnit     float64  `json:"cost_per_unit"`
	CostRangeMin    *float64 `json:"cost_range_min,omitempty"`
	CostRangeMax    *float64 `json:"cost_range_max,omitempty"`
	Frequency       string   `json:"frequency"`
	Comment         string   `json:"comment"`
	Sources         []string `json:"sources"`
	CPTCode         string   `json:"cpt_code,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
}
