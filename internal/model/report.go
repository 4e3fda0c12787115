package model

import "time"

// CategoryBreakdown aggregates one category of a plan.
type CategoryBreakdown struct {
	Category                  Category               `json:"category"`
	Label                     string                 `json:"label"`
	StatusCounts              map[ApprovalStatus]int `json:"status_counts"`
	ApprovedAnnualTotal       float64                `json:"approved_annual_total"`
	ApprovedPresentValueTotal float64                `json:"approved_present_value_total"`
}

// Summary is the read-only aggregate consumed by reporting and UI collaborators.
type Summary struct {
	PlanID                    string                 `json:"plan_id"`
	Total                     int                    `json:"total"`
	StatusCounts              map[ApprovalStatus]int `json:"status_counts"`
	CompletionPercentage      float64                `json:"completion_percentage"`
	ApprovedAnnualTotal       float64                `json:"approved_annual_total"`
	ApprovedPresentValueTotal float64                `json:"approved_present_value_total"`
	PerCategory               []CategoryBreakdown    `json:"per_category"`
}

// ReportAppendix holds items excluded from approved totals.
type ReportAppendix struct {
	Rejected    []ResearchItem `json:"rejected"`
	NeedsReview []ResearchItem `json:"needs_review"`
	Pending     []ResearchItem `json:"pending"`
}

// Report is the snapshot handed to export collaborators.
type Report struct {
	Plan          LifeCarePlan   `json:"plan"`
	Summary       Summary        `json:"summary"`
	ApprovedItems []ResearchItem `json:"approved_items"`
	Appendix      ReportAppendix `json:"appendix"`
	GeneratedAt   time.Time      `json:"generated_at"`
}
