package model

import "time"

// PlanStatus is the lifecycle state of a life care plan.
type PlanStatus string

const (
	PlanStatusDraft     PlanStatus = "draft"
	PlanStatusInReview  PlanStatus = "in_review"
	PlanStatusFinalized PlanStatus = "finalized"
)

// ProjectionParams holds the plan-wide inputs shared by every item projection.
type ProjectionParams struct {
	InflationRate    float64 `json:"inflation_rate" yaml:"inflation_rate" mapstructure:"inflation_rate"`
	DiscountRate     float64 `json:"discount_rate" yaml:"discount_rate" mapstructure:"discount_rate"`
	GeographicFactor float64 `json:"geographic_factor" yaml:"geographic_factor" mapstructure:"geographic_factor"`
	DurationYears    int     `json:"duration_years" yaml:"duration_years" mapstructure:"duration_years"`
	Location         string  `json:"location,omitempty" yaml:"location" mapstructure:"location"`
}

// LifeCarePlan is the aggregate root for a patient's research items.
type LifeCarePlan struct {
	ID          string           `json:"id"`
	CaseID      string           `json:"case_id"`
	Status      PlanStatus       `json:"status"`
	Params      ProjectionParams `json:"params"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	Signature   string           `json:"signature,omitempty"`
	FinalizedBy string           `json:"finalized_by,omitempty"`
}

// Finalized reports whether the plan rejects further mutation.
func (p *LifeCarePlan) Finalized() bool {
	return p.Status == PlanStatusFinalized
}

// PlanSnapshot is a consistent read of a plan and all of its items.
type PlanSnapshot struct {
	Plan  LifeCarePlan   `json:"plan"`
	Items []ResearchItem `json:"items"`
}

// Completion reports review progress for a plan.
type Completion struct {
	PlanID               string                 `json:"plan_id"`
	Total                int                    `json:"total"`
	StatusCounts         map[ApprovalStatus]int `json:"status_counts"`
	CompletionPercentage float64                `json:"completion_percentage"`
	ReadyForFinalization bool                   `json:"ready_for_finalization"`
	Unresolved           []UnresolvedItem       `json:"unresolved,omitempty"`
}

// UnresolvedItem names an item that blocks finalization.
type UnresolvedItem struct {
	ItemID string         `json:"item_id"`
	Name   string         `json:"name"`
	Status ApprovalStatus `json:"status"`
}
