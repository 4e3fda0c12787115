package model

import "time"

// AuditAction identifies the kind of mutation an audit entry records.
type AuditAction string

const (
	AuditStatusChange  AuditAction = "status_change"
	AuditReopen        AuditAction = "reopen"
	AuditBulkApprove   AuditAction = "bulk_approve"
	AuditCostEdit      AuditAction = "cost_edit"
	AuditNotesEdit     AuditAction = "notes_edit"
	AuditRecalculation AuditAction = "recalculation"
)

// AuditLogEntry is an append-only record of one accepted item mutation.
// Seq equals the item version the mutation produced, so per-item audit
// order is version order. PreviousCost and NewCost carry unit costs for
// cost_edit entries and total present values for recalculation entries.
type AuditLogEntry struct {
	PlanID         string         `json:"plan_id"`
	ItemID         string         `json:"item_id"`
	Seq            int64          `json:"seq"`
	Action         AuditAction    `json:"action"`
	Actor          string         `json:"actor"`
	PreviousStatus ApprovalStatus `json:"previous_status"`
	NewStatus      ApprovalStatus `json:"new_status"`
	Notes          string         `json:"notes,omitempty"`
	PreviousCost   *float64       `json:"previous_cost,omitempty"`
	NewCost        *float64       `json:"new_cost,omitempty"`
	FollowUp       bool           `json:"follow_up,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}
