package store

import (
	"context"
	"time"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// ItemFilter narrows ListItems. Zero values match everything.
type ItemFilter struct {
	Category model.Category       `json:"category,omitempty"`
	Status   model.ApprovalStatus `json:"status,omitempty"`
}

// Match reports whether the item passes the filter.
func (f ItemFilter) Match(it *model.ResearchItem) bool {
	if f.Category != "" && it.Category != f.Category {
		return false
	}
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	return true
}

// AuditFilter narrows ListAudit. An empty ItemID returns the whole plan's log.
type AuditFilter struct {
	ItemID string `json:"item_id,omitempty"`
}

// Store persists plans, research items and the audit log.
//
// Every item mutation goes through UpdateItem, which is a compare-and-swap on
// the item version: the stored version must equal expectedVersion, otherwise
// a *model.ConflictError is returned and nothing is written. On success the
// store sets item.Version to expectedVersion+1, stamps UpdatedAt, appends the
// audit entry with Seq equal to the new version and moves a draft plan to
// in_review, all atomically.
type Store interface {
	// Plans
	CreatePlan(ctx context.Context, plan *model.LifeCarePlan) error
	GetPlan(ctx context.Context, planID string) (*model.LifeCarePlan, error)
	ListPlans(ctx context.Context) ([]model.LifeCarePlan, error)
	UpdatePlanParams(ctx context.Context, planID string, params model.ProjectionParams) error
	// FinalizePlan atomically verifies that no item is pending or needs
	// review and marks the plan finalized.
	FinalizePlan(ctx context.Context, planID, signature, actor string, at time.Time) (*model.LifeCarePlan, error)
	DeletePlan(ctx context.Context, planID string) error

	// Items
	InsertItems(ctx context.Context, planID string, items []model.ResearchItem) error
	GetItem(ctx context.Context, planID, itemID string) (*model.ResearchItem, error)
	ListItems(ctx context.Context, planID string, filter ItemFilter) ([]model.ResearchItem, error)
	UpdateItem(ctx context.Context, item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry) error
	Snapshot(ctx context.Context, planID string) (*model.PlanSnapshot, error)

	// Audit
	ListAudit(ctx context.Context, planID string, filter AuditFilter) ([]model.AuditLogEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// unresolved lists the items that block finalization.
func unresolved(items []model.ResearchItem) []model.UnresolvedItem {
	var out []model.UnresolvedItem
	for i := range items {
		if !items[i].Status.Resolved() {
			out = append(out, model.UnresolvedItem{ItemID: items[i].ID, Name: items[i].Name, Status: items[i].Status})
		}
	}
	return out
}

// stamp applies the fields a successful UpdateItem commits. Stores call it
// only after the write is durable so a failed update leaves the caller's
// values alone.
func stamp(item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry, now time.Time) {
	item.Version = expectedVersion + 1
	item.UpdatedAt = now
	if entry != nil {
		*entry = auditFor(item, expectedVersion, entry, now)
	}
}

// auditFor returns the entry as it will be persisted for this update.
func auditFor(item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry, now time.Time) model.AuditLogEntry {
	e := *entry
	e.PlanID = item.PlanID
	e.ItemID = item.ID
	e.Seq = expectedVersion + 1
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return e
}
