package workflow

import (
	"context"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// StatusChange moves one item to a new approval status.
type StatusChange struct {
	PlanID          string               `json:"plan_id"`
	ItemID          string               `json:"item_id"`
	Status          model.ApprovalStatus `json:"status"`
	Actor           string               `json:"actor"`
	Notes           string               `json:"notes,omitempty"`
	ExpectedVersion int64                `json:"expected_version"`
}

// Reopen returns a reviewed item to pending.
type Reopen struct {
	PlanID          string `json:"plan_id"`
	ItemID          string `json:"item_id"`
	Actor           string `json:"actor"`
	Notes           string `json:"notes,omitempty"`
	ExpectedVersion int64  `json:"expected_version"`
}

// CostEdit replaces an item's unit cost.
type CostEdit struct {
	PlanID          string  `json:"plan_id"`
	ItemID          string  `json:"item_id"`
	NewUnitCost     float64 `json:"new_unit_cost"`
	Actor           string  `json:"actor"`
	ExpectedVersion int64   `json:"expected_version"`
}

// NotesEdit replaces an item's reviewer notes.
type NotesEdit struct {
	PlanID          string `json:"plan_id"`
	ItemID          string `json:"item_id"`
	Notes           string `json:"notes"`
	Actor           string `json:"actor"`
	ExpectedVersion int64  `json:"expected_version"`
}

// needsNotes reports whether a transition into s should explain itself.
func needsNotes(s model.ApprovalStatus) bool {
	return s == model.StatusRejected || s == model.StatusNeedsReview
}

// SetStatus applies a reviewer decision to one item.
func (e *Engine) SetStatus(ctx context.Context, req StatusChange) (*Result, error) {
	if !req.Status.Valid() {
		return nil, model.NewValidationError("status", "unknown status %q", req.Status)
	}
	if req.Status == model.StatusPending {
		return nil, model.NewValidationError("status", "items return to pending only through reopen")
	}

	_, item, version, err := e.load(ctx, target{req.PlanID, req.ItemID, req.Actor, req.ExpectedVersion})
	if err != nil {
		return nil, err
	}
	prev := item.Status
	if prev == req.Status {
		return nil, model.NewValidationError("status", "item %s is already %s", item.ID, prev)
	}
	if _, err := Transition(prev, req.Status); err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	followUp := false
	var warnings []string
	if needsNotes(req.Status) && notes == "" {
		if e.cfg.StrictNotes {
			return nil, model.NewValidationError("notes", "required when marking an item %s", req.Status)
		}
		followUp = true
		warnings = append(warnings, fmt.Sprintf("no notes supplied for %s; item flagged for follow-up", req.Status))
		zap.L().Warn("workflow: status change without notes",
			zap.String("plan_id", req.PlanID),
			zap.String("item_id", item.ID),
			zap.String("status", string(req.Status)),
			zap.String("actor", req.Actor),
		)
	}

	item.Status = req.Status
	item.FollowUpRequired = followUp
	if notes != "" {
		item.DoctorNotes = notes
	}

	res, err := e.commit(ctx, item, version, &model.AuditLogEntry{
		Action:         model.AuditStatusChange,
		Actor:          req.Actor,
		PreviousStatus: prev,
		NewStatus:      req.Status,
		Notes:          notes,
		FollowUp:       followUp,
	})
	if err != nil {
		e.logRejected("set status", req.PlanID, req.ItemID, err)
		return nil, err
	}
	res.Warnings = warnings

	zap.L().Info("workflow: status changed",
		zap.String("plan_id", req.PlanID),
		zap.String("item_id", item.ID),
		zap.String("from", string(prev)),
		zap.String("to", string(req.Status)),
		zap.String("actor", req.Actor),
		zap.Int64("version", item.Version),
	)
	return res, nil
}

// Reopen moves an item back to pending. Reopening a pending item is recorded
// like any other reopen.
func (e *Engine) Reopen(ctx context.Context, req Reopen) (*Result, error) {
	_, item, version, err := e.load(ctx, target{req.PlanID, req.ItemID, req.Actor, req.ExpectedVersion})
	if err != nil {
		return nil, err
	}
	prev := item.Status
	if _, err := Transition(prev, model.StatusPending); err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	item.Status = model.StatusPending
	item.FollowUpRequired = false
	if notes != "" {
		item.DoctorNotes = notes
	}

	res, err := e.commit(ctx, item, version, &model.AuditLogEntry{
		Action:         model.AuditReopen,
		Actor:          req.Actor,
		PreviousStatus: prev,
		NewStatus:      model.StatusPending,
		Notes:          notes,
	})
	if err != nil {
		e.logRejected("reopen", req.PlanID, req.ItemID, err)
		return nil, err
	}

	zap.L().Info("workflow: item reopened",
		zap.String("plan_id", req.PlanID),
		zap.String("item_id", item.ID),
		zap.String("from", string(prev)),
		zap.String("actor", req.Actor),
	)
	return res, nil
}

// EditCost replaces the unit cost and recomputes the projection with the
// plan's parameters. The status is left as it is.
func (e *Engine) EditCost(ctx context.Context, req CostEdit) (*Result, error) {
	if math.IsNaN(req.NewUnitCost) || math.IsInf(req.NewUnitCost, 0) {
		return nil, model.NewValidationError("new_unit_cost", "must be a finite number")
	}
	if req.NewUnitCost < 0 {
		return nil, model.NewValidationError("new_unit_cost", "must not be negative, got %.2f", req.NewUnitCost)
	}

	plan, item, version, err := e.load(ctx, target{req.PlanID, req.ItemID, req.Actor, req.ExpectedVersion})
	if err != nil {
		return nil, err
	}
	if item.HasRange() && (req.NewUnitCost < *item.CostRangeMin || req.NewUnitCost > *item.CostRangeMax) {
		return nil, model.NewValidationError("new_unit_cost", "%.2f is outside the researched range %.2f-%.2f",
			req.NewUnitCost, *item.CostRangeMin, *item.CostRangeMax)
	}

	prevCost := item.UnitCost
	item.UnitCost = req.NewUnitCost
	if err := e.calc.Apply(item, plan.Params); err != nil {
		return nil, err
	}

	res, err := e.commit(ctx, item, version, &model.AuditLogEntry{
		Action:         model.AuditCostEdit,
		Actor:          req.Actor,
		PreviousStatus: item.Status,
		NewStatus:      item.Status,
		PreviousCost:   costPtr(prevCost),
		NewCost:        costPtr(req.NewUnitCost),
	})
	if err != nil {
		e.logRejected("edit cost", req.PlanID, req.ItemID, err)
		return nil, err
	}

	zap.L().Info("workflow: cost edited",
		zap.String("plan_id", req.PlanID),
		zap.String("item_id", item.ID),
		zap.Float64("previous_unit_cost", prevCost),
		zap.Float64("unit_cost", req.NewUnitCost),
		zap.String("actor", req.Actor),
	)
	return res, nil
}

// EditNotes replaces the reviewer notes. Non-empty notes clear a pending
// follow-up flag.
func (e *Engine) EditNotes(ctx context.Context, req NotesEdit) (*Result, error) {
	_, item, version, err := e.load(ctx, target{req.PlanID, req.ItemID, req.Actor, req.ExpectedVersion})
	if err != nil {
		return nil, err
	}

	notes := strings.TrimSpace(req.Notes)
	item.DoctorNotes = notes
	if notes != "" {
		item.FollowUpRequired = false
	}

	res, err := e.commit(ctx, item, version, &model.AuditLogEntry{
		Action:         model.AuditNotesEdit,
		Actor:          req.Actor,
		PreviousStatus: item.Status,
		NewStatus:      item.Status,
		Notes:          notes,
		FollowUp:       item.FollowUpRequired,
	})
	if err != nil {
		e.logRejected("edit notes", req.PlanID, req.ItemID, err)
		return nil, err
	}
	return res, nil
}

func (e *Engine) logRejected(op, planID, itemID string, err error) {
	if model.IsConflict(err) || model.IsPlanFinalized(err) {
		zap.L().Warn("workflow: "+op+" rejected",
			zap.String("plan_id", planID),
			zap.String("item_id", itemID),
			zap.Error(err),
		)
	}
}
