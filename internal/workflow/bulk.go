package workflow

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
)

// Reasons a bulk approval leaves an item alone.
const (
	SkipBelowThreshold = "below_threshold"
	SkipWrongStatus    = "wrong_status"
	SkipNoSources      = "no_sources"
)

// BulkApprove approves the well-sourced, high-confidence pending items of
// one category. A nil threshold uses the configured default.
type BulkApprove struct {
	PlanID              string         `json:"plan_id"`
	Category            model.Category `json:"category"`
	Actor               string         `json:"actor"`
	ConfidenceThreshold *float64       `json:"confidence_threshold,omitempty"`
}

// Skip records an item a bulk approval did not touch.
type Skip struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// Failure records an item whose write was refused.
type Failure struct {
	ItemID string `json:"item_id"`
	Err    string `json:"error"`
}

// BulkResult partitions the items of a category by bulk-approval outcome.
type BulkResult struct {
	Threshold float64   `json:"threshold"`
	Approved  []string  `json:"approved"`
	Skipped   []Skip    `json:"skipped"`
	Failed    []Failure `json:"failed"`
}

// BulkApproveCategory approves each qualifying item as its own versioned
// write. Items already approved are skipped as wrong_status, so running it
// twice changes nothing the second time.
func (e *Engine) BulkApproveCategory(ctx context.Context, req BulkApprove) (*BulkResult, error) {
	if strings.TrimSpace(req.PlanID) == "" {
		return nil, model.NewValidationError("plan_id", "required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, model.NewValidationError("actor", "required")
	}
	if !req.Category.Valid() {
		return nil, model.NewValidationError("category", "unknown category %q", req.Category)
	}
	threshold := e.cfg.ConfidenceThreshold
	if req.ConfidenceThreshold != nil {
		threshold = *req.ConfidenceThreshold
	}
	if threshold < 0 || threshold > 1 {
		return nil, model.NewValidationError("confidence_threshold", "must be within [0, 1], got %v", threshold)
	}

	plan, err := e.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: plan.ID}
	}

	items, err := e.store.ListItems(ctx, req.PlanID, store.ItemFilter{Category: req.Category})
	if err != nil {
		return nil, err
	}

	result := &BulkResult{Threshold: threshold, Approved: []string{}, Skipped: []Skip{}, Failed: []Failure{}}
	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		it := &items[i]

		switch {
		case it.Status != model.StatusPending:
			result.Skipped = append(result.Skipped, Skip{ItemID: it.ID, Reason: SkipWrongStatus})
			continue
		case it.ConfidenceScore < threshold:
			result.Skipped = append(result.Skipped, Skip{ItemID: it.ID, Reason: SkipBelowThreshold})
			continue
		case len(it.Sources) == 0:
			result.Skipped = append(result.Skipped, Skip{ItemID: it.ID, Reason: SkipNoSources})
			continue
		}

		if _, err := Transition(it.Status, model.StatusApproved); err != nil {
			result.Failed = append(result.Failed, Failure{ItemID: it.ID, Err: err.Error()})
			continue
		}

		version := it.Version
		it.Status = model.StatusApproved
		it.FollowUpRequired = false
		if _, err := e.commit(ctx, it, version, &model.AuditLogEntry{
			Action:         model.AuditBulkApprove,
			Actor:          req.Actor,
			PreviousStatus: model.StatusPending,
			NewStatus:      model.StatusApproved,
			Notes:          fmt.Sprintf("confidence %.2f at threshold %.2f", it.ConfidenceScore, threshold),
		}); err != nil {
			e.logRejected("bulk approve", req.PlanID, it.ID, err)
			result.Failed = append(result.Failed, Failure{ItemID: it.ID, Err: err.Error()})
			continue
		}
		result.Approved = append(result.Approved, it.ID)
	}

	zap.L().Info("workflow: bulk approval complete",
		zap.String("plan_id", req.PlanID),
		zap.String("category", string(req.Category)),
		zap.Float64("threshold", threshold),
		zap.Int("approved", len(result.Approved)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("failed", len(result.Failed)),
		zap.String("actor", req.Actor),
	)
	return result, nil
}
