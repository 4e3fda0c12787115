package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/aggregate"
	"github.com/sells-group/lifecare-cli/internal/model"
)

// Finalize signs off a plan.
type Finalize struct {
	PlanID    string `json:"plan_id"`
	Signature string `json:"signature"`
	Actor     string `json:"actor"`
}

// CompletionStatus reports review progress over a consistent snapshot.
func (e *Engine) CompletionStatus(ctx context.Context, planID string) (*model.Completion, error) {
	snap, err := e.store.Snapshot(ctx, planID)
	if err != nil {
		return nil, err
	}
	c := aggregate.Completion(*snap)
	return &c, nil
}

// Finalize marks the plan complete once every item is approved or
// rejected. The readiness check and the status change happen in one store
// operation, so a concurrent reopen cannot slip between them.
func (e *Engine) Finalize(ctx context.Context, req Finalize) (*model.LifeCarePlan, error) {
	if strings.TrimSpace(req.PlanID) == "" {
		return nil, model.NewValidationError("plan_id", "required")
	}
	signature := strings.TrimSpace(req.Signature)
	if signature == "" {
		return nil, model.NewValidationError("signature", "required to finalize a plan")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, model.NewValidationError("actor", "required")
	}

	plan, err := e.store.FinalizePlan(ctx, req.PlanID, signature, req.Actor, e.now())
	if err != nil {
		if model.IsNotReady(err) || model.IsPlanFinalized(err) {
			zap.L().Warn("workflow: finalize rejected", zap.String("plan_id", req.PlanID), zap.Error(err))
		}
		return nil, err
	}

	zap.L().Info("workflow: plan finalized",
		zap.String("plan_id", plan.ID),
		zap.String("actor", req.Actor),
	)
	return plan, nil
}
