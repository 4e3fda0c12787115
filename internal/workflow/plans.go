package workflow

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/aggregate"
	"github.com/sells-group/lifecare-cli/internal/ingest"
	"github.com/sells-group/lifecare-cli/internal/model"
)

// NewPlan opens a plan for a case. Params overrides the defaults derived
// from the calculator and Location when set.
type NewPlan struct {
	CaseID   string                  `json:"case_id"`
	Location string                  `json:"location,omitempty"`
	Params   *model.ProjectionParams `json:"params,omitempty"`
}

// CreatePlan opens a draft plan with projection parameters resolved for the
// patient location.
func (e *Engine) CreatePlan(ctx context.Context, req NewPlan) (*model.LifeCarePlan, error) {
	if strings.TrimSpace(req.CaseID) == "" {
		return nil, model.NewValidationError("case_id", "required")
	}
	params := e.calc.Params(req.Location)
	if req.Params != nil {
		params = *req.Params
		if params.Location == "" {
			params.Location = req.Location
		}
	}
	if err := checkParams(params); err != nil {
		return nil, err
	}

	plan := &model.LifeCarePlan{CaseID: strings.TrimSpace(req.CaseID), Params: params}
	if err := e.store.CreatePlan(ctx, plan); err != nil {
		return nil, err
	}
	zap.L().Info("workflow: plan created",
		zap.String("plan_id", plan.ID),
		zap.String("case_id", plan.CaseID),
		zap.Float64("geographic_factor", params.GeographicFactor),
	)
	return plan, nil
}

// DeletePlan removes a plan with its items and audit log.
func (e *Engine) DeletePlan(ctx context.Context, planID string) error {
	if err := e.store.DeletePlan(ctx, planID); err != nil {
		return err
	}
	zap.L().Info("workflow: plan deleted", zap.String("plan_id", planID))
	return nil
}

// Ingest admits raw research records into a plan as pending items.
func (e *Engine) Ingest(ctx context.Context, planID string, records []model.RawRecord) (*ingest.Report, error) {
	return ingest.Ingest(ctx, e.store, e.calc, planID, records)
}

// Summary totals a plan over a consistent snapshot.
func (e *Engine) Summary(ctx context.Context, planID string) (*model.Summary, error) {
	snap, err := e.store.Snapshot(ctx, planID)
	if err != nil {
		return nil, err
	}
	s := aggregate.Summarize(*snap)
	return &s, nil
}

// Report builds the export view of a plan.
func (e *Engine) Report(ctx context.Context, planID string) (*model.Report, error) {
	snap, err := e.store.Snapshot(ctx, planID)
	if err != nil {
		return nil, err
	}
	r := aggregate.BuildReport(*snap, e.now())
	return &r, nil
}
