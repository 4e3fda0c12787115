package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/resilience"
	"github.com/sells-group/lifecare-cli/internal/store"
)

// RecalcRequest stores new plan parameters and reprojects every item. A nil
// Params reprojects with the parameters already on the plan.
type RecalcRequest struct {
	PlanID string                  `json:"plan_id"`
	Params *model.ProjectionParams `json:"params,omitempty"`
	Actor  string                  `json:"actor"`
}

// RecalcResult reports a plan recalculation.
type RecalcResult struct {
	PlanID  string                 `json:"plan_id"`
	Params  model.ProjectionParams `json:"params"`
	Updated int                    `json:"updated"`
	Failed  []Failure              `json:"failed"`
}

// checkParams rejects parameters the projection cannot be computed with.
func checkParams(p model.ProjectionParams) error {
	_, err := cost.Project(cost.Inputs{
		GeographicFactor: p.GeographicFactor,
		InflationRate:    p.InflationRate,
		DiscountRate:     p.DiscountRate,
		DurationYears:    p.DurationYears,
	})
	return err
}

// RecalculatePlan reprojects every item of a plan. Each item is its own
// versioned, audited write; items are processed concurrently up to
// RecalcConcurrency. A per-item failure is reported without stopping the
// others.
func (e *Engine) RecalculatePlan(ctx context.Context, req RecalcRequest) (*RecalcResult, error) {
	if strings.TrimSpace(req.PlanID) == "" {
		return nil, model.NewValidationError("plan_id", "required")
	}
	if strings.TrimSpace(req.Actor) == "" {
		return nil, model.NewValidationError("actor", "required")
	}

	plan, err := e.store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: plan.ID}
	}

	params := plan.Params
	if req.Params != nil {
		params = *req.Params
		if err := checkParams(params); err != nil {
			return nil, err
		}
		if err := e.store.UpdatePlanParams(ctx, req.PlanID, params); err != nil {
			return nil, err
		}
	}

	items, err := e.store.ListItems(ctx, req.PlanID, store.ItemFilter{})
	if err != nil {
		return nil, err
	}

	result := &RecalcResult{PlanID: req.PlanID, Params: params, Failed: []Failure{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.RecalcConcurrency)

	for i := range items {
		item := items[i]
		g.Go(func() error {
			err := e.reproject(gctx, &item, params, req.Actor)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				zap.L().Warn("workflow: recalculation failed for item",
					zap.String("plan_id", req.PlanID),
					zap.String("item_id", item.ID),
					zap.Error(err),
				)
				result.Failed = append(result.Failed, Failure{ItemID: item.ID, Err: err.Error()})
				return nil // don't fail the group
			}
			result.Updated++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	zap.L().Info("workflow: plan recalculated",
		zap.String("plan_id", req.PlanID),
		zap.Int("updated", result.Updated),
		zap.Int("failed", len(result.Failed)),
		zap.Float64("inflation_rate", params.InflationRate),
		zap.Float64("discount_rate", params.DiscountRate),
		zap.Float64("geographic_factor", params.GeographicFactor),
		zap.Int("duration_years", params.DurationYears),
		zap.String("actor", req.Actor),
	)
	return result, nil
}

// reproject writes a fresh projection for one item, re-reading it when a
// concurrent edit bumps its version.
func (e *Engine) reproject(ctx context.Context, item *model.ResearchItem, params model.ProjectionParams, actor string) error {
	note := fmt.Sprintf("inflation %.4f, discount %.4f, geographic factor %.3f, %d years",
		params.InflationRate, params.DiscountRate, params.GeographicFactor, params.DurationYears)

	retry := e.retry
	retry.OnRetry = resilience.RetryLogger("recalculate", zap.String("item_id", item.ID))

	stale := false
	return resilience.Do(ctx, retry, func(ctx context.Context) error {
		if stale {
			fresh, err := e.store.GetItem(ctx, item.PlanID, item.ID)
			if err != nil {
				return err
			}
			*item = *fresh
		}
		stale = true

		var prevPV float64
		if item.Projection != nil {
			prevPV = item.Projection.TotalPresentValue
		}
		version := item.Version
		if err := e.calc.Apply(item, params); err != nil {
			return err
		}

		_, err := e.commit(ctx, item, version, &model.AuditLogEntry{
			Action:         model.AuditRecalculation,
			Actor:          actor,
			PreviousStatus: item.Status,
			NewStatus:      item.Status,
			Notes:          note,
			PreviousCost:   costPtr(prevPV),
			NewCost:        costPtr(item.Projection.TotalPresentValue),
		})
		return err
	})
}
