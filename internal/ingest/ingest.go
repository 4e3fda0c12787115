// Package ingest admits raw research records into a plan. Records are
// validated one by one; invalid records are reported without blocking the
// valid ones.
package ingest

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
)

// RecordError lists the violations of one rejected record. Index is the
// record's position in the input.
type RecordError struct {
	Index  int                      `json:"index"`
	Name   string                   `json:"name"`
	Errors []*model.ValidationError `json:"errors"`
}

// Report summarizes an ingestion run.
type Report struct {
	PlanID   string        `json:"plan_id"`
	Admitted []string      `json:"admitted"`
	Rejected []RecordError `json:"rejected"`
}

// Ingest validates records, projects the admissible ones with the plan's
// parameters and inserts them as pending items in input order. A record
// that fails validation or projection is listed in the report; the returned
// error is reserved for plan lookup and storage failures.
func Ingest(ctx context.Context, st store.Store, calc *cost.Calculator, planID string, records []model.RawRecord) (*Report, error) {
	plan, err := st.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: plan.ID}
	}

	report := &Report{PlanID: planID, Admitted: []string{}, Rejected: []RecordError{}}
	items := make([]model.ResearchItem, 0, len(records))

	for i, rec := range records {
		if errs := Validate(rec); len(errs) > 0 {
			report.Rejected = append(report.Rejected, RecordError{Index: i, Name: rec.ItemService, Errors: errs})
			continue
		}
		it := toItem(rec)
		if err := calc.Apply(&it, plan.Params); err != nil {
			report.Rejected = append(report.Rejected, RecordError{
				Index:  i,
				Name:   rec.ItemService,
				Errors: []*model.ValidationError{model.NewValidationError("projection", "%v", err)},
			})
			continue
		}
		items = append(items, it)
	}

	if len(items) > 0 {
		if err := st.InsertItems(ctx, planID, items); err != nil {
			return nil, err
		}
	}
	for i := range items {
		report.Admitted = append(report.Admitted, items[i].ID)
	}

	for _, r := range report.Rejected {
		zap.L().Warn("ingest: record rejected",
			zap.String("plan_id", planID),
			zap.Int("index", r.Index),
			zap.String("name", r.Name),
			zap.Int("violations", len(r.Errors)),
		)
	}
	zap.L().Info("ingest: records admitted",
		zap.String("plan_id", planID),
		zap.Int("admitted", len(report.Admitted)),
		zap.Int("rejected", len(report.Rejected)),
	)
	return report, nil
}
