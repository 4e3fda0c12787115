// Package workflow owns the approval lifecycle of research items. Every item
// mutation goes through an Engine, which validates the transition, checks
// the caller's version and records an audit entry in one store write.
package workflow

import (
	"context"
	"strings"
	"time"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/resilience"
	"github.com/sells-group/lifecare-cli/internal/store"
)

// Config controls engine policy.
type Config struct {
	// ConfidenceThreshold is the bulk-approval default when a request
	// does not carry its own threshold.
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	// StrictNotes rejects needs_review and rejected transitions that carry
	// no notes instead of flagging the item for follow-up.
	StrictNotes bool `yaml:"strict_notes" mapstructure:"strict_notes"`
	// RecalcConcurrency bounds the item writes of a plan recalculation.
	RecalcConcurrency int `yaml:"recalc_concurrency" mapstructure:"recalc_concurrency"`
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.8,
		RecalcConcurrency:   4,
	}
}

// Engine applies review operations to a store.
type Engine struct {
	store store.Store
	calc  *cost.Calculator
	cfg   Config
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewEngine creates an Engine. A nil calculator falls back to the default
// projection rates without a geographic index.
func NewEngine(st store.Store, calc *cost.Calculator, cfg Config) *Engine {
	if calc == nil {
		calc = cost.NewCalculator(cost.DefaultRates(), nil)
	}
	if cfg.RecalcConcurrency <= 0 {
		cfg.RecalcConcurrency = 1
	}
	return &Engine{
		store: st,
		calc:  calc,
		cfg:   cfg,
		retry: resilience.DefaultRetryConfig(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Store returns the engine's backing store for read-only collaborators.
func (e *Engine) Store() store.Store { return e.store }

// Calculator returns the projection calculator the engine applies.
func (e *Engine) Calculator() *cost.Calculator { return e.calc }

// Result is the outcome of a single accepted item mutation.
type Result struct {
	Item     *model.ResearchItem `json:"item"`
	Audit    model.AuditLogEntry `json:"audit"`
	Warnings []string            `json:"warnings,omitempty"`
}

// target identifies the item a request mutates. ExpectedVersion is the
// version the caller last read; zero means "the version loaded now", which
// still fails with a conflict if another writer lands before the update.
type target struct {
	PlanID          string
	ItemID          string
	Actor           string
	ExpectedVersion int64
}

func (t target) validate() error {
	if strings.TrimSpace(t.PlanID) == "" {
		return model.NewValidationError("plan_id", "required")
	}
	if strings.TrimSpace(t.ItemID) == "" {
		return model.NewValidationError("item_id", "required")
	}
	if strings.TrimSpace(t.Actor) == "" {
		return model.NewValidationError("actor", "required")
	}
	if t.ExpectedVersion < 0 {
		return model.NewValidationError("expected_version", "must not be negative")
	}
	return nil
}

// load reads the plan and item a mutation applies to. It fails early on a
// finalized plan or a stale caller version; the store repeats both checks
// atomically when the update is written.
func (e *Engine) load(ctx context.Context, t target) (*model.LifeCarePlan, *model.ResearchItem, int64, error) {
	if err := t.validate(); err != nil {
		return nil, nil, 0, err
	}
	plan, err := e.store.GetPlan(ctx, t.PlanID)
	if err != nil {
		return nil, nil, 0, err
	}
	if plan.Finalized() {
		return nil, nil, 0, &model.PlanFinalizedError{PlanID: plan.ID}
	}
	item, err := e.store.GetItem(ctx, t.PlanID, t.ItemID)
	if err != nil {
		return nil, nil, 0, err
	}
	version := item.Version
	if t.ExpectedVersion != 0 {
		if t.ExpectedVersion != item.Version {
			return nil, nil, 0, &model.ConflictError{ItemID: item.ID, Expected: t.ExpectedVersion, Actual: item.Version}
		}
		version = t.ExpectedVersion
	}
	return plan, item, version, nil
}

// commit writes the mutated item with its audit entry.
func (e *Engine) commit(ctx context.Context, item *model.ResearchItem, version int64, entry *model.AuditLogEntry) (*Result, error) {
	entry.CreatedAt = e.now()
	if err := e.store.UpdateItem(ctx, item, version, entry); err != nil {
		return nil, err
	}
	return &Result{Item: item, Audit: *entry}, nil
}

func costPtr(v float64) *float64 { return &v }
