package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/model"
)

type memoryPlan struct {
	plan  model.LifeCarePlan
	items map[string]*model.ResearchItem
	order []string
	audit []model.AuditLogEntry
}

// MemoryStore implements Store in process memory. A single RWMutex guards
// all state, so snapshots are always consistent.
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*memoryPlan
	now   func() time.Time
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		plans: make(map[string]*memoryPlan),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreatePlan(_ context.Context, plan *model.LifeCarePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	preparePlan(plan, s.now())
	if _, exists := s.plans[plan.ID]; exists {
		return eris.Errorf("memory: plan %s already exists", plan.ID)
	}
	s.plans[plan.ID] = &memoryPlan{plan: *plan, items: make(map[string]*model.ResearchItem)}
	return nil
}

func (s *MemoryStore) GetPlan(_ context.Context, planID string) (*model.LifeCarePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	p := mp.plan
	return &p, nil
}

func (s *MemoryStore) ListPlans(context.Context) ([]model.LifeCarePlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.LifeCarePlan, 0, len(s.plans))
	for _, mp := range s.plans {
		out = append(out, mp.plan)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdatePlanParams(_ context.Context, planID string, params model.ProjectionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mp, err := s.mutablePlan(planID)
	if err != nil {
		return err
	}
	mp.plan.Params = params
	mp.plan.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) FinalizePlan(_ context.Context, planID, signature, actor string, at time.Time) (*model.LifeCarePlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	mp, err := s.mutablePlan(planID)
	if err != nil {
		return nil, err
	}
	if pending := unresolved(mp.list(ItemFilter{})); len(pending) > 0 {
		return nil, &model.NotReadyError{PlanID: planID, Unresolved: pending}
	}

	at = at.UTC()
	mp.plan.Status = model.PlanStatusFinalized
	mp.plan.Signature = signature
	mp.plan.FinalizedBy = actor
	mp.plan.CompletedAt = &at
	mp.plan.UpdatedAt = at
	p := mp.plan
	return &p, nil
}

func (s *MemoryStore) DeletePlan(_ context.Context, planID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.plans[planID]; !ok {
		return &model.NotFoundError{Kind: "plan", ID: planID}
	}
	delete(s.plans, planID)
	return nil
}

func (s *MemoryStore) InsertItems(_ context.Context, planID string, items []model.ResearchItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mp, err := s.mutablePlan(planID)
	if err != nil {
		return err
	}
	now := s.now()
	for i := range items {
		prepareItem(&items[i], planID, now)
		if _, dup := mp.items[items[i].ID]; dup {
			return eris.Errorf("memory: item %s already exists", items[i].ID)
		}
	}
	for i := range items {
		it := items[i].Clone()
		mp.items[it.ID] = &it
		mp.order = append(mp.order, it.ID)
	}
	return nil
}

func (s *MemoryStore) GetItem(_ context.Context, planID, itemID string) (*model.ResearchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	it, ok := mp.items[itemID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "item", ID: itemID}
	}
	cp := it.Clone()
	return &cp, nil
}

func (s *MemoryStore) ListItems(_ context.Context, planID string, filter ItemFilter) ([]model.ResearchItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	return mp.list(filter), nil
}

func (s *MemoryStore) UpdateItem(_ context.Context, item *model.ResearchItem, expectedVersion int64, entry *model.AuditLogEntry) error {
	if entry == nil {
		return eris.New("memory: update item requires an audit entry")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mp, err := s.mutablePlan(item.PlanID)
	if err != nil {
		return err
	}
	cur, ok := mp.items[item.ID]
	if !ok {
		return &model.NotFoundError{Kind: "item", ID: item.ID}
	}
	if cur.Version != expectedVersion {
		return &model.ConflictError{ItemID: item.ID, Expected: expectedVersion, Actual: cur.Version}
	}

	stamp(item, expectedVersion, entry, s.now())
	next := item.Clone()
	next.CreatedAt = cur.CreatedAt
	mp.items[item.ID] = &next
	mp.audit = append(mp.audit, *entry)
	if mp.plan.Status == model.PlanStatusDraft {
		mp.plan.Status = model.PlanStatusInReview
		mp.plan.UpdatedAt = item.UpdatedAt
	}
	return nil
}

func (s *MemoryStore) Snapshot(_ context.Context, planID string) (*model.PlanSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	return &model.PlanSnapshot{Plan: mp.plan, Items: mp.list(ItemFilter{})}, nil
}

func (s *MemoryStore) ListAudit(_ context.Context, planID string, filter AuditFilter) ([]model.AuditLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	out := make([]model.AuditLogEntry, 0, len(mp.audit))
	for _, e := range mp.audit {
		if filter.ItemID != "" && e.ItemID != filter.ItemID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// mutablePlan returns the plan if it exists and still accepts changes.
// Callers must hold the write lock.
func (s *MemoryStore) mutablePlan(planID string) (*memoryPlan, error) {
	mp, ok := s.plans[planID]
	if !ok {
		return nil, &model.NotFoundError{Kind: "plan", ID: planID}
	}
	if mp.plan.Finalized() {
		return nil, &model.PlanFinalizedError{PlanID: planID}
	}
	return mp, nil
}

func (mp *memoryPlan) list(filter ItemFilter) []model.ResearchItem {
	out := make([]model.ResearchItem, 0, len(mp.order))
	for _, id := range mp.order {
		it := mp.items[id]
		if filter.Match(it) {
			out = append(out, it.Clone())
		}
	}
	return out
}

func preparePlan(plan *model.LifeCarePlan, now time.Time) {
	if plan.ID == "" {
		plan.ID = uuid.New().String()
	}
	if plan.Status == "" {
		plan.Status = model.PlanStatusDraft
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now
}

func prepareItem(it *model.ResearchItem, planID string, now time.Time) {
	if it.ID == "" {
		it.ID = uuid.New().String()
	}
	it.PlanID = planID
	if it.Status == "" {
		it.Status = model.StatusPending
	}
	if it.Version == 0 {
		it.Version = 1
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now
}
