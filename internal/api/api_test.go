package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/ingest"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

const researchJSON = `{
  "durable_medical_equipment": [
    {"item_service": "Standard walker", "cost_per_unit": 125, "frequency": "annually",
     "sources": ["https://example.com/walker"], "confidence_score": 0.9}
  ],
  "medications": [
    {"item_service": "Baclofen 10mg", "cost_per_unit": "$30.00", "frequency": "monthly",
     "sources": "https://example.com/baclofen", "confidence_score": 0.95},
    {"item_service": "Broken", "cost_per_unit": 10, "confidence_score": 2}
  ]
}`

func newTestServer(t *testing.T, opts Options) (http.Handler, *workflow.Engine) {
	t.Helper()
	eng := workflow.NewEngine(store.NewMemory(), cost.NewCalculator(cost.DefaultRates(), nil), workflow.DefaultConfig())
	return NewRouter(eng, opts), eng
}

func do(t *testing.T, h http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// seed creates a plan and ingests researchJSON through the API.
func seed(t *testing.T, h http.Handler) (string, []string) {
	t.Helper()
	w := do(t, h, http.MethodPost, "/plans", `{"case_id":"case-9","params":{"inflation_rate":0.025,"discount_rate":0.03,"geographic_factor":1,"duration_years":3}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	plan := decode[model.LifeCarePlan](t, w)

	w = do(t, h, http.MethodPost, "/plans/"+plan.ID+"/items", researchJSON)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	report := decode[ingest.Report](t, w)
	require.Len(t, report.Admitted, 2)
	require.Len(t, report.Rejected, 1)
	return plan.ID, report.Admitted
}

func TestHealth(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestCreatePlan_Validation(t *testing.T) {
	h, _ := newTestServer(t, Options{})

	w := do(t, h, http.MethodPost, "/plans", `{"case_id":"  "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	env := decode[ErrorEnvelope](t, w)
	assert.Equal(t, "validation", env.Error.Code)
	assert.Equal(t, "case_id", env.Error.Field)

	w = do(t, h, http.MethodPost, "/plans", `{"case_id":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid_body", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestPlanLifecycle(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, _ := seed(t, h)

	w := do(t, h, http.MethodGet, "/plans", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.LifeCarePlan](t, w), 1)

	w = do(t, h, http.MethodGet, "/plans/"+planID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "case-9", decode[model.LifeCarePlan](t, w).CaseID)

	w = do(t, h, http.MethodDelete, "/plans/"+planID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(t, h, http.MethodGet, "/plans/"+planID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestListItems_Filters(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, _ := seed(t, h)

	w := do(t, h, http.MethodGet, "/plans/"+planID+"/items?category=medications", "")
	require.Equal(t, http.StatusOK, w.Code)
	items := decode[[]model.ResearchItem](t, w)
	require.Len(t, items, 1)
	assert.Equal(t, "Baclofen 10mg", items[0].Name)
	assert.InDelta(t, 360.0, items[0].BaseAnnualCost, 1e-9)

	w = do(t, h, http.MethodGet, "/plans/"+planID+"/items?status=approved", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]model.ResearchItem](t, w))

	w = do(t, h, http.MethodGet, "/plans/"+planID+"/items?category=spaceships", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodGet, "/plans/"+planID+"/items?status=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReviewFlow(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)
	itemURL := "/plans/" + planID + "/items/" + ids[0]

	// Actor from header.
	w := do(t, h, http.MethodPost, itemURL+"/status", `{"status":"needs_review","expected_version":1}`, actorHeader, "dr.smith")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[workflow.Result](t, w)
	assert.Equal(t, model.StatusNeedsReview, res.Item.Status)
	assert.True(t, res.Item.FollowUpRequired)
	assert.NotEmpty(t, res.Warnings)

	w = do(t, h, http.MethodPut, itemURL+"/notes", `{"notes":"confirmed with vendor","actor":"dr.smith","expected_version":2}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.False(t, decode[workflow.Result](t, w).Item.FollowUpRequired)

	w = do(t, h, http.MethodPut, itemURL+"/cost", `{"new_unit_cost":150,"actor":"dr.smith","expected_version":3}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res = decode[workflow.Result](t, w)
	assert.InDelta(t, 150.0, res.Item.UnitCost, 1e-9)
	assert.Equal(t, model.StatusNeedsReview, res.Item.Status)

	w = do(t, h, http.MethodPost, itemURL+"/status", `{"status":"approved","actor":"dr.smith","expected_version":4}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, itemURL+"/reopen", `{"expected_version":5}`, actorHeader, "dr.smith")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.StatusPending, decode[workflow.Result](t, w).Item.Status)

	w = do(t, h, http.MethodGet, itemURL, "")
	require.Equal(t, http.StatusOK, w.Code)
	item := decode[model.ResearchItem](t, w)
	assert.Equal(t, model.StatusPending, item.Status)

	w = do(t, h, http.MethodGet, itemURL+"/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]model.AuditLogEntry](t, w)
	require.Len(t, entries, 5)
	assert.Equal(t, model.AuditAction("reopen"), entries[4].Action)
	for i, e := range entries {
		assert.Equal(t, int64(i+1)+1, e.Seq)
		assert.Equal(t, "dr.smith", e.Actor)
	}

	w = do(t, h, http.MethodGet, "/plans/"+planID+"/audit", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.AuditLogEntry](t, w), 5)
}

func TestStaleVersionConflicts(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)
	itemURL := "/plans/" + planID + "/items/" + ids[0]

	w := do(t, h, http.MethodGet, itemURL, "")
	v := decode[model.ResearchItem](t, w).Version

	body := func(cost int) string {
		b, _ := json.Marshal(map[string]any{"new_unit_cost": cost, "actor": "a", "expected_version": v})
		return string(b)
	}
	w = do(t, h, http.MethodPut, itemURL+"/cost", body(140))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPut, itemURL+"/cost", body(160))
	require.Equal(t, http.StatusConflict, w.Code)
	env := decode[ErrorEnvelope](t, w)
	assert.Equal(t, "conflict", env.Error.Code)
	assert.NotNil(t, env.Error.Details)
}

func TestMissingActor(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)

	w := do(t, h, http.MethodPost, "/plans/"+planID+"/items/"+ids[0]+"/status", `{"status":"approved","expected_version":1}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "actor", decode[ErrorEnvelope](t, w).Error.Field)
}

func TestMutationsRequireExpectedVersion(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)
	itemURL := "/plans/" + planID + "/items/" + ids[0]

	tests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodPost, itemURL + "/status", `{"status":"approved","actor":"a"}`},
		{http.MethodPost, itemURL + "/reopen", `{"actor":"a"}`},
		{http.MethodPut, itemURL + "/cost", `{"new_unit_cost":140,"actor":"a"}`},
		{http.MethodPut, itemURL + "/notes", `{"notes":"n","actor":"a","expected_version":0}`},
	}
	for _, tt := range tests {
		w := do(t, h, tt.method, tt.path, tt.body)
		require.Equal(t, http.StatusBadRequest, w.Code, tt.path)
		env := decode[ErrorEnvelope](t, w)
		assert.Equal(t, "validation", env.Error.Code)
		assert.Equal(t, "expected_version", env.Error.Field)
	}

	// Two clients that read version 1: the second write is refused.
	w := do(t, h, http.MethodPut, itemURL+"/cost", `{"new_unit_cost":140,"actor":"a","expected_version":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = do(t, h, http.MethodPut, itemURL+"/cost", `{"new_unit_cost":160,"actor":"b","expected_version":1}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(t, h, http.MethodGet, itemURL, "")
	assert.InDelta(t, 140.0, decode[model.ResearchItem](t, w).UnitCost, 1e-9)
}

func TestBulkApproveAndFinalize(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)
	base := "/plans/" + planID

	w := do(t, h, http.MethodPost, base+"/finalize", `{"signature":"Dr. Smith","actor":"dr.smith"}`)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "not_ready", decode[ErrorEnvelope](t, w).Error.Code)

	w = do(t, h, http.MethodPost, base+"/bulk-approve", `{"category":"medications","actor":"dr.smith"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bulk := decode[workflow.BulkResult](t, w)
	assert.Equal(t, []string{ids[1]}, bulk.Approved)

	w = do(t, h, http.MethodGet, base+"/completion", "")
	require.Equal(t, http.StatusOK, w.Code)
	c := decode[model.Completion](t, w)
	assert.InDelta(t, 50.0, c.CompletionPercentage, 1e-9)
	assert.False(t, c.ReadyForFinalization)

	w = do(t, h, http.MethodPost, base+"/items/"+ids[0]+"/status", `{"status":"rejected","notes":"duplicate","actor":"dr.smith","expected_version":1}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = do(t, h, http.MethodPost, base+"/finalize", `{"actor":"dr.smith"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, h, http.MethodPost, base+"/finalize", `{"signature":"Dr. Smith","actor":"dr.smith"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	plan := decode[model.LifeCarePlan](t, w)
	assert.True(t, plan.Finalized())

	w = do(t, h, http.MethodPost, base+"/items/"+ids[0]+"/reopen", `{"actor":"dr.smith","expected_version":2}`)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "plan_finalized", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestRecalculate(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, _ := seed(t, h)
	base := "/plans/" + planID

	w := do(t, h, http.MethodPost, base+"/recalculate", `{"params":{"inflation_rate":0.025,"discount_rate":0.03,"geographic_factor":1.2,"duration_years":5},"actor":"dr.smith"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[workflow.RecalcResult](t, w)
	assert.Equal(t, 2, res.Updated)
	assert.Empty(t, res.Failed)

	w = do(t, h, http.MethodPost, base+"/recalculate", `{"params":{"discount_rate":-1,"geographic_factor":1,"duration_years":5},"actor":"dr.smith"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "calculation", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestSummaryAndReport(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	planID, ids := seed(t, h)
	base := "/plans/" + planID

	w := do(t, h, http.MethodPost, base+"/items/"+ids[0]+"/status", `{"status":"approved","actor":"dr.smith","expected_version":1}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, base+"/summary", "")
	require.Equal(t, http.StatusOK, w.Code)
	s := decode[model.Summary](t, w)
	assert.InDelta(t, 125.0, s.ApprovedAnnualTotal, 1e-9)
	assert.Equal(t, 2, s.Total)

	w = do(t, h, http.MethodGet, base+"/report", "")
	require.Equal(t, http.StatusOK, w.Code)
	r := decode[model.Report](t, w)
	assert.Len(t, r.ApprovedItems, 1)
	assert.Len(t, r.Appendix.Pending, 1)

	w = do(t, h, http.MethodGet, base+"/report?format=md", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/markdown"))
	assert.Contains(t, w.Body.String(), "Standard walker")
}

func TestUnknownPlan(t *testing.T) {
	h, _ := newTestServer(t, Options{})
	for _, path := range []string{"/plans/nope/summary", "/plans/nope/completion", "/plans/nope/items", "/plans/nope/report"} {
		w := do(t, h, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
	w := do(t, h, http.MethodPost, "/plans/nope/items", `[]`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	h, _ := newTestServer(t, Options{RateLimitRPS: 0.001, RateLimitBurst: 1})

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "rate_limited", decode[ErrorEnvelope](t, w).Error.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, Options{CORSOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/plans", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEngineErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", model.NewValidationError("x", "bad"), http.StatusBadRequest, "validation"},
		{"not found", &model.NotFoundError{Kind: "item", ID: "i"}, http.StatusNotFound, "not_found"},
		{"conflict", &model.ConflictError{ItemID: "i", Expected: 1, Actual: 2}, http.StatusConflict, "conflict"},
		{"finalized", &model.PlanFinalizedError{PlanID: "p"}, http.StatusConflict, "plan_finalized"},
		{"not ready", &model.NotReadyError{PlanID: "p"}, http.StatusUnprocessableEntity, "not_ready"},
		{"calculation", &cost.CalculationError{}, http.StatusUnprocessableEntity, "calculation"},
		{"internal", context.DeadlineExceeded, http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondEngineError(w, tt.err)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.code, decode[ErrorEnvelope](t, w).Error.Code)
		})
	}
}
