package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/aggregate"
	"github.com/sells-group/lifecare-cli/internal/ingest"
	"github.com/sells-group/lifecare-cli/internal/model"
	"github.com/sells-group/lifecare-cli/internal/store"
	"github.com/sells-group/lifecare-cli/internal/workflow"
)

// actorHeader carries the reviewer identity when the body omits it.
const actorHeader = "X-Actor"

type handlers struct {
	eng *workflow.Engine
}

// decodeBody reads an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrap(err, "api: decode body")
	}
	return nil
}

func actor(r *http.Request, fromBody string) string {
	if strings.TrimSpace(fromBody) != "" {
		return fromBody
	}
	return r.Header.Get(actorHeader)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]string{"status": "ok"})
}

func (h *handlers) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.eng.Store().ListPlans(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if plans == nil {
		plans = []model.LifeCarePlan{}
	}
	respondOK(w, plans)
}

func (h *handlers) createPlan(w http.ResponseWriter, r *http.Request) {
	var req workflow.NewPlan
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	plan, err := h.eng.CreatePlan(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, plan)
}

func (h *handlers) getPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := h.eng.Store().GetPlan(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, plan)
}

func (h *handlers) deletePlan(w http.ResponseWriter, r *http.Request) {
	if err := h.eng.DeletePlan(r.Context(), chi.URLParam(r, "planID")); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) ingest(w http.ResponseWriter, r *http.Request) {
	records, err := ingest.DecodeJSON(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	report, err := h.eng.Ingest(r.Context(), chi.URLParam(r, "planID"), records)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, report)
}

func (h *handlers) listItems(w http.ResponseWriter, r *http.Request) {
	var filter store.ItemFilter
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := model.ParseCategory(raw)
		if !ok {
			respondEngineError(w, model.NewValidationError("category", "unknown category %q", raw))
			return
		}
		filter.Category = c
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := model.ApprovalStatus(raw)
		if !s.Valid() {
			respondEngineError(w, model.NewValidationError("status", "unknown status %q", raw))
			return
		}
		filter.Status = s
	}

	items, err := h.eng.Store().ListItems(r.Context(), chi.URLParam(r, "planID"), filter)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if items == nil {
		items = []model.ResearchItem{}
	}
	respondOK(w, items)
}

func (h *handlers) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.eng.Store().GetItem(r.Context(), chi.URLParam(r, "planID"), chi.URLParam(r, "itemID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, item)
}

func (h *handlers) planAudit(w http.ResponseWriter, r *http.Request) {
	h.audit(w, r, store.AuditFilter{})
}

func (h *handlers) itemAudit(w http.ResponseWriter, r *http.Request) {
	h.audit(w, r, store.AuditFilter{ItemID: chi.URLParam(r, "itemID")})
}

func (h *handlers) audit(w http.ResponseWriter, r *http.Request, filter store.AuditFilter) {
	entries, err := h.eng.Store().ListAudit(r.Context(), chi.URLParam(r, "planID"), filter)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if entries == nil {
		entries = []model.AuditLogEntry{}
	}
	respondOK(w, entries)
}

func (h *handlers) setStatus(w http.ResponseWriter, r *http.Request) {
	var req workflow.StatusChange
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID, req.ItemID = chi.URLParam(r, "planID"), chi.URLParam(r, "itemID")
	req.Actor = actor(r, req.Actor)
	if !requireVersion(w, req.ExpectedVersion) {
		return
	}
	res, err := h.eng.SetStatus(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

// requireVersion rejects an item mutation that does not name the version the
// client last read.
func requireVersion(w http.ResponseWriter, v int64) bool {
	if v > 0 {
		return true
	}
	respondEngineError(w, model.NewValidationError("expected_version", "required: send the version from the last read of the item"))
	return false
}

func (h *handlers) reopen(w http.ResponseWriter, r *http.Request) {
	var req workflow.Reopen
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID, req.ItemID = chi.URLParam(r, "planID"), chi.URLParam(r, "itemID")
	req.Actor = actor(r, req.Actor)
	if !requireVersion(w, req.ExpectedVersion) {
		return
	}
	res, err := h.eng.Reopen(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *handlers) editCost(w http.ResponseWriter, r *http.Request) {
	var req workflow.CostEdit
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID, req.ItemID = chi.URLParam(r, "planID"), chi.URLParam(r, "itemID")
	req.Actor = actor(r, req.Actor)
	if !requireVersion(w, req.ExpectedVersion) {
		return
	}
	res, err := h.eng.EditCost(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *handlers) editNotes(w http.ResponseWriter, r *http.Request) {
	var req workflow.NotesEdit
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID, req.ItemID = chi.URLParam(r, "planID"), chi.URLParam(r, "itemID")
	req.Actor = actor(r, req.Actor)
	if !requireVersion(w, req.ExpectedVersion) {
		return
	}
	res, err := h.eng.EditNotes(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *handlers) bulkApprove(w http.ResponseWriter, r *http.Request) {
	var req workflow.BulkApprove
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID = chi.URLParam(r, "planID")
	req.Actor = actor(r, req.Actor)
	res, err := h.eng.BulkApproveCategory(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *handlers) completion(w http.ResponseWriter, r *http.Request) {
	c, err := h.eng.CompletionStatus(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, c)
}

func (h *handlers) finalize(w http.ResponseWriter, r *http.Request) {
	var req workflow.Finalize
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID = chi.URLParam(r, "planID")
	req.Actor = actor(r, req.Actor)
	plan, err := h.eng.Finalize(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, plan)
}

func (h *handlers) recalculate(w http.ResponseWriter, r *http.Request) {
	var req workflow.RecalcRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_body", err)
		return
	}
	req.PlanID = chi.URLParam(r, "planID")
	req.Actor = actor(r, req.Actor)
	res, err := h.eng.RecalculatePlan(r.Context(), req)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, res)
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.eng.Summary(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondOK(w, s)
}

func (h *handlers) report(w http.ResponseWriter, r *http.Request) {
	rep, err := h.eng.Report(r.Context(), chi.URLParam(r, "planID"))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "md" {
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, aggregate.FormatReport(*rep))
		return
	}
	respondOK(w, rep)
}
