package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/lifecare-cli/internal/cost"
	"github.com/sells-group/lifecare-cli/internal/model"
)

// APIError is the body of every failed response.
type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Details any    `json:"details,omitempty"`
}

// ErrorEnvelope wraps APIError as {"error": {...}}.
type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

func respondOK(w http.ResponseWriter, payload any) {
	writeJSON(w, http.StatusOK, payload)
}

func respondError(w http.ResponseWriter, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, ErrorEnvelope{Error: APIError{Message: msg, Code: code}})
}

// respondEngineError maps workflow and store errors onto HTTP statuses.
func respondEngineError(w http.ResponseWriter, err error) {
	var (
		verr *model.ValidationError
		nerr *model.NotReadyError
		cerr *model.ConflictError
		calc *cost.CalculationError
	)
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorEnvelope{Error: APIError{
			Message: verr.Error(),
			Code:    "validation",
			Field:   verr.Field,
		}})
	case model.IsNotFound(err):
		respondError(w, http.StatusNotFound, "not_found", err)
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusConflict, ErrorEnvelope{Error: APIError{
			Message: cerr.Error(),
			Code:    "conflict",
			Details: map[string]int64{"expected_version": cerr.Expected, "current_version": cerr.Actual},
		}})
	case model.IsPlanFinalized(err):
		respondError(w, http.StatusConflict, "plan_finalized", err)
	case errors.As(err, &nerr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorEnvelope{Error: APIError{
			Message: nerr.Error(),
			Code:    "not_ready",
			Details: nerr.Unresolved,
		}})
	case errors.As(err, &calc):
		respondError(w, http.StatusUnprocessableEntity, "calculation", err)
	default:
		zap.L().Error("api: internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal", errors.New("internal server error"))
	}
}
