package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/publish"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
	"github.com/kalambet/newsdesk/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	httpErrorDetails(w, code, errType, nil, format, args...)
}

func httpErrorDetails(w http.ResponseWriter, code int, errType string, details any, format string, args ...any) {
	body := map[string]any{
		"message": fmt.Sprintf(format, args...),
		"type":    errType,
	}
	if details != nil {
		body["details"] = details
	}
	writeJSON(w, code, map[string]any{"error": body})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto status codes. Unrecognized errors are
// logged and reported without detail.
func writeError(w http.ResponseWriter, err error) {
	var (
		reviewInvalid *review.ValidationError
		ledgerInvalid *ledger.ValidationError
		transition    *review.TransitionError
		checklist     *review.ChecklistIncompleteError
		precondition  *publish.PreconditionError
		capExceeded   *ledger.CapExceededError
	)
	switch {
	case errors.As(err, &reviewInvalid):
		httpErrorDetails(w, http.StatusBadRequest, "invalid_request_error", map[string]any{"fields": reviewInvalid.Fields}, "%s", reviewInvalid.Error())
	case errors.As(err, &ledgerInvalid):
		httpErrorDetails(w, http.StatusBadRequest, "invalid_request_error", map[string]any{"fields": ledgerInvalid.Fields}, "%s", ledgerInvalid.Error())
	case errors.As(err, &capExceeded):
		httpErrorDetails(w, http.StatusBadRequest, "cap_exceeded", capExceeded, "%s", capExceeded.Error())
	case errors.As(err, &checklist):
		httpErrorDetails(w, http.StatusForbidden, "precondition_failed", map[string]any{"missing": checklist.Missing}, "%s", checklist.Error())
	case errors.As(err, &precondition):
		httpErrorDetails(w, http.StatusForbidden, "precondition_failed", map[string]string{"required": precondition.Required, "actual": precondition.Actual}, "%s", precondition.Error())
	case errors.As(err, &transition):
		httpErrorDetails(w, http.StatusConflict, "invalid_transition", map[string]string{"from": string(transition.From), "to": string(transition.To)}, "%s", transition.Error())
	case errors.Is(err, review.ErrNotFound), errors.Is(err, publish.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s", err.Error())
	case errors.Is(err, queue.ErrUnavailable):
		httpError(w, http.StatusServiceUnavailable, "unavailable", "queue store unavailable")
	case errors.Is(err, publish.ErrForwardFailed):
		httpError(w, http.StatusBadGateway, "api_error", "content store rejected the change")
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
