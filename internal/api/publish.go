package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type publishRequest struct {
	Publisher string `json:"publisher"`
	Notes     string `json:"notes"`
}

func handlePublish(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Gate.Publish(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"), req.Publisher, req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
	}
}

type retractRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func handleRetract(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retractRequest
		if !decodeBody(w, r, &req) {
			return
		}

		res, err := deps.Gate.Retract(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"), req.Actor, req.Reason)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": res})
	}
}
