package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/ledger"
)

func handleLedgerSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sum, err := deps.Ledger.Summarize(r.Context(), chi.URLParam(r, "month"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sum)
	}
}

type spendRequest struct {
	Category  string  `json:"category"`
	AmountUSD float64 `json:"amountUsd"`
	Note      string  `json:"note"`
	Actor     string  `json:"actor"`
}

func handleRecordSpend(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req spendRequest
		if !decodeBody(w, r, &req) {
			return
		}

		rec, err := deps.Ledger.RecordSpend(r.Context(), ledger.Spend{
			Month:     chi.URLParam(r, "month"),
			Category:  req.Category,
			AmountUSD: req.AmountUSD,
			Note:      req.Note,
			Actor:     req.Actor,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

func handleListAudit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		entries, err := deps.Audit.List(r.Context(), audit.Filter{
			Target: q.Get("target"),
			Action: strings.ToUpper(q.Get("action")),
			Actor:  q.Get("actor"),
			Limit:  parseIntParam(r, "limit", 100, 1000),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}
