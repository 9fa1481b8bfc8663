package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/newsdesk/internal/pipeline"
	"github.com/kalambet/newsdesk/internal/queue"
)

func handleEnqueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var item queue.Item
		if !decodeBody(w, r, &item) {
			return
		}
		if strings.TrimSpace(item.Title) == "" {
			httpErrorDetails(w, http.StatusBadRequest, "invalid_request_error",
				map[string]any{"fields": map[string]string{"title": "required"}}, "title is required")
			return
		}
		if item.ID == "" {
			item.ID = "manual-" + uuid.New().String()
		}
		if item.Source == "" {
			item.Source = "manual"
		}
		if item.PublishedAt == "" {
			item.PublishedAt = time.Now().UTC().Format(time.RFC3339)
		}

		if err := deps.Queue.Enqueue(r.Context(), item); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": item.ID, "status": "queued"})
	}
}

func handleQueueStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Queue.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

func handleListLane(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lane := chi.URLParam(r, "lane")
		switch lane {
		case "pending", "processed", "failed":
		default:
			httpError(w, http.StatusNotFound, "not_found", "unknown lane %q", lane)
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		entries, err := deps.Queue.List(r.Context(), lane, limit, offset)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type processRequest struct {
	Count int `json:"count"`
}

func handleProcess(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := processRequest{Count: 1}
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		results, err := deps.Processor.Run(r.Context(), req.Count)
		if err != nil && len(results) == 0 {
			writeError(w, err)
			return
		}

		failed := 0
		for _, res := range results {
			if res.Status == pipeline.StatusFailed {
				failed++
			}
		}
		msg := fmt.Sprintf("Processed %d items (%d failed)", len(results), failed)
		if err != nil {
			msg += "; stopped early: queue unavailable"
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": msg,
			"results": results,
		})
	}
}

type ingestRequest struct {
	Source string `json:"source"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Feeder == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "feed ingestion is not configured")
			return
		}
		var req ingestRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}

		report, err := deps.Feeder.Fetch(r.Context(), req.Source)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}
