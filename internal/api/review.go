package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/newsdesk/internal/review"
)

const defaultActor = "api"

func handleListTasks(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		all, _ := strconv.ParseBool(q.Get("all"))
		f := review.Filter{
			State:    review.State(strings.ToUpper(q.Get("state"))),
			Kind:     review.Kind(strings.ToUpper(q.Get("kind"))),
			TargetID: q.Get("targetId"),
			All:      all,
			Limit:    parseIntParam(r, "limit", 50, 200),
		}

		tasks, err := deps.Reviews.List(r.Context(), f)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

type createTaskRequest struct {
	review.NewTask
	Actor string `json:"actor"`
}

func handleCreateTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTaskRequest
		if !decodeBody(w, r, &req) {
			return
		}
		actor := req.Actor
		if actor == "" {
			actor = defaultActor
		}

		task, err := deps.Reviews.Create(r.Context(), req.NewTask, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}

func handleGetTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		task, err := deps.Reviews.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type decideRequest struct {
	State    string  `json:"state"`
	Reviewer string  `json:"reviewer"`
	Notes    *string `json:"notes"`
}

func handleDecideTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if !decodeBody(w, r, &req) {
			return
		}

		to := review.State(strings.ToUpper(strings.TrimSpace(req.State)))
		task, err := deps.Reviews.Decide(r.Context(), chi.URLParam(r, "id"), to, req.Reviewer, req.Notes)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type checklistRequest struct {
	review.ChecklistInput
	Actor string `json:"actor"`
}

func handleUpdateChecklist(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checklistRequest
		if !decodeBody(w, r, &req) {
			return
		}
		c, err := req.ChecklistInput.Complete()
		if err != nil {
			writeError(w, err)
			return
		}
		actor := req.Actor
		if actor == "" {
			actor = defaultActor
		}

		task, err := deps.Reviews.UpdateChecklist(r.Context(), chi.URLParam(r, "id"), c, actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

type resubmitRequest struct {
	Actor string `json:"actor"`
}

func handleResubmitTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req resubmitRequest
		if r.ContentLength != 0 && !decodeBody(w, r, &req) {
			return
		}
		actor := req.Actor
		if actor == "" {
			actor = defaultActor
		}

		task, err := deps.Reviews.Resubmit(r.Context(), chi.URLParam(r, "id"), actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	}
}
