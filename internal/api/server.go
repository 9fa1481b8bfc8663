package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/pipeline"
	"github.com/kalambet/newsdesk/internal/publish"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
)

// ReviewService is the review task store and state machine.
type ReviewService interface {
	Create(ctx context.Context, in review.NewTask, actor string) (review.Task, error)
	Get(ctx context.Context, id string) (review.Task, error)
	List(ctx context.Context, f review.Filter) ([]review.Task, error)
	Decide(ctx context.Context, id string, to review.State, reviewer string, notes *string) (review.Task, error)
	UpdateChecklist(ctx context.Context, id string, c review.Checklist, actor string) (review.Task, error)
	Resubmit(ctx context.Context, id, actor string) (review.Task, error)
}

// PublicationGate publishes and retracts reviewed entities.
type PublicationGate interface {
	Publish(ctx context.Context, entity, id, publisher, notes string) (publish.Result, error)
	Retract(ctx context.Context, entity, id, actor, reason string) (publish.Result, error)
}

// Ledger records spend against the monthly cap.
type Ledger interface {
	RecordSpend(ctx context.Context, s ledger.Spend) (ledger.Recorded, error)
	Summarize(ctx context.Context, month string) (ledger.Summary, error)
}

// AuditReader lists audit entries.
type AuditReader interface {
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Processor runs one bounded pipeline batch.
type Processor interface {
	Run(ctx context.Context, count int) ([]pipeline.Result, error)
}

// Feeder pulls configured feeds into the queue.
type Feeder interface {
	Fetch(ctx context.Context, filter string) (ingest.Report, error)
}

type Deps struct {
	Token        string
	Queue        queue.Queue
	QueueBackend string
	Processor    Processor
	Feeder       Feeder // optional; if nil, POST /ingest returns 503
	Reviews      ReviewService
	Gate         PublicationGate
	Ledger       Ledger
	Audit        AuditReader
	AIReady      bool
	CMSReady     bool
}

// NewHandler returns the HTTP API. Every route except /health requires the
// bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/queue/items", handleEnqueue(deps))
		r.Get("/queue/stats", handleQueueStats(deps))
		r.Get("/queue/{lane}", handleListLane(deps))
		r.Post("/process", handleProcess(deps))
		r.Post("/ingest", handleIngest(deps))

		r.Get("/review/tasks", handleListTasks(deps))
		r.Post("/review/tasks", handleCreateTask(deps))
		r.Get("/review/tasks/{id}", handleGetTask(deps))
		r.Patch("/review/tasks/{id}", handleDecideTask(deps))
		r.Put("/review/tasks/{id}/checklist", handleUpdateChecklist(deps))
		r.Post("/review/tasks/{id}/resubmit", handleResubmitTask(deps))

		r.Post("/publish/{entity}/{id}", handlePublish(deps))
		r.Post("/publish/{entity}/{id}/retract", handleRetract(deps))

		r.Get("/ledger/{month}", handleLedgerSummary(deps))
		r.Post("/ledger/{month}", handleRecordSpend(deps))

		r.Get("/audit", handleListAudit(deps))
	})

	return r
}

func readiness(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		if deps.QueueBackend == "none" || !deps.AIReady || !deps.CMSReady {
			status = "degraded"
		}
		body := map[string]any{
			"status":       status,
			"queueBackend": deps.QueueBackend,
			"ai":           readiness(deps.AIReady),
			"cms":          readiness(deps.CMSReady),
		}
		if stats, err := deps.Queue.Stats(r.Context()); err == nil {
			body["queue"] = stats
		} else {
			body["status"] = "degraded"
			body["queue"] = map[string]string{"error": "unavailable"}
		}
		writeJSON(w, http.StatusOK, body)
	}
}
