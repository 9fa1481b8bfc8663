package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/cms"
	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/ledger"
	"github.com/kalambet/newsdesk/internal/pipeline"
	"github.com/kalambet/newsdesk/internal/publish"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
	"github.com/kalambet/newsdesk/internal/storage"
)

const testToken = "test-token"

// --- mocks ---

type mockProcessor struct {
	runFn func(ctx context.Context, count int) ([]pipeline.Result, error)
}

func (m *mockProcessor) Run(ctx context.Context, count int) ([]pipeline.Result, error) {
	return m.runFn(ctx, count)
}

type mockFeeder struct {
	fetchFn func(ctx context.Context, filter string) (ingest.Report, error)
}

func (m *mockFeeder) Fetch(ctx context.Context, filter string) (ingest.Report, error) {
	return m.fetchFn(ctx, filter)
}

type mockPublisher struct {
	createFn func(ctx context.Context, p cms.Page) (string, error)
	setFn    func(ctx context.Context, pageID string, published bool) error
}

func (m *mockPublisher) CreatePage(ctx context.Context, p cms.Page) (string, error) {
	if m.createFn == nil {
		return "page-1", nil
	}
	return m.createFn(ctx, p)
}

func (m *mockPublisher) SetPublished(ctx context.Context, pageID string, published bool) error {
	if m.setFn == nil {
		return nil
	}
	return m.setFn(ctx, pageID, published)
}

// --- helpers ---

func newTestDeps(t *testing.T) (Deps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	auditLog := audit.New(store)
	reviews := review.NewService(store, auditLog, review.Options{})
	return Deps{
		Token:        testToken,
		Queue:        queue.NewSQLite(store),
		QueueBackend: "sqlite",
		Processor: &mockProcessor{runFn: func(context.Context, int) ([]pipeline.Result, error) {
			return []pipeline.Result{}, nil
		}},
		Reviews:  reviews,
		Gate:     publish.NewGate(reviews, store, &mockPublisher{}, auditLog),
		Ledger:   ledger.NewGuard(store, auditLog, 1000),
		Audit:    auditLog,
		AIReady:  true,
		CMSReady: true,
	}, store
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

type errorEnvelope struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding error body %q: %v", rec.Body.String(), err)
	}
	return env
}

func newsTask(target string) map[string]any {
	return map[string]any{
		"kind":     "NEWS",
		"targetId": target,
		"title":    "Royal finances",
		"sources":  []string{"https://example.com/a"},
		"risk":     2,
		"checklist": map[string]bool{
			"sources": true, "quotes": true, "counterview": false,
			"numbers": true, "rights": false, "style": true,
		},
	}
}

func createTask(t *testing.T, h http.Handler, body map[string]any) review.Task {
	t.Helper()
	rec := doRequest(t, h, http.MethodPost, "/review/tasks", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var task review.Task
	if err := json.Unmarshal(rec.Body.Bytes(), &task); err != nil {
		t.Fatal(err)
	}
	return task
}

// --- tests ---

func TestHealth_NoAuthRequired(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" || body["ai"] != "configured" {
		t.Errorf("body = %v", body)
	}
}

func TestHealth_DegradedQueue(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Queue = queue.NewNoop()
	deps.QueueBackend = "none"
	deps.AIReady = false

	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/health", nil)
	var body map[string]any
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "degraded" || body["ai"] != "not_configured" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)

	for _, auth := range []string{"", "Bearer wrong", testToken} {
		req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, rec.Code)
		}
	}
}

func TestEnqueueAndStats(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/queue/items", map[string]any{
		"id": "n1", "title": "X", "excerpt": "safe", "url": "u", "source": "s", "publishedAt": "t",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("enqueue status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/queue/stats", nil)
	var stats queue.Stats
	json.Unmarshal(rec.Body.Bytes(), &stats)
	if stats != (queue.Stats{Pending: 1}) {
		t.Errorf("stats = %+v", stats)
	}

	rec = doRequest(t, h, http.MethodGet, "/queue/pending?limit=5", nil)
	var entries []queue.Entry
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Pending == nil || entries[0].Pending.ID != "n1" {
		t.Errorf("entries = %s", rec.Body.String())
	}
}

func TestEnqueue_RequiresTitle(t *testing.T) {
	deps, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/queue/items", map[string]any{"excerpt": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestListLane_Unknown(t *testing.T) {
	deps, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/queue/archived", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestProcess(t *testing.T) {
	deps, _ := newTestDeps(t)
	var gotCount int
	deps.Processor = &mockProcessor{runFn: func(_ context.Context, count int) ([]pipeline.Result, error) {
		gotCount = count
		return []pipeline.Result{
			{ID: "n1", Status: pipeline.StatusProcessed},
			{ID: "n2", Status: pipeline.StatusFailed, Reason: pipeline.ReasonSafety},
		}, nil
	}}

	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/process", map[string]int{"count": 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if gotCount != 3 {
		t.Errorf("count = %d, want 3", gotCount)
	}
	var body struct {
		Message string            `json:"message"`
		Results []pipeline.Result `json:"results"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Message != "Processed 2 items (1 failed)" || len(body.Results) != 2 {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestProcess_QueueUnavailable(t *testing.T) {
	deps, _ := newTestDeps(t)
	deps.Processor = &mockProcessor{runFn: func(context.Context, int) ([]pipeline.Result, error) {
		return []pipeline.Result{}, queue.ErrUnavailable
	}}

	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/process", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestIngest(t *testing.T) {
	deps, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/ingest", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("without feeder: status = %d, want 503", rec.Code)
	}

	var gotFilter string
	deps.Feeder = &mockFeeder{fetchFn: func(_ context.Context, filter string) (ingest.Report, error) {
		gotFilter = filter
		return ingest.Report{Enqueued: 4}, nil
	}}
	rec = doRequest(t, NewHandler(deps), http.MethodPost, "/ingest", map[string]string{"source": "bbc"})
	if rec.Code != http.StatusOK || gotFilter != "bbc" {
		t.Errorf("status = %d, filter = %q", rec.Code, gotFilter)
	}
}

func TestCreateTask_ValidationDetails(t *testing.T) {
	deps, _ := newTestDeps(t)
	body := newsTask("n1")
	body["risk"] = 9
	delete(body, "checklist")

	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/review/tasks", body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeError(t, rec)
	var details struct {
		Fields map[string]string `json:"fields"`
	}
	json.Unmarshal(env.Error.Details, &details)
	if details.Fields["risk"] == "" || details.Fields["checklist.sources"] == "" {
		t.Errorf("fields = %v", details.Fields)
	}
}

func TestReviewFlow_ApproveThenPublish(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)

	task := createTask(t, h, map[string]any{
		"kind": "EVIDENCE", "targetId": "ev-1", "title": "Court filing",
		"sources": []string{}, "risk": 3,
		"checklist": map[string]bool{
			"sources": true, "quotes": true, "counterview": true,
			"numbers": true, "rights": true, "style": true,
		},
	})
	if task.State != review.StateReviewing || task.RiskLabel != "Medium" {
		t.Errorf("task = %+v", task)
	}

	// Publishing before approval is refused.
	rec := doRequest(t, h, http.MethodPost, "/publish/evidence/ev-1", map[string]string{"publisher": "ed"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("pre-approval publish status = %d, want 403", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPatch, "/review/tasks/"+task.ID, map[string]string{
		"state": "approved", "reviewer": "alice", "notes": "fine",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("decide status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPatch, "/review/tasks/"+task.ID, map[string]string{
		"state": "REJECTED", "reviewer": "bob",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second decide status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/publish/evidence/ev-1", map[string]string{"publisher": "ed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("publish status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var pub struct {
		Success bool           `json:"success"`
		Data    publish.Result `json:"data"`
	}
	json.Unmarshal(rec.Body.Bytes(), &pub)
	if !pub.Success || pub.Data.Reviewer != "alice" || pub.Data.AuditLogID == "" {
		t.Errorf("publish body = %s", rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodGet, "/audit?target="+task.ID, nil)
	var entries []audit.Entry
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 2 {
		t.Fatalf("task audit entries = %d, want 2", len(entries))
	}
	if entries[0].Action != audit.ActionCreate || entries[1].Action != audit.ActionApprove {
		t.Errorf("actions = %s, %s", entries[0].Action, entries[1].Action)
	}

	rec = doRequest(t, h, http.MethodGet, "/audit?target=ev-1&action=publish", nil)
	entries = nil
	json.Unmarshal(rec.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Actor != "ed" || entries[0].ID != pub.Data.AuditLogID {
		t.Errorf("publish audit = %s", rec.Body.String())
	}
}

func TestPublish_UnknownTarget(t *testing.T) {
	deps, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodPost, "/publish/evidence/missing", map[string]string{"publisher": "ed"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestPublish_ForwardFailure(t *testing.T) {
	deps, store := newTestDeps(t)
	auditLog := audit.New(store)
	reviews := review.NewService(store, auditLog, review.Options{})
	deps.Reviews = reviews
	deps.Gate = publish.NewGate(reviews, store, &mockPublisher{
		setFn: func(context.Context, string, bool) error { return cms.ErrNotConfigured },
	}, auditLog)
	h := NewHandler(deps)

	q := queue.NewSQLite(store)
	ctx := context.Background()
	q.MarkProcessed(ctx, queue.ProcessedItem{Item: queue.Item{ID: "n1", Title: "X"}, NotionPageID: "page-9", PublishedToNotion: true})

	task := createTask(t, h, newsTask("n1"))
	doRequest(t, h, http.MethodPatch, "/review/tasks/"+task.ID, map[string]string{"state": "APPROVED", "reviewer": "alice"})

	rec := doRequest(t, h, http.MethodPost, "/publish/news/n1", map[string]string{"publisher": "ed"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rec.Code)
	}
}

func TestChecklistUpdateAndResubmit(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)
	task := createTask(t, h, newsTask("n1"))

	rec := doRequest(t, h, http.MethodPut, "/review/tasks/"+task.ID+"/checklist", map[string]any{
		"sources": true, "quotes": true, "counterview": true,
		"numbers": true, "rights": true, "style": true, "actor": "alice",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("checklist status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var updated review.Task
	json.Unmarshal(rec.Body.Bytes(), &updated)
	if len(updated.Checklist.Unchecked()) != 0 {
		t.Errorf("checklist = %+v", updated.Checklist)
	}

	rec = doRequest(t, h, http.MethodPut, "/review/tasks/"+task.ID+"/checklist", map[string]any{"sources": true})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("partial checklist status = %d, want 400", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/review/tasks/"+task.ID+"/resubmit", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("resubmit of open task status = %d, want 409", rec.Code)
	}

	doRequest(t, h, http.MethodPatch, "/review/tasks/"+task.ID, map[string]string{"state": "REJECTED", "reviewer": "alice"})
	rec = doRequest(t, h, http.MethodPost, "/review/tasks/"+task.ID+"/resubmit", map[string]string{"actor": "bob"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("resubmit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var fresh review.Task
	json.Unmarshal(rec.Body.Bytes(), &fresh)
	if fresh.Supersedes != task.ID || fresh.State != review.StateReviewing {
		t.Errorf("fresh = %+v", fresh)
	}

	rec = doRequest(t, h, http.MethodGet, "/review/tasks?all=true", nil)
	var all []review.Task
	json.Unmarshal(rec.Body.Bytes(), &all)
	if len(all) != 2 {
		t.Errorf("all tasks = %d, want 2", len(all))
	}
}

func TestGetTask_NotFound(t *testing.T) {
	deps, _ := newTestDeps(t)
	rec := doRequest(t, NewHandler(deps), http.MethodGet, "/review/tasks/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestLedger_CapExceededDetails(t *testing.T) {
	deps, _ := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/ledger/2024-01", map[string]any{"category": "infra", "amountUsd": 900})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first spend status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, h, http.MethodPost, "/ledger/2024-01", map[string]any{"category": "legal", "amountUsd": 150})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("over-cap status = %d, want 400", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Error.Type != "cap_exceeded" {
		t.Errorf("type = %q", env.Error.Type)
	}
	var details ledger.CapExceededError
	json.Unmarshal(env.Error.Details, &details)
	if details.CurrentSpent != 900 || details.RequestedAmount != 150 || details.Remaining != 100 || details.Cap != 1000 {
		t.Errorf("details = %+v", details)
	}

	rec = doRequest(t, h, http.MethodGet, "/ledger/2024-01", nil)
	var sum ledger.Summary
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if sum.TotalSpent != 900 || len(sum.Entries) != 1 {
		t.Errorf("summary = %+v", sum)
	}

	rec = doRequest(t, h, http.MethodGet, "/ledger/january", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad month status = %d, want 400", rec.Code)
	}
}

func TestWriteError_InternalHidesDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, context.DeadlineExceeded)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	env := decodeError(t, rec)
	if env.Error.Message != "internal error" {
		t.Errorf("message = %q", env.Error.Message)
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=-1", 20},
		{"limit=abc", 20},
		{"limit=500", 100},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/x?"+tt.query, nil)
		if got := parseIntParam(req, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
