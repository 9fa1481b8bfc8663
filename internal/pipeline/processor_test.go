package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/newsdesk/internal/ai"
	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/cms"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
	"github.com/kalambet/newsdesk/internal/storage"
)

// --- mock classifier ---

type mockClassifier struct {
	classifyFn func(ctx context.Context, title, excerpt string) (ai.Classification, error)
	briefFn    func(ctx context.Context, title, excerpt string) (ai.Brief, error)
	articleFn  func(ctx context.Context, title, excerpt string, sources []string) (ai.Article, error)
	safetyFn   func(ctx context.Context, content string) (ai.SafetyVerdict, error)

	briefCalls   int
	articleCalls int
}

func (m *mockClassifier) Classify(ctx context.Context, title, excerpt string) (ai.Classification, error) {
	if m.classifyFn != nil {
		return m.classifyFn(ctx, title, excerpt)
	}
	return ai.Classification{Category: "politics", Relevance: 7, Sentiment: "neutral", Summary: "summary"}, nil
}

func (m *mockClassifier) Brief(ctx context.Context, title, excerpt string) (ai.Brief, error) {
	m.briefCalls++
	if m.briefFn != nil {
		return m.briefFn(ctx, title, excerpt)
	}
	return ai.Brief{Title: "Brief " + title, Summary: "s"}, nil
}

func (m *mockClassifier) Article(ctx context.Context, title, excerpt string, sources []string) (ai.Article, error) {
	m.articleCalls++
	if m.articleFn != nil {
		return m.articleFn(ctx, title, excerpt, sources)
	}
	return ai.Article{Title: "Article " + title, Content: "body", Excerpt: "ex", Tags: []string{"t"}}, nil
}

func (m *mockClassifier) Safety(ctx context.Context, content string) (ai.SafetyVerdict, error) {
	if m.safetyFn != nil {
		return m.safetyFn(ctx, content)
	}
	return ai.SafetyVerdict{IsSafe: true}, nil
}

// --- mock content store ---

type mockPublisher struct {
	createFn func(ctx context.Context, p cms.Page) (string, error)
	pages    []cms.Page
}

func (m *mockPublisher) CreatePage(ctx context.Context, p cms.Page) (string, error) {
	m.pages = append(m.pages, p)
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return "page-1", nil
}

func (m *mockPublisher) SetPublished(ctx context.Context, pageID string, published bool) error {
	return nil
}

type testEnv struct {
	proc       *Processor
	queue      *queue.SQLiteQueue
	reviews    *review.Service
	classifier *mockClassifier
	cms        *mockPublisher
}

func newTestEnv(t *testing.T, opts Options) testEnv {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	q := queue.NewSQLite(s)
	reviews := review.NewService(s, audit.New(s), review.Options{})
	mc := &mockClassifier{}
	mp := &mockPublisher{}
	return testEnv{
		proc:       NewProcessor(q, mc, mp, reviews, opts),
		queue:      q,
		reviews:    reviews,
		classifier: mc,
		cms:        mp,
	}
}

func sampleItem(id string) queue.Item {
	return queue.Item{ID: id, Title: "X", Excerpt: "safe", URL: "u", Source: "s", PublishedAt: "t"}
}

func (env testEnv) stats(t *testing.T) queue.Stats {
	t.Helper()
	st, err := env.queue.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	return st
}

// TestRun_ProcessesItem runs one safe item end to end.
func TestRun_ProcessesItem(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, err := env.proc.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(results))
	}
	r := results[0]
	if r.ID != "n1" || r.Status != StatusProcessed {
		t.Errorf("result = %+v", r)
	}
	if r.Category != "politics" || r.Relevance == nil || *r.Relevance != 7 {
		t.Errorf("category/relevance = %q/%v", r.Category, r.Relevance)
	}
	if r.NotionPageID != "page-1" {
		t.Errorf("NotionPageID = %q", r.NotionPageID)
	}

	if st := env.stats(t); st != (queue.Stats{Pending: 0, Processed: 1, Failed: 0}) {
		t.Errorf("stats = %+v", st)
	}

	if len(env.cms.pages) != 1 || env.cms.pages[0].Published {
		t.Errorf("pages = %+v, want one draft", env.cms.pages)
	}

	entries, _ := env.queue.List(ctx, storage.LaneProcessed, 1, 0)
	p := entries[0].Processed
	if !p.PublishedToNotion || p.NotionPageID != "page-1" || p.Article.Title != "Article X" || !p.SafetyCheck.IsSafe {
		t.Errorf("processed item = %+v", p)
	}
	if p.Category != "politics" {
		t.Errorf("processed Category = %q", p.Category)
	}
}

func TestRun_EmitsReviewTask(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.classifier.classifyFn = func(context.Context, string, string) (ai.Classification, error) {
		return ai.Classification{Category: "economy", Relevance: 5, Sentiment: "negative", Summary: "Costs rise"}, nil
	}
	env.classifier.safetyFn = func(context.Context, string) (ai.SafetyVerdict, error) {
		return ai.SafetyVerdict{IsSafe: true, Recommendations: []string{"cite budget", "add response"}}, nil
	}
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, _ := env.proc.Run(ctx, 1)
	if results[0].ReviewTaskID == "" {
		t.Fatal("ReviewTaskID empty")
	}

	task, err := env.reviews.Get(ctx, results[0].ReviewTaskID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if task.Kind != review.KindNews || task.TargetID != "n1" || task.State != review.StateReviewing {
		t.Errorf("task = %+v", task)
	}
	if task.Risk != 4 {
		t.Errorf("Risk = %d, want 4", task.Risk)
	}
	if task.Summary != "Costs rise" || len(task.Sources) != 1 || task.Sources[0] != "u" {
		t.Errorf("task = %+v", task)
	}
}

// TestRun_SafetyGate checks an unsafe item never reaches generation or the
// content store.
func TestRun_SafetyGate(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.classifier.safetyFn = func(context.Context, string) (ai.SafetyVerdict, error) {
		return ai.SafetyVerdict{IsSafe: false, Concerns: []string{"x"}}, nil
	}
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, err := env.proc.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 || results[0].Status != StatusFailed || results[0].Reason != "Safety check failed" {
		t.Fatalf("results = %+v", results)
	}
	if st := env.stats(t); st != (queue.Stats{Pending: 0, Processed: 0, Failed: 1}) {
		t.Errorf("stats = %+v", st)
	}
	if env.classifier.briefCalls != 0 || env.classifier.articleCalls != 0 {
		t.Errorf("generation ran: brief=%d article=%d", env.classifier.briefCalls, env.classifier.articleCalls)
	}
	if len(env.cms.pages) != 0 {
		t.Errorf("content store written %d times", len(env.cms.pages))
	}

	failed, _ := env.queue.List(ctx, storage.LaneFailed, 1, 0)
	if failed[0].Failed.Error != "Safety concerns: x" {
		t.Errorf("failed reason = %q", failed[0].Failed.Error)
	}

	tasks, _ := env.reviews.List(ctx, review.Filter{All: true})
	if len(tasks) != 0 {
		t.Errorf("review tasks = %d, want 0", len(tasks))
	}
}

func TestRun_ClassifyErrorFailsItemAndContinues(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.classifier.classifyFn = func(_ context.Context, title, _ string) (ai.Classification, error) {
		if title == "bad" {
			return ai.Classification{}, errors.New("model overloaded")
		}
		return ai.Classification{Category: "other"}, nil
	}
	bad := sampleItem("n1")
	bad.Title = "bad"
	env.queue.Enqueue(ctx, bad)
	env.queue.Enqueue(ctx, sampleItem("n2"))

	results, err := env.proc.Run(ctx, 2)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Status != StatusFailed || results[0].Reason != "model overloaded" {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Status != StatusProcessed {
		t.Errorf("second = %+v", results[1])
	}
}

func TestRun_GenerationErrorFailsItem(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.classifier.articleFn = func(context.Context, string, string, []string) (ai.Article, error) {
		return ai.Article{}, errors.New("article: context length exceeded")
	}
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, _ := env.proc.Run(ctx, 1)
	if results[0].Status != StatusFailed || !strings.Contains(results[0].Reason, "context length") {
		t.Errorf("result = %+v", results[0])
	}
	if len(env.cms.pages) != 0 {
		t.Error("content store written after generation failure")
	}
	if st := env.stats(t); st.Failed != 1 || st.Processed != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestRun_ContentStoreFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.cms.createFn = func(context.Context, cms.Page) (string, error) {
		return "", cms.ErrNotConfigured
	}
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, _ := env.proc.Run(ctx, 1)
	if results[0].Status != StatusProcessed || results[0].NotionPageID != "" {
		t.Errorf("result = %+v", results[0])
	}

	entries, _ := env.queue.List(ctx, storage.LaneProcessed, 1, 0)
	if p := entries[0].Processed; p.PublishedToNotion || p.NotionPageID != "" {
		t.Errorf("processed = %+v", p)
	}
}

func TestRun_StopsWhenQueueEmpty(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, err := env.proc.Run(ctx, 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("len(results) = %d, want 1", len(results))
	}

	results, err = env.proc.Run(ctx, 5)
	if err != nil || len(results) != 0 {
		t.Errorf("Run on empty queue = %v, %v", results, err)
	}
}

func TestRun_CountDefaultsAndCap(t *testing.T) {
	env := newTestEnv(t, Options{MaxBatch: 2})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		env.queue.Enqueue(ctx, sampleItem(id))
	}

	results, _ := env.proc.Run(ctx, 0)
	if len(results) != 1 {
		t.Errorf("count 0: len(results) = %d, want 1", len(results))
	}
	results, _ = env.proc.Run(ctx, 100)
	if len(results) != 2 {
		t.Errorf("count 100 with max 2: len(results) = %d, want 2", len(results))
	}
}

func TestRun_StageTimeout(t *testing.T) {
	env := newTestEnv(t, Options{StageTimeout: 20 * time.Millisecond})
	ctx := context.Background()
	env.classifier.classifyFn = func(ctx context.Context, _, _ string) (ai.Classification, error) {
		<-ctx.Done()
		return ai.Classification{}, ctx.Err()
	}
	env.queue.Enqueue(ctx, sampleItem("n1"))

	results, err := env.proc.Run(ctx, 1)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if results[0].Status != StatusFailed || !strings.Contains(results[0].Reason, "timed out") {
		t.Errorf("result = %+v", results[0])
	}
}

type unavailableQueue struct {
	queue.Noop
}

func (unavailableQueue) Dequeue(context.Context) (*queue.Item, error) {
	return nil, queue.ErrUnavailable
}

func TestRun_QueueUnavailable(t *testing.T) {
	p := NewProcessor(unavailableQueue{}, &mockClassifier{}, &mockPublisher{}, nil, Options{})
	results, err := p.Run(context.Background(), 3)
	if !errors.Is(err, queue.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestRun_NoopQueue(t *testing.T) {
	p := NewProcessor(queue.Noop{}, &mockClassifier{}, &mockPublisher{}, nil, Options{})
	results, err := p.Run(context.Background(), 3)
	if err != nil || len(results) != 0 {
		t.Errorf("Run = %v, %v; want no results", results, err)
	}
}

func TestDeriveRisk(t *testing.T) {
	tests := []struct {
		sentiment string
		recs      int
		want      int
	}{
		{"neutral", 0, 1},
		{"negative", 0, 2},
		{"positive", 2, 3},
		{"negative", 10, 5},
	}
	for _, tt := range tests {
		got := deriveRisk(ai.Classification{Sentiment: tt.sentiment}, ai.SafetyVerdict{Recommendations: make([]string, tt.recs)})
		if got != tt.want {
			t.Errorf("deriveRisk(%s, %d) = %d, want %d", tt.sentiment, tt.recs, got, tt.want)
		}
	}
}

// corruptHeadQueue yields one unreadable record before the wrapped queue.
type corruptHeadQueue struct {
	queue.Queue
	served bool
}

func (c *corruptHeadQueue) Dequeue(ctx context.Context) (*queue.Item, error) {
	if !c.served {
		c.served = true
		return nil, &queue.DecodeError{ItemID: "bad-1", Err: errors.New("unexpected end of JSON input")}
	}
	return c.Queue.Dequeue(ctx)
}

func TestRun_UndecodableItemReported(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	env.queue.Enqueue(ctx, sampleItem("n1"))

	p := NewProcessor(&corruptHeadQueue{Queue: env.queue}, env.classifier, env.cms, env.reviews, Options{})
	results, err := p.Run(ctx, 5)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v, want 2", results)
	}
	if results[0].ID != "bad-1" || results[0].Status != StatusFailed || results[0].Reason == "" {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].ID != "n1" {
		t.Errorf("second result = %+v", results[1])
	}
}
