package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/pipeline"
)

type mockFeeder struct {
	fetchFn func(ctx context.Context, filter string) (ingest.Report, error)
	calls   atomic.Int32
}

func (m *mockFeeder) Fetch(ctx context.Context, filter string) (ingest.Report, error) {
	m.calls.Add(1)
	return m.fetchFn(ctx, filter)
}

type mockPipeline struct {
	runFn func(ctx context.Context, count int) ([]pipeline.Result, error)
	calls atomic.Int32
}

func (m *mockPipeline) Run(ctx context.Context, count int) ([]pipeline.Result, error) {
	m.calls.Add(1)
	return m.runFn(ctx, count)
}

func TestRunOnce_IngestsThenProcesses(t *testing.T) {
	feeder := &mockFeeder{fetchFn: func(context.Context, string) (ingest.Report, error) {
		return ingest.Report{Enqueued: 3}, nil
	}}
	var gotCount int
	p := &mockPipeline{runFn: func(_ context.Context, count int) ([]pipeline.Result, error) {
		gotCount = count
		return []pipeline.Result{
			{ID: "a", Status: pipeline.StatusProcessed},
			{ID: "b", Status: pipeline.StatusFailed},
			{ID: "c", Status: pipeline.StatusProcessed},
		}, nil
	}}

	tick, err := NewRunner(feeder, p, time.Minute, 7).RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if gotCount != 7 {
		t.Errorf("batch = %d, want 7", gotCount)
	}
	if tick != (Tick{Enqueued: 3, Processed: 2, Failed: 1}) {
		t.Errorf("tick = %+v", tick)
	}
}

func TestRunOnce_IngestFailureStillProcesses(t *testing.T) {
	feeder := &mockFeeder{fetchFn: func(context.Context, string) (ingest.Report, error) {
		return ingest.Report{}, errors.New("queue rejected item")
	}}
	p := &mockPipeline{runFn: func(context.Context, int) ([]pipeline.Result, error) {
		return nil, nil
	}}

	if _, err := NewRunner(feeder, p, time.Minute, 0).RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if p.calls.Load() != 1 {
		t.Errorf("pipeline calls = %d, want 1", p.calls.Load())
	}
}

func TestRunOnce_PipelineError(t *testing.T) {
	p := &mockPipeline{runFn: func(context.Context, int) ([]pipeline.Result, error) {
		return []pipeline.Result{{Status: pipeline.StatusProcessed}}, errors.New("queue unavailable")
	}}

	tick, err := NewRunner(nil, p, time.Minute, 1).RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if tick.Processed != 1 {
		t.Errorf("Processed = %d, want 1", tick.Processed)
	}
}

func TestRun_DisabledReturnsImmediately(t *testing.T) {
	p := &mockPipeline{runFn: func(context.Context, int) ([]pipeline.Result, error) {
		return nil, nil
	}}
	r := NewRunner(nil, p, 0, 1)
	if r.Enabled() {
		t.Fatal("zero interval should disable the runner")
	}

	done := make(chan struct{})
	go func() {
		r.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a disabled runner")
	}
	if p.calls.Load() != 0 {
		t.Errorf("pipeline calls = %d, want 0", p.calls.Load())
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	p := &mockPipeline{runFn: func(context.Context, int) ([]pipeline.Result, error) {
		return nil, nil
	}}
	r := NewRunner(nil, p, 5*time.Millisecond, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if p.calls.Load() < 2 {
		t.Errorf("pipeline calls = %d, want at least 2", p.calls.Load())
	}
}
