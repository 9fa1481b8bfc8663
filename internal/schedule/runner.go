package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/newsdesk/internal/ingest"
	"github.com/kalambet/newsdesk/internal/pipeline"
)

// Feeder pulls new items into the queue.
type Feeder interface {
	Fetch(ctx context.Context, filter string) (ingest.Report, error)
}

// Pipeline processes pending items.
type Pipeline interface {
	Run(ctx context.Context, count int) ([]pipeline.Result, error)
}

// Tick summarizes one scheduled iteration.
type Tick struct {
	Enqueued  int
	Processed int
	Failed    int
}

// Runner periodically ingests feeds and drains a batch from the queue.
type Runner struct {
	feeder   Feeder
	pipeline Pipeline
	interval time.Duration
	batch    int
	logger   *slog.Logger
}

// NewRunner creates a Runner. feeder may be nil to only process. A batch
// size <= 0 defaults to 5.
func NewRunner(feeder Feeder, p Pipeline, interval time.Duration, batch int) *Runner {
	if batch <= 0 {
		batch = 5
	}
	return &Runner{
		feeder:   feeder,
		pipeline: p,
		interval: interval,
		batch:    batch,
		logger:   slog.Default(),
	}
}

// Enabled reports whether a positive interval is configured.
func (r *Runner) Enabled() bool {
	return r.interval > 0
}

// Run ticks every interval until ctx is cancelled. It returns immediately
// when the runner is disabled.
func (r *Runner) Run(ctx context.Context) {
	if !r.Enabled() {
		r.logger.Debug("scheduled runs disabled")
		return
	}
	r.logger.Info("scheduled runs enabled", "interval", r.interval, "batch", r.batch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval):
		}

		tick, err := r.RunOnce(ctx)
		if err != nil {
			r.logger.Error("scheduled run failed", "error", err)
			continue
		}
		r.logger.Info("scheduled run complete", "enqueued", tick.Enqueued, "processed", tick.Processed, "failed", tick.Failed)
	}
}

// RunOnce ingests (when a feeder is set) and then processes one batch.
// An ingestion failure is logged and processing still runs.
func (r *Runner) RunOnce(ctx context.Context) (Tick, error) {
	var tick Tick
	if r.feeder != nil {
		report, err := r.feeder.Fetch(ctx, "")
		if err != nil {
			r.logger.Warn("scheduled ingest failed", "error", err)
		}
		tick.Enqueued = report.Enqueued
	}

	results, err := r.pipeline.Run(ctx, r.batch)
	for _, res := range results {
		if res.Status == pipeline.StatusProcessed {
			tick.Processed++
		} else {
			tick.Failed++
		}
	}
	if err != nil {
		return tick, fmt.Errorf("processing batch: %w", err)
	}
	return tick, nil
}
