package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/newsdesk/internal/ai"
	"github.com/kalambet/newsdesk/internal/cms"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
)

const (
	StatusProcessed = "processed"
	StatusFailed    = "failed"

	// ReasonSafety is the result reason for items stopped by the safety gate.
	ReasonSafety = "Safety check failed"

	// Actor recorded on review tasks the pipeline opens.
	Actor = "pipeline"

	defaultStageTimeout = 60 * time.Second
	defaultMaxBatch     = 50
)

// ReviewCreator opens review tasks for processed items.
type ReviewCreator interface {
	Create(ctx context.Context, in review.NewTask, actor string) (review.Task, error)
}

// Options bounds one invocation.
type Options struct {
	StageTimeout time.Duration
	MaxBatch     int
}

// Result is the outcome for one dequeued item.
type Result struct {
	ID           string   `json:"id"`
	Title        string   `json:"title"`
	Status       string   `json:"status"`
	Reason       string   `json:"reason,omitempty"`
	Category     string   `json:"category,omitempty"`
	Relevance    *float64 `json:"relevance,omitempty"`
	NotionPageID string   `json:"notionPageId,omitempty"`
	ReviewTaskID string   `json:"reviewTaskId,omitempty"`
}

// Processor turns pending queue items into reviewed-ready content. Items in
// one run are handled one at a time, and each item's stages run in order.
type Processor struct {
	queue   queue.Queue
	ai      ai.Classifier
	cms     cms.Publisher
	reviews ReviewCreator
	opts    Options
	logger  *slog.Logger
}

// NewProcessor creates a Processor. Zero options take their defaults.
func NewProcessor(q queue.Queue, classifier ai.Classifier, publisher cms.Publisher, reviews ReviewCreator, opts Options) *Processor {
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = defaultStageTimeout
	}
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = defaultMaxBatch
	}
	return &Processor{
		queue:   q,
		ai:      classifier,
		cms:     publisher,
		reviews: reviews,
		opts:    opts,
		logger:  slog.Default(),
	}
}

// Run attempts up to count items. It stops early when the pending lane is
// empty. Item failures are reported in the results; an error is returned
// only when the queue itself cannot be read, alongside the results so far.
func (p *Processor) Run(ctx context.Context, count int) ([]Result, error) {
	if count <= 0 {
		count = 1
	}
	if count > p.opts.MaxBatch {
		count = p.opts.MaxBatch
	}

	results := []Result{}
	for range count {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		item, err := p.queue.Dequeue(ctx)
		if errors.Is(err, queue.ErrUnavailable) {
			p.logger.Error("dequeue failed", "error", err)
			return results, err
		}
		var decodeErr *queue.DecodeError
		if errors.As(err, &decodeErr) {
			p.logger.Warn("pending item unreadable", "item_id", decodeErr.ItemID, "error", err)
			results = append(results, Result{ID: decodeErr.ItemID, Status: StatusFailed, Reason: err.Error()})
			continue
		}
		if err != nil {
			p.logger.Warn("skipping pending item", "error", err)
			continue
		}
		if item == nil {
			p.logger.Debug("queue exhausted", "processed", len(results))
			break
		}

		results = append(results, p.process(ctx, *item))
	}
	return results, nil
}

// stage runs fn with the per-stage timeout.
func stage[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	sctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	v, err := fn(sctx)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return v, fmt.Errorf("timed out after %s: %w", d, err)
	}
	return v, err
}

func (p *Processor) process(ctx context.Context, item queue.Item) Result {
	log := p.logger.With("item_id", item.ID)
	res := Result{ID: item.ID, Title: item.Title}
	timeout := p.opts.StageTimeout

	cls, err := stage(ctx, timeout, func(ctx context.Context) (ai.Classification, error) {
		return p.ai.Classify(ctx, item.Title, item.Excerpt)
	})
	if err != nil {
		return p.fail(ctx, log, item, res, "classify", err.Error(), err.Error())
	}
	relevance := cls.Relevance
	res.Category = cls.Category
	res.Relevance = &relevance
	item.Category = cls.Category
	item.Relevance = &relevance
	log.Info("classified", "stage", "classify", "category", cls.Category, "relevance", cls.Relevance)

	verdict, err := stage(ctx, timeout, func(ctx context.Context) (ai.SafetyVerdict, error) {
		return p.ai.Safety(ctx, item.Excerpt)
	})
	if err != nil {
		return p.fail(ctx, log, item, res, "safety", err.Error(), err.Error())
	}
	if !verdict.IsSafe {
		reason := "Safety concerns: " + strings.Join(verdict.Concerns, ", ")
		return p.fail(ctx, log, item, res, "safety", reason, ReasonSafety)
	}
	log.Info("safety check passed", "stage", "safety")

	brief, err := stage(ctx, timeout, func(ctx context.Context) (ai.Brief, error) {
		return p.ai.Brief(ctx, item.Title, item.Excerpt)
	})
	if err != nil {
		return p.fail(ctx, log, item, res, "brief", err.Error(), err.Error())
	}
	sources := []string{}
	if item.URL != "" {
		sources = append(sources, item.URL)
	}
	article, err := stage(ctx, timeout, func(ctx context.Context) (ai.Article, error) {
		return p.ai.Article(ctx, item.Title, item.Excerpt, sources)
	})
	if err != nil {
		return p.fail(ctx, log, item, res, "article", err.Error(), err.Error())
	}
	log.Info("content generated", "stage", "generate", "article_title", article.Title)

	// Pages start as drafts; the publication gate makes them live.
	pageID, err := stage(ctx, timeout, func(ctx context.Context) (string, error) {
		return p.cms.CreatePage(ctx, cms.Page{
			Title:     article.Title,
			Excerpt:   article.Excerpt,
			Content:   article.Content,
			Date:      item.PublishedAt,
			Category:  cls.Category,
			Tags:      article.Tags,
			Published: false,
		})
	})
	if err != nil {
		log.Warn("content store write failed, continuing", "stage", "publish", "error", err)
		pageID = ""
	} else {
		log.Info("draft page created", "stage", "publish", "page_id", pageID)
	}

	processed := queue.ProcessedItem{
		Item:              item,
		Brief:             queue.Brief(brief),
		Article:           queue.Article(article),
		SafetyCheck:       queue.SafetyCheck(verdict),
		PublishedToNotion: pageID != "",
		NotionPageID:      pageID,
		ProcessedAt:       time.Now().UTC(),
	}
	if err := p.queue.MarkProcessed(ctx, processed); err != nil {
		log.Error("finalize failed", "stage", "finalize", "error", err)
		if ferr := p.queue.MarkFailed(ctx, item, err.Error()); ferr != nil {
			log.Error("failed to record failure", "error", ferr)
		}
		res.Status = StatusFailed
		res.Reason = err.Error()
		return res
	}
	res.Status = StatusProcessed
	res.NotionPageID = pageID

	title := article.Title
	if title == "" {
		title = item.Title
	}
	task, err := p.reviews.Create(ctx, review.NewTask{
		Kind:      review.KindNews,
		TargetID:  item.ID,
		Title:     title,
		Summary:   cls.Summary,
		Sources:   sources,
		Risk:      deriveRisk(cls, verdict),
		Checklist: review.NewChecklistInput(review.Checklist{}),
	}, Actor)
	if err != nil {
		log.Error("review task not created", "stage", "review", "error", err)
		return res
	}
	res.ReviewTaskID = task.ID
	log.Info("processed", "stage", "finalize", "task_id", task.ID)
	return res
}

func (p *Processor) fail(ctx context.Context, log *slog.Logger, item queue.Item, res Result, stageName, reason, resultReason string) Result {
	log.Warn("item failed", "stage", stageName, "reason", reason)
	if err := p.queue.MarkFailed(ctx, item, reason); err != nil {
		log.Error("failed to record failure", "stage", stageName, "error", err)
	}
	res.Status = StatusFailed
	res.Reason = resultReason
	return res
}

// deriveRisk scores a processed item for review: one point plus one per
// safety recommendation, one more for negative sentiment, within [1,5].
func deriveRisk(cls ai.Classification, verdict ai.SafetyVerdict) int {
	risk := 1 + len(verdict.Recommendations)
	if strings.EqualFold(cls.Sentiment, "negative") {
		risk++
	}
	return min(max(risk, 1), 5)
}
