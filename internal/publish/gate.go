package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/cms"
	"github.com/kalambet/newsdesk/internal/keylock"
	"github.com/kalambet/newsdesk/internal/queue"
	"github.com/kalambet/newsdesk/internal/review"
	"github.com/kalambet/newsdesk/internal/storage"
)

var (
	// ErrNotFound is returned when no review task exists for the entity.
	ErrNotFound = errors.New("no review task for entity")
	// ErrForwardFailed is returned when the content store rejects the change.
	ErrForwardFailed = errors.New("forwarding to content store failed")
)

// PreconditionError is returned when the target is not in the state the
// operation requires.
type PreconditionError struct {
	Required string
	Actual   string
}

func (e *PreconditionError) Error() string {
	if e.Required == string(review.StateApproved) {
		return fmt.Sprintf("must be approved before publishing (state %s)", e.Actual)
	}
	return fmt.Sprintf("requires %s, is %s", e.Required, e.Actual)
}

// TaskLister finds review tasks.
type TaskLister interface {
	List(ctx context.Context, f review.Filter) ([]review.Task, error)
}

// ProcessedStore looks up processed pipeline output.
type ProcessedStore interface {
	LatestProcessed(itemID string) (storage.QueueRecord, error)
}

// Auditor appends and reads audit entries.
type Auditor interface {
	Append(ctx context.Context, r audit.Record) (audit.Entry, error)
	List(ctx context.Context, f audit.Filter) ([]audit.Entry, error)
}

// Result confirms a publication or retraction.
type Result struct {
	Entity      string    `json:"entity"`
	ID          string    `json:"id"`
	Published   bool      `json:"published"`
	PublishedAt time.Time `json:"publishedAt"`
	Reviewer    string    `json:"reviewer"`
	PageID      string    `json:"pageId,omitempty"`
	AuditLogID  string    `json:"auditLogId"`
}

// Gate is the only path by which reviewed content reaches the content store.
type Gate struct {
	tasks     TaskLister
	processed ProcessedStore
	cms       cms.Publisher
	audit     Auditor
	locks     keylock.Map
	logger    *slog.Logger
	now       func() time.Time
}

func NewGate(tasks TaskLister, processed ProcessedStore, publisher cms.Publisher, auditor Auditor) *Gate {
	return &Gate{
		tasks:     tasks,
		processed: processed,
		cms:       publisher,
		audit:     auditor,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

func kindForEntity(entity string) (review.Kind, bool) {
	normalized := strings.ReplaceAll(strings.TrimSpace(entity), "-", "_")
	for _, k := range review.Kinds {
		if strings.EqualFold(normalized, string(k)) {
			return k, true
		}
	}
	return "", false
}

// findTask returns the newest task of the matching kind for id.
func (g *Gate) findTask(ctx context.Context, entity, id string) (review.Task, error) {
	kind, ok := kindForEntity(entity)
	if !ok {
		return review.Task{}, &review.ValidationError{Fields: map[string]string{"entity": "unknown entity " + entity}}
	}
	tasks, err := g.tasks.List(ctx, review.Filter{TargetID: id, Kind: kind, All: true, Limit: 1})
	if err != nil {
		return review.Task{}, fmt.Errorf("looking up review task: %w", err)
	}
	if len(tasks) == 0 {
		return review.Task{}, ErrNotFound
	}
	return tasks[0], nil
}

// Publish forwards an approved entity to the content store and records it.
func (g *Gate) Publish(ctx context.Context, entity, id, publisher, notes string) (Result, error) {
	if strings.TrimSpace(publisher) == "" {
		return Result{}, &review.ValidationError{Fields: map[string]string{"publisher": "required"}}
	}

	unlock := g.locks.Lock(entity + "/" + id)
	defer unlock()

	task, err := g.findTask(ctx, entity, id)
	if err != nil {
		return Result{}, err
	}
	if task.State != review.StateApproved {
		return Result{}, &PreconditionError{Required: string(review.StateApproved), Actual: string(task.State)}
	}

	wasLive, _, err := g.publicationState(ctx, task.Kind, id)
	if err != nil {
		return Result{}, err
	}
	pageID, err := g.forward(ctx, task, true)
	if err != nil {
		g.logger.Warn("publish forwarding failed", "target_id", id, "error", err)
		return Result{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
	}

	diff := map[string]any{"published": true, "entity": strings.ToLower(string(task.Kind)), "taskId": task.ID}
	if notes != "" {
		diff["notes"] = notes
	}
	if pageID != "" {
		diff["pageId"] = pageID
	}
	entry, err := g.audit.Append(ctx, audit.Record{Actor: publisher, Action: audit.ActionPublish, Target: id, Diff: diff})
	if err != nil {
		if !wasLive {
			g.revert(ctx, task, pageID, false)
		}
		return Result{}, fmt.Errorf("auditing publication of %s: %w", id, err)
	}

	g.logger.Info("published", "target_id", id, "kind", task.Kind, "publisher", publisher, "page_id", pageID)
	return Result{
		Entity:      entity,
		ID:          id,
		Published:   true,
		PublishedAt: entry.CreatedAt,
		Reviewer:    task.Reviewer,
		PageID:      pageID,
		AuditLogID:  entry.ID,
	}, nil
}

// Retract takes a published entity offline again and records a ROLLBACK.
func (g *Gate) Retract(ctx context.Context, entity, id, actor, reason string) (Result, error) {
	if strings.TrimSpace(actor) == "" {
		return Result{}, &review.ValidationError{Fields: map[string]string{"actor": "required"}}
	}

	unlock := g.locks.Lock(entity + "/" + id)
	defer unlock()

	task, err := g.findTask(ctx, entity, id)
	if err != nil {
		return Result{}, err
	}

	published, pageID, err := g.publicationState(ctx, task.Kind, id)
	if err != nil {
		return Result{}, err
	}
	if !published {
		return Result{}, &PreconditionError{Required: "PUBLISHED", Actual: "UNPUBLISHED"}
	}

	if task.Kind == review.KindNews && pageID != "" {
		if err := g.cms.SetPublished(ctx, pageID, false); err != nil {
			return Result{}, fmt.Errorf("%w: %v", ErrForwardFailed, err)
		}
	}

	diff := map[string]any{"published": false, "entity": strings.ToLower(string(task.Kind))}
	if reason != "" {
		diff["reason"] = reason
	}
	if pageID != "" {
		diff["pageId"] = pageID
	}
	entry, err := g.audit.Append(ctx, audit.Record{Actor: actor, Action: audit.ActionRollback, Target: id, Diff: diff})
	if err != nil {
		g.revert(ctx, task, pageID, true)
		return Result{}, fmt.Errorf("auditing retraction of %s: %w", id, err)
	}

	g.logger.Info("retracted", "target_id", id, "kind", task.Kind, "actor", actor)
	return Result{
		Entity:      entity,
		ID:          id,
		Published:   false,
		PublishedAt: entry.CreatedAt,
		Reviewer:    task.Reviewer,
		PageID:      pageID,
		AuditLogID:  entry.ID,
	}, nil
}

// revert restores the content store after its change could not be recorded,
// so content is never live without a PUBLISH entry.
func (g *Gate) revert(ctx context.Context, task review.Task, pageID string, published bool) {
	if task.Kind != review.KindNews || pageID == "" {
		return
	}
	if err := g.cms.SetPublished(ctx, pageID, published); err != nil {
		g.logger.Error("reverting content store failed", "target_id", task.TargetID, "page_id", pageID, "error", err)
	}
}

type publicationDiff struct {
	Entity string `json:"entity"`
	PageID string `json:"pageId"`
}

// publicationState replays PUBLISH and ROLLBACK entries for target. Entries
// recorded for another entity kind with the same id are ignored.
func (g *Gate) publicationState(ctx context.Context, kind review.Kind, target string) (bool, string, error) {
	entries, err := g.audit.List(ctx, audit.Filter{Target: target})
	if err != nil {
		return false, "", fmt.Errorf("reading audit log for %s: %w", target, err)
	}
	entity := strings.ToLower(string(kind))
	published := false
	pageID := ""
	for _, e := range entries {
		if e.Action != audit.ActionPublish && e.Action != audit.ActionRollback {
			continue
		}
		var d publicationDiff
		if err := e.DecodeDiff(&d); err != nil || d.Entity != entity {
			continue
		}
		if e.Action == audit.ActionRollback {
			published = false
			continue
		}
		published = true
		if d.PageID != "" {
			pageID = d.PageID
		}
	}
	return published, pageID, nil
}

// forward makes NEWS content live in the content store and returns its page
// id. Other kinds have no content store representation.
func (g *Gate) forward(ctx context.Context, task review.Task, published bool) (string, error) {
	if task.Kind != review.KindNews {
		return "", nil
	}

	// A page created by an earlier publication is reused.
	_, pageID, err := g.publicationState(ctx, task.Kind, task.TargetID)
	if err != nil {
		return "", err
	}
	if pageID != "" {
		return pageID, g.cms.SetPublished(ctx, pageID, published)
	}

	rec, err := g.processed.LatestProcessed(task.TargetID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("no processed item %s", task.TargetID)
	}
	if err != nil {
		return "", fmt.Errorf("loading processed item %s: %w", task.TargetID, err)
	}
	var item queue.ProcessedItem
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &item); err != nil {
		return "", fmt.Errorf("decoding processed item %s: %w", task.TargetID, err)
	}

	if item.NotionPageID != "" {
		return item.NotionPageID, g.cms.SetPublished(ctx, item.NotionPageID, published)
	}

	excerpt := item.Article.Excerpt
	if excerpt == "" {
		excerpt = item.Excerpt
	}
	return g.cms.CreatePage(ctx, cms.Page{
		Title:     item.Article.Title,
		Excerpt:   excerpt,
		Content:   item.Article.Content,
		Date:      item.PublishedAt,
		Category:  item.Category,
		Tags:      item.Article.Tags,
		Published: published,
	})
}
