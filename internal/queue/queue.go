package queue

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the durable store behind the queue cannot
// be reached. Callers treat it as retryable.
var ErrUnavailable = errors.New("queue unavailable")

// DecodeError is returned by Dequeue for a pending record whose payload cannot
// be read. The record has been moved to the failed lane.
type DecodeError struct {
	ItemID string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding pending item %s: %v", e.ItemID, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Item is a news item offered by an ingestion source.
type Item struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Excerpt     string   `json:"excerpt"`
	URL         string   `json:"url"`
	Source      string   `json:"source"`
	PublishedAt string   `json:"publishedAt"`
	Category    string   `json:"category,omitempty"`
	Relevance   *float64 `json:"relevance,omitempty"`
}

// SafetyCheck is the verdict recorded on a processed item.
type SafetyCheck struct {
	IsSafe          bool     `json:"isSafe"`
	Concerns        []string `json:"concerns"`
	Recommendations []string `json:"recommendations"`
}

// Brief is the short-form derivative of an item.
type Brief struct {
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	ActionItems []string `json:"actionItems"`
}

// Article is the long-form derivative of an item.
type Article struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Excerpt string   `json:"excerpt"`
	Tags    []string `json:"tags"`
}

// ProcessedItem is an item that passed every pipeline stage. The CMS field
// names are kept as the external consumer reads them.
type ProcessedItem struct {
	Item
	Brief             Brief       `json:"brief"`
	Article           Article     `json:"article"`
	SafetyCheck       SafetyCheck `json:"safetyCheck"`
	PublishedToNotion bool        `json:"publishedToNotion"`
	NotionPageID      string      `json:"notionPageId"`
	ProcessedAt       time.Time   `json:"processedAt"`
}

// FailedItem is an item moved to the failed lane.
type FailedItem struct {
	Item
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failedAt"`
}

// Stats holds the current lane lengths.
type Stats struct {
	Pending   int `json:"pending"`
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

// Entry is one record of a lane as returned by List. Exactly one of the
// payload fields is set, matching Lane.
type Entry struct {
	Lane      string         `json:"lane"`
	Pending   *Item          `json:"pending,omitempty"`
	Processed *ProcessedItem `json:"processed,omitempty"`
	Failed    *FailedItem    `json:"failed,omitempty"`
}

// Queue is a three-lane work queue. Dequeue pops pending items in FIFO order
// and returns nil, nil when there is no work.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (*Item, error)
	MarkProcessed(ctx context.Context, item ProcessedItem) error
	MarkFailed(ctx context.Context, item Item, reason string) error
	Stats(ctx context.Context) (Stats, error)
	List(ctx context.Context, lane string, limit, offset int) ([]Entry, error)
}
