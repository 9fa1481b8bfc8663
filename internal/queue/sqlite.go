package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/newsdesk/internal/storage"
)

// LaneStore abstracts the lane operations of the durable store.
type LaneStore interface {
	PushQueueItem(rec storage.QueueRecord) error
	PopPending() (*storage.QueueRecord, error)
	LaneCounts() (map[string]int, error)
	ListLane(lane string, limit, offset int) ([]storage.QueueRecord, error)
}

// SQLiteQueue persists lanes in the SQLite store.
type SQLiteQueue struct {
	store  LaneStore
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLite creates a queue backed by store.
func NewSQLite(store LaneStore) *SQLiteQueue {
	return &SQLiteQueue{store: store, logger: slog.Default(), now: time.Now}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}

func (q *SQLiteQueue) Enqueue(ctx context.Context, item Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding item %s: %w", item.ID, err)
	}
	rec := storage.QueueRecord{
		Lane:        storage.LanePending,
		ItemID:      item.ID,
		URL:         item.URL,
		PayloadJSON: string(payload),
		CreatedAt:   q.now(),
	}
	if err := q.store.PushQueueItem(rec); err != nil {
		return unavailable("enqueue", err)
	}
	return nil
}

func (q *SQLiteQueue) Dequeue(ctx context.Context) (*Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := q.store.PopPending()
	if err != nil {
		return nil, unavailable("dequeue", err)
	}
	if rec == nil {
		return nil, nil
	}
	var item Item
	if err := json.Unmarshal([]byte(rec.PayloadJSON), &item); err != nil {
		// The record is already off the lane; keep it visible in failed.
		q.logger.Error("moving undecodable pending item to failed", "item_id", rec.ItemID, "error", err)
		if perr := q.store.PushQueueItem(storage.QueueRecord{
			Lane:        storage.LaneFailed,
			ItemID:      rec.ItemID,
			URL:         rec.URL,
			PayloadJSON: rec.PayloadJSON,
			Error:       "undecodable payload: " + err.Error(),
			FailedAt:    q.now(),
			CreatedAt:   q.now(),
		}); perr != nil {
			return nil, unavailable("dequeue", fmt.Errorf("moving undecodable item %s to failed: %w", rec.ItemID, perr))
		}
		return nil, &DecodeError{ItemID: rec.ItemID, Err: err}
	}
	return &item, nil
}

func (q *SQLiteQueue) MarkProcessed(ctx context.Context, item ProcessedItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if item.ProcessedAt.IsZero() {
		item.ProcessedAt = q.now().UTC()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encoding processed item %s: %w", item.ID, err)
	}
	rec := storage.QueueRecord{
		Lane:        storage.LaneProcessed,
		ItemID:      item.ID,
		URL:         item.URL,
		PayloadJSON: string(payload),
		CreatedAt:   q.now(),
	}
	if err := q.store.PushQueueItem(rec); err != nil {
		return unavailable("mark processed", err)
	}
	return nil
}

func (q *SQLiteQueue) MarkFailed(ctx context.Context, item Item, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	failed := FailedItem{Item: item, Error: reason, FailedAt: q.now().UTC()}
	payload, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("encoding failed item %s: %w", item.ID, err)
	}
	rec := storage.QueueRecord{
		Lane:        storage.LaneFailed,
		ItemID:      item.ID,
		URL:         item.URL,
		PayloadJSON: string(payload),
		Error:       reason,
		FailedAt:    failed.FailedAt,
		CreatedAt:   q.now(),
	}
	if err := q.store.PushQueueItem(rec); err != nil {
		return unavailable("mark failed", err)
	}
	return nil
}

func (q *SQLiteQueue) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	counts, err := q.store.LaneCounts()
	if err != nil {
		return Stats{}, unavailable("stats", err)
	}
	return Stats{
		Pending:   counts[storage.LanePending],
		Processed: counts[storage.LaneProcessed],
		Failed:    counts[storage.LaneFailed],
	}, nil
}

// List returns lane records newest first.
func (q *SQLiteQueue) List(ctx context.Context, lane string, limit, offset int) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch lane {
	case storage.LanePending, storage.LaneProcessed, storage.LaneFailed:
	default:
		return nil, fmt.Errorf("unknown lane %q", lane)
	}
	recs, err := q.store.ListLane(lane, limit, offset)
	if err != nil {
		return nil, unavailable("list", err)
	}

	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		e := Entry{Lane: lane}
		var decodeErr error
		switch lane {
		case storage.LanePending:
			e.Pending = &Item{}
			decodeErr = json.Unmarshal([]byte(rec.PayloadJSON), e.Pending)
		case storage.LaneProcessed:
			e.Processed = &ProcessedItem{}
			decodeErr = json.Unmarshal([]byte(rec.PayloadJSON), e.Processed)
		case storage.LaneFailed:
			e.Failed = &FailedItem{}
			decodeErr = json.Unmarshal([]byte(rec.PayloadJSON), e.Failed)
		}
		if decodeErr != nil {
			q.logger.Warn("skipping undecodable lane record", "lane", lane, "item_id", rec.ItemID, "error", decodeErr)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
