package storage

import (
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const queueColumns = "seq, lane, item_id, url, payload_json, error, failed_at, created_at"

// PushQueueItem appends rec to the tail of its lane and bumps the lane counter
// in the same transaction.
func (s *Store) PushQueueItem(rec QueueRecord) error {
	if !validLane(rec.Lane) {
		return fmt.Errorf("unknown lane %q", rec.Lane)
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning push transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		INSERT INTO queue_items (lane, item_id, url, payload_json, error, failed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Lane, rec.ItemID, rec.URL, rec.PayloadJSON, rec.Error, formatTime(rec.FailedAt), formatTime(createdAt),
	); err != nil {
		return fmt.Errorf("inserting queue item: %w", err)
	}
	if _, err := tx.Exec(`UPDATE queue_lane_counts SET count = count + 1 WHERE lane = ?`, rec.Lane); err != nil {
		return fmt.Errorf("updating lane count: %w", err)
	}
	return tx.Commit()
}

// PopPending removes and returns the oldest record in the pending lane.
// It returns nil, nil when the lane is empty.
func (s *Store) PopPending() (*QueueRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning pop transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+queueColumns+` FROM queue_items WHERE lane = ? ORDER BY seq ASC LIMIT 1`, LanePending)
	rec, err := scanQueueRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting pending item: %w", err)
	}

	if _, err := tx.Exec(`DELETE FROM queue_items WHERE seq = ?`, rec.Seq); err != nil {
		return nil, fmt.Errorf("removing pending item: %w", err)
	}
	if _, err := tx.Exec(`UPDATE queue_lane_counts SET count = count - 1 WHERE lane = ? AND count > 0`, LanePending); err != nil {
		return nil, fmt.Errorf("updating lane count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing pop: %w", err)
	}
	return &rec, nil
}

// LaneCounts returns the maintained per-lane counters without scanning items.
func (s *Store) LaneCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT lane, count FROM queue_lane_counts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{LanePending: 0, LaneProcessed: 0, LaneFailed: 0}
	for rows.Next() {
		var lane string
		var n int
		if err := rows.Scan(&lane, &n); err != nil {
			return nil, err
		}
		counts[lane] = n
	}
	return counts, rows.Err()
}

// ListLane returns records of one lane, newest first.
func (s *Store) ListLane(lane string, limit, offset int) ([]QueueRecord, error) {
	if !validLane(lane) {
		return nil, fmt.Errorf("unknown lane %q", lane)
	}
	b := sq.Select(queueColumns).From("queue_items").
		Where(sq.Eq{"lane": lane}).
		OrderBy("seq DESC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	if offset > 0 {
		b = b.Offset(uint64(offset))
	}

	rows, err := s.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []QueueRecord
	for rows.Next() {
		rec, err := scanQueueRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// HasURL reports whether any lane holds an item with the given URL.
func (s *Store) HasURL(url string) (bool, error) {
	if url == "" {
		return false, nil
	}
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE url = ?`, url).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// LatestProcessed returns the most recent processed-lane record for itemID.
func (s *Store) LatestProcessed(itemID string) (QueueRecord, error) {
	row := s.db.QueryRow(`SELECT `+queueColumns+` FROM queue_items
		WHERE lane = ? AND item_id = ? ORDER BY seq DESC LIMIT 1`, LaneProcessed, itemID)
	rec, err := scanQueueRecord(row)
	if err == sql.ErrNoRows {
		return QueueRecord{}, ErrNotFound
	}
	if err != nil {
		return QueueRecord{}, err
	}
	return rec, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueRecord(r rowScanner) (QueueRecord, error) {
	var rec QueueRecord
	var failedAt, createdAt string
	if err := r.Scan(&rec.Seq, &rec.Lane, &rec.ItemID, &rec.URL, &rec.PayloadJSON, &rec.Error, &failedAt, &createdAt); err != nil {
		return QueueRecord{}, err
	}
	var err error
	if rec.FailedAt, err = parseTime("failed_at", failedAt); err != nil {
		return QueueRecord{}, err
	}
	if rec.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return QueueRecord{}, err
	}
	return rec, nil
}

func validLane(lane string) bool {
	switch lane {
	case LanePending, LaneProcessed, LaneFailed:
		return true
	}
	return false
}
