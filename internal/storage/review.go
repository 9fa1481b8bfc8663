package storage

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const reviewColumns = "id, kind, target_id, title, summary, sources, risk, state, checklist, notes, reviewer, supersedes, created_at, updated_at"

// InsertReviewTask stores a new task together with the audit entry recording
// its creation.
func (s *Store) InsertReviewTask(t ReviewTask, a AuditEntry) error {
	return s.withAudit(a, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO review_tasks (id, kind, target_id, title, summary, sources, risk, state, checklist, notes, reviewer, supersedes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Kind, t.TargetID, t.Title, t.Summary, t.SourcesJSON, t.Risk, t.State,
			t.ChecklistJSON, t.Notes, t.Reviewer, t.Supersedes, formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		return err
	})
}

func (s *Store) GetReviewTask(id string) (ReviewTask, error) {
	row := s.db.QueryRow(`SELECT `+reviewColumns+` FROM review_tasks WHERE id = ?`, id)
	t, err := scanReviewTask(row)
	if err == sql.ErrNoRows {
		return ReviewTask{}, ErrNotFound
	}
	if err != nil {
		return ReviewTask{}, err
	}
	return t, nil
}

// UpdateReviewTask overwrites the mutable fields of the task with t.ID and
// appends a in the same transaction.
func (s *Store) UpdateReviewTask(t ReviewTask, a AuditEntry) error {
	return s.withAudit(a, func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE review_tasks SET state = ?, checklist = ?, notes = ?, reviewer = ?, updated_at = ?
			WHERE id = ?`,
			t.State, t.ChecklistJSON, t.Notes, t.Reviewer, formatTime(t.UpdatedAt), t.ID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// QueryReviewTasks returns matching tasks, newest first.
func (s *Store) QueryReviewTasks(f ReviewTaskFilter) ([]ReviewTask, error) {
	b := sq.Select(reviewColumns).From("review_tasks").OrderBy("seq DESC")
	if f.State != "" {
		b = b.Where(sq.Eq{"state": f.State})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": f.Kind})
	}
	if f.TargetID != "" {
		b = b.Where(sq.Eq{"target_id": f.TargetID})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	rows, err := s.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ReviewTask
	for rows.Next() {
		t, err := scanReviewTask(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, t)
	}
	return results, rows.Err()
}

func scanReviewTask(r rowScanner) (ReviewTask, error) {
	var t ReviewTask
	var createdAt, updatedAt string
	if err := r.Scan(&t.ID, &t.Kind, &t.TargetID, &t.Title, &t.Summary, &t.SourcesJSON, &t.Risk, &t.State,
		&t.ChecklistJSON, &t.Notes, &t.Reviewer, &t.Supersedes, &createdAt, &updatedAt); err != nil {
		return ReviewTask{}, err
	}
	var err error
	if t.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ReviewTask{}, fmt.Errorf("review task %s: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return ReviewTask{}, fmt.Errorf("review task %s: %w", t.ID, err)
	}
	return t, nil
}
