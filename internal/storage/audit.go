package storage

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// AppendAudit writes one immutable audit entry. There is no update or delete.
func (s *Store) AppendAudit(e AuditEntry) error {
	return insertAudit(s.db, e)
}

func insertAudit(x execer, e AuditEntry) error {
	_, err := x.Exec(`
		INSERT INTO audit_log (id, actor, action, target, diff, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, e.Action, e.Target, e.DiffJSON, formatTime(e.CreatedAt),
	)
	return err
}

// withAudit runs fn and appends a in the same transaction. Either both are
// committed or neither is.
func (s *Store) withAudit(a AuditEntry, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := insertAudit(tx, a); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return tx.Commit()
}

// QueryAudit returns matching entries in insertion order.
func (s *Store) QueryAudit(f AuditFilter) ([]AuditEntry, error) {
	b := sq.Select("id, actor, action, target, diff, created_at").From("audit_log").OrderBy("seq ASC")
	if f.Target != "" {
		b = b.Where(sq.Eq{"target": f.Target})
	}
	if f.Action != "" {
		b = b.Where(sq.Eq{"action": f.Action})
	}
	if f.Actor != "" {
		b = b.Where(sq.Eq{"actor": f.Actor})
	}
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}

	rows, err := s.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Target, &e.DiffJSON, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
