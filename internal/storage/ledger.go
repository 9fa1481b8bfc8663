package storage

import (
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

// AppendLedgerEntryCapped sums the month's existing entries and inserts e, with
// the audit entry a, only if the new total stays within capCents. All steps run
// in one transaction. It returns the month total before the insert; on
// ErrCapExceeded nothing is written.
func (s *Store) AppendLedgerEntryCapped(e LedgerEntry, capCents int64, a AuditEntry) (int64, error) {
	var spent int64
	err := s.withAudit(a, func(tx *sql.Tx) error {
		if err := tx.QueryRow(`SELECT COALESCE(SUM(amount_cents), 0) FROM ledger_entries WHERE month = ?`, e.Month).Scan(&spent); err != nil {
			return fmt.Errorf("summing month %s: %w", e.Month, err)
		}

		// Comparing against the headroom keeps huge amounts from wrapping the sum.
		if e.AmountCents > capCents-spent {
			return ErrCapExceeded
		}

		if _, err := tx.Exec(`
			INSERT INTO ledger_entries (id, month, category, amount_cents, cap_applied, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.Month, e.Category, e.AmountCents, e.CapApplied, e.Note, formatTime(e.CreatedAt),
		); err != nil {
			return fmt.Errorf("inserting ledger entry: %w", err)
		}
		return nil
	})
	return spent, err
}

// LedgerEntries returns a month's entries in insertion order, optionally
// restricted to one category.
func (s *Store) LedgerEntries(month, category string) ([]LedgerEntry, error) {
	b := sq.Select("id, month, category, amount_cents, cap_applied, note, created_at").
		From("ledger_entries").
		Where(sq.Eq{"month": month}).
		OrderBy("seq ASC")
	if category != "" {
		b = b.Where(sq.Eq{"category": category})
	}

	rows, err := s.query(b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.Month, &e.Category, &e.AmountCents, &e.CapApplied, &e.Note, &createdAt); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
