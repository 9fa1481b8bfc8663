package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/newsdesk/internal/storage"
)

// Actions recorded in the log.
const (
	ActionCreate   = "CREATE"
	ActionEdit     = "EDIT"
	ActionApprove  = "APPROVE"
	ActionPublish  = "PUBLISH"
	ActionReject   = "REJECT"
	ActionRollback = "ROLLBACK"
)

func validAction(a string) bool {
	switch a {
	case ActionCreate, ActionEdit, ActionApprove, ActionPublish, ActionReject, ActionRollback:
		return true
	}
	return false
}

// Store abstracts the append-only audit table.
type Store interface {
	AppendAudit(e storage.AuditEntry) error
	QueryAudit(f storage.AuditFilter) ([]storage.AuditEntry, error)
}

// Record is the input to Append.
type Record struct {
	Actor  string
	Action string
	Target string
	Diff   map[string]any
}

// Entry is one immutable audit record.
type Entry struct {
	ID        string          `json:"id"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Target    string          `json:"target"`
	Diff      json.RawMessage `json:"diff,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Filter selects entries for List. Empty fields match everything.
type Filter struct {
	Target string
	Action string
	Actor  string
	Limit  int
}

// Log appends to and reads from the audit table. There is no way to change
// or remove an entry once written.
type Log struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func New(store Store) *Log {
	return &Log{store: store, logger: slog.Default(), now: time.Now}
}

// Build validates r and returns the entry without writing it. Services that
// change state pass Row() to a store method that commits both together.
func (l *Log) Build(ctx context.Context, r Record) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	if !validAction(r.Action) {
		return Entry{}, fmt.Errorf("invalid audit action %q", r.Action)
	}
	if r.Actor == "" || r.Target == "" {
		return Entry{}, fmt.Errorf("audit entry requires actor and target")
	}

	var diff []byte
	if r.Diff != nil {
		var err error
		if diff, err = json.Marshal(r.Diff); err != nil {
			return Entry{}, fmt.Errorf("encoding audit diff: %w", err)
		}
	}
	return Entry{
		ID:        uuid.New().String(),
		Actor:     r.Actor,
		Action:    r.Action,
		Target:    r.Target,
		Diff:      diff,
		CreatedAt: l.now().UTC(),
	}, nil
}

// Append builds and writes a standalone entry.
func (l *Log) Append(ctx context.Context, r Record) (Entry, error) {
	e, err := l.Build(ctx, r)
	if err != nil {
		return Entry{}, err
	}
	if err := l.store.AppendAudit(e.Row()); err != nil {
		return Entry{}, fmt.Errorf("appending audit entry: %w", err)
	}
	l.Logged(e)
	return e, nil
}

// Logged writes the log line for an entry that has been committed.
func (l *Log) Logged(e Entry) {
	l.logger.Info("audit", "action", e.Action, "actor", e.Actor, "target", e.Target, "audit_id", e.ID)
}

// Row converts e to its storage form.
func (e Entry) Row() storage.AuditEntry {
	return storage.AuditEntry{
		ID:        e.ID,
		Actor:     e.Actor,
		Action:    e.Action,
		Target:    e.Target,
		DiffJSON:  string(e.Diff),
		CreatedAt: e.CreatedAt,
	}
}

// List returns matching entries, oldest first.
func (l *Log) List(ctx context.Context, f Filter) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := l.store.QueryAudit(storage.AuditFilter{
		Target: f.Target,
		Action: f.Action,
		Actor:  f.Actor,
		Limit:  f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e := Entry{
			ID:        row.ID,
			Actor:     row.Actor,
			Action:    row.Action,
			Target:    row.Target,
			CreatedAt: row.CreatedAt,
		}
		if row.DiffJSON != "" {
			e.Diff = json.RawMessage(row.DiffJSON)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// DecodeDiff unmarshals e.Diff into v. An entry without a diff leaves v unchanged.
func (e Entry) DecodeDiff(v any) error {
	if len(e.Diff) == 0 {
		return nil
	}
	return json.Unmarshal(e.Diff, v)
}
