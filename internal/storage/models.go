package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrCapExceeded is returned by AppendLedgerEntryCapped when the entry would
// push the month over its cap. Nothing is written in that case.
var ErrCapExceeded = errors.New("monthly cap exceeded")

// Queue lanes.
const (
	LanePending   = "pending"
	LaneProcessed = "processed"
	LaneFailed    = "failed"
)

type QueueRecord struct {
	Seq         int64
	Lane        string
	ItemID      string
	URL         string
	PayloadJSON string
	Error       string
	FailedAt    time.Time
	CreatedAt   time.Time
}

type ReviewTask struct {
	ID            string
	Kind          string
	TargetID      string
	Title         string
	Summary       string
	SourcesJSON   string // JSON array stored as text
	Risk          int
	State         string
	ChecklistJSON string // JSON object stored as text
	Notes         string
	Reviewer      string
	Supersedes    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ReviewTaskFilter narrows QueryReviewTasks. Empty fields match everything.
type ReviewTaskFilter struct {
	State    string
	Kind     string
	TargetID string
	Limit    int
}

type AuditEntry struct {
	ID        string
	Actor     string
	Action    string
	Target    string
	DiffJSON  string
	CreatedAt time.Time
}

// AuditFilter narrows QueryAudit. Empty fields match everything.
type AuditFilter struct {
	Target string
	Action string
	Actor  string
	Limit  int
}

type LedgerEntry struct {
	ID          string
	Month       string
	Category    string
	AmountCents int64
	CapApplied  bool
	Note        string
	CreatedAt   time.Time
}
