package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/keylock"
	"github.com/kalambet/newsdesk/internal/storage"
)

// Store abstracts review task persistence.
type Store interface {
	InsertReviewTask(t storage.ReviewTask, a storage.AuditEntry) error
	GetReviewTask(id string) (storage.ReviewTask, error)
	UpdateReviewTask(t storage.ReviewTask, a storage.AuditEntry) error
	QueryReviewTasks(f storage.ReviewTaskFilter) ([]storage.ReviewTask, error)
}

// Auditor builds the entry that is committed with each state change.
type Auditor interface {
	Build(ctx context.Context, r audit.Record) (audit.Entry, error)
	Logged(e audit.Entry)
}

// Options configures review policy.
type Options struct {
	// RequireFullChecklist blocks approval until every checklist item is checked.
	RequireFullChecklist bool
}

// Filter selects tasks for List. With no State and All unset, only tasks
// awaiting review are returned.
type Filter struct {
	State    State
	Kind     Kind
	TargetID string
	All      bool
	Limit    int
}

// Service owns review task state. Decide is the only path that changes a
// task's state.
type Service struct {
	store  Store
	audit  Auditor
	opts   Options
	locks  keylock.Map
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, auditor Auditor, opts Options) *Service {
	return &Service{
		store:  store,
		audit:  auditor,
		opts:   opts,
		logger: slog.Default(),
		now:    time.Now,
	}
}

func (s *Service) validate(in NewTask) (Checklist, error) {
	fields := map[string]string{}
	if !in.Kind.Valid() {
		names := make([]string, len(Kinds))
		for i, k := range Kinds {
			names[i] = string(k)
		}
		fields["kind"] = "must be one of " + strings.Join(names, ", ")
	}
	if strings.TrimSpace(in.TargetID) == "" {
		fields["targetId"] = "required"
	}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "required"
	}
	if in.Risk < 1 || in.Risk > 5 {
		fields["risk"] = "must be between 1 and 5"
	}
	if in.Sources == nil {
		fields["sources"] = "must be an array"
	}
	checklist, missing := in.Checklist.resolve()
	for _, name := range missing {
		fields["checklist."+name] = "required"
	}
	if len(fields) > 0 {
		return Checklist{}, &ValidationError{Fields: fields}
	}
	return checklist, nil
}

// Create validates in and stores a new task awaiting review.
func (s *Service) Create(ctx context.Context, in NewTask, actor string) (Task, error) {
	checklist, err := s.validate(in)
	if err != nil {
		return Task{}, err
	}
	return s.insert(ctx, Task{
		Kind:      in.Kind,
		TargetID:  in.TargetID,
		Title:     in.Title,
		Summary:   in.Summary,
		Sources:   in.Sources,
		Risk:      in.Risk,
		Checklist: checklist,
	}, actor, nil)
}

func (s *Service) insert(ctx context.Context, t Task, actor string, diff map[string]any) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	if actor == "" {
		actor = "system"
	}
	now := s.now().UTC()
	t.ID = uuid.New().String()
	t.State = StateReviewing
	t.Notes = ""
	t.Reviewer = ""
	t.RiskLabel = RiskLabel(t.Risk)
	t.CreatedAt = now
	t.UpdatedAt = now

	rec, err := toRecord(t)
	if err != nil {
		return Task{}, err
	}
	if diff == nil {
		diff = map[string]any{}
	}
	diff["kind"] = t.Kind
	diff["targetId"] = t.TargetID
	entry, err := s.audit.Build(ctx, audit.Record{Actor: actor, Action: audit.ActionCreate, Target: t.ID, Diff: diff})
	if err != nil {
		return Task{}, fmt.Errorf("auditing task creation: %w", err)
	}
	if err := s.store.InsertReviewTask(rec, entry.Row()); err != nil {
		return Task{}, fmt.Errorf("inserting review task: %w", err)
	}
	s.audit.Logged(entry)

	s.logger.Info("review task created", "task_id", t.ID, "kind", t.Kind, "target_id", t.TargetID, "risk", t.Risk)
	return t, nil
}

func (s *Service) Get(ctx context.Context, id string) (Task, error) {
	if err := ctx.Err(); err != nil {
		return Task{}, err
	}
	rec, err := s.store.GetReviewTask(id)
	if errors.Is(err, storage.ErrNotFound) {
		return Task{}, ErrNotFound
	}
	if err != nil {
		return Task{}, fmt.Errorf("loading review task %s: %w", id, err)
	}
	return fromRecord(rec)
}

// List returns matching tasks, newest first.
func (s *Service) List(ctx context.Context, f Filter) ([]Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	state := f.State
	if state == "" && !f.All {
		state = StateReviewing
	}
	recs, err := s.store.QueryReviewTasks(storage.ReviewTaskFilter{
		State:    string(state),
		Kind:     string(f.Kind),
		TargetID: f.TargetID,
		Limit:    f.Limit,
	})
	if err != nil {
		return nil, fmt.Errorf("querying review tasks: %w", err)
	}

	tasks := make([]Task, 0, len(recs))
	for _, rec := range recs {
		t, err := fromRecord(rec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Decide moves a task awaiting review to APPROVED or REJECTED. Notes replace
// the existing notes only when non-nil.
func (s *Service) Decide(ctx context.Context, id string, to State, reviewer string, notes *string) (Task, error) {
	fields := map[string]string{}
	if to != StateApproved && to != StateRejected {
		fields["state"] = "must be APPROVED or REJECTED"
	}
	if strings.TrimSpace(reviewer) == "" {
		fields["reviewer"] = "required"
	}
	if len(fields) > 0 {
		return Task{}, &ValidationError{Fields: fields}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.State.Terminal() {
		return Task{}, &TransitionError{From: t.State, To: to}
	}
	if to == StateApproved && s.opts.RequireFullChecklist {
		if missing := t.Checklist.Unchecked(); len(missing) > 0 {
			return Task{}, &ChecklistIncompleteError{Missing: missing}
		}
	}

	from := t.State
	t.State = to
	t.Reviewer = reviewer
	if notes != nil {
		t.Notes = *notes
	}
	t.UpdatedAt = s.now().UTC()

	rec, err := toRecord(t)
	if err != nil {
		return Task{}, err
	}
	action := audit.ActionReject
	if to == StateApproved {
		action = audit.ActionApprove
	}
	diff := map[string]any{"state": map[string]State{"from": from, "to": to}}
	entry, err := s.audit.Build(ctx, audit.Record{Actor: reviewer, Action: action, Target: id, Diff: diff})
	if err != nil {
		return Task{}, fmt.Errorf("auditing decision on %s: %w", id, err)
	}
	if err := s.store.UpdateReviewTask(rec, entry.Row()); err != nil {
		return Task{}, fmt.Errorf("updating review task %s: %w", id, err)
	}
	s.audit.Logged(entry)

	s.logger.Info("review task decided", "task_id", id, "state", to, "reviewer", reviewer)
	return t, nil
}

// UpdateChecklist replaces the checklist of a task still under review.
func (s *Service) UpdateChecklist(ctx context.Context, id string, c Checklist, actor string) (Task, error) {
	if strings.TrimSpace(actor) == "" {
		return Task{}, &ValidationError{Fields: map[string]string{"actor": "required"}}
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	t, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if t.State.Terminal() {
		return Task{}, &TransitionError{From: t.State, To: t.State}
	}

	changes := map[string]any{}
	newFields := c.fields()
	for i, old := range t.Checklist.fields() {
		if old.val != newFields[i].val {
			changes[old.name] = map[string]bool{"from": old.val, "to": newFields[i].val}
		}
	}
	if len(changes) == 0 {
		return t, nil
	}

	t.Checklist = c
	t.UpdatedAt = s.now().UTC()
	rec, err := toRecord(t)
	if err != nil {
		return Task{}, err
	}
	entry, err := s.audit.Build(ctx, audit.Record{Actor: actor, Action: audit.ActionEdit, Target: id, Diff: map[string]any{"checklist": changes}})
	if err != nil {
		return Task{}, fmt.Errorf("auditing checklist edit on %s: %w", id, err)
	}
	if err := s.store.UpdateReviewTask(rec, entry.Row()); err != nil {
		return Task{}, fmt.Errorf("updating review task %s: %w", id, err)
	}
	s.audit.Logged(entry)
	return t, nil
}

// Resubmit opens a fresh task for the same target as a rejected one. The
// rejected task is left untouched.
func (s *Service) Resubmit(ctx context.Context, id, actor string) (Task, error) {
	old, err := s.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if old.State != StateRejected {
		return Task{}, &TransitionError{From: old.State, To: StateReviewing}
	}
	return s.insert(ctx, Task{
		Kind:       old.Kind,
		TargetID:   old.TargetID,
		Title:      old.Title,
		Summary:    old.Summary,
		Sources:    old.Sources,
		Risk:       old.Risk,
		Supersedes: old.ID,
	}, actor, map[string]any{"supersedes": old.ID})
}
