package storage

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"
)

func auditRow(id, target string) AuditEntry {
	return AuditEntry{ID: id, Actor: "test", Action: "CREATE", Target: target, CreatedAt: time.Now().UTC()}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestIndexesExist verifies that the lookup indexes are created by the migration.
func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_queue_items_lane_seq", "idx_queue_items_url", "idx_review_tasks_state", "idx_review_tasks_target", "idx_audit_log_target", "idx_ledger_entries_month"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestPushPopFIFO(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.PushQueueItem(QueueRecord{Lane: LanePending, ItemID: id, PayloadJSON: `{}`}); err != nil {
			t.Fatalf("PushQueueItem(%s): %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		rec, err := s.PopPending()
		if err != nil {
			t.Fatalf("PopPending: %v", err)
		}
		if rec == nil {
			t.Fatalf("PopPending returned nil, want %q", want)
		}
		if rec.ItemID != want {
			t.Errorf("ItemID = %q, want %q", rec.ItemID, want)
		}
	}

	rec, err := s.PopPending()
	if err != nil {
		t.Fatalf("PopPending on empty lane: %v", err)
	}
	if rec != nil {
		t.Errorf("PopPending on empty lane = %+v, want nil", rec)
	}
}

func TestLaneCountsTrackPushAndPop(t *testing.T) {
	s := openTestStore(t)

	s.PushQueueItem(QueueRecord{Lane: LanePending, ItemID: "p1", PayloadJSON: `{}`})
	s.PushQueueItem(QueueRecord{Lane: LanePending, ItemID: "p2", PayloadJSON: `{}`})
	s.PushQueueItem(QueueRecord{Lane: LaneFailed, ItemID: "f1", PayloadJSON: `{}`, Error: "boom", FailedAt: time.Now()})
	if _, err := s.PopPending(); err != nil {
		t.Fatalf("PopPending: %v", err)
	}

	counts, err := s.LaneCounts()
	if err != nil {
		t.Fatalf("LaneCounts: %v", err)
	}
	if counts[LanePending] != 1 || counts[LaneProcessed] != 0 || counts[LaneFailed] != 1 {
		t.Errorf("counts = %v, want pending=1 processed=0 failed=1", counts)
	}
}

func TestPushRejectsUnknownLane(t *testing.T) {
	s := openTestStore(t)
	if err := s.PushQueueItem(QueueRecord{Lane: "archive", ItemID: "x"}); err == nil {
		t.Fatal("expected error for unknown lane")
	}
}

func TestHasURLAndLatestProcessed(t *testing.T) {
	s := openTestStore(t)

	s.PushQueueItem(QueueRecord{Lane: LaneProcessed, ItemID: "n1", URL: "https://example.com/a", PayloadJSON: `{"v":1}`})
	s.PushQueueItem(QueueRecord{Lane: LaneProcessed, ItemID: "n1", URL: "https://example.com/a", PayloadJSON: `{"v":2}`})

	ok, err := s.HasURL("https://example.com/a")
	if err != nil || !ok {
		t.Fatalf("HasURL = %v, %v; want true, nil", ok, err)
	}
	ok, _ = s.HasURL("https://example.com/other")
	if ok {
		t.Error("HasURL for unknown url = true")
	}

	rec, err := s.LatestProcessed("n1")
	if err != nil {
		t.Fatalf("LatestProcessed: %v", err)
	}
	if rec.PayloadJSON != `{"v":2}` {
		t.Errorf("PayloadJSON = %s, want latest record", rec.PayloadJSON)
	}

	if _, err := s.LatestProcessed("missing"); err != ErrNotFound {
		t.Errorf("LatestProcessed(missing) error = %v, want ErrNotFound", err)
	}
}

func TestReviewTaskRoundTripAndUpdate(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC()
	task := ReviewTask{
		ID: "t1", Kind: "NEWS", TargetID: "n1", Title: "Title", SourcesJSON: `["u"]`,
		Risk: 3, State: "REVIEWING", ChecklistJSON: `{}`, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertReviewTask(task, auditRow("a-create", "t1")); err != nil {
		t.Fatalf("InsertReviewTask: %v", err)
	}

	task.State = "APPROVED"
	task.Reviewer = "alice"
	task.UpdatedAt = now.Add(time.Minute)
	if err := s.UpdateReviewTask(task, auditRow("a-approve", "t1")); err != nil {
		t.Fatalf("UpdateReviewTask: %v", err)
	}

	got, err := s.GetReviewTask("t1")
	if err != nil {
		t.Fatalf("GetReviewTask: %v", err)
	}
	if got.State != "APPROVED" || got.Reviewer != "alice" {
		t.Errorf("got state=%q reviewer=%q", got.State, got.Reviewer)
	}
	if !got.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, now)
	}

	if err := s.UpdateReviewTask(ReviewTask{ID: "nope"}, auditRow("a-nope", "nope")); err != ErrNotFound {
		t.Errorf("UpdateReviewTask(nope) error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetReviewTask("nope"); err != ErrNotFound {
		t.Errorf("GetReviewTask(nope) error = %v, want ErrNotFound", err)
	}
}

func TestQueryReviewTasksFilters(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	insert := func(id, kind, target, state string) {
		t.Helper()
		err := s.InsertReviewTask(ReviewTask{
			ID: id, Kind: kind, TargetID: target, Title: id, SourcesJSON: `[]`, Risk: 1,
			State: state, ChecklistJSON: `{}`, CreatedAt: now, UpdatedAt: now,
		}, auditRow("a-"+id, id))
		if err != nil {
			t.Fatalf("InsertReviewTask(%s): %v", id, err)
		}
	}
	insert("t1", "NEWS", "n1", "REVIEWING")
	insert("t2", "EVIDENCE", "e1", "APPROVED")
	insert("t3", "NEWS", "n1", "REJECTED")

	reviewing, err := s.QueryReviewTasks(ReviewTaskFilter{State: "REVIEWING"})
	if err != nil {
		t.Fatalf("QueryReviewTasks: %v", err)
	}
	if len(reviewing) != 1 || reviewing[0].ID != "t1" {
		t.Errorf("reviewing = %+v, want [t1]", reviewing)
	}

	byTarget, err := s.QueryReviewTasks(ReviewTaskFilter{TargetID: "n1", Kind: "NEWS"})
	if err != nil {
		t.Fatalf("QueryReviewTasks: %v", err)
	}
	if len(byTarget) != 2 || byTarget[0].ID != "t3" {
		t.Errorf("byTarget = %+v, want newest first [t3 t1]", byTarget)
	}
}

func TestAuditAppendAndQuery(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	entries := []AuditEntry{
		{ID: "a1", Actor: "alice", Action: "CREATE", Target: "t1", CreatedAt: now},
		{ID: "a2", Actor: "bob", Action: "APPROVE", Target: "t1", DiffJSON: `{"state":{"from":"REVIEWING","to":"APPROVED"}}`, CreatedAt: now},
		{ID: "a3", Actor: "bob", Action: "PUBLISH", Target: "n1", CreatedAt: now},
	}
	for _, e := range entries {
		if err := s.AppendAudit(e); err != nil {
			t.Fatalf("AppendAudit(%s): %v", e.ID, err)
		}
	}

	got, err := s.QueryAudit(AuditFilter{Target: "t1"})
	if err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if len(got) != 2 || got[0].ID != "a1" || got[1].ID != "a2" {
		t.Errorf("QueryAudit(target=t1) = %+v, want [a1 a2] in order", got)
	}

	got, _ = s.QueryAudit(AuditFilter{Actor: "bob", Action: "PUBLISH"})
	if len(got) != 1 || got[0].ID != "a3" {
		t.Errorf("QueryAudit(actor=bob, action=PUBLISH) = %+v, want [a3]", got)
	}

	if err := s.AppendAudit(AuditEntry{ID: "a1", Actor: "x", Action: "EDIT", Target: "t1", CreatedAt: now}); err == nil {
		t.Error("duplicate audit id should be rejected")
	}
}

func TestAppendLedgerEntryCapped(t *testing.T) {
	s := openTestStore(t)

	spent, err := s.AppendLedgerEntryCapped(LedgerEntry{ID: "l1", Month: "2024-01", Category: "infra", AmountCents: 90000, CreatedAt: time.Now()}, 100000, auditRow("la1", "ledger"))
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if spent != 0 {
		t.Errorf("spent before first = %d, want 0", spent)
	}

	spent, err = s.AppendLedgerEntryCapped(LedgerEntry{ID: "l2", Month: "2024-01", Category: "legal", AmountCents: 15000, CreatedAt: time.Now()}, 100000, auditRow("la2", "ledger"))
	if !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("error = %v, want ErrCapExceeded", err)
	}
	if spent != 90000 {
		t.Errorf("spent = %d, want 90000", spent)
	}

	// Other months are independent.
	if _, err := s.AppendLedgerEntryCapped(LedgerEntry{ID: "l3", Month: "2024-02", Category: "legal", AmountCents: 15000, CreatedAt: time.Now()}, 100000, auditRow("la3", "ledger")); err != nil {
		t.Fatalf("append other month: %v", err)
	}

	entries, err := s.LedgerEntries("2024-01", "")
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	if len(entries) != 1 || entries[0].ID != "l1" {
		t.Errorf("entries = %+v, want only l1", entries)
	}

	infra, _ := s.LedgerEntries("2024-01", "infra")
	legal, _ := s.LedgerEntries("2024-01", "legal")
	if len(infra) != 1 || len(legal) != 0 {
		t.Errorf("category filter: infra=%d legal=%d, want 1 and 0", len(infra), len(legal))
	}
}

func TestAppendLedgerEntryCappedConcurrent(t *testing.T) {
	s := openTestStore(t)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.AppendLedgerEntryCapped(LedgerEntry{
				ID: fmt.Sprintf("c%d", i), Month: "2024-03", Category: "tools",
				AmountCents: 10000, CreatedAt: time.Now(),
			}, 100000, auditRow(fmt.Sprintf("ac%d", i), "ledger:2024-03"))
		}(i)
	}
	wg.Wait()

	entries, err := s.LedgerEntries("2024-03", "")
	if err != nil {
		t.Fatalf("LedgerEntries: %v", err)
	}
	var total int64
	for _, e := range entries {
		total += e.AmountCents
	}
	if total > 100000 {
		t.Errorf("total = %d cents, exceeds cap", total)
	}
	if len(entries) != 10 {
		t.Errorf("entries = %d, want 10", len(entries))
	}
}

func TestAppendLedgerEntryCappedHugeAmount(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.AppendLedgerEntryCapped(LedgerEntry{ID: "h1", Month: "2024-04", Category: "infra", AmountCents: 90000, CreatedAt: time.Now()}, 100000, auditRow("ah1", "ledger")); err != nil {
		t.Fatalf("first append: %v", err)
	}
	_, err := s.AppendLedgerEntryCapped(LedgerEntry{ID: "h2", Month: "2024-04", Category: "infra", AmountCents: math.MaxInt64 - 10, CreatedAt: time.Now()}, 100000, auditRow("ah2", "ledger"))
	if !errors.Is(err, ErrCapExceeded) {
		t.Fatalf("error = %v, want ErrCapExceeded", err)
	}
	entries, _ := s.LedgerEntries("2024-04", "")
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestStateChangeRollsBackWithAudit(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	task := ReviewTask{
		ID: "t1", Kind: "NEWS", TargetID: "n1", Title: "Title", SourcesJSON: `[]`,
		Risk: 2, State: "REVIEWING", ChecklistJSON: `{}`, CreatedAt: now, UpdatedAt: now,
	}
	if err := s.InsertReviewTask(task, auditRow("a1", "t1")); err != nil {
		t.Fatalf("InsertReviewTask: %v", err)
	}

	// Reusing an audit id makes the audit insert fail after the update ran.
	task.State = "APPROVED"
	if err := s.UpdateReviewTask(task, auditRow("a1", "t1")); err == nil {
		t.Fatal("UpdateReviewTask succeeded with a duplicate audit id")
	}
	got, _ := s.GetReviewTask("t1")
	if got.State != "REVIEWING" {
		t.Errorf("state = %q, want REVIEWING after rollback", got.State)
	}

	if _, err := s.AppendLedgerEntryCapped(LedgerEntry{ID: "l1", Month: "2024-05", Category: "infra", AmountCents: 100, CreatedAt: now}, 100000, auditRow("a1", "ledger")); err == nil {
		t.Fatal("AppendLedgerEntryCapped succeeded with a duplicate audit id")
	}
	if entries, _ := s.LedgerEntries("2024-05", ""); len(entries) != 0 {
		t.Errorf("entries = %d, want 0 after rollback", len(entries))
	}
}
