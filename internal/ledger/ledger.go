package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/newsdesk/internal/audit"
	"github.com/kalambet/newsdesk/internal/keylock"
	"github.com/kalambet/newsdesk/internal/storage"
)

// DefaultMonthlyCapUSD applies when no cap is configured.
const DefaultMonthlyCapUSD = 1000.0

// MaxSpendUSD bounds a single entry, whatever the cap.
const MaxSpendUSD = 1000000.0

// Categories lists the accepted spend categories.
var Categories = []string{"infra", "legal", "tools", "comms"}

// CapExceededError is returned when a spend would push the month over its
// cap. Nothing is written.
type CapExceededError struct {
	CurrentSpent    float64 `json:"currentSpent"`
	RequestedAmount float64 `json:"requestedAmount"`
	Cap             float64 `json:"monthlyCap"`
	Remaining       float64 `json:"remainingBudget"`
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("monthly cap exceeded: spent %.2f of %.2f, requested %.2f, remaining %.2f",
		e.CurrentSpent, e.Cap, e.RequestedAmount, e.Remaining)
}

// ValidationError lists every invalid input field with a reason.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid ledger entry: " + strings.Join(parts, "; ")
}

// Store abstracts ledger persistence.
type Store interface {
	AppendLedgerEntryCapped(e storage.LedgerEntry, capCents int64, a storage.AuditEntry) (int64, error)
	LedgerEntries(month, category string) ([]storage.LedgerEntry, error)
}

// Auditor builds the entry committed with each ledger write.
type Auditor interface {
	Build(ctx context.Context, r audit.Record) (audit.Entry, error)
	Logged(e audit.Entry)
}

type Entry struct {
	ID         string    `json:"id"`
	Month      string    `json:"month"`
	Category   string    `json:"category"`
	AmountUSD  float64   `json:"amountUsd"`
	CapApplied bool      `json:"capApplied"`
	Note       string    `json:"note,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Spend is the input to RecordSpend.
type Spend struct {
	Month     string
	Category  string
	AmountUSD float64
	Note      string
	Actor     string
}

// Recorded is a written entry with the month totals after the write.
type Recorded struct {
	Entry           Entry   `json:"entry"`
	TotalSpent      float64 `json:"totalSpent"`
	RemainingBudget float64 `json:"remainingBudget"`
}

type Summary struct {
	Month           string             `json:"month"`
	Entries         []Entry            `json:"entries"`
	TotalSpent      float64            `json:"totalSpent"`
	RemainingBudget float64            `json:"remainingBudget"`
	MonthlyCap      float64            `json:"monthlyCap"`
	CategoryTotals  map[string]float64 `json:"categoryTotals"`
}

// Guard enforces the monthly spending cap. Writes for the same month are
// serialized, and the total check and insert share one store transaction.
type Guard struct {
	store    Store
	audit    Auditor
	capCents int64
	locks    keylock.Map
	logger   *slog.Logger
	now      func() time.Time
}

// NewGuard creates a guard. A non-positive cap uses DefaultMonthlyCapUSD.
func NewGuard(store Store, auditor Auditor, monthlyCapUSD float64) *Guard {
	if monthlyCapUSD <= 0 {
		monthlyCapUSD = DefaultMonthlyCapUSD
	}
	return &Guard{
		store:    store,
		audit:    auditor,
		capCents: toCents(monthlyCapUSD),
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// MonthlyCap returns the configured cap in USD.
func (g *Guard) MonthlyCap() float64 {
	return fromCents(g.capCents)
}

func toCents(usd float64) int64 {
	return int64(math.Round(usd * 100))
}

func fromCents(c int64) float64 {
	return float64(c) / 100
}

// ValidMonth reports whether m is a yyyy-mm month.
func ValidMonth(m string) bool {
	if len(m) != 7 {
		return false
	}
	_, err := time.Parse("2006-01", m)
	return err == nil
}

func validCategory(c string) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// RecordSpend appends one entry if the month stays within the cap.
func (g *Guard) RecordSpend(ctx context.Context, s Spend) (Recorded, error) {
	fields := map[string]string{}
	if !ValidMonth(s.Month) {
		fields["month"] = "must be yyyy-mm"
	}
	if !validCategory(s.Category) {
		fields["category"] = "must be one of " + strings.Join(Categories, ", ")
	}
	cents := int64(0)
	if math.IsNaN(s.AmountUSD) || math.IsInf(s.AmountUSD, 0) || s.AmountUSD <= 0 {
		fields["amountUsd"] = "must be a positive number"
	} else if s.AmountUSD > MaxSpendUSD {
		fields["amountUsd"] = fmt.Sprintf("must not exceed %.0f", MaxSpendUSD)
	} else if cents = toCents(s.AmountUSD); cents == 0 {
		fields["amountUsd"] = "must be at least 0.01"
	}
	if len(fields) > 0 {
		return Recorded{}, &ValidationError{Fields: fields}
	}
	if err := ctx.Err(); err != nil {
		return Recorded{}, err
	}

	unlock := g.locks.Lock(s.Month)
	defer unlock()

	rec := storage.LedgerEntry{
		ID:          uuid.New().String(),
		Month:       s.Month,
		Category:    s.Category,
		AmountCents: cents,
		CapApplied:  false,
		Note:        s.Note,
		CreatedAt:   g.now().UTC(),
	}
	actor := s.Actor
	if actor == "" {
		actor = "system"
	}
	diff := map[string]any{"entryId": rec.ID, "category": rec.Category, "amountUsd": fromCents(cents)}
	auditEntry, err := g.audit.Build(ctx, audit.Record{Actor: actor, Action: audit.ActionCreate, Target: "ledger:" + s.Month, Diff: diff})
	if err != nil {
		return Recorded{}, fmt.Errorf("auditing ledger entry %s: %w", rec.ID, err)
	}

	spent, err := g.store.AppendLedgerEntryCapped(rec, g.capCents, auditEntry.Row())
	if errors.Is(err, storage.ErrCapExceeded) {
		capErr := &CapExceededError{
			CurrentSpent:    fromCents(spent),
			RequestedAmount: fromCents(cents),
			Cap:             fromCents(g.capCents),
			Remaining:       fromCents(max(0, g.capCents-spent)),
		}
		g.logger.Warn("ledger cap exceeded", "month", s.Month, "category", s.Category, "requested", capErr.RequestedAmount, "remaining", capErr.Remaining)
		return Recorded{}, capErr
	}
	if err != nil {
		return Recorded{}, fmt.Errorf("recording spend for %s: %w", s.Month, err)
	}

	g.audit.Logged(auditEntry)
	entry := fromRecord(rec)
	total := spent + cents

	g.logger.Info("ledger entry recorded", "month", s.Month, "category", s.Category, "amount", entry.AmountUSD, "total", fromCents(total))
	return Recorded{
		Entry:           entry,
		TotalSpent:      fromCents(total),
		RemainingBudget: fromCents(max(0, g.capCents-total)),
	}, nil
}

// Summarize returns a month's entries and totals.
func (g *Guard) Summarize(ctx context.Context, month string) (Summary, error) {
	if !ValidMonth(month) {
		return Summary{}, &ValidationError{Fields: map[string]string{"month": "must be yyyy-mm"}}
	}
	if err := ctx.Err(); err != nil {
		return Summary{}, err
	}

	recs, err := g.store.LedgerEntries(month, "")
	if err != nil {
		return Summary{}, fmt.Errorf("loading ledger for %s: %w", month, err)
	}

	var total int64
	byCategory := map[string]int64{}
	entries := make([]Entry, 0, len(recs))
	for _, r := range recs {
		total += r.AmountCents
		byCategory[r.Category] += r.AmountCents
		entries = append(entries, fromRecord(r))
	}

	categoryTotals := make(map[string]float64, len(byCategory))
	for c, v := range byCategory {
		categoryTotals[c] = fromCents(v)
	}

	return Summary{
		Month:           month,
		Entries:         entries,
		TotalSpent:      fromCents(total),
		RemainingBudget: fromCents(max(0, g.capCents-total)),
		MonthlyCap:      fromCents(g.capCents),
		CategoryTotals:  categoryTotals,
	}, nil
}

func fromRecord(r storage.LedgerEntry) Entry {
	return Entry{
		ID:         r.ID,
		Month:      r.Month,
		Category:   r.Category,
		AmountUSD:  fromCents(r.AmountCents),
		CapApplied: r.CapApplied,
		Note:       r.Note,
		CreatedAt:  r.CreatedAt,
	}
}
