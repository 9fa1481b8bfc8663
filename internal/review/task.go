package review

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kalambet/newsdesk/internal/storage"
)

type Kind string

const (
	KindEvidence     Kind = "EVIDENCE"
	KindTemplate     Kind = "TEMPLATE"
	KindNews         Kind = "NEWS"
	KindLedgerReport Kind = "LEDGER_REPORT"
)

// Kinds lists every task kind.
var Kinds = []Kind{KindEvidence, KindTemplate, KindNews, KindLedgerReport}

func (k Kind) Valid() bool {
	switch k {
	case KindEvidence, KindTemplate, KindNews, KindLedgerReport:
		return true
	}
	return false
}

type State string

const (
	StateReviewing State = "REVIEWING"
	StateApproved  State = "APPROVED"
	StateRejected  State = "REJECTED"
)

// Terminal reports whether no further transition is allowed from s.
func (s State) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// Checklist is the six-point editorial checklist attached to every task.
type Checklist struct {
	Sources     bool `json:"sources"`
	Quotes      bool `json:"quotes"`
	Counterview bool `json:"counterview"`
	Numbers     bool `json:"numbers"`
	Rights      bool `json:"rights"`
	Style       bool `json:"style"`
}

func (c Checklist) fields() []struct {
	name string
	val  bool
} {
	return []struct {
		name string
		val  bool
	}{
		{"sources", c.Sources},
		{"quotes", c.Quotes},
		{"counterview", c.Counterview},
		{"numbers", c.Numbers},
		{"rights", c.Rights},
		{"style", c.Style},
	}
}

// Unchecked returns the names of items that are false, in checklist order.
func (c Checklist) Unchecked() []string {
	var out []string
	for _, f := range c.fields() {
		if !f.val {
			out = append(out, f.name)
		}
	}
	return out
}

// ChecklistInput is the checklist as submitted. Every field must be present.
type ChecklistInput struct {
	Sources     *bool `json:"sources"`
	Quotes      *bool `json:"quotes"`
	Counterview *bool `json:"counterview"`
	Numbers     *bool `json:"numbers"`
	Rights      *bool `json:"rights"`
	Style       *bool `json:"style"`
}

// NewChecklistInput returns a complete input holding the values of c.
func NewChecklistInput(c Checklist) *ChecklistInput {
	return &ChecklistInput{
		Sources: &c.Sources, Quotes: &c.Quotes, Counterview: &c.Counterview,
		Numbers: &c.Numbers, Rights: &c.Rights, Style: &c.Style,
	}
}

// resolve returns the checklist and the names of missing fields.
func (in *ChecklistInput) resolve() (Checklist, []string) {
	if in == nil {
		return Checklist{}, []string{"sources", "quotes", "counterview", "numbers", "rights", "style"}
	}
	var c Checklist
	var missing []string
	set := func(name string, src *bool, dst *bool) {
		if src == nil {
			missing = append(missing, name)
			return
		}
		*dst = *src
	}
	set("sources", in.Sources, &c.Sources)
	set("quotes", in.Quotes, &c.Quotes)
	set("counterview", in.Counterview, &c.Counterview)
	set("numbers", in.Numbers, &c.Numbers)
	set("rights", in.Rights, &c.Rights)
	set("style", in.Style, &c.Style)
	return c, missing
}

// Complete returns the checklist, or a ValidationError naming every
// missing field.
func (in *ChecklistInput) Complete() (Checklist, error) {
	c, missing := in.resolve()
	if len(missing) == 0 {
		return c, nil
	}
	fields := make(map[string]string, len(missing))
	for _, name := range missing {
		fields["checklist."+name] = "required"
	}
	return Checklist{}, &ValidationError{Fields: fields}
}

// Task is a unit of human review.
type Task struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	TargetID   string    `json:"targetId"`
	Title      string    `json:"title"`
	Summary    string    `json:"summary,omitempty"`
	Sources    []string  `json:"sources"`
	Risk       int       `json:"risk"`
	RiskLabel  string    `json:"riskLabel"`
	State      State     `json:"state"`
	Checklist  Checklist `json:"checklist"`
	Notes      string    `json:"notes"`
	Reviewer   string    `json:"reviewer,omitempty"`
	Supersedes string    `json:"supersedes,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewTask is the input to Create.
type NewTask struct {
	Kind      Kind            `json:"kind"`
	TargetID  string          `json:"targetId"`
	Title     string          `json:"title"`
	Summary   string          `json:"summary,omitempty"`
	Sources   []string        `json:"sources"`
	Risk      int             `json:"risk"`
	Checklist *ChecklistInput `json:"checklist"`
}

// RiskLabel maps a stored risk score to its display label.
func RiskLabel(risk int) string {
	switch {
	case risk <= 2:
		return "Low"
	case risk == 3:
		return "Medium"
	default:
		return "High"
	}
}

func toRecord(t Task) (storage.ReviewTask, error) {
	sources, err := json.Marshal(t.Sources)
	if err != nil {
		return storage.ReviewTask{}, fmt.Errorf("encoding sources: %w", err)
	}
	checklist, err := json.Marshal(t.Checklist)
	if err != nil {
		return storage.ReviewTask{}, fmt.Errorf("encoding checklist: %w", err)
	}
	return storage.ReviewTask{
		ID:            t.ID,
		Kind:          string(t.Kind),
		TargetID:      t.TargetID,
		Title:         t.Title,
		Summary:       t.Summary,
		SourcesJSON:   string(sources),
		Risk:          t.Risk,
		State:         string(t.State),
		ChecklistJSON: string(checklist),
		Notes:         t.Notes,
		Reviewer:      t.Reviewer,
		Supersedes:    t.Supersedes,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}, nil
}

func fromRecord(r storage.ReviewTask) (Task, error) {
	t := Task{
		ID:         r.ID,
		Kind:       Kind(r.Kind),
		TargetID:   r.TargetID,
		Title:      r.Title,
		Summary:    r.Summary,
		Risk:       r.Risk,
		RiskLabel:  RiskLabel(r.Risk),
		State:      State(r.State),
		Notes:      r.Notes,
		Reviewer:   r.Reviewer,
		Supersedes: r.Supersedes,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.SourcesJSON), &t.Sources); err != nil {
		return Task{}, fmt.Errorf("decoding sources of %s: %w", r.ID, err)
	}
	if t.Sources == nil {
		t.Sources = []string{}
	}
	if err := json.Unmarshal([]byte(r.ChecklistJSON), &t.Checklist); err != nil {
		return Task{}, fmt.Errorf("decoding checklist of %s: %w", r.ID, err)
	}
	return t, nil
}
