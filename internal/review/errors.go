package review

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrNotFound is returned when no task has the requested id.
var ErrNotFound = errors.New("review task not found")

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
	return "invalid review task: " + strings.Join(parts, "; ")
}

// TransitionError is returned when a task is asked to move out of a terminal
// state, or into a state its current state does not lead to.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("review task cannot move from %s to %s", e.From, e.To)
}

// ChecklistIncompleteError is returned by Decide when full checklists are
// required for approval and some items are unchecked.
type ChecklistIncompleteError struct {
	Missing []string
}

func (e *ChecklistIncompleteError) Error() string {
	return "checklist incomplete: " + strings.Join(e.Missing, ", ")
}
