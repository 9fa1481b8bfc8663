package queue

import (
	"context"
	"log/slog"
)

// Noop is the degraded queue used when no durable store is configured.
// Writes are discarded, Dequeue never yields work, and Stats is always zero.
type Noop struct{}

// NewNoop returns a Noop queue and logs that the queue is running degraded.
func NewNoop() Noop {
	slog.Warn("queue backend disabled; items will be discarded")
	return Noop{}
}

func (Noop) Enqueue(context.Context, Item) error {
	return nil
}

func (Noop) Dequeue(context.Context) (*Item, error) {
	return nil, nil
}

func (Noop) MarkProcessed(context.Context, ProcessedItem) error {
	return nil
}

func (Noop) MarkFailed(context.Context, Item, string) error {
	return nil
}

func (Noop) Stats(context.Context) (Stats, error) {
	return Stats{}, nil
}

func (Noop) List(context.Context, string, int, int) ([]Entry, error) {
	return []Entry{}, nil
}
