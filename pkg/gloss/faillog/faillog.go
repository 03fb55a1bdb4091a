// Package faillog records batches that exhausted their retry budgets, for
// offline inspection. Records are append-only: a later run never overwrites
// an earlier failure.
package faillog

import (
	"context"
	"time"
)

// Record is one exhausted-retry failure: the batch, why it failed, the exact
// payload sent, and the last raw response received (if any).
type Record struct {
	ID           string
	RunID        string
	BatchIndex   int
	Status       string
	InputPayload string
	LastResponse string
	CreatedAt    time.Time
}

// Log is the failure sink. Append never mutates prior records.
type Log interface {
	Append(ctx context.Context, r Record) error
	ByRun(ctx context.Context, runID string) ([]Record, error)
	Close() error
}
