// Package memlog is an in-memory faillog.Log for tests.
package memlog

import (
	"context"
	"sync"

	"github.com/cognicore/gloss/pkg/gloss/faillog"
)

// Log stores records in memory.
type Log struct {
	mu      sync.Mutex
	records []faillog.Record
}

// New creates an empty in-memory log.
func New() *Log { return &Log{} }

// Append implements faillog.Log.
func (l *Log) Append(ctx context.Context, r faillog.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, r)
	return nil
}

// ByRun implements faillog.Log.
func (l *Log) ByRun(ctx context.Context, runID string) ([]faillog.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []faillog.Record
	for _, r := range l.records {
		if r.RunID == runID {
			out = append(out, r)
		}
	}
	return out, nil
}

// All returns every record, in append order.
func (l *Log) All() []faillog.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]faillog.Record(nil), l.records...)
}

// Close implements faillog.Log.
func (l *Log) Close() error { return nil }
