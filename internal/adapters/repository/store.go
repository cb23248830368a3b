// Package repository stores analysis records by run id.
package repository

import (
	"context"
	"time"

	"github.com/t0270293/uk-source-attribution-fcm/internal/domain/analysis"
)

// Status is the lifecycle state of an analysis.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Record is one analysis as seen by clients.
type Record struct {
	RunID       string           `json:"run_id" yaml:"run_id"`
	RequestID   string           `json:"request_id,omitempty" yaml:"request_id,omitempty"`
	Status      Status           `json:"status" yaml:"status"`
	SubmittedAt time.Time        `json:"submitted_at" yaml:"submitted_at"`
	FinishedAt  *time.Time       `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Error       string           `json:"error,omitempty" yaml:"error,omitempty"`
	Report      *analysis.Report `json:"report,omitempty" yaml:"report,omitempty"`
}

// Store provides read/write access to analysis records.
type Store interface {
	// Put inserts or replaces the record with rec.RunID.
	Put(ctx context.Context, rec Record) error

	// Get returns the record of a run, or ErrNotFound.
	Get(ctx context.Context, runID string) (Record, error)

	// Delete removes a record. Unknown ids are ignored.
	Delete(ctx context.Context, runID string) error

	// IDs returns run ids, newest first.
	IDs(ctx context.Context) []string

	// Count returns the number of stored records.
	Count(ctx context.Context) int
}
