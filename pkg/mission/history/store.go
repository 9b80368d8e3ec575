// Package history keeps records of completed mission runs.
//
// A record is written once, when a run reaches a terminal result or is
// cancelled. It carries the final blackboard snapshot so operators can read
// mission outputs after the fact. Records are telemetry only; a run is never
// resumed from them.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/randalmurphal/mission/pkg/mission/expr"
)

// Store persists run records. Implementations must be safe for concurrent use.
type Store interface {
	// Save stores a record, replacing any record with the same RunID.
	Save(ctx context.Context, rec Record) error

	// Get returns the record for runID. Returns ErrNotFound if absent.
	Get(ctx context.Context, runID string) (Record, error)

	// List returns records newest first. An empty mission matches every
	// mission; limit <= 0 means no limit.
	List(ctx context.Context, mission string, limit int) ([]Record, error)

	// Delete removes a record. Returns nil if it does not exist.
	Delete(ctx context.Context, runID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Record describes one finished run.
type Record struct {
	RunID    string    `json:"run_id"`
	Mission  string    `json:"mission"`
	Result   string    `json:"result"`
	Ticks    int       `json:"ticks"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	// Error is the last error recorded during the run, if any.
	Error      string                   `json:"error,omitempty"`
	Blackboard map[string]expr.Constant `json:"blackboard,omitempty"`
}

// Duration returns how long the run took.
func (r Record) Duration() time.Duration { return r.Finished.Sub(r.Started) }

// Sentinel errors for history operations.
var (
	// ErrNotFound indicates no record exists for the run id.
	ErrNotFound = errors.New("run record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("history store closed")

	// ErrEmptyRunID indicates a record without a run id.
	ErrEmptyRunID = errors.New("run id is required")
)
