// Package store persists pipeline events and runs. Two implementations
// exist: an in-memory store for tests and single-node deployments, and
// a Postgres store over pgx for production.
package store

import (
	"context"
	"errors"

	"remedy-copilot/pkg/types"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// EventStore persists normalized pipeline events with idempotent
// insertion keyed on the idempotency key.
type EventStore interface {
	// Insert stores the event unless one with the same idempotency key
	// exists. It returns the stored event and whether this call created
	// it; a duplicate returns the existing row and created=false.
	Insert(ctx context.Context, event *types.PipelineEvent) (*types.PipelineEvent, bool, error)
	Get(ctx context.Context, id string) (*types.PipelineEvent, error)
	UpdateStatus(ctx context.Context, id string, status types.EventStatus, errorMessage string) error
}

// RunStore persists pipeline run aggregates keyed on the run key.
type RunStore interface {
	// GetOrCreate returns the run for the key, creating a pending run
	// bound to the event when none exists.
	GetOrCreate(ctx context.Context, runKey, eventID string) (*types.FixPipelineRun, error)
	Get(ctx context.Context, runKey string) (*types.FixPipelineRun, error)
	Update(ctx context.Context, run *types.FixPipelineRun) error
}
