package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"

	"remedy-copilot/pkg/types"
)

// Schema creates the tables the Postgres stores expect.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
	id               TEXT PRIMARY KEY,
	idempotency_key  TEXT NOT NULL UNIQUE,
	provider         TEXT NOT NULL,
	repo             TEXT NOT NULL,
	payload          JSONB NOT NULL,
	status           TEXT NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_runs (
	run_key     TEXT PRIMARY KEY,
	id          TEXT NOT NULL,
	event_id    TEXT NOT NULL,
	payload     JSONB NOT NULL,
	status      TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
`

// PostgresEventStore stores events in pipeline_events. The normalized
// event is kept as a JSONB payload with the dedup key and status
// promoted to columns.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

var _ EventStore = (*PostgresEventStore)(nil)

func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// EnsureSchema applies the schema. Safe to call on every start.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresEventStore) Insert(ctx context.Context, event *types.PipelineEvent) (*types.PipelineEvent, bool, error) {
	stored := cloneEvent(event)
	if stored.ID == "" {
		stored.ID = ulid.Make().String()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = types.EventStatusPending
	}
	payload, err := json.Marshal(stored)
	if err != nil {
		return nil, false, fmt.Errorf("marshal event: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_events (id, idempotency_key, provider, repo, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (idempotency_key) DO NOTHING`,
		stored.ID, stored.IdempotencyKey, string(stored.Provider), stored.Repo, payload, string(stored.Status), now, now)
	if err != nil {
		return nil, false, fmt.Errorf("insert event: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return stored, true, nil
	}

	existing, err := s.getByKey(ctx, stored.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *PostgresEventStore) Get(ctx context.Context, id string) (*types.PipelineEvent, error) {
	return s.scanOne(ctx, `SELECT payload, status, error_message FROM pipeline_events WHERE id = $1`, id)
}

func (s *PostgresEventStore) getByKey(ctx context.Context, key string) (*types.PipelineEvent, error) {
	return s.scanOne(ctx, `SELECT payload, status, error_message FROM pipeline_events WHERE idempotency_key = $1`, key)
}

func (s *PostgresEventStore) scanOne(ctx context.Context, query, arg string) (*types.PipelineEvent, error) {
	var payload []byte
	var status, errorMessage string
	err := s.pool.QueryRow(ctx, query, arg).Scan(&payload, &status, &errorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query event: %w", err)
	}
	var event types.PipelineEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	event.Status = types.EventStatus(status)
	event.ErrorMessage = errorMessage
	return &event, nil
}

// UpdateStatus advances the event status. A write that would move the
// status backwards matches no row and is dropped: dispatch and worker
// updates race.
func (s *PostgresEventStore) UpdateStatus(ctx context.Context, id string, status types.EventStatus, errorMessage string) error {
	const query = `
		UPDATE pipeline_events SET status = $2, error_message = $3, updated_at = $4
		WHERE id = $1
		  AND CASE status WHEN 'dispatched' THEN 1 WHEN 'processing' THEN 2
		      WHEN 'completed' THEN 3 WHEN 'failed' THEN 3 ELSE 0 END
		   <= CASE $2::text WHEN 'dispatched' THEN 1 WHEN 'processing' THEN 2
		      WHEN 'completed' THEN 3 WHEN 'failed' THEN 3 ELSE 0 END`
	tag, err := s.pool.Exec(ctx, query, id, string(status), errorMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update event status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM pipeline_events WHERE id = $1`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("query event: %w", err)
		}
	}
	return nil
}

// PostgresRunStore stores run aggregates in pipeline_runs keyed on the
// run key.
type PostgresRunStore struct {
	pool *pgxpool.Pool
}

var _ RunStore = (*PostgresRunStore)(nil)

func NewPostgresRunStore(pool *pgxpool.Pool) *PostgresRunStore {
	return &PostgresRunStore{pool: pool}
}

func (s *PostgresRunStore) GetOrCreate(ctx context.Context, runKey, eventID string) (*types.FixPipelineRun, error) {
	now := time.Now().UTC()
	run := &types.FixPipelineRun{
		ID:        ulid.Make().String(),
		EventID:   eventID,
		RunKey:    runKey,
		Status:    types.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	payload, err := json.Marshal(run)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_runs (run_key, id, event_id, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_key) DO NOTHING`,
		runKey, run.ID, eventID, payload, string(run.Status), now, now)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return run, nil
	}
	return s.Get(ctx, runKey)
}

func (s *PostgresRunStore) Get(ctx context.Context, runKey string) (*types.FixPipelineRun, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `SELECT payload FROM pipeline_runs WHERE run_key = $1`, runKey).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	var run types.FixPipelineRun
	if err := json.Unmarshal(payload, &run); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &run, nil
}

func (s *PostgresRunStore) Update(ctx context.Context, run *types.FixPipelineRun) error {
	run.UpdatedAt = time.Now().UTC()
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pipeline_runs SET payload = $2, status = $3, updated_at = $4 WHERE run_key = $1`,
		run.RunKey, payload, string(run.Status), run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
