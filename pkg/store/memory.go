package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"remedy-copilot/pkg/types"
)

// MemoryEventStore keeps events in a map guarded by a mutex.
type MemoryEventStore struct {
	mu    sync.Mutex
	byID  map[string]*types.PipelineEvent
	byKey map[string]string
}

var _ EventStore = (*MemoryEventStore)(nil)

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byID:  make(map[string]*types.PipelineEvent),
		byKey: make(map[string]string),
	}
}

func (s *MemoryEventStore) Insert(_ context.Context, event *types.PipelineEvent) (*types.PipelineEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[event.IdempotencyKey]; ok {
		return cloneEvent(s.byID[id]), false, nil
	}
	stored := cloneEvent(event)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = types.EventStatusPending
	}
	s.byID[stored.ID] = stored
	s.byKey[stored.IdempotencyKey] = stored.ID
	return cloneEvent(stored), true, nil
}

func (s *MemoryEventStore) Get(_ context.Context, id string) (*types.PipelineEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEvent(ev), nil
}

// UpdateStatus advances the event status. A write that would move the
// status backwards is dropped: dispatch and worker updates race.
func (s *MemoryEventStore) UpdateStatus(_ context.Context, id string, status types.EventStatus, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	if status.Rank() < ev.Status.Rank() {
		return nil
	}
	ev.Status = status
	ev.ErrorMessage = errorMessage
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

// MemoryRunStore keeps runs in a map guarded by a mutex. Run IDs are
// ULIDs so listings sort by creation time.
type MemoryRunStore struct {
	mu    sync.Mutex
	byKey map[string]*types.FixPipelineRun
}

var _ RunStore = (*MemoryRunStore)(nil)

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{byKey: make(map[string]*types.FixPipelineRun)}
}

func (s *MemoryRunStore) GetOrCreate(_ context.Context, runKey, eventID string) (*types.FixPipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run, ok := s.byKey[runKey]; ok {
		return cloneRun(run), nil
	}
	now := time.Now().UTC()
	run := &types.FixPipelineRun{
		ID:        ulid.Make().String(),
		EventID:   eventID,
		RunKey:    runKey,
		Status:    types.RunPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.byKey[runKey] = run
	return cloneRun(run), nil
}

func (s *MemoryRunStore) Get(_ context.Context, runKey string) (*types.FixPipelineRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.byKey[runKey]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

func (s *MemoryRunStore) Update(_ context.Context, run *types.FixPipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[run.RunKey]; !ok {
		return ErrNotFound
	}
	stored := cloneRun(run)
	stored.UpdatedAt = time.Now().UTC()
	s.byKey[run.RunKey] = stored
	run.UpdatedAt = stored.UpdatedAt
	return nil
}

func cloneEvent(ev *types.PipelineEvent) *types.PipelineEvent {
	out := *ev
	if ev.RawPayload != nil {
		data, _ := json.Marshal(ev.RawPayload)
		out.RawPayload = map[string]interface{}{}
		_ = json.Unmarshal(data, &out.RawPayload)
	}
	return &out
}

func cloneRun(run *types.FixPipelineRun) *types.FixPipelineRun {
	out := *run
	if run.Artifacts != nil {
		out.Artifacts = make(map[types.ArtifactKind][]byte, len(run.Artifacts))
		for k, v := range run.Artifacts {
			b := make([]byte, len(v))
			copy(b, v)
			out.Artifacts[k] = b
		}
	}
	out.Timeline = append([]types.TimelineEntry(nil), run.Timeline...)
	return &out
}
