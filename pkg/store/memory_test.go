package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remedy-copilot/pkg/types"
)

func sampleEvent(key string) *types.PipelineEvent {
	return &types.PipelineEvent{
		IdempotencyKey: key,
		Provider:       types.ProviderGitHub,
		Repo:           "acme/app",
		PipelineID:     "42",
		JobID:          "7",
		Attempt:        1,
		CommitSHA:      "abc123",
		Branch:         "main",
		FailureType:    types.FailureTypeTest,
	}
}

func TestEventInsertIsIdempotent(t *testing.T) {
	s := NewMemoryEventStore()
	ctx := context.Background()

	first, created, err := s.Insert(ctx, sampleEvent("github:acme/app:42:7:1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, types.EventStatusPending, first.Status)

	second, created, err := s.Insert(ctx, sampleEvent("github:acme/app:42:7:1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestEventUpdateStatus(t *testing.T) {
	s := NewMemoryEventStore()
	ctx := context.Background()

	ev, _, err := s.Insert(ctx, sampleEvent("k1"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, ev.ID, types.EventStatusDispatched, ""))
	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusDispatched, got.Status)

	assert.ErrorIs(t, s.UpdateStatus(ctx, "missing", types.EventStatusFailed, "x"), ErrNotFound)
}

func TestEventUpdateStatusNeverRegresses(t *testing.T) {
	s := NewMemoryEventStore()
	ctx := context.Background()

	ev, _, err := s.Insert(ctx, sampleEvent("k2"))
	require.NoError(t, err)

	require.NoError(t, s.UpdateStatus(ctx, ev.ID, types.EventStatusProcessing, ""))
	// a late dispatch mark must not move the status backwards
	require.NoError(t, s.UpdateStatus(ctx, ev.ID, types.EventStatusDispatched, ""))

	got, err := s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusProcessing, got.Status)

	require.NoError(t, s.UpdateStatus(ctx, ev.ID, types.EventStatusCompleted, ""))
	got, err = s.Get(ctx, ev.ID)
	require.NoError(t, err)
	assert.Equal(t, types.EventStatusCompleted, got.Status)
}

func TestRunGetOrCreateReturnsExisting(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	first, err := s.GetOrCreate(ctx, "key-1", "evt-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunPending, first.Status)

	first.Status = types.RunPlanReady
	require.NoError(t, s.Update(ctx, first))

	again, err := s.GetOrCreate(ctx, "key-1", "evt-other")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "evt-1", again.EventID)
	assert.Equal(t, types.RunPlanReady, again.Status)
}

func TestRunUpdatePersistsArtifactsAndTimeline(t *testing.T) {
	s := NewMemoryRunStore()
	ctx := context.Background()

	run, err := s.GetOrCreate(ctx, "key-2", "evt-2")
	require.NoError(t, err)

	run.SetArtifact(types.ArtifactPlan, []byte(`{"category":"x"}`))
	run.Timeline = append(run.Timeline, types.TimelineEntry{Stage: "plan", Status: "done"})
	require.NoError(t, s.Update(ctx, run))

	got, err := s.Get(ctx, "key-2")
	require.NoError(t, err)
	assert.JSONEq(t, `{"category":"x"}`, string(got.Artifact(types.ArtifactPlan)))
	require.Len(t, got.Timeline, 1)

	// mutating the returned copy does not leak into the store
	got.Timeline[0].Stage = "mutated"
	fresh, err := s.Get(ctx, "key-2")
	require.NoError(t, err)
	assert.Equal(t, "plan", fresh.Timeline[0].Stage)
}
