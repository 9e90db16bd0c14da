package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel/internal/run"
)

func createTestTaskForRun(t *testing.T, store *Store) int64 {
	t.Helper()
	tk := newTestTask("task backing a run")
	require.NoError(t, store.Tasks.Create(context.Background(), tk))
	return tk.ID
}

func TestRunRepository_CreateAndRead(t *testing.T) {
	store := openTestStore(t)
	taskID := createTestTaskForRun(t, store)

	r := run.New(taskID, "claude", "claude-3-opus", "/tmp/out.jsonl")
	require.NoError(t, store.Runs.Create(context.Background(), r))
	assert.NotZero(t, r.ID)
	assert.NotEmpty(t, r.Short)

	got, err := store.Runs.Read(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusRunning, got.Status)
	assert.Equal(t, "claude", got.Agent)
	assert.Equal(t, taskID, got.TaskID)
}

func TestRunRepository_ReadMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Runs.Read(context.Background(), 999)
	assert.ErrorAs(t, err, &run.ErrTagNotFound{})
}

func TestRunRepository_UpdateCompletes(t *testing.T) {
	store := openTestStore(t)
	taskID := createTestTaskForRun(t, store)
	r := run.New(taskID, "claude", "claude-3-opus", "/tmp/out.jsonl")
	require.NoError(t, store.Runs.Create(context.Background(), r))

	ended := time.Now()
	exitCode := 0
	r.Status = run.StatusCompleted
	r.ExitCode = &exitCode
	r.EndedAt = &ended
	r.DurationSeconds = 12.5
	r.SessionID = "sess-1"
	r.CostUSD = 0.42
	require.NoError(t, store.Runs.Update(context.Background(), r))

	got, err := store.Runs.Read(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.StatusCompleted, got.Status)
	require.NotNil(t, got.ExitCode)
	assert.Equal(t, 0, *got.ExitCode)
	require.NotNil(t, got.EndedAt)
	assert.Equal(t, "sess-1", got.SessionID)
	assert.InDelta(t, 0.42, got.CostUSD, 0.0001)
}

func TestRunRepository_ListByTaskAndRunning(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	taskID := createTestTaskForRun(t, store)

	r1 := run.New(taskID, "claude", "claude-3-opus", "")
	require.NoError(t, store.Runs.Create(ctx, r1))
	r2 := run.New(taskID, "codex", "gpt-4", "")
	require.NoError(t, store.Runs.Create(ctx, r2))
	r2.Status = run.StatusFailed
	require.NoError(t, store.Runs.Update(ctx, r2))

	byTask, err := store.Runs.ListByTask(ctx, taskID)
	require.NoError(t, err)
	assert.Len(t, byTask, 2)

	running, err := store.Runs.ListRunning(ctx)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, r1.Short, running[0].Short)
}

func TestRunRepository_HeartbeatAndStale(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	taskID := createTestTaskForRun(t, store)
	r := run.New(taskID, "claude", "claude-3-opus", "")
	require.NoError(t, store.Runs.Create(ctx, r))

	require.NoError(t, store.Runs.Heartbeat(ctx, r.ID, time.Now()))

	stale, err := store.Runs.ListStale(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)

	stale, err = store.Runs.ListStale(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, r.Short, stale[0].Short)
}
