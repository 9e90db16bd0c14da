package daemon

import (
	"context"
	"os"
	"testing"

	"github.com/joshjon/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel/internal/config"
	"fuel/internal/epic"
	"fuel/internal/fuelctx"
	"fuel/internal/reality"
	"fuel/internal/task"
)

func testLogger() log.Logger {
	return log.NewLogger(log.WithDevelopment())
}

func newTestFuelCtx(t *testing.T) *fuelctx.Context {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("FUEL_CWD", dir)
	fuelCtx, err := fuelctx.New()
	require.NoError(t, err)
	require.NoError(t, fuelCtx.EnsureLayout())
	return fuelCtx
}

const testConfigYAML = `
primary: claude
agents:
  claude:
    driver: claude
    model: claude-3-opus
    maxConcurrent: 2
`

func newTestConfigStore(t *testing.T, fuelCtx *fuelctx.Context) *config.Store {
	t.Helper()
	require.NoError(t, os.WriteFile(fuelCtx.ConfigPath, []byte(testConfigYAML), 0o644))
	cfgStore, err := config.NewStore(fuelCtx.ConfigPath)
	require.NoError(t, err)
	return cfgStore
}

func TestEnsureRealityDoc_CreatesWhenMissing(t *testing.T) {
	fuelCtx := newTestFuelCtx(t)

	require.NoError(t, ensureRealityDoc(fuelCtx))

	got, err := reality.Read(fuelCtx)
	require.NoError(t, err)
	assert.Equal(t, reality.DefaultDocument(fuelCtx.ProjectName()), got)
}

func TestEnsureRealityDoc_NoopWhenPresent(t *testing.T) {
	fuelCtx := newTestFuelCtx(t)

	require.NoError(t, reality.Write(fuelCtx, "# custom reality doc\n"))
	require.NoError(t, ensureRealityDoc(fuelCtx))

	got, err := reality.Read(fuelCtx)
	require.NoError(t, err)
	assert.Equal(t, "# custom reality doc\n", got)
}

func TestMapTaskStatus(t *testing.T) {
	cases := []struct {
		in   task.Status
		want epic.TaskStatus
	}{
		{task.StatusOpen, epic.TaskOpen},
		{task.StatusSomeday, epic.TaskOpen},
		{task.StatusPaused, epic.TaskOpen},
		{task.StatusInProgress, epic.TaskInProgress},
		{task.StatusReview, epic.TaskInProgress},
		{task.StatusDone, epic.TaskDone},
		{task.StatusCancelled, epic.TaskCancelled},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, mapTaskStatus(c.in), "status %v", c.in)
	}
}

func TestNew_WiresComponentGraphAgainstInMemoryStore(t *testing.T) {
	t.Setenv("FUEL_SQLITE_IN_MEMORY", "true")
	fuelCtx := newTestFuelCtx(t)
	cfgStore := newTestConfigStore(t, fuelCtx)

	d, closer, err := New(context.Background(), fuelCtx, cfgStore, testLogger())
	require.NoError(t, err)
	require.NotNil(t, closer)
	defer closer()

	assert.NotNil(t, d.tasks)
	assert.NotNil(t, d.epics)
	assert.NotNil(t, d.runs)
	assert.NotNil(t, d.health)
	assert.NotNil(t, d.sup)
	assert.NotNil(t, d.spawn)
	assert.NotNil(t, d.handler)
	assert.NotNil(t, d.mirrors)
	assert.NotNil(t, d.snap)
	assert.NotNil(t, d.ipc)
	assert.NotNil(t, d.metrics)
	assert.NotEmpty(t, d.instanceID)

	tasks, err := d.tasks.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)

	_, err = os.Stat(fuelCtx.RealityPath())
	assert.NoError(t, err)
}
