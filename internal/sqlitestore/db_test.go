package sqlitestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_WiresAllRepositories(t *testing.T) {
	store, closer, err := Open(context.Background(), "")
	require.NoError(t, err)
	defer closer()

	assert.NotNil(t, store.Tasks)
	assert.NotNil(t, store.Epics)
	assert.NotNil(t, store.Runs)
	assert.NotNil(t, store.Reviews)

	tasks, err := store.Tasks.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
}
