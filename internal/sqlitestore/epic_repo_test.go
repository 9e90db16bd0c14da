package sqlitestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fuel/internal/epic"
)

func TestEpicRepository_CreateAndRead(t *testing.T) {
	store := openTestStore(t)
	e := epic.New("migrate billing", "move off the legacy biller", false, true)

	require.NoError(t, store.Epics.Create(context.Background(), e))
	assert.NotZero(t, e.ID)
	assert.Equal(t, epic.MirrorPending, e.MirrorStatus)

	got, err := store.Epics.Read(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, e.Short, got.Short)
	assert.Equal(t, "migrate billing", got.Title)

	byShort, err := store.Epics.ReadByShort(context.Background(), e.Short)
	require.NoError(t, err)
	assert.Equal(t, e.ID, byShort.ID)
}

func TestEpicRepository_ReadMissing(t *testing.T) {
	store := openTestStore(t)
	_, err := store.Epics.Read(context.Background(), 999)
	assert.ErrorAs(t, err, &epic.ErrTagNotFound{})
}

func TestEpicRepository_UpdateMirrorLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	e := epic.New("self-guided refactor", "", true, true)
	require.NoError(t, store.Epics.Create(ctx, e))

	now := time.Now()
	e.MirrorStatus = epic.MirrorReady
	e.MirrorPath = "/tmp/mirrors/e-abcd"
	e.MirrorBranch = "fuel/e-abcd"
	e.MirrorBaseCommit = "deadbeef"
	e.MirrorCreatedAt = &now
	e.ApprovedBy = "alice"
	require.NoError(t, store.Epics.Update(ctx, e))

	got, err := store.Epics.Read(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, epic.MirrorReady, got.MirrorStatus)
	assert.Equal(t, "/tmp/mirrors/e-abcd", got.MirrorPath)
	assert.Equal(t, "fuel/e-abcd", got.MirrorBranch)
	assert.Equal(t, "alice", got.ApprovedBy)
	require.NotNil(t, got.MirrorCreatedAt)
}

func TestEpicRepository_ListAndDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	e1 := epic.New("epic one", "", false, false)
	e2 := epic.New("epic two", "", false, false)
	require.NoError(t, store.Epics.Create(ctx, e1))
	require.NoError(t, store.Epics.Create(ctx, e2))

	all, err := store.Epics.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Epics.Delete(ctx, e1.ID))
	all, err = store.Epics.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, e2.Short, all[0].Short)
}

func TestEpicRepository_FindByPrefix(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	e := epic.New("findable epic", "", false, false)
	require.NoError(t, store.Epics.Create(ctx, e))

	matches, err := store.Epics.FindByPrefix(ctx, e.Short[:len(epic.ShortIDPrefix)+1])
	require.NoError(t, err)
	assert.NotEmpty(t, matches)
}
