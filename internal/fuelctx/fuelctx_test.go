package fuelctx

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_UsesFuelCWD(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FUEL_CWD", dir)
	t.Setenv("FUEL_CONFIG", "")

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, dir, c.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, ".fuel", "config.yaml"), c.ConfigPath)
	assert.Equal(t, filepath.Join(dir, ".fuel", "agent.db"), c.DBPath())
}

func TestEnsureLayout_CreatesDirs(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("FUEL_CWD", dir)
	t.Setenv("FUEL_CONFIG", "")

	c, err := New()
	require.NoError(t, err)
	require.NoError(t, c.EnsureLayout())

	for _, d := range []string{c.PlansDir(), c.MirrorsDir(), c.RunsDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestAtomicWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.txt")
	require.NoError(t, AtomicWriteFile(path, []byte("hello"), 0o644))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}
