package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
primary: sonnet
complexity:
  trivial: haiku
  simple: sonnet
  moderate: sonnet
  complex: opus
review: sonnet
agents:
  sonnet:
    driver: claude
    model: claude-sonnet-4
    maxConcurrent: 2
  haiku:
    driver: claude
    model: claude-haiku
    maxConcurrent: 4
  opus:
    driver: claude
    model: claude-opus-4
    maxConcurrent: 1
epic_mirrors: true
max_retries: 5
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsAndOverrides(t *testing.T) {
	cfg, err := Load(writeTemp(t, validYAML))
	require.NoError(t, err)
	assert.Equal(t, "sonnet", cfg.Primary)
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, 10, cfg.ShutdownGraceSeconds)
	assert.True(t, cfg.EpicMirrors)
	assert.Equal(t, "opus", cfg.Complexity.AgentFor("complex"))
}

func TestLoad_MissingPrimaryAgentFails(t *testing.T) {
	_, err := Load(writeTemp(t, "primary: sonnet\nagents: {}\n"))
	require.Error(t, err)
}

func TestStore_ReloadKeepsPreviousOnInvalidFile(t *testing.T) {
	path := writeTemp(t, validYAML)
	s, err := NewStore(path)
	require.NoError(t, err)
	before := s.Get()

	require.NoError(t, os.WriteFile(path, []byte("primary: sonnet\nagents: {}\n"), 0o644))
	err = s.Reload()
	require.Error(t, err)

	assert.Equal(t, before, s.Get())
}

func TestStore_ReloadSwapsOnValidFile(t *testing.T) {
	path := writeTemp(t, validYAML)
	s, err := NewStore(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(strings.Replace(validYAML, "max_retries: 5", "max_retries: 9", 1)), 0o644))
	require.NoError(t, s.Reload())
	assert.Equal(t, 9, s.Get().MaxRetries)
}
