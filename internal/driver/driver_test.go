package driver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_BuiltinsResolve(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"claude", "cursor-agent", "opencode", "amp", "codex"} {
		_, ok := r.Get(name)
		assert.True(t, ok, "expected builtin driver %q", name)
	}
}

func TestDriver_Argv_PromptArgsPlacement(t *testing.T) {
	d, ok := NewRegistry().Get("cursor-agent")
	require.True(t, ok)
	argv := d.Argv("sonnet", "do the thing")
	assert.Equal(t, []string{"--output-format", "stream-json", "--model", "sonnet", "-p", "do the thing"}, argv)
}

func TestDriver_Argv_PositionalPrompt(t *testing.T) {
	d, ok := NewRegistry().Get("codex")
	require.True(t, ok)
	argv := d.Argv("o3", "do the thing")
	assert.Equal(t, []string{"exec", "--json", "--model", "o3", "do the thing"}, argv)
}

func TestDriver_ResumeArgs_UnsupportedFails(t *testing.T) {
	d, ok := NewRegistry().Get("opencode")
	require.True(t, ok)
	_, err := d.ResumeArgs("sess-1")
	require.Error(t, err)
}

func TestDriver_ClassifyFailure(t *testing.T) {
	d, ok := NewRegistry().Get("claude")
	require.True(t, ok)
	assert.Equal(t, "permission", d.ClassifyFailure(1, "Error: Permission denied for write"))
	assert.Equal(t, "network", d.ClassifyFailure(1, "request timed out after 30s"))
	assert.Equal(t, "", d.ClassifyFailure(1, "panic: nil pointer"))
}

func TestDriver_ClassifyFailure_ExitCodeSignature(t *testing.T) {
	d, ok := NewRegistry().Get("codex")
	require.True(t, ok)
	assert.Equal(t, "permission", d.ClassifyFailure(77, ""))
}
