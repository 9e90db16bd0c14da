package review

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict_PicksLastJSONLine(t *testing.T) {
	output := "some chatter\n{\"not\":\"a verdict\"}\n" +
		`{"passed":false,"issues":["E001"],"followUpTaskIds":["f-ab12"]}`
	v, err := ParseVerdict(output)
	require.NoError(t, err)
	assert.False(t, v.Passed)
	assert.Equal(t, []string{"E001"}, v.Issues)
	assert.Equal(t, []string{"f-ab12"}, v.FollowUpTaskIDs)
}

func TestParseVerdict_NoJSONReturnsError(t *testing.T) {
	_, err := ParseVerdict("nothing but plain text output")
	require.Error(t, err)
}

func TestReview_Passed(t *testing.T) {
	r := &Review{Status: StatusCompleted}
	assert.True(t, r.Passed())

	r.Issues = []string{"E001"}
	assert.False(t, r.Passed())

	r.Status = StatusPending
	r.Issues = nil
	assert.False(t, r.Passed())
}

func TestTaskShortID_Namespaced(t *testing.T) {
	assert.Equal(t, "review-f-ab12", TaskShortID("f-ab12"))
}

func TestBuildPrompt_Substitutes(t *testing.T) {
	dir := t.TempDir()
	run := func(args ...string) {
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	run("init", "-q")
	run("config", "user.email", "t@example.com")
	run("config", "user.name", "t")
	require.NoError(t, os.WriteFile(dir+"/a.txt", []byte("hi"), 0o644))
	run("add", "-A")
	run("commit", "-q", "-m", "init")
	require.NoError(t, os.WriteFile(dir+"/a.txt", []byte("hi again"), 0o644))

	tmpl := "Task: {{task_id}}\nDiff:\n{{diff}}\nStatus:\n{{status}}"
	prompt, err := BuildPrompt(context.Background(), dir, "f-ab12", tmpl)
	require.NoError(t, err)
	assert.Contains(t, prompt, "Task: f-ab12")
	assert.Contains(t, prompt, "a.txt")
}
