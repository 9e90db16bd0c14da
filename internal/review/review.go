// Package review implements the Review Service: review prompt construction
// from git diff/status, and parsing of the reviewer's structured verdict.
package review

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/joshjon/kit/errtag"
)

// Status is the lifecycle of a review attempt.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Review is one review attempt of a task.
type Review struct {
	ID    int64  `json:"-"`
	Short string `json:"id"`

	TaskID int64 `json:"-"`
	RunID  int64 `json:"-"`

	Agent       string     `json:"agent"`
	Status      Status     `json:"status"`
	Issues      []string   `json:"issues"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// New creates a pending Review.
func New(taskID, runID int64, agent string) *Review {
	return &Review{TaskID: taskID, RunID: runID, Agent: agent, Status: StatusPending, StartedAt: time.Now()}
}

// Passed reports whether the review found no issues.
func (r *Review) Passed() bool { return r.Status == StatusCompleted && len(r.Issues) == 0 }

// ErrTagNotFound indicates a review id was not found.
type ErrTagNotFound struct{ errtag.NotFound }

func (ErrTagNotFound) Msg() string { return "review not found" }

func (e ErrTagNotFound) Unwrap() error {
	return errtag.Tag[errtag.NotFound](e.Cause())
}

// Repository persists reviews.
type Repository interface {
	Create(ctx context.Context, r *Review) error
	Read(ctx context.Context, id int64) (*Review, error)
	ReadLatestForTask(ctx context.Context, taskID int64) (*Review, error)
	Update(ctx context.Context, r *Review) error
}

// ShortIDPrefix is the entity-type prefix idgen uses for reviews.
const ShortIDPrefix = "v-"

// Verdict is the structured JSON a reviewer agent emits on its stream,
// parsed out of stdout by the Review AgentTask:
// {passed:bool, issues:[code], followUpTaskIds:[id]}.
type Verdict struct {
	Passed          bool     `json:"passed"`
	Issues          []string `json:"issues"`
	FollowUpTaskIDs []string `json:"followUpTaskIds"`
}

// ParseVerdict extracts the last valid Verdict JSON object found across the
// lines of a reviewer's captured output. Reviewer agents may emit other
// stream-JSON chatter before the final verdict line.
func ParseVerdict(output string) (*Verdict, error) {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") || !strings.HasSuffix(line, "}") {
			continue
		}
		var v Verdict
		if err := json.Unmarshal([]byte(line), &v); err == nil {
			return &v, nil
		}
	}
	return nil, fmt.Errorf("no review verdict found in output")
}

// BuildPrompt assembles a review prompt from a template, the task's short
// id, and the working directory's git diff/status.
func BuildPrompt(ctx context.Context, cwd, taskShortID, template string) (string, error) {
	diff, err := gitOutput(ctx, cwd, "diff", "HEAD")
	if err != nil {
		return "", fmt.Errorf("git diff: %w", err)
	}
	status, err := gitOutput(ctx, cwd, "status", "--short")
	if err != nil {
		return "", fmt.Errorf("git status: %w", err)
	}
	prompt := template
	prompt = strings.ReplaceAll(prompt, "{{task_id}}", taskShortID)
	prompt = strings.ReplaceAll(prompt, "{{diff}}", diff)
	prompt = strings.ReplaceAll(prompt, "{{status}}", status)
	return prompt, nil
}

func gitOutput(ctx context.Context, cwd string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// TaskShortID returns the namespaced review task id for an original task's
// short id.
func TaskShortID(originalShortID string) string {
	return "review-" + originalShortID
}
