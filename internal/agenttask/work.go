package agenttask

import (
	"context"
	"fmt"

	"fuel/internal/config"
	"fuel/internal/task"
)

// Work is the default AgentTask variant: write code against a task's
// description, routed to an agent by complexity.
type Work struct {
	noopComplete

	Task *task.Task

	Store *task.Store
	cfg   config.Config
}

// NewWork binds t to the Work variant.
func NewWork(t *task.Task, store *task.Store) *Work {
	return &Work{Task: t, Store: store}
}

func (w *Work) TaskShortID() string     { return w.Task.Short }
func (w *Work) ProcessType() ProcessType { return ProcessWork }

func (w *Work) GetAgentName(cfg config.Config) (string, bool) {
	name := cfg.Complexity.AgentFor(string(w.Task.Complexity))
	if name == "" {
		name = cfg.Primary
	}
	if name == "" {
		return "", false
	}
	return name, true
}

func (w *Work) BuildPrompt(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf("Title: %s\n\n%s", w.Task.Title, w.Task.Description), nil
}

// OnSuccess transitions the task to review (if review-enabled and
// configured) or marks it done with the auto-closed label.
func (w *Work) OnSuccess(ctx context.Context, result CompletionResult) error {
	cfg := w.cfg
	if cfg.TaskReview && cfg.Review != "" {
		return w.Store.RecordReview(ctx, w.Task.Short)
	}
	t, err := w.Store.Find(ctx, w.Task.Short)
	if err != nil {
		return err
	}
	if !t.HasLabel(task.LabelAutoClosed) {
		t.Labels = append(t.Labels, task.LabelAutoClosed)
		if err := w.Store.Update(ctx, t); err != nil {
			return err
		}
	}
	_, err = w.Store.Done(ctx, w.Task.Short, "", result.SessionID)
	return err
}

// OnFailure is a no-op: retry accounting and reopening on transient
// failure is owned by the Completion Handler, which calls
// task.Store.RecordFailure directly so the circuit-breaker state lives in
// one place regardless of which AgentTask variant failed.
func (w *Work) OnFailure(context.Context, CompletionResult) error { return nil }

// WithConfig attaches the active config snapshot the hooks need to decide
// whether review is enabled.
func (w *Work) WithConfig(cfg config.Config) *Work {
	w.cfg = cfg
	return w
}
