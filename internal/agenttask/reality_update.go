package agenttask

import (
	"context"

	"fuel/internal/config"
	"fuel/internal/fuelctx"
	"fuel/internal/reality"
	"fuel/internal/task"
)

// UpdateReality is a fire-and-forget variant that refreshes
// .fuel/reality.md. Its hooks only mark its own bookkeeping record; nothing
// else in the system blocks on it.
type UpdateReality struct {
	noopComplete

	Task *task.Task

	FuelCtx   *fuelctx.Context
	TaskStore *task.Store
}

// NewUpdateReality binds a reality-index refresh to its bookkeeping task.
func NewUpdateReality(t *task.Task, fc *fuelctx.Context, store *task.Store) *UpdateReality {
	return &UpdateReality{Task: t, FuelCtx: fc, TaskStore: store}
}

func (u *UpdateReality) TaskShortID() string      { return u.Task.Short }
func (u *UpdateReality) ProcessType() ProcessType { return ProcessReality }

func (u *UpdateReality) GetAgentName(cfg config.Config) (string, bool) {
	if cfg.Reality != "" {
		return cfg.Reality, true
	}
	if cfg.Primary != "" {
		return cfg.Primary, true
	}
	return "", false
}

func (u *UpdateReality) BuildPrompt(ctx context.Context, _ string) (string, error) {
	existing, err := reality.Read(u.FuelCtx)
	if err != nil {
		return "", err
	}
	return reality.UpdatePrompt(ctx, existing), nil
}

// OnSuccess persists the agent's rewritten document and marks the
// bookkeeping task done. The agent is expected to emit the full replacement
// document as its final output line.
func (u *UpdateReality) OnSuccess(ctx context.Context, result CompletionResult) error {
	if err := reality.Write(u.FuelCtx, result.Output); err != nil {
		return err
	}
	_, err := u.TaskStore.Done(ctx, u.Task.Short, "reality updated", "")
	return err
}

// OnFailure deletes the bookkeeping task rather than retrying; the next
// scheduled reality refresh will try again.
func (u *UpdateReality) OnFailure(ctx context.Context, _ CompletionResult) error {
	return u.TaskStore.Delete(ctx, u.Task.Short)
}
