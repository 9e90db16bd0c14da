package agenttask

import (
	"context"
	"fmt"

	"fuel/internal/config"
	"fuel/internal/epic"
	"fuel/internal/reality"
	"fuel/internal/task"
)

// MergeEpic merges an epic's mirror branch back into the parent project
// once the epic has been approved.
type MergeEpic struct {
	noopComplete

	Task    *task.Task
	Epic    *epic.Epic
	Gates   []reality.Gate
	BaseRef string

	TaskStore *task.Store
	EpicStore *epic.Store
}

// NewMergeEpic binds a merge task to its epic and the quality gates the
// merge must pass before finishing.
func NewMergeEpic(t *task.Task, e *epic.Epic, gates []reality.Gate, taskStore *task.Store, epicStore *epic.Store) *MergeEpic {
	return &MergeEpic{Task: t, Epic: e, Gates: gates, TaskStore: taskStore, EpicStore: epicStore}
}

func (m *MergeEpic) TaskShortID() string      { return m.Task.Short }
func (m *MergeEpic) ProcessType() ProcessType { return ProcessMerge }

func (m *MergeEpic) GetAgentName(cfg config.Config) (string, bool) {
	if cfg.Primary == "" {
		return "", false
	}
	return cfg.Primary, true
}

func (m *MergeEpic) BuildPrompt(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf(
		"Merge the mirror branch %s for epic %s (base commit %s) into the base branch, "+
			"resolving any conflicts. Epic: %s\n\n"+
			"Run the following quality gates before finishing and fix anything that fails:\n%s",
		m.Epic.MirrorBranch, m.Epic.Short, m.Epic.MirrorBaseCommit, m.Epic.Title,
		reality.FormatGatesPrompt(m.Gates),
	), nil
}

// OnSuccess marks the epic's mirror merged and the merge task done. The
// Mirror Manager observes the merged status, removes the mirror directory,
// and transitions it to cleaned.
func (m *MergeEpic) OnSuccess(ctx context.Context, result CompletionResult) error {
	if err := m.EpicStore.SetMirrorStatus(ctx, m.Epic.Short, epic.MirrorMerged); err != nil {
		return err
	}
	_, err := m.TaskStore.Done(ctx, m.Task.Short, "merged", result.SessionID)
	return err
}

// OnFailure marks the mirror merge_failed, pauses the epic for human
// attention, and deletes the merge task rather than retrying it
// automatically.
func (m *MergeEpic) OnFailure(ctx context.Context, _ CompletionResult) error {
	if err := m.EpicStore.SetMirrorStatus(ctx, m.Epic.Short, epic.MirrorMergeFailed); err != nil {
		return err
	}
	if err := m.EpicStore.Pause(ctx, m.Epic.Short); err != nil {
		return err
	}
	return m.TaskStore.Delete(ctx, m.Task.Short)
}
