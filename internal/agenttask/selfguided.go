package agenttask

import (
	"context"
	"fmt"

	"fuel/internal/config"
	"fuel/internal/epic"
	"fuel/internal/task"
)

// selfGuidedStuckLimit is the number of consecutive failed iterations a
// self-guided task tolerates before a needs-human blocker is created.
const selfGuidedStuckLimit = 3

// selfGuidedMaxIterations bounds how many iterations a self-guided task may
// run before a needs-human blocker replaces further auto-iteration.
const selfGuidedMaxIterations = 50

// SelfGuided drives a task belonging to a self_guided epic through repeated
// agent iterations without a fixed prompt, letting the agent decide what to
// do next each pass until it reports the task complete.
type SelfGuided struct {
	noopComplete

	Task *task.Task
	Epic *epic.Epic

	TaskStore *task.Store
}

// NewSelfGuided binds a self-guided iteration to its task and epic.
func NewSelfGuided(t *task.Task, e *epic.Epic, store *task.Store) *SelfGuided {
	return &SelfGuided{Task: t, Epic: e, TaskStore: store}
}

func (g *SelfGuided) TaskShortID() string      { return g.Task.Short }
func (g *SelfGuided) ProcessType() ProcessType { return ProcessGuided }

func (g *SelfGuided) GetAgentName(cfg config.Config) (string, bool) {
	name := cfg.Complexity.AgentFor(string(g.Task.Complexity))
	if name == "" {
		name = cfg.Primary
	}
	if name == "" {
		return "", false
	}
	return name, true
}

func (g *SelfGuided) BuildPrompt(_ context.Context, _ string) (string, error) {
	return fmt.Sprintf(
		"Epic: %s\n%s\n\nTask: %s\n%s\n\nThis is iteration %d of %d. Decide the next concrete step "+
			"toward completing the task and take it. Call done yourself once the task is fully complete.",
		g.Epic.Title, g.Epic.Description, g.Task.Title, g.Task.Description,
		g.Task.SelfGuidedIteration+1, selfGuidedMaxIterations,
	), nil
}

// OnSuccess increments the iteration counter and resets the stuck counter on
// every clean exit. A self-guided agent reports completion by calling done
// on itself mid-run, not by exiting zero — a zero exit only means the
// iteration ran without crashing. If the task is still in_progress, this
// reopens it for another iteration, unless the iteration cap is reached, in
// which case a needs-human blocker replaces further auto-iteration.
func (g *SelfGuided) OnSuccess(ctx context.Context, result CompletionResult) error {
	t, err := g.TaskStore.Find(ctx, g.Task.Short)
	if err != nil {
		return err
	}
	t.SelfGuidedIteration++
	t.SelfGuidedStuckCount = 0
	if err := g.TaskStore.Update(ctx, t); err != nil {
		return err
	}
	if t.Status != task.StatusInProgress {
		return nil
	}
	if t.SelfGuidedIteration >= selfGuidedMaxIterations {
		human := task.New("NEEDS HUMAN: "+t.Title, "Self-guided task hit its iteration cap without calling done.", task.TypeTask, t.Priority, t.Complexity)
		human.Labels = append(human.Labels, task.LabelNeedsHuman)
		if err := g.TaskStore.Create(ctx, human); err != nil {
			return err
		}
		return g.TaskStore.AddDependency(ctx, t.Short, human.Short)
	}
	return g.TaskStore.Reopen(ctx, g.Task.Short)
}

// OnFailure increments the iteration and stuck counters. The first two
// failed iterations just reopen the task for another attempt; the third
// creates a needs-human blocker task and leaves the task excluded from the
// ready set until a human resolves it.
func (g *SelfGuided) OnFailure(ctx context.Context, _ CompletionResult) error {
	t, err := g.TaskStore.Find(ctx, g.Task.Short)
	if err != nil {
		return err
	}
	t.SelfGuidedIteration++
	t.SelfGuidedStuckCount++
	t.Status = task.StatusOpen

	if t.SelfGuidedStuckCount >= selfGuidedStuckLimit {
		human := task.New("NEEDS HUMAN: "+t.Title, "Self-guided task stalled after repeated failed iterations.", task.TypeTask, t.Priority, t.Complexity)
		human.Labels = append(human.Labels, task.LabelNeedsHuman)
		if err := g.TaskStore.Create(ctx, human); err != nil {
			return err
		}
		if err := g.TaskStore.Update(ctx, t); err != nil {
			return err
		}
		return g.TaskStore.AddDependency(ctx, t.Short, human.Short)
	}

	return g.TaskStore.Update(ctx, t)
}
