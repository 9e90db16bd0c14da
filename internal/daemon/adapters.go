package daemon

import (
	"context"

	"fuel/internal/epic"
	"fuel/internal/fuelctx"
	"fuel/internal/task"
)

// taskStatusReader adapts task.Store to epic.TaskStatusReader without epic
// importing task directly.
type taskStatusReader struct {
	tasks *task.Store
}

func (r *taskStatusReader) ListEpicTaskStatuses(ctx context.Context, epicShort string) ([]epic.TaskStatus, error) {
	all, err := r.tasks.All(ctx)
	if err != nil {
		return nil, err
	}
	var statuses []epic.TaskStatus
	for _, t := range all {
		if t.EpicID != epicShort {
			continue
		}
		statuses = append(statuses, mapTaskStatus(t.Status))
	}
	return statuses, nil
}

// mapTaskStatus narrows a task.Status to the epic package's minimal view.
// Review counts as still in progress; someday and paused tasks count as
// open since neither is done nor cancelled.
func mapTaskStatus(s task.Status) epic.TaskStatus {
	switch s {
	case task.StatusInProgress, task.StatusReview:
		return epic.TaskInProgress
	case task.StatusDone:
		return epic.TaskDone
	case task.StatusCancelled:
		return epic.TaskCancelled
	default:
		return epic.TaskOpen
	}
}

// planWriter adapts fuelctx's plans directory to epic.PlanWriter.
type planWriter struct {
	fuelCtx *fuelctx.Context
}

func (w *planWriter) WritePlan(_ context.Context, filename, title string) error {
	path := w.fuelCtx.PlanPath(filename)
	doc := "# " + title + "\n\nThis plan is self-guided: the epic's tasks are created and refined " +
		"by the self-guided agent as work proceeds rather than upfront.\n"
	return fuelctx.AtomicWriteFile(path, []byte(doc), 0o644)
}
