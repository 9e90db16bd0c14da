// Package completion implements the Completion Handler: the single place an
// AgentTask's outcome is turned into health bookkeeping, retry accounting,
// lifecycle hooks, and a released task claim.
package completion

import (
	"context"
	"time"

	"github.com/joshjon/kit/log"

	"fuel/internal/agenttask"
	"fuel/internal/broker"
	"fuel/internal/config"
	"fuel/internal/health"
	"fuel/internal/task"
)

// TaskCompleted is broadcast once an AgentTask's lifecycle hooks have run,
// regardless of outcome.
type TaskCompleted struct {
	TaskShortID string
	RunID       int64
	ProcessType string
	Success     bool
	FailureKind string
}

// HealthChange is broadcast whenever an agent's derived health status
// crosses a boundary (e.g. healthy -> warning).
type HealthChange struct {
	Agent  string
	Before health.Status
	After  health.Status
}

// Handler is the single consumer of a Supervisor process's
// agenttask.CompletionResult: it records the outcome against agent health,
// applies the work-retry circuit breaker, runs the AgentTask's own
// OnSuccess/OnFailure hooks, and clears the task's consumed bookkeeping.
type Handler struct {
	tasks    *task.Store
	health   *health.Tracker
	cfgStore *config.Store

	completed *broker.Broker[TaskCompleted]
	healthCh  *broker.Broker[HealthChange]

	logger log.Logger
}

// New creates a Handler.
func New(
	tasks *task.Store,
	healthTracker *health.Tracker,
	cfgStore *config.Store,
	completed *broker.Broker[TaskCompleted],
	healthCh *broker.Broker[HealthChange],
	logger log.Logger,
) *Handler {
	return &Handler{
		tasks:     tasks,
		health:    healthTracker,
		cfgStore:  cfgStore,
		completed: completed,
		healthCh:  healthCh,
		logger:    logger.With("component", "completion_handler"),
	}
}

// Handle runs at's completion. It is safe to call from any goroutine; the
// Spawner calls it once per spawned process, right after Process.Wait
// returns.
func (h *Handler) Handle(ctx context.Context, at agenttask.AgentTask, result agenttask.CompletionResult) {
	agentName, _ := at.GetAgentName(h.cfgStore.Get())
	h.recordHealth(agentName, result)

	if err := at.OnComplete(ctx, result); err != nil {
		h.logger.Info("on complete hook failed", "task", at.TaskShortID(), "err", err.Error())
	}

	if result.Success {
		if err := at.OnSuccess(ctx, result); err != nil {
			h.logger.Info("on success hook failed", "task", at.TaskShortID(), "err", err.Error())
		}
	} else {
		h.recordRetry(ctx, at, result)
		if err := at.OnFailure(ctx, result); err != nil {
			h.logger.Info("on failure hook failed", "task", at.TaskShortID(), "err", err.Error())
		}
	}

	if ref := claimedRef(at); ref != "" {
		if err := h.tasks.Release(ctx, ref); err != nil {
			h.logger.Info("release failed", "task", ref, "err", err.Error())
		}
	}

	h.completed.Publish(TaskCompleted{
		TaskShortID: at.TaskShortID(),
		RunID:       result.RunID,
		ProcessType: string(at.ProcessType()),
		Success:     result.Success,
		FailureKind: result.FailureKind,
	})
}

func (h *Handler) recordHealth(agentName string, result agenttask.CompletionResult) {
	if agentName == "" {
		return
	}
	now := time.Now()
	var rr health.RecordResult
	if result.Success {
		rr = h.health.RecordSuccess(agentName, now)
	} else {
		rr = h.health.RecordFailure(agentName, failureClass(result.FailureKind), now)
	}
	if rr.Before != rr.After {
		h.healthCh.Publish(HealthChange{Agent: agentName, Before: rr.Before, After: rr.After})
	}
}

// recordRetry applies the Work-variant retry ceiling: transient failures
// increment a per-task counter and reopen the task; once the counter reaches
// cfg.MaxRetries (or two consecutive failures share a category), the task is
// labeled needs-human instead. A permission failure also gets a
// "NEEDS HUMAN:" task, labeled needs-human, added as a blocker of the failed
// task. Other variants own their own failure bookkeeping in OnFailure.
func (h *Handler) recordRetry(ctx context.Context, at agenttask.AgentTask, result agenttask.CompletionResult) {
	w, ok := at.(*agenttask.Work)
	if !ok {
		return
	}
	category := result.FailureKind
	if category == "" {
		category = "crash"
	}
	cfg := h.cfgStore.Get()
	t, err := h.tasks.RecordFailure(ctx, w.Task.Short, category, cfg.MaxRetries)
	if err != nil {
		h.logger.Info("record failure failed", "task", w.Task.Short, "err", err.Error())
		return
	}
	if category == "permission" {
		human := task.New("NEEDS HUMAN: "+t.Title, "agent permission failure", task.TypeTask, t.Priority, t.Complexity)
		human.Labels = append(human.Labels, task.LabelNeedsHuman)
		if err := h.tasks.Create(ctx, human); err != nil {
			h.logger.Info("needs-human task create failed", "task", t.Short, "err", err.Error())
			return
		}
		if err := h.tasks.AddDependency(ctx, t.Short, human.Short); err != nil {
			h.logger.Info("needs-human dependency add failed", "task", t.Short, "err", err.Error())
		}
	}
}

func failureClass(kind string) health.FailureClass {
	switch kind {
	case "network":
		return health.ClassNetwork
	case "timeout":
		return health.ClassTimeout
	case "permission":
		return health.ClassPermission
	default:
		return health.ClassCrash
	}
}

// claimedRef returns the task short id whose consumed bookkeeping should be
// released, or "" for variants with no claimable task row of their own
// (Review runs against the original task, which never leaves its own review
// status for the duration of the attempt).
func claimedRef(at agenttask.AgentTask) string {
	switch v := at.(type) {
	case *agenttask.Work:
		return v.Task.Short
	case *agenttask.MergeEpic:
		return v.Task.Short
	case *agenttask.UpdateReality:
		return v.Task.Short
	case *agenttask.SelfGuided:
		return v.Task.Short
	default:
		return ""
	}
}
