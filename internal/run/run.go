// Package run implements the Run entity: the durable record of
// one supervised agent process execution, owned by the Process Supervisor.
package run

import (
	"context"
	"time"

	"github.com/joshjon/kit/errtag"
)

// Status is the lifecycle of a supervised process execution.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Run is one supervised process execution bound to a task.
type Run struct {
	ID    int64  `json:"-"`
	Short string `json:"id"`

	TaskID int64 `json:"-"`

	Agent           string     `json:"agent"`
	Status          Status     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	ErrorType       string     `json:"error_type,omitempty"`
	Model           string     `json:"model,omitempty"`
	OutputPath      string     `json:"output_path,omitempty"`
	CostUSD         float64    `json:"cost_usd,omitempty"`
	LastHeartbeatAt time.Time  `json:"last_heartbeat_at"`
}

// New creates a Run row in the running state.
func New(taskID int64, agent, model, outputPath string) *Run {
	now := time.Now()
	return &Run{
		TaskID:          taskID,
		Agent:           agent,
		Model:           model,
		Status:          StatusRunning,
		StartedAt:       now,
		LastHeartbeatAt: now,
		OutputPath:      outputPath,
	}
}

// ErrTagNotFound indicates a run id was not found.
type ErrTagNotFound struct{ errtag.NotFound }

func (ErrTagNotFound) Msg() string { return "run not found" }

func (e ErrTagNotFound) Unwrap() error {
	return errtag.Tag[errtag.NotFound](e.Cause())
}

// Repository is the interface for persisting runs.
type Repository interface {
	Create(ctx context.Context, r *Run) error
	Read(ctx context.Context, id int64) (*Run, error)
	ListByTask(ctx context.Context, taskID int64) ([]*Run, error)
	ListRunning(ctx context.Context) ([]*Run, error)
	Update(ctx context.Context, r *Run) error
	Heartbeat(ctx context.Context, id int64, at time.Time) error
	ListStale(ctx context.Context, before time.Time) ([]*Run, error)
}

// ShortIDPrefix is the entity-type prefix idgen uses for runs.
const ShortIDPrefix = "r-"
