package task

import (
	"context"
	"time"

	"github.com/joshjon/kit/tx"
)

// Repository is the interface for performing CRUD and state-transition
// operations on tasks. Implementations own database-specific concerns
// (error mapping, marshalling) and return domain types.
type Repository interface {
	TaskRepository
	tx.Repository[Repository]
}

// TaskRepository defines the data access methods for tasks.
type TaskRepository interface {
	Create(ctx context.Context, t *Task) error
	Read(ctx context.Context, id int64) (*Task, error)
	ReadByShort(ctx context.Context, short string) (*Task, error)
	// FindByPrefix returns every task whose short id starts with prefix.
	FindByPrefix(ctx context.Context, prefix string) ([]*Task, error)
	List(ctx context.Context) ([]*Task, error)
	ListByEpic(ctx context.Context, epicID string) ([]*Task, error)
	ListByStatus(ctx context.Context, statuses ...Status) ([]*Task, error)
	Update(ctx context.Context, t *Task) error
	Delete(ctx context.Context, id int64) error

	AddDependency(ctx context.Context, id int64, blockerShort string) error
	RemoveDependency(ctx context.Context, id int64, blockerShort string) error

	// Claim atomically transitions an open task to in_progress and sets
	// consumed/consume_pid, returning false if the task was not open.
	Claim(ctx context.Context, id int64, pid int) (bool, error)
	Release(ctx context.Context, id int64) error

	Heartbeat(ctx context.Context, id int64) error
	ListStaleInProgress(ctx context.Context, before time.Time) ([]*Task, error)
}
