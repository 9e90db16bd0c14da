package epic

import (
	"context"

	"github.com/joshjon/kit/tx"
)

// Repository is the interface for performing CRUD operations on epics.
type Repository interface {
	EpicRepository
	tx.Repository[Repository]
}

// EpicRepository defines the data access methods for epics.
type EpicRepository interface {
	Create(ctx context.Context, e *Epic) error
	Read(ctx context.Context, id int64) (*Epic, error)
	ReadByShort(ctx context.Context, short string) (*Epic, error)
	FindByPrefix(ctx context.Context, prefix string) ([]*Epic, error)
	List(ctx context.Context) ([]*Epic, error)
	Update(ctx context.Context, e *Epic) error
	Delete(ctx context.Context, id int64) error
}
