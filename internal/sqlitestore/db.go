// Package sqlitestore implements every domain Repository interface
// (task, epic, run, review) over a single SQLite database, hand-written
// against database/sql rather than generated, using the same
// errtag/tx conventions the rest of Fuel's stores already follow.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/joshjon/kit/sqlitedb"
	"github.com/joshjon/kit/tx"

	"fuel/internal/idgen"
	"fuel/internal/sqlitestore/migrations"
)

// DB is the subset of *sql.DB every repository in this package needs.
type DB interface {
	tx.SQLiteTxer
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store bundles the four repositories backed by one database handle.
type Store struct {
	db DB

	Tasks   *TaskRepository
	Epics   *EpicRepository
	Runs    *RunRepository
	Reviews *ReviewRepository
}

// Open opens (creating if necessary) the SQLite database at dir/agent.db, or
// an in-memory database when dir is empty, applies the embedded schema, and
// returns a Store with every repository wired against it.
func Open(ctx context.Context, dir string) (*Store, func(), error) {
	var opts []sqlitedb.OpenOption
	if dir != "" {
		opts = append(opts, sqlitedb.WithDir(dir), sqlitedb.WithDBName("agent"))
	} else {
		opts = append(opts, sqlitedb.WithInMemory())
	}
	db, err := sqlitedb.Open(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := sqlitedb.Migrate(db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate sqlite: %w", err)
	}

	collider := idgen.NewCollider()
	return &Store{
		db:      db,
		Tasks:   NewTaskRepository(db, collider),
		Epics:   NewEpicRepository(db, collider),
		Runs:    NewRunRepository(db, collider),
		Reviews: NewReviewRepository(db, collider),
	}, func() { _ = db.Close() }, nil
}
