package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/joshjon/kit/tx"

	"fuel/internal/epic"
	"fuel/internal/idgen"
)

var _ epic.Repository = (*EpicRepository)(nil)

// EpicRepository implements epic.Repository over a SQLite epic table.
type EpicRepository struct {
	db       DB
	collider *idgen.Collider
	txer     *tx.SQLiteRepositoryTxer[epic.Repository]
}

// NewEpicRepository creates an EpicRepository backed by db.
func NewEpicRepository(db DB, collider *idgen.Collider) *EpicRepository {
	return &EpicRepository{
		db:       db,
		collider: collider,
		txer: tx.NewSQLiteRepositoryTxer(db, tx.SQLiteRepositoryTxerConfig[epic.Repository]{
			Timeout: tx.DefaultTimeout,
			WithTxFunc: func(repo epic.Repository, txer *tx.SQLiteRepositoryTxer[epic.Repository], sqlTx *sql.Tx) epic.Repository {
				cpy := *repo.(*EpicRepository)
				cpy.db = sqlTx
				cpy.txer = txer
				return epic.Repository(&cpy)
			},
		}),
	}
}

func (r *EpicRepository) Create(ctx context.Context, e *epic.Epic) error {
	for attempt := 0; ; attempt++ {
		short := idgen.New(epic.ShortIDPrefix, r.collider.NextLength(epic.ShortIDPrefix))
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO epic (short, title, description, self_guided, plan_filename,
				mirror_status, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?)`,
			short, e.Title, e.Description, boolToInt(e.SelfGuided), e.PlanFilename,
			string(e.MirrorStatus), formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) && attempt < 5 {
				r.collider.RecordCollision(epic.ShortIDPrefix)
				continue
			}
			return tx.TagSQLiteTimeoutErr(err)
		}
		var id int64
		if err := r.db.QueryRowContext(ctx, `SELECT id FROM epic WHERE short = ?`, short).Scan(&id); err != nil {
			return err
		}
		e.Short = short
		e.ID = id
		return nil
	}
}

func (r *EpicRepository) Read(ctx context.Context, id int64) (*epic.Epic, error) {
	row := r.db.QueryRowContext(ctx, epicSelectCols+` FROM epic WHERE id = ?`, id)
	return scanEpic(row)
}

func (r *EpicRepository) ReadByShort(ctx context.Context, short string) (*epic.Epic, error) {
	row := r.db.QueryRowContext(ctx, epicSelectCols+` FROM epic WHERE short = ?`, short)
	return scanEpic(row)
}

func (r *EpicRepository) FindByPrefix(ctx context.Context, prefix string) ([]*epic.Epic, error) {
	rows, err := r.db.QueryContext(ctx, epicSelectCols+` FROM epic WHERE short LIKE ? || '%' ORDER BY short`, prefix)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanEpics(rows)
}

func (r *EpicRepository) List(ctx context.Context) ([]*epic.Epic, error) {
	rows, err := r.db.QueryContext(ctx, epicSelectCols+` FROM epic ORDER BY short`)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanEpics(rows)
}

func (r *EpicRepository) Update(ctx context.Context, e *epic.Epic) error {
	e.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE epic SET title=?, description=?, self_guided=?, plan_filename=?,
			paused_at=?, reviewed_at=?, approved_at=?, approved_by=?, changes_requested_at=?,
			mirror_path=?, mirror_status=?, mirror_branch=?, mirror_base_commit=?,
			mirror_created_at=?, updated_at=?
		WHERE id = ?`,
		e.Title, e.Description, boolToInt(e.SelfGuided), e.PlanFilename,
		formatTimePtr(e.PausedAt), formatTimePtr(e.ReviewedAt), formatTimePtr(e.ApprovedAt), e.ApprovedBy,
		formatTimePtr(e.ChangesRequestedAt), e.MirrorPath, string(e.MirrorStatus), e.MirrorBranch,
		e.MirrorBaseCommit, formatTimePtr(e.MirrorCreatedAt), formatTime(e.UpdatedAt), e.ID,
	)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *EpicRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM epic WHERE id = ?`, id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *EpicRepository) WithTx(txn tx.Tx) epic.Repository {
	return r.txer.WithTx(r, txn)
}

func (r *EpicRepository) BeginTxFunc(ctx context.Context, fn func(ctx context.Context, txn tx.Tx, repo epic.Repository) error) error {
	return r.txer.BeginTxFunc(ctx, r, fn)
}

const epicSelectCols = `SELECT id, short, title, description, self_guided, plan_filename,
	paused_at, reviewed_at, approved_at, approved_by, changes_requested_at,
	mirror_path, mirror_status, mirror_branch, mirror_base_commit, mirror_created_at,
	created_at, updated_at`

func scanEpic(row rowScanner) (*epic.Epic, error) {
	var e epic.Epic
	var selfGuided int
	var mirrorStatus string
	var pausedAt, reviewedAt, approvedAt, changesRequestedAt, mirrorCreatedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&e.ID, &e.Short, &e.Title, &e.Description, &selfGuided, &e.PlanFilename,
		&pausedAt, &reviewedAt, &approvedAt, &e.ApprovedBy, &changesRequestedAt,
		&e.MirrorPath, &mirrorStatus, &e.MirrorBranch, &e.MirrorBaseCommit, &mirrorCreatedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, tagNotFound[epic.ErrTagNotFound](err)
	}
	e.SelfGuided = selfGuided != 0
	e.MirrorStatus = epic.MirrorStatus(mirrorStatus)
	e.PausedAt = parseTimePtr(pausedAt)
	e.ReviewedAt = parseTimePtr(reviewedAt)
	e.ApprovedAt = parseTimePtr(approvedAt)
	e.ChangesRequestedAt = parseTimePtr(changesRequestedAt)
	e.MirrorCreatedAt = parseTimePtr(mirrorCreatedAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return &e, nil
}

func scanEpics(rows *sql.Rows) ([]*epic.Epic, error) {
	defer func() { _ = rows.Close() }()
	var out []*epic.Epic
	for rows.Next() {
		e, err := scanEpic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
