package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/joshjon/kit/tx"

	"fuel/internal/idgen"
	"fuel/internal/review"
)

var _ review.Repository = (*ReviewRepository)(nil)

// ReviewRepository implements review.Repository over a SQLite review table.
type ReviewRepository struct {
	db       DB
	collider *idgen.Collider
}

// NewReviewRepository creates a ReviewRepository backed by db.
func NewReviewRepository(db DB, collider *idgen.Collider) *ReviewRepository {
	return &ReviewRepository{db: db, collider: collider}
}

func (r *ReviewRepository) Create(ctx context.Context, rv *review.Review) error {
	for attempt := 0; ; attempt++ {
		short := idgen.New(review.ShortIDPrefix, r.collider.NextLength(review.ShortIDPrefix))
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO review (short, task_id, run_id, agent, status, issues, started_at)
			VALUES (?,?,?,?,?,?,?)`,
			short, rv.TaskID, rv.RunID, rv.Agent, string(rv.Status), marshalStrings(rv.Issues),
			formatTime(rv.StartedAt),
		)
		if err != nil {
			if isConstraintViolation(err) && attempt < 5 {
				r.collider.RecordCollision(review.ShortIDPrefix)
				continue
			}
			return tx.TagSQLiteTimeoutErr(err)
		}
		var id int64
		if err := r.db.QueryRowContext(ctx, `SELECT id FROM review WHERE short = ?`, short).Scan(&id); err != nil {
			return err
		}
		rv.Short = short
		rv.ID = id
		return nil
	}
}

func (r *ReviewRepository) Read(ctx context.Context, id int64) (*review.Review, error) {
	row := r.db.QueryRowContext(ctx, reviewSelectCols+` FROM review WHERE id = ?`, id)
	return scanReview(row)
}

func (r *ReviewRepository) ReadLatestForTask(ctx context.Context, taskID int64) (*review.Review, error) {
	row := r.db.QueryRowContext(ctx, reviewSelectCols+`
		FROM review WHERE task_id = ? ORDER BY started_at DESC LIMIT 1`, taskID)
	return scanReview(row)
}

func (r *ReviewRepository) Update(ctx context.Context, rv *review.Review) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE review SET status=?, issues=?, completed_at=? WHERE id = ?`,
		string(rv.Status), marshalStrings(rv.Issues), formatTimePtr(rv.CompletedAt), rv.ID,
	)
	return tx.TagSQLiteTimeoutErr(err)
}

const reviewSelectCols = `SELECT id, short, task_id, run_id, agent, status, issues, started_at, completed_at`

func scanReview(row rowScanner) (*review.Review, error) {
	var rv review.Review
	var status, issues, startedAt string
	var completedAt sql.NullString

	err := row.Scan(&rv.ID, &rv.Short, &rv.TaskID, &rv.RunID, &rv.Agent, &status, &issues, &startedAt, &completedAt)
	if err != nil {
		return nil, tagNotFound[review.ErrTagNotFound](err)
	}
	rv.Status = review.Status(status)
	rv.Issues = unmarshalStrings(issues)
	rv.StartedAt = parseTime(startedAt)
	rv.CompletedAt = parseTimePtr(completedAt)
	return &rv, nil
}
