package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/joshjon/kit/tx"

	"fuel/internal/idgen"
	"fuel/internal/task"
)

var _ task.Repository = (*TaskRepository)(nil)

// TaskRepository implements task.Repository over a SQLite task table.
type TaskRepository struct {
	db       DB
	collider *idgen.Collider
	txer     *tx.SQLiteRepositoryTxer[task.Repository]
}

// NewTaskRepository creates a TaskRepository backed by db.
func NewTaskRepository(db DB, collider *idgen.Collider) *TaskRepository {
	return &TaskRepository{
		db:       db,
		collider: collider,
		txer: tx.NewSQLiteRepositoryTxer(db, tx.SQLiteRepositoryTxerConfig[task.Repository]{
			Timeout: tx.DefaultTimeout,
			WithTxFunc: func(repo task.Repository, txer *tx.SQLiteRepositoryTxer[task.Repository], sqlTx *sql.Tx) task.Repository {
				cpy := *repo.(*TaskRepository)
				cpy.db = sqlTx
				cpy.txer = txer
				return task.Repository(&cpy)
			},
		}),
	}
}

// Create assigns a short id (widening on collision) and inserts t.
func (r *TaskRepository) Create(ctx context.Context, t *task.Task) error {
	for attempt := 0; ; attempt++ {
		short := idgen.New(task.ShortIDPrefix, r.collider.NextLength(task.ShortIDPrefix))
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO task (short, title, description, type, status, priority, complexity,
				labels, blocked_by, epic_id, commit_hash, reason, last_review_issues,
				selfguided_iteration, selfguided_stuck_count, retry_count, failure_category,
				category_streak, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			short, t.Title, t.Description, string(t.Type), string(t.Status), t.Priority, string(t.Complexity),
			marshalStrings(t.Labels), marshalStrings(t.BlockedBy), t.EpicID, t.CommitHash, t.Reason,
			marshalStrings(t.LastReviewIssues), t.SelfGuidedIteration, t.SelfGuidedStuckCount,
			t.RetryCount, t.FailureCategory, t.CategoryStreak,
			formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
		)
		if err != nil {
			if isConstraintViolation(err) && attempt < 5 {
				r.collider.RecordCollision(task.ShortIDPrefix)
				continue
			}
			return tx.TagSQLiteTimeoutErr(err)
		}
		id, err := r.lastInsertID(ctx, short)
		if err != nil {
			return err
		}
		t.Short = short
		t.ID = id
		return nil
	}
}

func (r *TaskRepository) lastInsertID(ctx context.Context, short string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM task WHERE short = ?`, short).Scan(&id)
	return id, err
}

func (r *TaskRepository) Read(ctx context.Context, id int64) (*task.Task, error) {
	row := r.db.QueryRowContext(ctx, taskSelectCols+` FROM task WHERE id = ?`, id)
	return scanTask(row)
}

func (r *TaskRepository) ReadByShort(ctx context.Context, short string) (*task.Task, error) {
	row := r.db.QueryRowContext(ctx, taskSelectCols+` FROM task WHERE short = ?`, short)
	return scanTask(row)
}

func (r *TaskRepository) FindByPrefix(ctx context.Context, prefix string) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, taskSelectCols+` FROM task WHERE short LIKE ? || '%' ORDER BY short`, prefix)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) List(ctx context.Context) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, taskSelectCols+` FROM task ORDER BY short`)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) ListByEpic(ctx context.Context, epicID string) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, taskSelectCols+` FROM task WHERE epic_id = ? ORDER BY short`, epicID)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) ListByStatus(ctx context.Context, statuses ...task.Status) ([]*task.Task, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := taskSelectCols + ` FROM task WHERE status IN (?` + repeatPlaceholder(len(statuses)-1) + `) ORDER BY short`
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) Update(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE task SET title=?, description=?, type=?, status=?, priority=?, complexity=?,
			labels=?, blocked_by=?, epic_id=?, commit_hash=?, reason=?, consumed=?, consumed_at=?,
			consume_pid=?, last_review_issues=?, selfguided_iteration=?, selfguided_stuck_count=?,
			retry_count=?, failure_category=?, category_streak=?, updated_at=?
		WHERE id = ?`,
		t.Title, t.Description, string(t.Type), string(t.Status), t.Priority, string(t.Complexity),
		marshalStrings(t.Labels), marshalStrings(t.BlockedBy), t.EpicID, t.CommitHash, t.Reason,
		boolToInt(t.Consumed), formatTimePtr(t.ConsumedAt), t.ConsumePID,
		marshalStrings(t.LastReviewIssues), t.SelfGuidedIteration, t.SelfGuidedStuckCount,
		t.RetryCount, t.FailureCategory, t.CategoryStreak, formatTime(t.UpdatedAt), t.ID,
	)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *TaskRepository) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM task WHERE id = ?`, id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *TaskRepository) AddDependency(ctx context.Context, id int64, blockerShort string) error {
	t, err := r.Read(ctx, id)
	if err != nil {
		return err
	}
	for _, b := range t.BlockedBy {
		if b == blockerShort {
			return nil
		}
	}
	t.BlockedBy = append(t.BlockedBy, blockerShort)
	_, err = r.db.ExecContext(ctx, `UPDATE task SET blocked_by = ? WHERE id = ?`, marshalStrings(t.BlockedBy), id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *TaskRepository) RemoveDependency(ctx context.Context, id int64, blockerShort string) error {
	t, err := r.Read(ctx, id)
	if err != nil {
		return err
	}
	filtered := make([]string, 0, len(t.BlockedBy))
	for _, b := range t.BlockedBy {
		if b != blockerShort {
			filtered = append(filtered, b)
		}
	}
	_, err = r.db.ExecContext(ctx, `UPDATE task SET blocked_by = ? WHERE id = ?`, marshalStrings(filtered), id)
	return tx.TagSQLiteTimeoutErr(err)
}

// Claim atomically transitions an open task to in_progress, only succeeding
// if the row was still open when the update ran.
func (r *TaskRepository) Claim(ctx context.Context, id int64, pid int) (bool, error) {
	now := formatTime(time.Now())
	res, err := r.db.ExecContext(ctx, `
		UPDATE task SET status = ?, consumed = 1, consume_pid = ?, consumed_at = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(task.StatusInProgress), pid, now, now, id, string(task.StatusOpen),
	)
	if err != nil {
		return false, tx.TagSQLiteTimeoutErr(err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *TaskRepository) Release(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE task SET consumed = 0, consume_pid = 0, consumed_at = NULL, updated_at = ?
		WHERE id = ?`, formatTime(time.Now()), id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *TaskRepository) Heartbeat(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE task SET last_heartbeat_at = ? WHERE id = ?`, formatTime(time.Now()), id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *TaskRepository) ListStaleInProgress(ctx context.Context, before time.Time) ([]*task.Task, error) {
	rows, err := r.db.QueryContext(ctx, taskSelectCols+`
		FROM task WHERE status = ? AND last_heartbeat_at IS NOT NULL AND last_heartbeat_at < ?
		ORDER BY short`, string(task.StatusInProgress), formatTime(before))
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanTasks(rows)
}

func (r *TaskRepository) WithTx(txn tx.Tx) task.Repository {
	return r.txer.WithTx(r, txn)
}

func (r *TaskRepository) BeginTxFunc(ctx context.Context, fn func(ctx context.Context, txn tx.Tx, repo task.Repository) error) error {
	return r.txer.BeginTxFunc(ctx, r, fn)
}

const taskSelectCols = `SELECT id, short, title, description, type, status, priority, complexity,
	labels, blocked_by, epic_id, commit_hash, reason, consumed, consumed_at, consume_pid,
	last_review_issues, selfguided_iteration, selfguided_stuck_count, retry_count,
	failure_category, category_streak, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*task.Task, error) {
	var t task.Task
	var typ, status, complexity, labels, blockedBy, lastReviewIssues string
	var consumed int
	var consumedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&t.ID, &t.Short, &t.Title, &t.Description, &typ, &status, &t.Priority, &complexity,
		&labels, &blockedBy, &t.EpicID, &t.CommitHash, &t.Reason, &consumed, &consumedAt, &t.ConsumePID,
		&lastReviewIssues, &t.SelfGuidedIteration, &t.SelfGuidedStuckCount, &t.RetryCount,
		&t.FailureCategory, &t.CategoryStreak, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, tagNotFound[task.ErrTagNotFound](err)
	}
	t.Type = task.Type(typ)
	t.Status = task.Status(status)
	t.Complexity = task.Complexity(complexity)
	t.Labels = unmarshalStrings(labels)
	t.BlockedBy = unmarshalStrings(blockedBy)
	t.LastReviewIssues = unmarshalStrings(lastReviewIssues)
	t.Consumed = consumed != 0
	t.ConsumedAt = parseTimePtr(consumedAt)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]*task.Task, error) {
	defer func() { _ = rows.Close() }()
	var out []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ",?"
	}
	return s
}
