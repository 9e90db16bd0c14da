package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/joshjon/kit/tx"

	"fuel/internal/idgen"
	"fuel/internal/run"
)

var _ run.Repository = (*RunRepository)(nil)

// RunRepository implements run.Repository over a SQLite run table.
type RunRepository struct {
	db       DB
	collider *idgen.Collider
}

// NewRunRepository creates a RunRepository backed by db.
func NewRunRepository(db DB, collider *idgen.Collider) *RunRepository {
	return &RunRepository{db: db, collider: collider}
}

func (r *RunRepository) Create(ctx context.Context, run_ *run.Run) error {
	for attempt := 0; ; attempt++ {
		short := idgen.New(run.ShortIDPrefix, r.collider.NextLength(run.ShortIDPrefix))
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO run (short, task_id, agent, status, pid, started_at, model,
				output_path, last_heartbeat_at)
			VALUES (?,?,?,?,?,?,?,?,?)`,
			short, run_.TaskID, run_.Agent, string(run_.Status), run_.PID,
			formatTime(run_.StartedAt), run_.Model, run_.OutputPath, formatTime(run_.LastHeartbeatAt),
		)
		if err != nil {
			if isConstraintViolation(err) && attempt < 5 {
				r.collider.RecordCollision(run.ShortIDPrefix)
				continue
			}
			return tx.TagSQLiteTimeoutErr(err)
		}
		var id int64
		if err := r.db.QueryRowContext(ctx, `SELECT id FROM run WHERE short = ?`, short).Scan(&id); err != nil {
			return err
		}
		run_.Short = short
		run_.ID = id
		return nil
	}
}

func (r *RunRepository) Read(ctx context.Context, id int64) (*run.Run, error) {
	row := r.db.QueryRowContext(ctx, runSelectCols+` FROM run WHERE id = ?`, id)
	return scanRun(row)
}

func (r *RunRepository) ListByTask(ctx context.Context, taskID int64) ([]*run.Run, error) {
	rows, err := r.db.QueryContext(ctx, runSelectCols+` FROM run WHERE task_id = ? ORDER BY started_at`, taskID)
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanRuns(rows)
}

func (r *RunRepository) ListRunning(ctx context.Context) ([]*run.Run, error) {
	rows, err := r.db.QueryContext(ctx, runSelectCols+` FROM run WHERE status = ? ORDER BY started_at`, string(run.StatusRunning))
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanRuns(rows)
}

func (r *RunRepository) Update(ctx context.Context, run_ *run.Run) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE run SET agent=?, status=?, pid=?, exit_code=?, ended_at=?, duration_seconds=?,
			session_id=?, error_type=?, model=?, output_path=?, cost_usd=?, last_heartbeat_at=?
		WHERE id = ?`,
		run_.Agent, string(run_.Status), run_.PID, nullInt(run_.ExitCode), formatTimePtr(run_.EndedAt),
		run_.DurationSeconds, run_.SessionID, run_.ErrorType, run_.Model, run_.OutputPath,
		run_.CostUSD, formatTime(run_.LastHeartbeatAt), run_.ID,
	)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *RunRepository) Heartbeat(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE run SET last_heartbeat_at = ? WHERE id = ?`, formatTime(at), id)
	return tx.TagSQLiteTimeoutErr(err)
}

func (r *RunRepository) ListStale(ctx context.Context, before time.Time) ([]*run.Run, error) {
	rows, err := r.db.QueryContext(ctx, runSelectCols+`
		FROM run WHERE status = ? AND last_heartbeat_at < ? ORDER BY started_at`,
		string(run.StatusRunning), formatTime(before))
	if err != nil {
		return nil, tx.TagSQLiteTimeoutErr(err)
	}
	return scanRuns(rows)
}

const runSelectCols = `SELECT id, short, task_id, agent, status, pid, exit_code, started_at,
	ended_at, duration_seconds, session_id, error_type, model, output_path, cost_usd,
	last_heartbeat_at`

func scanRun(row rowScanner) (*run.Run, error) {
	var r run.Run
	var status string
	var exitCode sql.NullInt64
	var startedAt, lastHeartbeatAt string
	var endedAt sql.NullString

	err := row.Scan(&r.ID, &r.Short, &r.TaskID, &r.Agent, &status, &r.PID, &exitCode, &startedAt,
		&endedAt, &r.DurationSeconds, &r.SessionID, &r.ErrorType, &r.Model, &r.OutputPath,
		&r.CostUSD, &lastHeartbeatAt,
	)
	if err != nil {
		return nil, tagNotFound[run.ErrTagNotFound](err)
	}
	r.Status = run.Status(status)
	r.StartedAt = parseTime(startedAt)
	r.LastHeartbeatAt = parseTime(lastHeartbeatAt)
	r.EndedAt = parseTimePtr(endedAt)
	if exitCode.Valid {
		v := int(exitCode.Int64)
		r.ExitCode = &v
	}
	return &r, nil
}

func scanRuns(rows *sql.Rows) ([]*run.Run, error) {
	defer func() { _ = rows.Close() }()
	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}
