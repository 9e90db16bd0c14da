package run

import (
	"context"
	"time"

	"github.com/joshjon/kit/log"
)

// Store wraps a Repository with the mutation helpers the Supervisor and
// Completion Handler use.
type Store struct {
	repo   Repository
	logger log.Logger
}

// NewStore creates a Store.
func NewStore(repo Repository, logger log.Logger) *Store {
	return &Store{repo: repo, logger: logger.With("component", "run_store")}
}

// Start persists a new running Run row.
func (s *Store) Start(ctx context.Context, taskID int64, agent, model, outputPath string) (*Run, error) {
	r := New(taskID, agent, model, outputPath)
	if err := s.repo.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// SetSessionID records the session id the first time it's observed in the
// child's stream-JSON output.
func (s *Store) SetSessionID(ctx context.Context, id int64, sessionID string) error {
	r, err := s.repo.Read(ctx, id)
	if err != nil {
		return err
	}
	if r.SessionID != "" {
		return nil
	}
	r.SessionID = sessionID
	return s.repo.Update(ctx, r)
}

// AddCost accumulates a cost figure parsed from stream JSON.
func (s *Store) AddCost(ctx context.Context, id int64, cost float64) error {
	r, err := s.repo.Read(ctx, id)
	if err != nil {
		return err
	}
	r.CostUSD += cost
	return s.repo.Update(ctx, r)
}

// SetPID records the OS process id once the Supervisor has started the
// child.
func (s *Store) SetPID(ctx context.Context, id int64, pid int) error {
	r, err := s.repo.Read(ctx, id)
	if err != nil {
		return err
	}
	r.PID = pid
	return s.repo.Update(ctx, r)
}

// SetOutputPath records where the Supervisor is persisting this run's
// captured stdout/stderr, once the run's short id (and therefore its log
// path) is known.
func (s *Store) SetOutputPath(ctx context.Context, id int64, path string) error {
	r, err := s.repo.Read(ctx, id)
	if err != nil {
		return err
	}
	r.OutputPath = path
	return s.repo.Update(ctx, r)
}

// Heartbeat updates last_heartbeat_at for the stale-run reaper.
func (s *Store) Heartbeat(ctx context.Context, id int64) error {
	return s.repo.Heartbeat(ctx, id, time.Now())
}

// Finalize records the terminal state of a run once its process exits.
func (s *Store) Finalize(ctx context.Context, id int64, status Status, exitCode int, errorType string) (*Run, error) {
	r, err := s.repo.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	r.Status = status
	r.ExitCode = &exitCode
	r.ErrorType = errorType
	r.EndedAt = &now
	r.DurationSeconds = now.Sub(r.StartedAt).Seconds()
	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// ListRunning returns every run currently marked running, for snapshot
// "active process descriptors" and the stale-heartbeat reaper.
func (s *Store) ListRunning(ctx context.Context) ([]*Run, error) {
	return s.repo.ListRunning(ctx)
}

// ReapStale finalizes running rows whose heartbeat is older than timeout as
// failed, a defense against a wedged child that never produces output or an
// exit event.
func (s *Store) ReapStale(ctx context.Context, timeout time.Duration) ([]*Run, error) {
	stale, err := s.repo.ListStale(ctx, time.Now().Add(-timeout))
	if err != nil {
		return nil, err
	}
	var reaped []*Run
	for _, r := range stale {
		finalized, err := s.Finalize(ctx, r.ID, StatusFailed, -1, "heartbeat_timeout")
		if err != nil {
			s.logger.Info("stale run finalize failed", "run", r.Short, "err", err.Error())
			continue
		}
		reaped = append(reaped, finalized)
	}
	if len(reaped) > 0 {
		s.logger.Info("reaped stale runs", "count", len(reaped))
	}
	return reaped, nil
}
