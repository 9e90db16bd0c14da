package task

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/joshjon/kit/log"

	"fuel/internal/review"
)

// Store wraps a Repository and adds application-level concerns: dependency
// cycle prevention, prefix lookup, atomic status transitions, and a
// readiness-change notification the Spawner waits on.
type Store struct {
	repo    Repository
	reviews review.Repository // nil-able; Done skips closing a Review row when unset
	logger  log.Logger

	changeMu sync.Mutex
	changeCh chan struct{}
}

// NewStore creates a Store backed by the given Repository. reviews may be
// nil, in which case Done does not attempt to close a task's Review row.
func NewStore(repo Repository, reviews review.Repository, logger log.Logger) *Store {
	return &Store{
		repo:     repo,
		reviews:  reviews,
		logger:   logger.With("component", "task_store"),
		changeCh: make(chan struct{}, 1),
	}
}

// WaitForChange returns a channel that signals when a mutation may have
// altered the ready set. The Spawner selects on it alongside its tick timer.
func (s *Store) WaitForChange() <-chan struct{} {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	return s.changeCh
}

func (s *Store) notifyChange() {
	s.changeMu.Lock()
	defer s.changeMu.Unlock()
	select {
	case s.changeCh <- struct{}{}:
	default:
	}
}

// Create persists a new task and notifies the resolver.
func (s *Store) Create(ctx context.Context, t *Task) error {
	for _, blocker := range t.BlockedBy {
		if _, err := s.findOne(ctx, blocker); err != nil {
			return fmt.Errorf("blocker %q: %w", blocker, err)
		}
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return err
	}
	s.logger.Info("task created", "id", t.Short, "title", t.Title)
	if t.Status == StatusOpen {
		s.notifyChange()
	}
	return nil
}

// Update persists a full task update (caller must preserve fields it does
// not intend to change) and signals the change channel on every successful
// write.
func (s *Store) Update(ctx context.Context, t *Task) error {
	t.UpdatedAt = time.Now()
	if err := s.repo.Update(ctx, t); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Find resolves a short id, prefix, or numeric id. Fails with
// ErrTagAmbiguous if more than one row matches a prefix, ErrTagNotFound if
// none do.
func (s *Store) Find(ctx context.Context, ref string) (*Task, error) {
	return s.findOne(ctx, ref)
}

func (s *Store) findOne(ctx context.Context, ref string) (*Task, error) {
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.repo.Read(ctx, n)
	}
	if t, err := s.repo.ReadByShort(ctx, ref); err == nil {
		return t, nil
	}
	matches, err := s.repo.FindByPrefix(ctx, ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, ErrTagNotFound{}
	case 1:
		return matches[0], nil
	default:
		return nil, ErrTagAmbiguous{}
	}
}

// All returns every task sorted by short id, minimizing merge diffs as the
// persisted order is deterministic.
func (s *Store) All(ctx context.Context) ([]*Task, error) {
	tasks, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sortByShort(tasks)
	return tasks, nil
}

// ByStatus returns tasks in any of the given statuses, sorted by short id.
func (s *Store) ByStatus(ctx context.Context, statuses ...Status) ([]*Task, error) {
	tasks, err := s.repo.ListByStatus(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	sortByShort(tasks)
	return tasks, nil
}

func sortByShort(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Short < tasks[j].Short })
}

// AddDependency adds blocker as a dependency of t, refusing the edge if it
// would close a cycle in the blocked_by graph. The check is a breadth-first
// search from blocker looking for t: if we can already reach t from
// blocker, adding t->blocker would close a loop.
func (s *Store) AddDependency(ctx context.Context, taskID, blockerID string) error {
	t, err := s.findOne(ctx, taskID)
	if err != nil {
		return fmt.Errorf("task: %w", err)
	}
	blocker, err := s.findOne(ctx, blockerID)
	if err != nil {
		return fmt.Errorf("blocker: %w", err)
	}
	if t.Short == blocker.Short {
		return ErrTagCycleDetected{}
	}

	cyclic, err := s.reaches(ctx, blocker.Short, t.Short)
	if err != nil {
		return err
	}
	if cyclic {
		return ErrTagCycleDetected{}
	}

	if err := s.repo.AddDependency(ctx, t.ID, blocker.Short); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// reaches reports whether a breadth-first walk of the blocked_by graph
// starting at `from` can reach `to`.
func (s *Store) reaches(ctx context.Context, from, to string) (bool, error) {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true, nil
		}
		t, err := s.repo.ReadByShort(ctx, cur)
		if err != nil {
			continue
		}
		for _, next := range t.BlockedBy {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false, nil
}

// RemoveDependency is idempotent: removing a non-existent dependency
// succeeds silently.
func (s *Store) RemoveDependency(ctx context.Context, taskID, blockerID string) error {
	t, err := s.findOne(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.repo.RemoveDependency(ctx, t.ID, blockerID); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Start transitions an open task to in_progress, refusing if any blocker is
// non-terminal (a task cannot be in_progress while blocked).
func (s *Store) Start(ctx context.Context, ref string, pid int) (*Task, error) {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return nil, err
	}
	if t.Status != StatusOpen {
		return nil, ErrTagNotPending{}
	}
	for _, blockerShort := range t.BlockedBy {
		blocker, err := s.repo.ReadByShort(ctx, blockerShort)
		if err != nil {
			return nil, err
		}
		if !blocker.Status.IsTerminal() {
			return nil, ErrTagNotPending{}
		}
	}
	ok, err := s.repo.Claim(ctx, t.ID, pid)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTagNotPending{}
	}
	t.Status = StatusInProgress
	t.Consumed = true
	t.ConsumePID = pid
	now := time.Now()
	t.ConsumedAt = &now
	s.notifyChange()
	return t, nil
}

// SetConsumePID updates the OS pid of the process consuming a task, once
// the Supervisor has actually started it.
func (s *Store) SetConsumePID(ctx context.Context, ref string, pid int) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	t.ConsumePID = pid
	return s.repo.Update(ctx, t)
}

// Release clears the consumed/consume_pid markers, used by the Completion
// Handler once a run finalizes regardless of outcome.
func (s *Store) Release(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.repo.Release(ctx, t.ID); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Reopen transitions in_progress or review back to open. A no-op if already
// open.
func (s *Store) Reopen(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status == StatusOpen {
		return nil
	}
	t.Status = StatusOpen
	t.Consumed = false
	t.ConsumePID = 0
	t.ConsumedAt = nil
	if err := s.repo.Update(ctx, t); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Done marks a task complete, closes any open Review row for it, records an
// optional reason/commit hash, and notifies the resolver so any task
// blocked on this one can become ready.
func (s *Store) Done(ctx context.Context, ref, reason, commitHash string) (*Task, error) {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return nil, err
	}
	t.Status = StatusDone
	t.Consumed = false
	t.ConsumePID = 0
	t.ConsumedAt = nil
	if reason != "" {
		t.Reason = reason
	}
	if commitHash != "" {
		t.CommitHash = commitHash
	}
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.closeOpenReview(ctx, t.ID)
	s.logger.Info("task done", "id", t.Short)
	s.notifyChange()
	return t, nil
}

// closeOpenReview marks taskID's latest pending Review row completed, if
// one exists, so a task marked done by any path (not just the Review
// AgentTask's own success handler) doesn't leave a dangling pending review.
func (s *Store) closeOpenReview(ctx context.Context, taskID int64) {
	if s.reviews == nil {
		return
	}
	rec, err := s.reviews.ReadLatestForTask(ctx, taskID)
	if err != nil || rec.Status != review.StatusPending {
		return
	}
	now := time.Now()
	rec.Status = review.StatusCompleted
	rec.CompletedAt = &now
	if err := s.reviews.Update(ctx, rec); err != nil {
		s.logger.Info("close review row failed", "task_id", taskID, "err", err.Error())
	}
}

// Delete tombstones a task by marking it cancelled rather than removing the
// row, preserving it as a dependency target for history.
func (s *Store) Delete(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	t.Status = StatusCancelled
	if err := s.repo.Update(ctx, t); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Pause sets a task aside without cancelling it; Resume returns it to open.
func (s *Store) Pause(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status != StatusOpen {
		return ErrTagNotPending{}
	}
	t.Status = StatusPaused
	return s.Update(ctx, t)
}

// Resume returns a paused task to open.
func (s *Store) Resume(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status != StatusPaused {
		return ErrTagNotPending{}
	}
	t.Status = StatusOpen
	return s.Update(ctx, t)
}

// Defer moves an open task to someday; Revive moves it back.
func (s *Store) Defer(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status != StatusOpen {
		return ErrTagNotPending{}
	}
	t.Status = StatusSomeday
	return s.Update(ctx, t)
}

// Revive moves a someday task back to open.
func (s *Store) Revive(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status != StatusSomeday {
		return ErrTagNotPending{}
	}
	t.Status = StatusOpen
	return s.Update(ctx, t)
}

// RecordReview transitions an in_progress task to review. The task is no
// longer consumed by a running process; its bookkeeping task id tracks the
// review attempt separately.
func (s *Store) RecordReview(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	t.Status = StatusReview
	t.Consumed = false
	t.ConsumePID = 0
	t.ConsumedAt = nil
	return s.Update(ctx, t)
}

// StartOver resets a review/needs-human task's retry metadata while
// preserving title/description, per the supplemental manual "start over"
// operation.
func (s *Store) StartOver(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	if t.Status != StatusReview && !t.HasLabel(LabelNeedsHuman) {
		return ErrTagNotPending{}
	}
	t.Status = StatusOpen
	t.LastReviewIssues = nil
	t.SelfGuidedStuckCount = 0
	t.RetryCount = 0
	t.FailureCategory = ""
	t.CategoryStreak = 0
	labels := t.Labels[:0]
	for _, l := range t.Labels {
		if l != LabelNeedsHuman {
			labels = append(labels, l)
		}
	}
	t.Labels = labels
	return s.Update(ctx, t)
}

// RecordFailure applies the supplemental failure-category circuit breaker:
// two consecutive failures of the same category fail fast and label the
// task needs-human even before max_retries is reached.
func (s *Store) RecordFailure(ctx context.Context, ref, category string, maxRetries int) (*Task, error) {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return nil, err
	}
	if t.FailureCategory == category {
		t.CategoryStreak++
	} else {
		t.FailureCategory = category
		t.CategoryStreak = 1
	}
	t.RetryCount++

	needsHuman := t.CategoryStreak >= 2 || t.RetryCount >= maxRetries
	if needsHuman {
		if !t.HasLabel(LabelNeedsHuman) {
			t.Labels = append(t.Labels, LabelNeedsHuman)
		}
	} else {
		t.Status = StatusOpen
	}
	t.Consumed = false
	t.ConsumePID = 0
	t.ConsumedAt = nil
	if err := s.repo.Update(ctx, t); err != nil {
		return nil, err
	}
	s.notifyChange()
	return t, nil
}

// Heartbeat records that a run bound to this task is still alive, for the
// stale-run reaper.
func (s *Store) Heartbeat(ctx context.Context, ref string) error {
	t, err := s.findOne(ctx, ref)
	if err != nil {
		return err
	}
	return s.repo.Heartbeat(ctx, t.ID)
}

// ReapStale reopens in-progress tasks whose heartbeat has gone stale for
// longer than timeout, a defensive supplement to the hard per-run timeout.
func (s *Store) ReapStale(ctx context.Context, timeout time.Duration) (int, error) {
	stale, err := s.repo.ListStaleInProgress(ctx, time.Now().Add(-timeout))
	if err != nil {
		return 0, err
	}
	for _, t := range stale {
		t.Status = StatusOpen
		t.Consumed = false
		t.ConsumePID = 0
		t.ConsumedAt = nil
		if err := s.repo.Update(ctx, t); err != nil {
			s.logger.Info("stale reap update failed", "id", t.Short, "err", err.Error())
			continue
		}
	}
	if len(stale) > 0 {
		s.logger.Info("reaped stale tasks", "count", len(stale))
		s.notifyChange()
	}
	return len(stale), nil
}

// ShortIDPrefix is the entity-type prefix idgen uses for tasks.
const ShortIDPrefix = "f-"
