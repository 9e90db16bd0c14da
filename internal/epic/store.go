package epic

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/joshjon/kit/log"
)

// TaskStatusReader lets the Store compute an epic's status without
// importing the task package directly; the daemon wires in an adapter over
// task.Store.
type TaskStatusReader interface {
	ListEpicTaskStatuses(ctx context.Context, epicShort string) ([]TaskStatus, error)
}

// PlanWriter creates the epic's plan file on disk. The daemon wires in an
// adapter writing under fuelctx's plans directory.
type PlanWriter interface {
	WritePlan(ctx context.Context, path, title string) error
}

// Store wraps a Repository and adds application-level concerns: prefix
// lookup, computed status, and a change-notification channel the Spawner
// and Mirror Manager wait on.
type Store struct {
	repo       Repository
	taskStatus TaskStatusReader
	plans      PlanWriter
	logger     log.Logger

	changeMu sync.Mutex
	changeCh chan struct{}
}

// NewStore creates a Store.
func NewStore(repo Repository, taskStatus TaskStatusReader, plans PlanWriter, logger log.Logger) *Store {
	return &Store{
		repo:       repo,
		taskStatus: taskStatus,
		plans:      plans,
		logger:     logger.With("component", "epic_store"),
		changeCh:   make(chan struct{}, 1),
	}
}

// WaitForChange signals when an epic mutation may affect readiness.
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

// Create persists a new epic and writes its plan file.
func (s *Store) Create(ctx context.Context, e *Epic) error {
	if err := s.repo.Create(ctx, e); err != nil {
		return err
	}
	e.PlanFilename = e.PlanPath()
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	if s.plans != nil {
		if err := s.plans.WritePlan(ctx, e.PlanFilename, e.Title); err != nil {
			s.logger.Info("plan write failed", "epic", e.Short, "err", err.Error())
		}
	}
	s.logger.Info("epic created", "id", e.Short, "title", e.Title)
	s.notifyChange()
	return nil
}

// Find resolves a short id, prefix, or numeric id.
func (s *Store) Find(ctx context.Context, ref string) (*Epic, error) {
	if n, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return s.repo.Read(ctx, n)
	}
	if e, err := s.repo.ReadByShort(ctx, ref); err == nil {
		return e, nil
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

// All returns every epic sorted by short id.
func (s *Store) All(ctx context.Context) ([]*Epic, error) {
	epics, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(epics, func(i, j int) bool { return epics[i].Short < epics[j].Short })
	return epics, nil
}

// Status computes the epic's current status from its timestamps and its
// member tasks' statuses.
func (s *Store) Status(ctx context.Context, e *Epic) (Status, error) {
	statuses, err := s.taskStatus.ListEpicTaskStatuses(ctx, e.Short)
	if err != nil {
		return "", err
	}
	return e.Compute(statuses), nil
}

// Approve records approval, unblocking the epic's MergeEpic task to run.
func (s *Store) Approve(ctx context.Context, ref, approvedBy string) (*Epic, error) {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	e.ApprovedAt = &now
	e.ApprovedBy = approvedBy
	e.ChangesRequestedAt = nil
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.notifyChange()
	return e, nil
}

// RequestChanges clears any prior approval and records that changes were
// requested.
func (s *Store) RequestChanges(ctx context.Context, ref string) (*Epic, error) {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	e.ChangesRequestedAt = &now
	e.ApprovedAt = nil
	e.ApprovedBy = ""
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.notifyChange()
	return e, nil
}

// MarkReviewed records that the epic's tasks completed and a human review
// pass is requested.
func (s *Store) MarkReviewed(ctx context.Context, ref string) (*Epic, error) {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	e.ReviewedAt = &now
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	s.notifyChange()
	return e, nil
}

// Pause sets paused_at, the highest-precedence status.
func (s *Store) Pause(ctx context.Context, ref string) error {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	now := time.Now()
	e.PausedAt = &now
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Resume clears paused_at.
func (s *Store) Resume(ctx context.Context, ref string) error {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	e.PausedAt = nil
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// SetMirrorStatus transitions the epic's mirror lifecycle. The Mirror
// Manager owns the pending->creating->ready and merged->cleaned legs, which
// it drives off its own poll loop; the Spawner and the merge AgentTask drive
// the ready->merging->merged/merge_failed leg directly since those
// transitions follow a task claim or an agent exit, events the Manager's
// poll loop doesn't see. All other readers still treat mirror_* as
// read-only.
func (s *Store) SetMirrorStatus(ctx context.Context, ref string, status MirrorStatus) error {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	e.MirrorStatus = status
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// SetMirrorDetails records the mirror's path/branch/base-commit once
// created, and transitions its status to ready.
func (s *Store) SetMirrorDetails(ctx context.Context, ref, path, branch, baseCommit string) error {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	now := time.Now()
	e.MirrorPath = path
	e.MirrorBranch = branch
	e.MirrorBaseCommit = baseCommit
	e.MirrorCreatedAt = &now
	e.MirrorStatus = MirrorReady
	if err := s.repo.Update(ctx, e); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// Delete tombstones an epic.
func (s *Store) Delete(ctx context.Context, ref string) error {
	e, err := s.Find(ctx, ref)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, e.ID); err != nil {
		return err
	}
	s.notifyChange()
	return nil
}

// AnyMirrorMerging reports whether any epic currently has a merge in
// flight. The Ready Resolver does not call it; it derives the same flag from
// the epic list it is given.
func (s *Store) AnyMirrorMerging(ctx context.Context) (bool, error) {
	epics, err := s.repo.List(ctx)
	if err != nil {
		return false, err
	}
	for _, e := range epics {
		if e.MirrorStatus == MirrorMerging {
			return true, nil
		}
	}
	return false, nil
}

// ShortIDPrefix is the entity-type prefix idgen uses for epics.
const ShortIDPrefix = "e-"
