// Package mirror implements the Mirror Manager: it drives an epic's
// isolated git worktree through pending -> creating -> ready, and again
// through merged -> cleaned once the merge task finishes, using git
// worktree add/remove the way an external-agent workspace allocator would.
package mirror

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/joshjon/kit/log"

	"fuel/internal/epic"
	"fuel/internal/fuelctx"
)

// Manager drives the pending->creating->ready and merged->cleaned legs of
// epic.mirror_* off its own poll loop. The ready->merging->merged/merge_failed
// leg is driven directly by the Spawner and the merge AgentTask, which
// observe the triggering task claim and agent exit the Manager's poll
// wouldn't see. Every other reader treats mirror_* as read-only.
type Manager struct {
	epics   *epic.Store
	fuelCtx *fuelctx.Context
	logger  log.Logger
}

// New creates a Manager.
func New(epics *epic.Store, fuelCtx *fuelctx.Context, logger log.Logger) *Manager {
	return &Manager{epics: epics, fuelCtx: fuelCtx, logger: logger.With("component", "mirror_manager")}
}

// Run ticks on interval, or sooner on an epic mutation, until ctx is
// cancelled.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()
	changeCh := m.epics.WaitForChange()

	for {
		m.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-changeCh:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)
	}
}

func (m *Manager) tick(ctx context.Context) {
	epics, err := m.epics.All(ctx)
	if err != nil {
		m.logger.Info("list epics failed", "err", err.Error())
		return
	}
	for _, e := range epics {
		switch e.MirrorStatus {
		case epic.MirrorPending:
			m.create(ctx, e)
		case epic.MirrorMerged:
			m.clean(ctx, e)
		}
	}
}

// create checks out the epic's dedicated branch into an isolated worktree
// and records its path, branch, and base commit.
func (m *Manager) create(ctx context.Context, e *epic.Epic) {
	if err := m.epics.SetMirrorStatus(ctx, e.Short, epic.MirrorCreating); err != nil {
		m.logger.Info("mirror creating transition failed", "epic", e.Short, "err", err.Error())
		return
	}

	branch := BranchName(e.Short)
	path := m.fuelCtx.MirrorPath(m.fuelCtx.ProjectName(), e.Short)

	baseCommit, err := gitOutput(ctx, m.fuelCtx.ProjectRoot, "rev-parse", "HEAD")
	if err != nil {
		m.logger.Info("resolve base commit failed", "epic", e.Short, "err", err.Error())
		_ = m.epics.SetMirrorStatus(ctx, e.Short, epic.MirrorPending)
		return
	}
	baseCommit = strings.TrimSpace(baseCommit)

	if err := git(ctx, m.fuelCtx.ProjectRoot, "worktree", "add", path, "-b", branch, baseCommit); err != nil {
		m.logger.Info("worktree add failed", "epic", e.Short, "err", err.Error())
		_ = m.epics.SetMirrorStatus(ctx, e.Short, epic.MirrorPending)
		return
	}

	if err := m.epics.SetMirrorDetails(ctx, e.Short, path, branch, baseCommit); err != nil {
		m.logger.Info("mirror details update failed", "epic", e.Short, "err", err.Error())
		return
	}
	m.logger.Info("mirror ready", "epic", e.Short, "path", path, "branch", branch)
}

// clean removes the worktree once MergeEpic has merged it back, leaving the
// branch in place for history.
func (m *Manager) clean(ctx context.Context, e *epic.Epic) {
	if e.MirrorPath != "" {
		if err := git(ctx, m.fuelCtx.ProjectRoot, "worktree", "remove", "--force", e.MirrorPath); err != nil {
			m.logger.Info("worktree remove failed", "epic", e.Short, "err", err.Error())
			return
		}
	}
	if err := m.epics.SetMirrorStatus(ctx, e.Short, epic.MirrorCleaned); err != nil {
		m.logger.Info("mirror cleaned transition failed", "epic", e.Short, "err", err.Error())
		return
	}
	m.logger.Info("mirror cleaned", "epic", e.Short)
}

// BranchName derives an epic's dedicated mirror branch name.
func BranchName(epicShortID string) string {
	return "epic/" + epicShortID
}

func git(ctx context.Context, dir string, args ...string) error {
	_, err := gitOutput(ctx, dir, args...)
	return err
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, stderr.String())
	}
	return string(out), nil
}
