// Package epic implements the Epic entity and the Epic half of the
// Task/Epic Service: computed status, mirror-field lifecycle,
// and plan-file bookkeeping.
package epic

import (
	"regexp"
	"strings"
	"time"
)

// MirrorStatus is the lifecycle of an epic's isolated worktree.
type MirrorStatus string

const (
	MirrorNone        MirrorStatus = "none"
	MirrorPending     MirrorStatus = "pending"
	MirrorCreating    MirrorStatus = "creating"
	MirrorReady       MirrorStatus = "ready"
	MirrorMerging     MirrorStatus = "merging"
	MirrorMergeFailed MirrorStatus = "merge_failed"
	MirrorMerged      MirrorStatus = "merged"
	MirrorCleaned     MirrorStatus = "cleaned"
)

// Status is the epic's computed lifecycle state. It is never
// stored directly; Compute derives it from the epic's timestamps and its
// tasks' statuses on every read.
type Status string

const (
	StatusPaused           Status = "paused"
	StatusApproved         Status = "approved"
	StatusChangesRequested Status = "changes_requested"
	StatusReviewed         Status = "reviewed"
	StatusPlanning         Status = "planning"
	StatusInProgress       Status = "in_progress"
	StatusReviewPending    Status = "review_pending"
)

// TaskStatus is the minimal view of a member task's status the status
// computation needs, decoupling this package from the task package.
type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskCancelled  TaskStatus = "cancelled"
)

func (s TaskStatus) isOpenOrInProgress() bool { return s == TaskOpen || s == TaskInProgress }
func (s TaskStatus) isTerminal() bool         { return s == TaskDone || s == TaskCancelled }

// Epic groups tasks under a single shared plan and an optional isolated
// mirror worktree.
type Epic struct {
	ID    int64  `json:"-"`
	Short string `json:"id"`

	Title       string `json:"title"`
	Description string `json:"description"`
	SelfGuided  bool   `json:"self_guided"`

	PlanFilename string `json:"plan_filename"`

	PausedAt           *time.Time `json:"paused_at,omitempty"`
	ReviewedAt         *time.Time `json:"reviewed_at,omitempty"`
	ApprovedAt         *time.Time `json:"approved_at,omitempty"`
	ApprovedBy         string     `json:"approved_by,omitempty"`
	ChangesRequestedAt *time.Time `json:"changes_requested_at,omitempty"`

	MirrorPath       string       `json:"mirror_path,omitempty"`
	MirrorStatus     MirrorStatus `json:"mirror_status"`
	MirrorBranch     string       `json:"mirror_branch,omitempty"`
	MirrorBaseCommit string       `json:"mirror_base_commit,omitempty"`
	MirrorCreatedAt  *time.Time   `json:"mirror_created_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an Epic. PlanFilename is finalized by the Store after the
// short id is assigned
func New(title, description string, selfGuided, mirrorsEnabled bool) *Epic {
	now := time.Now()
	status := MirrorNone
	if mirrorsEnabled {
		status = MirrorPending
	}
	return &Epic{
		Title:        title,
		Description:  description,
		SelfGuided:   selfGuided,
		MirrorStatus: status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// PlanPath returns the plans/{slug}-{short_id}.md path for the epic.
func (e *Epic) PlanPath() string {
	return Slug(e.Title) + "-" + e.Short + ".md"
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and collapses runs of non-alphanumerics into a single
// hyphen, trimming leading/trailing hyphens.
func Slug(s string) string {
	lower := strings.ToLower(s)
	slug := slugNonAlnum.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// Compute derives the epic's status from its own timestamps and the
// statuses of its member tasks, in precedence order:
// Paused > Approved > ChangesRequested > Reviewed > Planning > InProgress >
// ReviewPending.
func (e *Epic) Compute(taskStatuses []TaskStatus) Status {
	if e.PausedAt != nil {
		return StatusPaused
	}
	if e.ApprovedAt != nil {
		return StatusApproved
	}
	if e.ChangesRequestedAt != nil {
		for _, s := range taskStatuses {
			if s.isOpenOrInProgress() {
				return StatusInProgress
			}
		}
		return StatusChangesRequested
	}
	if e.ReviewedAt != nil {
		return StatusReviewed
	}
	if len(taskStatuses) == 0 {
		return StatusPlanning
	}
	for _, s := range taskStatuses {
		if s.isOpenOrInProgress() {
			return StatusInProgress
		}
	}
	allDone := true
	for _, s := range taskStatuses {
		if !s.isTerminal() {
			allDone = false
			break
		}
	}
	if allDone {
		return StatusReviewPending
	}
	return StatusInProgress
}

// UsesMirror reports whether the epic's tasks should run against its mirror
// working copy rather than the primary project directory.
func (e *Epic) UsesMirror() bool {
	return e.MirrorStatus == MirrorReady || e.MirrorStatus == MirrorMerging
}
