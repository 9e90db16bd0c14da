// Package task implements the Task entity and the Task half of the Task/Epic
// Service: CRUD, dependency management with cycle prevention,
// status transitions, and prefix-based lookup.
package task

import "time"

// Type classifies the kind of work a task represents.
type Type string

const (
	TypeTask    Type = "task"
	TypeBug     Type = "bug"
	TypeFeature Type = "feature"
	TypeChore   Type = "chore"
	TypeEpic    Type = "epic"
	TypeMerge   Type = "merge"
	TypeReality Type = "reality"
	TypeReview  Type = "review"
)

// Status is the task lifecycle state.
//
// Transitions: open -> in_progress -> {review, done, cancelled};
// review -> {done, open}; in_progress -> open (reopen on failure);
// open <-> someday; open -> paused -> open. done and cancelled are terminal.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusReview     Status = "review"
	StatusDone       Status = "done"
	StatusCancelled  Status = "cancelled"
	StatusSomeday    Status = "someday"
	StatusPaused     Status = "paused"
)

// IsTerminal reports whether s is a terminal status (done or cancelled).
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusCancelled
}

// Complexity drives complexity-to-agent routing.
type Complexity string

const (
	ComplexityTrivial  Complexity = "trivial"
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// Well-known labels with semantic meaning to the resolver and review flow.
const (
	LabelNeedsHuman = "needs-human"
	LabelAutoClosed = "auto-closed"
)

// Task is a unit of work, possibly belonging to an Epic, that the Spawner
// binds to an AgentTask and hands to a supervised agent process.
type Task struct {
	ID    int64  `json:"-"`
	Short string `json:"id"`

	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Complexity  Complexity `json:"complexity"`
	Labels      []string   `json:"labels"`
	BlockedBy   []string   `json:"blocked_by"`
	EpicID      string     `json:"epic_id,omitempty"`

	CommitHash string `json:"commit_hash,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Consumed     bool       `json:"consumed"`
	ConsumedAt   *time.Time `json:"consumed_at,omitempty"`
	ConsumePID   int        `json:"consume_pid,omitempty"`

	LastReviewIssues []string `json:"last_review_issues,omitempty"`

	SelfGuidedIteration  int `json:"selfguided_iteration"`
	SelfGuidedStuckCount int `json:"selfguided_stuck_count"`

	// RetryCount tracks transient-failure retries for the max_retries
	// ceiling. FailureCategory/CategoryStreak implement an additional
	// circuit breaker: repeated failures of the same category fail fast
	// before max_retries is reached.
	RetryCount      int    `json:"retry_count"`
	FailureCategory string `json:"failure_category,omitempty"`
	CategoryStreak  int    `json:"category_streak"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLabel reports whether the task carries the given label.
func (t *Task) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// New creates a Task in the open state with sane defaults.
func New(title, description string, typ Type, priority int, complexity Complexity) *Task {
	now := time.Now()
	if typ == "" {
		typ = TypeTask
	}
	if complexity == "" {
		complexity = ComplexitySimple
	}
	return &Task{
		Title:       title,
		Description: description,
		Type:        typ,
		Status:      StatusOpen,
		Priority:    priority,
		Complexity:  complexity,
		Labels:      []string{},
		BlockedBy:   []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
