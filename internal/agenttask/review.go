package agenttask

import (
	"context"
	"time"

	"fuel/internal/config"
	"fuel/internal/review"
	"fuel/internal/task"
)

const reviewPromptTemplate = `Review the changes made for task {{task_id}}.

Diff:
{{diff}}

Status:
{{status}}

Respond with a single JSON line: {"passed": bool, "issues": [string], "followUpTaskIds": [string]}.`

// Review reviews a completed Work task's changes and decides whether the
// original task is done or needs another pass.
type Review struct {
	noopComplete

	OriginalShort string
	OriginalID    int64

	// ReviewID is the row created for this attempt once the Spawner's
	// process spawn succeeds; zero until then.
	ReviewID int64

	TaskStore   *task.Store
	ReviewStore review.Repository
}

// NewReview binds a review attempt to the task it is reviewing.
func NewReview(originalShort string, originalID int64, taskStore *task.Store, reviewStore review.Repository) *Review {
	return &Review{OriginalShort: originalShort, OriginalID: originalID, TaskStore: taskStore, ReviewStore: reviewStore}
}

func (r *Review) TaskShortID() string      { return review.TaskShortID(r.OriginalShort) }
func (r *Review) ProcessType() ProcessType { return ProcessReview }

func (r *Review) GetAgentName(cfg config.Config) (string, bool) {
	if cfg.Review == "" {
		return "", false
	}
	return cfg.Review, true
}

func (r *Review) BuildPrompt(ctx context.Context, cwd string) (string, error) {
	return review.BuildPrompt(ctx, cwd, r.OriginalShort, reviewPromptTemplate)
}

// OnSuccess parses the reviewer's verdict, records the outcome on this
// attempt's Review row, and marks the original task done or reopens it with
// the issues attached.
func (r *Review) OnSuccess(ctx context.Context, result CompletionResult) error {
	verdict, err := review.ParseVerdict(result.Output)
	if err != nil {
		return r.reopenWithIssues(ctx, []string{"review_parse_failed"})
	}

	rec, rerr := r.readOwnRecord(ctx)
	if rerr == nil {
		now := time.Now()
		rec.Status = review.StatusCompleted
		rec.Issues = verdict.Issues
		rec.CompletedAt = &now
		_ = r.ReviewStore.Update(ctx, rec)
	}

	if verdict.Passed {
		original, err := r.TaskStore.Find(ctx, r.OriginalShort)
		if err != nil {
			return err
		}
		if original.Status == task.StatusReview {
			_, err = r.TaskStore.Done(ctx, r.OriginalShort, "", "")
			return err
		}
		return nil
	}
	return r.reopenWithIssues(ctx, verdict.Issues)
}

// readOwnRecord reads the Review row the Spawner created for this attempt.
// ReviewID is zero only if the row was never created (or this Review was
// built outside the Spawner's normal flow); fall back to the latest row for
// the task rather than silently skipping the update.
func (r *Review) readOwnRecord(ctx context.Context) (*review.Review, error) {
	if r.ReviewID != 0 {
		return r.ReviewStore.Read(ctx, r.ReviewID)
	}
	return r.ReviewStore.ReadLatestForTask(ctx, r.OriginalID)
}

func (r *Review) reopenWithIssues(ctx context.Context, issues []string) error {
	original, err := r.TaskStore.Find(ctx, r.OriginalShort)
	if err != nil {
		return err
	}
	original.LastReviewIssues = issues
	original.Status = task.StatusOpen
	original.Consumed = false
	original.ConsumePID = 0
	original.ConsumedAt = nil
	return r.TaskStore.Update(ctx, original)
}

// OnFailure reopens the original task when the reviewer agent itself
// crashed rather than completed with a verdict.
func (r *Review) OnFailure(ctx context.Context, _ CompletionResult) error {
	return r.TaskStore.Reopen(ctx, r.OriginalShort)
}
