package epic

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCompute_Precedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name     string
		epic     Epic
		statuses []TaskStatus
		want     Status
	}{
		{"planning with no tasks", Epic{}, nil, StatusPlanning},
		{"in progress with open task", Epic{}, []TaskStatus{TaskOpen}, StatusInProgress},
		{"review pending once all done", Epic{}, []TaskStatus{TaskDone, TaskCancelled}, StatusReviewPending},
		{"reviewed overrides review pending", Epic{ReviewedAt: &now}, []TaskStatus{TaskDone}, StatusReviewed},
		{"changes requested when no active tasks", Epic{ChangesRequestedAt: &now}, []TaskStatus{TaskDone}, StatusChangesRequested},
		{"changes requested demoted to in progress while active", Epic{ChangesRequestedAt: &now}, []TaskStatus{TaskOpen}, StatusInProgress},
		{"approved beats changes requested", Epic{ApprovedAt: &now, ChangesRequestedAt: &now}, []TaskStatus{TaskDone}, StatusApproved},
		{"paused beats everything", Epic{PausedAt: &now, ApprovedAt: &now}, []TaskStatus{TaskOpen}, StatusPaused},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.epic.Compute(tt.statuses)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "add-oauth-login", Slug("Add OAuth Login!!"))
	assert.Equal(t, "a-b-c", Slug("  a_b__c  "))
}

func TestPlanPath(t *testing.T) {
	e := &Epic{Title: "Add OAuth Login", Short: "e-ab12"}
	assert.Equal(t, "add-oauth-login-e-ab12.md", e.PlanPath())
}
