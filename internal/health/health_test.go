package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_MonotonicUntilCap(t *testing.T) {
	var prev time.Duration
	for k := 1; k <= 10; k++ {
		d := Backoff(ClassNetwork, k)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 300*time.Second)
		prev = d
	}
}

func TestBackoff_Permission_NotRetryable(t *testing.T) {
	assert.Equal(t, time.Duration(0), Backoff(ClassPermission, 5))
}

func TestBackoff_CrashHigherCapThanNetwork(t *testing.T) {
	assert.Equal(t, 600*time.Second, Backoff(ClassCrash, 20))
	assert.Equal(t, 300*time.Second, Backoff(ClassNetwork, 20))
}

func TestTracker_SuccessResetsStreak(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.RecordFailure("claude", ClassNetwork, now)
	tr.RecordFailure("claude", ClassNetwork, now)
	tr.RecordSuccess("claude", now)

	h, ok := tr.Get("claude")
	assert.True(t, ok)
	assert.Zero(t, h.ConsecutiveFailures)
	assert.Nil(t, h.BackoffUntil)
}

func TestTracker_IsAvailable_DuringBackoff(t *testing.T) {
	tr := New()
	now := time.Now()
	tr.RecordFailure("claude", ClassCrash, now)
	assert.False(t, tr.IsAvailable("claude", now))
	assert.True(t, tr.IsAvailable("claude", now.Add(20*time.Minute)))
}

func TestTracker_UnknownAgentIsAvailable(t *testing.T) {
	tr := New()
	assert.True(t, tr.IsAvailable("never-seen", time.Now()))
}

func TestHealth_StatusThresholds(t *testing.T) {
	tests := []struct {
		failures int
		want     Status
	}{
		{0, StatusHealthy},
		{1, StatusWarning},
		{2, StatusDegraded},
		{4, StatusDegraded},
		{5, StatusUnhealthy},
	}
	for _, tt := range tests {
		h := AgentHealth{ConsecutiveFailures: tt.failures}
		assert.Equal(t, tt.want, h.computeStatus())
	}
}
