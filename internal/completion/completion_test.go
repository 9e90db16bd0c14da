package completion

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fuel/internal/agenttask"
	"fuel/internal/epic"
	"fuel/internal/health"
	"fuel/internal/review"
	"fuel/internal/task"
)

func TestFailureClass_MapsKnownKinds(t *testing.T) {
	assert.Equal(t, health.ClassNetwork, failureClass("network"))
	assert.Equal(t, health.ClassTimeout, failureClass("timeout"))
	assert.Equal(t, health.ClassPermission, failureClass("permission"))
	assert.Equal(t, health.ClassCrash, failureClass("crash"))
}

func TestFailureClass_UnknownDefaultsToCrash(t *testing.T) {
	assert.Equal(t, health.ClassCrash, failureClass(""))
	assert.Equal(t, health.ClassCrash, failureClass("something_unexpected"))
}

func TestClaimedRef_WorkVariantsReturnTaskShort(t *testing.T) {
	tk := &task.Task{ID: 1, Short: "f-a"}
	assert.Equal(t, "f-a", claimedRef(agenttask.NewWork(tk, nil)))
	assert.Equal(t, "f-a", claimedRef(agenttask.NewUpdateReality(tk, nil, nil)))

	e := &epic.Epic{Short: "e-1"}
	assert.Equal(t, "f-a", claimedRef(agenttask.NewMergeEpic(tk, e, nil, nil, nil)))
	assert.Equal(t, "f-a", claimedRef(agenttask.NewSelfGuided(tk, e, nil)))
}

func TestClaimedRef_ReviewHasNoClaimableRow(t *testing.T) {
	r := agenttask.NewReview("f-a", 1, nil, review.Repository(nil))
	assert.Empty(t, claimedRef(r))
}
