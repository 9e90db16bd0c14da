package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"fuel/internal/epic"
	"fuel/internal/task"
)

func TestReadyShortIDs_OpenWithNoBlockersIsReady(t *testing.T) {
	tasks := []*task.Task{
		{Short: "f-a", Status: task.StatusOpen},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{})
	assert.True(t, ready["f-a"])
}

func TestReadyShortIDs_BlockedByOpenParentIsNotReady(t *testing.T) {
	tasks := []*task.Task{
		{Short: "f-parent", Status: task.StatusOpen},
		{Short: "f-child", Status: task.StatusOpen, BlockedBy: []string{"f-parent"}},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{})
	assert.True(t, ready["f-parent"])
	assert.False(t, ready["f-child"])
}

func TestReadyShortIDs_BlockedByDoneParentIsReady(t *testing.T) {
	tasks := []*task.Task{
		{Short: "f-parent", Status: task.StatusDone},
		{Short: "f-child", Status: task.StatusOpen, BlockedBy: []string{"f-parent"}},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{})
	assert.True(t, ready["f-child"])
}

func TestReadyShortIDs_NeedsHumanLabelExcluded(t *testing.T) {
	tasks := []*task.Task{
		{Short: "f-a", Status: task.StatusOpen, Labels: []string{task.LabelNeedsHuman}},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{})
	assert.False(t, ready["f-a"])
}

func TestReadyShortIDs_PausedEpicExcludesTasks(t *testing.T) {
	pausedAt := time.Now()
	e := &epic.Epic{Short: "e-1", PausedAt: &pausedAt}
	tasks := []*task.Task{
		{Short: "f-a", Status: task.StatusOpen, EpicID: "e-1"},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{"e-1": e})
	assert.False(t, ready["f-a"])
}

func TestReadyShortIDs_StandaloneTaskExcludedWhileEpicMerging(t *testing.T) {
	e := &epic.Epic{Short: "e-1", MirrorStatus: epic.MirrorMerging}
	tasks := []*task.Task{
		{Short: "f-standalone", Status: task.StatusOpen},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{"e-1": e})
	assert.False(t, ready["f-standalone"])
}

func TestReadyShortIDs_EpicTaskReadyWhileItsOwnMirrorMerging(t *testing.T) {
	e := &epic.Epic{Short: "e-1", MirrorStatus: epic.MirrorMerging}
	tasks := []*task.Task{
		{Short: "f-a", Status: task.StatusOpen, EpicID: "e-1"},
	}
	ready := readyShortIDs(tasks, map[string]*epic.Epic{"e-1": e})
	assert.True(t, ready["f-a"])
}

func TestHashSnapshot_StableForSameComposition(t *testing.T) {
	snap := ConsumeSnapshot{
		Ready: []TaskSummary{{Short: "f-b"}, {Short: "f-a"}},
	}
	snap2 := ConsumeSnapshot{
		Ready: []TaskSummary{{Short: "f-a"}, {Short: "f-b"}},
	}
	assert.Equal(t, hashSnapshot(snap), hashSnapshot(snap2))
}

func TestHashSnapshot_ChangesWhenBucketMembershipChanges(t *testing.T) {
	snap := ConsumeSnapshot{Ready: []TaskSummary{{Short: "f-a"}}}
	snap2 := ConsumeSnapshot{Ready: []TaskSummary{{Short: "f-a"}, {Short: "f-b"}}}
	assert.NotEqual(t, hashSnapshot(snap), hashSnapshot(snap2))
}

func TestHashSnapshot_ChangesWhenPausedFlips(t *testing.T) {
	snap := ConsumeSnapshot{Paused: false}
	snap2 := ConsumeSnapshot{Paused: true}
	assert.NotEqual(t, hashSnapshot(snap), hashSnapshot(snap2))
}

func TestBuilder_Changed_FalseOnRepeatHash(t *testing.T) {
	b := &Builder{}
	snap := ConsumeSnapshot{Hash: "abc"}
	assert.True(t, b.Changed(snap))
	assert.False(t, b.Changed(snap))
}

func TestBuilder_Changed_TrueOnNewHash(t *testing.T) {
	b := &Builder{}
	assert.True(t, b.Changed(ConsumeSnapshot{Hash: "abc"}))
	assert.True(t, b.Changed(ConsumeSnapshot{Hash: "def"}))
}
