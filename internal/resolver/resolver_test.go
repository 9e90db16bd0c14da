package resolver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func view(short, status string, priority int, created time.Time, blockedBy ...string) TaskView {
	return TaskView{Short: short, Status: status, Priority: priority, CreatedAt: created, BlockedBy: blockedBy}
}

func TestResolve_OrdersByPriorityThenCreatedThenShort(t *testing.T) {
	t0 := time.Now()
	in := Input{
		Tasks: []TaskView{
			view("f-ccc", "open", 1, t0.Add(time.Second)),
			view("f-aaa", "open", 0, t0),
			view("f-bbb", "open", 1, t0),
		},
	}
	ready := Resolve(in)
	var shorts []string
	for _, r := range ready {
		shorts = append(shorts, r.Short)
	}
	assert.Equal(t, []string{"f-aaa", "f-bbb", "f-ccc"}, shorts)
}

func TestResolve_NeedsHumanExcluded(t *testing.T) {
	tv := view("f-a", "open", 0, time.Now())
	tv.Labels = []string{"needs-human"}
	in := Input{Tasks: []TaskView{tv}}
	assert.Empty(t, Resolve(in))
}

func TestResolve_BlockedByNonTerminalExcluded(t *testing.T) {
	in := Input{Tasks: []TaskView{
		view("f-blocker", "open", 0, time.Now()),
		view("f-blocked", "open", 0, time.Now(), "f-blocker"),
	}}
	ready := Resolve(in)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-blocker", ready[0].Short)
}

func TestResolve_BlockedByDoneIncluded(t *testing.T) {
	in := Input{Tasks: []TaskView{
		view("f-blocker", "done", 0, time.Now()),
		view("f-blocked", "open", 0, time.Now(), "f-blocker"),
	}}
	ready := Resolve(in)
	assert.Len(t, ready, 1)
	assert.Equal(t, "f-blocked", ready[0].Short)
}

func TestResolve_EpicPausedExcludesTask(t *testing.T) {
	tv := view("f-a", "open", 0, time.Now())
	tv.EpicID = "e-1"
	in := Input{
		Tasks: []TaskView{tv},
		Epics: map[string]EpicView{"e-1": {Short: "e-1", Paused: true}},
	}
	assert.Empty(t, Resolve(in))
}

func TestResolve_EpicMirrorPendingExcludesTask(t *testing.T) {
	tv := view("f-a", "open", 0, time.Now())
	tv.EpicID = "e-1"
	in := Input{
		Tasks: []TaskView{tv},
		Epics: map[string]EpicView{"e-1": {Short: "e-1", MirrorsEnabled: true, MirrorStatus: "pending"}},
	}
	assert.Empty(t, Resolve(in))
}

func TestResolve_StandaloneSkippedWhileEpicMerging(t *testing.T) {
	in := Input{
		Tasks: []TaskView{view("f-a", "open", 0, time.Now())},
		Epics: map[string]EpicView{"e-1": {Short: "e-1", MirrorsEnabled: true, MirrorStatus: "merging"}},
	}
	assert.Empty(t, Resolve(in))
}

func TestCache_PutGet(t *testing.T) {
	c := NewCache(2)
	_, ok := c.Get(1)
	assert.False(t, ok)

	ready := []TaskView{view("f-a", "open", 0, time.Now())}
	c.Put(1, ready)
	got, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, ready, got)
}
