// Package resolver implements the Ready Resolver: given one
// consistent snapshot of tasks and epics, compute the ordered set of tasks
// eligible to be spawned, cached and invalidated on mutation.
package resolver

import (
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TaskView is the minimal task shape the resolver needs, decoupling it from
// the task package's full entity.
type TaskView struct {
	Short     string
	Status    string
	Labels    []string
	BlockedBy []string
	EpicID    string
	Priority  int
	CreatedAt time.Time
}

func (t TaskView) hasLabel(label string) bool {
	for _, l := range t.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// EpicView is the minimal epic shape the resolver needs.
type EpicView struct {
	Short          string
	Paused         bool
	MirrorsEnabled bool
	MirrorStatus   string
}

// terminalStatuses are the task statuses that satisfy a blocked_by edge.
var terminalStatuses = map[string]bool{"done": true, "cancelled": true}

// Input is one consistent read of the world the resolver computes over.
type Input struct {
	Tasks []TaskView
	Epics map[string]EpicView
}

// Resolve returns the ordered list of ready tasks: ascending priority, then
// ascending created_at, then short_id.
func Resolve(in Input) []TaskView {
	byShort := make(map[string]TaskView, len(in.Tasks))
	for _, t := range in.Tasks {
		byShort[t.Short] = t
	}

	anyMerging := false
	for _, e := range in.Epics {
		if e.MirrorStatus == "merging" {
			anyMerging = true
			break
		}
	}

	var ready []TaskView
	for _, t := range in.Tasks {
		if isReady(t, byShort, in.Epics, anyMerging) {
			ready = append(ready, t)
		}
	}

	sort.Slice(ready, func(i, j int) bool {
		a, b := ready[i], ready[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Short < b.Short
	})
	return ready
}

func isReady(t TaskView, byShort map[string]TaskView, epics map[string]EpicView, anyMerging bool) bool {
	if t.Status != "open" {
		return false
	}
	if t.hasLabel("needs-human") {
		return false
	}
	for _, blockerShort := range t.BlockedBy {
		blocker, ok := byShort[blockerShort]
		if !ok || !terminalStatuses[blocker.Status] {
			return false
		}
	}
	if t.EpicID != "" {
		epic, ok := epics[t.EpicID]
		if !ok {
			return false
		}
		if epic.Paused {
			return false
		}
		if epic.MirrorsEnabled {
			switch epic.MirrorStatus {
			case "none", "ready", "merging", "merged", "cleaned":
			default:
				return false
			}
		}
		return true
	}
	// Standalone task: skipped while any epic is merging.
	return !anyMerging
}

// Cache memoizes the last Resolve result keyed by an opaque snapshot
// version, invalidated whenever the caller bumps the version on any task
// mutation. It is backed by an LRU so a daemon juggling many
// historical versions (e.g. during a burst of rapid mutations racing
// computation) does not grow unbounded.
type Cache struct {
	lru *lru.Cache[uint64, []TaskView]
}

// NewCache creates a Cache holding up to size recent versions.
func NewCache(size int) *Cache {
	if size <= 0 {
		size = 8
	}
	c, _ := lru.New[uint64, []TaskView](size)
	return &Cache{lru: c}
}

// Get returns the cached ready set for version, if present.
func (c *Cache) Get(version uint64) ([]TaskView, bool) {
	return c.lru.Get(version)
}

// Put stores the ready set for version.
func (c *Cache) Put(version uint64, ready []TaskView) {
	c.lru.Add(version, ready)
}

// Purge drops all cached versions. Nothing in the daemon calls it; cached
// entries otherwise leave only by LRU eviction.
func (c *Cache) Purge() {
	c.lru.Purge()
}
