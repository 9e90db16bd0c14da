// Package snapshot implements the Snapshot Builder: it recomputes a
// ConsumeSnapshot from one consistent read of tasks, epics, and runs, and
// decides whether the result is worth broadcasting by hashing board
// composition against the last broadcast one.
package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fuel/internal/config"
	"fuel/internal/epic"
	"fuel/internal/health"
	"fuel/internal/run"
	"fuel/internal/supervisor"
	"fuel/internal/task"
)

// TaskSummary is the per-task projection carried in a ConsumeSnapshot bucket.
type TaskSummary struct {
	Short    string   `json:"short"`
	Title    string   `json:"title"`
	Status   string   `json:"status"`
	Priority int      `json:"priority"`
	EpicID   string   `json:"epic_id,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// ProcessSummary describes one actively supervised agent process.
type ProcessSummary struct {
	TaskShortID string    `json:"task_short_id"`
	RunID       int64     `json:"run_id"`
	Agent       string    `json:"agent"`
	PID         int       `json:"pid"`
	StartedAt   time.Time `json:"started_at"`
}

// EpicSummary is the per-epic projection carried in a ConsumeSnapshot.
type EpicSummary struct {
	Short        string `json:"short"`
	Title        string `json:"title"`
	Paused       bool   `json:"paused"`
	MirrorStatus string `json:"mirror_status"`
}

// ConsumeSnapshot is the full picture broadcast to IPC clients: six task
// buckets, active process descriptors, agent health, runner flags, and the
// epics any of those tasks belong to.
type ConsumeSnapshot struct {
	Ready      []TaskSummary `json:"ready"`
	InProgress []TaskSummary `json:"in_progress"`
	Review     []TaskSummary `json:"review"`
	Blocked    []TaskSummary `json:"blocked"`
	Human      []TaskSummary `json:"human"`
	Done       []TaskSummary `json:"done"`

	ActiveProcesses []ProcessSummary              `json:"active_processes"`
	AgentHealth     map[string]health.AgentHealth `json:"agent_health"`
	Concurrency     map[string]int                `json:"concurrency"`
	Epics           []EpicSummary                 `json:"epics"`

	Paused     bool           `json:"paused"`
	StartedAt  time.Time      `json:"started_at"`
	InstanceID string         `json:"-"` // sent on the wire by the message envelope's instance_id
	IntervalMS int64          `json:"interval_ms"`
	DropCounts map[string]int `json:"drop_counts,omitempty"`

	Hash string `json:"-"`
}

// Builder recomputes a ConsumeSnapshot on demand and tracks the hash of the
// last one it returned, so callers can tell whether a broadcast is needed.
type Builder struct {
	tasks    *task.Store
	epics    *epic.Store
	runs     *run.Store
	cfgStore *config.Store
	health   *health.Tracker
	sup      *supervisor.Supervisor

	instanceID string
	startedAt  time.Time

	mu        sync.Mutex
	paused    bool
	lastHash  string
	dropCount map[string]int
}

// New creates a Builder.
func New(
	tasks *task.Store,
	epics *epic.Store,
	runs *run.Store,
	cfgStore *config.Store,
	healthTracker *health.Tracker,
	sup *supervisor.Supervisor,
	instanceID string,
	startedAt time.Time,
) *Builder {
	return &Builder{
		tasks:      tasks,
		epics:      epics,
		runs:       runs,
		cfgStore:   cfgStore,
		health:     healthTracker,
		sup:        sup,
		instanceID: instanceID,
		startedAt:  startedAt,
		dropCount:  make(map[string]int),
	}
}

// SetPaused records the runner's paused flag for the next snapshot build.
func (b *Builder) SetPaused(paused bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = paused
}

// RecordDrop increments a client's output-chunk drop counter, surfaced in the
// next snapshot build.
func (b *Builder) RecordDrop(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropCount[clientID]++
}

// Build computes a ConsumeSnapshot from one consistent read of tasks, epics,
// and runs.
func (b *Builder) Build(ctx context.Context) (ConsumeSnapshot, error) {
	tasks, err := b.tasks.All(ctx)
	if err != nil {
		return ConsumeSnapshot{}, err
	}
	epics, err := b.epics.All(ctx)
	if err != nil {
		return ConsumeSnapshot{}, err
	}
	running, err := b.runs.ListRunning(ctx)
	if err != nil {
		return ConsumeSnapshot{}, err
	}

	epicByShort := make(map[string]*epic.Epic, len(epics))
	usedEpics := make(map[string]bool)
	for _, e := range epics {
		epicByShort[e.Short] = e
	}
	taskByID := make(map[int64]*task.Task, len(tasks))
	for _, t := range tasks {
		taskByID[t.ID] = t
	}

	snap := ConsumeSnapshot{
		AgentHealth: b.health.Snapshot(),
		Concurrency: b.sup.Snapshot(),
		InstanceID:  b.instanceID,
		StartedAt:   b.startedAt,
		IntervalMS:  int64(b.cfgStore.Get().IntervalSeconds) * 1000,
	}

	readySet := readyShortIDs(tasks, epicByShort)

	for _, t := range tasks {
		sum := TaskSummary{
			Short:    t.Short,
			Title:    t.Title,
			Status:   string(t.Status),
			Priority: t.Priority,
			EpicID:   t.EpicID,
			Labels:   t.Labels,
		}
		if t.EpicID != "" {
			usedEpics[t.EpicID] = true
		}

		switch {
		case t.HasLabel(task.LabelNeedsHuman):
			snap.Human = append(snap.Human, sum)
		case t.Status == task.StatusDone || t.Status == task.StatusCancelled:
			snap.Done = append(snap.Done, sum)
		case t.Status == task.StatusInProgress:
			snap.InProgress = append(snap.InProgress, sum)
		case t.Status == task.StatusReview:
			snap.Review = append(snap.Review, sum)
		case t.Status == task.StatusOpen && readySet[t.Short]:
			snap.Ready = append(snap.Ready, sum)
		case t.Status == task.StatusOpen || t.Status == task.StatusPaused || t.Status == task.StatusSomeday:
			snap.Blocked = append(snap.Blocked, sum)
		}
	}

	for _, r := range running {
		taskShort := ""
		if t, ok := taskByID[r.TaskID]; ok {
			taskShort = t.Short
			if t.EpicID != "" {
				usedEpics[t.EpicID] = true
			}
		}
		snap.ActiveProcesses = append(snap.ActiveProcesses, ProcessSummary{
			TaskShortID: taskShort,
			RunID:       r.ID,
			Agent:       r.Agent,
			PID:         r.PID,
			StartedAt:   r.StartedAt,
		})
	}

	for _, e := range epics {
		if !usedEpics[e.Short] {
			continue
		}
		snap.Epics = append(snap.Epics, EpicSummary{
			Short:        e.Short,
			Title:        e.Title,
			Paused:       e.PausedAt != nil,
			MirrorStatus: string(e.MirrorStatus),
		})
	}

	b.mu.Lock()
	snap.Paused = b.paused
	if len(b.dropCount) > 0 {
		snap.DropCounts = make(map[string]int, len(b.dropCount))
		for k, v := range b.dropCount {
			snap.DropCounts[k] = v
		}
	}
	b.mu.Unlock()

	snap.Hash = hashSnapshot(snap)
	return snap, nil
}

// Changed reports whether snap's hash differs from the last one this Builder
// returned as changed, atomically recording it as the new baseline when it
// does. A caller that always calls Changed before broadcasting never sends
// two identical snapshots in a row.
func (b *Builder) Changed(snap ConsumeSnapshot) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if snap.Hash == b.lastHash {
		return false
	}
	b.lastHash = snap.Hash
	return true
}

// readyShortIDs computes the set of task short ids eligible to be spawned,
// using the same readiness rule the resolver applies, restricted to the
// short-id membership test the snapshot buckets need.
func readyShortIDs(tasks []*task.Task, epicByShort map[string]*epic.Epic) map[string]bool {
	byShort := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byShort[t.Short] = t
	}

	anyMerging := false
	for _, e := range epicByShort {
		if e.MirrorStatus == epic.MirrorMerging {
			anyMerging = true
			break
		}
	}

	ready := make(map[string]bool)
	for _, t := range tasks {
		if t.Status != task.StatusOpen || t.HasLabel(task.LabelNeedsHuman) {
			continue
		}
		if !allBlockersTerminal(t, byShort) {
			continue
		}
		if t.EpicID != "" {
			e, ok := epicByShort[t.EpicID]
			if !ok || e.PausedAt != nil {
				continue
			}
			switch e.MirrorStatus {
			case epic.MirrorNone, epic.MirrorReady, epic.MirrorMerging, epic.MirrorMerged, epic.MirrorCleaned:
			default:
				continue
			}
		} else if anyMerging {
			continue
		}
		ready[t.Short] = true
	}
	return ready
}

func allBlockersTerminal(t *task.Task, byShort map[string]*task.Task) bool {
	for _, blocker := range t.BlockedBy {
		b, ok := byShort[blocker]
		if !ok {
			return false
		}
		if b.Status != task.StatusDone && b.Status != task.StatusCancelled {
			return false
		}
	}
	return true
}

// hashSnapshot hashes sorted short-id lists per bucket, the set of active
// process run ids, and the paused flag. Agent health and concurrency numbers
// deliberately don't participate: they change every tick and would defeat
// dedup, and clients already get them fresh on every emitted snapshot.
func hashSnapshot(snap ConsumeSnapshot) string {
	h := sha256.New()
	writeBucket := func(label string, items []TaskSummary) {
		shorts := make([]string, len(items))
		for i, s := range items {
			shorts[i] = s.Short
		}
		sort.Strings(shorts)
		h.Write([]byte(label))
		h.Write([]byte(strings.Join(shorts, ",")))
		h.Write([]byte{0})
	}
	writeBucket("ready", snap.Ready)
	writeBucket("in_progress", snap.InProgress)
	writeBucket("review", snap.Review)
	writeBucket("blocked", snap.Blocked)
	writeBucket("human", snap.Human)
	writeBucket("done", snap.Done)

	runIDs := make([]string, len(snap.ActiveProcesses))
	for i, p := range snap.ActiveProcesses {
		runIDs[i] = strconv.FormatInt(p.RunID, 10)
	}
	sort.Strings(runIDs)
	h.Write([]byte("active:"))
	h.Write([]byte(strings.Join(runIDs, ",")))

	if snap.Paused {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil))
}
