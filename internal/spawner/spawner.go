// Package spawner implements the Task Spawner: the tick loop that turns the
// Ready Resolver's output into supervised agent processes, binding each
// ready task to an AgentTask variant, checking agent health and capacity,
// and claiming the task before handing it to the Supervisor.
package spawner

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joshjon/kit/log"

	"fuel/internal/agenttask"
	"fuel/internal/broker"
	"fuel/internal/config"
	"fuel/internal/epic"
	"fuel/internal/fuelctx"
	"fuel/internal/health"
	"fuel/internal/reality"
	"fuel/internal/resolver"
	"fuel/internal/review"
	"fuel/internal/supervisor"
	"fuel/internal/task"
)

// TaskSpawned is broadcast each time the Spawner hands a ready task to the
// Supervisor.
type TaskSpawned struct {
	TaskShortID string
	Agent       string
	ProcessType string
	RunID       int64
}

// CompletionHandler runs an AgentTask's lifecycle hooks once its process
// exits. The Spawner holds one and invokes it from a goroutine per spawned
// process; it never blocks the tick loop on a hook running.
type CompletionHandler interface {
	Handle(ctx context.Context, at agenttask.AgentTask, result agenttask.CompletionResult)
}

// Spawner owns the tick loop. It reads a consistent snapshot of tasks and
// epics each tick, resolves the ready set, and spawns what it can.
type Spawner struct {
	tasks    *task.Store
	epics    *epic.Store
	cfgStore *config.Store
	health   *health.Tracker
	sup      *supervisor.Supervisor
	fuelCtx  *fuelctx.Context
	reviews  review.Repository
	handler  CompletionHandler
	spawned  *broker.Broker[TaskSpawned]
	logger   log.Logger

	readyCache *resolver.Cache

	activeMu sync.Mutex
	active   map[string]bool

	paused   atomic.Bool
	interval atomic.Int64
}

// SetPaused stops (or resumes) the tick loop from spawning new work. Already
// running processes are unaffected; this is the IPC Pause/Resume command's
// effect on the Spawner.
func (s *Spawner) SetPaused(paused bool) {
	s.paused.Store(paused)
}

// Paused reports whether the Spawner is currently holding off on spawning.
func (s *Spawner) Paused() bool {
	return s.paused.Load()
}

// New creates a Spawner.
func New(
	tasks *task.Store,
	epics *epic.Store,
	cfgStore *config.Store,
	healthTracker *health.Tracker,
	sup *supervisor.Supervisor,
	fuelCtx *fuelctx.Context,
	reviews review.Repository,
	handler CompletionHandler,
	spawned *broker.Broker[TaskSpawned],
	logger log.Logger,
) *Spawner {
	return &Spawner{
		tasks:    tasks,
		epics:    epics,
		cfgStore: cfgStore,
		health:   healthTracker,
		sup:      sup,
		fuelCtx:  fuelCtx,
		reviews:  reviews,
		handler:  handler,
		spawned:    spawned,
		logger:     logger.With("component", "spawner"),
		readyCache: resolver.NewCache(8),
		active:     make(map[string]bool),
	}
}

// Run ticks on interval, or sooner whenever a task or epic mutation may have
// changed the ready set, until ctx is cancelled. SetInterval can change the
// tick period while Run is already looping.
func (s *Spawner) Run(ctx context.Context, interval time.Duration) {
	s.interval.Store(int64(interval))
	timer := time.NewTimer(interval)
	defer timer.Stop()

	taskCh := s.tasks.WaitForChange()
	epicCh := s.epics.WaitForChange()

	for {
		s.tick(ctx)

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-taskCh:
		case <-epicCh:
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(time.Duration(s.interval.Load()))
	}
}

// SetInterval changes the tick period a running Spawner uses from its next
// tick onward.
func (s *Spawner) SetInterval(d time.Duration) {
	s.interval.Store(int64(d))
}

// snapshotVersion hashes the (short, updated_at) pairs of every task and
// epic into an opaque cache key. Two ticks that observe the same version
// saw no task or epic mutation in between, so the Ready Resolver's output
// can be reused instead of recomputed.
func snapshotVersion(tasks []*task.Task, epics []*epic.Epic) uint64 {
	keys := make([]string, 0, len(tasks)+len(epics))
	for _, t := range tasks {
		keys = append(keys, "t:"+t.Short+":"+strconv.FormatInt(t.UpdatedAt.UnixNano(), 10))
	}
	for _, e := range epics {
		keys = append(keys, "e:"+e.Short+":"+strconv.FormatInt(e.UpdatedAt.UnixNano(), 10))
	}
	sort.Strings(keys)

	h := fnv.New64a()
	for _, k := range keys {
		_, _ = h.Write([]byte(k))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (s *Spawner) tick(ctx context.Context) {
	if s.paused.Load() {
		return
	}
	cfg := s.cfgStore.Get()

	tasks, err := s.tasks.All(ctx)
	if err != nil {
		s.logger.Info("list tasks failed", "err", err.Error())
		return
	}
	epics, err := s.epics.All(ctx)
	if err != nil {
		s.logger.Info("list epics failed", "err", err.Error())
		return
	}

	byShort := make(map[string]*task.Task, len(tasks))
	epicViews := make(map[string]resolver.EpicView, len(epics))
	taskViews := make([]resolver.TaskView, 0, len(tasks))
	var reviewTasks []*task.Task
	for _, t := range tasks {
		byShort[t.Short] = t
		if t.Status == task.StatusReview {
			reviewTasks = append(reviewTasks, t)
		}
		taskViews = append(taskViews, resolver.TaskView{
			Short:     t.Short,
			Status:    string(t.Status),
			Labels:    t.Labels,
			BlockedBy: t.BlockedBy,
			EpicID:    t.EpicID,
			Priority:  t.Priority,
			CreatedAt: t.CreatedAt,
		})
	}
	for _, e := range epics {
		epicViews[e.Short] = resolver.EpicView{
			Short:          e.Short,
			Paused:         e.PausedAt != nil,
			MirrorsEnabled: e.MirrorStatus != epic.MirrorNone,
			MirrorStatus:   string(e.MirrorStatus),
		}
	}

	version := snapshotVersion(tasks, epics)
	ready, ok := s.readyCache.Get(version)
	if !ok {
		ready = resolver.Resolve(resolver.Input{Tasks: taskViews, Epics: epicViews})
		s.readyCache.Put(version, ready)
	}

	for _, rv := range ready {
		t, ok := byShort[rv.Short]
		if !ok || s.isActive(t.Short) {
			continue
		}
		at, err := s.buildAgentTask(ctx, t)
		if err != nil {
			s.logger.Info("build agent task failed", "task", t.Short, "err", err.Error())
			continue
		}
		cwd, err := s.cwdFor(ctx, t.EpicID)
		if err != nil {
			s.logger.Info("resolve cwd failed", "task", t.Short, "err", err.Error())
			continue
		}
		s.trySpawn(ctx, at, cfg, cwd)
	}

	for _, t := range reviewTasks {
		rv := agenttask.NewReview(t.Short, t.ID, s.tasks, s.reviews)
		if s.isActive(rv.TaskShortID()) {
			continue
		}
		cwd, err := s.cwdFor(ctx, t.EpicID)
		if err != nil {
			s.logger.Info("resolve cwd failed", "task", t.Short, "err", err.Error())
			continue
		}
		s.trySpawn(ctx, rv, cfg, cwd)
	}
}

// buildAgentTask picks the AgentTask variant for a ready task: MergeEpic and
// UpdateReality for their dedicated types, SelfGuided for tasks in a
// self-guided epic, Work otherwise.
func (s *Spawner) buildAgentTask(ctx context.Context, t *task.Task) (agenttask.AgentTask, error) {
	switch t.Type {
	case task.TypeMerge:
		if t.EpicID == "" {
			return nil, fmt.Errorf("merge task %s has no epic", t.Short)
		}
		e, err := s.epics.Find(ctx, t.EpicID)
		if err != nil {
			return nil, err
		}
		doc, err := reality.Read(s.fuelCtx)
		if err != nil {
			return nil, err
		}
		if e.MirrorStatus == epic.MirrorReady {
			if err := s.epics.SetMirrorStatus(ctx, e.Short, epic.MirrorMerging); err != nil {
				return nil, err
			}
			e.MirrorStatus = epic.MirrorMerging
		}
		return agenttask.NewMergeEpic(t, e, reality.ParseQualityGates(doc), s.tasks, s.epics), nil
	case task.TypeReality:
		return agenttask.NewUpdateReality(t, s.fuelCtx, s.tasks), nil
	default:
		if t.EpicID != "" {
			e, err := s.epics.Find(ctx, t.EpicID)
			if err != nil {
				return nil, err
			}
			if e.SelfGuided {
				return agenttask.NewSelfGuided(t, e, s.tasks), nil
			}
		}
		return agenttask.NewWork(t, s.tasks).WithConfig(s.cfgStore.Get()), nil
	}
}

// cwdFor resolves the working directory a task's process should run in: an
// epic's mirror working copy once it's ready, the project root otherwise.
func (s *Spawner) cwdFor(ctx context.Context, epicID string) (string, error) {
	if epicID == "" {
		return s.fuelCtx.ProjectRoot, nil
	}
	e, err := s.epics.Find(ctx, epicID)
	if err != nil {
		return "", err
	}
	if e.UsesMirror() {
		return e.MirrorPath, nil
	}
	return s.fuelCtx.ProjectRoot, nil
}

// trySpawn claims the spawn slot for at's task id before attempting to
// spawn, releasing the slot immediately if the attempt doesn't pan out.
func (s *Spawner) trySpawn(ctx context.Context, at agenttask.AgentTask, cfg config.Config, cwd string) {
	if !s.markActive(at.TaskShortID()) {
		return
	}
	if !s.spawnOne(ctx, at, cfg, cwd, "") {
		s.clearActive(at.TaskShortID())
	}
}

// SpawnNow builds the AgentTask variant for ref and hands it straight to the
// Supervisor, skipping the resolver's readiness check. This backs the IPC
// TaskStart command, which lets a client force a specific task to run now.
// It still respects agent health, capacity, and the active-task guard.
func (s *Spawner) SpawnNow(ctx context.Context, ref, agentOverride string) error {
	t, err := s.tasks.Find(ctx, ref)
	if err != nil {
		return err
	}
	if !s.markActive(t.Short) {
		return fmt.Errorf("task %s is already active", t.Short)
	}
	at, err := s.buildAgentTask(ctx, t)
	if err != nil {
		s.clearActive(t.Short)
		return err
	}
	cwd, err := s.cwdFor(ctx, t.EpicID)
	if err != nil {
		s.clearActive(t.Short)
		return err
	}
	if !s.spawnOne(ctx, at, s.cfgStore.Get(), cwd, agentOverride) {
		s.clearActive(t.Short)
		return fmt.Errorf("spawn %s failed", t.Short)
	}
	return nil
}

// target resolves the claimable task short id and Run.task_id for an
// AgentTask, plus the short id a needs-human blocker should attach to on a
// non-retryable spawn failure. Review has no claimable task row of its
// own — the original task stays in its review status throughout.
func target(at agenttask.AgentTask) (claimRef string, taskID int64, humanRef string) {
	switch v := at.(type) {
	case *agenttask.Work:
		return v.Task.Short, v.Task.ID, v.Task.Short
	case *agenttask.MergeEpic:
		return v.Task.Short, v.Task.ID, v.Task.Short
	case *agenttask.UpdateReality:
		return v.Task.Short, v.Task.ID, v.Task.Short
	case *agenttask.SelfGuided:
		return v.Task.Short, v.Task.ID, v.Task.Short
	case *agenttask.Review:
		return "", v.OriginalID, v.OriginalShort
	default:
		return "", 0, ""
	}
}

func (s *Spawner) spawnOne(ctx context.Context, at agenttask.AgentTask, cfg config.Config, cwd, agentOverride string) bool {
	agentName, ok := at.GetAgentName(cfg)
	if agentOverride != "" {
		agentName, ok = agentOverride, true
	}
	if !ok {
		s.logger.Info("no agent configured for task", "task", at.TaskShortID(), "process", at.ProcessType())
		return false
	}
	if !s.health.IsAvailable(agentName, time.Now()) {
		return false
	}
	agentCfg, ok := cfg.Agents[agentName]
	if !ok {
		s.logger.Info("agent not defined", "agent", agentName, "task", at.TaskShortID())
		return false
	}

	prompt, err := at.BuildPrompt(ctx, cwd)
	if err != nil {
		s.logger.Info("build prompt failed", "task", at.TaskShortID(), "err", err.Error())
		return false
	}

	claimRef, taskID, humanRef := target(at)
	if claimRef != "" {
		if _, err := s.tasks.Start(ctx, claimRef, 0); err != nil {
			s.logger.Info("claim task failed", "task", claimRef, "err", err.Error())
			return false
		}
	}

	req := supervisor.SpawnRequest{
		TaskID:      taskID,
		TaskShortID: at.TaskShortID(),
		DriverName:  agentCfg.Driver,
		Command:     agentCfg.Command,
		Model:       agentCfg.Model,
		MaxConcur:   agentCfg.MaxConcurrent,
		AgentName:   agentName,
		Prompt:      prompt,
		Cwd:         cwd,
		Env:         agentCfg.Env,
	}

	proc, err := s.sup.Spawn(ctx, req)
	if err != nil {
		if claimRef != "" {
			_ = s.tasks.Reopen(ctx, claimRef)
		}
		switch {
		case errors.Is(err, supervisor.ErrAgentNotFound), errors.Is(err, supervisor.ErrConfigError):
			s.flagNeedsHuman(ctx, humanRef, err.Error())
		case errors.Is(err, supervisor.ErrAtCapacity):
		default:
			s.logger.Info("spawn failed", "task", at.TaskShortID(), "err", err.Error())
		}
		return false
	}

	if claimRef != "" {
		_ = s.tasks.SetConsumePID(ctx, claimRef, proc.PID)
	}

	if rv, ok := at.(*agenttask.Review); ok {
		rec := review.New(taskID, proc.RunID, agentName)
		if err := s.reviews.Create(ctx, rec); err != nil {
			s.logger.Info("create review row failed", "task", rv.OriginalShort, "err", err.Error())
		} else {
			rv.ReviewID = rec.ID
		}
	}

	s.spawned.Publish(TaskSpawned{
		TaskShortID: at.TaskShortID(),
		Agent:       agentName,
		ProcessType: string(at.ProcessType()),
		RunID:       proc.RunID,
	})
	s.logger.Info("task spawned", "task", at.TaskShortID(), "agent", agentName, "process", at.ProcessType())

	go func() {
		result := proc.Wait()
		s.handler.Handle(context.Background(), at, result)
		s.clearActive(at.TaskShortID())
	}()
	return true
}

// flagNeedsHuman creates a needs-human blocker task for a ready task whose
// spawn failed for a reason retrying won't fix (an unregistered driver or
// missing command/model), mirroring the blocker pattern the Completion
// Handler uses for permission failures.
func (s *Spawner) flagNeedsHuman(ctx context.Context, ref, reason string) {
	if ref == "" {
		return
	}
	t, err := s.tasks.Find(ctx, ref)
	if err != nil {
		return
	}
	if t.HasLabel(task.LabelNeedsHuman) {
		return
	}
	human := task.New("NEEDS HUMAN: "+t.Title, reason, task.TypeTask, t.Priority, t.Complexity)
	human.Labels = append(human.Labels, task.LabelNeedsHuman)
	if err := s.tasks.Create(ctx, human); err != nil {
		s.logger.Info("needs-human task create failed", "task", ref, "err", err.Error())
		return
	}
	if err := s.tasks.AddDependency(ctx, t.Short, human.Short); err != nil {
		s.logger.Info("needs-human dependency add failed", "task", ref, "err", err.Error())
	}
}

func (s *Spawner) isActive(short string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.active[short]
}

func (s *Spawner) markActive(short string) bool {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	if s.active[short] {
		return false
	}
	s.active[short] = true
	return true
}

func (s *Spawner) clearActive(short string) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	delete(s.active, short)
}

// ActiveCount reports how many spawns are currently in flight, for
// diagnostics.
func (s *Spawner) ActiveCount() int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return len(s.active)
}
