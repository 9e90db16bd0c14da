// Package daemon wires every Fuel component into a single long-running
// process: config, storage, the health tracker, the supervisor, the
// spawner, the completion handler, the mirror manager, the snapshot
// builder, the metrics registry, and the IPC server, then runs them until
// told to stop.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/joshjon/kit/log"

	"fuel/internal/broker"
	"fuel/internal/completion"
	"fuel/internal/config"
	"fuel/internal/driver"
	"fuel/internal/epic"
	"fuel/internal/fuelctx"
	"fuel/internal/health"
	"fuel/internal/ipc"
	"fuel/internal/metrics"
	"fuel/internal/mirror"
	"fuel/internal/reality"
	"fuel/internal/run"
	"fuel/internal/snapshot"
	"fuel/internal/spawner"
	"fuel/internal/sqlitestore"
	"fuel/internal/supervisor"
	"fuel/internal/task"
)

// Daemon owns every long-running component and their goroutines.
type Daemon struct {
	fuelCtx  *fuelctx.Context
	cfgStore *config.Store
	logger   log.Logger

	store *sqlitestore.Store

	tasks *task.Store
	epics *epic.Store
	runs  *run.Store

	health  *health.Tracker
	sup     *supervisor.Supervisor
	spawn   *spawner.Spawner
	handler *completion.Handler
	mirrors *mirror.Manager
	snap    *snapshot.Builder
	ipc     *ipc.Server
	metrics *metrics.Metrics

	spawnedCh   *broker.Broker[spawner.TaskSpawned]
	completedCh *broker.Broker[completion.TaskCompleted]
	healthCh    *broker.Broker[completion.HealthChange]
	outputCh    *broker.Broker[supervisor.OutputChunk]

	instanceID string
	startedAt  time.Time
}

// New constructs a Daemon from a resolved project context and config store,
// opening the SQLite store and wiring every component against it. The
// returned closer releases the database handle.
func New(ctx context.Context, fuelCtx *fuelctx.Context, cfgStore *config.Store, logger log.Logger) (*Daemon, func(), error) {
	if err := fuelCtx.EnsureLayout(); err != nil {
		return nil, nil, fmt.Errorf("ensure layout: %w", err)
	}
	if err := ensureRealityDoc(fuelCtx); err != nil {
		return nil, nil, fmt.Errorf("seed reality document: %w", err)
	}

	dbDir := fuelCtx.FuelDir
	if os.Getenv("FUEL_SQLITE_IN_MEMORY") == "true" {
		dbDir = ""
	}
	store, closeStore, err := sqlitestore.Open(ctx, dbDir)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	taskStore := task.NewStore(store.Tasks, store.Reviews, logger)
	epicStore := epic.NewStore(store.Epics, &taskStatusReader{tasks: taskStore}, &planWriter{fuelCtx: fuelCtx}, logger)
	runStore := run.NewStore(store.Runs, logger)

	healthTracker := health.New()
	drivers := driver.NewRegistry()

	spawnedCh := broker.New[spawner.TaskSpawned]()
	completedCh := broker.New[completion.TaskCompleted]()
	healthCh := broker.New[completion.HealthChange]()
	outputCh := broker.New[supervisor.OutputChunk]()

	sup := supervisor.New(drivers, runStore, outputCh, fuelCtx, logger)
	handler := completion.New(taskStore, healthTracker, cfgStore, completedCh, healthCh, logger)

	sp := spawner.New(taskStore, epicStore, cfgStore, healthTracker, sup, fuelCtx, store.Reviews, handler, spawnedCh, logger)

	mirrors := mirror.New(epicStore, fuelCtx, logger)

	instanceID := uuid.NewString()
	startedAt := time.Now()
	snap := snapshot.New(taskStore, epicStore, runStore, cfgStore, healthTracker, sup, instanceID, startedAt)

	ipcServer := ipc.New(fuelCtx.SocketPath(), instanceID, taskStore, cfgStore, healthTracker, sp, snap, logger)

	m := metrics.New()

	d := &Daemon{
		fuelCtx:     fuelCtx,
		cfgStore:    cfgStore,
		logger:      logger.With("component", "daemon"),
		store:       store,
		tasks:       taskStore,
		epics:       epicStore,
		runs:        runStore,
		health:      healthTracker,
		sup:         sup,
		spawn:       sp,
		handler:     handler,
		mirrors:     mirrors,
		snap:        snap,
		ipc:         ipcServer,
		metrics:     m,
		spawnedCh:   spawnedCh,
		completedCh: completedCh,
		healthCh:    healthCh,
		outputCh:    outputCh,
		instanceID:  instanceID,
		startedAt:   startedAt,
	}
	return d, closeStore, nil
}

func ensureRealityDoc(fuelCtx *fuelctx.Context) error {
	if _, err := os.Stat(fuelCtx.RealityPath()); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return err
	}
	return reality.Write(fuelCtx, reality.DefaultDocument(fuelCtx.ProjectName()))
}

// Run starts every background loop and blocks until ctx is cancelled or an
// IPC client sends the Stop command. On return the daemon has finished
// shutting down its loops, but the caller is still responsible for closing
// the store handle returned by New.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.ipc.Listen(); err != nil {
		return err
	}
	defer d.ipc.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg := d.cfgStore.Get()
	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var wg sync.WaitGroup
	wg.Add(7)
	go func() { defer wg.Done(); d.spawn.Run(runCtx, interval) }()
	go func() { defer wg.Done(); d.mirrors.Run(runCtx, interval) }()
	go func() { defer wg.Done(); d.reapStaleTasks(runCtx, interval) }()
	go func() { defer wg.Done(); d.reapStaleRuns(runCtx, interval) }()
	go func() { defer wg.Done(); d.syncMetrics(runCtx, interval) }()
	go func() { defer wg.Done(); d.countMetricsEvents(runCtx) }()
	go func() {
		defer wg.Done()
		d.ipc.Run(runCtx, d.spawnedCh, d.completedCh, d.healthCh, d.outputCh)
	}()

	if addr := cfg.MetricsAddr; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metrics.Serve(runCtx, addr); err != nil {
				d.logger.Info("metrics listener stopped", "err", err.Error())
			}
		}()
	}

	d.logger.Info("daemon started", "instance_id", d.instanceID, "socket", d.fuelCtx.SocketPath())

	select {
	case <-ctx.Done():
	case req := <-d.ipc.StopRequests():
		d.logger.Info("stop requested over ipc", "graceful", req.Graceful)
		if req.Graceful {
			d.waitForGracefulShutdown(runCtx, cfg)
		}
	}

	cancel()
	wg.Wait()
	d.logger.Info("daemon stopped")
	return nil
}

// waitForGracefulShutdown pauses the spawner and waits up to
// ShutdownGraceSeconds for active processes to finish on their own before
// Run cancels runCtx out from under them.
func (d *Daemon) waitForGracefulShutdown(ctx context.Context, cfg config.Config) {
	d.spawn.SetPaused(true)
	grace := time.Duration(cfg.ShutdownGraceSeconds) * time.Second
	if grace <= 0 {
		return
	}
	deadline := time.After(grace)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case <-ticker.C:
			running, err := d.runs.ListRunning(ctx)
			if err != nil || len(running) == 0 {
				return
			}
		}
	}
}

func (d *Daemon) reapStaleTasks(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timeout := time.Duration(d.cfgStore.Get().TaskTimeoutSeconds) * time.Second
			if timeout <= 0 {
				continue
			}
			n, err := d.tasks.ReapStale(ctx, timeout)
			if err != nil {
				d.logger.Info("reap stale tasks failed", "err", err.Error())
			} else if n > 0 {
				d.logger.Info("reaped stale tasks", "count", n)
			}
		}
	}
}

func (d *Daemon) reapStaleRuns(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			timeout := time.Duration(d.cfgStore.Get().TaskTimeoutSeconds) * time.Second
			if timeout <= 0 {
				continue
			}
			reaped, err := d.runs.ReapStale(ctx, timeout)
			if err != nil {
				d.logger.Info("reap stale runs failed", "err", err.Error())
			} else if len(reaped) > 0 {
				d.logger.Info("reaped stale runs", "count", len(reaped))
			}
		}
	}
}

// syncMetrics polls the same snapshot the IPC layer broadcasts and reflects
// it onto the Prometheus gauges, rather than threading counters through
// every component that could touch them.
func (d *Daemon) syncMetrics(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap, err := d.snap.Build(ctx)
			if err != nil {
				d.logger.Info("metrics snapshot build failed", "err", err.Error())
				continue
			}
			d.metrics.SyncHealth(snap.AgentHealth)
			d.metrics.SyncBoard(len(snap.Ready), len(snap.InProgress), len(snap.Review),
				len(snap.Blocked), len(snap.Human), len(snap.Done))
			d.metrics.SetActiveRuns(len(snap.ActiveProcesses))
			d.metrics.SetPaused(snap.Paused)
		}
	}
}

// countMetricsEvents subscribes its own feed on each broker so its presence
// never competes with the IPC layer's subscriber buffers.
func (d *Daemon) countMetricsEvents(ctx context.Context) {
	spawnedCh := d.spawnedCh.Subscribe(64)
	completedCh := d.completedCh.Subscribe(64)
	healthCh := d.healthCh.Subscribe(64)
	defer d.spawnedCh.Unsubscribe(spawnedCh)
	defer d.completedCh.Unsubscribe(completedCh)
	defer d.healthCh.Unsubscribe(healthCh)

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-spawnedCh:
			d.metrics.RecordSpawn(ev.Agent, ev.ProcessType)
		case ev := <-completedCh:
			d.metrics.RecordCompletion(ev.ProcessType, ev.Success)
		case ev := <-healthCh:
			if ev.After == health.StatusDegraded || ev.After == health.StatusUnhealthy {
				d.metrics.RecordFailure(ev.Agent, string(ev.After))
			}
		}
	}
}
