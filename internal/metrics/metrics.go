// Package metrics exposes the daemon's own activity as Prometheus gauges and
// counters: spawner throughput, agent health, active-process concurrency and
// IPC backpressure. It is additive observability, not a spec requirement —
// the same ambient posture the corpus carries for every long-running
// process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"fuel/internal/health"
)

// Metrics holds every collector registered against one Registerer. Fields
// are exported for direct access (tests read them); the daemon updates them
// through the Record*/Set*/Sync* methods below.
type Metrics struct {
	TasksSpawned   *prometheus.CounterVec
	TasksCompleted *prometheus.CounterVec
	ActiveRuns     prometheus.Gauge
	AgentHealth    *prometheus.GaugeVec
	AgentFailures  *prometheus.CounterVec
	IPCDrops       prometheus.Counter
	IPCClients     prometheus.Gauge
	BoardSize      *prometheus.GaugeVec
	Paused         prometheus.Gauge
}

// New registers collectors against prometheus.DefaultRegisterer.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers collectors against reg, letting tests use a
// fresh prometheus.NewRegistry() instead of the global default.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksSpawned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "tasks_spawned_total",
			Help:      "Agent processes spawned, by agent and process type.",
		}, []string{"agent", "process_type"}),
		TasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "tasks_completed_total",
			Help:      "Agent processes completed, by process type and success.",
		}, []string{"process_type", "success"}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "active_runs",
			Help:      "Supervised agent processes currently running.",
		}),
		AgentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "agent_consecutive_failures",
			Help:      "Consecutive failure streak per agent, as tracked by the health tracker.",
		}, []string{"agent"}),
		AgentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "agent_failures_total",
			Help:      "Agent process failures, by agent and failure class.",
		}, []string{"agent", "class"}),
		IPCDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel",
			Name:      "ipc_dropped_messages_total",
			Help:      "IPC broadcast messages dropped due to a slow client exceeding its buffer ceiling.",
		}),
		IPCClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "ipc_clients",
			Help:      "Unix-socket clients currently attached.",
		}),
		BoardSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "board_tasks",
			Help:      "Tasks on the consume-facing board, by bucket.",
		}, []string{"bucket"}),
		Paused: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel",
			Name:      "spawner_paused",
			Help:      "1 when the task spawner is paused, 0 otherwise.",
		}),
	}

	collectors := []prometheus.Collector{
		m.TasksSpawned,
		m.TasksCompleted,
		m.ActiveRuns,
		m.AgentHealth,
		m.AgentFailures,
		m.IPCDrops,
		m.IPCClients,
		m.BoardSize,
		m.Paused,
	}
	for _, c := range collectors {
		reg.MustRegister(c)
	}
	return m
}

// RecordSpawn increments the spawn counter for one agent process launch.
func (m *Metrics) RecordSpawn(agent, processType string) {
	m.TasksSpawned.WithLabelValues(agent, processType).Inc()
}

// RecordCompletion increments the completion counter for one process exit.
func (m *Metrics) RecordCompletion(processType string, success bool) {
	m.TasksCompleted.WithLabelValues(processType, successLabel(success)).Inc()
}

// RecordFailure increments the per-agent, per-class failure counter.
func (m *Metrics) RecordFailure(agent string, class string) {
	m.AgentFailures.WithLabelValues(agent, class).Inc()
}

// RecordDrop increments the IPC drop counter by one.
func (m *Metrics) RecordDrop() {
	m.IPCDrops.Inc()
}

// SetActiveRuns sets the active-process gauge to n.
func (m *Metrics) SetActiveRuns(n int) {
	m.ActiveRuns.Set(float64(n))
}

// SetIPCClients sets the attached-client gauge to n.
func (m *Metrics) SetIPCClients(n int) {
	m.IPCClients.Set(float64(n))
}

// SetPaused sets the paused gauge to 1 or 0.
func (m *Metrics) SetPaused(paused bool) {
	if paused {
		m.Paused.Set(1)
		return
	}
	m.Paused.Set(0)
}

// SyncHealth replaces the per-agent consecutive-failure gauge with a fresh
// snapshot from the health tracker. Agents no longer present are left at
// their last reported value; the tracker never drops an agent once seen.
func (m *Metrics) SyncHealth(snap map[string]health.AgentHealth) {
	for agent, h := range snap {
		m.AgentHealth.WithLabelValues(agent).Set(float64(h.ConsecutiveFailures))
	}
}

// SyncBoard replaces the per-bucket task-count gauge from a board snapshot.
func (m *Metrics) SyncBoard(ready, inProgress, review, blocked, human, done int) {
	m.BoardSize.WithLabelValues("ready").Set(float64(ready))
	m.BoardSize.WithLabelValues("in_progress").Set(float64(inProgress))
	m.BoardSize.WithLabelValues("review").Set(float64(review))
	m.BoardSize.WithLabelValues("blocked").Set(float64(blocked))
	m.BoardSize.WithLabelValues("human").Set(float64(human))
	m.BoardSize.WithLabelValues("done").Set(float64(done))
}

func successLabel(success bool) string {
	if success {
		return "true"
	}
	return "false"
}
