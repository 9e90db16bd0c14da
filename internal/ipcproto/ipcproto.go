// Package ipcproto defines the wire contract of the local IPC socket:
// commands clients send and events the daemon broadcasts back, each a flat
// JSON object carrying a type, timestamp, instance id, and optional request
// id alongside its own fields. Messages are newline-delimited; a writer
// never emits a partial line.
package ipcproto

import (
	"encoding/json"
	"time"

	"fuel/internal/snapshot"
)

// Command type discriminators.
const (
	CmdStop            = "Stop"
	CmdPause           = "Pause"
	CmdResume          = "Resume"
	CmdReloadConfig    = "ReloadConfig"
	CmdSetInterval     = "SetInterval"
	CmdRequestSnapshot = "RequestSnapshot"
	CmdTaskStart       = "TaskStart"
	CmdTaskReopen      = "TaskReopen"
	CmdTaskDone        = "TaskDone"
	CmdTaskCreate      = "TaskCreate"
	CmdTaskStartOver   = "TaskStartOver"
	CmdDependencyAdd   = "DependencyAdd"
	CmdHealthReset     = "HealthReset"
	CmdListDoneTasks   = "ListDoneTasks"
	CmdListBlocked     = "ListBlockedTasks"
	CmdListCompleted   = "ListCompletedTasks"
)

// Event type discriminators.
const (
	EvtHello             = "Hello"
	EvtSnapshot          = "Snapshot"
	EvtStatusLine        = "StatusLine"
	EvtTaskSpawned       = "TaskSpawned"
	EvtTaskCompleted     = "TaskCompleted"
	EvtHealthChange      = "HealthChange"
	EvtOutputChunk       = "OutputChunk"
	EvtConfigReloaded    = "ConfigReloaded"
	EvtError             = "Error"
	EvtReviewCompleted   = "ReviewCompleted"
	EvtTaskCreateResp    = "TaskCreateResponse"
	EvtDoneTasks         = "DoneTasks"
	EvtBlockedTasks      = "BlockedTasks"
	EvtCompletedTasks    = "CompletedTasks"
)

// Envelope carries the fields every message shares. Embedding it in a
// command or event struct flattens these into the same JSON object as the
// struct's own fields, matching the wire format's single flat object per
// message.
type Envelope struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	InstanceID string    `json:"instance_id"`
	RequestID  string    `json:"request_id,omitempty"`
}

// NewEnvelope stamps a message with the current time and the given instance
// and request ids. requestID may be empty for daemon-originated broadcasts
// with no originating command.
func NewEnvelope(typ, instanceID, requestID string) Envelope {
	return Envelope{Type: typ, Timestamp: time.Now(), InstanceID: instanceID, RequestID: requestID}
}

// typeProbe decodes only the discriminator so the dispatcher can pick the
// concrete command type to fully unmarshal into.
type typeProbe struct {
	Type string `json:"type"`
}

// PeekType returns the "type" field of a raw message line without decoding
// the rest of it.
func PeekType(line []byte) (string, error) {
	var p typeProbe
	if err := json.Unmarshal(line, &p); err != nil {
		return "", err
	}
	return p.Type, nil
}

// Commands (client -> daemon).

type StopCommand struct {
	Envelope
	Graceful bool `json:"graceful"`
}

type PauseCommand struct {
	Envelope
}

type ResumeCommand struct {
	Envelope
}

type ReloadConfigCommand struct {
	Envelope
}

type SetIntervalCommand struct {
	Envelope
	Seconds int `json:"seconds"`
}

type RequestSnapshotCommand struct {
	Envelope
}

type TaskStartCommand struct {
	Envelope
	TaskID        string `json:"task_id"`
	AgentOverride string `json:"agent_override,omitempty"`
}

type TaskReopenCommand struct {
	Envelope
	TaskID string `json:"task_id"`
}

type TaskDoneCommand struct {
	Envelope
	TaskID     string `json:"task_id"`
	Reason     string `json:"reason,omitempty"`
	CommitHash string `json:"commit_hash,omitempty"`
}

type TaskCreateCommand struct {
	Envelope
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Labels      []string `json:"labels,omitempty"`
	Priority    int      `json:"priority,omitempty"`
	Type        string   `json:"type,omitempty"`
	Complexity  string   `json:"complexity,omitempty"`
	EpicID      string   `json:"epic_id,omitempty"`
	BlockedBy   []string `json:"blocked_by,omitempty"`
}

type TaskStartOverCommand struct {
	Envelope
	TaskID string `json:"task_id"`
}

type DependencyAddCommand struct {
	Envelope
	TaskID    string `json:"task_id"`
	BlockerID string `json:"blocker_id"`
}

type HealthResetCommand struct {
	Envelope
	Agent string `json:"agent"`
}

// ListDoneTasksCommand, ListBlockedTasksCommand and ListCompletedTasksCommand
// request the corresponding lazy-loaded bulk event; the board's own Snapshot
// carries only short summaries, not full task bodies.
type ListDoneTasksCommand struct {
	Envelope
}

type ListBlockedTasksCommand struct {
	Envelope
}

type ListCompletedTasksCommand struct {
	Envelope
}

// Events (daemon -> clients).

type HelloEvent struct {
	Envelope
	Version string `json:"version"`
}

// SnapshotEvent flattens a ConsumeSnapshot's fields directly into the
// message alongside the envelope, matching the wire format's one-flat-object
// rule.
type SnapshotEvent struct {
	Envelope
	snapshot.ConsumeSnapshot
}

type StatusLineEvent struct {
	Envelope
	Message string `json:"message"`
}

type TaskSpawnedEvent struct {
	Envelope
	TaskShortID string `json:"task_short_id"`
	Agent       string `json:"agent"`
	ProcessType string `json:"process_type"`
	RunID       int64  `json:"run_id"`
}

type TaskCompletedEvent struct {
	Envelope
	TaskShortID string `json:"task_short_id"`
	RunID       int64  `json:"run_id"`
	ProcessType string `json:"process_type"`
	Success     bool   `json:"success"`
	FailureKind string `json:"failure_kind,omitempty"`
}

type HealthChangeEvent struct {
	Envelope
	Agent  string `json:"agent"`
	Before string `json:"before"`
	After  string `json:"after"`
}

type OutputChunkEvent struct {
	Envelope
	TaskShortID string `json:"task_short_id"`
	RunID       int64  `json:"run_id"`
	Stream      string `json:"stream"`
	Data        string `json:"data"`
}

type ConfigReloadedEvent struct {
	Envelope
}

type ErrorEvent struct {
	Envelope
	Message string `json:"message"`
}

type ReviewCompletedEvent struct {
	Envelope
	TaskShortID string `json:"task_short_id"`
	Passed      bool   `json:"passed"`
	Issues      []string `json:"issues,omitempty"`
}

type TaskCreateResponseEvent struct {
	Envelope
	TaskShortID string `json:"task_short_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// TaskDetail is the full task body returned in a bulk list event, as opposed
// to the short TaskSummary carried in a Snapshot bucket.
type TaskDetail struct {
	Short       string   `json:"short"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	EpicID      string   `json:"epic_id,omitempty"`
	CommitHash  string   `json:"commit_hash,omitempty"`
	Reason      string   `json:"reason,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

type DoneTasksEvent struct {
	Envelope
	Tasks []TaskDetail `json:"tasks"`
}

type BlockedTasksEvent struct {
	Envelope
	Tasks []TaskDetail `json:"tasks"`
}

type CompletedTasksEvent struct {
	Envelope
	Tasks []TaskDetail `json:"tasks"`
}
