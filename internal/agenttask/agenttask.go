// Package agenttask implements AgentTask polymorphism: the tagged variants
// (Work, Review, MergeEpic, UpdateReality, SelfGuided) that bind a ready
// task to a prompt, an agent-selection rule, and the lifecycle hooks the
// Completion Handler invokes.
package agenttask

import (
	"context"

	"fuel/internal/config"
)

// CompletionResult is the outcome the Supervisor hands to a hook: a subset
// of the full supervisor result relevant to lifecycle decisions.
type CompletionResult struct {
	TaskShortID string
	RunID       int64
	ExitCode    int
	SessionID   string
	CostUSD     float64
	Output      string
	Success     bool
	FailureKind string // "network", "timeout", "crash", "permission", ""
}

// ProcessType labels the kind of process an AgentTask spawns, used for
// Run.error_type bucketing and diagnostics.
type ProcessType string

const (
	ProcessWork    ProcessType = "work"
	ProcessReview  ProcessType = "review"
	ProcessMerge   ProcessType = "merge"
	ProcessReality ProcessType = "reality"
	ProcessGuided  ProcessType = "self_guided"
)

// AgentTask is the tagged-variant interface every spawnable unit of work
// implements.
type AgentTask interface {
	TaskShortID() string
	ProcessType() ProcessType
	GetAgentName(cfg config.Config) (agentName string, ok bool)
	BuildPrompt(ctx context.Context, cwd string) (string, error)
	OnSuccess(ctx context.Context, result CompletionResult) error
	OnFailure(ctx context.Context, result CompletionResult) error
	OnComplete(ctx context.Context, result CompletionResult) error
}

// noopComplete is embedded by variants with nothing to do on every
// completion regardless of outcome.
type noopComplete struct{}

func (noopComplete) OnComplete(context.Context, CompletionResult) error { return nil }
