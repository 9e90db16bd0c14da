// Package driver implements the Agent Driver Registry: a set of
// pure-data descriptions of how to invoke each black-box agent binary.
package driver

import (
	"fmt"
	"strings"
)

// Driver describes one agent family's command-line and resume conventions.
// All fields are pure data; the Supervisor is the only consumer that
// actually exec's anything.
type Driver struct {
	Name string

	Command     string
	DefaultArgs []string
	PromptArgs  []string
	DefaultEnv  map[string]string
	ModelArg    string

	// PositionalPrompt drivers append the prompt as the last bare argv
	// token instead of after PromptArgs.
	PositionalPrompt bool

	SupportsResume bool
	ResumeArgsFn   func(sessionID string) []string

	// PermissionSignatures and NetworkSignatures are substrings looked for
	// in stderr (or matched against exit codes via ExitCodeSignature) to
	// classify a failed run.
	PermissionSignatures []string
	NetworkSignatures    []string
	ExitCodeSignature    map[int]string // exit code -> "permission" | "network"
}

// Argv assembles the arguments passed after the command for a fresh
// (non-resume) run: defaultArgs + (modelArg? [modelArg, model] : []) +
// promptArgs + [prompt]; positional-prompt drivers skip promptArgs and take
// the prompt as the last argument. The command itself is not included.
func (d Driver) Argv(model, prompt string) []string {
	args := append([]string{}, d.DefaultArgs...)
	if d.ModelArg != "" && model != "" {
		args = append(args, d.ModelArg, model)
	}
	if d.PositionalPrompt {
		args = append(args, prompt)
		return args
	}
	args = append(args, d.PromptArgs...)
	args = append(args, prompt)
	return args
}

// ResumeArgs assembles the argv for resuming a prior session, if supported.
func (d Driver) ResumeArgs(sessionID string) ([]string, error) {
	if !d.SupportsResume {
		return nil, fmt.Errorf("driver %q does not support resume", d.Name)
	}
	return d.ResumeArgsFn(sessionID), nil
}

// ClassifyFailure inspects stderr and an exit code against the driver's
// known signatures and returns "permission", "network", or "" (unknown ->
// generic Failed).
func (d Driver) ClassifyFailure(exitCode int, stderr string) string {
	if cls, ok := d.ExitCodeSignature[exitCode]; ok {
		return cls
	}
	for _, sig := range d.PermissionSignatures {
		if containsFold(stderr, sig) {
			return "permission"
		}
	}
	for _, sig := range d.NetworkSignatures {
		if containsFold(stderr, sig) {
			return "network"
		}
	}
	return ""
}

func containsFold(haystack, needle string) bool {
	return needle != "" && strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
