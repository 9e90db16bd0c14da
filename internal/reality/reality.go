// Package reality reads and writes .fuel/reality.md, the curated
// architectural index agents are primed with, and parses its Quality Gates
// table into runnable commands for the merge and self-guided flows.
package reality

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"fuel/internal/fuelctx"
)

// Gate is one row of the Quality Gates table: a named check command agents
// must run before declaring work complete.
type Gate struct {
	Tool    string
	Command string
	Purpose string
}

var tableRow = regexp.MustCompile(`^\|\s*(.+?)\s*\|\s*(.+?)\s*\|\s*(.+?)\s*\|$`)

// ParseQualityGates extracts the `| Tool | Command | Purpose |` rows from a
// reality.md document, skipping the header and separator rows.
func ParseQualityGates(doc string) []Gate {
	var gates []Gate
	inTable := false
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		m := tableRow.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		cols := [3]string{strings.TrimSpace(m[1]), strings.TrimSpace(m[2]), strings.TrimSpace(m[3])}
		if !inTable {
			inTable = true
			continue // header row
		}
		if strings.HasPrefix(cols[0], "---") || strings.HasPrefix(cols[0], ":--") {
			continue // separator row
		}
		gates = append(gates, Gate{Tool: cols[0], Command: cols[1], Purpose: cols[2]})
	}
	return gates
}

// Read loads reality.md for a project, returning an empty document if it
// has not been created yet.
func Read(c *fuelctx.Context) (string, error) {
	data, err := os.ReadFile(c.RealityPath())
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Write atomically replaces reality.md's contents.
func Write(c *fuelctx.Context, doc string) error {
	return fuelctx.AtomicWriteFile(c.RealityPath(), []byte(doc), 0o644)
}

// DefaultDocument seeds a new project's reality.md with an empty Quality
// Gates table an UpdateReality run fills in over time.
func DefaultDocument(projectName string) string {
	return fmt.Sprintf(`# %s

## Architecture

(not yet indexed)

## Quality Gates

| Tool | Command | Purpose |
| --- | --- | --- |
`, projectName)
}

// FormatGatesPrompt renders gates as a bullet list for inclusion in an
// agent prompt.
func FormatGatesPrompt(gates []Gate) string {
	if len(gates) == 0 {
		return "(no quality gates configured)"
	}
	var b strings.Builder
	for _, g := range gates {
		fmt.Fprintf(&b, "- %s: `%s` (%s)\n", g.Tool, g.Command, g.Purpose)
	}
	return b.String()
}

// UpdatePrompt builds the prompt for an UpdateReality run: summarize the
// current codebase structure into the existing document's shape.
func UpdatePrompt(_ context.Context, existing string) string {
	return fmt.Sprintf(
		"Update the project's architectural index below to reflect the current codebase. "+
			"Keep the Quality Gates table accurate and runnable. Keep the document lean.\n\n"+
			"Current document:\n%s", existing,
	)
}
