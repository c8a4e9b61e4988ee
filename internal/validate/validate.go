// Package validate turns raw run state — process result, observed
// markers, log artifacts, stats — into a table of named boolean checks.
// The table is persisted alongside the verdict so a failed run shows
// exactly which expectation broke.
package validate

import (
	"fmt"
	"os"
	"sort"

	"github.com/omx-labs/simrun/internal/command"
	"github.com/omx-labs/simrun/internal/markers"
	"github.com/omx-labs/simrun/internal/supervise"
)

// CheckTable maps check names to their outcomes.
type CheckTable map[string]bool

// Verdict is the logical AND over all entries. An empty table fails:
// a run that executed but produced no checks is a harness bug, not a
// vacuous success.
func Verdict(t CheckTable) bool {
	if len(t) == 0 {
		return false
	}
	for _, ok := range t {
		if !ok {
			return false
		}
	}
	return true
}

// Names returns the check names in sorted order, for stable output.
func (t CheckTable) Names() []string {
	names := make([]string, 0, len(t))
	for n := range t {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// failureMarkers are texts whose presence anywhere in the captured
// output fails a run regardless of completion markers.
var failureMarkers = []string{"Kernel panic", "panic", "fatal:"}

// Inputs aggregates everything one evaluation consumes.
type Inputs struct {
	Result supervise.Result

	// Observed is the global marker table read across all consoles.
	Observed map[string]bool

	// Required lists the markers the run had to produce.
	Required []string

	// RoleMarkers pin completion markers to a specific console file,
	// catching a marker that arrived on the wrong stream.
	RoleMarkers []command.RoleMarkers

	// MarkerLogs are the per-console files, indexed by console number.
	MarkerLogs []string

	// RunLog is the combined process output file.
	RunLog string

	// StatsPath is the statistics dump, or "" when not expected.
	StatsPath string

	// Interleaved selects the matching tier for console-level checks.
	Interleaved bool
}

// Evaluate builds the named check table for one executed run.
func Evaluate(in Inputs) CheckTable {
	t := CheckTable{}

	t["returncode_ok"] = in.Result.Returncode == 0

	required := true
	for _, m := range in.Required {
		if !in.Observed[m] {
			required = false
			break
		}
	}
	t["required_markers_ok"] = required && len(in.Required) > 0

	// Console-pinned checks: each reporting role's markers must appear
	// on that role's own terminal, not merely somewhere in the capture.
	terminalsOK := true
	for _, rm := range in.RoleMarkers {
		ok := false
		if rm.Console >= 0 && rm.Console < len(in.MarkerLogs) {
			text := markers.ReadAll([]string{in.MarkerLogs[rm.Console]})
			ok = markers.AllPresent(text, rm.Markers, in.Interleaved)
		}
		t[fmt.Sprintf("console_%s_ok", rm.Name)] = ok
		terminalsOK = terminalsOK && ok
	}
	if len(in.RoleMarkers) > 0 {
		t["terminal_markers_ok"] = terminalsOK
	}

	// Failure markers are scanned with strict matching; the permissive
	// tier would turn ordinary output into false panics.
	captured := markers.ReadAll(append([]string{in.RunLog}, in.MarkerLogs...))
	panicFree := true
	for _, bad := range failureMarkers {
		if markers.Present(captured, bad, false) {
			panicFree = false
			break
		}
	}
	t["panic_free"] = panicFree

	t["run_log_nonempty"] = nonEmpty(in.RunLog)
	if len(in.MarkerLogs) > 0 {
		termOK := true
		for _, p := range in.MarkerLogs {
			if !nonEmpty(p) {
				termOK = false
				break
			}
		}
		t["terminal_logs_nonempty"] = termOK
	}
	if in.StatsPath != "" {
		t["stats_present"] = nonEmpty(in.StatsPath)
	}

	return t
}

func nonEmpty(path string) bool {
	if path == "" {
		return false
	}
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}
