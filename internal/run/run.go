// Package run orchestrates one simulator invocation end to end:
// artifact resolution, command construction, supervised execution,
// marker scanning, validation, and manifest persistence.
package run

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/omx-labs/simrun/internal/artifacts"
	"github.com/omx-labs/simrun/internal/command"
	"github.com/omx-labs/simrun/internal/config"
	"github.com/omx-labs/simrun/internal/history"
	"github.com/omx-labs/simrun/internal/logging"
	"github.com/omx-labs/simrun/internal/manifest"
	"github.com/omx-labs/simrun/internal/markers"
	"github.com/omx-labs/simrun/internal/stats"
	"github.com/omx-labs/simrun/internal/supervise"
	"github.com/omx-labs/simrun/internal/target"
	"github.com/omx-labs/simrun/internal/validate"
)

// Exit codes reported by Execute. ExitTimeout comes from the supervisor.
const (
	ExitPass         = 0
	ExitChecksFailed = 1
	ExitMissing      = 2
)

// timestampLayout names run directories; UTC, lexically sortable.
const timestampLayout = "20060102T150405Z"

// Request is one run order.
type Request struct {
	Target target.ID
	Mode   target.Mode

	// Overrides pin specific artifact paths instead of the candidates.
	Overrides map[target.ArtifactRole]string

	// TrampolineBuilder builds the hybrid boot ELF when it is absent.
	TrampolineBuilder []string

	CommandLine string
	CPUType     string
	IPCCase     string

	// Timestamp overrides the generated run timestamp (used by tests
	// and re-runs that need a stable directory name).
	Timestamp string

	DryRun      bool
	AllowNoDisk bool

	// TimeoutSec overrides the configured run timeout when positive.
	TimeoutSec int
}

// Outcome is what a run produced.
type Outcome struct {
	ExitCode     int
	Timestamp    string
	ManifestPath string
	Manifest     manifest.Manifest
	Missing      []string
}

// Orchestrator wires the run pipeline to its environment.
type Orchestrator struct {
	Config  *config.Config
	Log     *slog.Logger
	History *history.Store // optional
	Clock   supervise.Clock

	// Out receives the human-readable progress lines. The dashboard
	// scrapes these for job progress, so the prefixes are stable.
	Out io.Writer
}

func (o *Orchestrator) out() io.Writer {
	if o.Out != nil {
		return o.Out
	}
	return os.Stdout
}

func (o *Orchestrator) printf(format string, args ...any) {
	fmt.Fprintf(o.out(), format+"\n", args...)
}

// Execute performs one run to completion. Errors are reserved for
// infrastructure failures (directories, manifest writes); everything
// the simulator does folds into the Outcome's exit code.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (Outcome, error) {
	cfg := o.Config
	spec, err := target.Lookup(req.Target)
	if err != nil {
		return Outcome{}, err
	}

	ts := req.Timestamp
	if ts == "" {
		ts = time.Now().UTC().Format(timestampLayout)
	}

	resultsDir := filepath.Join(cfg.ResultsRoot, ts)
	logsDir := filepath.Join(cfg.LogsRoot, string(spec.ID), ts)
	for _, dir := range []string{resultsDir, logsDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return Outcome{}, fmt.Errorf("creating run directory: %w", err)
		}
	}

	events := logging.NewEventLogger(logsDir)
	defer events.Close()
	events.Event("run_requested", map[string]any{
		"target": string(spec.ID), "mode": string(req.Mode), "dry_run": req.DryRun,
	})

	o.printf("[INFO] Run %s/%s at %s", spec.ID, req.Mode, ts)

	gem5Bin := joinRoot(cfg.RepoRoot, cfg.Gem5Bin)
	configScript := joinRoot(cfg.RepoRoot, spec.ConfigScript)

	resolved, missing := artifacts.ResolveAll(spec, artifacts.Options{
		Root:              cfg.RepoRoot,
		Overrides:         req.Overrides,
		AllowNoDisk:       req.AllowNoDisk,
		TrampolineBuilder: req.TrampolineBuilder,
	})

	plan, err := command.Build(spec, req.Mode, command.Inputs{
		Gem5Bin:         gem5Bin,
		ConfigScript:    configScript,
		CPUType:         firstNonEmpty(req.CPUType, cfg.CPUType),
		CommandLine:     req.CommandLine,
		IPCCase:         req.IPCCase,
		MaxTicksSimple:  cfg.MaxTicksSimple,
		MaxTicksComplex: cfg.MaxTicksComplex,
		Artifacts:       resolved,
		OutDir:          logsDir,
	})
	if err != nil {
		return Outcome{}, err
	}

	m := manifest.Manifest{
		Timestamp:    ts,
		Target:       string(spec.ID),
		Mode:         string(req.Mode),
		DryRun:       req.DryRun,
		Gem5Bin:      gem5Bin,
		Config:       configScript,
		Artifacts:    artifactNames(resolved),
		Missing:      missing,
		Commands:     [][]string{plan.Command.Argv},
		SimInsts:     -1,
		ResultsDir:   resultsDir,
		LogsDir:      logsDir,
		TerminalLogs: plan.MarkerLogs,
	}
	manifestPath := manifest.Path(cfg.ResultsRoot, ts, string(spec.ID), string(req.Mode))

	// The simulator and its platform config are prerequisites, not
	// artifacts; without them there is nothing to attempt. A dry run
	// still reports them, as warnings instead of errors.
	prereqMissing := false
	for _, pre := range []struct{ what, path string }{
		{"gem5 binary", gem5Bin},
		{"config script", configScript},
	} {
		if _, statErr := os.Stat(pre.path); statErr != nil {
			prereqMissing = true
			m.Missing = append(m.Missing, fmt.Sprintf("%s: %s", pre.what, pre.path))
			if req.DryRun {
				o.printf("[WARN] %s not found: %s", pre.what, pre.path)
			} else {
				o.printf("[ERROR] %s not found: %s", pre.what, pre.path)
			}
		}
	}

	if req.DryRun {
		for _, miss := range missing {
			o.printf("[WARN] Missing artifact: %s", miss)
		}
		o.printf("[INFO] Dry run, would execute: %v", plan.Command.Argv)
		if err := o.finish(ctx, &m, manifestPath, events); err != nil {
			return Outcome{}, err
		}
		o.printf("[OK] Manifest: %s", manifestPath)
		return Outcome{ExitCode: ExitPass, Timestamp: ts, ManifestPath: manifestPath, Manifest: m, Missing: m.Missing}, nil
	}

	if prereqMissing {
		if err := o.finish(ctx, &m, manifestPath, events); err != nil {
			return Outcome{}, err
		}
		return Outcome{ExitCode: ExitMissing, Timestamp: ts, ManifestPath: manifestPath, Manifest: m, Missing: m.Missing}, nil
	}

	if len(missing) > 0 {
		for _, miss := range missing {
			o.printf("[WARN] Missing artifact: %s", miss)
		}
		if err := o.finish(ctx, &m, manifestPath, events); err != nil {
			return Outcome{}, err
		}
		o.printf("[OK] Manifest: %s", manifestPath)
		return Outcome{ExitCode: ExitMissing, Timestamp: ts, ManifestPath: manifestPath, Manifest: m, Missing: missing}, nil
	}

	o.printf("[INFO] Executing: %v", plan.Command.Argv)
	events.Event("run_started", map[string]any{"argv": plan.Command.Argv})

	runLog := filepath.Join(logsDir, fmt.Sprintf("run_%s_%s.log", spec.ID, req.Mode))
	opts := supervise.Options{
		Timeout:      time.Duration(firstPositive(req.TimeoutSec, cfg.TimeoutSec)) * time.Second,
		PollInterval: time.Duration(cfg.PollIntervalSec) * time.Second,
		GracePeriod:  time.Duration(cfg.GracePeriodSec) * time.Second,
		ExtraEnv:     pythonEnv(configScript),
		Clock:        o.Clock,
	}
	// Simple mode gates on completion markers so a finished workload
	// does not burn its whole tick budget; complex mode always runs the
	// budget out, the markers are checked after the fact.
	if req.Mode == target.ModeSimple {
		opts.RequiredMarkers = plan.Markers.Required
		opts.MarkerLogs = plan.MarkerLogs
		opts.AllowInterleaved = plan.Interleaved
	}

	result, err := supervise.Run(plan.Command, runLog, opts)
	if err != nil {
		return Outcome{}, fmt.Errorf("running simulator: %w", err)
	}
	events.Event("run_finished", map[string]any{
		"returncode": result.Returncode, "timeout": result.Timeout,
		"terminated_on_marker": result.TerminatedOnMarker,
	})
	switch {
	case result.Timeout:
		o.printf("[WARN] Run hit the %ds timeout", firstPositive(req.TimeoutSec, cfg.TimeoutSec))
	case result.TerminatedOnMarker:
		o.printf("[INFO] All completion markers observed, simulator stopped early")
	}

	allMarkers := append(append([]string{}, plan.Markers.Required...), plan.Markers.Informational...)
	observed := markers.ReadTable(plan.MarkerLogs, allMarkers, plan.Interleaved)

	statsPath := filepath.Join(logsDir, "stats.txt")
	simInsts := int64(stats.SimInsts(statsPath))

	checks := validate.Evaluate(validate.Inputs{
		Result:      result,
		Observed:    observed,
		Required:    plan.Markers.Required,
		RoleMarkers: plan.RoleMarkers,
		MarkerLogs:  plan.MarkerLogs,
		RunLog:      runLog,
		StatsPath:   statsPath,
		Interleaved: plan.Interleaved,
	})
	verdict := validate.Verdict(checks)

	m.RunResult = &result
	m.Markers = observed
	m.Checks = checks
	m.Validation = &manifest.Validation{AllPassed: verdict}
	m.RunLog = runLog
	m.StatsPath = statsPath
	m.SimInsts = simInsts
	m.LatestLinks = manifest.LatestLinkPaths(cfg.ResultsRoot, cfg.LogsRoot, string(spec.ID), string(req.Mode))

	for _, name := range checks.Names() {
		status := "ok"
		if !checks[name] {
			status = "FAIL"
		}
		o.printf("[INFO] check %s: %s", name, status)
	}

	if err := o.finish(ctx, &m, manifestPath, events); err != nil {
		return Outcome{}, err
	}
	manifest.UpdateLatestLinks(o.Log, cfg.ResultsRoot, cfg.LogsRoot, ts, string(spec.ID), string(req.Mode))

	code := ExitPass
	switch {
	case result.Timeout:
		code = supervise.ExitTimeout
	case !verdict && result.Returncode != 0:
		code = result.Returncode
	case !verdict:
		code = ExitChecksFailed
	}

	if verdict {
		o.printf("[OK] PASS %s/%s (simInsts=%d)", spec.ID, req.Mode, simInsts)
	} else {
		o.printf("[WARN] FAIL %s/%s (exit %d)", spec.ID, req.Mode, code)
	}
	o.printf("[OK] Manifest: %s", manifestPath)

	return Outcome{ExitCode: code, Timestamp: ts, ManifestPath: manifestPath, Manifest: m}, nil
}

// finish persists the manifest and records the run in history.
func (o *Orchestrator) finish(ctx context.Context, m *manifest.Manifest, path string, events *logging.EventLogger) error {
	if err := manifest.Write(*m, path); err != nil {
		return err
	}
	events.Event("manifest_written", map[string]any{"path": path})

	if o.History != nil {
		rec := &history.Record{
			Timestamp:    m.Timestamp,
			Target:       m.Target,
			Mode:         m.Mode,
			DryRun:       m.DryRun,
			SimInsts:     m.SimInsts,
			ManifestPath: path,
		}
		if m.RunResult != nil {
			rec.Returncode = m.RunResult.Returncode
			rec.Timeout = m.RunResult.Timeout
		}
		if m.Validation != nil {
			rec.AllPassed = m.Validation.AllPassed
		}
		if err := o.History.Insert(ctx, rec); err != nil {
			o.Log.Warn("recording run history", "error", err)
		}
	}
	return nil
}

func artifactNames(r artifacts.Resolved) map[string]string {
	out := make(map[string]string, len(r))
	for role, path := range r {
		out[string(role)] = path
	}
	return out
}

// pythonEnv extends PYTHONPATH with the config script's directory so the
// platform scripts can import their shared helpers.
func pythonEnv(configScript string) []string {
	dir := filepath.Dir(configScript)
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		dir = dir + string(os.PathListSeparator) + existing
	}
	return []string{"PYTHONPATH=" + dir}
}

func joinRoot(root, p string) string {
	if root == "" || p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstPositive(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
