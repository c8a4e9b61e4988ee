package run

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/omx-labs/simrun/internal/config"
	"github.com/omx-labs/simrun/internal/history"
	"github.com/omx-labs/simrun/internal/supervise"
	"github.com/omx-labs/simrun/internal/target"
)

// fakeGem5 is a stand-in simulator: it finds its --outdir argument,
// emits the expected terminal and stats files, then runs the body.
const fakeGem5 = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in --outdir=*) out="${a#--outdir=}" ;; esac
done
echo "fake gem5 starting"
`

type env struct {
	cfg *config.Config
	out *bytes.Buffer
	o   *Orchestrator
}

func newEnv(t *testing.T, gem5Body string) *env {
	t.Helper()
	root := t.TempDir()

	gem5 := filepath.Join(root, "gem5.opt")
	if err := os.WriteFile(gem5, []byte(fakeGem5+gem5Body), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(root, "conf"), 0755); err != nil {
		t.Fatal(err)
	}
	for _, conf := range []string{"riscv32_simple.py", "riscv32_mixed.py", "fs_linux.py", "riscv_hybrid.py"} {
		if err := os.WriteFile(filepath.Join(root, "conf", conf), []byte("# platform config\n"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	cfg := config.Default()
	cfg.RepoRoot = root
	cfg.Gem5Bin = "gem5.opt"
	cfg.ResultsRoot = filepath.Join(root, "results")
	cfg.LogsRoot = filepath.Join(root, "logs")
	cfg.TimeoutSec = 30
	cfg.PollIntervalSec = 1
	cfg.GracePeriodSec = 1
	cfg.History.Path = filepath.Join(root, "history.db")

	out := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	hist, err := history.Open(cfg.History.Path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { hist.Close() })

	return &env{
		cfg: cfg,
		out: out,
		o:   &Orchestrator{Config: cfg, Log: log, History: hist, Out: out},
	}
}

func (e *env) touch(t *testing.T, rel string) string {
	t.Helper()
	path := filepath.Join(e.cfg.RepoRoot, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("elf"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func simpleRequest(elf string) Request {
	return Request{
		Target:    target.RiscV32Simple,
		Mode:      target.ModeSimple,
		Timestamp: "20260823T120000Z",
		Overrides: map[target.ArtifactRole]string{target.RoleZephyrELF: elf},
	}
}

func TestExecutePassingRun(t *testing.T) {
	e := newEnv(t, `
mkdir -p "$out"
printf 'RISCV32 SIMPLE WORKLOAD START acc=0\nRISCV32 SIMPLE WORKLOAD DONE acc=5\n' > "$out/system.platform.terminal"
printf 'simTicks 1000\nsimInsts 4242\n' > "$out/stats.txt"
exit 0
`)
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	outcome, err := e.o.Execute(context.Background(), simpleRequest(elf))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitPass {
		t.Fatalf("exit code = %d, want 0\noutput:\n%s", outcome.ExitCode, e.out.String())
	}
	if outcome.Manifest.Validation == nil || !outcome.Manifest.Validation.AllPassed {
		t.Errorf("validation should pass: %+v", outcome.Manifest.Validation)
	}
	if len(outcome.Manifest.Checks) == 0 || !outcome.Manifest.Checks["returncode_ok"] {
		t.Errorf("manifest check table = %+v", outcome.Manifest.Checks)
	}
	if outcome.Manifest.SimInsts != 4242 {
		t.Errorf("SimInsts = %d, want 4242", outcome.Manifest.SimInsts)
	}
	if _, err := os.Stat(outcome.ManifestPath); err != nil {
		t.Errorf("manifest file missing: %v", err)
	}
	if !strings.Contains(e.out.String(), "[OK] PASS riscv32_simple/simple") {
		t.Errorf("missing pass line in output:\n%s", e.out.String())
	}

	// Latest pointers follow the run.
	dest, err := os.Readlink(filepath.Join(e.cfg.ResultsRoot, "latest"))
	if err != nil || dest != "20260823T120000Z" {
		t.Errorf("latest link = %q, %v", dest, err)
	}

	// The run lands in history.
	recs, err := e.o.History.Recent(context.Background(), "", 5)
	if err != nil || len(recs) != 1 {
		t.Fatalf("history records = %d, %v", len(recs), err)
	}
	if !recs[0].AllPassed || recs[0].SimInsts != 4242 {
		t.Errorf("history record = %+v", recs[0])
	}
}

func TestExecuteMarkerGatedStopsEarly(t *testing.T) {
	e := newEnv(t, `
mkdir -p "$out"
printf 'RISCV32 SIMPLE WORKLOAD START acc=0\nRISCV32 SIMPLE WORKLOAD DONE acc=5\n' > "$out/system.platform.terminal"
printf 'simInsts 7\n' > "$out/stats.txt"
sleep 30
`)
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	outcome, err := e.o.Execute(context.Background(), simpleRequest(elf))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitPass {
		t.Fatalf("exit code = %d, want 0\noutput:\n%s", outcome.ExitCode, e.out.String())
	}
	res := outcome.Manifest.RunResult
	if res == nil || !res.TerminatedOnMarker {
		t.Errorf("run result = %+v, want marker-terminated", res)
	}
}

func TestExecuteDryRun(t *testing.T) {
	e := newEnv(t, "exit 0\n")
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	req := simpleRequest(elf)
	req.DryRun = true
	outcome, err := e.o.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitPass {
		t.Errorf("dry-run exit code = %d", outcome.ExitCode)
	}
	if outcome.Manifest.RunResult != nil {
		t.Error("dry run should not carry a run result")
	}
	if len(outcome.Manifest.Commands) != 1 {
		t.Errorf("dry run should record the planned command: %v", outcome.Manifest.Commands)
	}
	if _, err := os.Stat(outcome.ManifestPath); err != nil {
		t.Errorf("dry-run manifest missing: %v", err)
	}
}

func TestExecuteDryRunReportsMissing(t *testing.T) {
	e := newEnv(t, "exit 0\n")
	os.Remove(filepath.Join(e.cfg.RepoRoot, "gem5.opt"))

	// No workload ELF and no simulator binary; a dry run still
	// succeeds, warning about everything it could not find.
	req := Request{
		Target:    target.RiscV32Simple,
		Mode:      target.ModeSimple,
		Timestamp: "20260823T120000Z",
		DryRun:    true,
	}
	outcome, err := e.o.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitPass {
		t.Errorf("dry-run exit code = %d, want 0\noutput:\n%s", outcome.ExitCode, e.out.String())
	}
	out := e.out.String()
	if !strings.Contains(out, "[WARN] gem5 binary not found") {
		t.Errorf("missing gem5 warning absent:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] Missing artifact:") {
		t.Errorf("missing artifact warning absent:\n%s", out)
	}
	if strings.Contains(out, "[ERROR]") {
		t.Errorf("dry run must warn, not error:\n%s", out)
	}
	if len(outcome.Missing) == 0 {
		t.Error("missing list should carry the absent paths")
	}
	if _, err := os.Stat(outcome.ManifestPath); err != nil {
		t.Errorf("dry-run manifest missing: %v", err)
	}
}

func TestExecuteMissingArtifacts(t *testing.T) {
	e := newEnv(t, "exit 0\n")
	// No zephyr ELF anywhere.
	outcome, err := e.o.Execute(context.Background(), Request{
		Target:    target.RiscV32Simple,
		Mode:      target.ModeSimple,
		Timestamp: "20260823T120000Z",
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitMissing {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode, ExitMissing)
	}
	if len(outcome.Missing) == 0 {
		t.Error("missing list should name the absent ELF")
	}
	if _, err := os.Stat(outcome.ManifestPath); err != nil {
		t.Errorf("manifest should still be written: %v", err)
	}
}

func TestExecuteMissingGem5Binary(t *testing.T) {
	e := newEnv(t, "exit 0\n")
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")
	os.Remove(filepath.Join(e.cfg.RepoRoot, "gem5.opt"))

	outcome, err := e.o.Execute(context.Background(), simpleRequest(elf))
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitMissing {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode, ExitMissing)
	}
	if !strings.Contains(e.out.String(), "[ERROR] gem5 binary not found") {
		t.Errorf("missing error line:\n%s", e.out.String())
	}
}

func TestExecuteFailingChecksUsesChildCode(t *testing.T) {
	e := newEnv(t, "exit 7\n")
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	req := simpleRequest(elf)
	req.Mode = target.ModeComplex // bounded, no marker gate
	outcome, err := e.o.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != 7 {
		t.Errorf("exit code = %d, want the child's 7", outcome.ExitCode)
	}
	if outcome.Manifest.Validation == nil || outcome.Manifest.Validation.AllPassed {
		t.Error("validation should fail")
	}
}

func TestExecuteRanButChecksFailed(t *testing.T) {
	// Clean exit, no markers produced: exit code 1.
	e := newEnv(t, `
mkdir -p "$out"
printf 'quiet boot, no markers\n' > "$out/system.platform.terminal"
exit 0
`)
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	req := simpleRequest(elf)
	req.Mode = target.ModeComplex
	outcome, err := e.o.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != ExitChecksFailed {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode, ExitChecksFailed)
	}
}

func TestExecuteTimeout(t *testing.T) {
	e := newEnv(t, "sleep 30\n")
	elf := e.touch(t, "build/zephyr/riscv32_simple/zephyr/zephyr.elf")

	req := simpleRequest(elf)
	req.Mode = target.ModeComplex
	req.TimeoutSec = 1
	outcome, err := e.o.Execute(context.Background(), req)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if outcome.ExitCode != supervise.ExitTimeout {
		t.Errorf("exit code = %d, want %d", outcome.ExitCode, supervise.ExitTimeout)
	}
	if outcome.Manifest.RunResult == nil || !outcome.Manifest.RunResult.Timeout {
		t.Errorf("run result = %+v, want timeout", outcome.Manifest.RunResult)
	}
}

func TestExecuteUnknownTarget(t *testing.T) {
	e := newEnv(t, "exit 0\n")
	if _, err := e.o.Execute(context.Background(), Request{Target: "riscv128_mega", Mode: target.ModeSimple}); err == nil {
		t.Error("expected error for unknown target")
	}
}
