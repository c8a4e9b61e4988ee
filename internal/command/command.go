// Package command maps (target, mode, resolved artifacts) to the exact
// simulator invocation plus the marker metadata downstream supervision
// needs. Build is a pure function: identical inputs yield byte-identical
// argv and marker sets, which keeps manifests reproducible.
package command

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/omx-labs/simrun/internal/artifacts"
	"github.com/omx-labs/simrun/internal/target"
)

// Command is one simulator invocation.
type Command struct {
	Argv   []string `json:"argv"`
	OutDir string   `json:"outdir"`
}

// MarkerSet separates the markers a run must produce from the ones that
// are merely informative for diagnostics.
type MarkerSet struct {
	Required      []string
	Informational []string
}

// RoleMarkers names the completion markers expected on one specific
// console, keyed by the assignment that owns it.
type RoleMarkers struct {
	Name    string
	Console int
	Markers []string
}

// Plan is everything the supervisor and validator need for one run.
type Plan struct {
	Command     Command
	Assignments []target.Assignment
	Markers     MarkerSet

	// MarkerLogs are the terminal files polled during marker-gated runs.
	MarkerLogs []string

	// RoleMarkers maps completion markers to their expected console.
	RoleMarkers []RoleMarkers

	// Interleaved selects the permissive matching tier for this target.
	Interleaved bool

	// MaxTicks is the simulated tick budget baked into the argv.
	MaxTicks int64
}

// Inputs carries the run parameters Build consumes. Zero values fall
// back to the documented defaults.
type Inputs struct {
	Gem5Bin      string
	ConfigScript string

	// CPUType is a free-form CPU model name; it is normalized down to
	// the execution-timing modes the configurations accept.
	CPUType string

	// CommandLine is the Linux kernel command line (RV64 targets).
	CommandLine string

	// IPCCase selects an optional IPC stress case for mixed workloads.
	IPCCase string

	MaxTicksSimple  int64
	MaxTicksComplex int64

	Artifacts artifacts.Resolved
	OutDir    string
}

const (
	defaultMaxTicksSimple  = 200_000_000
	defaultMaxTicksComplex = 2_000_000_000
	defaultCommandLine     = "console=ttyS0,115200 earlycon=sbi root=/dev/ram0 rw rdinit=/init loglevel=8 ignore_loglevel"

	// terminalPrefix is the fixed name the simulator gives per-console
	// capture files; extra consoles get a numeric suffix.
	terminalPrefix = "system.platform.terminal"
)

// NormalizeCPUType folds a free-form CPU model string down to the two
// execution-timing modes the configurations accept.
func NormalizeCPUType(s string) string {
	if strings.Contains(strings.ToLower(s), "atomic") {
		return "atomic"
	}
	return "timing"
}

// cpuClassName maps a normalized timing mode back to the CPU model class
// the legacy full-system configuration expects.
func cpuClassName(norm string) string {
	if norm == "atomic" {
		return "AtomicSimpleCPU"
	}
	return "TimingSimpleCPU"
}

// TerminalLogs returns the console capture paths for n consoles under
// outdir: the first carries no suffix, the rest are numbered from 1.
func TerminalLogs(outdir string, n int) []string {
	logs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := terminalPrefix
		if i > 0 {
			name = fmt.Sprintf("%s%d", terminalPrefix, i)
		}
		logs = append(logs, filepath.Join(outdir, name))
	}
	return logs
}

// Build produces the run plan for the given target and mode.
func Build(spec target.Spec, mode target.Mode, in Inputs) (Plan, error) {
	if in.MaxTicksSimple == 0 {
		in.MaxTicksSimple = defaultMaxTicksSimple
	}
	if in.MaxTicksComplex == 0 {
		in.MaxTicksComplex = defaultMaxTicksComplex
	}
	if in.CommandLine == "" {
		in.CommandLine = defaultCommandLine
	}

	ticks := in.MaxTicksSimple
	if mode == target.ModeComplex {
		ticks = in.MaxTicksComplex
	}
	// The hybrid workload has to boot two systems before its ready
	// banner appears; the small budget would time it out every run.
	if spec.ID == target.RiscVHybrid {
		ticks = in.MaxTicksComplex
	}

	var argv []string
	switch spec.ID {
	case target.RiscV32Simple:
		argv = simpleArgv(in, ticks)
	case target.RiscV32Mixed:
		argv = mixedArgv(in, ticks)
	case target.RiscV64SMP:
		argv = smpArgv(in, ticks)
	case target.RiscVHybrid:
		argv = hybridArgv(in, ticks)
	default:
		return Plan{}, fmt.Errorf("no command layout for target %q", spec.ID)
	}

	set, roles := markersFor(spec)
	return Plan{
		Command:     Command{Argv: argv, OutDir: in.OutDir},
		Assignments: spec.Assignments,
		Markers:     set,
		MarkerLogs:  TerminalLogs(in.OutDir, spec.Consoles),
		RoleMarkers: roles,
		Interleaved: spec.Interleaved,
		MaxTicks:    ticks,
	}, nil
}

// markersFor derives the marker strings a run must emit: per-assignment
// workload START/DONE lines, the combined readiness line when the target
// synchronizes roles, and any boot-flow markers. Role tags are observed
// for diagnostics only.
func markersFor(spec target.Spec) (MarkerSet, []RoleMarkers) {
	var set MarkerSet
	var roles []RoleMarkers

	set.Required = append(set.Required, spec.BootMarkers...)

	for _, a := range spec.Assignments {
		if !a.Reports {
			continue
		}
		start := workloadMarker(spec.MarkerPrefix, a.Role, "START")
		done := workloadMarker(spec.MarkerPrefix, a.Role, "DONE")
		set.Required = append(set.Required, start, done)
		if a.DTRole != "" {
			set.Informational = append(set.Informational, "role="+a.DTRole)
		}
		roles = append(roles, RoleMarkers{
			Name:    a.Name,
			Console: a.Console,
			Markers: []string{start, done},
		})
	}

	if spec.SyncMask != 0 {
		set.Required = append(set.Required, SyncMarker(spec.MarkerPrefix, spec.SyncMask))
	}
	return set, roles
}

func workloadMarker(prefix, role, phase string) string {
	parts := make([]string, 0, 4)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	if role != "" {
		parts = append(parts, role)
	}
	parts = append(parts, "WORKLOAD", phase)
	return strings.Join(parts, " ")
}

// SyncMarker is the combined readiness line printed once every role has
// reported ready.
func SyncMarker(prefix string, mask uint32) string {
	return fmt.Sprintf("%s ROLE_SYNC mask=%#x status=READY", prefix, mask)
}

func simpleArgv(in Inputs, ticks int64) []string {
	return []string{
		in.Gem5Bin,
		"--outdir=" + in.OutDir,
		in.ConfigScript,
		"--cpu-type", NormalizeCPUType(in.CPUType),
		"--mem-size", "512MB",
		"--caches", "--l2cache",
		"--l1i-size", "16kB",
		"--l1d-size", "16kB",
		"--l2-size", "256kB",
		"--num-cpus", "1",
		"--zephyr-elf", in.Artifacts[target.RoleZephyrELF],
		"--max-ticks", fmt.Sprintf("%d", ticks),
	}
}

func mixedArgv(in Inputs, ticks int64) []string {
	argv := []string{
		in.Gem5Bin,
		"--outdir=" + in.OutDir,
		in.ConfigScript,
		"--cpu-type", NormalizeCPUType(in.CPUType),
		"--l1i-size", "16kB",
		"--l1d-size", "16kB",
		"--l2-cluster0-size", "256kB",
		"--l2-cluster1-size", "512kB",
		"--amp-cpu0-elf", in.Artifacts[target.RoleAMPCPU0ELF],
		"--amp-cpu1-elf", in.Artifacts[target.RoleAMPCPU1ELF],
		"--smp-elf", in.Artifacts[target.RoleSMPELF],
		"--max-ticks", fmt.Sprintf("%d", ticks),
	}
	if in.IPCCase != "" {
		argv = append(argv, "--ipc-case", in.IPCCase)
	}
	return argv
}

func smpArgv(in Inputs, ticks int64) []string {
	argv := []string{
		in.Gem5Bin,
		"--outdir=" + in.OutDir,
		in.ConfigScript,
		"--num-cpus", "4",
		"--cpu-type", cpuClassName(NormalizeCPUType(in.CPUType)),
		"--mem-size", "2GB",
		"--caches", "--l2cache",
		"--l1i_size", "32kB",
		"--l1d_size", "32kB",
		"--l2_size", "1MB",
		"--kernel", in.Artifacts[target.RoleKernel],
		"--command-line", in.CommandLine,
		"--abs-max-tick", fmt.Sprintf("%d", ticks),
	}
	if disk := in.Artifacts[target.RoleDiskImage]; disk != "" {
		argv = append(argv, "--disk-image", disk)
	}
	return argv
}

func hybridArgv(in Inputs, ticks int64) []string {
	argv := []string{
		in.Gem5Bin,
		"--outdir=" + in.OutDir,
		in.ConfigScript,
		"--boot-elf", in.Artifacts[target.RoleBootELF],
		"--amp-cpu0-elf", in.Artifacts[target.RoleAMPCPU0ELF],
		"--amp-cpu1-elf", in.Artifacts[target.RoleAMPCPU1ELF],
		"--smp-elf", in.Artifacts[target.RoleSMPELF],
		"--kernel", in.Artifacts[target.RoleKernel],
		"--rv32-cpu-type", NormalizeCPUType(in.CPUType),
		"--rv64-cpu-type", "atomic",
		"--cmdline", in.CommandLine,
		"--max-ticks", fmt.Sprintf("%d", ticks),
	}
	if fw := in.Artifacts[target.RoleBootloader]; fw != "" {
		argv = append(argv, "--bootloader", fw)
	}
	if initramfs := in.Artifacts[target.RoleInitramfs]; initramfs != "" {
		argv = append(argv, "--initramfs", initramfs)
	}
	if disk := in.Artifacts[target.RoleDiskImage]; disk != "" {
		argv = append(argv, "--disk-image", disk)
	}
	if in.IPCCase != "" {
		argv = append(argv, "--ipc-case", in.IPCCase)
	}
	return argv
}
