// Package target defines the closed set of simulated platform topologies
// the harness can drive, together with the per-target workload layout.
// The registry is validated at construction time: an inconsistent target
// definition is a programming error, not a runtime lookup failure.
package target

import "fmt"

// ID identifies one of the fixed platform topologies.
type ID string

const (
	RiscV32Simple ID = "riscv32_simple"
	RiscV32Mixed  ID = "riscv32_mixed"
	RiscV64SMP    ID = "riscv64_smp"
	RiscVHybrid   ID = "riscv_hybrid"
)

// Mode selects the run profile. Simple runs are fast and marker-gated;
// complex runs use the larger fixed tick budget.
type Mode string

const (
	ModeSimple  Mode = "simple"
	ModeComplex Mode = "complex"
)

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeSimple, ModeComplex:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (valid: simple, complex)", s)
}

// ArtifactRole names a logical input artifact slot.
type ArtifactRole string

const (
	RoleKernel     ArtifactRole = "kernel"
	RoleBootloader ArtifactRole = "bootloader"
	RoleInitramfs  ArtifactRole = "initramfs"
	RoleDiskImage  ArtifactRole = "disk_image"
	RoleBootELF    ArtifactRole = "boot_elf"
	RoleZephyrELF  ArtifactRole = "zephyr_elf"
	RoleAMPCPU0ELF ArtifactRole = "amp_cpu0_elf"
	RoleAMPCPU1ELF ArtifactRole = "amp_cpu1_elf"
	RoleSMPELF     ArtifactRole = "smp_elf"
)

// Assignment binds a workload image to a set of logical cores and the
// console it reports on.
type Assignment struct {
	// Name is the short identifier used in log file names (e.g. "amp_cpu0").
	Name string

	// Role is the marker role label the workload prints (e.g. "AMP CPU0").
	Role string

	// DTRole is the devicetree role tag printed as "role=<DTRole>".
	DTRole string

	// Cores lists the logical core ids owned by this assignment.
	Cores []int

	// Image is the artifact slot holding this assignment's workload image.
	Image ArtifactRole

	// SyncBit is this role's bit in the combined readiness mask, or 0.
	SyncBit uint32

	// Console is the index of the terminal this assignment reports on.
	Console int

	// Reports indicates the workload prints START/DONE lifecycle markers.
	Reports bool
}

// Spec describes one platform topology.
type Spec struct {
	ID       ID
	Label    string
	ISA      string
	Clusters int
	Cores    int

	// Consoles is the number of simulated UART terminal files.
	Consoles int

	// Interleaved enables the permissive interleaved marker matching.
	// Only multi-console targets may set it; a single console cannot
	// interleave and the looser matching would invite false positives.
	Interleaved bool

	// MarkerPrefix is the topology prefix of workload lifecycle markers
	// ("RISCV32 MIXED"). Empty for targets without printk-style workloads.
	MarkerPrefix string

	// BootMarkers are required markers emitted by the boot flow itself
	// rather than a workload (e.g. "OpenSBI", "Linux version").
	BootMarkers []string

	// SyncMask, when nonzero, requires the combined readiness marker
	// "<prefix> ROLE_SYNC mask=<mask> status=READY".
	SyncMask uint32

	// ConfigScript is the default simulator configuration entry point.
	ConfigScript string

	Assignments []Assignment

	// RequiredArtifacts must resolve to existing files before a run.
	RequiredArtifacts []ArtifactRole

	// OptionalArtifacts are resolved but may legitimately be absent.
	OptionalArtifacts []ArtifactRole
}

// Lookup returns the spec for id.
func Lookup(id ID) (Spec, error) {
	for _, s := range registry {
		if s.ID == id {
			return s, nil
		}
	}
	return Spec{}, fmt.Errorf("unknown target %q", id)
}

// All returns every registered target in declaration order.
func All() []Spec {
	out := make([]Spec, len(registry))
	copy(out, registry)
	return out
}

// validate rejects inconsistent target definitions: duplicate role labels,
// a core id owned by more than one assignment, console indices out of
// range, or interleaved matching on a single-console target.
func validate(specs []Spec) error {
	for _, s := range specs {
		if s.Consoles < 1 {
			return fmt.Errorf("%s: needs at least one console", s.ID)
		}
		if s.Interleaved && s.Consoles < 2 {
			return fmt.Errorf("%s: interleaved matching requires multiple consoles", s.ID)
		}
		roles := make(map[string]bool)
		cores := make(map[int]string)
		var mask uint32
		for _, a := range s.Assignments {
			if roles[a.Role] {
				return fmt.Errorf("%s: duplicate role label %q", s.ID, a.Role)
			}
			roles[a.Role] = true
			for _, c := range a.Cores {
				if owner, ok := cores[c]; ok {
					return fmt.Errorf("%s: core %d owned by both %q and %q", s.ID, c, owner, a.Name)
				}
				cores[c] = a.Name
			}
			if a.Console < 0 || a.Console >= s.Consoles {
				return fmt.Errorf("%s: assignment %q console %d out of range", s.ID, a.Name, a.Console)
			}
			if a.SyncBit != 0 {
				if mask&a.SyncBit != 0 {
					return fmt.Errorf("%s: sync bit %#x reused by %q", s.ID, a.SyncBit, a.Name)
				}
				mask |= a.SyncBit
			}
		}
		if len(cores) != s.Cores {
			return fmt.Errorf("%s: %d cores declared but %d assigned", s.ID, s.Cores, len(cores))
		}
		if s.SyncMask != 0 && mask != s.SyncMask {
			return fmt.Errorf("%s: assignment sync bits %#x do not cover mask %#x", s.ID, mask, s.SyncMask)
		}
	}
	return nil
}
