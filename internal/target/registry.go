package target

// registry is the closed list of supported topologies. Core ids are
// logical and per-target; the hybrid target counts its RV64 cluster
// after the six RV32 cores.
var registry = mustRegistry()

func mustRegistry() []Spec {
	specs := []Spec{
		{
			ID:           RiscV32Simple,
			Label:        "RISC-V32 Simple (CPU0 only)",
			ISA:          "rv32",
			Clusters:     1,
			Cores:        1,
			Consoles:     1,
			MarkerPrefix: "RISCV32 SIMPLE",
			ConfigScript: "conf/riscv32_simple.py",
			Assignments: []Assignment{
				{
					Name:    "cpu0",
					Cores:   []int{0},
					Image:   RoleZephyrELF,
					Console: 0,
					Reports: true,
				},
			},
			RequiredArtifacts: []ArtifactRole{RoleZephyrELF},
		},
		{
			ID:           RiscV32Mixed,
			Label:        "RISC-V32 Mixed AMP/SMP",
			ISA:          "rv32",
			Clusters:     2,
			Cores:        6,
			Consoles:     3,
			Interleaved:  true,
			MarkerPrefix: "RISCV32 MIXED",
			SyncMask:     0x7,
			ConfigScript: "conf/riscv32_mixed.py",
			Assignments: []Assignment{
				{
					Name:    "amp_cpu0",
					Role:    "AMP CPU0",
					DTRole:  "cluster0-amp-cpu0",
					Cores:   []int{0},
					Image:   RoleAMPCPU0ELF,
					SyncBit: 0x1,
					Console: 0,
					Reports: true,
				},
				{
					Name:    "amp_cpu1",
					Role:    "AMP CPU1",
					DTRole:  "cluster0-amp-cpu1",
					Cores:   []int{1},
					Image:   RoleAMPCPU1ELF,
					SyncBit: 0x2,
					Console: 1,
					Reports: true,
				},
				{
					Name:    "cluster1_smp",
					Role:    "CLUSTER1 SMP",
					DTRole:  "cluster1-smp",
					Cores:   []int{2, 3, 4, 5},
					Image:   RoleSMPELF,
					SyncBit: 0x4,
					Console: 2,
					Reports: true,
				},
			},
			RequiredArtifacts: []ArtifactRole{RoleAMPCPU0ELF, RoleAMPCPU1ELF, RoleSMPELF},
		},
		{
			ID:           RiscV64SMP,
			Label:        "RISC-V64 SMP Linux",
			ISA:          "rv64",
			Clusters:     1,
			Cores:        4,
			Consoles:     1,
			BootMarkers:  []string{"OpenSBI", "Linux version"},
			ConfigScript: "sources/gem5/configs/deprecated/example/riscv/fs_linux.py",
			Assignments: []Assignment{
				{
					Name:    "linux",
					Role:    "LINUX SMP",
					Cores:   []int{0, 1, 2, 3},
					Image:   RoleKernel,
					Console: 0,
				},
			},
			RequiredArtifacts: []ArtifactRole{RoleKernel},
			OptionalArtifacts: []ArtifactRole{RoleDiskImage, RoleBootloader, RoleInitramfs},
		},
		{
			ID:           RiscVHybrid,
			Label:        "Hybrid RV32 Mixed + RV64 Linux",
			ISA:          "rv32+rv64",
			Clusters:     3,
			Cores:        10,
			Consoles:     4,
			Interleaved:  true,
			MarkerPrefix: "RISCV32 MIXED",
			BootMarkers:  []string{"OpenSBI", "Linux version"},
			SyncMask:     0x7,
			ConfigScript: "conf/riscv_hybrid.py",
			Assignments: []Assignment{
				{
					Name:    "amp_cpu0",
					Role:    "AMP CPU0",
					DTRole:  "cluster0-amp-cpu0",
					Cores:   []int{0},
					Image:   RoleAMPCPU0ELF,
					SyncBit: 0x1,
					Console: 0,
					Reports: true,
				},
				{
					Name:    "amp_cpu1",
					Role:    "AMP CPU1",
					DTRole:  "cluster0-amp-cpu1",
					Cores:   []int{1},
					Image:   RoleAMPCPU1ELF,
					SyncBit: 0x2,
					Console: 1,
					Reports: true,
				},
				{
					Name:    "cluster1_smp",
					Role:    "CLUSTER1 SMP",
					DTRole:  "cluster1-smp",
					Cores:   []int{2, 3, 4, 5},
					Image:   RoleSMPELF,
					SyncBit: 0x4,
					Console: 2,
					Reports: true,
				},
				{
					Name:    "linux",
					Role:    "LINUX SMP",
					Cores:   []int{6, 7, 8, 9},
					Image:   RoleKernel,
					Console: 3,
				},
			},
			RequiredArtifacts: []ArtifactRole{
				RoleBootELF, RoleAMPCPU0ELF, RoleAMPCPU1ELF, RoleSMPELF, RoleKernel,
			},
			OptionalArtifacts: []ArtifactRole{RoleBootloader, RoleInitramfs, RoleDiskImage},
		},
	}
	if err := validate(specs); err != nil {
		panic(err)
	}
	return specs
}
