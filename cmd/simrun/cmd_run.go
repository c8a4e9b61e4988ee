package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/omx-labs/simrun/internal/history"
	"github.com/omx-labs/simrun/internal/logging"
	"github.com/omx-labs/simrun/internal/run"
	"github.com/omx-labs/simrun/internal/target"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch one simulation and validate its completion",
		Long: `Run resolves the target's input artifacts, launches gem5 under
supervision, scans the console captures for the target's completion
markers, and writes a JSON manifest.

Exit codes: 0 all checks passed, 1 ran but checks failed, 2 missing
prerequisites or artifacts, 124 timeout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			flags := cmd.Flags()
			targetName, _ := flags.GetString("target")
			modeName, _ := flags.GetString("mode")

			spec, err := target.Lookup(target.ID(targetName))
			if err != nil {
				return err
			}
			mode, err := target.ParseMode(modeName)
			if err != nil {
				return err
			}

			// Flag overrides on top of the config file.
			if v, _ := flags.GetString("gem5-bin"); v != "" {
				cfg.Gem5Bin = v
			}
			if v, _ := flags.GetString("results-root"); v != "" {
				cfg.ResultsRoot = v
			}
			if v, _ := flags.GetString("log-root"); v != "" {
				cfg.LogsRoot = v
			}

			overrides := map[target.ArtifactRole]string{}
			for role, flag := range map[target.ArtifactRole]string{
				target.RoleKernel:     "kernel",
				target.RoleDiskImage:  "disk-image",
				target.RoleBootloader: "bootloader",
				target.RoleInitramfs:  "initramfs",
				target.RoleBootELF:    "boot-elf",
				target.RoleZephyrELF:  "zephyr-elf",
				target.RoleAMPCPU0ELF: "amp-cpu0-elf",
				target.RoleAMPCPU1ELF: "amp-cpu1-elf",
				target.RoleSMPELF:     "smp-elf",
			} {
				if v, _ := flags.GetString(flag); v != "" {
					overrides[role] = v
				}
			}

			req := run.Request{
				Target:    spec.ID,
				Mode:      mode,
				Overrides: overrides,
			}
			req.CPUType, _ = flags.GetString("cpu-type")
			req.CommandLine, _ = flags.GetString("command-line")
			req.IPCCase, _ = flags.GetString("ipc-case")
			req.Timestamp, _ = flags.GetString("timestamp")
			req.DryRun, _ = flags.GetBool("dry-run")
			req.AllowNoDisk, _ = flags.GetBool("allow-no-disk")
			req.TimeoutSec, _ = flags.GetInt("timeout-sec")
			req.TrampolineBuilder, _ = flags.GetStringSlice("trampoline-builder")

			log := logging.NewLogger(cfg.Logging.Level, os.Stderr)

			var hist *history.Store
			if cfg.History.Path != "" {
				hist, err = history.Open(cfg.History.Path)
				if err != nil {
					log.Warn("run history unavailable", "error", err)
				}
			}

			o := &run.Orchestrator{
				Config:  cfg,
				Log:     log,
				History: hist,
				Out:     os.Stdout,
			}
			outcome, err := o.Execute(cmd.Context(), req)
			if hist != nil {
				hist.Close()
			}
			if err != nil {
				return err
			}

			if jsonOut, _ := flags.GetBool("json"); jsonOut {
				json.NewEncoder(os.Stdout).Encode(map[string]any{
					"exit_code": outcome.ExitCode,
					"timestamp": outcome.Timestamp,
					"manifest":  outcome.ManifestPath,
					"missing":   outcome.Missing,
				})
			}

			if outcome.ExitCode != 0 {
				os.Exit(outcome.ExitCode)
			}
			return nil
		},
	}

	cmd.Flags().String("target", "", "Target to run: riscv32_simple, riscv32_mixed, riscv64_smp, riscv_hybrid")
	cmd.Flags().String("mode", "simple", "Workload mode: simple (marker-gated) or complex (full tick budget)")
	cmd.Flags().String("gem5-bin", "", "gem5 binary (overrides config)")
	cmd.Flags().String("results-root", "", "Manifest output root (overrides config)")
	cmd.Flags().String("log-root", "", "Simulator output root (overrides config)")
	cmd.Flags().String("cpu-type", "", "CPU model, folded to timing/atomic where needed")
	cmd.Flags().String("command-line", "", "Linux kernel command line (RV64 targets)")
	cmd.Flags().String("ipc-case", "", "IPC stress case for mixed workloads")
	cmd.Flags().String("timestamp", "", "Fixed run timestamp (default: now, UTC)")
	cmd.Flags().Int("timeout-sec", 0, "Run timeout in seconds (overrides config)")
	cmd.Flags().Bool("dry-run", false, "Resolve and plan only, do not launch gem5")
	cmd.Flags().Bool("allow-no-disk", false, "Run riscv64_smp without a disk image")
	cmd.Flags().StringSlice("trampoline-builder", nil, "Command that builds the hybrid boot trampoline ELF when absent")

	cmd.Flags().String("kernel", "", "Kernel path (Image hints resolve to vmlinux)")
	cmd.Flags().String("disk-image", "", "Root filesystem image")
	cmd.Flags().String("bootloader", "", "OpenSBI fw_jump.elf")
	cmd.Flags().String("initramfs", "", "Initramfs cpio archive")
	cmd.Flags().String("boot-elf", "", "Hybrid boot trampoline ELF")
	cmd.Flags().String("zephyr-elf", "", "Zephyr workload ELF (riscv32_simple)")
	cmd.Flags().String("amp-cpu0-elf", "", "AMP CPU0 workload ELF")
	cmd.Flags().String("amp-cpu1-elf", "", "AMP CPU1 workload ELF")
	cmd.Flags().String("smp-elf", "", "Cluster1 SMP workload ELF")

	cmd.MarkFlagRequired("target")

	return cmd
}
