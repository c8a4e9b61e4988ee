// Package artifacts resolves required input files (kernels, bootloaders,
// filesystem images, workload ELFs) through ordered fallback candidate
// lists. Absence is always communicated as a value — the empty string —
// never as an error; callers decide which slots are mandatory.
package artifacts

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/omx-labs/simrun/internal/target"
)

// Resolved maps an artifact role to an existing path, or "" when absent.
type Resolved map[target.ArtifactRole]string

// Resolve returns hint unchanged if it names an existing path, otherwise
// the first existing candidate in order, otherwise "".
func Resolve(hint string, candidates []string) string {
	if hint != "" && exists(hint) {
		return hint
	}
	for _, c := range candidates {
		if c != "" && exists(c) {
			return c
		}
	}
	return ""
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// KernelELF resolves a kernel path the way the build trees lay it out:
// a flat "Image" hint is traded for the corresponding vmlinux ELF when
// one can be found, since the simulator loads ELFs directly.
func KernelELF(root, hint string) string {
	h := join(root, hint)
	if exists(h) && filepath.Base(h) != "Image" {
		return h
	}
	candidates := []string{join(root, "build/linux/vmlinux")}
	if filepath.Base(h) == "Image" {
		// arch/riscv/boot/Image -> ../../../vmlinux next to the kernel tree.
		candidates = append(candidates, filepath.Join(h, "../../../../vmlinux"))
	}
	if r := Resolve("", candidates); r != "" {
		return r
	}
	if exists(h) {
		// No ELF found; the flat Image still loads under some configs.
		return h
	}
	return ""
}

func join(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// defaultCandidates lists the conventional output locations per role,
// relative to the workspace root.
func defaultCandidates(role target.ArtifactRole) []string {
	switch role {
	case target.RoleDiskImage:
		return []string{
			"build/buildroot/images/rootfs.ext2",
			"build/buildroot/images/rootfs2.ext2",
			"sources/buildroot/output/images/rootfs.ext2",
			"sources/buildroot/output/images/rootfs2.ext2",
		}
	case target.RoleBootloader:
		return []string{
			"build/buildroot/images/fw_jump.elf",
			"sources/buildroot/output/images/fw_jump.elf",
		}
	case target.RoleInitramfs:
		return []string{
			"build/initramfs/rootfs-shell.cpio",
			"build/buildroot/images/rootfs.cpio",
		}
	case target.RoleBootELF:
		return []string{"build/boot/riscv32_mixed_boot.elf"}
	case target.RoleZephyrELF:
		return []string{"build/zephyr/riscv32_simple/zephyr/zephyr.elf"}
	case target.RoleAMPCPU0ELF:
		return []string{"build/zephyr/cluster0_amp_cpu0/zephyr/zephyr.elf"}
	case target.RoleAMPCPU1ELF:
		return []string{"build/zephyr/cluster0_amp_cpu1/zephyr/zephyr.elf"}
	case target.RoleSMPELF:
		return []string{"build/zephyr/cluster1_smp/zephyr/zephyr.elf"}
	case target.RoleKernel:
		return []string{
			"build/linux/arch/riscv/boot/Image",
			"build/linux/vmlinux",
		}
	}
	return nil
}

// Options adjust resolution behavior.
type Options struct {
	// Root is prepended to relative candidate paths.
	Root string

	// Overrides maps roles to explicitly requested paths.
	Overrides map[target.ArtifactRole]string

	// AllowNoDisk suppresses the missing entry for an absent disk image.
	AllowNoDisk bool

	// TrampolineBuilder, when set, is run to produce the hybrid boot
	// trampoline ELF if it is absent. Failures fold into missing[].
	TrampolineBuilder []string
}

// ResolveAll fills every artifact slot the target declares and reports
// the required ones that could not be found. It never returns an error:
// resolution trouble, including a failed trampoline build, accumulates
// into the missing list with a descriptive tag.
func ResolveAll(spec target.Spec, opts Options) (Resolved, []string) {
	resolved := make(Resolved)
	var missing []string

	roles := make([]target.ArtifactRole, 0, len(spec.RequiredArtifacts)+len(spec.OptionalArtifacts))
	roles = append(roles, spec.RequiredArtifacts...)
	roles = append(roles, spec.OptionalArtifacts...)

	tagged := make(map[target.ArtifactRole]bool)
	for _, role := range roles {
		hint := join(opts.Root, opts.Overrides[role])

		if role == target.RoleBootELF && !exists(hint) {
			path, tag := prepareTrampoline(opts)
			resolved[role] = path
			if path == "" && tag != "" {
				missing = append(missing, tag)
				tagged[role] = true
			}
			continue
		}

		var path string
		if role == target.RoleKernel {
			path = KernelELF(opts.Root, firstNonEmpty(opts.Overrides[role], defaultCandidates(role)[0]))
		} else {
			path = Resolve(hint, rooted(opts.Root, defaultCandidates(role)))
		}
		resolved[role] = path
	}

	for _, role := range spec.RequiredArtifacts {
		if resolved[role] == "" && !tagged[role] {
			missing = append(missing, fmt.Sprintf("%s: %s", role, describe(opts, role)))
		}
	}
	// The Linux SMP target boots from disk unless the caller opted out;
	// the hybrid target mounts an initramfs and never needs one.
	if spec.ID == target.RiscV64SMP && resolved[target.RoleDiskImage] == "" && !opts.AllowNoDisk {
		missing = append(missing, "disk_image: not found (expected rootfs.ext2)")
	}

	sort.Strings(missing)
	return resolved, missing
}

// prepareTrampoline runs the configured builder when the trampoline ELF
// is absent. On failure it returns a descriptive missing tag rather than
// an error, so a broken preparatory step never aborts the run.
func prepareTrampoline(opts Options) (path, tag string) {
	resolve := func() string {
		return Resolve(join(opts.Root, opts.Overrides[target.RoleBootELF]),
			rooted(opts.Root, defaultCandidates(target.RoleBootELF)))
	}
	if p := resolve(); p != "" {
		return p, ""
	}
	if len(opts.TrampolineBuilder) == 0 {
		return "", ""
	}
	cmd := exec.Command(opts.TrampolineBuilder[0], opts.TrampolineBuilder[1:]...)
	cmd.Dir = opts.Root
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Sprintf("boot_elf: trampoline build failed: %v (%s)", err, firstLine(string(out)))
	}
	return resolve(), ""
}

func rooted(root string, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = join(root, p)
	}
	return out
}

func describe(opts Options, role target.ArtifactRole) string {
	if o := opts.Overrides[role]; o != "" {
		return o
	}
	if c := defaultCandidates(role); len(c) > 0 {
		return c[0]
	}
	return "no candidate paths"
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
