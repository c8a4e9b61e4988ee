// Package manifest persists the machine-readable record of a run: what
// was launched, what artifacts it used, how the process ended, and
// which checks passed. One JSON file per run, plus "latest" symlink
// pointers for quick navigation.
package manifest

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/omx-labs/simrun/internal/supervise"
	"github.com/omx-labs/simrun/internal/validate"
)

// Validation carries the aggregate verdict; the per-check table lives
// at the manifest's top level, where dashboards read it.
type Validation struct {
	AllPassed bool `json:"all_passed"`
}

// Manifest is the persisted record of one run. Dry runs carry the
// planned command but no run result or validation.
type Manifest struct {
	Timestamp string `json:"timestamp"`
	Target    string `json:"target"`
	Mode      string `json:"mode"`
	DryRun    bool   `json:"dry_run"`

	Gem5Bin   string            `json:"gem5_bin"`
	Config    string            `json:"config"`
	Artifacts map[string]string `json:"artifacts"`
	Missing   []string          `json:"missing,omitempty"`

	Commands [][]string `json:"commands"`

	RunResult  *supervise.Result   `json:"run_result,omitempty"`
	Markers    map[string]bool     `json:"markers,omitempty"`
	Checks     validate.CheckTable `json:"checks,omitempty"`
	Validation *Validation         `json:"validation,omitempty"`

	RunLog       string   `json:"run_log,omitempty"`
	TerminalLogs []string `json:"terminal_logs,omitempty"`
	StatsPath    string   `json:"stats_path,omitempty"`
	SimInsts     int64    `json:"sim_insts"`

	ResultsDir string `json:"results_dir"`
	LogsDir    string `json:"logs_dir"`

	// LatestLinks lists the symlink pointers refreshed for this run.
	LatestLinks []string `json:"latest_links,omitempty"`
}

// LatestLinkPaths returns the pointer locations UpdateLatestLinks will
// refresh for a run, for recording in the manifest.
func LatestLinkPaths(resultsRoot, logsRoot, target, mode string) []string {
	suffix := fmt.Sprintf("latest_%s_%s", target, mode)
	return []string{
		filepath.Join(resultsRoot, "latest"),
		filepath.Join(resultsRoot, suffix),
		filepath.Join(logsRoot, "latest"),
		filepath.Join(logsRoot, suffix),
	}
}

// Path returns the manifest location for a run under resultsRoot.
func Path(resultsRoot, ts, target, mode string) string {
	return filepath.Join(resultsRoot, ts, fmt.Sprintf("%s_%s.json", target, mode))
}

// Write serializes m to path, creating parent directories as needed.
func Write(m Manifest, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating manifest dir: %w", err)
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Read loads a manifest back from disk.
func Read(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decoding manifest %s: %w", path, err)
	}
	return m, nil
}

// UpdateLatestLinks refreshes the "latest" and "latest_{target}_{mode}"
// symlinks under both the results root and the logs root. Links point
// at the timestamped directory relative to the root so the tree stays
// relocatable. An existing symlink is replaced; a real directory that
// happens to occupy the name is left alone with a warning, never
// removed.
func UpdateLatestLinks(log *slog.Logger, resultsRoot, logsRoot, ts, target, mode string) {
	suffix := fmt.Sprintf("latest_%s_%s", target, mode)
	for _, name := range []string{"latest", suffix} {
		relink(log, filepath.Join(resultsRoot, name), ts)
		relink(log, filepath.Join(logsRoot, name), filepath.Join(target, ts))
	}
}

func relink(log *slog.Logger, linkPath, dest string) {
	if fi, err := os.Lstat(linkPath); err == nil {
		if fi.Mode()&os.ModeSymlink == 0 {
			log.Warn("latest pointer occupied by a real path, leaving it",
				"path", linkPath)
			return
		}
		if err := os.Remove(linkPath); err != nil {
			log.Warn("removing stale latest pointer", "path", linkPath, "error", err)
			return
		}
	}
	if err := os.Symlink(dest, linkPath); err != nil {
		log.Warn("creating latest pointer", "path", linkPath, "error", err)
	}
}
