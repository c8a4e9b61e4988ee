package stats

import (
	"os"
	"path/filepath"
	"testing"
)

func writeStats(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stats.txt")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse(t *testing.T) {
	path := writeStats(t, `
simTicks 123456789 # Number of ticks simulated
simSeconds 0.000123 # Number of seconds simulated
simInsts 987654 # Number of instructions simulated
hostSeconds 12.5
bogusKey notanumber
simInsts 111111 # second dump, must be ignored
`)
	got := Parse(path, WantedKeys)
	if got["simTicks"] != 123456789 {
		t.Errorf("simTicks = %v", got["simTicks"])
	}
	if got["simInsts"] != 987654 {
		t.Errorf("simInsts = %v, first match must win", got["simInsts"])
	}
	if got["hostSeconds"] != 12.5 {
		t.Errorf("hostSeconds = %v", got["hostSeconds"])
	}
	if _, ok := got["hostInstRate"]; ok {
		t.Error("hostInstRate should be absent")
	}
}

func TestParseNonNumericTreatedAsAbsent(t *testing.T) {
	path := writeStats(t, "simInsts n/a\n")
	if _, ok := Parse(path, WantedKeys)["simInsts"]; ok {
		t.Error("non-numeric value should be absent")
	}
}

func TestParseMissingFile(t *testing.T) {
	got := Parse(filepath.Join(t.TempDir(), "nope.txt"), WantedKeys)
	if len(got) != 0 {
		t.Errorf("expected empty map, got %v", got)
	}
}

func TestSimInstsSentinel(t *testing.T) {
	if v := SimInsts(filepath.Join(t.TempDir(), "nope.txt")); v != -1 {
		t.Errorf("SimInsts = %v, want -1 sentinel", v)
	}
	path := writeStats(t, "simInsts 42\n")
	if v := SimInsts(path); v != 42 {
		t.Errorf("SimInsts = %v, want 42", v)
	}
}
