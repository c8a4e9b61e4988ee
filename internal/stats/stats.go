// Package stats extracts counters from the simulator's statistics dump,
// a text file of space-separated "<key> <value> ..." lines.
package stats

import (
	"os"
	"strconv"
	"strings"
)

// WantedKeys are the counters surfaced in run summaries.
var WantedKeys = []string{
	"simTicks",
	"simSeconds",
	"simInsts",
	"hostSeconds",
	"hostInstRate",
	"hostTickRate",
}

// Parse extracts the wanted counters from the stats file. Keys match
// exactly and the first occurrence wins; non-numeric values are treated
// as absent. A missing or unreadable file yields an empty map.
func Parse(path string, wanted []string) map[string]float64 {
	out := make(map[string]float64)
	data, err := os.ReadFile(path)
	if err != nil {
		return out
	}

	want := make(map[string]bool, len(wanted))
	for _, k := range wanted {
		want[k] = true
	}

	for _, line := range strings.Split(string(data), "\n") {
		cols := strings.Fields(line)
		if len(cols) < 2 {
			continue
		}
		key := cols[0]
		if !want[key] {
			continue
		}
		if _, seen := out[key]; seen {
			continue
		}
		v, err := strconv.ParseFloat(cols[1], 64)
		if err != nil {
			continue
		}
		out[key] = v
	}
	return out
}

// SimInsts returns the simulated instruction count, or -1 when the
// counter is absent or non-numeric.
func SimInsts(path string) float64 {
	if v, ok := Parse(path, []string{"simInsts"})["simInsts"]; ok {
		return v
	}
	return -1
}
