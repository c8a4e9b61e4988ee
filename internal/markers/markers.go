// Package markers implements the tolerant text-marker matching engine.
// Simulated consoles write to growing files and, when multiplexed, can
// interleave at arbitrary byte granularity; matching therefore runs in
// tiers of increasing permissiveness and never reports an error —
// a marker is either present or it is not.
package markers

import (
	"os"
	"regexp"
	"strings"
)

// ansiCSI matches ANSI CSI escape sequences (colors, cursor movement).
var ansiCSI = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

// Present reports whether marker can be considered observed in haystack.
//
// Matching tiers, short-circuiting on first success:
//  1. exact substring containment
//  2. whitespace-normalized containment (ANSI stripped, CR/NUL treated
//     as separators, whitespace runs collapsed on both sides; CRLF is
//     also retried as a hard wrap that rejoins a split marker)
//  3. only with allowInterleaved: uppercase-alphanumeric projection,
//     matched per line as a substring or an in-order subsequence, then
//     against the whole projected haystack
//
// Interleaved matching must only be enabled for targets whose consoles
// are multiplexed into one capture stream; on a single console it can
// produce false positives.
func Present(haystack, marker string, allowInterleaved bool) bool {
	if marker == "" {
		return false
	}

	// Tier 1: literal containment.
	if strings.Contains(haystack, marker) {
		return true
	}

	// Tier 2: normalized containment. A CRLF in captured serial output
	// is either a real line break or a hard wrap splitting a marker
	// mid-word; containment is tested under both readings.
	normMarker := normalize(marker, false)
	if normMarker != "" {
		if strings.Contains(normalize(haystack, false), normMarker) ||
			strings.Contains(normalize(haystack, true), normMarker) {
			return true
		}
	}

	if !allowInterleaved {
		return false
	}

	// Tier 3: alphanumeric projection. An empty projected marker never
	// matches; it would succeed vacuously against anything.
	pm := project(normMarker)
	if pm == "" {
		return false
	}
	cleaned := clean(haystack)
	for _, line := range strings.Split(cleaned, "\n") {
		pl := project(line)
		if strings.Contains(pl, pm) || subsequence(pm, pl) {
			return true
		}
	}
	// A marker split across adjacent writes can straddle a line break;
	// retry against the projection of the whole haystack.
	ph := project(cleaned)
	return strings.Contains(ph, pm) || subsequence(pm, ph)
}

// clean strips ANSI escapes and maps CR and NUL bytes to spaces,
// preserving line structure.
func clean(s string) string {
	s = ansiCSI.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\x00", " ")
	return s
}

// normalize collapses every whitespace run to one space. With joinWraps
// set, CRLF pairs are removed outright instead of acting as separators,
// rejoining words a terminal hard-wrapped mid-marker.
func normalize(s string, joinWraps bool) string {
	s = ansiCSI.ReplaceAllString(s, "")
	if joinWraps {
		s = strings.ReplaceAll(s, "\r\n", "")
	}
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\x00", " ")
	return strings.Join(strings.Fields(s), " ")
}

// project keeps only alphanumeric characters, uppercased.
func project(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		}
	}
	return b.String()
}

// subsequence reports whether needle's characters appear in order,
// possibly non-contiguously, within hay. Empty needles never match.
func subsequence(needle, hay string) bool {
	if needle == "" {
		return false
	}
	i := 0
	for j := 0; j < len(hay) && i < len(needle); j++ {
		if hay[j] == needle[i] {
			i++
		}
	}
	return i == len(needle)
}

// ReadAll concatenates the current contents of the given files.
// Missing or unreadable files contribute nothing.
func ReadAll(paths []string) string {
	var b strings.Builder
	for _, p := range paths {
		if p == "" {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		b.Write(data)
	}
	return b.String()
}

// ReadTable reads the given files and reports presence for each marker.
func ReadTable(paths []string, list []string, allowInterleaved bool) map[string]bool {
	text := ReadAll(paths)
	table := make(map[string]bool, len(list))
	for _, m := range list {
		table[m] = Present(text, m, allowInterleaved)
	}
	return table
}

// AllPresent reports whether every marker in list is observed in text.
func AllPresent(text string, list []string, allowInterleaved bool) bool {
	for _, m := range list {
		if !Present(text, m, allowInterleaved) {
			return false
		}
	}
	return len(list) > 0
}
