package classify

import (
	"path"
	"regexp"
	"strings"
	"unicode"
)

var (
	trailingCounter = regexp.MustCompile(`\s*\(\d+\)$`)
	trailingVersion = regexp.MustCompile(`(?i)_v\d+$`)
)

// NormalizeName reduces a file name to the letters and digits that identify
// it: the extension, trailing copy counters like " (2)" and trailing "_v3"
// version suffixes are removed, the rest is lowercased and stripped of
// whitespace, underscores and dashes.
func NormalizeName(name string) string {
	stem := strings.TrimSuffix(name, path.Ext(name))
	for {
		next := trailingCounter.ReplaceAllString(stem, "")
		next = trailingVersion.ReplaceAllString(next, "")
		next = strings.TrimSpace(next)
		if next == stem {
			break
		}
		stem = next
	}

	var b strings.Builder
	for _, r := range strings.ToLower(stem) {
		if unicode.IsSpace(r) || r == '_' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// NameSimilarity compares two file names after normalization. Equal names
// score 100; when one contains the other the score is the length ratio of
// the shorter to the longer (0..100); anything else scores 0.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 100
	}
	short, long := na, nb
	if len(short) > len(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return 0
	}
	return 100 * float64(len(short)) / float64(len(long))
}

// SizeSimilarity is 100 * (1 - |a-b| / avg(a,b)), floored at 0.
func SizeSimilarity(a, b int64) float64 {
	if a == b {
		return 100
	}
	avg := (float64(a) + float64(b)) / 2
	if avg <= 0 {
		return 0
	}
	diff := float64(a - b)
	if diff < 0 {
		diff = -diff
	}
	s := 100 * (1 - diff/avg)
	if s < 0 {
		return 0
	}
	return s
}
