// Package strings holds the list normalization shared by config parsing.
package strings

import (
	"strings"
)

// SplitList splits a comma separated value and applies DedupeAndTrim.
func SplitList(s string) []string {
	return DedupeAndTrim(strings.Split(s, ","))
}

// DedupeAndTrim trims each element and drops blanks and repeats, keeping the
// first occurrence.
//
//	DedupeAndTrim([]string{"  kafka ", "memory", "kafka", ""})
//	// []string{"kafka", "memory"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding, for enumerated
// settings such as sink and backend names.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
