package strings

import "strings"

// DedupeAndTrim trims whitespace, removes empty entries and duplicates,
// preserving first-seen order.
//
//	DedupeAndTrim([]string{"  foo ", "bar", "foo", ""})
//	// Returns: []string{"foo", "bar"}
func DedupeAndTrim(values []string) []string {
	return dedupe(values, strings.TrimSpace)
}

// DedupeAndTrimLower is DedupeAndTrim with case folding.
func DedupeAndTrimLower(values []string) []string {
	return dedupe(values, func(s string) string {
		return strings.ToLower(strings.TrimSpace(s))
	})
}

// SplitList splits an admin-entered list on commas and newlines and returns
// the trimmed, deduplicated entries.
func SplitList(s string) []string {
	return DedupeAndTrim(splitFields(s, ",\n"))
}

// SplitLines splits on newlines only, lower-casing every entry. Entries may
// contain commas.
func SplitLines(s string) []string {
	return DedupeAndTrimLower(splitFields(s, "\n"))
}

// ToSet converts a list to a membership set.
func ToSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}

func splitFields(s, seps string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == '\r' || strings.ContainsRune(seps, r)
	})
}

func dedupe(values []string, normalize func(string) string) []string {
	if len(values) == 0 {
		return values
	}

	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))

	for _, v := range values {
		n := normalize(v)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}

	return result
}
