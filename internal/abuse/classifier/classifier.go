// Package classifier decides whether request content is test or low-effort
// traffic.
package classifier

import (
	"strings"
	"unicode/utf8"

	"warden/internal/abuse/models"
)

// Classify applies the length rule and then the pattern list. Content is
// trimmed first; patterns are matched case-insensitively as whole tokens,
// where a token boundary is the string edge or any character that is not
// an ASCII letter or digit.
func Classify(content string, snap *models.Snapshot) models.ClassifyResult {
	trimmed := strings.TrimSpace(content)
	length := utf8.RuneCountInString(trimmed)
	result := models.ClassifyResult{Length: length}

	if snap == nil {
		return result
	}

	if length < snap.Settings.MinContentLength {
		result.IsTest = true
		result.Reason = models.ClassifyTooShort
	}

	if pattern, ok := MatchPattern(trimmed, snap.Patterns); ok {
		result.IsTest = true
		result.MatchedPattern = pattern
		if result.Reason == "" {
			result.Reason = models.ClassifyPattern
		}
	}

	return result
}

// MatchPattern returns the first pattern found in content. Patterns must
// already be lower-cased.
func MatchPattern(content string, patterns []string) (string, bool) {
	if len(patterns) == 0 || content == "" {
		return "", false
	}
	lower := strings.ToLower(content)
	for _, p := range patterns {
		if p != "" && containsToken(lower, p) {
			return p, true
		}
	}
	return "", false
}

func containsToken(s, token string) bool {
	offset := 0
	for {
		i := strings.Index(s[offset:], token)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(token)
		if boundaryBefore(s, start) && boundaryAfter(s, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		offset = start + size
	}
}

func boundaryBefore(s string, i int) bool {
	return i == 0 || !isASCIIAlnum(s[i-1])
}

func boundaryAfter(s string, i int) bool {
	return i >= len(s) || !isASCIIAlnum(s[i])
}

func isASCIIAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}
