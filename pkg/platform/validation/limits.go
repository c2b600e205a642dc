package validation

import (
	"fmt"
	"unicode/utf8"

	dErrors "warden/pkg/domain-errors"
)

// MaxListFieldLength bounds free-text list fields such as whitelists and
// pattern lists.
const MaxListFieldLength = 64 * 1024

// CheckRange validates that value lies within [min, max].
func CheckRange(fieldName string, value, min, max int) error {
	if value < min || value > max {
		return dErrors.NewField(fieldName, fmt.Sprintf("must be between %d and %d, got %d", min, max, value))
	}
	return nil
}

// CheckStringLength validates that a string does not exceed max runes.
func CheckStringLength(fieldName, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return dErrors.NewField(fieldName, fmt.Sprintf("exceeds max length of %d", max))
	}
	return nil
}

// CheckOneOf validates that value is one of the allowed options.
func CheckOneOf(fieldName, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return dErrors.NewField(fieldName, fmt.Sprintf("must be one of %v, got %q", allowed, value))
}
