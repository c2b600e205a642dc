// Package masking scrubs upstream channel details from error messages before
// they reach API callers.
package masking

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"warden/internal/abuse/models"
)

const (
	GenericChannel = "upstream service"
	GenericError   = "An error occurred with the upstream service"
	maskedSequence = "[masked]"
)

var (
	channelIDPattern = regexp.MustCompile(`(?i)(?:` +
		`#\d+|` +
		`channel\s+\d+|` +
		`(?:渠道|通道)\s*[（(]?\s*#?\d+\s*[）)]?|` +
		`(?:channel|渠道|通道)\s*(?:id)?\s*[:：]?\s*\d+` +
		`)`)

	channelNamePattern = regexp.MustCompile(`(?i)(?:` +
		`(?:通道|渠道|channel)\s*[「『"']([^」』"']+)[」』"']|` +
		`(?:通道|渠道|channel)\s*[:：]\s*([^\s,，。.]+)` +
		`)`)

	channelTypePattern = regexp.MustCompile(`(?i)(?:` +
		`(?:channel\s+)?type\s*[:：]?\s*\d+|` +
		`(?:渠道|通道)类型\s*[:：]?\s*\d+` +
		`)`)

	retrySequencePattern = regexp.MustCompile(`\d+(?:\s*->\s*\d+)+|\[\s*\d+(?:\s*,\s*\d+)+\s*\]`)

	// channel <name> is/was/has been/已被 ...
	channelKeywordPattern = regexp.MustCompile(`(?i)(?:渠道|通道|channel)\s+[^\s,，。.（(]+\s*(已被|is|was|has been)`)

	urlPattern  = regexp.MustCompile(`https?://[^\s"'<>]+`)
	ipv4Pattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}(?::\d+)?\b`)
)

// Options selects which channel details are masked.
type Options struct {
	Enabled bool
	Names   bool
	IDs     bool
	Types   bool
}

// OptionsFrom reads the masking flags from security settings.
func OptionsFrom(s models.SecuritySettings) Options {
	return Options{
		Enabled: s.EnableChannelMasking,
		Names:   s.MaskChannelNames,
		IDs:     s.MaskChannelIDs,
		Types:   s.MaskChannelTypes,
	}
}

// Mask replaces channel identifiers in message. Retry sequences, endpoint
// URLs and addresses are always removed when masking is enabled.
func Mask(message string, opts Options) string {
	if message == "" || !opts.Enabled {
		return message
	}
	out := message
	if opts.IDs {
		out = channelIDPattern.ReplaceAllString(out, GenericChannel)
	}
	if opts.Names {
		out = channelNamePattern.ReplaceAllString(out, GenericChannel)
	}
	if opts.Types {
		out = channelTypePattern.ReplaceAllString(out, GenericChannel)
	}
	out = retrySequencePattern.ReplaceAllString(out, maskedSequence)
	out = channelKeywordPattern.ReplaceAllString(out, GenericChannel+" $1")
	out = urlPattern.ReplaceAllString(out, GenericChannel)
	out = ipv4Pattern.ReplaceAllString(out, GenericChannel)
	return out
}

// ContainsChannelInfo reports whether message still identifies a channel.
func ContainsChannelInfo(message string) bool {
	for _, re := range []*regexp.Regexp{channelIDPattern, channelNamePattern, channelTypePattern, retrySequencePattern, channelKeywordPattern} {
		if re.MatchString(message) {
			return true
		}
	}
	return false
}

// SafeMessage masks message and falls back to a generic text when anything
// identifying survives.
func SafeMessage(message string, opts Options) string {
	if message == "" {
		return GenericError
	}
	if !opts.Enabled {
		return message
	}
	masked := Mask(message, opts)
	if opts.IDs && opts.Names && opts.Types && ContainsChannelInfo(masked) {
		return GenericError
	}
	return masked
}

// MaskErrorBody rewrites the message fields of an upstream JSON error body
// ({"error":{"message":...}}, {"message":...} or {"description":...}).
// Non-JSON bodies are masked as plain text.
func MaskErrorBody(body []byte, opts Options) []byte {
	if !opts.Enabled || len(bytes.TrimSpace(body)) == 0 {
		return body
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return []byte(SafeMessage(string(body), opts))
	}
	changed := maskFields(doc, opts)
	if nested, ok := doc["error"].(map[string]any); ok {
		changed = maskFields(nested, opts) || changed
	}
	if msg, ok := doc["error"].(string); ok {
		doc["error"] = SafeMessage(msg, opts)
		changed = true
	}
	if !changed {
		return body
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return body
	}
	return out
}

func maskFields(m map[string]any, opts Options) bool {
	changed := false
	for _, key := range []string{"message", "description"} {
		if v, ok := m[key].(string); ok && strings.TrimSpace(v) != "" {
			m[key] = SafeMessage(v, opts)
			changed = true
		}
	}
	return changed
}
