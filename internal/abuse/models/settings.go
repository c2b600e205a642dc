package models

import (
	"errors"
	"time"

	dErrors "warden/pkg/domain-errors"
	pstrings "warden/pkg/platform/strings"
	"warden/pkg/platform/validation"
)

// DefaultTestContentPatterns is the stock newline separated pattern list.
const DefaultTestContentPatterns = "hi\nhello\ntest\nping\n你好\n测试"

// SecuritySettings is the admin-editable configuration. It is replaced
// wholesale on every save.
type SecuritySettings struct {
	EnableChannelMasking bool `json:"enable_channel_masking" yaml:"enable_channel_masking"`
	MaskChannelNames     bool `json:"mask_channel_names" yaml:"mask_channel_names"`
	MaskChannelIDs       bool `json:"mask_channel_ids" yaml:"mask_channel_ids"`
	MaskChannelTypes     bool `json:"mask_channel_types" yaml:"mask_channel_types"`

	EnableAntiAbuse bool `json:"enable_anti_abuse" yaml:"enable_anti_abuse"`

	ModelSwitchWindowMinutes int `json:"model_switch_window_minutes" yaml:"model_switch_window_minutes"`
	ModelSwitchThreshold     int `json:"model_switch_threshold" yaml:"model_switch_threshold"`

	MinContentLength         int    `json:"min_content_length" yaml:"min_content_length"`
	TestContentThreshold     int    `json:"test_content_threshold" yaml:"test_content_threshold"`
	TestContentWindowMinutes int    `json:"test_content_window_minutes" yaml:"test_content_window_minutes"`
	TestContentPatterns      string `json:"test_content_patterns" yaml:"test_content_patterns"`

	AbuseScoreWarningThreshold int `json:"abuse_score_warning_threshold" yaml:"abuse_score_warning_threshold"`
	AbuseScoreActionThreshold  int `json:"abuse_score_action_threshold" yaml:"abuse_score_action_threshold"`

	PenaltyType            PenaltyType `json:"penalty_type" yaml:"penalty_type"`
	TempBanDurationMinutes int         `json:"temp_ban_duration_minutes" yaml:"temp_ban_duration_minutes"`
	RateLimitRequests      int         `json:"rate_limit_requests" yaml:"rate_limit_requests"`

	WhitelistUserIDs string `json:"whitelist_user_ids" yaml:"whitelist_user_ids"`
	WhitelistGroups  string `json:"whitelist_groups" yaml:"whitelist_groups"`
}

// DefaultSecuritySettings returns the settings used when nothing was saved.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		EnableChannelMasking:       true,
		MaskChannelNames:           true,
		MaskChannelIDs:             true,
		MaskChannelTypes:           true,
		EnableAntiAbuse:            false,
		ModelSwitchWindowMinutes:   5,
		ModelSwitchThreshold:       10,
		MinContentLength:           10,
		TestContentThreshold:       20,
		TestContentWindowMinutes:   5,
		TestContentPatterns:        DefaultTestContentPatterns,
		AbuseScoreWarningThreshold: 50,
		AbuseScoreActionThreshold:  80,
		PenaltyType:                PenaltyRateLimit,
		TempBanDurationMinutes:     30,
		RateLimitRequests:          5,
	}
}

// Validate checks every numeric range and the penalty type. The returned
// error names the first offending field.
func (s SecuritySettings) Validate() error {
	checks := []error{
		validation.CheckRange("model_switch_window_minutes", s.ModelSwitchWindowMinutes, 1, 60),
		validation.CheckRange("model_switch_threshold", s.ModelSwitchThreshold, 1, 100),
		validation.CheckRange("min_content_length", s.MinContentLength, 1, 100),
		validation.CheckRange("test_content_threshold", s.TestContentThreshold, 1, 100),
		validation.CheckRange("test_content_window_minutes", s.TestContentWindowMinutes, 1, 60),
		validation.CheckRange("abuse_score_warning_threshold", s.AbuseScoreWarningThreshold, 1, 100),
		validation.CheckRange("abuse_score_action_threshold", s.AbuseScoreActionThreshold, 1, 100),
		validation.CheckRange("temp_ban_duration_minutes", s.TempBanDurationMinutes, 1, 1440),
		validation.CheckRange("rate_limit_requests", s.RateLimitRequests, 1, 1000),
		validation.CheckOneOf("penalty_type", string(s.PenaltyType),
			string(PenaltyRateLimit), string(PenaltyTempBan), string(PenaltyPermBan)),
		validation.CheckStringLength("test_content_patterns", s.TestContentPatterns, validation.MaxListFieldLength),
		validation.CheckStringLength("whitelist_user_ids", s.WhitelistUserIDs, validation.MaxListFieldLength),
		validation.CheckStringLength("whitelist_groups", s.WhitelistGroups, validation.MaxListFieldLength),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}
	if s.AbuseScoreWarningThreshold > s.AbuseScoreActionThreshold {
		return dErrors.NewField("abuse_score_warning_threshold", "must not exceed abuse_score_action_threshold")
	}
	return nil
}

// ErrConfigUnavailable is wrapped when the settings backend cannot be read.
var ErrConfigUnavailable = errors.New("security settings unavailable")

// Snapshot is an immutable, pre-parsed view of SecuritySettings handed to
// every scoring call.
type Snapshot struct {
	Settings        SecuritySettings
	Patterns        []string
	WhitelistUsers  map[string]struct{}
	WhitelistGroups map[string]struct{}
	Version         uint64
	LoadedAt        time.Time
	// Fallback is set when the snapshot was synthesized because no settings
	// could ever be loaded.
	Fallback bool
}

// NewSnapshot parses list fields once so the hot path only does set lookups.
func NewSnapshot(s SecuritySettings, version uint64, at time.Time) *Snapshot {
	return &Snapshot{
		Settings:        s,
		Patterns:        pstrings.SplitLines(s.TestContentPatterns),
		WhitelistUsers:  pstrings.ToSet(pstrings.SplitList(s.WhitelistUserIDs)),
		WhitelistGroups: pstrings.ToSet(pstrings.SplitList(s.WhitelistGroups)),
		Version:         version,
		LoadedAt:        at,
	}
}

// ModelSwitchWindow is the model switch sliding window length.
func (s *Snapshot) ModelSwitchWindow() time.Duration {
	return time.Duration(s.Settings.ModelSwitchWindowMinutes) * time.Minute
}

// TestContentWindow is the test content sliding window length.
func (s *Snapshot) TestContentWindow() time.Duration {
	return time.Duration(s.Settings.TestContentWindowMinutes) * time.Minute
}

// TempBanDuration is the length of a temporary ban.
func (s *Snapshot) TempBanDuration() time.Duration {
	return time.Duration(s.Settings.TempBanDurationMinutes) * time.Minute
}
