package detector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"warden/internal/abuse/classifier"
	"warden/internal/abuse/models"
	"warden/internal/abuse/penalty"
	"warden/internal/abuse/scoring"
	"warden/internal/abuse/settings"
	penaltyStore "warden/internal/abuse/store/penalty"
	"warden/internal/abuse/window"
)

const longPrompt = "Summarise the quarterly revenue figures for the board meeting"

type DetectorSuite struct {
	suite.Suite
	ctx      context.Context
	settings *settings.Store
	scorer   *scoring.Scorer
	engine   *penalty.Engine
	detector *Detector
	alice    models.Principal
	now      time.Time
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.settings = settings.New(nil, settings.WithClock(clock))

	engine, err := penalty.New(penaltyStore.New(), penalty.WithCacheTTL(0), penalty.WithClock(clock))
	s.Require().NoError(err)
	s.engine = engine

	scorer, err := scoring.New(window.New(), scoring.WithPenaltyApplier(engine), scoring.WithClock(clock))
	s.Require().NoError(err)
	s.scorer = scorer

	d, err := New(s.settings, scorer, engine)
	s.Require().NoError(err)
	s.detector = d
	s.alice = models.Principal{TokenID: "tok-alice", UserID: "alice", GroupIDs: []string{"default"}}
}

func (s *DetectorSuite) enable(mutate func(*models.SecuritySettings)) {
	cfg := models.DefaultSecuritySettings()
	cfg.EnableAntiAbuse = true
	if mutate != nil {
		mutate(&cfg)
	}
	_, err := s.settings.Set(s.ctx, cfg)
	s.Require().NoError(err)
}

// hop sends n requests alternating between two models and returns the last decision.
func (s *DetectorSuite) hop(p models.Principal, n int) models.Decision {
	var d models.Decision
	for i := range n {
		d = s.detector.CheckRequest(s.ctx, p, fmt.Sprintf("model-%d", i%2), longPrompt)
	}
	return d
}

func (s *DetectorSuite) TestDisabledAllowsWithoutTracking() {
	d := s.hop(s.alice, 40)
	s.True(d.Allowed)
	s.Zero(s.scorer.Tracked())
}

func (s *DetectorSuite) TestWhitelistedGroupBypasses() {
	s.enable(func(c *models.SecuritySettings) { c.WhitelistGroups = "default" })
	d := s.hop(s.alice, 40)
	s.True(d.Allowed)
	s.True(d.Whitelisted)
	s.Zero(s.scorer.Tracked())
}

func (s *DetectorSuite) TestTempBanBlocksTriggeringAndLaterRequests() {
	s.enable(func(c *models.SecuritySettings) { c.PenaltyType = models.PenaltyTempBan })

	d := s.hop(s.alice, 12)
	s.True(d.Allowed)
	s.Equal(50.0, d.Score)

	d = s.hop(s.alice, 11)
	s.False(d.Allowed)
	s.Require().NotNil(d.Penalty)
	s.Equal(models.PenaltyTempBan, d.Penalty.PenaltyType)
	s.Equal(30*time.Minute, d.RetryAfter)

	d = s.detector.CheckRequest(s.ctx, s.alice, "model-0", longPrompt)
	s.False(d.Allowed)
	s.NotEmpty(d.Message)
}

func (s *DetectorSuite) TestRateLimitPenaltyAllowsWithLimit() {
	s.enable(func(c *models.SecuritySettings) { c.RateLimitRequests = 7 })
	s.hop(s.alice, 23)

	d := s.detector.CheckRequest(s.ctx, s.alice, "model-0", longPrompt)
	s.True(d.Allowed)
	s.Equal(7, d.RateLimitRPM)
	s.Require().NotNil(d.Penalty)
	s.Zero(d.RetryAfter)
}

func (s *DetectorSuite) TestTestContentEscalates() {
	s.enable(func(c *models.SecuritySettings) {
		c.PenaltyType = models.PenaltyPermBan
		c.AbuseScoreActionThreshold = 50
		c.AbuseScoreWarningThreshold = 40
	})
	var d models.Decision
	for range 21 {
		d = s.detector.CheckRequest(s.ctx, s.alice, "gpt-4o", "ping")
	}
	s.False(d.Allowed)
	s.Equal(models.PenaltyPermBan, d.Penalty.PenaltyType)
	s.Zero(d.RetryAfter)
}

func (s *DetectorSuite) TestLiftRestoresAccess() {
	s.enable(func(c *models.SecuritySettings) { c.PenaltyType = models.PenaltyTempBan })
	s.hop(s.alice, 23)

	_, err := s.engine.Lift(s.ctx, s.alice.TokenID, "admin")
	s.Require().NoError(err)
	s.Require().NoError(s.scorer.Forget(s.ctx, s.alice.TokenID))

	d := s.detector.CheckRequest(s.ctx, s.alice, "model-0", longPrompt)
	s.True(d.Allowed)
}

func (s *DetectorSuite) TestRequestsWithoutPayloadAreNotScored() {
	s.enable(nil)
	for range 30 {
		s.True(s.detector.CheckRequest(s.ctx, s.alice, "", "").Allowed)
	}
	s.Zero(s.scorer.Tracked())
}

const imageOnlyBody = `{"model":"gpt-4o","messages":[{"role":"user","content":[{"type":"image_url","image_url":{"url":"https://img.example/cat.png"}}]}]}`

func (s *DetectorSuite) TestImageOnlyRequestsAreNotTestContent() {
	s.enable(func(c *models.SecuritySettings) { c.PenaltyType = models.PenaltyTempBan })
	extracted := classifier.ExtractContent([]byte(imageOnlyBody))
	s.Require().Equal("gpt-4o", extracted.Model)
	s.Require().Empty(extracted.Content)

	for range 42 {
		d := s.detector.CheckRequest(s.ctx, s.alice, extracted.Model, extracted.Content)
		s.Require().True(d.Allowed)
		s.Zero(d.Score)
	}
	status, err := s.engine.Status(s.ctx, s.alice.TokenID)
	s.Require().NoError(err)
	s.False(status.Active)
}

func (s *DetectorSuite) TestEmbeddingTokenInputStillTracksModelSwitches() {
	s.enable(nil)
	var d models.Decision
	for i := range 12 {
		body := fmt.Sprintf(`{"model":"embed-%d","input":[[101,2023,102],[101,2003,102]]}`, i%2)
		extracted := classifier.ExtractContent([]byte(body))
		s.Require().Empty(extracted.Content)
		d = s.detector.CheckRequest(s.ctx, s.alice, extracted.Model, extracted.Content)
	}
	s.True(d.Allowed)
	s.Equal(50.0, d.Score)
}

type brokenPenalties struct{}

func (brokenPenalties) Status(context.Context, string) (models.PenaltyStatus, error) {
	return models.PenaltyStatus{}, errors.New("database unavailable")
}

func (s *DetectorSuite) TestPenaltyLookupFailureFailsOpen() {
	s.enable(nil)
	d, err := New(s.settings, s.scorer, brokenPenalties{})
	s.Require().NoError(err)
	s.True(d.CheckRequest(s.ctx, s.alice, "gpt-4o", "hi").Allowed)
}

func (s *DetectorSuite) TestInfo() {
	s.enable(func(c *models.SecuritySettings) { c.PenaltyType = models.PenaltyTempBan })

	info, err := s.detector.Info(s.ctx, "unknown")
	s.Require().NoError(err)
	s.Equal(models.StateClear, info.State)
	s.Empty(info.History)

	s.hop(s.alice, 12)
	info, err = s.detector.Info(s.ctx, s.alice.TokenID)
	s.Require().NoError(err)
	s.Equal(models.StateWarned, info.State)
	s.Equal("model-1", info.LastModel)
	s.Len(info.History, 1)

	s.hop(s.alice, 11)
	info, err = s.detector.Info(s.ctx, s.alice.TokenID)
	s.Require().NoError(err)
	s.Equal(models.StatePenalized, info.State)
	s.True(info.Status.Active)
}

func (s *DetectorSuite) TestNewRequiresDependencies() {
	_, err := New(nil, s.scorer, s.engine)
	s.Error(err)
}
