package scoring

//go:generate mockgen -source=scorer.go -destination=mocks/mocks.go -package=mocks Counter,PenaltyApplier

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"warden/internal/abuse/config"
	"warden/internal/abuse/models"
	"warden/internal/abuse/scoring/mocks"
	"warden/internal/abuse/window"
	dErrors "warden/pkg/domain-errors"
)

type ScorerSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	ctrl    *gomock.Controller
	applier *mocks.MockPenaltyApplier
	counter *window.Counter
	scorer  *Scorer
	snap    *models.Snapshot
	alice   models.Principal
}

func TestScorerSuite(t *testing.T) {
	suite.Run(t, new(ScorerSuite))
}

func (s *ScorerSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	s.ctrl = gomock.NewController(s.T())
	s.applier = mocks.NewMockPenaltyApplier(s.ctrl)
	s.counter = window.New()

	cfg := config.DefaultConfig().Scoring
	cfg.LockTimeout = 10 * time.Millisecond
	scorer, err := New(s.counter,
		WithConfig(cfg),
		WithPenaltyApplier(s.applier),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
	s.scorer = scorer

	settings := models.DefaultSecuritySettings()
	settings.EnableAntiAbuse = true
	settings.WhitelistUserIDs = "vip"
	s.snap = models.NewSnapshot(settings, 1, s.now)
	s.alice = models.Principal{TokenID: "tok-alice", UserID: "alice"}
}

func (s *ScorerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *ScorerSuite) switchModels(p models.Principal, n int) []models.ScoreResult {
	var results []models.ScoreResult
	for i := range n {
		res, err := s.scorer.OnModelSwitch(s.ctx, p, fmt.Sprintf("m-%d", i), fmt.Sprintf("m-%d", i+1), s.snap)
		s.Require().NoError(err)
		results = append(results, res)
	}
	return results
}

func increments(results []models.ScoreResult) int {
	n := 0
	for _, r := range results {
		if r.Increased {
			n++
		}
	}
	return n
}

func (s *ScorerSuite) TestModelSwitchThreshold() {
	s.Run("ten switches stay under the threshold", func() {
		results := s.switchModels(s.alice, 10)
		s.Zero(increments(results))
		s.Zero(s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
	})

	s.Run("the eleventh switch adds one increment", func() {
		results := s.switchModels(s.alice, 1)
		s.Equal(1, increments(results))
		s.Equal(models.ReasonModelSwitch, results[0].Reason)
		s.True(results[0].Warned)
		s.Equal(50.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
	})

	s.Run("window restarts after a crossing", func() {
		results := s.switchModels(s.alice, 10)
		s.Zero(increments(results))
	})
}

func (s *ScorerSuite) TestTestContentThreshold() {
	bob := models.Principal{TokenID: "tok-bob"}
	for range 20 {
		res, err := s.scorer.OnRequestContent(s.ctx, bob, "hi", s.snap)
		s.Require().NoError(err)
		s.False(res.Increased)
	}

	res, err := s.scorer.OnRequestContent(s.ctx, bob, "hello", s.snap)
	s.Require().NoError(err)
	s.True(res.Increased)
	s.Equal(models.ReasonTestContent, res.Reason)

	res, err = s.scorer.OnRequestContent(s.ctx, bob, "please summarise the attached quarterly report", s.snap)
	s.Require().NoError(err)
	s.False(res.Increased)
	s.Equal(50.0, res.Score)
}

func (s *ScorerSuite) TestActionThresholdAppliesPenalty() {
	penalty := &models.Penalty{ID: "p1", TokenID: s.alice.TokenID, PenaltyType: models.PenaltyRateLimit}
	s.applier.EXPECT().
		Apply(gomock.Any(), s.alice, 100.0, string(models.ReasonModelSwitch), s.snap).
		Return(penalty, true, nil).
		Times(1)

	s.switchModels(s.alice, 11)
	results := s.switchModels(s.alice, 11)
	last := results[len(results)-1]
	s.True(last.Penalized)
	s.False(last.Warned)
	s.Equal(100.0, last.Score)
}

func (s *ScorerSuite) TestApplyFailureFailsOpen() {
	s.applier.EXPECT().
		Apply(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, false, errors.New("db down"))

	s.switchModels(s.alice, 11)
	results := s.switchModels(s.alice, 11)
	s.False(results[len(results)-1].Penalized)
	s.Equal(100.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
}

func (s *ScorerSuite) TestWhitelistedPrincipalIsNeverScored() {
	vip := models.Principal{TokenID: "tok-vip", UserID: "vip"}
	for range 30 {
		_, err := s.scorer.OnModelSwitch(s.ctx, vip, "a", "b", s.snap)
		s.Require().NoError(err)
		_, err = s.scorer.OnRequestContent(s.ctx, vip, "test", s.snap)
		s.Require().NoError(err)
	}
	s.Zero(s.scorer.CurrentScore(s.ctx, vip.TokenID))
	s.Zero(s.scorer.Tracked())
}

func (s *ScorerSuite) TestObserveModelDetectsChanges() {
	res, err := s.scorer.ObserveModel(s.ctx, s.alice, "gpt-4o", s.snap)
	s.Require().NoError(err)
	s.False(res.Increased)

	for i := range 11 {
		model := "gpt-4o"
		if i%2 == 0 {
			model = "claude"
		}
		res, err = s.scorer.ObserveModel(s.ctx, s.alice, model, s.snap)
		s.Require().NoError(err)
	}
	s.True(res.Increased)

	// Repeating the same model is not a switch.
	for range 20 {
		res, err = s.scorer.ObserveModel(s.ctx, s.alice, "gpt-4o", s.snap)
		s.Require().NoError(err)
		s.False(res.Increased)
	}

	info, ok, err := s.scorer.Inspect(s.ctx, s.alice.TokenID)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal("gpt-4o", info.LastModel)
	s.Len(info.History, 1)
}

func (s *ScorerSuite) TestScoreDecaysLinearly() {
	s.switchModels(s.alice, 11)
	s.Equal(50.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))

	s.now = s.now.Add(10 * time.Minute)
	s.Equal(40.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))

	s.now = s.now.Add(2 * time.Hour)
	s.Zero(s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
}

func (s *ScorerSuite) TestWarningRefiresAfterDecay() {
	s.applier.EXPECT().Apply(gomock.Any(), gomock.Any(), 95.0, gomock.Any(), gomock.Any()).
		Return(&models.Penalty{}, true, nil)

	first := s.switchModels(s.alice, 11)
	s.True(first[10].Warned)

	// Decay below the warning threshold, then cross again.
	s.now = s.now.Add(5 * time.Minute)
	second := s.switchModels(s.alice, 11)
	s.True(second[10].Warned)
	s.True(second[10].Penalized)
	s.Equal(95.0, second[10].Score)
}

func (s *ScorerSuite) TestDecayCountsWholeMinutes() {
	s.switchModels(s.alice, 11)

	s.now = s.now.Add(59 * time.Second)
	s.Equal(50.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))

	s.now = s.now.Add(31 * time.Second)
	s.Equal(49.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))

	// A state write at 90s consumes one minute; the leftover 30s still counts.
	s.switchModels(s.alice, 1)
	s.now = s.now.Add(30 * time.Second)
	s.Equal(48.0, s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
}

func (s *ScorerSuite) TestWarningFiresOncePerCrossing() {
	s.applier.EXPECT().Apply(gomock.Any(), gomock.Any(), 100.0, gomock.Any(), gomock.Any()).
		Return(&models.Penalty{}, true, nil)

	first := s.switchModels(s.alice, 11)
	s.True(first[10].Warned)

	info, ok, err := s.scorer.Inspect(s.ctx, s.alice.TokenID)
	s.Require().NoError(err)
	s.True(ok)
	s.Equal(50.0, info.Score)

	s.now = s.now.Add(30 * time.Second)
	second := s.switchModels(s.alice, 11)
	s.False(second[10].Warned)
	s.Equal(100.0, second[10].Score)
}

func (s *ScorerSuite) TestApplyRunsOutsidePrincipalLock() {
	s.applier.EXPECT().Apply(gomock.Any(), s.alice, 100.0, gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, p models.Principal, _ float64, _ string, _ *models.Snapshot) (*models.Penalty, bool, error) {
			unlock, err := s.scorer.locks.LockTimeout(ctx, p.TokenID, time.Millisecond)
			s.Require().NoError(err)
			unlock()
			return &models.Penalty{TokenID: p.TokenID}, true, nil
		})

	s.switchModels(s.alice, 11)
	results := s.switchModels(s.alice, 11)
	s.True(results[10].Penalized)
}

func (s *ScorerSuite) TestLockTimeoutFailsOpen() {
	s.scorer.locks.Lock(s.alice.TokenID)
	defer s.scorer.locks.Unlock(s.alice.TokenID)

	_, err := s.scorer.OnModelSwitch(s.ctx, s.alice, "a", "b", s.snap)
	s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
}

func (s *ScorerSuite) TestForgetClearsState() {
	s.switchModels(s.alice, 11)
	s.switchModels(s.alice, 5)
	s.Require().NoError(s.scorer.Forget(s.ctx, s.alice.TokenID))

	s.Zero(s.scorer.CurrentScore(s.ctx, s.alice.TokenID))
	count, err := s.counter.Count(s.ctx, counterKey(models.EventModelSwitch, s.alice.TokenID), s.now, s.snap.ModelSwitchWindow())
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *ScorerSuite) TestCounterErrorIsInternal() {
	counter := mocks.NewMockCounter(s.ctrl)
	counter.EXPECT().Record(gomock.Any(), "model_switch:tok-alice", s.now, 5*time.Minute).
		Return(0, errors.New("redis down"))

	scorer, err := New(counter, WithClock(func() time.Time { return s.now }))
	s.Require().NoError(err)
	_, err = scorer.OnModelSwitch(s.ctx, s.alice, "a", "b", s.snap)
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}

func (s *ScorerSuite) TestNewRequiresCounter() {
	_, err := New(nil)
	s.Error(err)
}
