package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"warden/internal/abuse/detector"
	"warden/internal/abuse/models"
	"warden/internal/abuse/penalty"
	"warden/internal/abuse/scoring"
	"warden/internal/abuse/settings"
	penaltyStore "warden/internal/abuse/store/penalty"
	"warden/internal/abuse/window"
	"warden/pkg/platform/middleware/admin"
)

type HandlerSuite struct {
	suite.Suite
	ctx      context.Context
	router   http.Handler
	settings *settings.Store
	engine   *penalty.Engine
	scorer   *scoring.Scorer
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.settings = settings.New(nil)

	engine, err := penalty.New(penaltyStore.New(), penalty.WithCacheTTL(0))
	s.Require().NoError(err)
	s.engine = engine
	scorer, err := scoring.New(window.New(), scoring.WithPenaltyApplier(engine))
	s.Require().NoError(err)
	s.scorer = scorer
	d, err := detector.New(s.settings, scorer, engine)
	s.Require().NoError(err)

	h := New(s.settings, engine, d, logger).WithScoreResetter(scorer)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if actor := r.Header.Get("X-Admin-Actor-ID"); actor != "" {
				r = r.WithContext(admin.WithAdminActorID(r.Context(), actor))
			}
			next.ServeHTTP(w, r)
		})
	})
	h.RegisterAdmin(r)
	s.router = r
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Field   string          `json:"field"`
}

func (s *HandlerSuite) do(method, path string, body []byte, headers ...string) (*httptest.ResponseRecorder, envelope) {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env envelope
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &env))
	return rec, env
}

func (s *HandlerSuite) penalize(token string, t models.PenaltyType) {
	cfg := models.DefaultSecuritySettings()
	cfg.EnableAntiAbuse = true
	cfg.PenaltyType = t
	_, _, err := s.engine.Apply(s.ctx, models.Principal{TokenID: token, TokenName: "n-" + token}, 85, "frequent_model_switch", models.NewSnapshot(cfg, 1, time.Now()))
	s.Require().NoError(err)
}

func (s *HandlerSuite) TestGetSettingsReturnsDefaults() {
	rec, env := s.do(http.MethodGet, "/api/security/settings", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.True(env.Success)

	var got models.SecuritySettings
	s.Require().NoError(json.Unmarshal(env.Data, &got))
	s.Equal(models.DefaultSecuritySettings(), got)
}

func (s *HandlerSuite) TestUpdateSettings() {
	s.Run("partial body takes defaults for omitted fields", func() {
		rec, env := s.do(http.MethodPut, "/api/security/settings",
			[]byte(`{"enable_anti_abuse":true,"penalty_type":"temp_ban","whitelist_user_ids":"1,2"}`))
		s.Equal(http.StatusOK, rec.Code)
		s.True(env.Success)

		snap := s.settings.Get()
		s.True(snap.Settings.EnableAntiAbuse)
		s.Equal(models.PenaltyTempBan, snap.Settings.PenaltyType)
		s.Equal(10, snap.Settings.ModelSwitchThreshold)
		s.Contains(snap.WhitelistUsers, "2")
	})

	s.Run("out of range value names the field", func() {
		rec, env := s.do(http.MethodPut, "/api/security/settings", []byte(`{"model_switch_threshold":0}`))
		s.Equal(http.StatusBadRequest, rec.Code)
		s.False(env.Success)
		s.Equal("model_switch_threshold", env.Field)
		s.Equal("validation_error", env.Error)
	})

	s.Run("unknown penalty type is rejected", func() {
		rec, env := s.do(http.MethodPut, "/api/security/settings", []byte(`{"penalty_type":"shadow_ban"}`))
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("penalty_type", env.Field)
	})

	s.Run("malformed json", func() {
		rec, env := s.do(http.MethodPut, "/api/security/settings", []byte(`{"enable_anti_abuse":`))
		s.Equal(http.StatusBadRequest, rec.Code)
		s.Equal("bad_request", env.Error)
	})

	s.Run("rejected update leaves settings untouched", func() {
		s.True(s.settings.Get().Settings.EnableAntiAbuse)
	})
}

func (s *HandlerSuite) TestListPenalties() {
	s.penalize("a", models.PenaltyTempBan)
	s.penalize("b", models.PenaltyPermBan)

	rec, env := s.do(http.MethodGet, "/api/security/penalties?page=1&page_size=1", nil)
	s.Equal(http.StatusOK, rec.Code)

	var page models.PenaltyPage
	s.Require().NoError(json.Unmarshal(env.Data, &page))
	s.Equal(2, page.Total)
	s.Len(page.Penalties, 1)
	s.Equal(1, page.PageSize)

	_, env = s.do(http.MethodGet, "/api/security/penalties?page=abc", nil)
	s.Require().NoError(json.Unmarshal(env.Data, &page))
	s.Equal(penalty.DefaultPageSize, page.PageSize)
	s.Len(page.Penalties, 2)
}

func (s *HandlerSuite) TestLiftPenalty() {
	s.penalize("a", models.PenaltyTempBan)

	rec, env := s.do(http.MethodDelete, "/api/security/penalties/a", nil, "X-Admin-Actor-ID", "ops-9")
	s.Equal(http.StatusOK, rec.Code)
	var lifted models.Penalty
	s.Require().NoError(json.Unmarshal(env.Data, &lifted))
	s.Equal("ops-9", lifted.LiftedBy)
	s.NotNil(lifted.LiftedAt)

	rec, env = s.do(http.MethodDelete, "/api/security/penalties/a", nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.Equal("not_found", env.Error)
}

func (s *HandlerSuite) TestPenaltyHistory() {
	s.penalize("a", models.PenaltyTempBan)
	s.do(http.MethodDelete, "/api/security/penalties/a", nil)
	s.penalize("a", models.PenaltyPermBan)

	rec, env := s.do(http.MethodGet, "/api/security/penalties/a/history", nil)
	s.Equal(http.StatusOK, rec.Code)
	var page models.PenaltyPage
	s.Require().NoError(json.Unmarshal(env.Data, &page))
	s.Equal(2, page.Total)
	s.Equal(models.PenaltyPermBan, page.Penalties[0].PenaltyType)
	s.Equal(defaultActor, page.Penalties[1].LiftedBy)
}

func (s *HandlerSuite) TestTokenAbuse() {
	s.penalize("a", models.PenaltyPermBan)

	rec, env := s.do(http.MethodGet, "/api/security/tokens/a/abuse", nil)
	s.Equal(http.StatusOK, rec.Code)
	var info models.AbuseInfo
	s.Require().NoError(json.Unmarshal(env.Data, &info))
	s.Equal("a", info.TokenID)
	s.Equal(models.StatePenalized, info.State)
	s.True(info.Status.Active)

	_, env = s.do(http.MethodGet, "/api/security/tokens/nobody/abuse", nil)
	s.Require().NoError(json.Unmarshal(env.Data, &info))
	s.Equal(models.StateClear, info.State)
}
