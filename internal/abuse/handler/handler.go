// Package handler exposes the security admin API consumed by the console.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"warden/internal/abuse/models"
	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/admin"
	request "warden/pkg/platform/middleware/request"
)

const defaultActor = "admin"

type SettingsService interface {
	Get() *models.Snapshot
	Set(ctx context.Context, cfg models.SecuritySettings) (*models.Snapshot, error)
}

type PenaltyService interface {
	List(ctx context.Context, page, pageSize int) (*models.PenaltyPage, error)
	History(ctx context.Context, tokenID string, page, pageSize int) (*models.PenaltyPage, error)
	Lift(ctx context.Context, tokenID, liftedBy string) (*models.Penalty, error)
}

type AbuseInspector interface {
	Info(ctx context.Context, tokenID string) (*models.AbuseInfo, error)
}

// ScoreResetter clears a principal's accumulated score once its penalty is lifted.
type ScoreResetter interface {
	Forget(ctx context.Context, tokenID string) error
}

type Handler struct {
	settings  SettingsService
	penalties PenaltyService
	inspector AbuseInspector
	resetter  ScoreResetter
	logger    *slog.Logger
}

func New(settings SettingsService, penalties PenaltyService, inspector AbuseInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		settings:  settings,
		penalties: penalties,
		inspector: inspector,
		logger:    logger,
	}
}

// WithScoreResetter makes a lift also clear the token's score and windows.
func (h *Handler) WithScoreResetter(r ScoreResetter) *Handler {
	h.resetter = r
	return h
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Get("/api/security/settings", h.HandleGetSettings)
	r.Put("/api/security/settings", h.HandleUpdateSettings)
	r.Get("/api/security/penalties", h.HandleListPenalties)
	r.Delete("/api/security/penalties/{tokenId}", h.HandleLiftPenalty)
	r.Get("/api/security/penalties/{tokenId}/history", h.HandlePenaltyHistory)
	r.Get("/api/security/tokens/{tokenId}/abuse", h.HandleTokenAbuse)
}

// HandleGetSettings implements GET /api/security/settings.
func (h *Handler) HandleGetSettings(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, "", h.settings.Get().Settings)
}

// HandleUpdateSettings implements PUT /api/security/settings.
// The body replaces the whole config; omitted fields take their defaults.
func (h *Handler) HandleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	cfg := models.DefaultSecuritySettings()
	if !httputil.DecodeInto(w, r, h.logger, &cfg) {
		return
	}

	snap, err := h.settings.Set(ctx, cfg)
	if err != nil {
		h.logger.WarnContext(ctx, "failed to update security settings",
			"error", err,
			"field", dErrors.FieldOf(err),
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, "security settings saved", snap.Settings)
}

// HandleListPenalties implements GET /api/security/penalties?page=&page_size=.
func (h *Handler) HandleListPenalties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	page, pageSize := pagination(r)
	result, err := h.penalties.List(ctx, page, pageSize)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list penalties",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", result)
}

// HandleLiftPenalty implements DELETE /api/security/penalties/{tokenId}.
func (h *Handler) HandleLiftPenalty(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, ok := tokenParam(w, r)
	if !ok {
		return
	}
	actor := admin.GetAdminActorID(ctx)
	if actor == "" {
		actor = defaultActor
	}

	p, err := h.penalties.Lift(ctx, tokenID, actor)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to lift penalty",
				"error", err,
				"token_id", tokenID,
				"request_id", request.GetRequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	if h.resetter != nil {
		if err := h.resetter.Forget(ctx, tokenID); err != nil {
			h.logger.WarnContext(ctx, "penalty lifted but score reset failed",
				"error", err,
				"token_id", tokenID,
			)
		}
	}
	httputil.WriteSuccess(w, "penalty lifted", p)
}

// HandlePenaltyHistory implements GET /api/security/penalties/{tokenId}/history.
func (h *Handler) HandlePenaltyHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, ok := tokenParam(w, r)
	if !ok {
		return
	}
	page, pageSize := pagination(r)
	result, err := h.penalties.History(ctx, tokenID, page, pageSize)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load penalty history",
			"error", err,
			"token_id", tokenID,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", result)
}

// HandleTokenAbuse implements GET /api/security/tokens/{tokenId}/abuse.
func (h *Handler) HandleTokenAbuse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tokenID, ok := tokenParam(w, r)
	if !ok {
		return
	}
	info, err := h.inspector.Info(ctx, tokenID)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to load token abuse info",
			"error", err,
			"token_id", tokenID,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, "", info)
}

func tokenParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenID := strings.TrimSpace(chi.URLParam(r, "tokenId"))
	if tokenID == "" {
		httputil.WriteError(w, dErrors.NewField("tokenId", "is required"))
		return "", false
	}
	return tokenID, true
}

// pagination reads page and page_size; malformed values fall back to the
// service defaults.
func pagination(r *http.Request) (int, int) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	return page, pageSize
}
