// Package middleware runs the abuse check on relayed API requests.
package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"

	"warden/internal/abuse/classifier"
	"warden/internal/abuse/config"
	"warden/internal/abuse/metrics"
	"warden/internal/abuse/models"
	"warden/pkg/platform/httputil"
	"warden/pkg/platform/middleware/auth"
)

const (
	errorTypeAbuse = "abuse_detection"
	// DefaultMaxInspectBytes bounds how much of a request body is read for
	// content inspection.
	DefaultMaxInspectBytes = 1 << 20
)

// Checker decides whether a request may proceed.
type Checker interface {
	CheckRequest(ctx context.Context, p models.Principal, model, content string) models.Decision
}

type limiterEntry struct {
	rpm     int
	limiter *rate.Limiter
}

type Middleware struct {
	checker         Checker
	limiters        *lru.LRU[string, *limiterEntry]
	maxInspectBytes int64
	logger          *slog.Logger
	metrics         *metrics.Metrics
}

type Option func(*Middleware)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Middleware) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

func WithLimiterConfig(cfg config.LimiterConfig) Option {
	return func(m *Middleware) {
		m.limiters = lru.NewLRU[string, *limiterEntry](cfg.CacheSize, nil, cfg.TTL)
	}
}

func WithMaxInspectBytes(n int64) Option {
	return func(m *Middleware) {
		if n > 0 {
			m.maxInspectBytes = n
		}
	}
}

func New(checker Checker, opts ...Option) *Middleware {
	m := &Middleware{
		checker:         checker,
		maxInspectBytes: DefaultMaxInspectBytes,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.limiters == nil {
		cfg := config.DefaultConfig().Limiter
		m.limiters = lru.NewLRU[string, *limiterEntry](cfg.CacheSize, nil, cfg.TTL)
	}
	return m
}

// Handler inspects the request body, consults the checker and enforces the
// decision. Requests without resolved claims pass through untouched.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		claims := auth.GetClaims(ctx)
		if claims == nil || claims.TokenID == "" {
			next.ServeHTTP(w, r)
			return
		}

		extracted := m.inspect(r)
		principal := models.Principal{
			TokenID:   claims.TokenID,
			TokenName: claims.TokenName,
			UserID:    claims.UserID,
			GroupIDs:  claims.GroupIDs,
		}
		decision := m.checker.CheckRequest(ctx, principal, extracted.Model, extracted.Content)

		if !decision.Allowed {
			writeAbuseError(w, decision)
			return
		}
		if decision.RateLimitRPM > 0 {
			lim := m.limiterFor(principal.TokenID, decision.RateLimitRPM)
			setRateLimitHeaders(w, decision.RateLimitRPM, lim)
			if !lim.Allow() {
				m.metrics.IncrementBlocked(string(models.PenaltyRateLimit))
				m.logger.InfoContext(ctx, "rate limited by abuse penalty",
					"token_id", principal.TokenID,
					"rpm", decision.RateLimitRPM,
				)
				decision.RetryAfter = retryAfter(decision.RateLimitRPM)
				writeAbuseError(w, decision)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// inspect reads up to maxInspectBytes of the body and restores it so the
// downstream handler sees the original stream.
func (m *Middleware) inspect(r *http.Request) classifier.Extracted {
	if r.Body == nil || r.Body == http.NoBody {
		return classifier.Extracted{}
	}
	head, err := io.ReadAll(io.LimitReader(r.Body, m.maxInspectBytes))
	if err != nil {
		m.logger.WarnContext(r.Context(), "failed to read request body for abuse inspection", "error", err)
	}
	r.Body = readCloser{Reader: io.MultiReader(bytes.NewReader(head), r.Body), Closer: r.Body}
	if int64(len(head)) >= m.maxInspectBytes {
		return classifier.Extracted{}
	}
	return classifier.ExtractContent(head)
}

type readCloser struct {
	io.Reader
	io.Closer
}

func (m *Middleware) limiterFor(tokenID string, rpm int) *rate.Limiter {
	if e, ok := m.limiters.Get(tokenID); ok && e.rpm == rpm {
		return e.limiter
	}
	e := &limiterEntry{
		rpm:     rpm,
		limiter: rate.NewLimiter(rate.Limit(float64(rpm)/60), rpm),
	}
	m.limiters.Add(tokenID, e)
	return e.limiter
}

func retryAfter(rpm int) time.Duration {
	return time.Duration(math.Ceil(60/float64(rpm))) * time.Second
}

func setRateLimitHeaders(w http.ResponseWriter, rpm int, lim *rate.Limiter) {
	remaining := max(int(lim.Tokens())-1, 0)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rpm))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
}

type abuseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

func writeAbuseError(w http.ResponseWriter, d models.Decision) {
	if d.RetryAfter > 0 {
		secs := int(math.Ceil(d.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	code := ""
	if d.Penalty != nil {
		code = string(d.Penalty.PenaltyType)
	}
	msg := d.Message
	if msg == "" {
		msg = "request rejected due to abusive usage"
	}
	httputil.WriteJSON(w, http.StatusTooManyRequests, map[string]abuseError{
		"error": {Message: msg, Type: errorTypeAbuse, Code: code},
	})
}
