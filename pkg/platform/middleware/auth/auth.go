package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	request "warden/pkg/platform/middleware/request"
)

// Claims identifies the API credential behind a relayed request.
type Claims struct {
	TokenID   string
	TokenName string
	UserID    string
	GroupIDs  []string
}

// TokenValidator resolves a bearer credential to its claims.
type TokenValidator interface {
	ValidateToken(tokenString string) (*Claims, error)
}

type contextKeyClaims struct{}

// WithClaims stores resolved claims in the context.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, contextKeyClaims{}, c)
}

// GetClaims returns the claims stored by RequireToken, or nil.
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(contextKeyClaims{}).(*Claims)
	return c
}

func writeJSONError(w http.ResponseWriter, status int, errType, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":{"message":%q,"type":%q}}`, message, errType))
}

// RequireToken validates the bearer token and stores its claims in context.
func RequireToken(validator TokenValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized relay request - missing token",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid_request_error", "missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized relay request - invalid token",
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid_request_error", "invalid or expired token")
				return
			}
			if claims.TokenID == "" {
				logger.WarnContext(ctx, "unauthorized relay request - token has no id",
					"request_id", request.GetRequestID(ctx),
				)
				writeJSONError(w, http.StatusUnauthorized, "invalid_request_error", "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
		})
	}
}
