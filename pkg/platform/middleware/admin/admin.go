package admin

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"

	dErrors "warden/pkg/domain-errors"
	"warden/pkg/platform/httputil"
	request "warden/pkg/platform/middleware/request"
)

type contextKeyAdminActorID struct{}

// GetAdminActorID returns the acting admin recorded by RequireAdminToken,
// or an empty string for non-admin requests.
func GetAdminActorID(ctx context.Context) string {
	if actorID, ok := ctx.Value(contextKeyAdminActorID{}).(string); ok {
		return actorID
	}
	return ""
}

// WithAdminActorID is used by tests and internal callers that bypass HTTP.
func WithAdminActorID(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, contextKeyAdminActorID{}, actorID)
}

// RequireAdminToken guards the security console endpoints. An empty expected
// token rejects every request so a misconfigured deployment fails closed.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "admin token required"))
				return
			}

			actorID := r.Header.Get("X-Admin-Actor-ID")
			if actorID == "" {
				actorID = "admin"
			}
			next.ServeHTTP(w, r.WithContext(WithAdminActorID(ctx, actorID)))
		})
	}
}
