package httputil

import (
	"encoding/json"
	"log/slog"
	"net/http"

	dErrors "warden/pkg/domain-errors"
	request "warden/pkg/platform/middleware/request"
)

// MaxBodyBytes bounds admin request bodies.
const MaxBodyBytes = 64 * 1024

// DecodeInto decodes a JSON request body onto target, which may be pre-populated
// with defaults. Unknown fields are rejected.
// On failure it writes an error response and returns false.
//
// Usage:
//
//	cfg := models.DefaultSecuritySettings()
//	if !httputil.DecodeInto(w, r, h.logger, &cfg) {
//	    return
//	}
func DecodeInto(w http.ResponseWriter, r *http.Request, logger *slog.Logger, target any) bool {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		if logger != nil {
			logger.WarnContext(ctx, "failed to decode request body",
				"error", err,
				"request_id", request.GetRequestID(ctx),
			)
		}
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return false
	}
	return true
}
