package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h *Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	h.Register(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestLiveness(t *testing.T) {
	rec := serve(t, New("test"), "/healthz/live")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)
}

func TestReadinessAllHealthy(t *testing.T) {
	h := New("test")
	h.RegisterCheck("redis", func(context.Context) error { return nil })

	rec := serve(t, h, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "up", resp.Checks["redis"])
}

func TestReadinessReportsFailure(t *testing.T) {
	h := New("test")
	h.RegisterCheck("redis", func(context.Context) error { return nil })
	h.RegisterCheck("database", func(context.Context) error { return errors.New("connection refused") })

	rec := serve(t, h, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "down: connection refused", resp.Checks["database"])
}
