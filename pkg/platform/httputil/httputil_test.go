package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	dErrors "warden/pkg/domain-errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantField  string
	}{
		{"validation names field", dErrors.NewField("min_content_length", "must be between 1 and 100"), http.StatusBadRequest, "validation_error", "min_content_length"},
		{"not found", dErrors.New(dErrors.CodeNotFound, "no active penalty"), http.StatusNotFound, "not_found", ""},
		{"unavailable", dErrors.New(dErrors.CodeUnavailable, "store down"), http.StatusServiceUnavailable, "unavailable", ""},
		{"plain error is internal", errors.New("boom"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, tt.err)

			assert.Equal(t, tt.wantStatus, w.Code)
			var env Envelope
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.wantCode, env.Error)
			assert.Equal(t, tt.wantField, env.Field)
		})
	}
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, "saved", map[string]int{"total": 2})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"message":"saved","data":{"total":2}}`, w.Body.String())
}
