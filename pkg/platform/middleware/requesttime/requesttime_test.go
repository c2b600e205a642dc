package requesttime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMiddleware_SetsTimeInContext(t *testing.T) {
	var first, second time.Time
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first = Now(r.Context())
		time.Sleep(5 * time.Millisecond)
		second = Now(r.Context())
	}))

	before := time.Now()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.False(t, first.Before(before))
	assert.Equal(t, first, second, "time must be stable within a request")
}

func TestNowOr(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return fixed }

	t.Run("context time wins over clock", func(t *testing.T) {
		pinned := fixed.Add(time.Hour)
		assert.Equal(t, pinned, NowOr(WithTime(context.Background(), pinned), clock))
	})

	t.Run("clock used when context has no time", func(t *testing.T) {
		assert.Equal(t, fixed, NowOr(context.Background(), clock))
	})

	t.Run("nil clock falls back to wall time", func(t *testing.T) {
		assert.WithinDuration(t, time.Now(), NowOr(context.Background(), nil), time.Second)
	})
}
