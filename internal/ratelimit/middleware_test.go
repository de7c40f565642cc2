package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitorpass/internal/platform/config"
	"visitorpass/pkg/requestcontext"
)

type failingStore struct{}

func (failingStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("redis down")
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func serve(h http.Handler, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/scan", nil)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, "test"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

var noContent = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestRateLimitPerIP(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(NewInMemoryStore(), map[Class]Limit{ClassScan: {Requests: 2, Window: time.Minute}}, discard(),
		WithRegisterer(reg))
	h := m.RateLimit(ClassScan)(noContent)

	first := serve(h, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)

	refused := serve(h, "10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, refused.Code)
	assert.NotEmpty(t, refused.Header().Get("Retry-After"))
	assert.Contains(t, refused.Body.String(), `"error":"rate_limit_exceeded"`)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rejected.WithLabelValues("scan")))

	assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.2").Code)
}

func TestRateLimitPassThrough(t *testing.T) {
	limits := map[Class]Limit{ClassScan: {Requests: 1, Window: time.Minute}}

	t.Run("class without a limit", func(t *testing.T) {
		h := New(NewInMemoryStore(), limits, discard()).RateLimit(ClassRegister)(noContent)
		for range 3 {
			assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
		}
	})

	t.Run("disabled", func(t *testing.T) {
		h := New(NewInMemoryStore(), limits, discard(), WithDisabled(true)).RateLimit(ClassScan)(noContent)
		for range 3 {
			assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
		}
	})

	t.Run("store failure fails open", func(t *testing.T) {
		h := New(failingStore{}, limits, discard()).RateLimit(ClassScan)(noContent)
		assert.Equal(t, http.StatusNoContent, serve(h, "10.0.0.1").Code)
	})
}

func TestLimitsFromConfig(t *testing.T) {
	limits := LimitsFromConfig(config.RateLimitConfig{RegisterPerMinute: 5, ScanPerMinute: 0, WebhookPerMinute: 100})

	require.Len(t, limits, 2)
	assert.Equal(t, Limit{Requests: 5, Window: time.Minute}, limits[ClassRegister])
	assert.Equal(t, Limit{Requests: 100, Window: time.Minute}, limits[ClassWebhook])
	_, scan := limits[ClassScan]
	assert.False(t, scan)
}
