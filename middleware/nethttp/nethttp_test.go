package nethttp

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketkit/api-ratelimit/pkg/limiter"
)

func newEngine(t *testing.T, rules ...limiter.Rule) *limiter.Engine {
	t.Helper()
	table, err := limiter.NewRuleTable(rules)
	require.NoError(t, err)
	return limiter.NewEngine(table)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
}

func TestMiddleware_HeadersAndDenial(t *testing.T) {
	eng := newEngine(t, limiter.Rule{Pattern: "default", Requests: 2, Window: time.Minute})
	handler := Middleware(eng)(okHandler())

	get := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		r.RemoteAddr = "192.0.2.80:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	w := get()
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))

	get()
	w = get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int    `json:"retryAfter"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Rate limit exceeded", body.Error)
	assert.Equal(t, 60, body.RetryAfter)
	assert.NotEmpty(t, body.Message)
}

func TestMiddleware_PathsOutsidePrefixBypass(t *testing.T) {
	eng := newEngine(t, limiter.Rule{Pattern: "default", Requests: 1, Window: time.Minute})
	handler := Middleware(eng)(okHandler())

	for range 10 {
		r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		r.RemoteAddr = "192.0.2.81:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestMiddleware_SkipSuccessfulRefunds(t *testing.T) {
	eng := newEngine(t, limiter.Rule{
		Pattern:        "/api/webhooks/payment",
		Requests:       1,
		Window:         time.Minute,
		SkipSuccessful: true,
	})
	handler := Middleware(eng)(okHandler())

	for i := range 5 {
		r := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment", nil)
		r.RemoteAddr = "192.0.2.82:1000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
	}
}

func TestMiddleware_StatusRecorderForwardsFlush(t *testing.T) {
	eng := newEngine(t, limiter.Rule{
		Pattern:        "default",
		Requests:       5,
		Window:         time.Minute,
		SkipSuccessful: true,
	})

	flushed := false
	streaming := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, ok := w.(http.Flusher)
		require.True(t, ok, "streaming handlers must still see a Flusher behind the wrapper")
		w.Write([]byte("chunk"))
		f.Flush()
		flushed = true

		require.NoError(t, http.NewResponseController(w).Flush())
	})
	handler := Middleware(eng)(streaming)

	r := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	r.RemoteAddr = "192.0.2.83:1000"
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	assert.True(t, flushed)
	assert.True(t, w.Flushed)
}

func TestMiddleware_DegradedModeHeader(t *testing.T) {
	res := limiter.Result{Allowed: true, Limit: 5, Remaining: 4, ResetAt: 123, Degraded: true}
	h := http.Header{}
	SetHeaders(h, res)
	assert.Equal(t, "local", h.Get("X-RateLimit-Mode"))

	h = http.Header{}
	res.Degraded = false
	SetHeaders(h, res)
	assert.Empty(t, h.Get("X-RateLimit-Mode"))
}
