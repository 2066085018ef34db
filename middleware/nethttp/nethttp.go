// Package nethttp adapts the rate-limiting engine to standard net/http
// middleware. It attaches the X-RateLimit-* headers on every limited
// request and renders the canonical 429 response on denial.
package nethttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/marketkit/api-ratelimit/pkg/limiter"
)

const defaultAPIPrefix = "/api/"

// Option configures the middleware.
type Option func(*settings)

type settings struct {
	apiPrefix string
}

// WithAPIPrefix scopes enforcement to paths under prefix (default "/api/").
// Everything else bypasses the engine entirely.
func WithAPIPrefix(prefix string) Option {
	return func(s *settings) {
		if prefix != "" {
			s.apiPrefix = prefix
		}
	}
}

// denialBody is the only user-visible failure shape the engine produces.
type denialBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter"`
}

// Middleware wraps an http.Handler with the engine's verdict.
//
// Example:
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/api/products", listProducts)
//	handler := nethttp.Middleware(eng)(mux)
func Middleware(eng *limiter.Engine, options ...Option) func(http.Handler) http.Handler {
	s := &settings{apiPrefix: defaultAPIPrefix}
	for _, opt := range options {
		opt(s)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, s.apiPrefix) {
				next.ServeHTTP(w, r)
				return
			}

			res := eng.Check(r.Context(), r)
			SetHeaders(w.Header(), res)

			if !res.Allowed {
				WriteDenial(w, res)
				return
			}

			if res.EntryID == "" {
				next.ServeHTTP(w, r)
				return
			}

			// The rule wants the outcome: capture the status and settle
			// the entry after the handler ran.
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			eng.Observe(r.Context(), r, res, rec.status)
		})
	}
}

// SetHeaders attaches the standard rate-limit headers from a Result.
// Unlimited results (Limit == 0) carry no headers.
func SetHeaders(h http.Header, res limiter.Result) {
	if res.Limit == 0 {
		return
	}
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt, 10))
	if res.Degraded {
		// Shared backend unavailable: the count is a per-instance
		// approximation.
		h.Set("X-RateLimit-Mode", "local")
	}
}

// WriteDenial renders the canonical 429 response.
func WriteDenial(w http.ResponseWriter, res limiter.Result) {
	w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(denialBody{
		Error:      "Rate limit exceeded",
		Message:    fmt.Sprintf("Too many requests. Try again in %d seconds.", res.RetryAfter),
		RetryAfter: res.RetryAfter,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the underlying writer so http.ResponseController can reach
// Flusher/Hijacker implementations through the wrapper.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
