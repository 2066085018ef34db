package limiter

import (
	"time"

	"go.uber.org/zap"
)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix (default "ratelimit:").
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithTimeout bounds every Redis round trip (default 5s).
func WithTimeout(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithRecorder injects a metrics backend into the store.
func WithRecorder(r MetricsRecorder) RedisOption {
	return func(s *RedisStore) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMaxBackoff caps the exponential penalty multiplier (default 8).
// A value of 1 or less disables backoff.
func WithMaxBackoff(max int) RedisOption {
	return func(s *RedisStore) {
		if max >= 1 {
			s.maxMultiplier = max
		}
	}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMemoryMaxBackoff caps the exponential penalty multiplier (default 8).
// A value of 1 or less disables backoff.
func WithMemoryMaxBackoff(max int) MemoryOption {
	return func(s *MemoryStore) {
		if max >= 1 {
			s.maxMultiplier = max
		}
	}
}

// WithMemoryRecorder injects a metrics backend into the store.
func WithMemoryRecorder(r MetricsRecorder) MemoryOption {
	return func(s *MemoryStore) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithViolationDecay overrides how long a violation keeps contributing to
// the backoff multiplier (default 5m).
func WithViolationDecay(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.violationDecay = d
		}
	}
}

// WithRetention overrides how long idle client state is kept before the
// sweeper drops it (default 24h).
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithSweepInterval overrides the sweeper period (default 5m).
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(s *MemoryStore) {
		s.sweepInterval = d
	}
}

// WithClock injects the time source, for tests that need to move the window
// or the violation decay horizon deterministically.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithSharedStore sets the shared backend. When absent (or when its probe
// failed at construction) the engine evaluates everything locally.
func WithSharedStore(store Store) EngineOption {
	return func(e *Engine) { e.shared = store }
}

// WithLocalStore replaces the default local fallback store.
func WithLocalStore(store *MemoryStore) EngineOption {
	return func(e *Engine) {
		if store != nil {
			e.local = store
		}
	}
}

// WithLogger sets the engine logger (default zap.NewNop()).
func WithLogger(log *zap.Logger) EngineOption {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithAuditor sets the security event sink receiving denial events.
func WithAuditor(a Auditor) EngineOption {
	return func(e *Engine) {
		if a != nil {
			e.auditor = a
		}
	}
}

// WithKeyFunc installs a caller-supplied key generator that takes precedence
// over the built-in identity derivation.
func WithKeyFunc(fn KeyFunc) EngineOption {
	return func(e *Engine) { e.identifier.keyFn = fn }
}

// WithSessionHeader overrides the session identifier header name.
func WithSessionHeader(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.identifier.sessionHeader = name
		}
	}
}

// WithSessionCookie overrides the session cookie name.
func WithSessionCookie(name string) EngineOption {
	return func(e *Engine) {
		if name != "" {
			e.identifier.sessionCookie = name
		}
	}
}

// WithResolver sets the identity collaborator used for exemption checks.
func WithResolver(r RoleResolver) EngineOption {
	return func(e *Engine) { e.exempt.resolver = r }
}

// WithExemptRoles replaces the exempt role set (default {"admin"}).
func WithExemptRoles(roles ...string) EngineOption {
	return func(e *Engine) { e.exempt.setRoles(roles) }
}

// WithExemptAddresses adds addresses to the static allow-list.
func WithExemptAddresses(addrs ...string) EngineOption {
	return func(e *Engine) { e.exempt.allowAddresses(addrs) }
}

// WithEngineRecorder injects a metrics backend into the engine itself.
func WithEngineRecorder(r MetricsRecorder) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.recorder = r
		}
	}
}
