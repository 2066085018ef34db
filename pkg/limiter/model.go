package limiter

import (
	"context"
	"time"
)

type Namespace string

const (
	// NamespaceUser is used for keys derived from an authenticated credential.
	NamespaceUser Namespace = "user"
	// NamespaceIP is used for keys derived from the caller's network address.
	NamespaceIP Namespace = "ip"
)

// Identity defines "who" is being rate-limited. Authenticated callers are
// tracked per credential hash so they get a fair budget regardless of shared
// NAT or proxy addresses; anonymous callers fall back to per-address budgets.
type Identity struct {
	Namespace Namespace
	Key       string
}

// String renders the storage key form, "{namespace}:{key}".
func (id Identity) String() string {
	return string(id.Namespace) + ":" + id.Key
}

// Rule is a quota policy for a set of endpoints. Rules are immutable once
// loaded; the table holds many of them keyed by pattern, with the pattern
// "default" acting as the fallback for unmatched paths.
type Rule struct {
	// Pattern is an exact path, a glob ("*" and "?" wildcards), or "default".
	Pattern string
	// Requests is the budget per Window. Must be > 0.
	Requests int
	// Window is the sliding window length. Must be > 0.
	Window time.Duration
	// SkipSuccessful removes the recorded entry once the response completes
	// with a non-error status, so only failures consume budget.
	SkipSuccessful bool
	// SkipFailed is the inverse: error responses do not consume budget.
	SkipFailed bool
}

// Result contains the outcome of a rate limit check.
//
// It provides the data needed to populate the standard rate-limiting HTTP
// headers (X-RateLimit-Limit, X-RateLimit-Remaining, X-RateLimit-Reset and
// Retry-After). It carries no identity information and is safe to echo back
// to the caller verbatim.
type Result struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// Limit is the effective budget for the current window, after any
	// backoff penalty has been applied. Zero means no rule applied and the
	// request was not counted at all.
	Limit int
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is the epoch second at which the current window expires.
	ResetAt int64
	// RetryAfter is set on denial only: seconds the caller should wait.
	RetryAfter int
	// BackoffMultiplier is the penalty factor applied to the budget
	// (1 when the caller has no recent violations).
	BackoffMultiplier int
	// EntryID identifies the window entry recorded for an allowed request,
	// so it can be removed later when SkipSuccessful/SkipFailed applies.
	EntryID string
	// Degraded reports that the decision came from the process-local
	// fallback rather than the shared backend, and is therefore a
	// per-instance approximation.
	Degraded bool
}

// Store is the sliding-window counter capability the engine depends on.
//
// Two implementations exist with the same semantics: RedisStore counts
// against a shared backend in a single atomic round trip, MemoryStore keeps
// a process-local approximation used when the backend is unreachable.
type Store interface {
	// Take evaluates and updates the window for id under rule, using one
	// clock reading for both expiry and insertion.
	Take(ctx context.Context, id Identity, rule Rule) (Result, error)

	// Forget removes a previously recorded entry, refunding its slot.
	Forget(ctx context.Context, id Identity, entryID string) error

	// Reset drops all window and violation state for id.
	Reset(ctx context.Context, id Identity) error
}

// Caller is the identity collaborator's view of an authenticated client.
type Caller struct {
	ID   string
	Role string
}

// RoleResolver resolves a raw credential (bearer token, session id) to a
// caller. A nil Caller with nil error means the credential is unknown.
// Implementations live in the application's identity subsystem; the engine
// treats every resolution failure as "no identity".
type RoleResolver interface {
	Resolve(ctx context.Context, credential string) (*Caller, error)
}

// MetricsRecorder receives counters and timing observations from the engine
// and its stores. The zero-cost default is NoOpMetricsRecorder.
type MetricsRecorder interface {
	Add(name string, value float64, tags map[string]string)
	Observe(name string, value float64, tags map[string]string)
}
