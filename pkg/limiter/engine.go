package limiter

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Engine combines rule resolution, exemption, identification and the
// dual-backend counter into a single allow/deny verdict per request.
//
// Failure policy: the engine fails open on its own infrastructure (a shared
// backend outage or audit failure never blocks legitimate traffic) and fails
// closed on quota decisions (a computed deny is always honored).
type Engine struct {
	rules      *RuleTable
	shared     Store
	local      *MemoryStore
	identifier *Identifier
	exempt     *ExemptChecker
	auditor    Auditor
	log        *zap.Logger
	recorder   MetricsRecorder
}

// NewEngine builds an engine over a rule table. Without WithSharedStore the
// engine runs local-only; the usual production wiring probes Redis first and
// passes the store in only when the probe succeeded.
func NewEngine(rules *RuleTable, opts ...EngineOption) *Engine {
	e := &Engine{
		rules:      rules,
		local:      NewMemoryStore(),
		identifier: NewIdentifier(),
		auditor:    NoOpAuditor{},
		log:        zap.NewNop(),
		recorder:   &NoOpMetricsRecorder{},
	}
	e.exempt = NewExemptChecker(nil, e.identifier)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LocalStore exposes the fallback store so the application can start its
// sweeper with the process lifecycle.
func (e *Engine) LocalStore() *MemoryStore { return e.local }

// Check produces the verdict for a request.
//
// Flow: resolve a rule for the path (nil rule means unlimited), short-circuit
// on exemption, derive the client key, and evaluate the window against the
// shared backend, falling back to the local store for this request on any
// backend error. On denial one audit event is emitted.
func (e *Engine) Check(ctx context.Context, r *http.Request) Result {
	rule := e.rules.Resolve(r.URL.Path)
	if rule == nil {
		return Result{Allowed: true}
	}

	addr := ClientAddr(r)
	if e.exempt.IsExempt(ctx, r, addr) {
		e.recorder.Add("ratelimit.exempt", 1, nil)
		return Result{Allowed: true}
	}

	id := e.identifier.Identify(r)
	res := e.take(ctx, id, *rule)

	if !res.Allowed {
		e.audit(ctx, r, addr, *rule, res)
	}
	return res
}

// take runs the counter, switching to the local fallback when the shared
// backend errors. Already-admitted shared allowances are not reconciled into
// local state; the local count starts from zero for that key. This is an
// accepted approximation of the fail-open design.
func (e *Engine) take(ctx context.Context, id Identity, rule Rule) Result {
	if e.shared != nil {
		res, err := e.shared.Take(ctx, id, rule)
		if err == nil {
			return res
		}
		e.recorder.Add("ratelimit.fallback", 1, nil)
		e.log.Warn("shared rate-limit backend unavailable, using local fallback",
			zap.String("rule", rule.Pattern),
			zap.Error(err),
		)
	}
	res, _ := e.local.Take(ctx, id, rule)
	return res
}

// Observe applies SkipSuccessful/SkipFailed after the response completed.
// The middleware calls it with the final status code; when the rule says the
// outcome should not consume budget, the recorded entry is forgotten.
func (e *Engine) Observe(ctx context.Context, r *http.Request, res Result, status int) {
	if res.EntryID == "" {
		return
	}
	rule := e.rules.Resolve(r.URL.Path)
	if rule == nil {
		return
	}

	failed := status >= http.StatusBadRequest
	if (failed && !rule.SkipFailed) || (!failed && !rule.SkipSuccessful) {
		return
	}

	id := e.identifier.Identify(r)
	store := Store(e.local)
	if e.shared != nil && !res.Degraded {
		store = e.shared
	}
	if err := store.Forget(ctx, id, res.EntryID); err != nil {
		e.log.Warn("failed to refund rate-limit entry", zap.Error(err))
	}
}

// Reset clears all counter state for a client in both backends. Operational
// API, not part of the request path.
func (e *Engine) Reset(ctx context.Context, id Identity) error {
	if err := e.local.Reset(ctx, id); err != nil {
		return err
	}
	if e.shared != nil {
		return e.shared.Reset(ctx, id)
	}
	return nil
}

func (e *Engine) audit(ctx context.Context, r *http.Request, addr string, rule Rule, res Result) {
	ev := newAuditEvent(EventRateLimitExceeded, addr, r.UserAgent(), map[string]any{
		"endpoint":          r.URL.Path,
		"limit":             rule.Requests,
		"windowSeconds":     int(rule.Window.Seconds()),
		"backoffMultiplier": res.BackoffMultiplier,
	})
	if err := e.auditor.Append(ctx, ev); err != nil {
		e.log.Warn("audit append failed", zap.Error(err))
	}
}
