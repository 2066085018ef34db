// Package limiter provides adaptive, dual-backend rate limiting for inbound
// API requests.
//
// The primary entry point is the Engine:
//
//	res := engine.Check(ctx, req)
//
// The returned Result contains whether the request is allowed and the data
// callers need to set the standard rate-limit headers (X-RateLimit-Limit,
// X-RateLimit-Remaining, X-RateLimit-Reset and, on denial, Retry-After).
//
// # Overview
//
// This package implements a sliding window: each client has an ordered
// series of request timestamps, and a request is admitted only when fewer
// than the effective budget fall inside the continuously moving window.
// Unlike fixed buckets, a sliding window cannot be gamed by bursting at a
// bucket boundary.
//
// Repeat offenders are penalized adaptively: every denial increments a
// per-client violation counter, and the effective budget shrinks by
// min(2^violations, max) while the suggested retry delay grows by the same
// factor. The counter clears on the next accepted request (shared backend)
// or decays after five quiet minutes (local fallback), so penalties are
// self-healing.
//
// # Components
//
//   - RuleTable resolves a path to its quota rule: exact match, then glob
//     patterns in load order, then the "default" rule. No rule means the
//     endpoint is unlimited.
//   - Identifier derives the ClientKey: authenticated callers become
//     "user:<hash>" via a truncated one-way hash of the credential,
//     anonymous callers become "ip:<address>".
//   - ExemptChecker bypasses limiting for allow-listed addresses and for
//     callers whose resolved role is in the exempt set. It fails closed:
//     any identity resolution failure means not exempt.
//   - Store is the counter capability, with RedisStore and MemoryStore
//     implementations selected at construction by a liveness probe.
//   - Engine assembles the verdict and emits one audit event per denial.
//
// # Backends
//
// RedisStore counts against a shared Redis backend. The whole
// check-and-update cycle (expire old entries, count, read the violation
// counter, admit or deny) runs in one Lua script, so it is safe to use from
// many application instances while enforcing a single global budget per
// client: no two concurrent requests from the same key can both claim the
// last remaining slot.
//
// MemoryStore runs the same algorithm on process-local state. The Engine
// uses it when the shared backend is unreachable - detected by a probe at
// construction and re-checked on every backend error. Because its state is
// per instance, it is a best-effort approximation in multi-instance
// deployments; results evaluated locally carry Degraded=true so the
// middleware can document the degradation to callers via an
// X-RateLimit-Mode header. A background sweeper (StartSweeper) drops client
// state idle beyond 24h so long-lived processes do not grow without bound.
//
// # Failure Policy
//
// The engine fails open with respect to its own infrastructure: a backend
// timeout or outage switches evaluation to the local fallback for that
// request and logs a warning, it never blocks traffic. It fails closed with
// respect to quota decisions: a computed deny is always honored. State
// admitted locally during an outage is not reconciled back into the shared
// store once it recovers; the local count simply starts from zero for the
// affected keys.
//
// # Concurrency
//
// MemoryStore serializes all mutation under a mutex. RedisStore delegates
// atomicity to the Lua script and bounds every round trip with a timeout.
// The Engine itself holds no mutable request state and is safe for
// concurrent use; the only long-running work is the sweeper goroutine,
// which runs on its own ticker independent of request handling.
//
// # Configuration
//
// Stores and the engine are configured with functional options:
//
//	store, err := limiter.NewRedisStore(client,
//		limiter.WithPrefix("shop:rl:"),
//		limiter.WithTimeout(2*time.Second),
//		limiter.WithMaxBackoff(8),
//	)
//	eng := limiter.NewEngine(rules,
//		limiter.WithSharedStore(store),
//		limiter.WithLogger(log),
//		limiter.WithExemptAddresses("203.0.113.5"),
//	)
//
// The pkg/config package loads the same surface (rules, exemptions, backoff)
// from a YAML file.
package limiter
