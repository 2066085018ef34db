package limiter

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultMaxBackoff caps the exponential penalty so repeat offenders are
	// throttled hard but never locked out indefinitely.
	DefaultMaxBackoff = 8

	defaultViolationDecay = 5 * time.Minute
	defaultRetention      = 24 * time.Hour
	defaultSweepInterval  = 5 * time.Minute
)

type windowEntry struct {
	id string
	at time.Time
}

// clientState is owned exclusively by the MemoryStore; it is created lazily
// on the first request from a key and garbage-collected by the sweeper once
// idle beyond the retention horizon with no outstanding violations.
type clientState struct {
	entries       []windowEntry
	violations    int
	lastViolation time.Time
	lastSeen      time.Time
}

// MemoryStore implements Store with process-local state.
//
// It runs the same sliding-window algorithm as RedisStore but its state is
// not shared across instances, so in a multi-instance deployment it only
// gives a best-effort per-instance approximation. The Engine uses it when
// the shared backend is unreachable; results from it carry Degraded=true.
//
// All mutation happens under one mutex, which serializes concurrent requests
// for the same key within the process.
type MemoryStore struct {
	mu      sync.Mutex
	clients map[string]*clientState

	maxMultiplier  int
	violationDecay time.Duration
	retention      time.Duration
	sweepInterval  time.Duration
	now            func() time.Time
	recorder       MetricsRecorder
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		clients:        make(map[string]*clientState),
		maxMultiplier:  DefaultMaxBackoff,
		violationDecay: defaultViolationDecay,
		retention:      defaultRetention,
		sweepInterval:  defaultSweepInterval,
		now:            time.Now,
		recorder:       &NoOpMetricsRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take evaluates and updates the window for id. It never returns an error;
// the signature matches Store so the Engine can swap backends freely.
func (s *MemoryStore) Take(ctx context.Context, id Identity, rule Rule) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	key := id.String()

	st, ok := s.clients[key]
	if !ok {
		st = &clientState{}
		s.clients[key] = st
	}
	st.lastSeen = now

	// Self-healing backoff: a violation older than the decay horizon no
	// longer contributes to the multiplier.
	if st.violations > 0 && now.Sub(st.lastViolation) > s.violationDecay {
		st.violations = 0
	}

	cutoff := now.Add(-rule.Window)
	st.entries = pruneEntries(st.entries, cutoff)
	count := len(st.entries)

	multiplier := backoffMultiplier(st.violations, s.maxMultiplier)
	effective := rule.Requests / multiplier
	if effective < 1 {
		effective = 1
	}

	res := Result{
		Limit:             effective,
		ResetAt:           now.Unix() + int64(rule.Window/time.Second),
		BackoffMultiplier: multiplier,
		Degraded:          true,
	}

	if count >= effective {
		st.violations++
		st.lastViolation = now
		res.RetryAfter = int(math.Ceil(rule.Window.Seconds() * float64(multiplier)))
		s.recorder.Add("ratelimit.denied", 1, map[string]string{"backend": "memory"})
		return res, nil
	}

	entry := windowEntry{id: uuid.NewString(), at: now}
	st.entries = append(st.entries, entry)
	st.violations = 0

	res.Allowed = true
	res.Remaining = effective - count - 1
	res.EntryID = entry.id
	return res, nil
}

// Forget removes a previously recorded entry for id, refunding its slot.
func (s *MemoryStore) Forget(ctx context.Context, id Identity, entryID string) error {
	if entryID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.clients[id.String()]
	if !ok {
		return nil
	}
	for i, e := range st.entries {
		if e.id == entryID {
			st.entries = append(st.entries[:i], st.entries[i+1:]...)
			break
		}
	}
	return nil
}

// Reset drops all state for a single client.
func (s *MemoryStore) Reset(ctx context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, id.String())
	return nil
}

// Size returns the number of tracked clients.
func (s *MemoryStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// StartSweeper launches the housekeeping goroutine that bounds memory growth
// from long-lived processes seeing many distinct anonymous callers. It stops
// when ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context) {
	if s.sweepInterval <= 0 {
		return
	}
	t := time.NewTicker(s.sweepInterval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep()
			}
		}
	}()
}

// Sweep drops client state idle beyond the retention horizon that carries no
// pending violation penalty.
func (s *MemoryStore) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-s.retention)
	swept := 0
	for key, st := range s.clients {
		if !st.lastSeen.Before(cutoff) {
			continue
		}
		if st.violations > 0 && now.Sub(st.lastViolation) <= s.violationDecay {
			continue
		}
		delete(s.clients, key)
		swept++
	}
	if swept > 0 {
		s.recorder.Add("ratelimit.swept", float64(swept), nil)
	}
}

func pruneEntries(entries []windowEntry, cutoff time.Time) []windowEntry {
	// Entries are appended in time order, so find the first survivor.
	i := 0
	for i < len(entries) && !entries[i].at.After(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append(entries[:0], entries[i:]...)
}

// backoffMultiplier computes min(2^violations, max). A max of 1 or less
// disables backoff entirely.
func backoffMultiplier(violations, max int) int {
	if max <= 1 || violations <= 0 {
		return 1
	}
	m := 1
	for range violations {
		m *= 2
		if m >= max {
			return max
		}
	}
	return m
}
