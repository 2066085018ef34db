package limiter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EventRateLimitExceeded is the audit event type emitted once per denial.
const EventRateLimitExceeded = "rate_limit_exceeded"

// AuditEvent is the payload appended to the security event log on denial.
// It never contains raw credentials; identity appears only as the hashed or
// address-based ClientKey namespace.
type AuditEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	IPAddress string         `json:"ipAddress"`
	UserAgent string         `json:"userAgent"`
	Details   map[string]any `json:"details"`
	At        time.Time      `json:"at"`
}

// Auditor is the fire-and-forget security event sink. Append failures must
// never affect the request that triggered the event; the engine swallows and
// logs them.
type Auditor interface {
	Append(ctx context.Context, ev AuditEvent) error
}

// NoOpAuditor discards events.
type NoOpAuditor struct{}

func (NoOpAuditor) Append(ctx context.Context, ev AuditEvent) error { return nil }

// ZapAuditor writes audit events to a structured log. Emission is guarded by
// a token bucket so a flood of denials cannot be converted into log
// pressure; dropped events are counted, not logged.
type ZapAuditor struct {
	log     *zap.Logger
	guard   *rate.Limiter
	dropped atomic.Int64
}

// NewZapAuditor builds an auditor over log, allowing at most burst events
// immediately and perSecond sustained.
func NewZapAuditor(log *zap.Logger, perSecond float64, burst int) *ZapAuditor {
	if log == nil {
		log = zap.NewNop()
	}
	if perSecond <= 0 {
		perSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &ZapAuditor{
		log:   log,
		guard: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Dropped reports how many events the flood guard has discarded.
func (a *ZapAuditor) Dropped() int64 { return a.dropped.Load() }

func (a *ZapAuditor) Append(ctx context.Context, ev AuditEvent) error {
	if !a.guard.Allow() {
		a.dropped.Add(1)
		return nil
	}
	a.log.Info("security event",
		zap.String("id", ev.ID),
		zap.String("type", ev.Type),
		zap.String("ip", ev.IPAddress),
		zap.String("userAgent", ev.UserAgent),
		zap.Any("details", ev.Details),
		zap.Time("at", ev.At),
	)
	return nil
}

func newAuditEvent(eventType, ip, userAgent string, details map[string]any) AuditEvent {
	return AuditEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		IPAddress: ip,
		UserAgent: userAgent,
		Details:   details,
		At:        time.Now(),
	}
}
