package ratelimit

import (
	"sync"
	"time"

	"github.com/factgate/factgate/pkg/config"
	"github.com/factgate/factgate/pkg/observability/logging"
	"github.com/factgate/factgate/pkg/observability/metrics"
)

// Tier names, in checking order.
const (
	TierBurst  = "burst"
	TierMinute = "minute"
	TierDay    = "day"
	TierGlobal = "global"
)

const (
	burstWindow  = 10 * time.Second
	minuteWindow = time.Minute
	dayWindow    = 24 * time.Hour
	globalWindow = time.Minute

	// globalLimitFactor scales a model's per-client RPM into the
	// aggregate per-model cap protecting total upstream throughput.
	globalLimitFactor = 10

	// unknownModelRemaining is the generous remaining count reported
	// when a model has no limit profile and the limiter fails open.
	unknownModelRemaining = 999

	// purgeInterval is how often the background sweep drops counters
	// whose window has fully expired.
	purgeInterval = 5 * time.Minute
)

// counter is a fixed-window counter. A window is current while
// now - windowStart < windowSize; the first observation after that
// starts a fresh window with count 1.
type counter struct {
	count       int64
	windowStart time.Time
}

// TierLimiter is the in-process admission controller. It keeps one
// fixed-window counter map per tier, keyed client|model (the global
// tier is keyed by model alone), and checks tiers strictly in order
// burst → minute → day → global, rejecting on the first violation.
//
// Fixed windows are a deliberate simplification over a sliding log: a
// client can briefly burst up to twice a tier's limit across a window
// boundary. The testable behavior of the gateway is written against
// these fixed-window semantics.
type TierLimiter struct {
	mu     sync.Mutex
	limits map[string]config.ModelLimits

	burst  map[string]*counter
	minute map[string]*counter
	day    map[string]*counter
	global map[string]*counter

	now func() time.Time // swapped in tests

	stop chan struct{}
	done chan struct{}
}

// NewTierLimiter creates a limiter for the given per-model profiles and
// starts the background counter purge. Close must be called to stop it.
func NewTierLimiter(limits map[string]config.ModelLimits) *TierLimiter {
	l := newTierLimiter(limits)
	go l.purgeLoop()
	return l
}

// newTierLimiter builds the limiter without the background purge, so
// tests can drive the clock and call purge directly.
func newTierLimiter(limits map[string]config.ModelLimits) *TierLimiter {
	return &TierLimiter{
		limits: limits,
		burst:  make(map[string]*counter),
		minute: make(map[string]*counter),
		day:    make(map[string]*counter),
		global: make(map[string]*counter),
		now:    time.Now,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (l *TierLimiter) Name() string {
	return "tier-limiter"
}

// Check evaluates all tiers for the request. The post-increment count of
// each tier is compared against its limit; the first tier over its
// limit rejects the request with the tier name and the time its window
// resets. Models without a limit profile are allowed through with a
// warning (fail-open).
func (l *TierLimiter) Check(ctx Context) (*Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	limits, ok := l.limits[ctx.Model]
	if !ok {
		logging.Warnf("No rate limit profile for model %q, failing open (client=%s)", ctx.Model, ctx.ClientID)
		metrics.RecordAdmission(ctx.Model, "none", true)
		return &Decision{
			Allowed:   true,
			Remaining: unknownModelRemaining,
			Limit:     unknownModelRemaining,
			ResetAt:   now.Add(minuteWindow),
			Provider:  l.Name(),
		}, nil
	}

	key := ctx.ClientID + "|" + ctx.Model

	burstCount, burstStart := updateCounter(l.burst, key, burstWindow, now)
	if burstCount > int64(limits.BurstLimit) {
		return l.reject(ctx, TierBurst, int64(limits.BurstLimit), burstStart, burstWindow, now), nil
	}

	minuteCount, minuteStart := updateCounter(l.minute, key, minuteWindow, now)
	if minuteCount > int64(limits.RequestsPerMinute) {
		return l.reject(ctx, TierMinute, int64(limits.RequestsPerMinute), minuteStart, minuteWindow, now), nil
	}

	dayCount, dayStart := updateCounter(l.day, key, dayWindow, now)
	if dayCount > int64(limits.RequestsPerDay) {
		return l.reject(ctx, TierDay, int64(limits.RequestsPerDay), dayStart, dayWindow, now), nil
	}

	globalLimit := int64(limits.RequestsPerMinute) * globalLimitFactor
	globalCount, globalStart := updateCounter(l.global, ctx.Model, globalWindow, now)
	if globalCount > globalLimit {
		return l.reject(ctx, TierGlobal, globalLimit, globalStart, globalWindow, now), nil
	}

	remaining := int64(limits.RequestsPerMinute) - minuteCount
	if r := int64(limits.RequestsPerDay) - dayCount; r < remaining {
		remaining = r
	}
	if r := int64(limits.BurstLimit) - burstCount; r < remaining {
		remaining = r
	}
	if remaining < 0 {
		remaining = 0
	}

	metrics.RecordAdmission(ctx.Model, "", true)
	return &Decision{
		Allowed:   true,
		Remaining: remaining,
		Limit:     int64(limits.RequestsPerMinute),
		ResetAt:   now.Add(minuteWindow),
		Provider:  l.Name(),
	}, nil
}

// reject builds the denial decision for a violated tier. Caller holds l.mu.
func (l *TierLimiter) reject(ctx Context, tier string, limit int64, windowStart time.Time, window time.Duration, now time.Time) *Decision {
	resetAt := windowStart.Add(window)
	logging.Infof("Rate limit exceeded: client=%s model=%s tier=%s limit=%d reset=%s",
		ctx.ClientID, ctx.Model, tier, limit, resetAt.Format(time.RFC3339))
	metrics.RecordAdmission(ctx.Model, tier, false)
	return &Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      limit,
		ResetAt:    resetAt,
		RetryAfter: resetAt.Sub(now),
		Tier:       tier,
		Provider:   l.Name(),
	}
}

// updateCounter advances the fixed-window counter for key and returns
// the post-increment count and the window start. A missing or expired
// window restarts at count 1.
func updateCounter(m map[string]*counter, key string, window time.Duration, now time.Time) (int64, time.Time) {
	c, ok := m[key]
	if !ok || now.Sub(c.windowStart) >= window {
		m[key] = &counter{count: 1, windowStart: now}
		return 1, now
	}
	c.count++
	return c.count, c.windowStart
}

// TierUsage is the current per-tier request count for one client+model.
type TierUsage struct {
	PerMinute int64 `json:"per_minute"`
	PerDay    int64 `json:"per_day"`
	Burst     int64 `json:"burst"`
}

// Status describes current usage against the configured limits for
// diagnostics. It never increments any counter.
type Status struct {
	CurrentUsage TierUsage          `json:"current_usage"`
	Limits       config.ModelLimits `json:"limits"`
	GlobalUsage  int64              `json:"global_usage"`
	GlobalLimit  int64              `json:"global_limit"`
	KnownModel   bool               `json:"known_model"`
}

// Status reports usage for a client and model without side effects.
func (l *TierLimiter) Status(clientID, model string) Status {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	limits, known := l.limits[model]
	key := clientID + "|" + model

	s := Status{
		CurrentUsage: TierUsage{
			Burst:     peekCounter(l.burst, key, burstWindow, now),
			PerMinute: peekCounter(l.minute, key, minuteWindow, now),
			PerDay:    peekCounter(l.day, key, dayWindow, now),
		},
		Limits:      limits,
		GlobalUsage: peekCounter(l.global, model, globalWindow, now),
		KnownModel:  known,
	}
	if known {
		s.GlobalLimit = int64(limits.RequestsPerMinute) * globalLimitFactor
	}
	return s
}

// peekCounter reads a counter without mutating it. An expired window
// reads as zero.
func peekCounter(m map[string]*counter, key string, window time.Duration, now time.Time) int64 {
	c, ok := m[key]
	if !ok || now.Sub(c.windowStart) >= window {
		return 0
	}
	return c.count
}

// purgeLoop drops fully expired counters every purgeInterval so memory
// stays bounded regardless of client churn.
func (l *TierLimiter) purgeLoop() {
	defer close(l.done)
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.purge()
		case <-l.stop:
			return
		}
	}
}

// purge removes every counter whose window has fully expired.
func (l *TierLimiter) purge() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	removed += purgeMap(l.burst, burstWindow, now)
	removed += purgeMap(l.minute, minuteWindow, now)
	removed += purgeMap(l.day, dayWindow, now)
	removed += purgeMap(l.global, globalWindow, now)
	if removed > 0 {
		logging.Debugf("Rate limit purge removed %d expired counters", removed)
	}
}

func purgeMap(m map[string]*counter, window time.Duration, now time.Time) int {
	removed := 0
	for key, c := range m {
		if now.Sub(c.windowStart) >= window {
			delete(m, key)
			removed++
		}
	}
	return removed
}

// Close stops the background purge. Safe to call once.
func (l *TierLimiter) Close() error {
	close(l.stop)
	<-l.done
	return nil
}
