package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/factgate/factgate/pkg/config"
)

// testClock drives the limiter's view of time.
type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestLimiter(limits map[string]config.ModelLimits) (*TierLimiter, *testClock) {
	l := newTierLimiter(limits)
	clock := &testClock{now: time.Unix(1700000000, 0)}
	l.now = clock.Now
	return l, clock
}

var defaultLimits = map[string]config.ModelLimits{
	"fact-check-v1": {RequestsPerMinute: 15, RequestsPerDay: 100, BurstLimit: 5},
}

// ── Decision ──

func TestDecisionDefaults(t *testing.T) {
	d := &Decision{}
	if d.Allowed {
		t.Error("zero-value Decision.Allowed should be false")
	}
	if d.Remaining != 0 {
		t.Errorf("zero-value Remaining = %d, want 0", d.Remaining)
	}
}

func TestDecisionRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		retryAfter time.Duration
		want       int
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Second, 1},
		{1500 * time.Millisecond, 2}, // rounds up
		{10 * time.Second, 10},
	}
	for _, tc := range tests {
		d := &Decision{RetryAfter: tc.retryAfter}
		if got := d.RetryAfterSeconds(); got != tc.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tc.retryAfter, got, tc.want)
		}
	}
}

// ── TierLimiter — burst tier ──

func TestBurstLimit(t *testing.T) {
	l, clock := newTestLimiter(defaultLimits)

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx)
		if err != nil {
			t.Fatalf("Check %d: %v", i, err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		clock.Advance(500 * time.Millisecond) // 6 requests within 3 seconds
	}

	d, err := l.Check(ctx)
	if err != nil {
		t.Fatalf("Check 6: %v", err)
	}
	if d.Allowed {
		t.Fatal("request 6 should be rejected")
	}
	if d.Tier != TierBurst {
		t.Errorf("Tier = %q, want %q", d.Tier, TierBurst)
	}
	if d.RetryAfterSeconds() <= 0 {
		t.Errorf("RetryAfterSeconds = %d, want > 0", d.RetryAfterSeconds())
	}
	if want := int64(5); d.Limit != want {
		t.Errorf("Limit = %d, want %d", d.Limit, want)
	}
}

// ── TierLimiter — minute tier ──

func TestMinuteLimit(t *testing.T) {
	// Burst limit high enough that 1-second spacing never trips it.
	l, clock := newTestLimiter(map[string]config.ModelLimits{
		"fact-check-v1": {RequestsPerMinute: 15, RequestsPerDay: 100, BurstLimit: 20},
	})

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	for i := 1; i <= 15; i++ {
		d, _ := l.Check(ctx)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed (rejected by %q)", i, d.Tier)
		}
		clock.Advance(time.Second)
	}

	d, _ := l.Check(ctx)
	if d.Allowed {
		t.Fatal("request 16 should be rejected")
	}
	if d.Tier != TierMinute {
		t.Errorf("Tier = %q, want %q", d.Tier, TierMinute)
	}
}

// ── TierLimiter — day tier ──

func TestDayLimit(t *testing.T) {
	l, clock := newTestLimiter(map[string]config.ModelLimits{
		"fact-check-v1": {RequestsPerMinute: 100, RequestsPerDay: 3, BurstLimit: 50},
	})

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	for i := 1; i <= 3; i++ {
		d, _ := l.Check(ctx)
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		clock.Advance(time.Second)
	}

	d, _ := l.Check(ctx)
	if d.Allowed {
		t.Fatal("request 4 should be rejected")
	}
	if d.Tier != TierDay {
		t.Errorf("Tier = %q, want %q", d.Tier, TierDay)
	}
}

// ── TierLimiter — window reset ──

func TestWindowReset(t *testing.T) {
	l, clock := newTestLimiter(defaultLimits)

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	for i := 0; i < 5; i++ {
		l.Check(ctx)
	}
	d, _ := l.Check(ctx)
	if d.Allowed || d.Tier != TierBurst {
		t.Fatalf("expected burst rejection, got %+v", d)
	}

	// Jump past the reset time: the next request starts a fresh window.
	clock.Advance(d.ResetAt.Sub(clock.Now()))
	d, _ = l.Check(ctx)
	if !d.Allowed {
		t.Fatalf("request after reset should be allowed, got %+v", d)
	}

	status := l.Status("client-x", "fact-check-v1")
	if status.CurrentUsage.Burst != 1 {
		t.Errorf("burst usage after reset = %d, want 1 (fresh window)", status.CurrentUsage.Burst)
	}
}

// ── TierLimiter — global tier ──

func TestGlobalLimit(t *testing.T) {
	l, clock := newTestLimiter(map[string]config.ModelLimits{
		"fact-check-v1": {RequestsPerMinute: 15, RequestsPerDay: 1000, BurstLimit: 20},
	})

	// Ten distinct clients each send their full per-minute allowance:
	// 150 aggregate requests, none exceeding an individual tier.
	for c := 0; c < 10; c++ {
		ctx := Context{ClientID: fmt.Sprintf("client-%d", c), Model: "fact-check-v1"}
		for i := 0; i < 15; i++ {
			d, _ := l.Check(ctx)
			if !d.Allowed {
				t.Fatalf("client %d request %d rejected by %q", c, i+1, d.Tier)
			}
			clock.Advance(100 * time.Millisecond)
		}
	}

	// The 151st aggregate request comes from a fresh client, so only the
	// global tier can reject it.
	d, _ := l.Check(Context{ClientID: "client-extra", Model: "fact-check-v1"})
	if d.Allowed {
		t.Fatal("151st aggregate request should be rejected")
	}
	if d.Tier != TierGlobal {
		t.Errorf("Tier = %q, want %q", d.Tier, TierGlobal)
	}
	if want := int64(150); d.Limit != want {
		t.Errorf("Limit = %d, want %d", d.Limit, want)
	}
}

// ── TierLimiter — unknown model ──

func TestUnknownModelFailsOpen(t *testing.T) {
	l, _ := newTestLimiter(defaultLimits)

	d, err := l.Check(Context{ClientID: "client-x", Model: "not-configured"})
	if err != nil {
		t.Fatalf("unknown model must not error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("unknown model must fail open")
	}
	if d.Remaining != unknownModelRemaining {
		t.Errorf("Remaining = %d, want %d", d.Remaining, unknownModelRemaining)
	}
}

// ── TierLimiter — remaining quota ──

func TestRemainingIsMostRestrictiveTier(t *testing.T) {
	l, _ := newTestLimiter(defaultLimits)

	// After one request: minute 14, day 99, burst 4 remaining.
	d, _ := l.Check(Context{ClientID: "client-x", Model: "fact-check-v1"})
	if !d.Allowed {
		t.Fatal("first request should be allowed")
	}
	if d.Remaining != 4 {
		t.Errorf("Remaining = %d, want 4 (burst is most restrictive)", d.Remaining)
	}
	if d.Limit != 15 {
		t.Errorf("Limit = %d, want 15 (per-minute limit)", d.Limit)
	}
}

// ── TierLimiter — status introspection ──

func TestStatusHasNoSideEffects(t *testing.T) {
	l, _ := newTestLimiter(defaultLimits)

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	l.Check(ctx)
	l.Check(ctx)

	for i := 0; i < 5; i++ {
		l.Status("client-x", "fact-check-v1")
	}

	status := l.Status("client-x", "fact-check-v1")
	if status.CurrentUsage.PerMinute != 2 || status.CurrentUsage.Burst != 2 || status.CurrentUsage.PerDay != 2 {
		t.Errorf("usage = %+v, want 2 across tiers", status.CurrentUsage)
	}
	if status.GlobalUsage != 2 {
		t.Errorf("global usage = %d, want 2", status.GlobalUsage)
	}
	if !status.KnownModel {
		t.Error("model should be known")
	}
	if status.Limits.RequestsPerMinute != 15 {
		t.Errorf("limits = %+v", status.Limits)
	}
}

func TestStatusUnknownClient(t *testing.T) {
	l, _ := newTestLimiter(defaultLimits)

	status := l.Status("never-seen", "fact-check-v1")
	if status.CurrentUsage != (TierUsage{}) {
		t.Errorf("usage = %+v, want zero", status.CurrentUsage)
	}
}

// ── TierLimiter — counter purge ──

func TestPurgeRemovesExpiredCounters(t *testing.T) {
	l, clock := newTestLimiter(defaultLimits)

	l.Check(Context{ClientID: "client-x", Model: "fact-check-v1"})
	if len(l.burst) != 1 || len(l.minute) != 1 || len(l.day) != 1 || len(l.global) != 1 {
		t.Fatal("expected one counter per map after a check")
	}

	clock.Advance(25 * time.Hour) // past every window, including day
	l.purge()

	if len(l.burst) != 0 || len(l.minute) != 0 || len(l.day) != 0 || len(l.global) != 0 {
		t.Errorf("purge left counters: burst=%d minute=%d day=%d global=%d",
			len(l.burst), len(l.minute), len(l.day), len(l.global))
	}
}

func TestPurgeKeepsCurrentWindows(t *testing.T) {
	l, clock := newTestLimiter(defaultLimits)

	l.Check(Context{ClientID: "client-x", Model: "fact-check-v1"})
	clock.Advance(30 * time.Second) // burst expired, minute/day/global current
	l.purge()

	if len(l.burst) != 0 {
		t.Errorf("expired burst counter kept: %d", len(l.burst))
	}
	if len(l.minute) != 1 || len(l.day) != 1 || len(l.global) != 1 {
		t.Error("current counters must survive purge")
	}
}

// ── TierLimiter — lifecycle ──

func TestCloseStopsPurgeLoop(t *testing.T) {
	l := NewTierLimiter(defaultLimits)
	done := make(chan struct{})
	go func() {
		l.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}

// ── updateCounter ──

func TestUpdateCounterWindowBoundary(t *testing.T) {
	m := make(map[string]*counter)
	start := time.Unix(1700000000, 0)

	count, windowStart := updateCounter(m, "k", 10*time.Second, start)
	if count != 1 || !windowStart.Equal(start) {
		t.Fatalf("first observation: count=%d start=%v", count, windowStart)
	}

	count, _ = updateCounter(m, "k", 10*time.Second, start.Add(9*time.Second))
	if count != 2 {
		t.Errorf("within window: count = %d, want 2", count)
	}

	// Exactly windowSize later: the window is no longer current.
	count, windowStart = updateCounter(m, "k", 10*time.Second, start.Add(10*time.Second))
	if count != 1 {
		t.Errorf("at boundary: count = %d, want 1 (fresh window)", count)
	}
	if !windowStart.Equal(start.Add(10 * time.Second)) {
		t.Errorf("fresh window start = %v", windowStart)
	}
}

// ── mockProvider ──

type mockProvider struct {
	name     string
	decision *Decision
	err      error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Check(_ Context) (*Decision, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.decision, nil
}

// ── Resolver — nil safety ──

func TestResolverNil(t *testing.T) {
	var resolver *Resolver

	d, err := resolver.Check(Context{})
	if err != nil {
		t.Fatalf("nil resolver should not error: %v", err)
	}
	if !d.Allowed {
		t.Error("nil resolver should allow")
	}

	if got := resolver.ProviderNames(); got != nil {
		t.Errorf("nil resolver ProviderNames = %v, want nil", got)
	}
	if resolver.FailOpen() {
		t.Error("nil resolver FailOpen should be false")
	}
}

// ── Resolver — empty chain ──

func TestResolverEmpty(t *testing.T) {
	resolver := NewResolver()

	d, err := resolver.Check(Context{})
	if err != nil {
		t.Fatalf("empty resolver should not error: %v", err)
	}
	if !d.Allowed {
		t.Error("empty resolver should allow")
	}
}

// ── Resolver — all allow ──

func TestResolverAllAllow(t *testing.T) {
	providerA := &mockProvider{
		name: "A",
		decision: &Decision{
			Allowed:   true,
			Remaining: 50,
			Limit:     100,
			ResetAt:   time.Now().Add(30 * time.Second),
		},
	}
	providerB := &mockProvider{
		name: "B",
		decision: &Decision{
			Allowed:   true,
			Remaining: 20,
			Limit:     50,
			ResetAt:   time.Now().Add(60 * time.Second),
		},
	}

	resolver := NewResolver(providerA, providerB)
	d, err := resolver.Check(Context{ClientID: "alice", Model: "fact-check-v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Error("expected allowed when all providers allow")
	}
	if d.Remaining != 20 {
		t.Errorf("Remaining = %d, want 20 (most restrictive)", d.Remaining)
	}
	if d.Limit != 50 {
		t.Errorf("Limit = %d, want 50 (most restrictive)", d.Limit)
	}
}

// ── Resolver — first deny ──

func TestResolverFirstDeny(t *testing.T) {
	providerA := &mockProvider{
		name: "A",
		decision: &Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      100,
			Tier:       TierMinute,
			RetryAfter: 10 * time.Second,
		},
	}
	providerB := &mockProvider{
		name: "B",
		decision: &Decision{
			Allowed:   true,
			Remaining: 50,
			Limit:     100,
		},
	}

	resolver := NewResolver(providerA, providerB)
	d, err := resolver.Check(Context{ClientID: "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Error("expected denied when first provider denies")
	}
	if d.Provider != "A" {
		t.Errorf("Provider = %q, want %q", d.Provider, "A")
	}
	if d.Tier != TierMinute {
		t.Errorf("Tier = %q, want %q", d.Tier, TierMinute)
	}
}

// ── Resolver — fail-closed (default) ──

func TestResolverFailClosed(t *testing.T) {
	providerA := &mockProvider{
		name: "A",
		err:  fmt.Errorf("connection refused"),
	}

	resolver := NewResolver(providerA)
	d, err := resolver.Check(Context{ClientID: "alice"})
	if err == nil {
		t.Fatal("expected error in fail-closed mode")
	}
	if d.Allowed {
		t.Error("expected denied in fail-closed mode on error")
	}
}

// ── Resolver — fail-open ──

func TestResolverFailOpen(t *testing.T) {
	providerA := &mockProvider{
		name: "A",
		err:  fmt.Errorf("connection refused"),
	}
	providerB := &mockProvider{
		name: "B",
		decision: &Decision{
			Allowed:   true,
			Remaining: 30,
			Limit:     60,
		},
	}

	resolver := NewResolver(providerA, providerB)
	resolver.SetFailOpen(true)

	d, err := resolver.Check(Context{ClientID: "alice"})
	if err != nil {
		t.Fatalf("fail-open should not surface provider errors: %v", err)
	}
	if !d.Allowed {
		t.Error("expected allowed in fail-open mode")
	}
	if d.Remaining != 30 {
		t.Errorf("Remaining = %d, want 30 from the healthy provider", d.Remaining)
	}
}

// ── Resolver + TierLimiter end to end ──

func TestResolverWithTierLimiter(t *testing.T) {
	l, _ := newTestLimiter(defaultLimits)
	resolver := NewResolver(l)

	ctx := Context{ClientID: "client-x", Model: "fact-check-v1"}
	for i := 0; i < 5; i++ {
		d, err := resolver.Check(ctx)
		if err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i+1, d.Allowed, err)
		}
	}

	d, err := resolver.Check(ctx)
	if err != nil {
		t.Fatalf("denial is not an error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected burst denial through the resolver")
	}
	if d.Provider != "tier-limiter" {
		t.Errorf("Provider = %q, want tier-limiter", d.Provider)
	}
}
