package adapters

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ThrottleGuard keeps per-provider cool-down state so scraping-style
// endpoints are not hammered after they signal throttling. Failures
// classified RateLimited or Banned open a cool-down window; consecutive
// rate-limit failures never shrink the window, and one success resets the
// provider completely.
type ThrottleGuard struct {
	base   time.Duration
	max    time.Duration
	logger *zap.Logger

	mu     sync.Mutex // guards the map only; each state has its own lock
	states map[string]*throttleState
}

type throttleState struct {
	mu            sync.Mutex
	strikes       int
	window        time.Duration
	cooldownUntil time.Time
}

// NewThrottleGuard builds a guard with the given base window; windows
// double per consecutive rate-limit failure up to max.
func NewThrottleGuard(base, max time.Duration, logger *zap.Logger) *ThrottleGuard {
	if base <= 0 {
		base = 30 * time.Second
	}
	if max < base {
		max = 16 * base
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ThrottleGuard{
		base:   base,
		max:    max,
		logger: logger,
		states: make(map[string]*throttleState),
	}
}

func (g *ThrottleGuard) state(provider string) *throttleState {
	g.mu.Lock()
	defer g.mu.Unlock()
	st, ok := g.states[provider]
	if !ok {
		st = &throttleState{}
		g.states[provider] = st
	}
	return st
}

// ShouldSkip reports whether the provider is inside its cool-down window.
func (g *ThrottleGuard) ShouldSkip(provider string) bool {
	st := g.state(provider)
	st.mu.Lock()
	defer st.mu.Unlock()
	return time.Now().Before(st.cooldownUntil)
}

// RecordFailure notes a failure. Kinds other than RateLimited and Banned
// leave the guard untouched; throttling is about vendor anti-abuse, not
// ordinary errors.
func (g *ThrottleGuard) RecordFailure(provider string, kind ErrorKind) {
	if kind != ErrRateLimited && kind != ErrBanned {
		return
	}
	st := g.state(provider)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.strikes++
	switch {
	case kind == ErrBanned:
		// an explicit ban jumps straight to the ceiling
		st.window = g.max
	case st.window == 0:
		st.window = g.base
	default:
		st.window *= 2
		if st.window > g.max {
			st.window = g.max
		}
	}
	st.cooldownUntil = time.Now().Add(st.window)

	g.logger.Warn("provider cooling down",
		zap.String("provider", provider),
		zap.String("kind", string(kind)),
		zap.Int("strikes", st.strikes),
		zap.Duration("window", st.window))
}

// RecordSuccess clears all accumulated backoff state for the provider.
func (g *ThrottleGuard) RecordSuccess(provider string) {
	st := g.state(provider)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.strikes = 0
	st.window = 0
	st.cooldownUntil = time.Time{}
}

// CooldownUntil exposes the current window end for diagnostics; zero means
// the provider is not cooling down.
func (g *ThrottleGuard) CooldownUntil(provider string) time.Time {
	st := g.state(provider)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.cooldownUntil
}
