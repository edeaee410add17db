package adapters

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// SessionHandle is the opaque login state for a stateful provider. At most
// one handle is active per provider process-wide.
type SessionHandle struct {
	Provider      string
	Token         string
	EstablishedAt time.Time
}

// SessionDialer performs the actual login/logout calls for one stateful
// provider. Login errors must be typed: AuthFailure for an explicit
// rejection, AuthUnavailable for transport trouble.
type SessionDialer interface {
	Login(ctx context.Context) (*SessionHandle, error)
	Logout(ctx context.Context, h *SessionHandle) error
}

// SessionRegistry owns the session lifecycle for all stateful providers.
// Acquire is lazy and idempotent; concurrent acquires for one provider
// coalesce onto a single login call. Release is idempotent and safe with
// no active session; release failures are logged, never propagated.
type SessionRegistry struct {
	logger *zap.Logger

	mu      sync.Mutex
	dialers map[string]SessionDialer
	active  map[string]*SessionHandle
	sf      singleflight.Group
}

func NewSessionRegistry(logger *zap.Logger) *SessionRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionRegistry{
		logger:  logger,
		dialers: make(map[string]SessionDialer),
		active:  make(map[string]*SessionHandle),
	}
}

// RegisterDialer wires the login/logout implementation for a provider.
func (r *SessionRegistry) RegisterDialer(provider string, d SessionDialer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dialers[provider] = d
}

// Acquire returns the active session for the provider, logging in on first
// use. A second acquire while active returns the existing handle without
// re-authenticating.
func (r *SessionRegistry) Acquire(ctx context.Context, provider string) (*SessionHandle, error) {
	r.mu.Lock()
	if h, ok := r.active[provider]; ok {
		r.mu.Unlock()
		return h, nil
	}
	d, ok := r.dialers[provider]
	r.mu.Unlock()
	if !ok {
		return nil, NewAuthUnavailableError(provider, "no session dialer registered", nil)
	}

	// singleflight keeps login a critical section per provider: concurrent
	// callers share one underlying login call and one result.
	v, err, _ := r.sf.Do(provider, func() (any, error) {
		r.mu.Lock()
		if h, ok := r.active[provider]; ok {
			r.mu.Unlock()
			return h, nil
		}
		r.mu.Unlock()

		h, err := d.Login(ctx)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.active[provider] = h
		r.mu.Unlock()
		r.logger.Info("session established", zap.String("provider", provider))
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionHandle), nil
}

// IsActive reports whether the provider currently holds a session.
func (r *SessionRegistry) IsActive(provider string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[provider]
	return ok
}

// Release logs the provider out if a session is active. Calling it with no
// active session is a no-op. A logout failure cannot affect data
// correctness, so it is logged and swallowed.
func (r *SessionRegistry) Release(ctx context.Context, provider string) {
	r.mu.Lock()
	h, ok := r.active[provider]
	if ok {
		delete(r.active, provider)
	}
	d := r.dialers[provider]
	r.mu.Unlock()
	if !ok || d == nil {
		return
	}
	if err := d.Logout(ctx, h); err != nil {
		r.logger.Warn("session logout failed",
			zap.String("provider", provider),
			zap.Error(err))
		return
	}
	r.logger.Info("session released", zap.String("provider", provider))
}

// CloseAll releases every active session. Called at process teardown so
// release is attempted even when callers never released explicitly.
func (r *SessionRegistry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	providers := make([]string, 0, len(r.active))
	for p := range r.active {
		providers = append(providers, p)
	}
	r.mu.Unlock()
	for _, p := range providers {
		r.Release(ctx, p)
	}
}
