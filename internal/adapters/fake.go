package adapters

import (
	"context"
	"sync"
	"time"
)

// FakeFetcher is a scripted in-memory fetcher for tests: deterministic
// result or error, plus call counting so fallback ordering can be
// asserted.
type FakeFetcher struct {
	desc ProviderDescriptor

	mu     sync.Mutex
	result *FetchResult
	err    error
	calls  int
}

func NewFakeFetcher(name string, priority int, caps ...Capability) *FakeFetcher {
	return &FakeFetcher{
		desc: ProviderDescriptor{
			Name:         name,
			Priority:     priority,
			Capabilities: caps,
		},
	}
}

// Stateful marks the fake as requiring a session.
func (f *FakeFetcher) Stateful() *FakeFetcher {
	f.desc.Stateful = true
	return f
}

// WithResult scripts a success.
func (f *FakeFetcher) WithResult(res *FetchResult) *FakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.result = res
	f.err = nil
	return f
}

// WithError scripts a failure.
func (f *FakeFetcher) WithError(err error) *FakeFetcher {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	f.result = nil
	return f
}

// Calls returns how many times Fetch ran.
func (f *FakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *FakeFetcher) Descriptor() ProviderDescriptor { return f.desc }

func (f *FakeFetcher) Fetch(ctx context.Context, req FetchRequest, code string, session *SessionHandle) (*FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.result == nil {
		return &FetchResult{}, nil
	}
	cp := *f.result
	return &cp, nil
}

// FakeDialer is a scripted SessionDialer that counts login/logout calls.
type FakeDialer struct {
	Provider string
	LoginErr error

	mu      sync.Mutex
	logins  int
	logouts int
	delay   time.Duration
}

// WithDelay makes Login take a while, to widen concurrency windows in
// tests.
func (d *FakeDialer) WithDelay(delay time.Duration) *FakeDialer {
	d.delay = delay
	return d
}

func (d *FakeDialer) Login(ctx context.Context) (*SessionHandle, error) {
	d.mu.Lock()
	d.logins++
	delay := d.delay
	d.mu.Unlock()
	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if d.LoginErr != nil {
		return nil, d.LoginErr
	}
	return &SessionHandle{Provider: d.Provider, Token: "fake-token", EstablishedAt: time.Now()}, nil
}

func (d *FakeDialer) Logout(ctx context.Context, h *SessionHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logouts++
	return nil
}

func (d *FakeDialer) Logins() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logins
}

func (d *FakeDialer) Logouts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.logouts
}
