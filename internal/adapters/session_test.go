package adapters

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionAcquireLogsInOnce(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := &FakeDialer{Provider: "baostock"}
	r.RegisterDialer("baostock", d)

	h1, err := r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)
	h2, err := r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, d.Logins())
	assert.True(t, r.IsActive("baostock"))
}

func TestSessionConcurrentAcquiresShareOneLogin(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := (&FakeDialer{Provider: "baostock"}).WithDelay(50 * time.Millisecond)
	r.RegisterDialer("baostock", d)

	var wg sync.WaitGroup
	handles := make([]*SessionHandle, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := r.Acquire(context.Background(), "baostock")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, d.Logins())
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
}

func TestSessionAcquireLoginFailure(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := &FakeDialer{Provider: "baostock", LoginErr: NewAuthFailureError("baostock", "bad credentials")}
	r.RegisterDialer("baostock", d)

	_, err := r.Acquire(context.Background(), "baostock")
	require.Error(t, err)
	assert.Equal(t, ErrAuthFailure, KindOf(err))
	assert.False(t, r.IsActive("baostock"))

	// a failed login leaves nothing cached; the next acquire retries
	_, err = r.Acquire(context.Background(), "baostock")
	require.Error(t, err)
	assert.Equal(t, 2, d.Logins())
}

func TestSessionAcquireUnknownProvider(t *testing.T) {
	r := NewSessionRegistry(nil)
	_, err := r.Acquire(context.Background(), "nobody")
	require.Error(t, err)
	assert.Equal(t, ErrAuthUnavailable, KindOf(err))
}

func TestSessionReleaseIdempotent(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := &FakeDialer{Provider: "baostock"}
	r.RegisterDialer("baostock", d)

	// release with nothing active is a no-op
	r.Release(context.Background(), "baostock")
	assert.Equal(t, 0, d.Logouts())

	_, err := r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)

	r.Release(context.Background(), "baostock")
	r.Release(context.Background(), "baostock")
	assert.Equal(t, 1, d.Logouts())
	assert.False(t, r.IsActive("baostock"))
}

func TestSessionReleaseSwallowsLogoutError(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := &failingLogoutDialer{}
	r.RegisterDialer("baostock", d)

	_, err := r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)

	// must not panic or surface the error, and the handle is still dropped
	r.Release(context.Background(), "baostock")
	assert.False(t, r.IsActive("baostock"))
}

func TestSessionCloseAll(t *testing.T) {
	r := NewSessionRegistry(nil)
	d1 := &FakeDialer{Provider: "a"}
	d2 := &FakeDialer{Provider: "b"}
	r.RegisterDialer("a", d1)
	r.RegisterDialer("b", d2)

	_, err := r.Acquire(context.Background(), "a")
	require.NoError(t, err)
	_, err = r.Acquire(context.Background(), "b")
	require.NoError(t, err)

	r.CloseAll(context.Background())
	assert.Equal(t, 1, d1.Logouts())
	assert.Equal(t, 1, d2.Logouts())
	assert.False(t, r.IsActive("a"))
	assert.False(t, r.IsActive("b"))
}

func TestSessionReacquireAfterRelease(t *testing.T) {
	r := NewSessionRegistry(nil)
	d := &FakeDialer{Provider: "baostock"}
	r.RegisterDialer("baostock", d)

	_, err := r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)
	r.Release(context.Background(), "baostock")

	_, err = r.Acquire(context.Background(), "baostock")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Logins())
}

type failingLogoutDialer struct{}

func (d *failingLogoutDialer) Login(ctx context.Context) (*SessionHandle, error) {
	return &SessionHandle{Provider: "baostock", EstablishedAt: time.Now()}, nil
}

func (d *failingLogoutDialer) Logout(ctx context.Context, h *SessionHandle) error {
	return errors.New("connection reset")
}
