package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dailyReq(code string) FetchRequest {
	return FetchRequest{
		Capability: DailyHistory,
		Code:       NewStockIdentifier(code),
		StartDate:  "2024-01-01",
		EndDate:    "2024-01-31",
		Adjust:     AdjustForward,
	}
}

func barsResult(n int) *FetchResult {
	bars := make([]DailyBar, n)
	for i := range bars {
		bars[i] = DailyBar{Date: "2024-01-0" + string(rune('1'+i)), Close: 100 + float64(i)}
	}
	return &FetchResult{Bars: bars}
}

func TestFetchFallsBackPastEmptyResult(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	a := NewFakeFetcher("alpha", 0, DailyHistory) // no result scripted: returns zero rows
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(3))
	m.Register(a)
	m.Register(b)

	res, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Provider)
	assert.Len(t, res.Bars, 3)
	assert.Equal(t, 1, a.Calls())
	assert.Equal(t, 1, b.Calls())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats["alpha"].Failures)
	assert.Contains(t, stats["alpha"].LastError, "empty_result")
	assert.Equal(t, int64(1), stats["beta"].Successes)
}

func TestFetchFirstSuccessWins(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	a := NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(2))
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(5))
	m.Register(a)
	m.Register(b)

	res, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Provider)
	assert.Equal(t, 0, b.Calls(), "lower-priority providers must not be consulted")
}

func TestFetchRegistrationOrderIgnoredPriorityWins(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	// register out of priority order
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(1))
	a := NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(1))
	m.Register(b)
	m.Register(a)

	res, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", res.Provider)
}

func TestFetchExhaustionReportsFullTrail(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	m.Register(NewFakeFetcher("alpha", 0, DailyHistory).WithError(NewTransportError("alpha", "connect refused", nil)))
	m.Register(NewFakeFetcher("beta", 1, DailyHistory).WithError(NewRateLimitedError("beta", "too many requests")))
	m.Register(NewFakeFetcher("gamma", 2, DailyHistory)) // empty

	_, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 3)
	assert.Equal(t, "alpha", exhausted.Attempts[0].Provider)
	assert.Equal(t, ErrTransport, exhausted.Attempts[0].Kind)
	assert.Equal(t, "beta", exhausted.Attempts[1].Provider)
	assert.Equal(t, ErrRateLimited, exhausted.Attempts[1].Kind)
	assert.Equal(t, "gamma", exhausted.Attempts[2].Provider)
	assert.Equal(t, ErrEmptyResult, exhausted.Attempts[2].Kind)
}

func TestFetchNoProviderForCapability(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	m.Register(NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(1)))

	_, err := m.Fetch(context.Background(), FetchRequest{
		Capability: RealtimeQuote,
		Code:       NewStockIdentifier("600519"),
	})
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Empty(t, exhausted.Attempts)
	assert.Contains(t, err.Error(), "no provider registered")
}

func TestFetchSkipsCoolingProvider(t *testing.T) {
	throttle := NewThrottleGuard(time.Minute, 10*time.Minute, nil)
	m := NewFetchManager(nil, throttle, nil)
	a := NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(1))
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(1))
	m.Register(a)
	m.Register(b)

	throttle.RecordFailure("alpha", ErrRateLimited)

	res, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Provider)
	assert.Equal(t, 0, a.Calls(), "cooling provider must not be called")
	assert.Equal(t, int64(1), m.Stats()["alpha"].Skipped)
}

func TestFetchAllCoolingShowsSkipsInTrail(t *testing.T) {
	throttle := NewThrottleGuard(time.Minute, 10*time.Minute, nil)
	m := NewFetchManager(nil, throttle, nil)
	m.Register(NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(1)))
	m.Register(NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(1)))

	throttle.RecordFailure("alpha", ErrBanned)
	throttle.RecordFailure("beta", ErrBanned)

	_, err := m.Fetch(context.Background(), dailyReq("600519"))
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	for _, a := range exhausted.Attempts {
		assert.Equal(t, ErrRateLimited, a.Kind)
		assert.Contains(t, a.Message, "cool-down")
	}
}

func TestFetchRateLimitTripsThrottle(t *testing.T) {
	throttle := NewThrottleGuard(time.Minute, 10*time.Minute, nil)
	m := NewFetchManager(nil, throttle, nil)
	a := NewFakeFetcher("alpha", 0, DailyHistory).WithError(NewRateLimitedError("alpha", "slow down"))
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(1))
	m.Register(a)
	m.Register(b)

	_, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)

	// second fetch skips alpha without calling it
	_, err = m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, 1, a.Calls())
}

func TestFetchStatefulSessionFailureContinuesChain(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	sessions.RegisterDialer("alpha", &FakeDialer{Provider: "alpha", LoginErr: NewAuthFailureError("alpha", "rejected")})
	m := NewFetchManager(nil, nil, sessions)

	a := NewFakeFetcher("alpha", 0, DailyHistory).Stateful().WithResult(barsResult(1))
	b := NewFakeFetcher("beta", 1, DailyHistory).WithResult(barsResult(1))
	m.Register(a)
	m.Register(b)

	res, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, "beta", res.Provider)
	assert.Equal(t, 0, a.Calls(), "fetch must not run without a session")
}

func TestFetchStatefulProviderGetsSession(t *testing.T) {
	sessions := NewSessionRegistry(nil)
	d := &FakeDialer{Provider: "alpha"}
	sessions.RegisterDialer("alpha", d)
	m := NewFetchManager(nil, nil, sessions)
	m.Register(NewFakeFetcher("alpha", 0, DailyHistory).Stateful().WithResult(barsResult(1)))

	_, err := m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	_, err = m.Fetch(context.Background(), dailyReq("600519"))
	require.NoError(t, err)
	assert.Equal(t, 1, d.Logins(), "session is reused across fetches")
}

func TestFetchContextCancellationStopsChain(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	a := NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(1))
	m.Register(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Fetch(ctx, dailyReq("600519"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, a.Calls())
}

func TestFetchMultiCapabilityProvider(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	both := NewFakeFetcher("alpha", 0, DailyHistory, RealtimeQuote).WithResult(&FetchResult{
		Quotes: []Quote{{Code: "600519", Last: 1500}},
	})
	m.Register(both)

	quote, provider, err := m.GetRealtimeQuote(context.Background(), NewStockIdentifier("600519"))
	require.NoError(t, err)
	assert.Equal(t, "alpha", provider)
	assert.Equal(t, 1500.0, quote.Last)
}

func TestGetDailyHistoryConvenience(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	m.Register(NewFakeFetcher("alpha", 0, DailyHistory).WithResult(barsResult(2)))

	bars, provider, err := m.GetDailyHistory(context.Background(),
		NewStockIdentifier("600519"), "2024-01-01", "2024-01-31", AdjustForward)
	require.NoError(t, err)
	assert.Equal(t, "alpha", provider)
	assert.Len(t, bars, 2)
}

func TestGetFinancialStatementsConvenience(t *testing.T) {
	m := NewFetchManager(nil, nil, nil)
	m.Register(NewFakeFetcher("alpha", 0, FinancialStatement).WithResult(&FetchResult{
		Statements: []StatementRow{{ReportType: "profit", Year: 2023, Quarter: 4}},
	}))

	rows, provider, err := m.GetFinancialStatements(context.Background(),
		NewStockIdentifier("600519"), 2023, 4)
	require.NoError(t, err)
	assert.Equal(t, "alpha", provider)
	require.Len(t, rows, 1)
	assert.Equal(t, "profit", rows[0].ReportType)
}
