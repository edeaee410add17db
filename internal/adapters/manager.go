package adapters

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// FetchManager orchestrates the ranked provider list per capability:
// throttle gate, code normalization, session acquisition, fetch, and
// first-success-wins fallback. Providers are tried one at a time; racing
// them would make the shared session and throttle state unsafe for no
// real latency win on these vendors.
type FetchManager struct {
	logger   *zap.Logger
	throttle *ThrottleGuard
	sessions *SessionRegistry

	mu       sync.RWMutex
	fetchers []Fetcher // registration order, for tie-breaking
	chains   map[Capability][]Fetcher
	stats    map[string]*ProviderStats
}

// ProviderStats counts outcomes per provider for diagnostics.
type ProviderStats struct {
	Attempts  int64  `json:"attempts"`
	Successes int64  `json:"successes"`
	Failures  int64  `json:"failures"`
	Skipped   int64  `json:"skipped"`
	LastError string `json:"last_error,omitempty"`
}

func NewFetchManager(logger *zap.Logger, throttle *ThrottleGuard, sessions *SessionRegistry) *FetchManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if throttle == nil {
		throttle = NewThrottleGuard(0, 0, logger)
	}
	if sessions == nil {
		sessions = NewSessionRegistry(logger)
	}
	return &FetchManager{
		logger:   logger,
		throttle: throttle,
		sessions: sessions,
		chains:   make(map[Capability][]Fetcher),
		stats:    make(map[string]*ProviderStats),
	}
}

// Sessions exposes the session registry so the process can release
// sessions at teardown.
func (m *FetchManager) Sessions() *SessionRegistry { return m.sessions }

// Register adds a fetcher to the chain of every capability it declares.
// Chains are ordered once at registration time, ascending priority with
// registration order breaking ties, and stay stable for the process
// lifetime.
func (m *FetchManager) Register(f Fetcher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	desc := f.Descriptor()
	m.fetchers = append(m.fetchers, f)
	m.stats[desc.Name] = &ProviderStats{}

	for _, c := range desc.Capabilities {
		chain := append(m.chains[c], f)
		sort.SliceStable(chain, func(i, j int) bool {
			return chain[i].Descriptor().Priority < chain[j].Descriptor().Priority
		})
		m.chains[c] = chain
	}

	m.logger.Info("provider registered",
		zap.String("provider", desc.Name),
		zap.Int("priority", desc.Priority),
		zap.Bool("stateful", desc.Stateful))
}

func (m *FetchManager) chainFor(c Capability) []Fetcher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.chains[c]
}

// Fetch walks the capability's chain in priority order and returns the
// first non-empty well-formed result. Every failure is recorded; if the
// chain exhausts, the caller gets the full ordered trail, never just the
// last reason.
func (m *FetchManager) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	chain := m.chainFor(req.Capability)
	attempts := make([]Attempt, 0, len(chain))

	for _, f := range chain {
		// cancellation is checked between providers, never mid-call
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		desc := f.Descriptor()
		if m.throttle.ShouldSkip(desc.Name) {
			m.recordSkip(desc.Name)
			attempts = append(attempts, Attempt{
				Provider: desc.Name,
				Kind:     ErrRateLimited,
				Message:  "skipped: in cool-down",
			})
			continue
		}

		code := NormalizeCode(req.Code.Code(), SchemeFor(desc.Name))

		var session *SessionHandle
		if desc.Stateful {
			s, err := m.sessions.Acquire(ctx, desc.Name)
			if err != nil {
				m.recordFailure(desc.Name, err)
				attempts = append(attempts, Attempt{
					Provider: desc.Name,
					Kind:     KindOf(err),
					Message:  err.Error(),
				})
				m.logger.Warn("session acquisition failed, trying next provider",
					zap.String("provider", desc.Name),
					zap.Error(err))
				continue
			}
			session = s
		}

		res, err := f.Fetch(ctx, req, code, session)
		if err == nil && res.Empty() {
			err = NewEmptyResultError(desc.Name, "provider returned zero rows")
		}
		if err != nil {
			kind := KindOf(err)
			m.recordFailure(desc.Name, err)
			m.throttle.RecordFailure(desc.Name, kind)
			attempts = append(attempts, Attempt{
				Provider: desc.Name,
				Kind:     kind,
				Message:  err.Error(),
			})
			// empty results are routine fallback; transport and parse
			// trouble is worth more noise
			if kind == ErrEmptyResult {
				m.logger.Info("provider returned no rows",
					zap.String("provider", desc.Name),
					zap.String("code", req.Code.Code()))
			} else {
				m.logger.Warn("provider fetch failed",
					zap.String("provider", desc.Name),
					zap.String("code", req.Code.Code()),
					zap.String("kind", string(kind)),
					zap.Error(err))
			}
			continue
		}

		m.recordSuccess(desc.Name)
		m.throttle.RecordSuccess(desc.Name)
		res.Provider = desc.Name
		m.logger.Info("fetch succeeded",
			zap.String("provider", desc.Name),
			zap.String("capability", string(req.Capability)),
			zap.String("code", req.Code.Code()),
			zap.Int("rows", res.RowCount()))
		return res, nil
	}

	return nil, &ExhaustedError{Capability: req.Capability, Attempts: attempts}
}

// GetDailyHistory is the convenience form for daily bars: rows plus the
// provider that produced them.
func (m *FetchManager) GetDailyHistory(ctx context.Context, id StockIdentifier, start, end string, adjust AdjustMode) ([]DailyBar, string, error) {
	res, err := m.Fetch(ctx, FetchRequest{
		Capability: DailyHistory,
		Code:       id,
		StartDate:  start,
		EndDate:    end,
		Adjust:     adjust,
	})
	if err != nil {
		return nil, "", err
	}
	return res.Bars, res.Provider, nil
}

// GetRealtimeQuote fetches the current quote for one stock.
func (m *FetchManager) GetRealtimeQuote(ctx context.Context, id StockIdentifier) (*Quote, string, error) {
	res, err := m.Fetch(ctx, FetchRequest{Capability: RealtimeQuote, Code: id})
	if err != nil {
		return nil, "", err
	}
	return &res.Quotes[0], res.Provider, nil
}

// GetFinancialStatements fetches the reports for one period.
func (m *FetchManager) GetFinancialStatements(ctx context.Context, id StockIdentifier, year, quarter int) ([]StatementRow, string, error) {
	res, err := m.Fetch(ctx, FetchRequest{
		Capability: FinancialStatement,
		Code:       id,
		Year:       year,
		Quarter:    quarter,
	})
	if err != nil {
		return nil, "", err
	}
	return res.Statements, res.Provider, nil
}

// Stats returns a copy of the per-provider counters.
func (m *FetchManager) Stats() map[string]ProviderStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ProviderStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}

func (m *FetchManager) recordSkip(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.stats[provider]; s != nil {
		s.Skipped++
	}
}

func (m *FetchManager) recordFailure(provider string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.stats[provider]; s != nil {
		s.Attempts++
		s.Failures++
		s.LastError = err.Error()
	}
}

func (m *FetchManager) recordSuccess(provider string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s := m.stats[provider]; s != nil {
		s.Attempts++
		s.Successes++
	}
}
