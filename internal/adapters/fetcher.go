package adapters

import (
	"context"
	"time"
)

// Capability is the kind of data being requested from a provider.
type Capability string

const (
	DailyHistory       Capability = "daily_history"
	RealtimeQuote      Capability = "realtime_quote"
	FinancialStatement Capability = "financial_statement"
)

// AdjustMode selects price adjustment for historical bars.
type AdjustMode string

const (
	AdjustNone     AdjustMode = "none"
	AdjustForward  AdjustMode = "qfq" // forward-adjusted
	AdjustBackward AdjustMode = "hfq" // backward-adjusted
)

// FetchRequest describes one capability request against the fallback chain.
// StartDate/EndDate (YYYY-MM-DD) apply to DailyHistory, Year/Quarter to
// FinancialStatement.
type FetchRequest struct {
	Capability Capability
	Code       StockIdentifier
	StartDate  string
	EndDate    string
	Year       int
	Quarter    int
	Adjust     AdjustMode
}

// DailyBar is the normalized daily history row shared by all providers.
// Volume is in shares (not lots), Amount in CNY.
type DailyBar struct {
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PrevClose float64 `json:"prev_close"`
	Volume    int64   `json:"volume"`
	Amount    float64 `json:"amount"`
	PctChange float64 `json:"pct_change"`
}

// Quote is the normalized realtime quote row.
type Quote struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Last      float64   `json:"last"`
	PrevClose float64   `json:"prev_close"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Volume    int64     `json:"volume"`
	Amount    float64   `json:"amount"`
	PctChange float64   `json:"pct_change"`
	Timestamp time.Time `json:"timestamp"`
}

// StatementRow is one financial report normalized to a flat metric map.
// ReportType is "profit", "balance" or "cashflow".
type StatementRow struct {
	ReportType  string             `json:"report_type"`
	Year        int                `json:"year"`
	Quarter     int                `json:"quarter"`
	PublishDate string             `json:"publish_date,omitempty"`
	Metrics     map[string]float64 `json:"metrics"`
}

// FetchResult carries the rows produced by the provider that won the
// fallback chain. Exactly one of the row slices is populated, matching the
// requested capability.
type FetchResult struct {
	Provider   string         `json:"provider"`
	Bars       []DailyBar     `json:"bars,omitempty"`
	Quotes     []Quote        `json:"quotes,omitempty"`
	Statements []StatementRow `json:"statements,omitempty"`
}

// Empty reports whether the result holds no usable rows.
func (r *FetchResult) Empty() bool {
	if r == nil {
		return true
	}
	return len(r.Bars) == 0 && len(r.Quotes) == 0 && len(r.Statements) == 0
}

// RowCount returns the number of rows regardless of capability.
func (r *FetchResult) RowCount() int {
	if r == nil {
		return 0
	}
	return len(r.Bars) + len(r.Quotes) + len(r.Statements)
}

// ProviderDescriptor is the static self-description every fetcher declares
// up front so the manager can filter and order providers without probing.
type ProviderDescriptor struct {
	Name               string
	Priority           int // lower is tried first; ties break by registration order
	Capabilities       []Capability
	Stateful           bool
	RequiresCredential bool
}

// Supports reports whether the provider declares the capability.
func (d ProviderDescriptor) Supports(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// Fetcher is the uniform per-provider adapter contract. The manager passes
// the code already normalized for this provider's scheme; session is nil
// for stateless providers. Failures are returned as *FetchError values,
// never panics, so the fallback loop can treat them as routine data.
type Fetcher interface {
	Descriptor() ProviderDescriptor
	Fetch(ctx context.Context, req FetchRequest, code string, session *SessionHandle) (*FetchResult, error)
}
