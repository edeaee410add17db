package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BaostockFetcher adapts the baostock gateway, the one stateful provider:
// queries only work inside an explicit login session, so the manager
// routes it through the session registry and this type doubles as its
// SessionDialer.
type BaostockFetcher struct {
	baseURL     string
	priority    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// BaostockConfig holds baostock-specific settings.
type BaostockConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Priority           int    `yaml:"priority"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

func NewBaostockFetcher(cfg BaostockConfig, logger *zap.Logger) *BaostockFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://www.baostock.com/api"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 120
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaostockFetcher{
		baseURL:     cfg.BaseURL,
		priority:    cfg.Priority,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 2),
		logger:      logger,
	}
}

func (b *BaostockFetcher) Descriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name:         "baostock",
		Priority:     b.priority,
		Capabilities: []Capability{DailyHistory, FinancialStatement},
		Stateful:     true,
	}
}

// baostockResponse is the gateway's uniform reply shape; error_code "0"
// means success, anything else carries error_msg.
type baostockResponse struct {
	ErrorCode string     `json:"error_code"`
	ErrorMsg  string     `json:"error_msg"`
	Token     string     `json:"token,omitempty"`
	Fields    []string   `json:"fields,omitempty"`
	Data      [][]string `json:"data,omitempty"`
}

// Login implements SessionDialer. An explicit rejection is AuthFailure;
// failure to reach the gateway at all is AuthUnavailable.
func (b *BaostockFetcher) Login(ctx context.Context) (*SessionHandle, error) {
	resp, err := b.post(ctx, "/login", url.Values{})
	if err != nil {
		return nil, NewAuthUnavailableError("baostock", "login transport error", err)
	}
	if resp.ErrorCode != "0" {
		return nil, NewAuthFailureError("baostock", fmt.Sprintf("login rejected: %s", resp.ErrorMsg))
	}
	return &SessionHandle{
		Provider:      "baostock",
		Token:         resp.Token,
		EstablishedAt: time.Now(),
	}, nil
}

// Logout implements SessionDialer.
func (b *BaostockFetcher) Logout(ctx context.Context, h *SessionHandle) error {
	resp, err := b.post(ctx, "/logout", url.Values{"token": {h.Token}})
	if err != nil {
		return err
	}
	if resp.ErrorCode != "0" {
		return fmt.Errorf("logout rejected: %s", resp.ErrorMsg)
	}
	return nil
}

func (b *BaostockFetcher) Fetch(ctx context.Context, req FetchRequest, code string, session *SessionHandle) (*FetchResult, error) {
	if session == nil {
		return nil, NewAuthUnavailableError("baostock", "no active session", nil)
	}
	switch req.Capability {
	case DailyHistory:
		return b.fetchDaily(ctx, req, code, session)
	case FinancialStatement:
		return b.fetchStatements(ctx, req, code, session)
	default:
		return nil, NewSchemaMismatchError("baostock", fmt.Sprintf("unsupported capability %s", req.Capability), nil)
	}
}

func (b *BaostockFetcher) fetchDaily(ctx context.Context, req FetchRequest, code string, session *SessionHandle) (*FetchResult, error) {
	resp, err := b.query(ctx, "/query_history_k_data_plus", url.Values{
		"token":      {session.Token},
		"code":       {code},
		"fields":     {"date,code,open,high,low,close,preclose,volume,amount,pctChg"},
		"start_date": {req.StartDate},
		"end_date":   {req.EndDate},
		"frequency":  {"d"},
		"adjustflag": {baostockAdjustFlag(req.Adjust)},
	})
	if err != nil {
		return nil, err
	}

	idx := fieldIndex(resp.Fields)
	bars := make([]DailyBar, 0, len(resp.Data))
	for _, rec := range resp.Data {
		bar, err := baostockBar(idx, rec)
		if err != nil {
			return nil, NewSchemaMismatchError("baostock", "k-data row did not match expected fields", err)
		}
		bars = append(bars, bar)
	}
	return &FetchResult{Bars: bars}, nil
}

func (b *BaostockFetcher) fetchStatements(ctx context.Context, req FetchRequest, code string, session *SessionHandle) (*FetchResult, error) {
	endpoints := []struct {
		path       string
		reportType string
	}{
		{"/query_profit_data", "profit"},
		{"/query_balance_data", "balance"},
		{"/query_cash_flow_data", "cashflow"},
	}

	params := url.Values{
		"token":   {session.Token},
		"code":    {code},
		"year":    {strconv.Itoa(req.Year)},
		"quarter": {strconv.Itoa(req.Quarter)},
	}

	// the legacy behavior: any report that comes back populated makes the
	// result usable; a report the vendor has nothing for is not a failure
	rows := make([]StatementRow, 0, len(endpoints))
	for _, ep := range endpoints {
		resp, err := b.query(ctx, ep.path, params)
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			continue
		}
		metrics := make(map[string]float64)
		publish := ""
		idx := fieldIndex(resp.Fields)
		rec := resp.Data[0]
		for field, i := range idx {
			if i >= len(rec) {
				continue
			}
			switch field {
			case "code", "statDate":
				// identity columns, not metrics
			case "pubDate":
				publish = rec[i]
			default:
				if v, err := strconv.ParseFloat(rec[i], 64); err == nil {
					metrics[field] = v
				}
			}
		}
		rows = append(rows, StatementRow{
			ReportType:  ep.reportType,
			Year:        req.Year,
			Quarter:     req.Quarter,
			PublishDate: publish,
			Metrics:     metrics,
		})
	}
	return &FetchResult{Statements: rows}, nil
}

// query wraps post and maps gateway errors onto the fetch taxonomy.
func (b *BaostockFetcher) query(ctx context.Context, path string, params url.Values) (*baostockResponse, error) {
	resp, err := b.post(ctx, path, params)
	if err != nil {
		return nil, NewTransportError("baostock", "query transport error", err)
	}
	if resp.ErrorCode != "0" {
		return nil, NewTransportError("baostock", fmt.Sprintf("query error %s: %s", resp.ErrorCode, resp.ErrorMsg), nil)
	}
	return resp, nil
}

func (b *BaostockFetcher) post(ctx context.Context, path string, params url.Values) (*baostockResponse, error) {
	if err := b.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	httpReq.URL.RawQuery = params.Encode()

	httpResp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, fmt.Errorf("HTTP %d: %s", httpResp.StatusCode, raw)
	}
	var resp baostockResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func baostockAdjustFlag(a AdjustMode) string {
	switch a {
	case AdjustForward:
		return "2"
	case AdjustBackward:
		return "1"
	default:
		return "3"
	}
}

func baostockBar(idx map[string]int, rec []string) (DailyBar, error) {
	get := func(field string) (string, error) {
		i, ok := idx[field]
		if !ok || i >= len(rec) {
			return "", fmt.Errorf("missing field %s", field)
		}
		return rec[i], nil
	}
	num := func(field string) (float64, error) {
		s, err := get(field)
		if err != nil {
			return 0, err
		}
		if s == "" {
			return 0, nil
		}
		return strconv.ParseFloat(s, 64)
	}

	date, err := get("date")
	if err != nil {
		return DailyBar{}, err
	}
	open, err := num("open")
	if err != nil {
		return DailyBar{}, err
	}
	high, err := num("high")
	if err != nil {
		return DailyBar{}, err
	}
	low, err := num("low")
	if err != nil {
		return DailyBar{}, err
	}
	closing, err := num("close")
	if err != nil {
		return DailyBar{}, err
	}
	preclose, err := num("preclose")
	if err != nil {
		return DailyBar{}, err
	}
	volume, err := num("volume")
	if err != nil {
		return DailyBar{}, err
	}
	amount, err := num("amount")
	if err != nil {
		return DailyBar{}, err
	}
	pct, err := num("pctChg")
	if err != nil {
		return DailyBar{}, err
	}

	// baostock volume is already in shares and amount in CNY
	return DailyBar{
		Date:      date,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closing,
		PrevClose: preclose,
		Volume:    int64(volume),
		Amount:    amount,
		PctChange: pct,
	}, nil
}
