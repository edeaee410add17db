package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const tushareDefaultURL = "https://api.tushare.pro"

// TushareFetcher adapts the TuShare Pro JSON API. The API is stateless but
// requires a token; without one the provider is unusable and must not be
// constructed.
type TushareFetcher struct {
	token       string
	baseURL     string
	priority    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// TushareConfig holds TuShare-specific settings.
type TushareConfig struct {
	Enabled            bool   `yaml:"enabled"`
	TokenEnv           string `yaml:"token_env"`
	BaseURL            string `yaml:"base_url"`
	Priority           int    `yaml:"priority"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

func NewTushareFetcher(token string, cfg TushareConfig, logger *zap.Logger) (*TushareFetcher, error) {
	if token == "" {
		return nil, NewCredentialMissingError("tushare", "token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = tushareDefaultURL
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60 // free-tier points allow ~1/s sustained
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TushareFetcher{
		token:       token,
		baseURL:     cfg.BaseURL,
		priority:    cfg.Priority,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		logger:      logger,
	}, nil
}

func (t *TushareFetcher) Descriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name:               "tushare",
		Priority:           t.priority,
		Capabilities:       []Capability{DailyHistory, FinancialStatement},
		Stateful:           false,
		RequiresCredential: true,
	}
}

func (t *TushareFetcher) Fetch(ctx context.Context, req FetchRequest, code string, _ *SessionHandle) (*FetchResult, error) {
	switch req.Capability {
	case DailyHistory:
		return t.fetchDaily(ctx, req, code)
	case FinancialStatement:
		return t.fetchIncome(ctx, req, code)
	default:
		return nil, NewSchemaMismatchError("tushare", fmt.Sprintf("unsupported capability %s", req.Capability), nil)
	}
}

// tushareEnvelope is the request body the Pro API expects.
type tushareEnvelope struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type tushareResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string          `json:"fields"`
		Items  [][]json.RawMessage `json:"items"`
	} `json:"data"`
}

func (t *TushareFetcher) fetchDaily(ctx context.Context, req FetchRequest, code string) (*FetchResult, error) {
	resp, err := t.call(ctx, tushareEnvelope{
		APIName: "daily",
		Token:   t.token,
		Params: map[string]string{
			"ts_code":    code,
			"start_date": compactDate(req.StartDate),
			"end_date":   compactDate(req.EndDate),
		},
		Fields: "ts_code,trade_date,open,high,low,close,pre_close,pct_chg,vol,amount",
	})
	if err != nil {
		return nil, err
	}

	idx := fieldIndex(resp.Data.Fields)
	bars := make([]DailyBar, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		row, err := tushareRow(idx, item)
		if err != nil {
			return nil, NewSchemaMismatchError("tushare", "daily row did not match expected fields", err)
		}
		// vol is in lots, amount in thousand CNY
		bars = append(bars, DailyBar{
			Date:      dashedDate(row["trade_date"].str),
			Open:      row["open"].num,
			High:      row["high"].num,
			Low:       row["low"].num,
			Close:     row["close"].num,
			PrevClose: row["pre_close"].num,
			Volume:    int64(row["vol"].num * 100),
			Amount:    row["amount"].num * 1000,
			PctChange: row["pct_chg"].num,
		})
	}
	// tushare returns rows newest-first; callers expect ascending dates
	reverseBars(bars)
	return &FetchResult{Bars: bars}, nil
}

func (t *TushareFetcher) fetchIncome(ctx context.Context, req FetchRequest, code string) (*FetchResult, error) {
	resp, err := t.call(ctx, tushareEnvelope{
		APIName: "income",
		Token:   t.token,
		Params: map[string]string{
			"ts_code": code,
			"period":  quarterEndDate(req.Year, req.Quarter),
		},
		Fields: "ts_code,ann_date,end_date,total_revenue,operate_profit,total_profit,n_income,basic_eps",
	})
	if err != nil {
		return nil, err
	}

	idx := fieldIndex(resp.Data.Fields)
	rows := make([]StatementRow, 0, len(resp.Data.Items))
	for _, item := range resp.Data.Items {
		row, err := tushareRow(idx, item)
		if err != nil {
			return nil, NewSchemaMismatchError("tushare", "income row did not match expected fields", err)
		}
		rows = append(rows, StatementRow{
			ReportType:  "profit",
			Year:        req.Year,
			Quarter:     req.Quarter,
			PublishDate: dashedDate(row["ann_date"].str),
			Metrics: map[string]float64{
				"total_revenue":  row["total_revenue"].num,
				"operate_profit": row["operate_profit"].num,
				"total_profit":   row["total_profit"].num,
				"net_income":     row["n_income"].num,
				"basic_eps":      row["basic_eps"].num,
			},
		})
	}
	return &FetchResult{Statements: rows}, nil
}

func (t *TushareFetcher) call(ctx context.Context, env tushareEnvelope) (*tushareResponse, error) {
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, NewTransportError("tushare", "rate limiter wait cancelled", err)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, NewTransportError("tushare", "failed to encode request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, NewTransportError("tushare", "failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransportError("tushare", "request failed", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 512))
		return nil, NewTransportError("tushare", fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, raw), nil)
	}

	var resp tushareResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, NewSchemaMismatchError("tushare", "failed to parse response", err)
	}
	if resp.Code != 0 {
		// the Pro API signals both quota exhaustion and per-minute
		// throttling through non-zero codes with a descriptive message
		if isTushareThrottleMsg(resp.Msg) {
			return nil, NewRateLimitedError("tushare", resp.Msg)
		}
		return nil, NewTransportError("tushare", fmt.Sprintf("api error %d: %s", resp.Code, resp.Msg), nil)
	}
	return &resp, nil
}

func isTushareThrottleMsg(msg string) bool {
	for _, marker := range []string{"每分钟", "积分", "权限", "频率", "limit"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// tushareValue holds one cell as either string or number; the API mixes
// both in its positional items.
type tushareValue struct {
	str string
	num float64
}

func fieldIndex(fields []string) map[string]int {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f] = i
	}
	return idx
}

func tushareRow(idx map[string]int, item []json.RawMessage) (map[string]tushareValue, error) {
	row := make(map[string]tushareValue, len(idx))
	for field, i := range idx {
		if i >= len(item) {
			return nil, fmt.Errorf("field %s missing from item of length %d", field, len(item))
		}
		raw := item[i]
		var v tushareValue
		if len(raw) > 0 && raw[0] == '"' {
			if err := json.Unmarshal(raw, &v.str); err != nil {
				return nil, err
			}
			if n, err := strconv.ParseFloat(v.str, 64); err == nil {
				v.num = n
			}
		} else if string(raw) != "null" {
			if err := json.Unmarshal(raw, &v.num); err != nil {
				return nil, err
			}
		}
		row[field] = v
	}
	return row, nil
}

// compactDate strips dashes: 2024-01-05 -> 20240105.
func compactDate(d string) string {
	return strings.ReplaceAll(d, "-", "")
}

// dashedDate inserts dashes: 20240105 -> 2024-01-05.
func dashedDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}

// quarterEndDate maps (2024, 3) -> 20240930.
func quarterEndDate(year, quarter int) string {
	ends := map[int]string{1: "0331", 2: "0630", 3: "0930", 4: "1231"}
	return fmt.Sprintf("%d%s", year, ends[quarter])
}

func reverseBars(bars []DailyBar) {
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
}
