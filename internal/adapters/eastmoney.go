package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// EastmoneyFetcher scrapes the unauthenticated eastmoney push endpoints.
// No credential, no session, but the vendor bans clients on call volume,
// so rate-limit classification here is what feeds the throttle guard.
type EastmoneyFetcher struct {
	klineURL    string
	quoteURL    string
	priority    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// EastmoneyConfig holds eastmoney-specific settings.
type EastmoneyConfig struct {
	Enabled            bool   `yaml:"enabled"`
	KlineURL           string `yaml:"kline_url"`
	QuoteURL           string `yaml:"quote_url"`
	Priority           int    `yaml:"priority"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

func NewEastmoneyFetcher(cfg EastmoneyConfig, logger *zap.Logger) *EastmoneyFetcher {
	if cfg.KlineURL == "" {
		cfg.KlineURL = "https://push2his.eastmoney.com/api/qt/stock/kline/get"
	}
	if cfg.QuoteURL == "" {
		cfg.QuoteURL = "https://push2.eastmoney.com/api/qt/stock/get"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 30
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EastmoneyFetcher{
		klineURL:    cfg.KlineURL,
		quoteURL:    cfg.QuoteURL,
		priority:    cfg.Priority,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		logger:      logger,
	}
}

func (e *EastmoneyFetcher) Descriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name:         "eastmoney",
		Priority:     e.priority,
		Capabilities: []Capability{DailyHistory, RealtimeQuote},
	}
}

func (e *EastmoneyFetcher) Fetch(ctx context.Context, req FetchRequest, code string, _ *SessionHandle) (*FetchResult, error) {
	switch req.Capability {
	case DailyHistory:
		return e.fetchDaily(ctx, req, code)
	case RealtimeQuote:
		return e.fetchQuote(ctx, req, code)
	default:
		return nil, NewSchemaMismatchError("eastmoney", fmt.Sprintf("unsupported capability %s", req.Capability), nil)
	}
}

// secid is eastmoney's market-prefixed id: 1 for Shanghai, 0 otherwise.
func eastmoneySecID(code string) string {
	id := FromCanonical(code)
	if id.Market() == MarketShanghai {
		return "1." + id.Code()
	}
	return "0." + id.Code()
}

func eastmoneyAdjustFlag(a AdjustMode) string {
	switch a {
	case AdjustForward:
		return "1"
	case AdjustBackward:
		return "2"
	default:
		return "0"
	}
}

type eastmoneyKlineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

func (e *EastmoneyFetcher) fetchDaily(ctx context.Context, req FetchRequest, code string) (*FetchResult, error) {
	params := url.Values{
		"secid":   {eastmoneySecID(code)},
		"fields1": {"f1,f2,f3,f4,f5,f6"},
		"fields2": {"f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61"},
		"klt":     {"101"}, // daily
		"fqt":     {eastmoneyAdjustFlag(req.Adjust)},
		"beg":     {compactDate(req.StartDate)},
		"end":     {compactDate(req.EndDate)},
	}

	body, err := e.get(ctx, e.klineURL, params)
	if err != nil {
		return nil, err
	}

	var resp eastmoneyKlineResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewSchemaMismatchError("eastmoney", "failed to parse kline response", err)
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return &FetchResult{}, nil
	}

	bars := make([]DailyBar, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		bar, err := parseEastmoneyKline(line)
		if err != nil {
			return nil, NewSchemaMismatchError("eastmoney", "malformed kline", err)
		}
		bars = append(bars, bar)
	}
	// eastmoney klines carry no prev_close column; derive it from the
	// close and the change so the normalized schema is fully populated
	for i := range bars {
		if i > 0 {
			bars[i].PrevClose = bars[i-1].Close
		} else if bars[i].PctChange != 0 {
			bars[i].PrevClose = bars[i].Close / (1 + bars[i].PctChange/100)
		} else {
			bars[i].PrevClose = bars[i].Close
		}
	}
	return &FetchResult{Bars: bars}, nil
}

// kline format: date,open,close,high,low,volume,amount,amplitude,pct,change,turnover
func parseEastmoneyKline(line string) (DailyBar, error) {
	parts := strings.Split(line, ",")
	if len(parts) < 11 {
		return DailyBar{}, fmt.Errorf("kline has %d fields, want 11", len(parts))
	}
	nums := make([]float64, len(parts))
	for i := 1; i < len(parts); i++ {
		v, err := strconv.ParseFloat(parts[i], 64)
		if err != nil {
			return DailyBar{}, fmt.Errorf("field %d: %w", i, err)
		}
		nums[i] = v
	}
	return DailyBar{
		Date:      parts[0],
		Open:      nums[1],
		Close:     nums[2],
		High:      nums[3],
		Low:       nums[4],
		Volume:    int64(nums[5] * 100), // lots to shares
		Amount:    nums[6],
		PctChange: nums[8],
	}, nil
}

type eastmoneyQuoteResponse struct {
	Data *struct {
		F43  float64 `json:"f43"`  // last *100
		F44  float64 `json:"f44"`  // high *100
		F45  float64 `json:"f45"`  // low *100
		F46  float64 `json:"f46"`  // open *100
		F47  float64 `json:"f47"`  // volume (lots)
		F48  float64 `json:"f48"`  // amount (CNY)
		F57  string  `json:"f57"`  // code
		F58  string  `json:"f58"`  // name
		F60  float64 `json:"f60"`  // prev close *100
		F170 float64 `json:"f170"` // pct change *100
	} `json:"data"`
}

func (e *EastmoneyFetcher) fetchQuote(ctx context.Context, req FetchRequest, code string) (*FetchResult, error) {
	params := url.Values{
		"secid":  {eastmoneySecID(code)},
		"fields": {"f43,f44,f45,f46,f47,f48,f57,f58,f60,f170"},
	}
	body, err := e.get(ctx, e.quoteURL, params)
	if err != nil {
		return nil, err
	}

	var resp eastmoneyQuoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, NewSchemaMismatchError("eastmoney", "failed to parse quote response", err)
	}
	if resp.Data == nil || resp.Data.F43 == 0 {
		return &FetchResult{}, nil
	}

	d := resp.Data
	return &FetchResult{Quotes: []Quote{{
		Code:      req.Code.Code(),
		Name:      d.F58,
		Last:      d.F43 / 100,
		High:      d.F44 / 100,
		Low:       d.F45 / 100,
		Open:      d.F46 / 100,
		PrevClose: d.F60 / 100,
		Volume:    int64(d.F47 * 100),
		Amount:    d.F48,
		PctChange: d.F170 / 100,
		Timestamp: time.Now(),
	}}}, nil
}

func (e *EastmoneyFetcher) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := e.rateLimiter.Wait(ctx); err != nil {
		return nil, NewTransportError("eastmoney", "rate limiter wait cancelled", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewTransportError("eastmoney", "failed to create request", err)
	}
	httpReq.Header.Set("User-Agent", scraperUserAgent)

	httpResp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransportError("eastmoney", "request failed", err)
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, NewRateLimitedError("eastmoney", "HTTP 429")
	case http.StatusForbidden, http.StatusTeapot:
		// eastmoney answers 403/418 once it has decided to block a client
		return nil, NewBannedError("eastmoney", fmt.Sprintf("HTTP %d", httpResp.StatusCode))
	default:
		raw, _ := io.ReadAll(io.LimitReader(httpResp.Body, 256))
		return nil, NewTransportError("eastmoney", fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode, raw), nil)
	}

	return io.ReadAll(httpResp.Body)
}

const scraperUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
