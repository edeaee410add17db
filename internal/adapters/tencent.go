package adapters

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"
)

// TencentFetcher scrapes qt.gtimg.cn realtime quote lines. The payload is
// a GBK-encoded pseudo-JS assignment per code:
//
//	v_sh600519="1~贵州茅台~600519~1700.01~1690.00~1692.00~...";
//
// with tilde-separated positional fields. Quote-only; history is not
// served on this endpoint.
type TencentFetcher struct {
	baseURL     string
	priority    int
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	logger      *zap.Logger
}

// TencentConfig holds tencent-specific settings.
type TencentConfig struct {
	Enabled            bool   `yaml:"enabled"`
	BaseURL            string `yaml:"base_url"`
	Priority           int    `yaml:"priority"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	TimeoutSeconds     int    `yaml:"timeout_seconds"`
}

func NewTencentFetcher(cfg TencentConfig, logger *zap.Logger) *TencentFetcher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://qt.gtimg.cn"
	}
	if cfg.RateLimitPerMinute <= 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TencentFetcher{
		baseURL:     cfg.BaseURL,
		priority:    cfg.Priority,
		httpClient:  &http.Client{Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second},
		rateLimiter: rate.NewLimiter(rate.Limit(float64(cfg.RateLimitPerMinute)/60), 1),
		logger:      logger,
	}
}

func (t *TencentFetcher) Descriptor() ProviderDescriptor {
	return ProviderDescriptor{
		Name:         "tencent",
		Priority:     t.priority,
		Capabilities: []Capability{RealtimeQuote},
	}
}

var tencentLineRe = regexp.MustCompile(`v_(\w+)="(.+)"`)

func (t *TencentFetcher) Fetch(ctx context.Context, req FetchRequest, code string, _ *SessionHandle) (*FetchResult, error) {
	if req.Capability != RealtimeQuote {
		return nil, NewSchemaMismatchError("tencent", fmt.Sprintf("unsupported capability %s", req.Capability), nil)
	}

	if err := t.rateLimiter.Wait(ctx); err != nil {
		return nil, NewTransportError("tencent", "rate limiter wait cancelled", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+"/q="+code, nil)
	if err != nil {
		return nil, NewTransportError("tencent", "failed to create request", err)
	}
	httpReq.Header.Set("User-Agent", scraperUserAgent)

	httpResp, err := t.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransportError("tencent", "request failed", err)
	}
	defer httpResp.Body.Close()

	switch httpResp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return nil, NewRateLimitedError("tencent", "HTTP 429")
	case http.StatusForbidden:
		return nil, NewBannedError("tencent", "HTTP 403")
	default:
		return nil, NewTransportError("tencent", fmt.Sprintf("HTTP %d", httpResp.StatusCode), nil)
	}

	body, err := io.ReadAll(transform.NewReader(httpResp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, NewTransportError("tencent", "failed to read response", err)
	}

	quotes := make([]Quote, 0, 1)
	for _, line := range strings.Split(strings.TrimSpace(string(body)), ";") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		m := tencentLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		// unknown codes come back as v_pv_none_match="1"
		if m[1] == "pv_none_match" {
			continue
		}
		q, err := parseTencentQuote(m[1], m[2])
		if err != nil {
			return nil, NewSchemaMismatchError("tencent", "malformed quote line", err)
		}
		quotes = append(quotes, q)
	}
	if len(quotes) == 0 {
		return &FetchResult{}, nil
	}
	return &FetchResult{Quotes: quotes}, nil
}

// parseTencentQuote decodes one tilde-separated record. Positions, per the
// vendor's de-facto format: 1 name, 2 code, 3 last, 4 prevClose, 5 open,
// 6 volume(lots), 30 timestamp, 31 change, 32 pct, 33 high, 34 low,
// 37 amount(10k CNY).
func parseTencentQuote(tagged, record string) (Quote, error) {
	fields := strings.Split(record, "~")
	if len(fields) < 38 {
		return Quote{}, fmt.Errorf("record for %s has %d fields, want >=38", tagged, len(fields))
	}

	num := func(i int) float64 {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0
		}
		return v
	}

	ts := time.Now()
	if parsed, err := time.ParseInLocation("20060102150405", fields[30], time.Local); err == nil {
		ts = parsed
	}

	// strip the sh/sz/bj tag off the re-tagged code
	canonical := FromCanonical(tagged)

	return Quote{
		Code:      canonical.Code(),
		Name:      fields[1],
		Last:      num(3),
		PrevClose: num(4),
		Open:      num(5),
		Volume:    int64(num(6) * 100),
		PctChange: num(32),
		High:      num(33),
		Low:       num(34),
		Amount:    num(37) * 10000,
		Timestamp: ts,
	}, nil
}
