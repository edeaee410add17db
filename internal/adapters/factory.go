package adapters

import (
	"os"
	"time"

	"go.uber.org/zap"
)

// FetchConfig is the yaml-facing configuration for the whole fetch layer.
type FetchConfig struct {
	ThrottleBaseSeconds int `yaml:"throttle_base_seconds"`
	ThrottleMaxSeconds  int `yaml:"throttle_max_seconds"`

	Tushare   TushareConfig   `yaml:"tushare"`
	Baostock  BaostockConfig  `yaml:"baostock"`
	Eastmoney EastmoneyConfig `yaml:"eastmoney"`
	Tencent   TencentConfig   `yaml:"tencent"`
}

// ApplyDefaults fills a zero-value config with the standard provider
// roster: tushare first when a token is present, then baostock, then the
// scraping endpoints.
func (c *FetchConfig) ApplyDefaults() {
	if c.ThrottleBaseSeconds <= 0 {
		c.ThrottleBaseSeconds = 30
	}
	if c.ThrottleMaxSeconds <= 0 {
		c.ThrottleMaxSeconds = 600
	}
	if c.Tushare.TokenEnv == "" {
		c.Tushare.TokenEnv = "TUSHARE_TOKEN"
	}
	if !c.Tushare.Enabled && !c.Baostock.Enabled && !c.Eastmoney.Enabled && !c.Tencent.Enabled {
		c.Tushare.Enabled = true
		c.Baostock.Enabled = true
		c.Eastmoney.Enabled = true
		c.Tencent.Enabled = true
		c.Tushare.Priority = 0
		c.Baostock.Priority = 1
		c.Eastmoney.Priority = 2
		c.Tencent.Priority = 3
	}
}

// BuildManager assembles the fetch manager from config. Providers whose
// credential requirement is unmet are not registered at all, so they never
// appear in any fallback chain or failure trail.
func BuildManager(cfg FetchConfig, logger *zap.Logger) *FetchManager {
	if logger == nil {
		logger = zap.NewNop()
	}

	throttle := NewThrottleGuard(
		time.Duration(cfg.ThrottleBaseSeconds)*time.Second,
		time.Duration(cfg.ThrottleMaxSeconds)*time.Second,
		logger,
	)
	sessions := NewSessionRegistry(logger)
	m := NewFetchManager(logger, throttle, sessions)

	if cfg.Tushare.Enabled {
		token := os.Getenv(cfg.Tushare.TokenEnv)
		if token == "" {
			logger.Warn("tushare not registered: no token configured",
				zap.String("token_env", cfg.Tushare.TokenEnv))
		} else if f, err := NewTushareFetcher(token, cfg.Tushare, logger); err != nil {
			logger.Warn("tushare not registered", zap.Error(err))
		} else {
			m.Register(f)
		}
	}

	if cfg.Baostock.Enabled {
		f := NewBaostockFetcher(cfg.Baostock, logger)
		sessions.RegisterDialer("baostock", f)
		m.Register(f)
	}

	if cfg.Eastmoney.Enabled {
		m.Register(NewEastmoneyFetcher(cfg.Eastmoney, logger))
	}

	if cfg.Tencent.Enabled {
		m.Register(NewTencentFetcher(cfg.Tencent, logger))
	}

	return m
}
