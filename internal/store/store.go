package store

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/quantmuse/marketdata/internal/adapters"
)

// Config holds the persistence settings. An empty DSN disables the store
// entirely; the fetch core never requires it.
type Config struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_seconds"`
}

// Store persists fetched rows to Postgres. It is a consumer of fetch
// results, not part of the fallback chain; losing it loses nothing the
// fetch layer depends on.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func Open(cfg Config, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error { return s.db.Close() }

const schema = `
CREATE TABLE IF NOT EXISTS daily_bars (
	code        TEXT        NOT NULL,
	trade_date  DATE        NOT NULL,
	provider    TEXT        NOT NULL,
	open        NUMERIC     NOT NULL,
	high        NUMERIC     NOT NULL,
	low         NUMERIC     NOT NULL,
	close       NUMERIC     NOT NULL,
	prev_close  NUMERIC     NOT NULL,
	volume      BIGINT      NOT NULL,
	amount      NUMERIC     NOT NULL,
	pct_change  NUMERIC     NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (code, trade_date)
);

CREATE TABLE IF NOT EXISTS quote_snapshots (
	id          BIGSERIAL   PRIMARY KEY,
	code        TEXT        NOT NULL,
	name        TEXT        NOT NULL,
	provider    TEXT        NOT NULL,
	last        NUMERIC     NOT NULL,
	prev_close  NUMERIC     NOT NULL,
	open        NUMERIC     NOT NULL,
	high        NUMERIC     NOT NULL,
	low         NUMERIC     NOT NULL,
	volume      BIGINT      NOT NULL,
	amount      NUMERIC     NOT NULL,
	pct_change  NUMERIC     NOT NULL,
	quoted_at   TIMESTAMPTZ NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_quote_snapshots_code ON quote_snapshots (code, quoted_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const upsertBar = `
INSERT INTO daily_bars (code, trade_date, provider, open, high, low, close, prev_close, volume, amount, pct_change)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (code, trade_date) DO UPDATE SET
	provider = EXCLUDED.provider,
	open = EXCLUDED.open,
	high = EXCLUDED.high,
	low = EXCLUDED.low,
	close = EXCLUDED.close,
	prev_close = EXCLUDED.prev_close,
	volume = EXCLUDED.volume,
	amount = EXCLUDED.amount,
	pct_change = EXCLUDED.pct_change,
	fetched_at = now()`

// SaveDailyBars upserts bars keyed (code, trade_date) so re-fetching a
// range is idempotent.
func (s *Store) SaveDailyBars(ctx context.Context, code, provider string, bars []adapters.DailyBar) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, b := range bars {
		if _, err := tx.ExecContext(ctx, upsertBar,
			code, b.Date, provider,
			b.Open, b.High, b.Low, b.Close, b.PrevClose,
			b.Volume, b.Amount, b.PctChange,
		); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.logger.Info("daily bars saved",
		zap.String("code", code),
		zap.String("provider", provider),
		zap.Int("rows", len(bars)))
	return nil
}

const insertQuote = `
INSERT INTO quote_snapshots (code, name, provider, last, prev_close, open, high, low, volume, amount, pct_change, quoted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// SaveQuotes appends realtime snapshots.
func (s *Store) SaveQuotes(ctx context.Context, provider string, quotes []adapters.Quote) error {
	for _, q := range quotes {
		if _, err := s.db.ExecContext(ctx, insertQuote,
			q.Code, q.Name, provider,
			q.Last, q.PrevClose, q.Open, q.High, q.Low,
			q.Volume, q.Amount, q.PctChange, q.Timestamp,
		); err != nil {
			return err
		}
	}
	return nil
}
