package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/quantmuse/marketdata/internal/adapters"
	"github.com/quantmuse/marketdata/internal/config"
	"github.com/quantmuse/marketdata/internal/logging"
	"github.com/quantmuse/marketdata/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to yaml config (optional)")
		code       = flag.String("code", "", "stock code, e.g. 600519")
		capability = flag.String("capability", "daily", "daily | quote | statement")
		start      = flag.String("start", "", "start date YYYY-MM-DD (daily)")
		end        = flag.String("end", "", "end date YYYY-MM-DD (daily)")
		adjust     = flag.String("adjust", "qfq", "qfq | hfq | none (daily)")
		year       = flag.Int("year", 0, "report year (statement)")
		quarter    = flag.Int("quarter", 0, "report quarter 1-4 (statement)")
		timeout    = flag.Duration("timeout", 60*time.Second, "overall deadline")
		save       = flag.Bool("save", false, "persist result to the configured store")
		asJSON     = flag.Bool("json", false, "print rows as JSON")
	)
	flag.Parse()

	if *code == "" {
		fmt.Fprintln(os.Stderr, "usage: fetch -code 600519 [-capability daily|quote|statement] ...")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	mgr := adapters.BuildManager(cfg.Fetch, logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	// sessions are released even when callers forget; this is the
	// teardown half of that guarantee
	defer mgr.Sessions().CloseAll(context.Background())

	req, err := buildRequest(*capability, *code, *start, *end, *adjust, *year, *quarter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	res, err := mgr.Fetch(ctx, req)
	if err != nil {
		var exhausted *adapters.ExhaustedError
		if errors.As(err, &exhausted) {
			fmt.Fprintf(os.Stderr, "all providers failed for %s %s:\n", req.Capability, *code)
			for i, a := range exhausted.Attempts {
				fmt.Fprintf(os.Stderr, "  %d. %-10s %-18s %s\n", i+1, a.Provider, a.Kind, a.Message)
			}
		} else {
			fmt.Fprintf(os.Stderr, "fetch failed: %v\n", err)
		}
		os.Exit(1)
	}

	printResult(res, *asJSON)
	logger.Debug("provider stats", zap.Any("stats", mgr.Stats()))

	if *save {
		if err := persist(ctx, cfg.Store, logger, req, res); err != nil {
			logger.Error("persist failed", zap.Error(err))
			os.Exit(1)
		}
	}
}

func buildRequest(capability, code, start, end, adjust string, year, quarter int) (adapters.FetchRequest, error) {
	id := adapters.FromCanonical(code)
	switch capability {
	case "daily":
		if start == "" || end == "" {
			return adapters.FetchRequest{}, fmt.Errorf("daily requires -start and -end")
		}
		mode := adapters.AdjustNone
		switch adjust {
		case "qfq":
			mode = adapters.AdjustForward
		case "hfq":
			mode = adapters.AdjustBackward
		}
		return adapters.FetchRequest{
			Capability: adapters.DailyHistory,
			Code:       id,
			StartDate:  start,
			EndDate:    end,
			Adjust:     mode,
		}, nil
	case "quote":
		return adapters.FetchRequest{Capability: adapters.RealtimeQuote, Code: id}, nil
	case "statement":
		if year == 0 || quarter < 1 || quarter > 4 {
			return adapters.FetchRequest{}, fmt.Errorf("statement requires -year and -quarter 1..4")
		}
		return adapters.FetchRequest{
			Capability: adapters.FinancialStatement,
			Code:       id,
			Year:       year,
			Quarter:    quarter,
		}, nil
	default:
		return adapters.FetchRequest{}, fmt.Errorf("unknown capability %q", capability)
	}
}

func printResult(res *adapters.FetchResult, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
		return
	}

	fmt.Printf("provider: %s, rows: %d\n", res.Provider, res.RowCount())
	for _, b := range res.Bars {
		fmt.Printf("%s  o=%.2f h=%.2f l=%.2f c=%.2f pc=%.2f vol=%d amt=%.0f pct=%.2f%%\n",
			b.Date, b.Open, b.High, b.Low, b.Close, b.PrevClose, b.Volume, b.Amount, b.PctChange)
	}
	for _, q := range res.Quotes {
		fmt.Printf("%s %s  last=%.2f pc=%.2f o=%.2f h=%.2f l=%.2f vol=%d pct=%.2f%% @ %s\n",
			q.Code, q.Name, q.Last, q.PrevClose, q.Open, q.High, q.Low, q.Volume, q.PctChange,
			q.Timestamp.Format("15:04:05"))
	}
	for _, st := range res.Statements {
		fmt.Printf("%s %dQ%d (published %s): %d metrics\n",
			st.ReportType, st.Year, st.Quarter, st.PublishDate, len(st.Metrics))
	}
}

func persist(ctx context.Context, cfg store.Config, logger *zap.Logger, req adapters.FetchRequest, res *adapters.FetchResult) error {
	if cfg.DSN == "" {
		return fmt.Errorf("-save requires store.dsn in config")
	}
	st, err := store.Open(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		return err
	}
	if len(res.Bars) > 0 {
		return st.SaveDailyBars(ctx, req.Code.Code(), res.Provider, res.Bars)
	}
	if len(res.Quotes) > 0 {
		return st.SaveQuotes(ctx, res.Provider, res.Quotes)
	}
	return nil
}
