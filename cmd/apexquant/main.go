// ApexQuant — a simulated A-share exchange for strategy backtesting.
//
// Architecture:
//
//	cmd/apexquant        — CLI: backtest (CSV replay or history fetch), serve (live paper trading)
//	internal/exchange    — exchange core: order lifecycle, matching entry points, registries
//	internal/account     — account ledger: cash buckets, positions, T+1 settlement
//	internal/match       — matcher (pricing, price limits, slippage, fees) and limit queues
//	internal/market      — latest-quote cache per symbol
//	internal/risk        — host-side pre-trade gate (halts, notional, weight, daily loss)
//	internal/feed        — tick sources: CSV replay, HTTP history client, WebSocket live feed
//	internal/strategy    — strategy interface plus the moving-average reference strategy
//	internal/backtest    — run engine wiring feed -> exchange -> strategy -> journal
//	internal/store       — SQLite journal of runs, orders, trades, equity curves
//	internal/api         — read-only dashboard (HTTP snapshot + WebSocket push)
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/link-light/apexquant/internal/api"
	"github.com/link-light/apexquant/internal/backtest"
	"github.com/link-light/apexquant/internal/calendar"
	"github.com/link-light/apexquant/internal/config"
	"github.com/link-light/apexquant/internal/exchange"
	"github.com/link-light/apexquant/internal/feed"
	"github.com/link-light/apexquant/internal/risk"
	"github.com/link-light/apexquant/internal/store"
	"github.com/link-light/apexquant/internal/strategy"
	"github.com/link-light/apexquant/pkg/types"
)

var (
	cfgPath string

	dataPath  string
	symbols   []string
	startDate int
	endDate   int
	maShort   int
	maLong    int
	maLots    int64
)

func main() {
	root := &cobra.Command{
		Use:           "apexquant",
		Short:         "Simulated A-share exchange for strategy backtesting",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "configs/config.yaml", "config file path")

	backtestCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay ticks through the simulated exchange",
		RunE:  runBacktest,
	}
	backtestCmd.Flags().StringVar(&dataPath, "data", "", "tick CSV to replay (overrides config)")
	backtestCmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to fetch when no CSV is given")
	backtestCmd.Flags().IntVar(&startDate, "start", 0, "first date to fetch, YYYYMMDD")
	backtestCmd.Flags().IntVar(&endDate, "end", 0, "last date to fetch, YYYYMMDD")
	backtestCmd.Flags().IntVar(&maShort, "ma-short", 5, "short moving-average window")
	backtestCmd.Flags().IntVar(&maLong, "ma-long", 20, "long moving-average window")
	backtestCmd.Flags().Int64Var(&maLots, "ma-lots", 1, "lots per entry (x100 shares)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Paper-trade a live tick feed with the dashboard",
		RunE:  runServe,
	}
	serveCmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to subscribe")

	root.AddCommand(backtestCmd, serveCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads config and builds the common component stack.
func setup() (*config.Config, *slog.Logger, *backtest.Engine, *exchange.Exchange, *store.Store, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg.Logging)

	ex, err := exchange.New(exchange.Params{
		AccountID:       cfg.Account.AccountID,
		InitialCapital:  cfg.Account.InitialCapital,
		CommissionRate:  cfg.Account.CommissionRate,
		SlippageRate:    cfg.Account.SlippageRate,
		PriceCeiling:    cfg.Exchange.PriceCeiling,
		CheckPriceLimit: cfg.Exchange.CheckPriceLimit,
		Seed:            cfg.Exchange.Seed,
	}, logger)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	journal, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, nil, nil, nil, err
	}

	gate := risk.NewGate(cfg.Risk, ex, logger)
	strat := strategy.NewMACross(maShort, maLong, maLots)
	eng := backtest.New(ex, gate, strat, journal, logger)
	return cfg, logger, eng, ex, journal, nil
}

func runBacktest(cmd *cobra.Command, _ []string) error {
	cfg, logger, eng, _, journal, err := setup()
	if err != nil {
		return err
	}
	defer journal.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	csvPath := dataPath
	if csvPath == "" {
		csvPath = cfg.Data.CSVPath
	}

	var summary backtest.Summary
	if csvPath != "" {
		summary, err = eng.Run(ctx, csvPath)
	} else {
		summary, err = fetchAndRun(ctx, cfg, logger, eng)
	}
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d ticks, %d trades, final assets %.2f (%+.2f%%)\n",
		summary.RunID, summary.Ticks, summary.Trades, summary.FinalAssets, summary.ReturnPct)
	return nil
}

// fetchAndRun downloads ticks from the history service for every trading
// day in [start, end] and replays them.
func fetchAndRun(ctx context.Context, cfg *config.Config, logger *slog.Logger, eng *backtest.Engine) (backtest.Summary, error) {
	if len(symbols) == 0 || startDate == 0 || endDate == 0 {
		return backtest.Summary{}, fmt.Errorf("either a tick CSV or --symbols/--start/--end is required")
	}
	if cfg.Data.HistoryBaseURL == "" {
		return backtest.Summary{}, fmt.Errorf("data.history_base_url is not configured")
	}

	client := feed.NewClient(cfg.Data)
	cal := calendar.New()

	var ticks []types.TickSnapshot
	for date := startDate; date <= endDate; date = cal.NextTradingDay(date) {
		if !cal.IsTradingDay(date) {
			continue
		}
		for _, sym := range symbols {
			dayTicks, err := client.FetchTicks(ctx, sym, date)
			if err != nil {
				return backtest.Summary{}, fmt.Errorf("fetch %s %d: %w", sym, date, err)
			}
			ticks = append(ticks, dayTicks...)
		}
		logger.Info("fetched day", "date", date, "ticks_total", len(ticks))
	}

	return eng.RunTicks(ctx, ticks)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, eng, ex, journal, err := setup()
	if err != nil {
		return err
	}
	defer journal.Close()

	if len(symbols) == 0 {
		return fmt.Errorf("--symbols is required")
	}
	if cfg.Data.WSURL == "" {
		return fmt.Errorf("data.ws_url is not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, ex, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	ws := feed.NewWSFeed(cfg.Data.WSURL, logger)
	defer ws.Close()

	logger.Info("paper trading started", "symbols", strings.Join(symbols, ","))
	summary, err := eng.RunLive(ctx, ws, symbols)

	if apiServer != nil {
		if stopErr := apiServer.Stop(); stopErr != nil {
			logger.Error("failed to stop dashboard", "error", stopErr)
		}
	}
	if err != nil {
		return err
	}

	fmt.Printf("run %s: %d ticks, %d trades, final assets %.2f (%+.2f%%)\n",
		summary.RunID, summary.Ticks, summary.Trades, summary.FinalAssets, summary.ReturnPct)
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
