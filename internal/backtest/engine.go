// Package backtest wires the feed, strategy, exchange core, risk gate and
// journal store into a runnable simulation.
//
// Tick flow per snapshot: the exchange consumes the tick first (limit-queue
// drains, pending matches, mark-to-market), the gate observes the resulting
// equity, then the strategy reacts through the gated trader. A date
// rollover between ticks triggers the exchange's daily settlement, the
// gate's daily reset, and an equity journal entry for the closed day.
package backtest

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/link-light/apexquant/internal/exchange"
	"github.com/link-light/apexquant/internal/feed"
	"github.com/link-light/apexquant/internal/risk"
	"github.com/link-light/apexquant/internal/store"
	"github.com/link-light/apexquant/internal/strategy"
	"github.com/link-light/apexquant/pkg/types"
)

// Summary is the result of a completed run.
type Summary struct {
	RunID       string
	Ticks       int
	Trades      int
	FinalAssets float64
	ReturnPct   float64
	RealizedPnL float64
}

// Engine drives one simulation run.
type Engine struct {
	ex      *exchange.Exchange
	gate    *risk.Gate
	strat   strategy.Strategy
	journal *store.Store
	logger  *slog.Logger

	runID      string
	initial    float64
	ticks      int
	savedTrade int // trades already journaled
	lastDate   int
}

// New creates an engine. The journal may be nil to run without persistence.
func New(ex *exchange.Exchange, gate *risk.Gate, strat strategy.Strategy, journal *store.Store, logger *slog.Logger) *Engine {
	return &Engine{
		ex:      ex,
		gate:    gate,
		strat:   strat,
		journal: journal,
		logger:  logger.With("component", "backtest"),
	}
}

// gatedTrader applies the risk gate in front of the exchange. It is the
// Trader handed to strategies.
type gatedTrader struct {
	ex   *exchange.Exchange
	gate *risk.Gate
	now  int64 // current feed time, for the cancel-window check
}

func (t *gatedTrader) SubmitOrder(order types.Order) (string, error) {
	if err := t.gate.CheckOrder(order); err != nil {
		return "", fmt.Errorf("risk gate: %w", err)
	}
	return t.ex.SubmitOrder(order)
}

func (t *gatedTrader) CancelOrder(orderID string) bool {
	if err := t.gate.CheckCancel(t.now); err != nil {
		return false
	}
	return t.ex.CancelOrder(orderID)
}

func (t *gatedTrader) GetPosition(symbol string) (types.Position, bool) {
	return t.ex.GetPosition(symbol)
}

func (t *gatedTrader) AvailableCash() float64 { return t.ex.AvailableCash() }

// Run replays ticks from the CSV at path and returns the run summary.
func (e *Engine) Run(ctx context.Context, csvPath string) (Summary, error) {
	if err := e.begin(); err != nil {
		return Summary{}, err
	}

	err := feed.ReplayCSV(csvPath, func(tick types.TickSnapshot) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.step(tick)
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("backtest run: %w", err)
	}
	return e.finish()
}

// RunTicks replays an in-memory tick slice, e.g. one fetched from the
// history service.
func (e *Engine) RunTicks(ctx context.Context, ticks []types.TickSnapshot) (Summary, error) {
	if err := e.begin(); err != nil {
		return Summary{}, err
	}
	for _, tick := range ticks {
		if err := ctx.Err(); err != nil {
			return Summary{}, fmt.Errorf("backtest run: %w", err)
		}
		e.step(tick)
	}
	return e.finish()
}

// RunLive consumes ticks from a WebSocket feed until ctx is cancelled.
func (e *Engine) RunLive(ctx context.Context, ws *feed.WSFeed, symbols []string) (Summary, error) {
	if err := e.begin(); err != nil {
		return Summary{}, err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := ws.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := ws.Subscribe(symbols); err != nil {
			e.logger.Warn("initial subscribe failed, will retry on connect", "error", err)
		}
		for {
			select {
			case <-ctx.Done():
				return nil
			case tick := <-ws.Ticks():
				e.step(tick)
			}
		}
	})

	if err := g.Wait(); err != nil {
		return Summary{}, fmt.Errorf("live run: %w", err)
	}
	return e.finish()
}

func (e *Engine) begin() error {
	e.initial = e.ex.TotalAssets()
	if e.journal == nil {
		return nil
	}
	runID, err := e.journal.CreateRun(e.initial)
	if err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	e.runID = runID
	e.logger.Info("run started", "run_id", runID, "initial_capital", e.initial)
	return nil
}

// step processes one tick end to end.
func (e *Engine) step(tick types.TickSnapshot) {
	date := exchange.DateOf(tick.Timestamp)
	if e.lastDate != 0 && date > e.lastDate {
		e.rollover(date)
	}
	e.lastDate = date

	e.ex.OnTick(tick)
	e.gate.ObserveEquity(e.ex.TotalAssets())
	e.strat.OnTick(&gatedTrader{ex: e.ex, gate: e.gate, now: tick.Timestamp}, tick)

	e.ticks++
	e.journalNewTrades()
}

// rollover settles the day that just ended and journals its equity.
func (e *Engine) rollover(newDate int) {
	e.saveEquity(e.lastDate)
	e.ex.DailySettlement(newDate)
	e.gate.ResetDaily()
}

func (e *Engine) journalNewTrades() {
	if e.journal == nil {
		return
	}
	trades := e.ex.TradeHistory()
	for ; e.savedTrade < len(trades); e.savedTrade++ {
		if err := e.journal.SaveTrade(e.runID, trades[e.savedTrade]); err != nil {
			e.logger.Error("journal trade failed", "error", err)
		}
	}
}

func (e *Engine) saveEquity(date int) {
	if e.journal == nil || date == 0 {
		return
	}
	snap := e.ex.AccountSnapshot()
	point := store.EquityPoint{
		Date:             date,
		TotalAssets:      snap.TotalAssets,
		AvailableCash:    snap.AvailableCash,
		WithdrawableCash: snap.WithdrawableCash,
		RealizedPnL:      snap.RealizedPnL,
	}
	if err := e.journal.SaveEquity(e.runID, point); err != nil {
		e.logger.Error("journal equity failed", "error", err)
	}
}

// finish journals the final day and the orders that traded or are still
// pending, then summarizes. Orders rejected or cancelled without a trade are
// not journaled.
func (e *Engine) finish() (Summary, error) {
	e.saveEquity(e.lastDate)

	snap := e.ex.AccountSnapshot()
	trades := e.ex.TradeHistory()

	if e.journal != nil {
		for _, order := range e.allOrders() {
			if err := e.journal.SaveOrder(e.runID, order); err != nil {
				e.logger.Error("journal order failed", "error", err)
			}
		}
	}

	summary := Summary{
		RunID:       e.runID,
		Ticks:       e.ticks,
		Trades:      len(trades),
		FinalAssets: snap.TotalAssets,
		RealizedPnL: snap.RealizedPnL,
	}
	if e.initial > 0 {
		summary.ReturnPct = (snap.TotalAssets - e.initial) / e.initial * 100
	}
	e.logger.Info("run finished",
		"run_id", e.runID,
		"ticks", summary.Ticks,
		"trades", summary.Trades,
		"final_assets", summary.FinalAssets,
		"return_pct", summary.ReturnPct,
	)
	return summary, nil
}

// allOrders walks every trade and pending order back to order records.
func (e *Engine) allOrders() []types.Order {
	seen := make(map[string]bool)
	var out []types.Order
	for _, tr := range e.ex.TradeHistory() {
		if seen[tr.OrderID] {
			continue
		}
		seen[tr.OrderID] = true
		if order, ok := e.ex.GetOrder(tr.OrderID); ok {
			out = append(out, order)
		}
	}
	for _, order := range e.ex.PendingOrders("") {
		if !seen[order.OrderID] {
			seen[order.OrderID] = true
			out = append(out, order)
		}
	}
	return out
}
