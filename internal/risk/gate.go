// Package risk implements the host-side pre-trade gate.
//
// The exchange core trusts its inputs: it does not know about halted
// symbols, the call-auction cancel freeze, or portfolio-level limits. The
// gate sits in front of Exchange.SubmitOrder / CancelOrder and answers
// those questions before an order ever reaches the core:
//
//   - Halted symbols:   orders for suspended symbols are refused outright.
//   - Cancel windows:   cancels are blocked during 09:20-09:25 and
//     14:57-15:00 call auctions.
//   - Order notional:   a single order may not exceed MaxOrderNotional.
//   - Position weight:  a buy may not push one symbol past
//     MaxPositionWeight of total assets.
//   - Daily loss kill:  once the run's equity drawdown exceeds
//     MaxDailyLoss, all new orders are refused until the switch resets at
//     the next settlement.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/link-light/apexquant/internal/calendar"
	"github.com/link-light/apexquant/internal/config"
	"github.com/link-light/apexquant/pkg/types"
)

var (
	ErrSymbolHalted  = errors.New("symbol halted")
	ErrCancelWindow  = errors.New("cancel blocked during call auction")
	ErrOrderTooLarge = errors.New("order notional above limit")
	ErrOverweight    = errors.New("position weight above limit")
	ErrKillSwitchOn  = errors.New("daily loss kill switch engaged")
)

// AccountView is the slice of exchange state the gate reads. Satisfied by
// *exchange.Exchange.
type AccountView interface {
	TotalAssets() float64
	GetPosition(symbol string) (types.Position, bool)
	LastTick(symbol string) (types.TickSnapshot, bool)
}

// Gate enforces pre-trade limits. Safe for concurrent use.
type Gate struct {
	cfg    config.RiskConfig
	view   AccountView
	logger *slog.Logger

	mu         sync.Mutex
	halted     map[string]bool
	equityHigh float64 // intraday equity high-water mark
	killed     bool
}

// NewGate creates a gate over the given account view.
func NewGate(cfg config.RiskConfig, view AccountView, logger *slog.Logger) *Gate {
	halted := make(map[string]bool, len(cfg.HaltedSymbols))
	for _, sym := range cfg.HaltedSymbols {
		halted[sym] = true
	}
	return &Gate{
		cfg:    cfg,
		view:   view,
		logger: logger.With("component", "risk"),
		halted: halted,
	}
}

// SetHalted updates a symbol's suspension status at runtime.
func (g *Gate) SetHalted(symbol string, halted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if halted {
		g.halted[symbol] = true
	} else {
		delete(g.halted, symbol)
	}
}

// CheckOrder returns nil when the order may be forwarded to the exchange.
func (g *Gate) CheckOrder(order types.Order) error {
	g.mu.Lock()
	killed := g.killed
	haltedSym := g.halted[order.Symbol]
	g.mu.Unlock()

	if killed {
		return ErrKillSwitchOn
	}
	if haltedSym {
		return fmt.Errorf("%w: %s", ErrSymbolHalted, order.Symbol)
	}

	notional := g.estimateNotional(order)
	if g.cfg.MaxOrderNotional > 0 && notional > g.cfg.MaxOrderNotional {
		return fmt.Errorf("%w: %.2f > %.2f", ErrOrderTooLarge, notional, g.cfg.MaxOrderNotional)
	}

	if order.Side == types.BUY && g.cfg.MaxPositionWeight > 0 {
		total := g.view.TotalAssets()
		if total > 0 {
			var held float64
			if pos, ok := g.view.GetPosition(order.Symbol); ok {
				held = pos.MarketValue
			}
			if weight := (held + notional) / total; weight > g.cfg.MaxPositionWeight {
				return fmt.Errorf("%w: %s at %.1f%% of assets", ErrOverweight, order.Symbol, weight*100)
			}
		}
	}
	return nil
}

// CheckCancel returns nil when a cancel at tsMillis is allowed.
func (g *Gate) CheckCancel(tsMillis int64) error {
	if calendar.InCancelForbiddenWindow(tsMillis) {
		return ErrCancelWindow
	}
	return nil
}

// estimateNotional values the order off its limit price or the last quote.
// Unknown-price market orders return 0 and pass the notional checks; the
// exchange's own reservation still bounds them.
func (g *Gate) estimateNotional(order types.Order) float64 {
	price := order.Price
	if price <= 0 {
		if tick, ok := g.view.LastTick(order.Symbol); ok {
			price = tick.LastPrice
		}
	}
	if price <= 0 {
		return 0
	}
	return price * float64(order.Volume)
}

// ObserveEquity feeds the current total assets into the daily-loss monitor.
// Call it after every tick batch; once the drawdown from the intraday high
// exceeds MaxDailyLoss the kill switch engages.
func (g *Gate) ObserveEquity(equity float64) {
	if g.cfg.MaxDailyLoss <= 0 {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if equity > g.equityHigh {
		g.equityHigh = equity
	}
	if !g.killed && g.equityHigh-equity > g.cfg.MaxDailyLoss {
		g.killed = true
		g.logger.Error("KILL SWITCH",
			"drawdown", g.equityHigh-equity,
			"max_daily_loss", g.cfg.MaxDailyLoss,
		)
	}
}

// ResetDaily clears the kill switch and the high-water mark. Call alongside
// the exchange's daily settlement.
func (g *Gate) ResetDaily() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = false
	g.equityHigh = 0
}

// Killed reports whether the kill switch is engaged.
func (g *Gate) Killed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.killed
}
