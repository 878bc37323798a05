package strategy

import (
	"sync"

	"github.com/link-light/apexquant/pkg/types"
)

// MACross is a minimal moving-average crossover strategy: buy a fixed lot
// count when the short average crosses above the long average, liquidate
// when it crosses back below. One instance handles any number of symbols.
type MACross struct {
	short   int
	long    int
	lots    int64 // lots (x100 shares) per entry
	mu      sync.Mutex
	windows map[string]*priceWindow
}

type priceWindow struct {
	prices   []float64
	wasAbove bool
	everFull bool
}

// NewMACross creates a crossover strategy with the given window lengths.
func NewMACross(short, long int, lots int64) *MACross {
	if short >= long {
		short = long / 2
	}
	if short < 1 {
		short = 1
	}
	return &MACross{
		short:   short,
		long:    long,
		lots:    lots,
		windows: make(map[string]*priceWindow),
	}
}

func (s *MACross) Name() string { return "ma-cross" }

// OnTick updates the symbol's window and trades on crossovers.
func (s *MACross) OnTick(trader Trader, tick types.TickSnapshot) {
	if tick.LastPrice <= 0 {
		return
	}

	s.mu.Lock()
	w, ok := s.windows[tick.Symbol]
	if !ok {
		w = &priceWindow{}
		s.windows[tick.Symbol] = w
	}
	w.prices = append(w.prices, tick.LastPrice)
	if len(w.prices) > s.long {
		w.prices = w.prices[len(w.prices)-s.long:]
	}
	if len(w.prices) < s.long {
		s.mu.Unlock()
		return
	}

	shortMA := mean(w.prices[len(w.prices)-s.short:])
	longMA := mean(w.prices)
	above := shortMA > longMA
	crossedUp := above && !w.wasAbove && w.everFull
	crossedDown := !above && w.wasAbove
	w.wasAbove = above
	w.everFull = true
	s.mu.Unlock()

	switch {
	case crossedUp:
		if _, held := trader.GetPosition(tick.Symbol); held {
			return
		}
		trader.SubmitOrder(types.Order{
			Symbol: tick.Symbol,
			Side:   types.BUY,
			Type:   types.OrderTypeMarket,
			Volume: s.lots * 100,
		})
	case crossedDown:
		pos, held := trader.GetPosition(tick.Symbol)
		if !held || pos.AvailableVolume == 0 {
			return
		}
		trader.SubmitOrder(types.Order{
			Symbol: tick.Symbol,
			Side:   types.SELL,
			Type:   types.OrderTypeMarket,
			Volume: pos.AvailableVolume,
		})
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
