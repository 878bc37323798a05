// Package market maintains the latest known quote per symbol.
//
// The quote cache is fed from every tick the exchange consumes and serves
// two readers: the exchange's market-buy cash reservation (which needs a
// recent reference price instead of a pessimistic ceiling) and the dashboard
// snapshot. It is concurrency-safe and returns copies.
package market

import (
	"sync"
	"time"

	"github.com/link-light/apexquant/pkg/types"
)

// Quotes caches the most recent tick for each symbol.
type Quotes struct {
	mu    sync.RWMutex
	ticks map[string]types.TickSnapshot
}

// NewQuotes creates an empty quote cache.
func NewQuotes() *Quotes {
	return &Quotes{ticks: make(map[string]types.TickSnapshot)}
}

// Update stores the latest tick for its symbol.
func (q *Quotes) Update(tick types.TickSnapshot) {
	if tick.Symbol == "" {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ticks[tick.Symbol] = tick
}

// LastTick returns the most recent tick for symbol.
func (q *Quotes) LastTick(symbol string) (types.TickSnapshot, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	tick, ok := q.ticks[symbol]
	return tick, ok
}

// LastPrice returns the most recent trade price for symbol, or 0 when the
// symbol has never ticked.
func (q *Quotes) LastPrice(symbol string) float64 {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ticks[symbol].LastPrice
}

// IsStale reports whether symbol's quote is older than maxAge relative to
// now (ms since epoch). Unknown symbols are stale.
func (q *Quotes) IsStale(symbol string, now int64, maxAge time.Duration) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tick, ok := q.ticks[symbol]
	if !ok {
		return true
	}
	return now-tick.Timestamp > maxAge.Milliseconds()
}

// Symbols returns all symbols with a cached quote.
func (q *Quotes) Symbols() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]string, 0, len(q.ticks))
	for sym := range q.ticks {
		out = append(out, sym)
	}
	return out
}
