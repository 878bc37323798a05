package exchange

import (
	"fmt"
	"sync/atomic"
)

// idGenerator issues order and trade IDs that are unique and strictly
// increasing within one exchange instance. The embedded counters make IDs
// unique even when many are minted in the same millisecond.
type idGenerator struct {
	orderSeq atomic.Uint64
	tradeSeq atomic.Uint64
}

// NextOrderID returns an ID of the form ORDER_<epoch_ms>_<symbol>_<n>.
func (g *idGenerator) NextOrderID(ts int64, symbol string) string {
	return fmt.Sprintf("ORDER_%d_%s_%d", ts, symbol, g.orderSeq.Add(1))
}

// NextTradeID returns an ID of the form TRADE_<epoch_ms>_<n>.
func (g *idGenerator) NextTradeID(ts int64) string {
	return fmt.Sprintf("TRADE_%d_%d", ts, g.tradeSeq.Add(1))
}
