// Package strategy defines the interface backtested strategies implement
// and ships a small reference implementation.
//
// A strategy receives every tick after the exchange has processed it and
// may place or cancel orders through the Trader it is handed. Strategies
// run on the feed goroutine: OnTick must not block.
package strategy

import (
	"github.com/link-light/apexquant/pkg/types"
)

// Trader is the order surface a strategy sees: the risk-gated exchange.
type Trader interface {
	SubmitOrder(order types.Order) (string, error)
	CancelOrder(orderID string) bool
	GetPosition(symbol string) (types.Position, bool)
	AvailableCash() float64
}

// Strategy reacts to market ticks.
type Strategy interface {
	Name() string
	OnTick(trader Trader, tick types.TickSnapshot)
}
