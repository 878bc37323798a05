// Package match decides whether an order fills against a tick, at what
// price, and at what cost.
//
// The matcher is stateless with respect to the account: TryMatch inspects an
// order and a tick and returns a typed decision; committing the fill is the
// exchange's job. The fee schedule models PRC A-share trading costs: broker
// commission with a 5 yuan floor, sell-side stamp duty, and the Shanghai
// per-share transfer fee.
package match

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/link-light/apexquant/pkg/money"
	"github.com/link-light/apexquant/pkg/types"
)

// Outcome classifies a match decision. The exchange dispatches on this
// instead of parsing reason strings.
type Outcome int

const (
	// OutcomeFilled means the order executes at Result.Price for
	// Result.Volume shares.
	OutcomeFilled Outcome = iota
	// OutcomeDeferred means a limit order's price is not yet reachable;
	// the order stays pending with no state change.
	OutcomeDeferred
	// OutcomeAtPriceLimit means the reference price sits at, beyond, or
	// within limitEpsilon of a daily price-limit band edge; the order
	// belongs in the limit queue.
	OutcomeAtPriceLimit
	// OutcomeRejected is a hard rejection (bad volume, no liquidity, bad
	// tick). The order's resources must be released.
	OutcomeRejected
)

// Result is the matcher's decision for one order against one tick.
type Result struct {
	Outcome Outcome
	Price   float64 // fill price, cent rounded (Filled only)
	Volume  int64   // fill volume; all-or-nothing per tick
	Reason  string
}

// Trading-rule constants.
const (
	LotSize          = 100           // buy orders must be a multiple of this
	maxOrderVolume   = 1_000_000     // single-order share cap
	maxSaneVolume    = 1_000_000_000 // overflow guard
	liquidityDivisor = 10            // an order may take at most 1/10 of tick volume
	largeOrderVolume = 10_000        // above this, slippage scales up
	largeOrderFactor = 1.5

	minBrokerFee    = 5.00    // commission floor, yuan
	stampDutyRate   = 0.001   // sell side only
	transferFeeRate = 0.00002 // per share, Shanghai listings, both sides

	// limitEpsilon is the tolerance for deciding that a price sits exactly
	// at a limit band edge; shared by the matcher and the queue drain.
	limitEpsilon = 0.01
)

// Matcher prices orders against ticks. The random source drives slippage;
// seed it for reproducible backtests. Safe for concurrent use.
type Matcher struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewMatcher creates a matcher with the given slippage seed.
func NewMatcher(seed int64) *Matcher {
	return &Matcher{rng: rand.New(rand.NewSource(seed))}
}

// TryMatch decides whether order fills against tick. It never mutates the
// order. checkPriceLimit enables the daily price-limit band test.
func (m *Matcher) TryMatch(order *types.Order, tick types.TickSnapshot, checkPriceLimit bool) Result {
	if r, ok := m.validateVolume(order); !ok {
		return r
	}
	if tick.LastPrice <= 0 {
		return reject(fmt.Sprintf("invalid tick price %v", tick.LastPrice))
	}
	if order.Type == types.OrderTypeLimit && order.Price <= 0 {
		return reject(fmt.Sprintf("invalid limit price %v", order.Price))
	}

	fillBase, marketRef, res, decided := referencePrice(order, tick)
	if decided {
		return res
	}

	// The band test looks at the market-side quote, not a limit order's own
	// price: a parked limit order must become fillable once the tape moves
	// off the limit. The epsilon matches the queue's at-limit tolerance.
	if checkPriceLimit && tick.LastClose > 0 {
		down, up := LimitBand(order.Symbol, tick.LastClose)
		if marketRef >= up-limitEpsilon || marketRef <= down+limitEpsilon {
			return Result{
				Outcome: OutcomeAtPriceLimit,
				Reason:  fmt.Sprintf("price at daily limit: ref %.2f vs band [%.2f, %.2f]", marketRef, down, up),
			}
		}
	}

	if tick.Volume > 0 && order.Volume > tick.Volume/liquidityDivisor {
		return reject(fmt.Sprintf("insufficient liquidity: order %d vs tick %d", order.Volume, tick.Volume))
	}

	return Result{
		Outcome: OutcomeFilled,
		Price:   m.applySlippage(order, fillBase),
		Volume:  order.Volume,
	}
}

func (m *Matcher) validateVolume(order *types.Order) (Result, bool) {
	v := order.Volume
	switch {
	case v <= 0:
		return reject(fmt.Sprintf("invalid volume %d", v)), false
	case v > maxSaneVolume:
		return reject(fmt.Sprintf("volume %d beyond sanity cap", v)), false
	case v > maxOrderVolume:
		return reject(fmt.Sprintf("volume %d exceeds single-order cap %d", v, maxOrderVolume)), false
	case order.Side == types.BUY && v%LotSize != 0:
		return reject(fmt.Sprintf("buy volume %d not a multiple of %d", v, LotSize)), false
	}
	return Result{}, true
}

// referencePrice picks the execution base and the market-side reference for
// the order. For limit orders whose price the market has not reached, it
// returns a Deferred result instead (decided = true). Market orders execute
// off the opposing quote; limit orders execute at their own price once the
// market reaches it.
func referencePrice(order *types.Order, tick types.TickSnapshot) (fillBase, marketRef float64, res Result, decided bool) {
	var quote float64
	if order.Side == types.BUY {
		quote = quoteOr(tick.AskPrice, tick.LastPrice)
	} else {
		quote = quoteOr(tick.BidPrice, tick.LastPrice)
	}

	if order.Type == types.OrderTypeMarket {
		return quote, quote, Result{}, false
	}

	if order.Side == types.BUY && quote > order.Price {
		return 0, 0, deferred(fmt.Sprintf("buy limit price %.2f below ask %.2f", order.Price, quote)), true
	}
	if order.Side == types.SELL && quote < order.Price {
		return 0, 0, deferred(fmt.Sprintf("sell limit price %.2f above bid %.2f", order.Price, quote)), true
	}
	return order.Price, quote, Result{}, false
}

// quoteOr falls back to the last trade price when a one-sided tick carries
// no quote.
func quoteOr(quote, last float64) float64 {
	if quote > 0 {
		return quote
	}
	return last
}

// applySlippage perturbs ref adversely to the order: buys pay more, sells
// receive less. Orders above largeOrderVolume draw amplified slippage.
func (m *Matcher) applySlippage(order *types.Order, ref float64) float64 {
	rate := order.SlippageRate
	if order.Volume > largeOrderVolume {
		rate *= largeOrderFactor
	}

	m.mu.Lock()
	u := m.rng.Float64()*2 - 1
	m.mu.Unlock()

	s := rate * math.Abs(u)
	if order.Side == types.BUY {
		return money.RoundCent(ref * (1 + s))
	}
	return money.RoundCent(ref * (1 - s))
}

func reject(reason string) Result {
	return Result{Outcome: OutcomeRejected, Reason: reason}
}

func deferred(reason string) Result {
	return Result{Outcome: OutcomeDeferred, Reason: reason}
}

// LimitPct returns the daily price-limit percentage for a symbol class:
// ST names move 5%, STAR (688) and ChiNext (300) boards 20%, Beijing
// exchange listings (8/4 prefix) 30%, everything else 10%.
func LimitPct(symbol string) float64 {
	code := bareCode(symbol)
	switch {
	case strings.Contains(strings.ToUpper(symbol), "ST"):
		return 0.05
	case strings.HasPrefix(code, "688"), strings.HasPrefix(code, "300"):
		return 0.20
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return 0.30
	default:
		return 0.10
	}
}

// LimitBand returns the (down, up) daily price-limit band around lastClose.
func LimitBand(symbol string, lastClose float64) (float64, float64) {
	pct := LimitPct(symbol)
	return lastClose * (1 - pct), lastClose * (1 + pct)
}

// bareCode strips an exchange prefix like "sh." or "sz." from a symbol.
func bareCode(symbol string) string {
	if i := strings.IndexByte(symbol, '.'); i >= 0 && i+1 < len(symbol) {
		return symbol[i+1:]
	}
	return symbol
}

// isShanghai reports whether the symbol is a Shanghai listing, which pays
// the per-share transfer fee.
func isShanghai(symbol string) bool {
	return strings.HasPrefix(symbol, "6") || strings.HasPrefix(symbol, "sh.6")
}

// TotalCommission computes the all-in fee for one fill: broker commission
// (floored at 5 yuan), stamp duty on sells, and the Shanghai transfer fee on
// both sides. The result is cent rounded.
func TotalCommission(side types.Side, symbol string, price float64, volume int64, commissionRate float64) float64 {
	amount := price * float64(volume)

	fee := amount * commissionRate
	if fee < minBrokerFee {
		fee = minBrokerFee
	}
	if side == types.SELL {
		fee += amount * stampDutyRate
	}
	if isShanghai(symbol) {
		fee += float64(volume) * transferFeeRate
	}
	return money.RoundCent(fee)
}
