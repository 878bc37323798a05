package match

import (
	"math"
	"testing"

	"github.com/link-light/apexquant/pkg/types"
)

func tick(last, bid, ask float64, volume int64, lastClose float64) types.TickSnapshot {
	return types.TickSnapshot{
		Symbol:    "600000",
		Timestamp: 1770350400000,
		LastPrice: last,
		BidPrice:  bid,
		AskPrice:  ask,
		Volume:    volume,
		LastClose: lastClose,
	}
}

func marketBuy(volume int64) *types.Order {
	return &types.Order{
		OrderID: "ORDER_1", Symbol: "600000", Side: types.BUY,
		Type: types.OrderTypeMarket, Volume: volume,
		CommissionRate: 0.00025, SlippageRate: 0.001,
	}
}

func TestTryMatchVolumeValidation(t *testing.T) {
	t.Parallel()
	m := NewMatcher(1)
	tk := tick(10.00, 9.99, 10.00, 1_000_000, 10.00)

	tests := []struct {
		name   string
		side   types.Side
		volume int64
		want   Outcome
	}{
		{"zero volume", types.BUY, 0, OutcomeRejected},
		{"negative volume", types.BUY, -100, OutcomeRejected},
		{"over single-order cap", types.BUY, maxOrderVolume + 100, OutcomeRejected},
		{"overflow guard", types.BUY, maxSaneVolume + 1, OutcomeRejected},
		{"buy non-lot", types.BUY, 150, OutcomeRejected},
		{"buy lot multiple", types.BUY, 1000, OutcomeFilled},
		{"sell odd lot allowed", types.SELL, 150, OutcomeFilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order := marketBuy(tt.volume)
			order.Side = tt.side
			got := m.TryMatch(order, tk, true)
			if got.Outcome != tt.want {
				t.Errorf("Outcome = %v (%s), want %v", got.Outcome, got.Reason, tt.want)
			}
		})
	}
}

func TestTryMatchTickSanity(t *testing.T) {
	t.Parallel()
	m := NewMatcher(1)

	if got := m.TryMatch(marketBuy(100), tick(0, 0, 0, 1000, 10), true); got.Outcome != OutcomeRejected {
		t.Errorf("zero last price: Outcome = %v, want Rejected", got.Outcome)
	}

	limit := marketBuy(100)
	limit.Type = types.OrderTypeLimit
	limit.Price = 0
	if got := m.TryMatch(limit, tick(10, 9.99, 10, 1000000, 10), true); got.Outcome != OutcomeRejected {
		t.Errorf("zero limit price: Outcome = %v, want Rejected", got.Outcome)
	}
}

func TestTryMatchLimitDefer(t *testing.T) {
	t.Parallel()
	m := NewMatcher(1)
	tk := tick(10.00, 9.99, 10.00, 1_000_000, 10.00)

	// Buy limit below the ask waits.
	buy := marketBuy(100)
	buy.Type = types.OrderTypeLimit
	buy.Price = 9.50
	if got := m.TryMatch(buy, tk, true); got.Outcome != OutcomeDeferred {
		t.Errorf("buy below ask: Outcome = %v (%s), want Deferred", got.Outcome, got.Reason)
	}

	// Buy limit at or above the ask fills at the order's own price.
	buy.Price = 10.20
	got := m.TryMatch(buy, tk, true)
	if got.Outcome != OutcomeFilled {
		t.Fatalf("buy above ask: Outcome = %v (%s), want Filled", got.Outcome, got.Reason)
	}
	if got.Price < 10.20 {
		t.Errorf("buy fill price %v below limit 10.20 base", got.Price)
	}

	// Sell limit above the bid waits; at or below fills.
	sell := marketBuy(100)
	sell.Side = types.SELL
	sell.Type = types.OrderTypeLimit
	sell.Price = 10.50
	if got := m.TryMatch(sell, tk, true); got.Outcome != OutcomeDeferred {
		t.Errorf("sell above bid: Outcome = %v, want Deferred", got.Outcome)
	}
	sell.Price = 9.90
	if got := m.TryMatch(sell, tk, true); got.Outcome != OutcomeFilled {
		t.Errorf("sell below bid: Outcome = %v (%s), want Filled", got.Outcome, got.Reason)
	}
}

func TestTryMatchPriceLimit(t *testing.T) {
	t.Parallel()
	m := NewMatcher(1)

	// Ask pinned above the 10% band for a main-board symbol.
	tk := tick(11.00, 10.99, 11.01, 1_000_000, 10.00)
	got := m.TryMatch(marketBuy(100), tk, true)
	if got.Outcome != OutcomeAtPriceLimit {
		t.Errorf("Outcome = %v (%s), want AtPriceLimit", got.Outcome, got.Reason)
	}

	// Same tick with the check disabled fills.
	if got := m.TryMatch(marketBuy(100), tk, false); got.Outcome != OutcomeFilled {
		t.Errorf("check disabled: Outcome = %v, want Filled", got.Outcome)
	}

	// No prior close: the band cannot be computed, so no parking.
	tk.LastClose = 0
	if got := m.TryMatch(marketBuy(100), tk, true); got.Outcome != OutcomeFilled {
		t.Errorf("no last close: Outcome = %v, want Filled", got.Outcome)
	}
}

func TestTryMatchLiquidityCap(t *testing.T) {
	t.Parallel()
	m := NewMatcher(1)

	// 500-share order against a 4000-share tick exceeds 1/10 of the volume.
	got := m.TryMatch(marketBuy(500), tick(10, 9.99, 10, 4000, 10), true)
	if got.Outcome != OutcomeRejected {
		t.Errorf("thin tick: Outcome = %v, want Rejected", got.Outcome)
	}

	// Zero tick volume carries no liquidity information; the cap is skipped.
	if got := m.TryMatch(marketBuy(500), tick(10, 9.99, 10, 0, 10), true); got.Outcome != OutcomeFilled {
		t.Errorf("zero tick volume: Outcome = %v, want Filled", got.Outcome)
	}
}

func TestSlippageAlwaysAdverse(t *testing.T) {
	t.Parallel()
	m := NewMatcher(42)
	tk := tick(10.00, 9.99, 10.00, 10_000_000, 10.00)

	for i := 0; i < 200; i++ {
		buy := m.TryMatch(marketBuy(1000), tk, true)
		if buy.Price < 10.00 {
			t.Fatalf("buy slippage favorable: price %v < ask 10.00", buy.Price)
		}
		if buy.Price > 10.00*(1+0.001)+0.01 {
			t.Fatalf("buy slippage beyond rate bound: %v", buy.Price)
		}

		sell := marketBuy(1000)
		sell.Side = types.SELL
		res := m.TryMatch(sell, tk, true)
		if res.Price > 9.99 {
			t.Fatalf("sell slippage favorable: price %v > bid 9.99", res.Price)
		}
	}
}

func TestSlippageLargeOrderAmplified(t *testing.T) {
	t.Parallel()
	tk := tick(100.00, 99.99, 100.00, 100_000_000, 100.00)

	// With identical seeds the large order must slip at exactly 1.5x the
	// small order's rate on every draw.
	small := NewMatcher(7)
	large := NewMatcher(7)
	for i := 0; i < 50; i++ {
		s := small.TryMatch(marketBuy(10_000), tk, true) // at the threshold, not above
		l := large.TryMatch(marketBuy(10_100), tk, true)
		sSlip := s.Price - 100.00
		lSlip := l.Price - 100.00
		if math.Abs(lSlip-1.5*sSlip) > 0.02 {
			t.Fatalf("large-order slippage %v not 1.5x small %v", lSlip, sSlip)
		}
	}
}

func TestLimitPct(t *testing.T) {
	t.Parallel()

	tests := []struct {
		symbol string
		want   float64
	}{
		{"600000", 0.10},
		{"sh.600000", 0.10},
		{"000001", 0.10},
		{"688981", 0.20},
		{"300750", 0.20},
		{"830799", 0.30},
		{"430047", 0.30},
		{"ST600000", 0.05},
		{"st000001", 0.05},
	}
	for _, tt := range tests {
		t.Run(tt.symbol, func(t *testing.T) {
			if got := LimitPct(tt.symbol); got != tt.want {
				t.Errorf("LimitPct(%q) = %v, want %v", tt.symbol, got, tt.want)
			}
		})
	}
}

func TestTotalCommission(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		side   types.Side
		symbol string
		price  float64
		volume int64
		rate   float64
		want   float64
	}{
		// Raw broker fee 0.25 floors to 5.00; transfer fee 0.002 rounds away.
		{"buy floor shanghai", types.BUY, "sh.600000", 10.00, 100, 0.00025, 5.00},
		{"buy floor bare code", types.BUY, "600000", 10.00, 100, 0.00025, 5.00},
		// Sell adds 0.1% stamp duty: 5.00 + 1.00 + 0.002.
		{"sell with stamp", types.SELL, "sh.600000", 10.00, 100, 0.00025, 6.00},
		// Shenzhen listing pays no transfer fee.
		{"shenzhen no transfer", types.SELL, "000001", 10.00, 100, 0.00025, 6.00},
		// Above the floor: 100000 * 0.00025 = 25, + transfer 0.2.
		{"large buy", types.BUY, "600000", 10.00, 10000, 0.00025, 25.20},
		// Large sell: 25 + stamp 100 + transfer 0.2.
		{"large sell", types.SELL, "600000", 10.00, 10000, 0.00025, 125.20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TotalCommission(tt.side, tt.symbol, tt.price, tt.volume, tt.rate)
			if got != tt.want {
				t.Errorf("TotalCommission = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommissionFloor(t *testing.T) {
	t.Parallel()

	// The all-in fee can never fall below the broker minimum.
	if got := TotalCommission(types.BUY, "000001", 1.00, 100, 0.0001); got < minBrokerFee {
		t.Errorf("commission %v below floor %v", got, minBrokerFee)
	}
}
