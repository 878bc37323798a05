package strategy

import (
	"testing"

	"github.com/link-light/apexquant/pkg/types"
)

// fakeTrader records submitted orders and serves a canned position.
type fakeTrader struct {
	orders   []types.Order
	position types.Position
	held     bool
}

func (f *fakeTrader) SubmitOrder(o types.Order) (string, error) {
	f.orders = append(f.orders, o)
	return "ORDER_test", nil
}
func (f *fakeTrader) CancelOrder(string) bool { return false }
func (f *fakeTrader) GetPosition(string) (types.Position, bool) {
	return f.position, f.held
}
func (f *fakeTrader) AvailableCash() float64 { return 1e6 }

func feedPrices(s *MACross, trader Trader, prices []float64) {
	for i, p := range prices {
		s.OnTick(trader, types.TickSnapshot{
			Symbol:    "600000",
			Timestamp: int64(1000 + i),
			LastPrice: p,
		})
	}
}

func TestMACrossBuysOnUpCross(t *testing.T) {
	t.Parallel()
	trader := &fakeTrader{}
	s := NewMACross(2, 4, 5)

	// Flat, then a rally: short MA crosses above long MA.
	feedPrices(s, trader, []float64{10, 10, 10, 10, 10, 10.5, 11, 11.5})

	if len(trader.orders) != 1 {
		t.Fatalf("orders = %d, want 1 buy", len(trader.orders))
	}
	order := trader.orders[0]
	if order.Side != types.BUY || order.Type != types.OrderTypeMarket {
		t.Errorf("order = %+v, want market buy", order)
	}
	if order.Volume != 500 {
		t.Errorf("Volume = %d, want 5 lots = 500", order.Volume)
	}
}

func TestMACrossSkipsWhenHolding(t *testing.T) {
	t.Parallel()
	trader := &fakeTrader{held: true, position: types.Position{Symbol: "600000", Volume: 500}}
	s := NewMACross(2, 4, 5)

	feedPrices(s, trader, []float64{10, 10, 10, 10, 10, 10.5, 11, 11.5})

	if len(trader.orders) != 0 {
		t.Errorf("orders = %d, want 0 while already long", len(trader.orders))
	}
}

func TestMACrossSellsOnDownCross(t *testing.T) {
	t.Parallel()
	trader := &fakeTrader{
		held:     true,
		position: types.Position{Symbol: "600000", Volume: 500, AvailableVolume: 500},
	}
	s := NewMACross(2, 4, 5)

	// Rally establishes wasAbove, then a slide crosses back down.
	feedPrices(s, trader, []float64{10, 10, 10, 10, 10.5, 11, 10.2, 9.5, 9.0})

	var sells int
	for _, o := range trader.orders {
		if o.Side == types.SELL {
			sells++
			if o.Volume != 500 {
				t.Errorf("sell volume = %d, want full 500", o.Volume)
			}
		}
	}
	if sells != 1 {
		t.Errorf("sells = %d, want 1", sells)
	}
}

func TestMACrossHoldsLockedPosition(t *testing.T) {
	t.Parallel()
	// T+1: the position exists but nothing is sellable today.
	trader := &fakeTrader{
		held:     true,
		position: types.Position{Symbol: "600000", Volume: 500, AvailableVolume: 0},
	}
	s := NewMACross(2, 4, 5)

	feedPrices(s, trader, []float64{10, 10, 10, 10, 10.5, 11, 10.2, 9.5, 9.0})

	for _, o := range trader.orders {
		if o.Side == types.SELL {
			t.Fatal("sold a T+1 locked position")
		}
	}
}
