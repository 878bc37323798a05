package account

import (
	"errors"
	"sync"
	"testing"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger("acct-1", 100000)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l
}

func TestNewLedgerValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewLedger("", 1000); err == nil {
		t.Error("expected error for empty account id")
	}
	if _, err := NewLedger("a", 0); err == nil {
		t.Error("expected error for zero capital")
	}
	if _, err := NewLedger("a", -5); err == nil {
		t.Error("expected error for negative capital")
	}
}

func TestFreezeUnfreezeCash(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.FreezeCash(30000); err != nil {
		t.Fatalf("FreezeCash: %v", err)
	}
	if got := l.AvailableCash(); got != 70000 {
		t.Errorf("AvailableCash = %v, want 70000", got)
	}
	if got := l.FrozenCash(); got != 30000 {
		t.Errorf("FrozenCash = %v, want 30000", got)
	}

	// Over-freeze fails and leaves state unchanged.
	err := l.FreezeCash(80000)
	if !errors.Is(err, ErrInsufficientCash) {
		t.Errorf("FreezeCash over limit: err = %v, want ErrInsufficientCash", err)
	}
	if got := l.AvailableCash(); got != 70000 {
		t.Errorf("AvailableCash after failed freeze = %v, want 70000", got)
	}

	// Unfreeze clamps to the frozen balance.
	l.UnfreezeCash(50000)
	if got := l.FrozenCash(); got != 0 {
		t.Errorf("FrozenCash after clamped unfreeze = %v, want 0", got)
	}
	if got := l.AvailableCash(); got != 100000 {
		t.Errorf("AvailableCash after clamped unfreeze = %v, want 100000", got)
	}
}

func TestWithdrawableUntouchedByBuySideFlows(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	// Freezing and spending cash intraday leaves withdrawable alone; only
	// settlement moves it.
	if err := l.FreezeCash(60000); err != nil {
		t.Fatalf("FreezeCash: %v", err)
	}
	l.UnfreezeCash(60000)
	if err := l.DeductCash(1005); err != nil {
		t.Fatalf("DeductCash: %v", err)
	}
	if got := l.WithdrawableCash(); got != 100000 {
		t.Errorf("WithdrawableCash = %v, want 100000 until settlement", got)
	}

	l.DailySettlement(20260207)
	if got := l.WithdrawableCash(); got != 98995 {
		t.Errorf("WithdrawableCash after settlement = %v, want 98995", got)
	}
}

func TestAddPositionNewAndMerge(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	pos, ok := l.GetPosition("600000")
	if !ok {
		t.Fatal("GetPosition: missing")
	}
	if pos.AvailableVolume != 0 {
		t.Errorf("new position AvailableVolume = %d, want 0 (T+1 lock)", pos.AvailableVolume)
	}
	if pos.AvgCost != 10.00 {
		t.Errorf("AvgCost = %v, want 10.00", pos.AvgCost)
	}
	if pos.BuyDate != 20260206 {
		t.Errorf("BuyDate = %d, want 20260206", pos.BuyDate)
	}

	// Merge a second lot at a different price on a later date.
	if err := l.AddPosition("600000", 1000, 12.00, 20260207); err != nil {
		t.Fatalf("AddPosition merge: %v", err)
	}
	pos, _ = l.GetPosition("600000")
	if pos.Volume != 2000 {
		t.Errorf("Volume = %d, want 2000", pos.Volume)
	}
	if pos.AvgCost != 11.00 {
		t.Errorf("AvgCost = %v, want 11.00", pos.AvgCost)
	}
	if pos.BuyDate != 20260206 {
		t.Errorf("BuyDate after merge = %d, want earliest 20260206", pos.BuyDate)
	}
}

func TestAddPositionValidation(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	tests := []struct {
		name   string
		symbol string
		volume int64
		price  float64
	}{
		{"empty symbol", "", 100, 10},
		{"zero volume", "600000", 0, 10},
		{"negative volume", "600000", -100, 10},
		{"volume overflow", "600000", MaxVolume + 1, 10},
		{"zero price", "600000", 100, 0},
		{"price overflow", "600000", 100, MaxPrice + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.AddPosition(tt.symbol, tt.volume, tt.price, 20260206); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestReducePositionRealizesPnL(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	l.DailySettlement(20260207)

	realized, err := l.ReducePosition("600000", 400, 11.50)
	if err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	if realized != 600.00 {
		t.Errorf("realized = %v, want 600.00", realized)
	}
	// Gross proceeds land in available cash but not withdrawable.
	if got := l.AvailableCash(); got != 104600 {
		t.Errorf("AvailableCash = %v, want 104600", got)
	}
	if got := l.WithdrawableCash(); got != 100000 {
		t.Errorf("WithdrawableCash = %v, want 100000 (lags until settlement)", got)
	}
	if got := l.RealizedPnL(); got != 600.00 {
		t.Errorf("RealizedPnL = %v, want 600.00", got)
	}

	pos, _ := l.GetPosition("600000")
	if pos.Volume != 600 {
		t.Errorf("Volume = %d, want 600", pos.Volume)
	}

	// Closing the remainder deletes the position.
	if _, err := l.ReducePosition("600000", 600, 11.50); err != nil {
		t.Fatalf("ReducePosition rest: %v", err)
	}
	if _, ok := l.GetPosition("600000"); ok {
		t.Error("position should be deleted at zero volume")
	}
}

func TestReducePositionErrors(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if _, err := l.ReducePosition("600000", 100, 10); !errors.Is(err, ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
	if err := l.AddPosition("600000", 100, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if _, err := l.ReducePosition("600000", 200, 10); !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("err = %v, want ErrInsufficientPosition", err)
	}
}

func TestCanSellTPlusOne(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}

	// Same day: locked.
	if l.CanSell("600000", 100, 20260206) {
		t.Error("CanSell should be false on the buy date")
	}

	// Next day before settlement: buyDate < currentDate path allows it.
	if !l.CanSell("600000", 1000, 20260207) {
		t.Error("CanSell should be true the day after the buy")
	}

	// Frozen shares reduce what is sellable.
	if err := l.FreezePosition("600000", 800); err != nil {
		t.Fatalf("FreezePosition: %v", err)
	}
	if l.CanSell("600000", 300, 20260207) {
		t.Error("CanSell should respect frozen volume")
	}
	if !l.CanSell("600000", 200, 20260207) {
		t.Error("CanSell should allow the unfrozen remainder")
	}
}

func TestFreezePositionErrors(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.FreezePosition("600000", 100); !errors.Is(err, ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
	if err := l.AddPosition("600000", 500, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if err := l.FreezePosition("600000", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("err = %v, want ErrInvalidAmount", err)
	}
	if err := l.FreezePosition("600000", 600); !errors.Is(err, ErrInsufficientPosition) {
		t.Errorf("err = %v, want ErrInsufficientPosition", err)
	}

	if err := l.FreezePosition("600000", 500); err != nil {
		t.Fatalf("FreezePosition: %v", err)
	}
	// Unfreeze clamps; no position underflow.
	l.UnfreezePosition("600000", 9999)
	pos, _ := l.GetPosition("600000")
	if pos.FrozenVolume != 0 {
		t.Errorf("FrozenVolume = %d, want 0", pos.FrozenVolume)
	}
}

func TestDailySettlement(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	l.DailySettlement(20260207)

	pos, _ := l.GetPosition("600000")
	if pos.AvailableVolume != 1000 {
		t.Errorf("AvailableVolume = %d, want 1000 after settlement", pos.AvailableVolume)
	}

	// Sell, then settle: withdrawable catches up and the sell counter resets.
	if _, err := l.ReducePosition("600000", 1000, 10.00); err != nil {
		t.Fatalf("ReducePosition: %v", err)
	}
	if got := l.Snapshot().TodaySellAmount; got != 10000 {
		t.Errorf("TodaySellAmount = %v, want 10000", got)
	}

	l.DailySettlement(20260208)
	snap := l.Snapshot()
	if snap.WithdrawableCash != snap.AvailableCash {
		t.Errorf("WithdrawableCash = %v, AvailableCash = %v; must be equal after settlement",
			snap.WithdrawableCash, snap.AvailableCash)
	}
	if snap.TodaySellAmount != 0 {
		t.Errorf("TodaySellAmount = %v, want 0 after settlement", snap.TodaySellAmount)
	}
}

func TestSettlementSkipsSameDayBuys(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260207); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	// Settling on the buy date itself must not unlock the lot.
	l.DailySettlement(20260207)
	pos, _ := l.GetPosition("600000")
	if pos.AvailableVolume != 0 {
		t.Errorf("AvailableVolume = %d, want 0 (bought today)", pos.AvailableVolume)
	}
}

func TestUpdatePositionPrice(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	l.UpdatePositionPrice("600000", 10.50)

	pos, _ := l.GetPosition("600000")
	if pos.MarketValue != 10500 {
		t.Errorf("MarketValue = %v, want 10500", pos.MarketValue)
	}
	if pos.UnrealizedPnL != 500 {
		t.Errorf("UnrealizedPnL = %v, want 500", pos.UnrealizedPnL)
	}

	// Unknown symbols and bad prices are ignored.
	l.UpdatePositionPrice("000001", 5)
	l.UpdatePositionPrice("600000", -1)
	pos, _ = l.GetPosition("600000")
	if pos.CurrentPrice != 10.50 {
		t.Errorf("CurrentPrice = %v, want 10.50", pos.CurrentPrice)
	}
}

func TestTotalAssets(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	if err := l.FreezeCash(10000); err != nil {
		t.Fatalf("FreezeCash: %v", err)
	}
	if err := l.AddPosition("600000", 1000, 10.00, 20260206); err != nil {
		t.Fatalf("AddPosition: %v", err)
	}
	if err := l.DeductCash(10000); err != nil {
		t.Fatalf("DeductCash: %v", err)
	}
	// 80000 available + 10000 frozen + 10000 market value.
	if got := l.TotalAssets(); got != 100000 {
		t.Errorf("TotalAssets = %v, want 100000", got)
	}
}

func TestConcurrentCashOps(t *testing.T) {
	t.Parallel()
	l := newTestLedger(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.FreezeCash(100); err == nil {
				l.UnfreezeCash(100)
			}
		}()
	}
	wg.Wait()

	if got := l.AvailableCash(); got != 100000 {
		t.Errorf("AvailableCash = %v, want 100000 after balanced freeze/unfreeze", got)
	}
	if got := l.FrozenCash(); got != 0 {
		t.Errorf("FrozenCash = %v, want 0", got)
	}
}
