// Package account implements the simulated brokerage account ledger.
//
// The ledger keeps three cash buckets and the position map under a single
// mutex:
//
//   - available cash:    spendable on new buys immediately
//   - withdrawable cash: spendable and transferable out; trails available
//     cash by one daily settlement (sell proceeds land in available cash at
//     fill time and become withdrawable the next day)
//   - frozen cash:       reserved by open buy orders
//
// Positions carry the T+1 state: shares bought today have AvailableVolume 0
// and unlock at the first daily settlement on a later date. BuyDate is the
// earliest buy date among live lots, so a position merged across days
// unlocks as a whole on the day after the earliest buy.
//
// Locking: every public method acquires the ledger mutex for its full
// critical section and the mutex is not reentrant. The exchange makes its
// mutating calls while holding its own mutex (lock order exchange -> ledger)
// and the ledger never calls back out, so the composite fill/reject
// sequences stay deadlock-free. The exchange's read accessors call the
// ledger without the exchange mutex. Reads return copies.
package account

import (
	"errors"
	"fmt"
	"sync"

	"github.com/link-light/apexquant/pkg/money"
	"github.com/link-light/apexquant/pkg/types"
)

// Validation ceilings. Values beyond these are treated as corrupt input
// rather than a large order.
const (
	MaxVolume = 1_000_000_000
	MaxPrice  = 1_000_000.0
)

var (
	ErrInsufficientCash     = errors.New("insufficient available cash")
	ErrInsufficientPosition = errors.New("insufficient sellable position")
	ErrNoPosition           = errors.New("no position")
	ErrInvalidAmount        = errors.New("invalid amount")
)

// position is the internal mutable holding record. Exposed only as a
// types.Position copy.
type position struct {
	symbol          string
	volume          int64
	availableVolume int64
	frozenVolume    int64
	avgCost         float64
	currentPrice    float64
	marketValue     float64
	unrealizedPnL   float64
	buyDate         int // YYYYMMDD, earliest buy date while nonempty
}

func (p *position) view() types.Position {
	return types.Position{
		Symbol:          p.symbol,
		Volume:          p.volume,
		AvailableVolume: p.availableVolume,
		FrozenVolume:    p.frozenVolume,
		AvgCost:         p.avgCost,
		CurrentPrice:    p.currentPrice,
		MarketValue:     p.marketValue,
		UnrealizedPnL:   p.unrealizedPnL,
		BuyDate:         p.buyDate,
	}
}

// refresh recomputes the mark-to-market fields from currentPrice.
func (p *position) refresh() {
	p.marketValue = money.Mul(p.currentPrice, p.volume)
	p.unrealizedPnL = money.RoundCent(p.marketValue - p.avgCost*float64(p.volume))
}

// Ledger is the account state for one simulated run.
type Ledger struct {
	mu sync.Mutex

	accountID        string
	initialCapital   float64
	availableCash    float64
	withdrawableCash float64
	frozenCash       float64
	todaySellAmount  float64
	realizedPnL      float64
	positions        map[string]*position
}

// NewLedger creates a ledger funded with initialCapital. Both cash buckets
// start at the full capital: nothing has been bought yet, so everything is
// withdrawable.
func NewLedger(accountID string, initialCapital float64) (*Ledger, error) {
	if accountID == "" {
		return nil, fmt.Errorf("new ledger: empty account id")
	}
	if initialCapital <= 0 {
		return nil, fmt.Errorf("new ledger: initial capital must be positive, got %v", initialCapital)
	}
	return &Ledger{
		accountID:        accountID,
		initialCapital:   initialCapital,
		availableCash:    initialCapital,
		withdrawableCash: initialCapital,
		positions:        make(map[string]*position),
	}, nil
}

// FreezeCash moves amount from available to frozen cash, reserving it for an
// open buy order.
func (l *Ledger) FreezeCash(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("freeze cash: %w: %v", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.availableCash {
		return fmt.Errorf("freeze cash %.2f: %w (available %.2f)", amount, ErrInsufficientCash, l.availableCash)
	}
	l.availableCash -= amount
	l.frozenCash += amount
	return nil
}

// UnfreezeCash releases reserved cash back to available. The amount is
// clamped to the frozen balance so a double release never underflows.
func (l *Ledger) UnfreezeCash(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.frozenCash {
		amount = l.frozenCash
	}
	l.frozenCash -= amount
	l.availableCash += amount
}

// DeductCash removes amount from available cash outright. Used for the
// actual cost of a buy fill (after its reservation is unfrozen) and for
// commissions on sell fills.
func (l *Ledger) DeductCash(amount float64) error {
	if amount < 0 {
		return fmt.Errorf("deduct cash: %w: %v", ErrInvalidAmount, amount)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount > l.availableCash {
		return fmt.Errorf("deduct cash %.2f: %w (available %.2f)", amount, ErrInsufficientCash, l.availableCash)
	}
	l.availableCash -= amount
	return nil
}

// CreditCash adds amount to available cash. Used to reverse a deduction
// when a composite operation fails partway; withdrawable cash is untouched.
func (l *Ledger) CreditCash(amount float64) {
	if amount <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.availableCash += amount
}

// FreezePosition reserves volume shares against an open sell order.
func (l *Ledger) FreezePosition(symbol string, volume int64) error {
	if volume <= 0 {
		return fmt.Errorf("freeze position %s: %w: volume %d", symbol, ErrInvalidAmount, volume)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return fmt.Errorf("freeze position %s: %w", symbol, ErrNoPosition)
	}
	if volume > pos.volume-pos.frozenVolume {
		return fmt.Errorf("freeze position %s: %w: want %d, unfrozen %d",
			symbol, ErrInsufficientPosition, volume, pos.volume-pos.frozenVolume)
	}
	pos.frozenVolume += volume
	if pos.availableVolume > pos.volume-pos.frozenVolume {
		pos.availableVolume = pos.volume - pos.frozenVolume
	}
	return nil
}

// UnfreezePosition releases reserved shares, clamped to the frozen volume.
func (l *Ledger) UnfreezePosition(symbol string, volume int64) {
	if volume <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	if volume > pos.frozenVolume {
		volume = pos.frozenVolume
	}
	pos.frozenVolume -= volume
}

// AddPosition records a buy fill: volume shares at price on buyDate
// (YYYYMMDD). A new position starts with AvailableVolume 0 (T+1 lock). An
// existing position gets the lot weighted into its average cost, and keeps
// the earliest buy date so the merged position unlocks conservatively.
func (l *Ledger) AddPosition(symbol string, volume int64, price float64, buyDate int) error {
	if symbol == "" {
		return fmt.Errorf("add position: %w: empty symbol", ErrInvalidAmount)
	}
	if volume <= 0 || volume > MaxVolume {
		return fmt.Errorf("add position %s: %w: volume %d", symbol, ErrInvalidAmount, volume)
	}
	if price <= 0 || price > MaxPrice {
		return fmt.Errorf("add position %s: %w: price %v", symbol, ErrInvalidAmount, price)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		pos = &position{
			symbol:       symbol,
			volume:       volume,
			avgCost:      money.RoundCent(price),
			currentPrice: price,
			buyDate:      buyDate,
		}
		l.positions[symbol] = pos
		pos.refresh()
		return nil
	}

	newVolume := pos.volume + volume
	pos.avgCost = money.RoundCent((pos.avgCost*float64(pos.volume) + price*float64(volume)) / float64(newVolume))
	pos.volume = newVolume
	if buyDate < pos.buyDate || pos.buyDate == 0 {
		pos.buyDate = buyDate
	}
	pos.currentPrice = price
	pos.refresh()
	return nil
}

// ReducePosition records a sell fill of volume shares at sellPrice and
// returns the realized PnL against the average cost. Gross proceeds are
// credited to available cash (commission is deducted separately by the
// exchange) and counted into todaySellAmount; they do not become
// withdrawable until the next settlement. The position is deleted when its
// volume reaches zero.
func (l *Ledger) ReducePosition(symbol string, volume int64, sellPrice float64) (float64, error) {
	if volume <= 0 {
		return 0, fmt.Errorf("reduce position %s: %w: volume %d", symbol, ErrInvalidAmount, volume)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return 0, fmt.Errorf("reduce position %s: %w", symbol, ErrNoPosition)
	}
	if volume > pos.volume {
		return 0, fmt.Errorf("reduce position %s: %w: want %d, held %d",
			symbol, ErrInsufficientPosition, volume, pos.volume)
	}

	realized := money.RoundCent(float64(volume) * (sellPrice - pos.avgCost))
	proceeds := money.Mul(sellPrice, volume)

	l.availableCash += proceeds
	l.todaySellAmount += proceeds
	l.realizedPnL = money.RoundCent(l.realizedPnL + realized)

	pos.volume -= volume
	pos.availableVolume -= volume
	if pos.availableVolume < 0 {
		pos.availableVolume = 0
	}
	if pos.volume == 0 {
		delete(l.positions, symbol)
	} else {
		pos.refresh()
	}
	return realized, nil
}

// CanSell reports whether volume shares of symbol may be sold on
// currentDate (YYYYMMDD). Shares bought on an earlier date are sellable up
// to the unfrozen volume; shares bought today are limited to
// AvailableVolume, which is zero until the next settlement.
func (l *Ledger) CanSell(symbol string, volume int64, currentDate int) bool {
	if volume <= 0 {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return false
	}
	if pos.buyDate < currentDate {
		return volume <= pos.volume-pos.frozenVolume
	}
	return volume <= pos.availableVolume
}

// DailySettlement runs the end-of-day transition for currentDate (YYYYMMDD):
// yesterday's sell proceeds become withdrawable, the daily sell counter
// resets, and positions bought before currentDate unlock for sale.
func (l *Ledger) DailySettlement(currentDate int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.withdrawableCash = l.availableCash
	l.todaySellAmount = 0
	for _, pos := range l.positions {
		if pos.buyDate < currentDate {
			pos.availableVolume = pos.volume - pos.frozenVolume
		}
	}
}

// UpdatePositionPrice marks a position to the latest trade price.
func (l *Ledger) UpdatePositionPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.currentPrice = price
	pos.refresh()
}

// GetPosition returns a copy of the position for symbol.
func (l *Ledger) GetPosition(symbol string) (types.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return types.Position{}, false
	}
	return pos.view(), true
}

// Positions returns copies of all open positions keyed by symbol.
func (l *Ledger) Positions() map[string]types.Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string]types.Position, len(l.positions))
	for sym, pos := range l.positions {
		out[sym] = pos.view()
	}
	return out
}

// AvailableCash returns the cash spendable on new buys.
func (l *Ledger) AvailableCash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.availableCash
}

// WithdrawableCash returns the cash transferable out of the account.
func (l *Ledger) WithdrawableCash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.withdrawableCash
}

// FrozenCash returns the cash reserved by open buy orders.
func (l *Ledger) FrozenCash() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.frozenCash
}

// RealizedPnL returns the cumulative realized profit and loss.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.realizedPnL
}

// TotalAssets returns available + frozen cash plus the market value of all
// positions.
func (l *Ledger) TotalAssets() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.availableCash + l.frozenCash
	for _, pos := range l.positions {
		total += pos.marketValue
	}
	return money.RoundCent(total)
}

// Snapshot returns a full copy of the account state.
func (l *Ledger) Snapshot() types.AccountSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	positions := make(map[string]types.Position, len(l.positions))
	total := l.availableCash + l.frozenCash
	for sym, pos := range l.positions {
		positions[sym] = pos.view()
		total += pos.marketValue
	}
	return types.AccountSnapshot{
		AccountID:        l.accountID,
		InitialCapital:   l.initialCapital,
		AvailableCash:    l.availableCash,
		WithdrawableCash: l.withdrawableCash,
		FrozenCash:       l.frozenCash,
		TodaySellAmount:  l.todaySellAmount,
		RealizedPnL:      l.realizedPnL,
		TotalAssets:      money.RoundCent(total),
		Positions:        positions,
	}
}
