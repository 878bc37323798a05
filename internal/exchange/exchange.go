// Package exchange is the simulated exchange core.
//
// It is the single entry point strategies and the market-data feed talk to:
//
//	SubmitOrder     validates an order, reserves cash or shares, parks it PENDING
//	OnTick          matches pending orders for the tick's symbol, commits fills
//	CancelOrder     releases a pending order's reservations
//	DailySettlement runs the T+1 end-of-day transition
//
// Every mutating entry point takes the exchange mutex for the whole call, so
// concurrent strategy goroutines and the feed goroutine serialize here. The
// ledger and limit queue have their own mutexes; every mutating call into
// them is made while the exchange mutex is held (lock order: exchange ->
// ledger -> queue), and they never call back out, so the hierarchy cannot
// deadlock. The account read accessors (GetPosition, Positions, the cash
// getters, AccountSnapshot) and LastTick call the ledger or quote cache
// directly without taking the exchange mutex.
//
// Orders are processed in submission order within a tick, limit-queue drains
// run before fresh matching, and no lock is ever held across I/O (the core
// performs none).
package exchange

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/link-light/apexquant/internal/account"
	"github.com/link-light/apexquant/internal/market"
	"github.com/link-light/apexquant/internal/match"
	"github.com/link-light/apexquant/pkg/money"
	"github.com/link-light/apexquant/pkg/types"
)

// feeReserveFactor pads buy-cash reservations for commissions.
const feeReserveFactor = 1.003

// cst is the exchange timezone; trading dates are derived in it.
var cst = time.FixedZone("CST", 8*3600)

// ErrOrderRejected wraps every submit-time rejection so callers can test
// with errors.Is while still reading the specific reason.
var ErrOrderRejected = errors.New("order rejected")

// Params configures one exchange instance.
type Params struct {
	AccountID       string
	InitialCapital  float64
	CommissionRate  float64 // broker commission, e.g. 0.00025
	SlippageRate    float64 // base slippage, e.g. 0.001
	PriceCeiling    float64 // reservation fallback for never-quoted symbols
	CheckPriceLimit bool    // enforce daily price-limit bands
	Seed            int64   // slippage RNG seed; fixed seed = reproducible run
}

// DefaultParams returns the standard A-share simulation parameters.
func DefaultParams() Params {
	return Params{
		AccountID:       "sim",
		InitialCapital:  1_000_000,
		CommissionRate:  0.00025,
		SlippageRate:    0.001,
		PriceCeiling:    account.MaxPrice,
		CheckPriceLimit: true,
		Seed:            1,
	}
}

// Exchange is the simulated exchange core. Construct with New; the zero
// value is not usable.
type Exchange struct {
	mu sync.Mutex

	params  Params
	ledger  *account.Ledger
	matcher *match.Matcher
	queue   *match.LimitQueue
	quotes  *market.Quotes
	ids     idGenerator
	logger  *slog.Logger
	now     func() time.Time

	// orders is the registry; orderSeq preserves submission order because
	// map iteration does not.
	orders   map[string]*types.Order
	orderSeq []string

	// parked marks orders sitting in a limit queue so the pending scan in
	// OnTick does not double-process them.
	parked map[string]bool

	// reservations holds the frozen cash estimate per open buy order.
	reservations map[string]float64

	trades []types.TradeRecord

	currentDate int // trading date (YYYYMMDD) of the latest tick; 0 before any
}

// New creates an exchange with a freshly funded ledger.
func New(params Params, logger *slog.Logger) (*Exchange, error) {
	if params.PriceCeiling <= 0 {
		params.PriceCeiling = account.MaxPrice
	}
	ledger, err := account.NewLedger(params.AccountID, params.InitialCapital)
	if err != nil {
		return nil, fmt.Errorf("new exchange: %w", err)
	}
	return &Exchange{
		params:       params,
		ledger:       ledger,
		matcher:      match.NewMatcher(params.Seed),
		queue:        match.NewLimitQueue(),
		quotes:       market.NewQuotes(),
		logger:       logger.With("component", "exchange"),
		now:          time.Now,
		orders:       make(map[string]*types.Order),
		parked:       make(map[string]bool),
		reservations: make(map[string]float64),
	}, nil
}

// DateOf converts a millisecond epoch timestamp to a YYYYMMDD trading date
// in exchange time.
func DateOf(tsMillis int64) int {
	t := time.UnixMilli(tsMillis).In(cst)
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// SubmitOrder validates the order, reserves its resources, assigns an ID and
// parks it PENDING until a tick arrives for its symbol. The order ID is
// returned even when the order is rejected, so the caller can audit it; the
// error carries the rejection reason.
func (e *Exchange) SubmitOrder(order types.Order) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now().UnixMilli()
	order.OrderID = e.ids.NextOrderID(now, order.Symbol)
	order.Status = types.OrderStatusPending
	order.FilledVolume = 0
	order.SubmitTime = now
	if order.CommissionRate == 0 {
		order.CommissionRate = e.params.CommissionRate
	}
	if order.SlippageRate == 0 {
		order.SlippageRate = e.params.SlippageRate
	}

	o := &order
	e.orders[o.OrderID] = o
	e.orderSeq = append(e.orderSeq, o.OrderID)

	if reason := validateSubmit(o); reason != "" {
		o.Status = types.OrderStatusRejected
		o.RejectReason = reason
		return o.OrderID, fmt.Errorf("submit %s: %w: %s", o.OrderID, ErrOrderRejected, reason)
	}

	// The T+1 check runs against the trading date of the latest tick; the
	// wall clock is only the fallback before any tick has arrived.
	today := e.currentDate
	if today == 0 {
		today = DateOf(now)
	}
	if err := e.reserveLocked(o, today); err != nil {
		o.Status = types.OrderStatusRejected
		o.RejectReason = err.Error()
		return o.OrderID, fmt.Errorf("submit %s: %w: %v", o.OrderID, ErrOrderRejected, err)
	}

	e.logger.Debug("order accepted",
		"order_id", o.OrderID, "symbol", o.Symbol,
		"side", o.Side, "type", o.Type,
		"price", o.Price, "volume", o.Volume,
	)
	return o.OrderID, nil
}

func validateSubmit(o *types.Order) string {
	switch {
	case o.Symbol == "":
		return "empty symbol"
	case o.Volume <= 0:
		return fmt.Sprintf("invalid volume %d", o.Volume)
	case o.Side != types.BUY && o.Side != types.SELL:
		return fmt.Sprintf("invalid side %q", o.Side)
	case o.Type == types.OrderTypeLimit && o.Price <= 0:
		return fmt.Sprintf("invalid limit price %v", o.Price)
	case o.Type == types.OrderTypeMarket && o.Price != 0:
		return fmt.Sprintf("market order carries price %v", o.Price)
	case o.Type != types.OrderTypeLimit && o.Type != types.OrderTypeMarket:
		return fmt.Sprintf("invalid order type %q", o.Type)
	}
	return ""
}

// reserveLocked freezes the resources an order needs: cash for buys
// (estimated from the limit price or the last quote, padded for fees),
// shares for sells (after the T+1 check).
func (e *Exchange) reserveLocked(o *types.Order, today int) error {
	if o.Side == types.BUY {
		estimate := money.RoundCent(e.buyEstimateRef(o) * float64(o.Volume) * feeReserveFactor)
		if err := e.ledger.FreezeCash(estimate); err != nil {
			return err
		}
		e.reservations[o.OrderID] = estimate
		return nil
	}

	if !e.ledger.CanSell(o.Symbol, o.Volume, today) {
		return fmt.Errorf("%w: %d shares of %s not sellable today (T+1 or insufficient position)",
			account.ErrInsufficientPosition, o.Volume, o.Symbol)
	}
	return e.ledger.FreezePosition(o.Symbol, o.Volume)
}

// buyEstimateRef picks the per-share price to reserve against: the limit
// price for limit orders, else the last known quote, else the configured
// ceiling for symbols that have never ticked.
func (e *Exchange) buyEstimateRef(o *types.Order) float64 {
	if o.Type == types.OrderTypeLimit {
		return o.Price
	}
	if last := e.quotes.LastPrice(o.Symbol); last > 0 {
		return last
	}
	return e.params.PriceCeiling
}

// OnTick consumes one market snapshot. Limit-queue drains run first, then
// all pending orders for the tick's symbol are matched in submission order.
func (e *Exchange) OnTick(tick types.TickSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if tick.Symbol == "" || tick.Timestamp <= 0 {
		return
	}
	currentDate := DateOf(tick.Timestamp)
	e.currentDate = currentDate

	e.quotes.Update(tick)
	e.ledger.UpdatePositionPrice(tick.Symbol, tick.LastPrice)

	ready, trickled := e.queue.Drain(tick.Symbol, tick)
	for _, order := range ready {
		delete(e.parked, order.OrderID)
		e.matchLocked(order, tick, currentDate, e.params.CheckPriceLimit)
	}
	// Orders that trickled out while the tape is still pinned go through the
	// same band check; one that still trips it re-enqueues at the tail.
	for _, order := range trickled {
		delete(e.parked, order.OrderID)
		e.matchLocked(order, tick, currentDate, e.params.CheckPriceLimit)
	}

	for _, id := range e.orderSeq {
		order := e.orders[id]
		if order.Symbol != tick.Symbol || order.Status != types.OrderStatusPending || e.parked[id] {
			continue
		}
		e.matchLocked(order, tick, currentDate, e.params.CheckPriceLimit)
	}
}

// matchLocked runs one order through the matcher and dispatches on the
// outcome. Caller holds the exchange mutex.
func (e *Exchange) matchLocked(order *types.Order, tick types.TickSnapshot, currentDate int, checkPriceLimit bool) {
	res := e.matcher.TryMatch(order, tick, checkPriceLimit)
	switch res.Outcome {
	case match.OutcomeFilled:
		e.fillLocked(order, res, tick.Timestamp, currentDate)
	case match.OutcomeAtPriceLimit:
		e.queue.Enqueue(order)
		e.parked[order.OrderID] = true
		e.logger.Debug("order parked at price limit", "order_id", order.OrderID, "reason", res.Reason)
	case match.OutcomeDeferred:
		// Limit price not reached; stays pending.
	default:
		e.rejectLocked(order, res.Reason)
	}
}

// fillLocked commits a fill to the ledger and emits a trade record. Any
// partial failure reverses the earlier side effects and downgrades the
// order to REJECTED, so readers never observe a half-committed fill.
func (e *Exchange) fillLocked(order *types.Order, res match.Result, ts int64, currentDate int) {
	commission := match.TotalCommission(order.Side, order.Symbol, res.Price, res.Volume, order.CommissionRate)
	var realized float64

	if order.Side == types.BUY {
		estimate := e.reservations[order.OrderID]
		delete(e.reservations, order.OrderID)
		e.ledger.UnfreezeCash(estimate)

		cost := money.RoundCent(money.Mul(res.Price, res.Volume) + commission)
		if err := e.ledger.DeductCash(cost); err != nil {
			// The reservation is already released, which is exactly the
			// reject compensation for a buy.
			e.markRejected(order, fmt.Sprintf("fill cost %.2f uncoverable: %v", cost, err))
			return
		}
		if err := e.ledger.AddPosition(order.Symbol, res.Volume, res.Price, currentDate); err != nil {
			e.ledger.CreditCash(cost)
			e.markRejected(order, fmt.Sprintf("position update failed: %v", err))
			return
		}
	} else {
		proceeds := money.Mul(res.Price, res.Volume)
		if e.ledger.AvailableCash()+proceeds < commission {
			e.rejectLocked(order, fmt.Sprintf("commission %.2f exceeds proceeds and cash", commission))
			return
		}
		var err error
		realized, err = e.ledger.ReducePosition(order.Symbol, res.Volume, res.Price)
		if err != nil {
			e.rejectLocked(order, fmt.Sprintf("position reduce failed: %v", err))
			return
		}
		if err := e.ledger.DeductCash(commission); err != nil {
			// Guarded above; only reachable if the ledger drifted.
			e.logger.Error("commission deduction failed after reduce", "order_id", order.OrderID, "error", err)
		}
		e.ledger.UnfreezePosition(order.Symbol, res.Volume)
	}

	order.Status = types.OrderStatusFilled
	order.FilledVolume = res.Volume
	order.FilledTime = ts

	trade := types.TradeRecord{
		TradeID:     e.ids.NextTradeID(ts),
		OrderID:     order.OrderID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Price:       res.Price,
		Volume:      res.Volume,
		Commission:  commission,
		TradeTime:   ts,
		RealizedPnL: realized,
	}
	e.trades = append(e.trades, trade)

	e.logger.Info("order filled",
		"order_id", order.OrderID, "trade_id", trade.TradeID,
		"symbol", order.Symbol, "side", order.Side,
		"price", res.Price, "volume", res.Volume,
		"commission", commission, "realized_pnl", realized,
	)
}

// rejectLocked releases an order's reservations and marks it REJECTED.
func (e *Exchange) rejectLocked(order *types.Order, reason string) {
	e.releaseLocked(order)
	e.markRejected(order, reason)
}

func (e *Exchange) markRejected(order *types.Order, reason string) {
	order.Status = types.OrderStatusRejected
	order.RejectReason = reason
	e.logger.Debug("order rejected", "order_id", order.OrderID, "reason", reason)
}

// releaseLocked undoes an order's resource reservation.
func (e *Exchange) releaseLocked(order *types.Order) {
	if order.Side == types.BUY {
		if estimate, ok := e.reservations[order.OrderID]; ok {
			delete(e.reservations, order.OrderID)
			e.ledger.UnfreezeCash(estimate)
		}
		return
	}
	e.ledger.UnfreezePosition(order.Symbol, order.Volume)
}

// CancelOrder cancels a pending order, releasing its reservations and
// pulling it from the limit queue if parked. Returns false when the order
// does not exist or is no longer pending; a second cancel of the same order
// is a no-op returning false.
func (e *Exchange) CancelOrder(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok || order.Status != types.OrderStatusPending {
		return false
	}

	e.releaseLocked(order)
	e.queue.Remove(orderID)
	delete(e.parked, orderID)

	order.Status = types.OrderStatusCancelled
	order.CancelTime = e.now().UnixMilli()
	e.logger.Debug("order cancelled", "order_id", orderID)
	return true
}

// DailySettlement runs the end-of-day transition for currentDate (YYYYMMDD):
// sell proceeds become withdrawable and T+1 locks from earlier dates open.
func (e *Exchange) DailySettlement(currentDate int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.ledger.DailySettlement(currentDate)
	e.logger.Info("daily settlement complete", "date", currentDate)
}

// GetOrder returns a copy of the order with orderID.
func (e *Exchange) GetOrder(orderID string) (types.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	order, ok := e.orders[orderID]
	if !ok {
		return types.Order{}, false
	}
	return *order, true
}

// PendingOrders returns copies of all pending orders in submission order.
// With a non-empty symbol, only that symbol's orders are returned.
func (e *Exchange) PendingOrders(symbol string) []types.Order {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []types.Order
	for _, id := range e.orderSeq {
		order := e.orders[id]
		if order.Status != types.OrderStatusPending {
			continue
		}
		if symbol != "" && order.Symbol != symbol {
			continue
		}
		out = append(out, *order)
	}
	return out
}

// TradeHistory returns a copy of all trade records in fill order.
func (e *Exchange) TradeHistory() []types.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.TradeRecord(nil), e.trades...)
}

// GetPosition returns the position for symbol.
func (e *Exchange) GetPosition(symbol string) (types.Position, bool) {
	return e.ledger.GetPosition(symbol)
}

// Positions returns all open positions keyed by symbol.
func (e *Exchange) Positions() map[string]types.Position {
	return e.ledger.Positions()
}

// TotalAssets returns cash plus position market value.
func (e *Exchange) TotalAssets() float64 { return e.ledger.TotalAssets() }

// AvailableCash returns the cash spendable on new buys.
func (e *Exchange) AvailableCash() float64 { return e.ledger.AvailableCash() }

// WithdrawableCash returns the cash transferable out of the account.
func (e *Exchange) WithdrawableCash() float64 { return e.ledger.WithdrawableCash() }

// FrozenCash returns the cash reserved by open buy orders.
func (e *Exchange) FrozenCash() float64 { return e.ledger.FrozenCash() }

// AccountSnapshot returns the full account view.
func (e *Exchange) AccountSnapshot() types.AccountSnapshot { return e.ledger.Snapshot() }

// LastTick returns the most recent tick seen for symbol.
func (e *Exchange) LastTick(symbol string) (types.TickSnapshot, bool) {
	return e.quotes.LastTick(symbol)
}
