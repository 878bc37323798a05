package match

import (
	"math"
	"sync"

	"github.com/link-light/apexquant/pkg/types"
)

// LimitQueue holds orders blocked by the daily price limit, one FIFO per
// symbol and per direction: buys parked at the upper limit, sells at the
// lower. Insertion order is arrival order; drains preserve it.
//
// All operations lock the queue's own mutex. The exchange calls in while
// holding its own mutex (lock order exchange -> queue) and the queue never
// calls back out.
type LimitQueue struct {
	mu   sync.Mutex
	up   map[string][]*types.Order // BUY orders stuck at the upper limit
	down map[string][]*types.Order // SELL orders stuck at the lower limit
}

// NewLimitQueue creates an empty queue set.
func NewLimitQueue() *LimitQueue {
	return &LimitQueue{
		up:   make(map[string][]*types.Order),
		down: make(map[string][]*types.Order),
	}
}

// Enqueue parks an order at the tail of its symbol's queue: buys into the
// upper-limit queue, sells into the lower-limit queue.
func (q *LimitQueue) Enqueue(order *types.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if order.Side == types.BUY {
		q.up[order.Symbol] = append(q.up[order.Symbol], order)
	} else {
		q.down[order.Symbol] = append(q.down[order.Symbol], order)
	}
}

// Drain releases orders for symbol against the new tick, in queue order
// (upper queue first). Two classes come back:
//
//   - ready: the last price has moved off that queue's limit, so every
//     queued order is released for full rematching (a ready order that
//     still trips the band check re-enqueues at the tail).
//   - trickled: the price is still pinned at the limit, and max(1, n/10)
//     orders from the front got lucky, modeling the chance of a standing
//     order being reached while the tape is stuck. The exchange rematches
//     these with the band check on, so one that still trips it re-enqueues
//     at the tail.
func (q *LimitQueue) Drain(symbol string, tick types.TickSnapshot) (ready, trickled []*types.Order) {
	q.mu.Lock()
	defer q.mu.Unlock()

	down, up := LimitBand(symbol, tick.LastClose)
	atUpper := tick.LastClose > 0 && math.Abs(tick.LastPrice-up) < limitEpsilon
	atLower := tick.LastClose > 0 && math.Abs(tick.LastPrice-down) < limitEpsilon

	for _, side := range []struct {
		queues      map[string][]*types.Order
		stillAtEdge bool
	}{{q.up, atUpper}, {q.down, atLower}} {
		released := q.drainOne(side.queues, symbol, side.stillAtEdge)
		if side.stillAtEdge {
			trickled = append(trickled, released...)
		} else {
			ready = append(ready, released...)
		}
	}
	return ready, trickled
}

// drainOne pops from a single queue under the caller's lock.
func (q *LimitQueue) drainOne(queues map[string][]*types.Order, symbol string, stillAtLimit bool) []*types.Order {
	queue := queues[symbol]
	if len(queue) == 0 {
		return nil
	}

	n := len(queue)
	if stillAtLimit {
		n = len(queue) / 10
		if n < 1 {
			n = 1
		}
	}

	released := queue[:n]
	rest := queue[n:]
	if len(rest) == 0 {
		delete(queues, symbol)
	} else {
		queues[symbol] = append([]*types.Order(nil), rest...)
	}
	return released
}

// Remove deletes the first order with orderID from either queue and reports
// whether it was found. Cancellation is the only exit from the queue besides
// Drain.
func (q *LimitQueue) Remove(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return removeFrom(q.up, orderID) || removeFrom(q.down, orderID)
}

func removeFrom(queues map[string][]*types.Order, orderID string) bool {
	for sym, queue := range queues {
		for i, order := range queue {
			if order.OrderID != orderID {
				continue
			}
			queue = append(queue[:i], queue[i+1:]...)
			if len(queue) == 0 {
				delete(queues, sym)
			} else {
				queues[sym] = queue
			}
			return true
		}
	}
	return false
}

// Len returns the number of parked orders for symbol across both queues.
func (q *LimitQueue) Len(symbol string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.up[symbol]) + len(q.down[symbol])
}
