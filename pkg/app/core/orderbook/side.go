package orderbook

import (
	"container/heap"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrOwnerMismatch = errors.New("order owned by different account")
	ErrBookFull      = errors.New("order book full")
)

// BookSide holds the resting orders of one side in price-time priority.
// Each price level is a FIFO slice; ids are monotonic, so FIFO within a
// level is the same as ascending id. A price heap gives O(1) access to
// the best level and O(log n) level insertion.
type BookSide struct {
	side   Side
	levels map[int64][]*Order // price -> orders, earliest first
	prices *priceHeap
	index  map[uint64]int64 // order id -> price, for O(1) lookup
	count  int
}

func NewBookSide(side Side) *BookSide {
	return &BookSide{
		side:   side,
		levels: make(map[int64][]*Order),
		prices: &priceHeap{desc: side == Bid},
		index:  make(map[uint64]int64),
	}
}

func (bs *BookSide) Len() int { return bs.count }

// TotalBaseLots sums remaining base lots across the side. The book
// invariant checked by tests: this equals the sum of the side's
// reservations across all accounts.
func (bs *BookSide) TotalBaseLots() int64 {
	var total int64
	for _, level := range bs.levels {
		for _, o := range level {
			total += o.RemainingBaseLots
		}
	}
	return total
}

// Insert adds a resting order, preserving the priority rule.
func (bs *BookSide) Insert(o *Order) error {
	if _, dup := bs.index[o.ID]; dup {
		return errors.New("duplicate order id")
	}
	if len(bs.levels[o.PriceLots]) == 0 {
		heap.Push(bs.prices, o.PriceLots)
	}
	bs.levels[o.PriceLots] = append(bs.levels[o.PriceLots], o)
	bs.index[o.ID] = o.PriceLots
	bs.count++
	return nil
}

// Remove removes the order with the given id on behalf of owner.
// Returns ErrOrderNotFound if absent, ErrOwnerMismatch if the id exists
// but belongs to a different account.
func (bs *BookSide) Remove(id uint64, owner common.Address) (*Order, error) {
	price, ok := bs.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	level := bs.levels[price]
	for i, o := range level {
		if o.ID != id {
			continue
		}
		if o.Owner != owner {
			return nil, ErrOwnerMismatch
		}
		bs.deleteAt(price, i)
		return o, nil
	}
	return nil, ErrOrderNotFound
}

// Delete removes an order unconditionally. Used by the matching commit
// path for filled and expiry-evicted makers, where ownership was already
// resolved by the scan.
func (bs *BookSide) Delete(id uint64) (*Order, error) {
	price, ok := bs.index[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	for i, o := range bs.levels[price] {
		if o.ID == id {
			bs.deleteAt(price, i)
			return o, nil
		}
	}
	return nil, ErrOrderNotFound
}

// Contains reports whether an order id rests on this side.
func (bs *BookSide) Contains(id uint64) bool {
	_, ok := bs.index[id]
	return ok
}

// PeekBest returns the highest-priority order, or nil if the side is
// empty. The caller must not mutate it.
func (bs *BookSide) PeekBest() *Order {
	if bs.prices.Len() == 0 {
		return nil
	}
	level := bs.levels[bs.prices.Peek()]
	if len(level) == 0 {
		return nil
	}
	return level[0]
}

// Iterate walks the side in priority order (best price first, lowest id
// first within a level) until fn returns false. The book must not be
// mutated during iteration; the matching engine iterates to build a plan
// and applies mutations afterwards.
func (bs *BookSide) Iterate(fn func(*Order) bool) {
	prices := make([]int64, 0, len(bs.levels))
	for p, level := range bs.levels {
		if len(level) > 0 {
			prices = append(prices, p)
		}
	}
	if bs.side == Bid {
		sort.Slice(prices, func(i, j int) bool { return prices[i] > prices[j] })
	} else {
		sort.Slice(prices, func(i, j int) bool { return prices[i] < prices[j] })
	}
	for _, p := range prices {
		for _, o := range bs.levels[p] {
			if !fn(o) {
				return
			}
		}
	}
}

// Orders returns every resting order in priority order.
func (bs *BookSide) Orders() []*Order {
	out := make([]*Order, 0, bs.count)
	bs.Iterate(func(o *Order) bool {
		out = append(out, o)
		return true
	})
	return out
}

func (bs *BookSide) deleteAt(price int64, i int) {
	level := bs.levels[price]
	id := level[i].ID
	bs.levels[price] = append(level[:i], level[i+1:]...)
	if len(bs.levels[price]) == 0 {
		delete(bs.levels, price)
		bs.removePrice(price)
	}
	delete(bs.index, id)
	bs.count--
}

// removePrice drops an emptied level from the heap. O(n) worst case, but
// only runs when a level empties.
func (bs *BookSide) removePrice(price int64) {
	for i, p := range bs.prices.prices {
		if p == price {
			heap.Remove(bs.prices, i)
			return
		}
	}
}
