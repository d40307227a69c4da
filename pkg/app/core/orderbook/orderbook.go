package orderbook

import "github.com/ethereum/go-ethereum/common"

// PriceLevel aggregates quantity at one price, for depth snapshots and
// state hashing.
type PriceLevel struct {
	Price int64
	Qty   int64
}

// OrderBook is the two sides of one market. Capacity bounds the number
// of resting orders per side; an expired order still occupies capacity
// until a matching scan evicts it.
type OrderBook struct {
	bids     *BookSide
	asks     *BookSide
	capacity int
}

func NewOrderBook(capacity int) *OrderBook {
	return &OrderBook{
		bids:     NewBookSide(Bid),
		asks:     NewBookSide(Ask),
		capacity: capacity,
	}
}

// SideOf returns the requested side.
func (ob *OrderBook) SideOf(s Side) *BookSide {
	if s == Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) Bids() *BookSide { return ob.bids }
func (ob *OrderBook) Asks() *BookSide { return ob.asks }

// HasRoom reports whether one more order fits on the given side.
func (ob *OrderBook) HasRoom(s Side) bool {
	return ob.capacity <= 0 || ob.SideOf(s).Len() < ob.capacity
}

// Remove removes an order by id on behalf of owner, searching both
// sides. Ids are unique across the book.
func (ob *OrderBook) Remove(id uint64, owner common.Address) (*Order, error) {
	if ob.bids.Contains(id) {
		return ob.bids.Remove(id, owner)
	}
	return ob.asks.Remove(id, owner)
}

// OrdersOf returns copies of owner's resting orders on both sides, in
// priority order.
func (ob *OrderBook) OrdersOf(owner common.Address) []Order {
	var out []Order
	for _, bs := range []*BookSide{ob.bids, ob.asks} {
		bs.Iterate(func(o *Order) bool {
			if o.Owner == owner {
				out = append(out, *o)
			}
			return true
		})
	}
	return out
}

// Levels returns aggregated depth for one side, best price first.
func (ob *OrderBook) Levels(s Side) []PriceLevel {
	var out []PriceLevel
	ob.SideOf(s).Iterate(func(o *Order) bool {
		n := len(out)
		if n > 0 && out[n-1].Price == o.PriceLots {
			out[n-1].Qty += o.RemainingBaseLots
		} else {
			out = append(out, PriceLevel{Price: o.PriceLots, Qty: o.RemainingBaseLots})
		}
		return true
	})
	return out
}

// BestBid returns the best bid price, or 0 if no bids.
func (ob *OrderBook) BestBid() int64 {
	if o := ob.bids.PeekBest(); o != nil {
		return o.PriceLots
	}
	return 0
}

// BestAsk returns the best ask price, or 0 if no asks.
func (ob *OrderBook) BestAsk() int64 {
	if o := ob.asks.PeekBest(); o != nil {
		return o.PriceLots
	}
	return 0
}
