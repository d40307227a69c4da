package orderbook

import "github.com/ethereum/go-ethereum/common"

type Side int8

const (
	Bid Side = 1
	Ask Side = -1
)

func (s Side) String() string {
	switch s {
	case Bid:
		return "bid"
	case Ask:
		return "ask"
	default:
		return "unknown"
	}
}

// Opposite returns the side a taker order matches against.
func (s Side) Opposite() Side { return -s }

// Order is a resting limit order. Ids come from the market's sequence
// counter, so a lower id at the same price means earlier submission.
type Order struct {
	ID                uint64
	Owner             common.Address
	Side              Side
	PriceLots         int64 // quote lots per base lot
	RemainingBaseLots int64
	ClientOrderID     uint64
	ExpiryTimestamp   int64 // unix seconds, 0 = never expires
}

// IsExpired reports whether the order has passed its expiry at the given
// ledger time. Expiry is only ever evaluated when a scan examines the
// order; nothing fires on a timer.
func (o *Order) IsExpired(now int64) bool {
	return o.ExpiryTimestamp != 0 && o.ExpiryTimestamp <= now
}
