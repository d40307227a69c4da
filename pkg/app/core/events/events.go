package events

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
)

// Event is a queued effect still owed to one or more accounts. Events
// are the only channel through which a taker's match reaches a maker's
// position.
type Event interface {
	// Targets lists the accounts the event must be applied to before it
	// can leave the queue. Duplicates are collapsed (self-trades).
	Targets() []common.Address
}

// Fill records one match. The maker leg folds the quantity and
// fee-adjusted notional into the maker's position; the taker leg folds
// the pending buffers booked at placement. MakerFeeBps is snapshotted
// at match time so a later admin fee change cannot re-price an already
// matched fill.
type Fill struct {
	Maker              common.Address
	Taker              common.Address
	TakerSide          orderbook.Side
	PriceLots          int64
	BaseLots           int64
	QuoteLots          int64
	MakerFeeBps        int64
	MakerOrderID       uint64
	MakerClientOrderID uint64
	Timestamp          int64
}

func (f *Fill) Targets() []common.Address {
	if f.Maker == f.Taker {
		return []common.Address{f.Maker}
	}
	return []common.Address{f.Maker, f.Taker}
}

// Out records a resting order evicted without a counterparty fill
// (expiry found during a matching scan). Consuming it releases the
// order's reservation back to the owner's free balance.
type Out struct {
	Owner     common.Address
	Side      orderbook.Side
	PriceLots int64
	BaseLots  int64
	QuoteLots int64
	OrderID   uint64
	Timestamp int64
}

func (o *Out) Targets() []common.Address {
	return []common.Address{o.Owner}
}
