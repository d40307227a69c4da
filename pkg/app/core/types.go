// Package core is the deterministic matching and settlement state
// machine. Every instruction against one market is applied as a single
// synchronous step; the ledger layer above supplies the global order.
package core

import (
	"github.com/solape-labs/openbook-v2/pkg/app/core/events"
	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
)

// Re-export the types callers of the engine touch most.
type (
	Side       = orderbook.Side
	Order      = orderbook.Order
	OrderBook  = orderbook.OrderBook
	PriceLevel = orderbook.PriceLevel
	Market     = market.Market
	FillEvent  = events.Fill
	OutEvent   = events.Out
)

const (
	Bid = orderbook.Bid
	Ask = orderbook.Ask
)
