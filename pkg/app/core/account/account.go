package account

import (
	"github.com/ethereum/go-ethereum/common"
)

// OpenOrders is one participant's account for one market: the position
// buckets plus bookkeeping totals. The matching engine is the only
// writer; everything it does to this struct is serialized by the ledger.
type OpenOrders struct {
	Owner  common.Address `json:"owner"`
	Symbol string         `json:"symbol"`

	Position Position `json:"position"`

	// Cumulative statistics
	TotalVolumeQuoteNative int64 `json:"total_volume_quote_native"`
	TradeCount             int64 `json:"trade_count"`
}

func NewOpenOrders(owner common.Address, symbol string) *OpenOrders {
	return &OpenOrders{Owner: owner, Symbol: symbol}
}
