package api

// REST and WebSocket payload types.

// MarketInfo is a market's static configuration.
type MarketInfo struct {
	Symbol       string `json:"symbol"`
	BaseAsset    string `json:"baseAsset"`
	QuoteAsset   string `json:"quoteAsset"`
	Status       string `json:"status"`
	BaseLotSize  int64  `json:"baseLotSize"`  // native base units per base lot
	QuoteLotSize int64  `json:"quoteLotSize"` // native quote units per quote lot
	MakerFeeBps  int64  `json:"makerFeeBps"`  // negative = rebate
	TakerFeeBps  int64  `json:"takerFeeBps"`
}

// PriceLevel is aggregated resting quantity at one price.
type PriceLevel struct {
	PriceLots int64 `json:"priceLots"`
	BaseLots  int64 `json:"baseLots"`
}

// OrderbookSnapshot is current depth, bids high to low, asks low to high.
type OrderbookSnapshot struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp int64        `json:"timestamp"` // unix milliseconds
}

// TradeInfo is one executed fill.
type TradeInfo struct {
	Symbol    string `json:"symbol"`
	PriceLots int64  `json:"priceLots"`
	BaseLots  int64  `json:"baseLots"`
	TakerSide string `json:"takerSide"` // "bid" or "ask"
	Maker     string `json:"maker"`
	Taker     string `json:"taker"`
	Height    int64  `json:"height"`
	Timestamp int64  `json:"timestamp"`
}

// PositionInfo is the per-market bucket accounting for one account.
type PositionInfo struct {
	Symbol              string `json:"symbol"`
	BasePositionLots    int64  `json:"basePositionLots"`
	QuotePositionNative int64  `json:"quotePositionNative"`
	BidsBaseLots        int64  `json:"bidsBaseLots"`
	AsksBaseLots        int64  `json:"asksBaseLots"`
	TakerBaseLots       int64  `json:"takerBaseLots"`
	TakerQuoteLots      int64  `json:"takerQuoteLots"`
	BaseFreeLots        int64  `json:"baseFreeLots"`
	QuoteFreeLots       int64  `json:"quoteFreeLots"`
}

// OrderInfo is one resting order.
type OrderInfo struct {
	ID                uint64 `json:"id"`
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	PriceLots         int64  `json:"priceLots"`
	RemainingBaseLots int64  `json:"remainingBaseLots"`
	ClientOrderID     uint64 `json:"clientOrderId"`
	Expiry            int64  `json:"expiry"` // unix seconds, 0 = GTC
}

// ChainStatus summarizes the ledger and mempool.
type ChainStatus struct {
	Height        int64          `json:"height"`
	MempoolSize   int            `json:"mempoolSize"`
	Markets       int            `json:"markets"`
	PendingEvents map[string]int `json:"pendingEvents"` // per market
}

// SubmitTxResponse acknowledges mempool admission.
type SubmitTxResponse struct {
	Status  string `json:"status"` // "submitted" or "rejected"
	Message string `json:"message,omitempty"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSSubscribeRequest is sent by a client to manage channel
// subscriptions, e.g. {"op":"subscribe","channels":["orderbook:SOL-USDC"]}.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// OrderbookUpdate is broadcast on every committed block.
type OrderbookUpdate struct {
	Type      string       `json:"type"` // "orderbook"
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Height    int64        `json:"height"`
	Timestamp int64        `json:"timestamp"`
}

// TradeUpdate is broadcast for each fill in a committed block.
type TradeUpdate struct {
	Type string `json:"type"` // "trade"
	TradeInfo
}
