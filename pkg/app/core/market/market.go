package market

import (
	"fmt"
	"math"
)

// MarketStatus defines the trading status of a market
type MarketStatus int8

const (
	Active MarketStatus = iota // Trading enabled
	Halted                     // Trading halted (emergency)
	Closed                     // Market retired
)

func (ms MarketStatus) String() string {
	switch ms {
	case Active:
		return "Active"
	case Halted:
		return "Halted"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Market defines one traded base/quote pair. Prices and quantities are
// integer lots; BaseLotSize and QuoteLotSize convert lots to native asset
// amounts. PriceLots means quote lots per base lot, so the quote lots
// traded by a fill are priceLots*baseLots and the native notional is
// priceLots*baseLots*QuoteLotSize.
type Market struct {
	// Identity
	Symbol     string // "SOL-USDC"
	BaseAsset  string // "SOL"
	QuoteAsset string // "USDC"
	Status     MarketStatus

	// Quantization
	BaseLotSize  int64 // native base units per base lot
	QuoteLotSize int64 // native quote units per quote lot

	// Fees, signed basis points. A negative maker fee is a rebate.
	// The maker fee is snapshotted into each fill event and applied when
	// the event is consumed; the taker fee is charged at placement.
	MakerFeeBps int64
	TakerFeeBps int64

	// NextOrderID is the market-owned sequence used for resting order
	// ids. Ids are monotonic, so lower id means earlier submission.
	NextOrderID uint64
}

// Params bundles the tunable fields for NewMarket.
type Params struct {
	BaseLotSize  int64
	QuoteLotSize int64
	MakerFeeBps  int64
	TakerFeeBps  int64
}

// NewMarket creates a validated market record. The engine refuses
// unvalidated markets, so every path goes through here.
func NewMarket(symbol, baseAsset, quoteAsset string, p Params) (*Market, error) {
	m := &Market{
		Symbol:       symbol,
		BaseAsset:    baseAsset,
		QuoteAsset:   quoteAsset,
		Status:       Active,
		BaseLotSize:  p.BaseLotSize,
		QuoteLotSize: p.QuoteLotSize,
		MakerFeeBps:  p.MakerFeeBps,
		TakerFeeBps:  p.TakerFeeBps,
		NextOrderID:  1,
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid market params: %w", err)
	}
	return m, nil
}

// Validate checks market parameter sanity
func (m *Market) Validate() error {
	if m.Symbol == "" {
		return fmt.Errorf("symbol cannot be empty")
	}
	if m.BaseAsset == "" || m.QuoteAsset == "" {
		return fmt.Errorf("base and quote assets must be specified")
	}
	if m.BaseLotSize <= 0 {
		return fmt.Errorf("base lot size must be positive")
	}
	if m.QuoteLotSize <= 0 {
		return fmt.Errorf("quote lot size must be positive")
	}
	// Maker fee may be negative (rebate); taker fee may not.
	if m.TakerFeeBps < 0 {
		return fmt.Errorf("taker fee cannot be negative")
	}
	if m.MakerFeeBps < -m.TakerFeeBps {
		return fmt.Errorf("maker rebate cannot exceed taker fee")
	}
	return nil
}

// TakeOrderID returns the next order id and advances the sequence.
// Called exactly once per remainder insertion, inside the commit phase.
func (m *Market) TakeOrderID() uint64 {
	id := m.NextOrderID
	m.NextOrderID++
	return id
}

// BaseLotsToNative converts base lots to native base units.
func (m *Market) BaseLotsToNative(lots int64) (int64, error) {
	return checkedMul(lots, m.BaseLotSize)
}

// QuoteLotsToNative converts quote lots to native quote units.
func (m *Market) QuoteLotsToNative(lots int64) (int64, error) {
	return checkedMul(lots, m.QuoteLotSize)
}

// QuoteLots returns priceLots*baseLots, the quote lots moved by a fill.
func (m *Market) QuoteLots(priceLots, baseLots int64) (int64, error) {
	return checkedMul(priceLots, baseLots)
}

func checkedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	r := a * b
	if r/b != a || (a == math.MinInt64 && b == -1) {
		return 0, fmt.Errorf("int64 overflow: %d * %d", a, b)
	}
	return r, nil
}
