package account

import (
	"fmt"

	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
)

// Position is the per-market bucket accounting for one open-orders
// account. Lots only ever move between these buckets (or across the
// event queue to a counterparty's buckets); no operation creates or
// destroys them. Fees adjust QuotePositionNative only, so the lot
// buckets conserve exactly.
type Position struct {
	// Settled net exposure
	BasePositionLots    int64 `json:"base_position_lots"`
	QuotePositionNative int64 `json:"quote_position_native"`

	// Reserved by resting orders
	BidsBaseLots int64 `json:"bids_base_lots"`
	AsksBaseLots int64 `json:"asks_base_lots"`

	// Pending buffer from taker fills not yet folded into position
	TakerBaseLots  int64 `json:"taker_base_lots"`
	TakerQuoteLots int64 `json:"taker_quote_lots"`

	// Withdrawable / spendable
	BaseFreeLots  int64 `json:"base_free_lots"`
	QuoteFreeLots int64 `json:"quote_free_lots"`
}

// ApplyMakerFill folds one fill into the maker's position. A maker ask
// sold base (quote proceeds become free); a maker bid bought base (the
// purchased lots become free, the reserved quote was paid out). The
// maker fee carried by the event adjusts quote position only; a
// negative fee (rebate) improves it.
func (p *Position) ApplyMakerFill(takerSide orderbook.Side, baseLots, quoteLots, quoteNative, makerFeeNative int64) {
	if takerSide == orderbook.Bid { // maker was an ask
		p.AsksBaseLots -= baseLots
		p.QuoteFreeLots += quoteLots
		p.BasePositionLots -= baseLots
		p.QuotePositionNative += quoteNative - makerFeeNative
	} else { // maker was a bid
		p.BidsBaseLots -= baseLots
		p.BaseFreeLots += baseLots
		p.BasePositionLots += baseLots
		p.QuotePositionNative -= quoteNative + makerFeeNative
	}
}

// ApplyTakerFill folds one fill's taker leg out of the pending buffers
// into position. The taker fee was already charged at placement.
func (p *Position) ApplyTakerFill(takerSide orderbook.Side, baseLots, quoteLots, quoteNative int64) {
	if takerSide == orderbook.Bid {
		p.TakerBaseLots -= baseLots
		p.BaseFreeLots += baseLots
		p.BasePositionLots += baseLots
		p.QuotePositionNative -= quoteNative
	} else {
		p.TakerQuoteLots -= quoteLots
		p.QuoteFreeLots += quoteLots
		p.BasePositionLots -= baseLots
		p.QuotePositionNative += quoteNative
	}
}

// ReleaseReservation returns a resting order's reserved quantity to the
// free buckets. Used by synchronous cancellation and by Out events. A
// bid reserved priceLots*baseLots quote lots; an ask reserved base lots.
func (p *Position) ReleaseReservation(side orderbook.Side, baseLots, quoteLots int64) {
	if side == orderbook.Bid {
		p.BidsBaseLots -= baseLots
		p.QuoteFreeLots += quoteLots
	} else {
		p.AsksBaseLots -= baseLots
		p.BaseFreeLots += baseLots
	}
}

// Validate checks the bucket invariants that must hold after every
// committed operation.
func (p *Position) Validate() error {
	if p.BidsBaseLots < 0 || p.AsksBaseLots < 0 {
		return fmt.Errorf("negative reservation: bids=%d asks=%d", p.BidsBaseLots, p.AsksBaseLots)
	}
	if p.TakerBaseLots < 0 || p.TakerQuoteLots < 0 {
		return fmt.Errorf("negative taker buffer: base=%d quote=%d", p.TakerBaseLots, p.TakerQuoteLots)
	}
	if p.BaseFreeLots < 0 || p.QuoteFreeLots < 0 {
		return fmt.Errorf("negative free lots: base=%d quote=%d", p.BaseFreeLots, p.QuoteFreeLots)
	}
	return nil
}
