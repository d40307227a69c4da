package core

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solape-labs/openbook-v2/pkg/app/core/account"
	"github.com/solape-labs/openbook-v2/pkg/app/core/events"
	"github.com/solape-labs/openbook-v2/pkg/app/core/fees"
	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
	"github.com/solape-labs/openbook-v2/pkg/app/core/vault"
	"github.com/solape-labs/openbook-v2/pkg/util"
)

// DefaultConsumeLimit bounds the work one ConsumeEvents crank performs.
const DefaultConsumeLimit = 8

type Config struct {
	// BookCapacity caps resting orders per book side; 0 means unbounded.
	BookCapacity int
	// EventSkipBound is how many cranks may pass over the queue head
	// before the queue reports stuck.
	EventSkipBound int
}

// Engine executes instructions against its markets, one at a time. It
// has no internal concurrency: the ledger serializes all calls for a
// market, and the engine's only job is to make each call atomic. It
// validates and plans first, then commits everything or nothing.
type Engine struct {
	cfg      Config
	log      *zap.Logger
	clock    util.Clock
	vault    vault.Vault
	accounts *account.Manager
	registry *market.Registry
	states   map[string]*marketState
}

type marketState struct {
	market *market.Market
	book   *orderbook.OrderBook
	events *events.Queue
}

func NewEngine(cfg Config, accounts *account.Manager, v vault.Vault, clock util.Clock, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		log:      log,
		clock:    clock,
		vault:    v,
		accounts: accounts,
		registry: market.NewRegistry(),
		states:   make(map[string]*marketState),
	}
}

// AddMarket registers a validated market and allocates its book and
// event queue. Markets come from the admin collaborator; the engine
// never creates them on demand.
func (e *Engine) AddMarket(m *market.Market) error {
	if err := e.registry.Register(m); err != nil {
		return err
	}
	e.states[m.Symbol] = &marketState{
		market: m,
		book:   orderbook.NewOrderBook(e.cfg.BookCapacity),
		events: events.NewQueue(e.cfg.EventSkipBound),
	}
	e.log.Info("market_registered",
		zap.String("symbol", m.Symbol),
		zap.Int64("base_lot_size", m.BaseLotSize),
		zap.Int64("quote_lot_size", m.QuoteLotSize))
	return nil
}

func (e *Engine) Markets() *market.Registry { return e.registry }

// Market returns the market record for a symbol.
func (e *Engine) Market(symbol string) (*market.Market, error) {
	st, err := e.state(symbol)
	if err != nil {
		return nil, err
	}
	return st.market, nil
}

// Book returns the order book for a symbol, or nil if unknown.
func (e *Engine) Book(symbol string) *orderbook.OrderBook {
	if st, ok := e.states[symbol]; ok {
		return st.book
	}
	return nil
}

// PendingEvents returns the number of queued, unserviced events.
func (e *Engine) PendingEvents(symbol string) int {
	if st, ok := e.states[symbol]; ok {
		return st.events.Len()
	}
	return 0
}

// Position returns a copy of the (owner, market) position buckets.
func (e *Engine) Position(symbol string, owner common.Address) account.Position {
	return e.accounts.Get(owner, symbol).Position
}

func (e *Engine) state(symbol string) (*marketState, error) {
	st, ok := e.states[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMarketNotFound, symbol)
	}
	return st, nil
}

// ---------------------------------------------------------------------
// PlaceOrder
// ---------------------------------------------------------------------

type PlaceOrderParams struct {
	Owner           common.Address
	Side            orderbook.Side
	PriceLots       int64
	MaxBaseLots     int64
	MaxQuoteLots    int64
	ReduceOnly      bool
	ClientOrderID   uint64
	ExpiryTimestamp int64
}

type FillReport struct {
	Maker        common.Address
	MakerOrderID uint64
	PriceLots    int64
	BaseLots     int64
	QuoteLots    int64
}

type PlaceOrderResult struct {
	// OrderID is the id of the resting remainder, 0 if nothing rested.
	OrderID        uint64
	FilledBaseLots int64
	SpentQuoteLots int64
	Fills          []FillReport
}

// plannedFill pins the maker order and the amounts one fill will move.
type plannedFill struct {
	maker       *orderbook.Order
	baseLots    int64
	quoteLots   int64
	quoteNative int64
}

// plannedOut pins an expired maker found by the scan.
type plannedOut struct {
	order     *orderbook.Order
	quoteLots int64
}

type matchPlan struct {
	fills          []plannedFill
	evictions      []plannedOut
	restBaseLots   int64
	restQuoteLots  int64 // bid reservation for the remainder
	filledBase     int64
	spentQuoteLots int64
	takerFeeNative int64
}

// PlaceOrder executes a new order against the opposite book side. The
// scan produces a plan without touching state; the vault pull happens
// next, so a failed pull rejects cleanly; only then is the plan
// committed, covering book mutations, taker buckets, queued events and
// the resting remainder.
func (e *Engine) PlaceOrder(symbol string, p PlaceOrderParams) (*PlaceOrderResult, error) {
	st, err := e.state(symbol)
	if err != nil {
		return nil, err
	}
	m := st.market

	if m.Status != market.Active {
		return nil, fmt.Errorf("%w: %s", ErrMarketHalted, symbol)
	}
	if p.PriceLots <= 0 {
		return nil, ErrInvalidPrice
	}
	if p.MaxBaseLots < 0 || p.MaxQuoteLots < 0 || (p.MaxBaseLots == 0 && p.MaxQuoteLots == 0) {
		return nil, ErrInsufficientBudget
	}
	if p.Side != orderbook.Bid && p.Side != orderbook.Ask {
		return nil, fmt.Errorf("invalid side %d", p.Side)
	}

	now := e.clock.Now().Unix()

	plan, err := e.buildPlan(st, p, now)
	if err != nil {
		return nil, err
	}

	// Capacity is checked before anything mutates. Evictions free space
	// on the opposite side only, so they cannot make room here.
	if plan.restBaseLots > 0 && !st.book.HasRoom(p.Side) {
		return nil, fmt.Errorf("%w: %s %s side", ErrOrderBookFull, symbol, p.Side)
	}

	oo := e.accounts.Get(p.Owner, symbol)
	if err := e.pullFunds(m, oo, p.Side, plan); err != nil {
		return nil, err
	}

	res := e.commitPlan(st, oo, p, plan, now)

	e.log.Info("order_placed",
		zap.String("symbol", symbol),
		zap.String("owner", p.Owner.Hex()),
		zap.String("side", p.Side.String()),
		zap.Int64("price_lots", p.PriceLots),
		zap.Int64("filled_base_lots", res.FilledBaseLots),
		zap.Uint64("resting_order_id", res.OrderID))
	return res, nil
}

// buildPlan scans the opposite side in priority order and computes the
// full effect of the order without mutating anything.
func (e *Engine) buildPlan(st *marketState, p PlaceOrderParams, now int64) (*matchPlan, error) {
	m := st.market
	opp := st.book.SideOf(p.Side.Opposite())

	plan := &matchPlan{}
	remBase := p.MaxBaseLots
	remQuote := p.MaxQuoteLots

	var scanErr error
	opp.Iterate(func(mk *orderbook.Order) bool {
		if !crosses(p.Side, p.PriceLots, mk.PriceLots) {
			return false
		}
		if mk.IsExpired(now) {
			// Evicted in place; the scan continues without consuming
			// taker budget.
			quoteLots, err := m.QuoteLots(mk.PriceLots, mk.RemainingBaseLots)
			if err != nil {
				scanErr = fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
				return false
			}
			plan.evictions = append(plan.evictions, plannedOut{order: mk, quoteLots: quoteLots})
			return true
		}
		if remBase == 0 || remQuote == 0 {
			return false
		}

		q := min(remBase, remQuote/mk.PriceLots, mk.RemainingBaseLots)
		if q == 0 {
			// The quote budget no longer stretches to one lot at this
			// price; the order stops crossing effectively.
			return false
		}
		quoteLots, err := m.QuoteLots(mk.PriceLots, q)
		if err != nil {
			scanErr = fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
			return false
		}
		quoteNative, err := m.QuoteLotsToNative(quoteLots)
		if err != nil {
			scanErr = fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
			return false
		}

		plan.fills = append(plan.fills, plannedFill{
			maker:       mk,
			baseLots:    q,
			quoteLots:   quoteLots,
			quoteNative: quoteNative,
		})
		plan.filledBase += q
		plan.spentQuoteLots += quoteLots
		plan.takerFeeNative += fees.Taker(quoteNative, m.TakerFeeBps)
		remBase -= q
		remQuote -= quoteLots
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}

	if !p.ReduceOnly {
		rest := remBase
		if p.Side == orderbook.Bid {
			// A resting bid must be covered by the remaining quote budget.
			rest = min(rest, remQuote/p.PriceLots)
		}
		if rest > 0 {
			plan.restBaseLots = rest
			quoteLots, err := m.QuoteLots(p.PriceLots, rest)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
			}
			plan.restQuoteLots = quoteLots
		}
	}
	return plan, nil
}

// pullFunds covers the order from free lots first and pulls only the
// shortfall from the vault. Runs before any state mutation, so a vault
// failure rejects the whole operation.
func (e *Engine) pullFunds(m *market.Market, oo *account.OpenOrders, side orderbook.Side, plan *matchPlan) error {
	if side == orderbook.Bid {
		total := plan.spentQuoteLots + plan.restQuoteLots
		shortfall := total - oo.Position.QuoteFreeLots
		if shortfall <= 0 {
			return nil
		}
		native, err := m.QuoteLotsToNative(shortfall)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
		}
		if err := e.vault.TransferIn(oo.Owner, m.QuoteAsset, native); err != nil {
			return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
		}
		oo.Position.QuoteFreeLots += shortfall
		return nil
	}

	total := plan.filledBase + plan.restBaseLots
	shortfall := total - oo.Position.BaseFreeLots
	if shortfall <= 0 {
		return nil
	}
	native, err := m.BaseLotsToNative(shortfall)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	if err := e.vault.TransferIn(oo.Owner, m.BaseAsset, native); err != nil {
		return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
	}
	oo.Position.BaseFreeLots += shortfall
	return nil
}

// commitPlan applies the whole plan: opposite-side removals, queued
// events, the taker's own buckets, and the resting remainder. Nothing
// in here can fail; all failure paths were exhausted before commit.
func (e *Engine) commitPlan(st *marketState, oo *account.OpenOrders, p PlaceOrderParams, plan *matchPlan, now int64) *PlaceOrderResult {
	m := st.market
	opp := st.book.SideOf(p.Side.Opposite())
	pos := &oo.Position

	for _, ev := range plan.evictions {
		_, _ = opp.Delete(ev.order.ID)
		st.events.Push(&events.Out{
			Owner:     ev.order.Owner,
			Side:      ev.order.Side,
			PriceLots: ev.order.PriceLots,
			BaseLots:  ev.order.RemainingBaseLots,
			QuoteLots: ev.quoteLots,
			OrderID:   ev.order.ID,
			Timestamp: now,
		})
	}

	res := &PlaceOrderResult{
		FilledBaseLots: plan.filledBase,
		SpentQuoteLots: plan.spentQuoteLots,
	}

	for _, f := range plan.fills {
		mk := f.maker
		if f.baseLots == mk.RemainingBaseLots {
			_, _ = opp.Delete(mk.ID)
		} else {
			mk.RemainingBaseLots -= f.baseLots
		}

		// Fills execute at the maker's resting price; price improvement
		// accrues to the taker's unspent budget.
		st.events.Push(&events.Fill{
			Maker:              mk.Owner,
			Taker:              p.Owner,
			TakerSide:          p.Side,
			PriceLots:          mk.PriceLots,
			BaseLots:           f.baseLots,
			QuoteLots:          f.quoteLots,
			MakerFeeBps:        m.MakerFeeBps,
			MakerOrderID:       mk.ID,
			MakerClientOrderID: mk.ClientOrderID,
			Timestamp:          now,
		})

		if p.Side == orderbook.Bid {
			pos.TakerBaseLots += f.baseLots
		} else {
			pos.TakerQuoteLots += f.quoteLots
		}
		res.Fills = append(res.Fills, FillReport{
			Maker:        mk.Owner,
			MakerOrderID: mk.ID,
			PriceLots:    mk.PriceLots,
			BaseLots:     f.baseLots,
			QuoteLots:    f.quoteLots,
		})
	}

	// The taker's own side of the trade commits immediately: spent and
	// reserved lots leave the free bucket, fills sit in the pending
	// buffer until the crank folds them, and the taker fee lands on
	// quote position now.
	if p.Side == orderbook.Bid {
		pos.QuoteFreeLots -= plan.spentQuoteLots + plan.restQuoteLots
	} else {
		pos.BaseFreeLots -= plan.filledBase + plan.restBaseLots
	}
	pos.QuotePositionNative -= plan.takerFeeNative
	oo.TradeCount += int64(len(plan.fills))

	if plan.restBaseLots > 0 {
		o := &orderbook.Order{
			ID:                m.TakeOrderID(),
			Owner:             p.Owner,
			Side:              p.Side,
			PriceLots:         p.PriceLots,
			RemainingBaseLots: plan.restBaseLots,
			ClientOrderID:     p.ClientOrderID,
			ExpiryTimestamp:   p.ExpiryTimestamp,
		}
		_ = st.book.SideOf(p.Side).Insert(o)
		if p.Side == orderbook.Bid {
			pos.BidsBaseLots += plan.restBaseLots
		} else {
			pos.AsksBaseLots += plan.restBaseLots
		}
		res.OrderID = o.ID
	}

	e.persist(oo)
	return res
}

// ---------------------------------------------------------------------
// ConsumeEvents
// ---------------------------------------------------------------------

// ConsumeEvents drains queued effects for the given accounts. Anyone
// may crank; the subset only decides whose deferred state advances.
// Events targeting absent accounts stay queued for a later call, and
// the queue head never moves past one, preserving per-account arrival
// order. Returns the number of event legs applied.
func (e *Engine) ConsumeEvents(symbol string, accounts []common.Address, limit int) (int, error) {
	st, err := e.state(symbol)
	if err != nil {
		return 0, err
	}
	if limit <= 0 {
		limit = DefaultConsumeLimit
	}

	subset := make(map[common.Address]bool, len(accounts))
	for _, a := range accounts {
		subset[a] = true
	}

	if st.events.HeadStuck(subset) {
		e.log.Warn("event_queue_stuck",
			zap.String("symbol", symbol),
			zap.Int("pending", st.events.Len()))
		return 0, ErrStuckEventQueue
	}

	applied := 0
	st.events.Scan(func(pending events.Pending) ([]common.Address, bool) {
		if applied >= limit {
			return nil, false
		}
		var serviced []common.Address
		for _, target := range pending.Waiting {
			if !subset[target] {
				continue
			}
			e.applyEvent(st, pending.Event, target)
			serviced = append(serviced, target)
			applied++
			if applied >= limit {
				break
			}
		}
		return serviced, true
	})

	if applied > 0 {
		e.log.Info("events_consumed",
			zap.String("symbol", symbol),
			zap.Int("applied", applied),
			zap.Int("remaining", st.events.Len()))
	}
	return applied, nil
}

// applyEvent applies one event's effect for one target account.
func (e *Engine) applyEvent(st *marketState, ev events.Event, target common.Address) {
	m := st.market
	oo := e.accounts.Get(target, m.Symbol)

	switch ev := ev.(type) {
	case *events.Fill:
		quoteNative := ev.QuoteLots * m.QuoteLotSize
		if target == ev.Maker {
			feeNative := fees.Maker(quoteNative, ev.MakerFeeBps)
			oo.Position.ApplyMakerFill(ev.TakerSide, ev.BaseLots, ev.QuoteLots, quoteNative, feeNative)
			oo.TradeCount++
			oo.TotalVolumeQuoteNative += quoteNative
		}
		if target == ev.Taker {
			oo.Position.ApplyTakerFill(ev.TakerSide, ev.BaseLots, ev.QuoteLots, quoteNative)
			oo.TotalVolumeQuoteNative += quoteNative
		}
	case *events.Out:
		oo.Position.ReleaseReservation(ev.Side, ev.BaseLots, ev.QuoteLots)
	}
	e.persist(oo)
}

// ---------------------------------------------------------------------
// CancelOrder
// ---------------------------------------------------------------------

// CancelOrder removes a resting order and synchronously releases its
// reservation into the owner's free balance; no event-queue detour.
func (e *Engine) CancelOrder(symbol string, owner common.Address, orderID uint64) error {
	st, err := e.state(symbol)
	if err != nil {
		return err
	}

	o, err := st.book.Remove(orderID, owner)
	if err != nil {
		return err
	}

	oo := e.accounts.Get(owner, symbol)
	quoteLots := o.PriceLots * o.RemainingBaseLots
	oo.Position.ReleaseReservation(o.Side, o.RemainingBaseLots, quoteLots)

	e.persist(oo)

	e.log.Info("order_cancelled",
		zap.String("symbol", symbol),
		zap.String("owner", owner.Hex()),
		zap.Uint64("order_id", orderID),
		zap.Int64("released_base_lots", o.RemainingBaseLots))
	return nil
}

// ---------------------------------------------------------------------
// SettleFunds / Deposit
// ---------------------------------------------------------------------

// SettleFunds converts free lots to native amounts and asks the vault
// to pay them out. Each asset's free field is zeroed only on confirmed
// transfer. Zero free balance is a no-op, not an error.
func (e *Engine) SettleFunds(symbol string, owner common.Address) error {
	st, err := e.state(symbol)
	if err != nil {
		return err
	}
	m := st.market
	oo := e.accounts.Get(owner, symbol)
	pos := &oo.Position

	if pos.BaseFreeLots == 0 && pos.QuoteFreeLots == 0 {
		return nil
	}

	if pos.BaseFreeLots > 0 {
		native, err := m.BaseLotsToNative(pos.BaseFreeLots)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
		}
		if err := e.vault.TransferOut(owner, m.BaseAsset, native); err != nil {
			return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
		}
		pos.BaseFreeLots = 0
	}
	if pos.QuoteFreeLots > 0 {
		native, err := m.QuoteLotsToNative(pos.QuoteFreeLots)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
		}
		if err := e.vault.TransferOut(owner, m.QuoteAsset, native); err != nil {
			e.persist(oo) // base leg already settled
			return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
		}
		pos.QuoteFreeLots = 0
	}

	e.persist(oo)
	e.log.Info("funds_settled",
		zap.String("symbol", symbol),
		zap.String("owner", owner.Hex()))
	return nil
}

// Deposit pulls native amounts from the payer via the vault, then
// credits free lots. A failed pull leaves no partial credit.
func (e *Engine) Deposit(symbol string, owner common.Address, baseLots, quoteLots int64) error {
	st, err := e.state(symbol)
	if err != nil {
		return err
	}
	if baseLots < 0 || quoteLots < 0 {
		return ErrInvalidLotSize
	}
	m := st.market

	baseNative, err := m.BaseLotsToNative(baseLots)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}
	quoteNative, err := m.QuoteLotsToNative(quoteLots)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArithmeticOverflow, err)
	}

	if baseNative > 0 {
		if err := e.vault.TransferIn(owner, m.BaseAsset, baseNative); err != nil {
			return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
		}
	}
	if quoteNative > 0 {
		if err := e.vault.TransferIn(owner, m.QuoteAsset, quoteNative); err != nil {
			if baseNative > 0 {
				// Unwind the base pull so nothing is partially credited.
				if uerr := e.vault.TransferOut(owner, m.BaseAsset, baseNative); uerr != nil {
					e.log.Error("deposit_unwind_failed",
						zap.String("owner", owner.Hex()),
						zap.Error(uerr))
				}
			}
			return fmt.Errorf("%w: %v", ErrVaultTransfer, err)
		}
	}

	oo := e.accounts.Get(owner, symbol)
	oo.Position.BaseFreeLots += baseLots
	oo.Position.QuoteFreeLots += quoteLots
	e.persist(oo)

	e.log.Info("deposit",
		zap.String("symbol", symbol),
		zap.String("owner", owner.Hex()),
		zap.Int64("base_lots", baseLots),
		zap.Int64("quote_lots", quoteLots))
	return nil
}

// ---------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------

// crosses reports whether a maker price satisfies the taker's limit.
func crosses(takerSide orderbook.Side, takerPrice, makerPrice int64) bool {
	if takerSide == orderbook.Bid {
		return makerPrice <= takerPrice
	}
	return makerPrice >= takerPrice
}

// persist writes an account through to storage. The in-memory state is
// authoritative; a persistence failure is logged, not propagated, since
// ledger replay rebuilds the store.
func (e *Engine) persist(oo *account.OpenOrders) {
	if err := e.accounts.Persist(oo); err != nil {
		e.log.Warn("account_persist_failed",
			zap.String("owner", oo.Owner.Hex()),
			zap.Error(err))
	}
}
