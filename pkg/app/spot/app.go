// Package spot is the exchange application: it turns raw ledger
// transactions into matching-engine instructions and exposes the
// deterministic state the ledger hashes after every block.
package spot

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/solape-labs/openbook-v2/pkg/app/core"
	"github.com/solape-labs/openbook-v2/pkg/app/core/account"
	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/mempool"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
	"github.com/solape-labs/openbook-v2/pkg/app/core/transaction"
	"github.com/solape-labs/openbook-v2/pkg/crypto"
	"github.com/solape-labs/openbook-v2/pkg/feed"
	"github.com/solape-labs/openbook-v2/pkg/ledger"
)

// Options tunes transaction admission.
type Options struct {
	// RequireSignatures makes every owner-bound transaction verify its
	// signature against the claimed owner. Devnet runs with this off.
	RequireSignatures bool
	Domain            crypto.EIP712Domain
	Feed              feed.Publisher
}

// App implements ledger.Application over one matching engine. All
// mutation happens inside FinalizeBlock, which the ledger loop calls
// from a single goroutine; the mutex only guards the read-side API.
type App struct {
	mu       sync.RWMutex
	log      *zap.Logger
	engine   *core.Engine
	accounts *account.Manager
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	opts     Options
	feed     feed.Publisher
	trades   map[string]*tradeRing
	height   int64
}

func NewApp(engine *core.Engine, accounts *account.Manager, opts Options, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	pub := opts.Feed
	if pub == nil {
		pub = feed.Nop{}
	}
	return &App{
		log:      log,
		engine:   engine,
		accounts: accounts,
		mempool:  mempool.NewMempool(),
		verifier: transaction.NewVerifier(opts.Domain),
		opts:     opts,
		feed:     pub,
		trades:   make(map[string]*tradeRing),
	}
}

func (a *App) Engine() *core.Engine { return a.engine }

// PushTx admits a raw transaction to the mempool. Structural rejects
// happen here so obviously bad envelopes never occupy block space.
func (a *App) PushTx(b []byte) error {
	if _, err := transaction.Parse(b); err != nil {
		return err
	}
	a.mempool.PushRaw(b)
	return nil
}

func (a *App) MempoolSize() int { return a.mempool.Len() }

func (a *App) Height() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.height
}

// RecentTrades returns up to limit most recent trades for a market,
// newest first.
func (a *App) RecentTrades(symbol string, limit int) []feed.Trade {
	a.mu.RLock()
	defer a.mu.RUnlock()
	ring, ok := a.trades[symbol]
	if !ok {
		return nil
	}
	return ring.recent(limit)
}

// The read API below snapshots engine state under the same mutex
// FinalizeBlock writes under. HTTP handlers must come through here
// rather than touching the engine directly, because book sides and
// positions mutate in place while a block applies.

// MarketList returns copies of every market record.
func (a *App) MarketList() []market.Market {
	a.mu.RLock()
	defer a.mu.RUnlock()
	list := a.engine.Markets().List()
	out := make([]market.Market, len(list))
	for i, m := range list {
		out[i] = *m
	}
	return out
}

// MarketSnapshot returns a copy of one market record.
func (a *App) MarketSnapshot(symbol string) (market.Market, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	m, err := a.engine.Market(symbol)
	if err != nil {
		return market.Market{}, err
	}
	return *m, nil
}

// BookLevels returns aggregated depth for both sides, best price
// first. ok is false for an unknown market.
func (a *App) BookLevels(symbol string) (bids, asks []orderbook.PriceLevel, ok bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	book := a.engine.Book(symbol)
	if book == nil {
		return nil, nil, false
	}
	return book.Levels(orderbook.Bid), book.Levels(orderbook.Ask), true
}

// PositionFor returns a copy of the (owner, market) position buckets,
// zero if the account has never traded.
func (a *App) PositionFor(symbol string, owner common.Address) account.Position {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if oo := a.accounts.Lookup(owner, symbol); oo != nil {
		return oo.Position
	}
	return account.Position{}
}

// OpenOrdersFor returns copies of owner's resting orders on a market.
func (a *App) OpenOrdersFor(symbol string, owner common.Address) []orderbook.Order {
	a.mu.RLock()
	defer a.mu.RUnlock()
	book := a.engine.Book(symbol)
	if book == nil {
		return nil
	}
	return book.OrdersOf(owner)
}

// PendingEvents returns the number of queued, unserviced events.
func (a *App) PendingEvents(symbol string) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.engine.PendingEvents(symbol)
}

func (a *App) PrepareProposal(req ledger.RequestPrepareProposal) ledger.ResponsePrepareProposal {
	return ledger.ResponsePrepareProposal{Txs: a.mempool.SelectForProposal(req.MaxTxBytes)}
}

// ProcessProposal re-checks structure. Semantic failures (bad prices,
// missing funds) are not proposal failures; those transactions simply
// apply as no-ops in FinalizeBlock.
func (a *App) ProcessProposal(req ledger.RequestProcessProposal) ledger.ResponseProcessProposal {
	for _, raw := range req.Txs {
		if _, err := transaction.Parse(raw); err != nil {
			a.log.Warn("proposal_invalid_tx", zap.Int64("height", req.Height), zap.Error(err))
			return ledger.ResponseProcessProposal{Accept: false}
		}
	}
	return ledger.ResponseProcessProposal{Accept: true}
}

func (a *App) FinalizeBlock(req ledger.RequestFinalizeBlock) ledger.ResponseFinalizeBlock {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, raw := range req.Txs {
		a.applyTx(req.Height, req.Timestamp, raw)
	}
	a.height = req.Height

	return ledger.ResponseFinalizeBlock{AppHash: a.stateHash(req.Height, req.Timestamp)}
}

// applyTx executes one transaction. Every failure leaves engine state
// untouched; a failed transaction is logged and skipped, never
// partially applied.
func (a *App) applyTx(height, timestamp int64, raw []byte) {
	tx, err := transaction.Parse(raw)
	if err != nil {
		a.log.Warn("tx_parse_failed", zap.Int64("height", height), zap.Error(err))
		return
	}

	owner, err := a.resolveOwner(tx)
	if err != nil {
		a.log.Warn("tx_auth_failed",
			zap.Int64("height", height),
			zap.String("type", string(tx.Type)),
			zap.Error(err))
		return
	}

	switch tx.Type {
	case transaction.TxTypePlace:
		a.applyPlace(height, timestamp, owner, tx.Place)
	case transaction.TxTypeCancel:
		if err := a.engine.CancelOrder(tx.Cancel.Symbol, owner, tx.Cancel.OrderID); err != nil {
			a.log.Info("cancel_rejected",
				zap.String("symbol", tx.Cancel.Symbol),
				zap.Uint64("order_id", tx.Cancel.OrderID),
				zap.Error(err))
		}
	case transaction.TxTypeConsume:
		accounts := make([]common.Address, 0, len(tx.Consume.Accounts))
		for _, s := range tx.Consume.Accounts {
			if common.IsHexAddress(s) {
				accounts = append(accounts, common.HexToAddress(s))
			}
		}
		if _, err := a.engine.ConsumeEvents(tx.Consume.Symbol, accounts, tx.Consume.Limit); err != nil {
			a.log.Info("consume_rejected", zap.String("symbol", tx.Consume.Symbol), zap.Error(err))
		}
	case transaction.TxTypeSettle:
		if err := a.engine.SettleFunds(tx.Settle.Symbol, owner); err != nil {
			a.log.Info("settle_rejected", zap.String("symbol", tx.Settle.Symbol), zap.Error(err))
		}
	case transaction.TxTypeDeposit:
		if err := a.engine.Deposit(tx.Deposit.Symbol, owner, tx.Deposit.BaseLots, tx.Deposit.QuoteLots); err != nil {
			a.log.Info("deposit_rejected", zap.String("symbol", tx.Deposit.Symbol), zap.Error(err))
		}
	}
}

func (a *App) applyPlace(height, timestamp int64, owner common.Address, p *transaction.PlacePayload) {
	priceLots, maxBase, maxQuote, err := p.Lots()
	if err != nil {
		a.log.Warn("place_bad_lots", zap.String("symbol", p.Symbol), zap.Error(err))
		return
	}
	side := orderbook.Bid
	if p.Side == 2 {
		side = orderbook.Ask
	}

	res, err := a.engine.PlaceOrder(p.Symbol, core.PlaceOrderParams{
		Owner:           owner,
		Side:            side,
		PriceLots:       priceLots,
		MaxBaseLots:     maxBase,
		MaxQuoteLots:    maxQuote,
		ReduceOnly:      p.ReduceOnly,
		ClientOrderID:   p.ClientOrderID,
		ExpiryTimestamp: p.Expiry,
	})
	if err != nil {
		a.log.Info("order_rejected",
			zap.String("symbol", p.Symbol),
			zap.String("owner", owner.Hex()),
			zap.Error(err))
		return
	}

	for _, f := range res.Fills {
		t := feed.Trade{
			Symbol:    p.Symbol,
			PriceLots: f.PriceLots,
			BaseLots:  f.BaseLots,
			TakerSide: side.String(),
			Maker:     f.Maker.Hex(),
			Taker:     owner.Hex(),
			OrderID:   f.MakerOrderID,
			Height:    height,
			Timestamp: timestamp,
		}
		a.recordTrade(t)
		if err := a.feed.Publish(context.Background(), t); err != nil {
			a.log.Warn("trade_publish_failed", zap.String("symbol", p.Symbol), zap.Error(err))
		}
	}
}

// resolveOwner authenticates the transaction. With signature
// enforcement off, the declared owner is taken at face value (devnet).
func (a *App) resolveOwner(tx *transaction.Tx) (common.Address, error) {
	if a.opts.RequireSignatures {
		return a.verifier.Owner(tx)
	}
	switch tx.Type {
	case transaction.TxTypePlace:
		return common.HexToAddress(tx.Place.Owner), nil
	case transaction.TxTypeCancel:
		return common.HexToAddress(tx.Cancel.Owner), nil
	case transaction.TxTypeSettle:
		return common.HexToAddress(tx.Settle.Owner), nil
	case transaction.TxTypeDeposit:
		return common.HexToAddress(tx.Deposit.Owner), nil
	default:
		return common.Address{}, nil
	}
}

func (a *App) recordTrade(t feed.Trade) {
	ring, ok := a.trades[t.Symbol]
	if !ok {
		ring = newTradeRing(tradeHistoryDepth)
		a.trades[t.Symbol] = ring
	}
	ring.push(t)
}
