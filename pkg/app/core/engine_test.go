package core

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solape-labs/openbook-v2/pkg/app/core/account"
	"github.com/solape-labs/openbook-v2/pkg/app/core/market"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
	"github.com/solape-labs/openbook-v2/pkg/app/core/vault"
	"github.com/solape-labs/openbook-v2/pkg/util"
)

// Standard test market: 1 base lot = 100 native SOL units, 1 quote lot =
// 10 native USDC units, maker fee 2 bps, no taker fee. A 1-lot fill at
// price 10_000 moves 10_000 quote lots = 100_000 native, maker fee 20.
const (
	testSymbol    = "SOL-USDC"
	testPrice     = int64(10_000)
	testNotional  = int64(100_000)
	testMakerFee  = int64(20)
	testQuoteLots = int64(10_000)
)

var (
	alice = common.HexToAddress("0xa11ce00000000000000000000000000000000001")
	bob   = common.HexToAddress("0xb0b0000000000000000000000000000000000002")
	carol = common.HexToAddress("0xca0170000000000000000000000000000000003")
)

type testEnv struct {
	engine *Engine
	vault  *vault.Memory
	clock  *util.ManualClock
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	v := vault.NewMemory()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	e := NewEngine(cfg, account.NewMemoryManager(), v, clock, nil)

	m, err := market.NewMarket(testSymbol, "SOL", "USDC", market.Params{
		BaseLotSize:  100,
		QuoteLotSize: 10,
		MakerFeeBps:  2,
		TakerFeeBps:  0,
	})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	if err := e.AddMarket(m); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}
	return &testEnv{engine: e, vault: v, clock: clock}
}

func (env *testEnv) fund(owner common.Address, asset string, amount int64) {
	env.vault.Fund(owner, asset, amount)
}

func (env *testEnv) place(t *testing.T, p PlaceOrderParams) *PlaceOrderResult {
	t.Helper()
	res, err := env.engine.PlaceOrder(testSymbol, p)
	if err != nil {
		t.Fatalf("PlaceOrder(%s %s): %v", p.Owner.Hex(), p.Side, err)
	}
	return res
}

func (env *testEnv) consume(t *testing.T, accounts ...common.Address) int {
	t.Helper()
	n, err := env.engine.ConsumeEvents(testSymbol, accounts, 0)
	if err != nil {
		t.Fatalf("ConsumeEvents: %v", err)
	}
	return n
}

func checkPosition(t *testing.T, got account.Position, want account.Position) {
	t.Helper()
	if got != want {
		t.Fatalf("position mismatch:\n got  %+v\n want %+v", got, want)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("position invalid: %v", err)
	}
}

// One maker bid, one taker ask, crank both sides, settle both. Walks
// the full lifecycle and checks every bucket at every step.
func TestPlaceConsumeSettle(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)
	env.fund(bob, "SOL", 100)

	// Alice rests a bid for 1 base lot at 10_000. The vault covers the
	// full reservation, so her free quote goes straight back to zero.
	res := env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})
	if res.OrderID == 0 || res.FilledBaseLots != 0 {
		t.Fatalf("expected pure rest, got %+v", res)
	}
	if env.vault.Balance(alice, "USDC") != 0 {
		t.Fatalf("alice external USDC = %d, want 0", env.vault.Balance(alice, "USDC"))
	}
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{BidsBaseLots: 1})

	// Bob crosses with an ask. The fill executes at Alice's price, the
	// quote proceeds land in Bob's pending taker buffer.
	takerRes := env.place(t, PlaceOrderParams{
		Owner: bob, Side: orderbook.Ask,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40,
	})
	if takerRes.FilledBaseLots != 1 || takerRes.SpentQuoteLots != testQuoteLots {
		t.Fatalf("taker fill = %+v", takerRes)
	}
	if takerRes.OrderID != 0 {
		t.Fatalf("fully filled ask should not rest, got id %d", takerRes.OrderID)
	}
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{TakerQuoteLots: testQuoteLots})

	// Nothing reached settled positions yet; the fill sits in the queue.
	if env.engine.PendingEvents(testSymbol) != 1 {
		t.Fatalf("pending events = %d, want 1", env.engine.PendingEvents(testSymbol))
	}
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{BidsBaseLots: 1})

	if n := env.consume(t, alice, bob); n != 2 {
		t.Fatalf("consumed %d legs, want 2", n)
	}
	if env.engine.PendingEvents(testSymbol) != 0 {
		t.Fatalf("queue not drained")
	}

	// Alice bought 1 lot and pays the maker fee on quote position only.
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{
		BasePositionLots:    1,
		QuotePositionNative: -(testNotional + testMakerFee),
		BaseFreeLots:        1,
	})
	// Bob sold 1 lot; no taker fee on this market.
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{
		BasePositionLots:    -1,
		QuotePositionNative: testNotional,
		QuoteFreeLots:       testQuoteLots,
	})

	if err := env.engine.SettleFunds(testSymbol, alice); err != nil {
		t.Fatalf("settle alice: %v", err)
	}
	if err := env.engine.SettleFunds(testSymbol, bob); err != nil {
		t.Fatalf("settle bob: %v", err)
	}
	if got := env.vault.Balance(alice, "SOL"); got != 100 {
		t.Fatalf("alice external SOL = %d, want 100", got)
	}
	if got := env.vault.Balance(bob, "USDC"); got != testNotional {
		t.Fatalf("bob external USDC = %d, want %d", got, testNotional)
	}
	// Settling again is a no-op.
	if err := env.engine.SettleFunds(testSymbol, alice); err != nil {
		t.Fatalf("second settle: %v", err)
	}
	if got := env.vault.Balance(alice, "SOL"); got != 100 {
		t.Fatalf("second settle moved funds: %d", got)
	}
}

func TestPriceTimePriority(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", 10*testNotional)
	env.fund(bob, "USDC", 10*testNotional)
	env.fund(carol, "SOL", 1_000)

	// Alice bids 9_900 first, Bob bids 10_000; then Alice joins Bob's
	// level later. Expected fill order: Bob (best price), Alice's second
	// order loses the price tie only to Bob's earlier id, Alice's 9_900
	// bid goes last.
	a1 := env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: 9_900, MaxBaseLots: 1, MaxQuoteLots: 9_900})
	b1 := env.place(t, PlaceOrderParams{Owner: bob, Side: orderbook.Bid, PriceLots: 10_000, MaxBaseLots: 1, MaxQuoteLots: 10_000})
	a2 := env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: 10_000, MaxBaseLots: 1, MaxQuoteLots: 10_000})

	res := env.place(t, PlaceOrderParams{
		Owner: carol, Side: orderbook.Ask,
		PriceLots: 9_900, MaxBaseLots: 3, MaxQuoteLots: 1 << 40,
	})
	if len(res.Fills) != 3 {
		t.Fatalf("got %d fills, want 3", len(res.Fills))
	}
	wantOrder := []uint64{b1.OrderID, a2.OrderID, a1.OrderID}
	wantPrice := []int64{10_000, 10_000, 9_900}
	for i, f := range res.Fills {
		if f.MakerOrderID != wantOrder[i] {
			t.Fatalf("fill %d hit order %d, want %d", i, f.MakerOrderID, wantOrder[i])
		}
		if f.PriceLots != wantPrice[i] {
			t.Fatalf("fill %d at price %d, want %d", i, f.PriceLots, wantPrice[i])
		}
	}
	// Fills execute at maker prices, so the taker's proceeds include the
	// improvement over her 9_900 limit.
	if res.SpentQuoteLots != 10_000+10_000+9_900 {
		t.Fatalf("spent %d quote lots", res.SpentQuoteLots)
	}
}

func TestCancelReleasesReservation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)

	res := env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})

	if err := env.engine.CancelOrder(testSymbol, alice, res.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// The full reservation returns to free balance synchronously; the
	// maker fee never touches lot buckets, so the round trip is exact.
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{QuoteFreeLots: testQuoteLots})

	if err := env.engine.SettleFunds(testSymbol, alice); err != nil {
		t.Fatalf("settle: %v", err)
	}
	if got := env.vault.Balance(alice, "USDC"); got != testNotional {
		t.Fatalf("alice external USDC = %d, want %d", got, testNotional)
	}

	// The order is gone from the book and cannot be cancelled twice.
	if err := env.engine.CancelOrder(testSymbol, alice, res.OrderID); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("second cancel: %v", err)
	}
}

func TestCancelOwnerMismatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)

	res := env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})
	if err := env.engine.CancelOrder(testSymbol, bob, res.OrderID); !errors.Is(err, ErrOwnerMismatch) {
		t.Fatalf("want ErrOwnerMismatch, got %v", err)
	}
	// A failed cancel leaves the order resting.
	if env.engine.Book(testSymbol).BestBid() != testPrice {
		t.Fatalf("order removed by failed cancel")
	}
}

func TestDeposit(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "SOL", 500)
	env.fund(alice, "USDC", 1_000)

	if err := env.engine.Deposit(testSymbol, alice, 5, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{
		BaseFreeLots: 5, QuoteFreeLots: 100,
	})
	if env.vault.Balance(alice, "SOL") != 0 || env.vault.Balance(alice, "USDC") != 0 {
		t.Fatalf("external balances not debited")
	}

	// A deposit the vault cannot cover rejects without partial credit:
	// the base leg that succeeded first is unwound.
	env.fund(bob, "SOL", 100)
	err := env.engine.Deposit(testSymbol, bob, 1, 100)
	if !errors.Is(err, ErrVaultTransfer) {
		t.Fatalf("want ErrVaultTransfer, got %v", err)
	}
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{})
	if got := env.vault.Balance(bob, "SOL"); got != 100 {
		t.Fatalf("base leg not unwound, external SOL = %d", got)
	}

	if err := env.engine.Deposit(testSymbol, alice, -1, 0); !errors.Is(err, ErrInvalidLotSize) {
		t.Fatalf("negative deposit: %v", err)
	}
}

// A deposited free balance is spent before the vault is asked for more.
func TestFreeFundsReused(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)

	if err := env.engine.Deposit(testSymbol, alice, 0, testQuoteLots); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	// The bid is fully covered by free lots; no further vault pull, so a
	// zero external balance is fine.
	env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{BidsBaseLots: 1})
}

func TestExpiredMakerEvicted(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "SOL", 100)
	env.fund(bob, "USDC", testNotional)

	expiry := env.clock.Now().Add(10 * time.Second).Unix()
	env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Ask,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40,
		ExpiryTimestamp: expiry,
	})

	env.clock.Advance(20 * time.Second)

	// Bob's crossing bid finds only the expired ask: it is evicted, not
	// filled, and Bob's order rests at his own price.
	res := env.place(t, PlaceOrderParams{
		Owner: bob, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})
	if res.FilledBaseLots != 0 {
		t.Fatalf("filled against expired order: %+v", res)
	}
	if res.OrderID == 0 {
		t.Fatalf("bid should rest after eviction")
	}
	if env.engine.Book(testSymbol).BestAsk() != 0 {
		t.Fatalf("expired ask still on book")
	}

	// The eviction is an Out event; consuming it releases the base lots.
	if n := env.consume(t, alice); n != 1 {
		t.Fatalf("consumed %d, want 1", n)
	}
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{BaseFreeLots: 1})
}

func TestConsumeSubsetAndLimit(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)
	env.fund(bob, "SOL", 100)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})
	env.place(t, PlaceOrderParams{Owner: bob, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40})

	// Crank for Bob only: the taker leg applies, Alice's leg stays
	// queued and the event stays at the head.
	if n := env.consume(t, bob); n != 1 {
		t.Fatalf("consumed %d, want 1", n)
	}
	if env.engine.PendingEvents(testSymbol) != 1 {
		t.Fatalf("event removed before all targets serviced")
	}
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{
		BasePositionLots:    -1,
		QuotePositionNative: testNotional,
		QuoteFreeLots:       testQuoteLots,
	})
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{BidsBaseLots: 1})

	// Cranking for Bob again applies nothing; his leg is done.
	if n := env.consume(t, bob); n != 0 {
		t.Fatalf("re-consume applied %d legs", n)
	}
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{
		BasePositionLots:    -1,
		QuotePositionNative: testNotional,
		QuoteFreeLots:       testQuoteLots,
	})

	if n := env.consume(t, alice); n != 1 {
		t.Fatalf("consumed %d, want 1", n)
	}
	if env.engine.PendingEvents(testSymbol) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestStuckEventQueue(t *testing.T) {
	env := newTestEnv(t, Config{EventSkipBound: 2})
	env.fund(alice, "USDC", testNotional)
	env.fund(bob, "SOL", 100)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})
	env.place(t, PlaceOrderParams{Owner: bob, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40})

	// Two cranks that cannot service Alice's maker leg burn the head
	// event's skip budget.
	env.consume(t, bob)
	env.consume(t, carol)

	// Budget exhausted: a crank still missing Alice is rejected up
	// front, with no partial application.
	if _, err := env.engine.ConsumeEvents(testSymbol, []common.Address{carol}, 0); !errors.Is(err, ErrStuckEventQueue) {
		t.Fatalf("want ErrStuckEventQueue, got %v", err)
	}
	if env.engine.PendingEvents(testSymbol) != 1 {
		t.Fatalf("stuck rejection mutated the queue")
	}

	// A crank that does include the blocking account recovers the queue.
	if n := env.consume(t, alice); n != 1 {
		t.Fatalf("recovery consumed %d", n)
	}
	if env.engine.PendingEvents(testSymbol) != 0 {
		t.Fatalf("queue not drained after recovery")
	}
}

func TestConsumeLimitStopsScan(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)
	env.fund(bob, "SOL", 100)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})
	env.place(t, PlaceOrderParams{Owner: bob, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40})

	n, err := env.engine.ConsumeEvents(testSymbol, []common.Address{alice, bob}, 1)
	if err != nil || n != 1 {
		t.Fatalf("limited consume: n=%d err=%v", n, err)
	}
	if env.engine.PendingEvents(testSymbol) != 1 {
		t.Fatalf("event left early")
	}
	n, err = env.engine.ConsumeEvents(testSymbol, []common.Address{alice, bob}, 1)
	if err != nil || n != 1 {
		t.Fatalf("second limited consume: n=%d err=%v", n, err)
	}
	if env.engine.PendingEvents(testSymbol) != 0 {
		t.Fatalf("queue not drained")
	}
}

func TestBudgetCaps(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "SOL", 200)
	env.fund(bob, "USDC", 2*testNotional)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 2, MaxQuoteLots: 1 << 40})

	// Bob's quote budget covers 1.5 lots at this price: he fills one
	// whole lot and nothing rests because the leftover quote cannot
	// cover a full lot either.
	res := env.place(t, PlaceOrderParams{
		Owner: bob, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 5, MaxQuoteLots: 15_000,
	})
	if res.FilledBaseLots != 1 || res.SpentQuoteLots != testQuoteLots {
		t.Fatalf("fill = %+v", res)
	}
	if res.OrderID != 0 {
		t.Fatalf("remainder rested beyond quote budget: %+v", res)
	}
	// Alice's second lot is still on the book.
	if got := env.engine.Book(testSymbol).Asks().TotalBaseLots(); got != 1 {
		t.Fatalf("resting ask lots = %d, want 1", got)
	}
}

func TestReduceOnlyNeverRests(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)
	env.fund(bob, "SOL", 200)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})

	// Bob offers 2 lots reduce-only: 1 fills, the unmatched lot is
	// discarded instead of resting, and only the filled lot is funded.
	res := env.place(t, PlaceOrderParams{
		Owner: bob, Side: orderbook.Ask,
		PriceLots: testPrice, MaxBaseLots: 2, MaxQuoteLots: 1 << 40,
		ReduceOnly: true,
	})
	if res.FilledBaseLots != 1 || res.OrderID != 0 {
		t.Fatalf("reduce-only result = %+v", res)
	}
	if got := env.vault.Balance(bob, "SOL"); got != 100 {
		t.Fatalf("reduce-only pulled reservation funds, external SOL = %d", got)
	}
	if got := env.engine.Book(testSymbol).Asks().Len(); got != 0 {
		t.Fatalf("reduce-only remainder rested")
	}
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)

	cases := []struct {
		name string
		p    PlaceOrderParams
		want error
	}{
		{"zero price", PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: 0, MaxBaseLots: 1, MaxQuoteLots: 1}, ErrInvalidPrice},
		{"negative price", PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: -1, MaxBaseLots: 1, MaxQuoteLots: 1}, ErrInvalidPrice},
		{"zero budget", PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice}, ErrInsufficientBudget},
		{"negative budget", PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: -1, MaxQuoteLots: 1}, ErrInsufficientBudget},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := env.engine.PlaceOrder(testSymbol, tc.p); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}

	if _, err := env.engine.PlaceOrder("ETH-USDC", PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: 1, MaxBaseLots: 1, MaxQuoteLots: 1}); !errors.Is(err, ErrMarketNotFound) {
		t.Fatalf("unknown market: %v", err)
	}

	// A rejected order leaves no trace: no account, no events, no funds
	// pulled.
	if env.vault.Balance(alice, "USDC") != testNotional {
		t.Fatalf("rejection moved funds")
	}
	if env.engine.PendingEvents(testSymbol) != 0 {
		t.Fatalf("rejection queued events")
	}
}

func TestHaltedMarketRejectsOrders(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)

	res := env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})

	if err := env.engine.Markets().SetStatus(testSymbol, market.Halted); err != nil {
		t.Fatalf("halt: %v", err)
	}
	if _, err := env.engine.PlaceOrder(testSymbol, PlaceOrderParams{Owner: bob, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1}); !errors.Is(err, ErrMarketHalted) {
		t.Fatalf("halted place: %v", err)
	}
	// Cancels still work on a halted market so accounts can unwind.
	if err := env.engine.CancelOrder(testSymbol, alice, res.OrderID); err != nil {
		t.Fatalf("halted cancel: %v", err)
	}
}

func TestBookCapacity(t *testing.T) {
	env := newTestEnv(t, Config{BookCapacity: 1})
	env.fund(alice, "USDC", 2*testNotional)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})
	_, err := env.engine.PlaceOrder(testSymbol, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice - 1_000, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots,
	})
	if !errors.Is(err, ErrOrderBookFull) {
		t.Fatalf("want ErrOrderBookFull, got %v", err)
	}
	// No funds were pulled for the rejected order.
	if got := env.vault.Balance(alice, "USDC"); got != testNotional {
		t.Fatalf("rejected order moved funds: %d", got)
	}
}

// Partial fill, cancel of the rest, full crank, full settle. Lot
// buckets must come out exactly balanced: fees never touch them.
func TestLotConservation(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", 2*testNotional)
	env.fund(bob, "SOL", 100)

	res := env.place(t, PlaceOrderParams{
		Owner: alice, Side: orderbook.Bid,
		PriceLots: testPrice, MaxBaseLots: 2, MaxQuoteLots: 2 * testQuoteLots,
	})
	env.place(t, PlaceOrderParams{Owner: bob, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40})

	if err := env.engine.CancelOrder(testSymbol, alice, res.OrderID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	env.consume(t, alice, bob)
	if err := env.engine.SettleFunds(testSymbol, alice); err != nil {
		t.Fatalf("settle alice: %v", err)
	}
	if err := env.engine.SettleFunds(testSymbol, bob); err != nil {
		t.Fatalf("settle bob: %v", err)
	}

	// Alice spent exactly one lot's notional; the cancelled lot's
	// reservation came back in full despite the maker fee.
	checkPosition(t, env.engine.Position(testSymbol, alice), account.Position{
		BasePositionLots:    1,
		QuotePositionNative: -(testNotional + testMakerFee),
	})
	if got := env.vault.Balance(alice, "USDC"); got != testNotional {
		t.Fatalf("alice external USDC = %d, want %d", got, testNotional)
	}
	checkPosition(t, env.engine.Position(testSymbol, bob), account.Position{
		BasePositionLots:    -1,
		QuotePositionNative: testNotional,
	})
	if got := env.vault.Balance(bob, "USDC"); got != testNotional {
		t.Fatalf("bob external USDC = %d, want %d", got, testNotional)
	}
}

// Taker fee is charged at placement; a maker rebate pays out at consume.
func TestTakerFeeAndMakerRebate(t *testing.T) {
	v := vault.NewMemory()
	clock := util.NewManualClock(time.Unix(1_700_000_000, 0))
	e := NewEngine(Config{}, account.NewMemoryManager(), v, clock, nil)

	m, err := market.NewMarket("ETH-USDC", "ETH", "USDC", market.Params{
		BaseLotSize:  100,
		QuoteLotSize: 10,
		MakerFeeBps:  -5, // rebate
		TakerFeeBps:  10,
	})
	if err != nil {
		t.Fatalf("NewMarket: %v", err)
	}
	if err := e.AddMarket(m); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}

	v.Fund(alice, "ETH", 100)
	v.Fund(bob, "USDC", testNotional)

	if _, err := e.PlaceOrder("ETH-USDC", PlaceOrderParams{Owner: alice, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40}); err != nil {
		t.Fatalf("maker place: %v", err)
	}
	if _, err := e.PlaceOrder("ETH-USDC", PlaceOrderParams{Owner: bob, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots}); err != nil {
		t.Fatalf("taker place: %v", err)
	}

	// 10 bps on 100_000 = 100, booked against the taker immediately.
	if got := e.Position("ETH-USDC", bob).QuotePositionNative; got != -100 {
		t.Fatalf("taker fee at placement = %d, want -100", got)
	}

	if _, err := e.ConsumeEvents("ETH-USDC", []common.Address{alice, bob}, 0); err != nil {
		t.Fatalf("consume: %v", err)
	}
	// The maker rebate of 5 bps (50) improves the sale proceeds.
	if got := e.Position("ETH-USDC", alice).QuotePositionNative; got != testNotional+50 {
		t.Fatalf("maker quote position = %d, want %d", got, testNotional+50)
	}
	if got := e.Position("ETH-USDC", bob).QuotePositionNative; got != -testNotional-100 {
		t.Fatalf("taker quote position = %d, want %d", got, -testNotional-100)
	}
}

func TestSelfTradeAppliesBothLegs(t *testing.T) {
	env := newTestEnv(t, Config{})
	env.fund(alice, "USDC", testNotional)
	env.fund(alice, "SOL", 100)

	env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Bid, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: testQuoteLots})
	res := env.place(t, PlaceOrderParams{Owner: alice, Side: orderbook.Ask, PriceLots: testPrice, MaxBaseLots: 1, MaxQuoteLots: 1 << 40})
	if res.FilledBaseLots != 1 {
		t.Fatalf("self trade did not match: %+v", res)
	}

	// One event, one target, both legs applied in one crank.
	if n := env.consume(t, alice); n != 1 {
		t.Fatalf("consumed %d, want 1", n)
	}
	pos := env.engine.Position(testSymbol, alice)
	if pos.BasePositionLots != 0 {
		t.Fatalf("self trade moved net base position: %+v", pos)
	}
	// Net quote damage is exactly the maker fee.
	if pos.QuotePositionNative != -testMakerFee {
		t.Fatalf("self trade quote position = %d, want %d", pos.QuotePositionNative, -testMakerFee)
	}
	if pos.BaseFreeLots != 1 || pos.QuoteFreeLots != testQuoteLots {
		t.Fatalf("self trade free balances: %+v", pos)
	}
}
