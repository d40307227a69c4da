package spot

import (
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sort"

	"github.com/solape-labs/openbook-v2/pkg/app/core/account"
	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
	"github.com/solape-labs/openbook-v2/pkg/ledger"
)

// stateHash commits to everything two replicas must agree on after a
// block: per market the order id sequence, both book sides level by
// level and the event backlog; plus every account's position buckets.
// All iteration is over sorted keys so the hash is deterministic.
func (a *App) stateHash(height, timestamp int64) ledger.Hash {
	h := sha256.New()

	writeInt64(h, height)
	writeInt64(h, timestamp)

	markets := a.engine.Markets().List()
	symbols := make([]string, 0, len(markets))
	for _, m := range markets {
		symbols = append(symbols, m.Symbol)
	}
	sort.Strings(symbols)

	for _, sym := range symbols {
		m, err := a.engine.Market(sym)
		if err != nil {
			continue
		}
		h.Write([]byte(sym))
		writeInt64(h, int64(m.Status))
		writeInt64(h, int64(m.NextOrderID))

		book := a.engine.Book(sym)
		writeLevels(h, book.Levels(orderbook.Bid))
		writeLevels(h, book.Levels(orderbook.Ask))

		writeInt64(h, int64(a.engine.PendingEvents(sym)))
	}

	accounts := a.accounts.All()
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].Symbol != accounts[j].Symbol {
			return accounts[i].Symbol < accounts[j].Symbol
		}
		return accounts[i].Owner.Hex() < accounts[j].Owner.Hex()
	})
	for _, oo := range accounts {
		h.Write([]byte(oo.Symbol))
		h.Write(oo.Owner.Bytes())
		writePosition(h, &oo.Position)
	}

	var out ledger.Hash
	copy(out[:], h.Sum(nil))
	return out
}

func writeLevels(h hash.Hash, levels []orderbook.PriceLevel) {
	writeInt64(h, int64(len(levels)))
	for _, l := range levels {
		writeInt64(h, l.Price)
		writeInt64(h, l.Qty)
	}
}

func writePosition(h hash.Hash, p *account.Position) {
	writeInt64(h, p.BasePositionLots)
	writeInt64(h, p.QuotePositionNative)
	writeInt64(h, p.BidsBaseLots)
	writeInt64(h, p.AsksBaseLots)
	writeInt64(h, p.TakerBaseLots)
	writeInt64(h, p.TakerQuoteLots)
	writeInt64(h, p.BaseFreeLots)
	writeInt64(h, p.QuoteFreeLots)
}

func writeInt64(h hash.Hash, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}
