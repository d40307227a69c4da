package spot

import "github.com/solape-labs/openbook-v2/pkg/feed"

// tradeHistoryDepth bounds per-market trade history kept in memory.
const tradeHistoryDepth = 256

// tradeRing is a fixed-size ring of recent trades. Writes happen under
// the app's write lock.
type tradeRing struct {
	buf  []feed.Trade
	next int
	full bool
}

func newTradeRing(size int) *tradeRing {
	return &tradeRing{buf: make([]feed.Trade, size)}
}

func (r *tradeRing) push(t feed.Trade) {
	r.buf[r.next] = t
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// recent returns up to limit trades, newest first.
func (r *tradeRing) recent(limit int) []feed.Trade {
	size := r.next
	if r.full {
		size = len(r.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]feed.Trade, 0, limit)
	for i := 0; i < limit; i++ {
		idx := r.next - 1 - i
		if idx < 0 {
			idx += len(r.buf)
		}
		out = append(out, r.buf[idx])
	}
	return out
}
