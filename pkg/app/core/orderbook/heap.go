package orderbook

// priceHeap implements heap.Interface over price levels of one book side.
// Bids want the highest price on top, asks the lowest; desc flips the
// comparison so both sides share one type.
type priceHeap struct {
	prices []int64
	desc   bool
}

func (h *priceHeap) Len() int { return len(h.prices) }

func (h *priceHeap) Less(i, j int) bool {
	if h.desc {
		return h.prices[i] > h.prices[j]
	}
	return h.prices[i] < h.prices[j]
}

func (h *priceHeap) Swap(i, j int) { h.prices[i], h.prices[j] = h.prices[j], h.prices[i] }

func (h *priceHeap) Push(x interface{}) {
	h.prices = append(h.prices, x.(int64))
}

func (h *priceHeap) Pop() interface{} {
	old := h.prices
	n := len(old)
	x := old[n-1]
	h.prices = old[:n-1]
	return x
}

// Peek returns the top price without removing it.
func (h *priceHeap) Peek() int64 {
	if len(h.prices) == 0 {
		return 0
	}
	return h.prices[0]
}
