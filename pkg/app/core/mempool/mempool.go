// Package mempool buffers raw transactions between the API and block
// production, bucketed so that a proposal drains balance-affecting
// instructions first, then cancels, then new orders.
package mempool

import (
	"encoding/json"
	"sync"
)

// TxType is the proposal-ordering bucket of a transaction.
type TxType int

const (
	// TxNonOrder covers deposit, settle and consume: instructions that
	// move or release funds without adding book pressure.
	TxNonOrder TxType = iota
	TxCancel
	TxOrder
)

// ClassifyRaw buckets a raw JSON envelope by its type field. Anything
// unparseable classifies as an order; the application layer rejects it
// properly during block execution.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrder
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrder
	}
	switch envelope.Type {
	case "deposit", "settle", "consume":
		return TxNonOrder
	case "cancel":
		return TxCancel
	default:
		return TxOrder
	}
}

// Mempool holds three FIFO queues, one per bucket. Proposal order is
// non-order, cancel, order; FIFO by admission within a bucket.
type Mempool struct {
	mu       sync.Mutex
	nonOrder [][]byte
	cancels  [][]byte
	orders   [][]byte
}

func NewMempool() *Mempool {
	return &Mempool{}
}

// PushRaw classifies and enqueues a copy of the transaction.
func (m *Mempool) PushRaw(b []byte) {
	cp := append([]byte(nil), b...)
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ClassifyRaw(b) {
	case TxNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case TxCancel:
		m.cancels = append(m.cancels, cp)
	default:
		m.orders = append(m.orders, cp)
	}
}

// SelectForProposal removes and returns up to maxBytes of transactions
// in bucket order. maxBytes <= 0 means no byte limit.
func (m *Mempool) SelectForProposal(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64

	pull := func(q *[][]byte) {
		for len(*q) > 0 {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}
	pull(&m.nonOrder)
	pull(&m.cancels)
	pull(&m.orders)
	return out
}

// Len reports total pending transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.nonOrder) + len(m.cancels) + len(m.orders)
}
