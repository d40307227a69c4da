package mempool

import (
	"testing"
)

func TestClassifyRaw(t *testing.T) {
	tests := []struct {
		name     string
		tx       string
		expected TxType
	}{
		{"place order", `{"type":"place","place":{"symbol":"SOL-USDC"},"signature":"0x1234"}`, TxOrder},
		{"cancel", `{"type":"cancel","cancel":{"order_id":7},"signature":"0xabcd"}`, TxCancel},
		{"deposit", `{"type":"deposit","deposit":{"symbol":"SOL-USDC"}}`, TxNonOrder},
		{"settle", `{"type":"settle","settle":{"symbol":"SOL-USDC"}}`, TxNonOrder},
		{"consume crank", `{"type":"consume","consume":{"symbol":"SOL-USDC"}}`, TxNonOrder},
		{"invalid JSON defaults to order", `{"invalid": "json"`, TxOrder},
		{"non-JSON defaults to order", "UNKNOWN:foo", TxOrder},
		{"empty transaction", "", TxOrder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyRaw([]byte(tt.tx)); got != tt.expected {
				t.Errorf("ClassifyRaw() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestOrdering(t *testing.T) {
	m := NewMempool()

	place1 := `{"type":"place","place":{"symbol":"SOL-USDC","side":1}}`
	place2 := `{"type":"place","place":{"symbol":"SOL-USDC","side":2}}`
	cancel1 := `{"type":"cancel","cancel":{"order_id":1}}`
	deposit1 := `{"type":"deposit","deposit":{"symbol":"SOL-USDC"}}`
	consume1 := `{"type":"consume","consume":{"symbol":"SOL-USDC"}}`

	// Mixed admission order.
	m.PushRaw([]byte(place1))
	m.PushRaw([]byte(cancel1))
	m.PushRaw([]byte(deposit1))
	m.PushRaw([]byte(place2))
	m.PushRaw([]byte(consume1))

	txs := m.SelectForProposal(0)
	if len(txs) != 5 {
		t.Fatalf("selected %d txs, want 5", len(txs))
	}

	// Non-order instructions first (FIFO), then cancels, then orders.
	want := []string{deposit1, consume1, cancel1, place1, place2}
	for i, w := range want {
		if string(txs[i]) != w {
			t.Errorf("tx[%d]:\ngot:  %s\nwant: %s", i, txs[i], w)
		}
	}
	if m.Len() != 0 {
		t.Fatalf("mempool not drained: %d", m.Len())
	}
}

func TestMaxBytes(t *testing.T) {
	m := NewMempool()
	m.PushRaw([]byte(`{"type":"consume","consume":{"symbol":"A"}}`))
	m.PushRaw([]byte(`{"type":"consume","consume":{"symbol":"B"}}`))
	m.PushRaw([]byte(`{"type":"consume","consume":{"symbol":"C"}}`))

	one := int64(len(`{"type":"consume","consume":{"symbol":"A"}}`))
	txs := m.SelectForProposal(2 * one)
	if len(txs) != 2 {
		t.Fatalf("selected %d txs under byte cap, want 2", len(txs))
	}
	if m.Len() != 1 {
		t.Fatalf("remaining = %d, want 1", m.Len())
	}
}
