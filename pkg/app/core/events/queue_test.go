package events

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
)

var (
	acctA = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	acctB = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	acctC = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func fill(maker, taker common.Address) *Fill {
	return &Fill{Maker: maker, Taker: taker, TakerSide: orderbook.Bid, BaseLots: 1}
}

// serviceAll drains the queue for one subset, returning the targets
// applied in order.
func serviceAll(q *Queue, subset map[common.Address]bool) []common.Address {
	var applied []common.Address
	q.Scan(func(p Pending) ([]common.Address, bool) {
		var serviced []common.Address
		for _, t := range p.Waiting {
			if subset[t] {
				serviced = append(serviced, t)
				applied = append(applied, t)
			}
		}
		return serviced, true
	})
	return applied
}

func TestFIFOAndHead(t *testing.T) {
	q := NewQueue(0)
	q.Push(fill(acctA, acctB))
	q.Push(fill(acctA, acctC))

	if q.Len() != 2 {
		t.Fatalf("len = %d", q.Len())
	}
	head := q.Head()
	if head == nil || head.Seq != 0 {
		t.Fatalf("head = %+v", head)
	}

	// Full service removes events in arrival order.
	applied := serviceAll(q, map[common.Address]bool{acctA: true, acctB: true, acctC: true})
	if len(applied) != 4 {
		t.Fatalf("applied %v", applied)
	}
	if q.Len() != 0 || q.Head() != nil {
		t.Fatalf("queue not drained: len=%d", q.Len())
	}
}

func TestPartialServiceKeepsEventQueued(t *testing.T) {
	q := NewQueue(0)
	q.Push(fill(acctA, acctB))

	serviceAll(q, map[common.Address]bool{acctB: true})
	if q.Len() != 1 {
		t.Fatalf("partially serviced event removed")
	}
	head := q.Head()
	if len(head.Waiting) != 1 || head.Waiting[0] != acctA {
		t.Fatalf("waiting = %v", head.Waiting)
	}

	// Re-servicing the same account applies nothing.
	if applied := serviceAll(q, map[common.Address]bool{acctB: true}); len(applied) != 0 {
		t.Fatalf("double service: %v", applied)
	}

	serviceAll(q, map[common.Address]bool{acctA: true})
	if q.Len() != 0 {
		t.Fatalf("queue not drained")
	}
}

// The head never physically advances past an unserviced event, even
// when later events complete first.
func TestHeadBlocksOnIncompleteEvent(t *testing.T) {
	q := NewQueue(0)
	q.Push(fill(acctA, acctB)) // head, A never serviced
	q.Push(fill(acctB, acctC))

	serviceAll(q, map[common.Address]bool{acctB: true, acctC: true})
	if q.Len() != 2 {
		t.Fatalf("len = %d, want 2 (head blocked)", q.Len())
	}
	if head := q.Head(); head.Seq != 0 {
		t.Fatalf("head seq = %d", head.Seq)
	}

	// Servicing the blocker releases both.
	serviceAll(q, map[common.Address]bool{acctA: true})
	if q.Len() != 0 {
		t.Fatalf("len = %d after unblock", q.Len())
	}
}

func TestSkipBoundAndHeadStuck(t *testing.T) {
	q := NewQueue(2)
	q.Push(fill(acctA, acctB))

	subsetB := map[common.Address]bool{acctB: true}
	if q.HeadStuck(subsetB) {
		t.Fatalf("fresh queue reported stuck")
	}
	serviceAll(q, subsetB) // A remains, skip 1
	serviceAll(q, subsetB) // skip 2

	if !q.HeadStuck(map[common.Address]bool{acctC: true}) {
		t.Fatalf("exhausted head not reported stuck")
	}
	// A subset containing the blocker is never stuck.
	if q.HeadStuck(map[common.Address]bool{acctA: true}) {
		t.Fatalf("stuck despite blocker in subset")
	}

	serviceAll(q, map[common.Address]bool{acctA: true})
	if q.HeadStuck(map[common.Address]bool{}) {
		t.Fatalf("empty queue reported stuck")
	}
}

func TestScanStopsWhenTold(t *testing.T) {
	q := NewQueue(0)
	q.Push(fill(acctA, acctB))
	q.Push(fill(acctA, acctB))

	calls := 0
	q.Scan(func(p Pending) ([]common.Address, bool) {
		calls++
		return p.Waiting, false // service fully, then stop
	})
	if calls != 1 {
		t.Fatalf("scan visited %d events after stop", calls)
	}
	if q.Len() != 1 {
		t.Fatalf("len = %d", q.Len())
	}
}

func TestSelfTradeSingleTarget(t *testing.T) {
	f := fill(acctA, acctA)
	targets := f.Targets()
	if len(targets) != 1 || targets[0] != acctA {
		t.Fatalf("self-trade targets = %v", targets)
	}
}

func TestOutTargetsOwner(t *testing.T) {
	o := &Out{Owner: acctB, Side: orderbook.Ask, BaseLots: 2, OrderID: 9}
	targets := o.Targets()
	if len(targets) != 1 || targets[0] != acctB {
		t.Fatalf("out targets = %v", targets)
	}
}

// Compaction must preserve sequence numbers and remaining events.
func TestCompaction(t *testing.T) {
	q := NewQueue(0)
	all := map[common.Address]bool{acctA: true, acctB: true}
	for i := 0; i < 8; i++ {
		q.Push(fill(acctA, acctB))
	}
	serviceAll(q, all)
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}

	q.Push(fill(acctB, acctA))
	head := q.Head()
	if head == nil || head.Seq != 8 {
		t.Fatalf("seq after compaction = %+v", head)
	}
	serviceAll(q, all)
	if q.Len() != 0 {
		t.Fatalf("len = %d", q.Len())
	}
}
