package events

import (
	"github.com/ethereum/go-ethereum/common"
)

// DefaultSkipBound is how many ConsumeEvents scans may pass over the
// head event before the queue is reported stuck.
const DefaultSkipBound = 64

type entry struct {
	seq     uint64
	ev      Event
	waiting []common.Address // targets not yet serviced
	skips   int              // scans that passed over this entry unserviced
}

// Queue is the per-market FIFO of deferred effects. An event is only
// physically removed once every account it targets has been serviced;
// the head index never moves past an unserviced event, which is what
// guarantees per-account arrival order.
type Queue struct {
	entries   []*entry
	head      int
	nextSeq   uint64
	skipBound int
}

func NewQueue(skipBound int) *Queue {
	if skipBound <= 0 {
		skipBound = DefaultSkipBound
	}
	return &Queue{skipBound: skipBound}
}

// Push appends an event in matching order.
func (q *Queue) Push(ev Event) {
	q.entries = append(q.entries, &entry{
		seq:     q.nextSeq,
		ev:      ev,
		waiting: ev.Targets(),
	})
	q.nextSeq++
}

// Len reports queued events not yet fully serviced.
func (q *Queue) Len() int { return len(q.entries) - q.head }

// Pending describes one queued event during a scan.
type Pending struct {
	Seq     uint64
	Event   Event
	Waiting []common.Address
}

// Head returns the head event, or nil if the queue is empty.
func (q *Queue) Head() *Pending {
	if q.head >= len(q.entries) {
		return nil
	}
	e := q.entries[q.head]
	return &Pending{Seq: e.seq, Event: e.ev, Waiting: e.waiting}
}

// HeadStuck reports whether the head event has exhausted its skip
// budget and the given subset still cannot service it. Callers check
// this before applying anything so a stuck queue rejects cleanly.
func (q *Queue) HeadStuck(subset map[common.Address]bool) bool {
	if q.head >= len(q.entries) {
		return false
	}
	e := q.entries[q.head]
	if e.skips < q.skipBound {
		return false
	}
	for _, t := range e.waiting {
		if subset[t] {
			return false
		}
	}
	return true
}

// Scan walks unserviced events from the head in arrival order, calling
// fn for each. fn returns the accounts it serviced (a subset of
// Waiting); Scan records them, advances the head over completed events,
// and bumps skip counts on events left incomplete. fn returning ok ==
// false stops the walk (consume limit reached).
func (q *Queue) Scan(fn func(p Pending) (serviced []common.Address, ok bool)) {
	for i := q.head; i < len(q.entries); i++ {
		e := q.entries[i]
		serviced, ok := fn(Pending{Seq: e.seq, Event: e.ev, Waiting: e.waiting})
		for _, addr := range serviced {
			e.markServiced(addr)
		}
		if len(e.waiting) > 0 {
			e.skips++
		}
		if !ok {
			break
		}
	}
	q.advance()
}

func (e *entry) markServiced(addr common.Address) {
	for i, t := range e.waiting {
		if t == addr {
			e.waiting = append(e.waiting[:i], e.waiting[i+1:]...)
			return
		}
	}
}

// advance moves the head past fully serviced events and compacts the
// backing slice once the dead prefix dominates.
func (q *Queue) advance() {
	for q.head < len(q.entries) && len(q.entries[q.head].waiting) == 0 {
		q.entries[q.head] = nil
		q.head++
	}
	if q.head > 0 && q.head >= len(q.entries)/2 {
		q.entries = append([]*entry(nil), q.entries[q.head:]...)
		q.head = 0
	}
}
