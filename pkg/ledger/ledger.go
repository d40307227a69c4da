// Package ledger drives deterministic block execution. The replicated
// consensus collaborator is external; this package covers what the
// application needs from it: an ordered stream of committed blocks and
// a state-hash check after each one. The Loop is the single-node
// devnet sequencer implementing that contract.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/solape-labs/openbook-v2/pkg/util"
)

// Hash is a 32-byte state or block hash.
type Hash [32]byte

func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }

type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }

type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // unix seconds
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	AppHash Hash
}

// Application is the deterministic state machine the ledger drives.
// FinalizeBlock must be a pure function of prior state and the block;
// replicas compare AppHash after every block.
type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	FinalizeBlock(RequestFinalizeBlock) ResponseFinalizeBlock
}

// Block is one committed batch of transactions.
type Block struct {
	Height  int64
	Time    time.Time
	Parent  Hash
	Txs     [][]byte
	AppHash Hash
}

// HashOfBlock hashes the block header and transaction bytes.
func HashOfBlock(b Block) Hash {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(b.Height))
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(b.Time.Unix()))
	h.Write(buf[:])
	h.Write(b.Parent[:])
	for _, tx := range b.Txs {
		binary.BigEndian.PutUint64(buf[:], uint64(len(tx)))
		h.Write(buf[:])
		h.Write(tx)
	}
	h.Write(b.AppHash[:])
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Loop produces blocks at a fixed interval from whatever the
// application proposes. One goroutine runs it; all application calls
// happen from that goroutine, which is what serializes execution.
type Loop struct {
	app      Application
	store    BlockStore
	clock    util.Clock
	interval time.Duration
	log      *zap.Logger

	// OnCommit, when set, runs after each committed block. Used to fan
	// out market data; it must not block for long.
	OnCommit func(Block)

	// MaxTxBytes caps proposal size per block.
	MaxTxBytes int64

	height   int64
	lastHash Hash
}

func NewLoop(app Application, store BlockStore, clock util.Clock, interval time.Duration, log *zap.Logger) *Loop {
	if log == nil {
		log = zap.NewNop()
	}
	return &Loop{
		app:        app,
		store:      store,
		clock:      clock,
		interval:   interval,
		log:        log,
		MaxTxBytes: 1 << 24,
	}
}

func (l *Loop) Height() int64 { return l.height }

// Step produces and commits one block. Empty proposals still commit;
// the interval throttle keeps empty blocks cheap. Returns false if the
// proposal failed self-validation and no block was committed.
func (l *Loop) Step() (Block, bool) {
	next := l.height + 1
	prep := l.app.PrepareProposal(RequestPrepareProposal{Height: next, MaxTxBytes: l.MaxTxBytes})

	proc := l.app.ProcessProposal(RequestProcessProposal{Height: next, Txs: prep.Txs})
	if !proc.Accept {
		l.log.Warn("proposal_rejected", zap.Int64("height", next), zap.Int("txs", len(prep.Txs)))
		return Block{}, false
	}

	now := l.clock.Now()
	fin := l.app.FinalizeBlock(RequestFinalizeBlock{
		Height:    next,
		Timestamp: now.Unix(),
		Txs:       prep.Txs,
	})

	b := Block{
		Height:  next,
		Time:    now,
		Parent:  l.lastHash,
		Txs:     prep.Txs,
		AppHash: fin.AppHash,
	}
	if l.store != nil {
		if err := l.store.SaveBlock(b); err != nil {
			l.log.Error("block_persist_failed", zap.Int64("height", next), zap.Error(err))
		}
	}
	l.height = next
	l.lastHash = HashOfBlock(b)

	if len(b.Txs) > 0 {
		l.log.Info("block_committed",
			zap.Int64("height", b.Height),
			zap.Int("txs", len(b.Txs)),
			zap.String("app_hash", b.AppHash.Hex()))
	}
	if l.OnCommit != nil {
		l.OnCommit(b)
	}
	return b, true
}

// Run produces blocks until the context is cancelled.
func (l *Loop) Run(ctx context.Context) {
	l.log.Info("ledger_loop_started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("ledger_loop_stopped", zap.Int64("height", l.height))
			return
		case <-l.clock.After(l.interval):
			l.Step()
		}
	}
}

// Replay feeds every stored block back through the application in
// height order, rebuilding state after a restart. Returns the height
// reached. An app-hash mismatch against a stored block means the
// application changed under the data; replay stops and returns the
// mismatch as an error. The application must start from empty state:
// replay re-executes history, so any state loaded from elsewhere would
// have it applied twice.
func Replay(store BlockStore, app Application, log *zap.Logger) (int64, Hash, error) {
	if log == nil {
		log = zap.NewNop()
	}
	var height int64
	var last Hash
	for {
		b, ok, err := store.BlockAt(height + 1)
		if err != nil {
			return height, last, err
		}
		if !ok {
			break
		}
		fin := app.FinalizeBlock(RequestFinalizeBlock{
			Height:    b.Height,
			Timestamp: b.Time.Unix(),
			Txs:       b.Txs,
		})
		if fin.AppHash != b.AppHash {
			log.Error("replay_app_hash_mismatch",
				zap.Int64("height", b.Height),
				zap.String("stored", b.AppHash.Hex()),
				zap.String("replayed", fin.AppHash.Hex()))
			return height, last, fmt.Errorf("replay app hash mismatch at height %d: stored %s, replayed %s",
				b.Height, b.AppHash.Hex(), fin.AppHash.Hex())
		}
		height = b.Height
		last = HashOfBlock(b)
	}
	if height > 0 {
		log.Info("replay_complete", zap.Int64("height", height))
	}
	return height, last, nil
}

// Resume points a Loop at previously replayed chain state.
func (l *Loop) Resume(height int64, lastHash Hash) {
	l.height = height
	l.lastHash = lastHash
}
