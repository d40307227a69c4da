package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// BlockStore persists committed blocks, indexed by height.
type BlockStore interface {
	SaveBlock(Block) error
	BlockAt(height int64) (Block, bool, error)
	Height() (int64, error)
	Close() error
}

// MemoryBlockStore keeps blocks in a map. Devnet and tests.
type MemoryBlockStore struct {
	mu     sync.Mutex
	blocks map[int64]Block
	height int64
}

func NewMemoryBlockStore() *MemoryBlockStore {
	return &MemoryBlockStore{blocks: make(map[int64]Block)}
}

func (s *MemoryBlockStore) SaveBlock(b Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[b.Height] = b
	if b.Height > s.height {
		s.height = b.Height
	}
	return nil
}

func (s *MemoryBlockStore) BlockAt(height int64) (Block, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[height]
	return b, ok, nil
}

func (s *MemoryBlockStore) Height() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.height, nil
}

func (s *MemoryBlockStore) Close() error { return nil }

// PebbleBlockStore persists blocks to pebble.
//
// keys: blk:<8-byte-be-height> -> gob(Block), blk:tip -> 8-byte height
type PebbleBlockStore struct {
	db *pebble.DB
}

func NewPebbleBlockStore(path string) (*PebbleBlockStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open block store: %w", err)
	}
	return &PebbleBlockStore{db: db}, nil
}

func (s *PebbleBlockStore) Close() error { return s.db.Close() }

func blockKey(height int64) []byte {
	k := make([]byte, 4, 12)
	copy(k, "blk:")
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], uint64(height))
	return append(k, h[:]...)
}

var tipKey = []byte("blk:tip")

func (s *PebbleBlockStore) SaveBlock(b Block) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return fmt.Errorf("encode block %d: %w", b.Height, err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(blockKey(b.Height), buf.Bytes(), nil); err != nil {
		return err
	}
	var tip [8]byte
	binary.BigEndian.PutUint64(tip[:], uint64(b.Height))
	if err := batch.Set(tipKey, tip[:], nil); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit block %d: %w", b.Height, err)
	}
	return nil
}

func (s *PebbleBlockStore) BlockAt(height int64) (Block, bool, error) {
	val, closer, err := s.db.Get(blockKey(height))
	if err == pebble.ErrNotFound {
		return Block{}, false, nil
	}
	if err != nil {
		return Block{}, false, err
	}
	defer closer.Close()

	var b Block
	if err := gob.NewDecoder(bytes.NewReader(val)).Decode(&b); err != nil {
		return Block{}, false, fmt.Errorf("decode block %d: %w", height, err)
	}
	return b, true, nil
}

func (s *PebbleBlockStore) Height() (int64, error) {
	val, closer, err := s.db.Get(tipKey)
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	return int64(binary.BigEndian.Uint64(val)), nil
}
