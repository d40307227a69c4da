package account

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store persists open-orders accounts in pebble. It is a write-through
// mirror of engine state, not a recovery source: a restart rebuilds
// authoritative state by replaying the ledger, which re-persists every
// account it touches.
type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// SaveOpenOrders persists one account.
func (s *Store) SaveOpenOrders(oo *OpenOrders) error {
	data, err := json.Marshal(oo)
	if err != nil {
		return fmt.Errorf("marshal open orders: %w", err)
	}
	if err := s.db.Set(openOrdersKey(oo.Owner, oo.Symbol), data, pebble.Sync); err != nil {
		return fmt.Errorf("save open orders: %w", err)
	}
	return nil
}

// LoadOpenOrders loads one account, or nil if it does not exist.
func (s *Store) LoadOpenOrders(addr common.Address, symbol string) (*OpenOrders, error) {
	data, closer, err := s.db.Get(openOrdersKey(addr, symbol))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open orders: %w", err)
	}
	defer closer.Close()

	var oo OpenOrders
	if err := json.Unmarshal(data, &oo); err != nil {
		return nil, fmt.Errorf("unmarshal open orders: %w", err)
	}
	return &oo, nil
}
