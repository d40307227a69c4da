package account

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type ooKey struct {
	addr   common.Address
	symbol string
}

// Manager caches open-orders accounts in memory and persists them to
// pebble. The engine calls Get during an operation and Persist in its
// commit phase.
type Manager struct {
	mu       sync.RWMutex
	accounts map[ooKey]*OpenOrders
	store    *Store // nil means memory-only (tests)

	// skipLoads suppresses store reads while the ledger replays blocks
	// from genesis. Persisted positions already include the effects of
	// every historical block; loading one and then replaying history on
	// top of it would apply every fill and deposit twice.
	skipLoads bool
}

// NewManager creates a manager with pebble persistence at dbPath.
func NewManager(dbPath string) (*Manager, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("create account store: %w", err)
	}
	return &Manager{
		accounts: make(map[ooKey]*OpenOrders),
		store:    store,
	}, nil
}

// NewMemoryManager creates a manager without persistence.
func NewMemoryManager() *Manager {
	return &Manager{accounts: make(map[ooKey]*OpenOrders)}
}

func (m *Manager) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// BeginReplay makes Get return fresh empty accounts instead of loading
// persisted ones. Call before feeding historical blocks through the
// engine; each operation re-persists the account it touches, so the
// store converges back to the replayed state.
func (m *Manager) BeginReplay() {
	m.mu.Lock()
	m.skipLoads = true
	m.mu.Unlock()
}

// EndReplay restores normal store loads.
func (m *Manager) EndReplay() {
	m.mu.Lock()
	m.skipLoads = false
	m.mu.Unlock()
}

// Get returns the (owner, market) account, creating it empty if it does
// not exist. Loads from pebble on first access.
func (m *Manager) Get(addr common.Address, symbol string) *OpenOrders {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := ooKey{addr, symbol}
	if oo, ok := m.accounts[k]; ok {
		return oo
	}

	var oo *OpenOrders
	if m.store != nil && !m.skipLoads {
		loaded, err := m.store.LoadOpenOrders(addr, symbol)
		if err == nil {
			oo = loaded
		}
	}
	if oo == nil {
		oo = NewOpenOrders(addr, symbol)
	}
	m.accounts[k] = oo
	return oo
}

// All returns every cached account. Callers needing determinism sort
// the result themselves.
func (m *Manager) All() []*OpenOrders {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*OpenOrders, 0, len(m.accounts))
	for _, oo := range m.accounts {
		out = append(out, oo)
	}
	return out
}

// Lookup returns the account without creating it, or nil.
func (m *Manager) Lookup(addr common.Address, symbol string) *OpenOrders {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.accounts[ooKey{addr, symbol}]
}

// Persist writes an account through to pebble. Persistence is a cache
// of ledger-derived state, so callers treat failures as log-worthy, not
// fatal: a replay rebuilds it.
func (m *Manager) Persist(oo *OpenOrders) error {
	if m.store == nil {
		return nil
	}
	return m.store.SaveOpenOrders(oo)
}
