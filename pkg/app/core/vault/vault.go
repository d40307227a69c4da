// Package vault abstracts custody of the underlying assets. The engine
// only ever asks the vault to pull native amounts from an owner or pay
// them out; how the assets are actually held is external.
package vault

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrInsufficientFunds = errors.New("insufficient vault funds")

// Vault is the external custody collaborator. Both calls are atomic per
// asset: they either move the full amount or return an error and move
// nothing.
type Vault interface {
	// TransferIn pulls amount native units of asset from owner's
	// external balance into custody.
	TransferIn(owner common.Address, asset string, amount int64) error
	// TransferOut pays amount native units of asset from custody to
	// owner's external balance.
	TransferOut(owner common.Address, asset string, amount int64) error
}

// Memory is an in-process vault keyed by (owner, asset). It backs the
// devnet node and the engine tests; a production deployment plugs in a
// bridge-backed implementation.
type Memory struct {
	mu       sync.Mutex
	external map[common.Address]map[string]int64 // owner -> asset -> balance
	custody  map[string]int64                    // asset -> amount held
}

func NewMemory() *Memory {
	return &Memory{
		external: make(map[common.Address]map[string]int64),
		custody:  make(map[string]int64),
	}
}

// Fund credits an owner's external balance. Test and devnet faucet.
func (v *Memory) Fund(owner common.Address, asset string, amount int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ownerBalances(owner)[asset] += amount
}

// Balance returns an owner's external balance for one asset.
func (v *Memory) Balance(owner common.Address, asset string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ownerBalances(owner)[asset]
}

func (v *Memory) TransferIn(owner common.Address, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer: %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	bal := v.ownerBalances(owner)
	if bal[asset] < amount {
		return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientFunds, owner.Hex(), bal[asset], asset, amount)
	}
	bal[asset] -= amount
	v.custody[asset] += amount
	return nil
}

func (v *Memory) TransferOut(owner common.Address, asset string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("negative transfer: %d", amount)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.custody[asset] < amount {
		return fmt.Errorf("%w: custody holds %d %s, need %d", ErrInsufficientFunds, v.custody[asset], asset, amount)
	}
	v.custody[asset] -= amount
	v.ownerBalances(owner)[asset] += amount
	return nil
}

func (v *Memory) ownerBalances(owner common.Address) map[string]int64 {
	b, ok := v.external[owner]
	if !ok {
		b = make(map[string]int64)
		v.external[owner] = b
	}
	return b
}
