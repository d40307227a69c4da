package core

import (
	"errors"

	"github.com/solape-labs/openbook-v2/pkg/app/core/orderbook"
)

// Engine error taxonomy. Every public operation either commits its
// entire effect or returns one of these with no state mutated.
var (
	// Validation
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrInvalidLotSize     = errors.New("invalid lot amount")
	ErrZeroQuantity       = errors.New("quantity must be positive")
	ErrInsufficientBudget = errors.New("at least one budget cap must be positive")

	// Authorization
	ErrOwnerMismatch = orderbook.ErrOwnerMismatch

	// State
	ErrOrderNotFound    = orderbook.ErrOrderNotFound
	ErrOrderBookFull    = orderbook.ErrBookFull
	ErrMarketNotFound   = errors.New("market not found")
	ErrMarketHalted     = errors.New("market halted")
	ErrStuckEventQueue = errors.New("event queue head exceeded skip bound")

	// Arithmetic
	ErrArithmeticOverflow = errors.New("arithmetic overflow in lot conversion")

	// External collaborator
	ErrVaultTransfer = errors.New("vault transfer failed")
)
