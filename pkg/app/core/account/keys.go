package account

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
const prefixOpenOrders = "oo:" // open-orders account state

// openOrdersKey returns the key for one (owner, market) account.
// Format: "oo:{address}:{symbol}"
func openOrdersKey(addr common.Address, symbol string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixOpenOrders, addr.Hex(), symbol))
}
