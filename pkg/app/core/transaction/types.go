// Package transaction defines the wire format of ledger instructions:
// a JSON envelope carrying one typed payload plus an optional EIP-712
// signature. Place and cancel act on the owner's orders and must be
// signed when the node enforces signatures; consume is permissionless
// and never needs one.
package transaction

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/solape-labs/openbook-v2/pkg/crypto"
)

type TxType string

const (
	TxTypePlace   TxType = "place"
	TxTypeCancel  TxType = "cancel"
	TxTypeConsume TxType = "consume"
	TxTypeSettle  TxType = "settle"
	TxTypeDeposit TxType = "deposit"
)

// Tx is the signed JSON envelope. Exactly one payload field is set,
// matching Type.
type Tx struct {
	Type    TxType          `json:"type"`
	Place   *PlacePayload   `json:"place,omitempty"`
	Cancel  *CancelPayload  `json:"cancel,omitempty"`
	Consume *ConsumePayload `json:"consume,omitempty"`
	Settle  *SettlePayload  `json:"settle,omitempty"`
	Deposit *DepositPayload `json:"deposit,omitempty"`

	// Signature is the hex 65-byte EIP-712 (place, cancel) or keccak
	// message (settle, deposit) signature. Empty when the node runs
	// with signature enforcement off.
	Signature string `json:"signature,omitempty"`
}

// PlacePayload is a limit order submission. Numeric lots travel as
// decimal strings so wallets and the typed-data hash agree byte for
// byte.
type PlacePayload struct {
	Symbol        string `json:"symbol"`
	Side          uint8  `json:"side"` // 1 = bid, 2 = ask
	PriceLots     string `json:"price_lots"`
	MaxBaseLots   string `json:"max_base_lots"`
	MaxQuoteLots  string `json:"max_quote_lots"`
	ReduceOnly    bool   `json:"reduce_only,omitempty"`
	ClientOrderID uint64 `json:"client_order_id,omitempty"`
	Expiry        int64  `json:"expiry,omitempty"` // unix seconds, 0 = GTC
	Nonce         uint64 `json:"nonce"`
	Owner         string `json:"owner"`
}

type CancelPayload struct {
	Symbol  string `json:"symbol"`
	OrderID uint64 `json:"order_id"`
	Nonce   uint64 `json:"nonce"`
	Owner   string `json:"owner"`
}

// ConsumePayload cranks the event queue. Accounts limits whose deferred
// state advances; empty means the cranker nominates nobody and the call
// is a no-op unless the queue is empty.
type ConsumePayload struct {
	Symbol   string   `json:"symbol"`
	Accounts []string `json:"accounts"`
	Limit    int      `json:"limit,omitempty"`
}

type SettlePayload struct {
	Symbol string `json:"symbol"`
	Nonce  uint64 `json:"nonce"`
	Owner  string `json:"owner"`
}

type DepositPayload struct {
	Symbol    string `json:"symbol"`
	BaseLots  int64  `json:"base_lots"`
	QuoteLots int64  `json:"quote_lots"`
	Nonce     uint64 `json:"nonce"`
	Owner     string `json:"owner"`
}

func (tx *Tx) Serialize() ([]byte, error) { return json.Marshal(tx) }

// Parse decodes and structurally validates an envelope.
func Parse(data []byte) (*Tx, error) {
	var tx Tx
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, fmt.Errorf("unmarshal tx: %w", err)
	}
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	return &tx, nil
}

// Validate checks that the payload matching Type is present and well
// formed. Signature checks are the Verifier's job.
func (tx *Tx) Validate() error {
	switch tx.Type {
	case TxTypePlace:
		if tx.Place == nil {
			return fmt.Errorf("place tx missing payload")
		}
		if tx.Place.Symbol == "" {
			return fmt.Errorf("place tx missing symbol")
		}
		if tx.Place.Side != 1 && tx.Place.Side != 2 {
			return fmt.Errorf("place tx has invalid side %d", tx.Place.Side)
		}
		if !common.IsHexAddress(tx.Place.Owner) {
			return fmt.Errorf("place tx has invalid owner %q", tx.Place.Owner)
		}
	case TxTypeCancel:
		if tx.Cancel == nil {
			return fmt.Errorf("cancel tx missing payload")
		}
		if tx.Cancel.Symbol == "" || tx.Cancel.OrderID == 0 {
			return fmt.Errorf("cancel tx missing symbol or order id")
		}
		if !common.IsHexAddress(tx.Cancel.Owner) {
			return fmt.Errorf("cancel tx has invalid owner %q", tx.Cancel.Owner)
		}
	case TxTypeConsume:
		if tx.Consume == nil || tx.Consume.Symbol == "" {
			return fmt.Errorf("consume tx missing payload")
		}
	case TxTypeSettle:
		if tx.Settle == nil || tx.Settle.Symbol == "" {
			return fmt.Errorf("settle tx missing payload")
		}
		if !common.IsHexAddress(tx.Settle.Owner) {
			return fmt.Errorf("settle tx has invalid owner %q", tx.Settle.Owner)
		}
	case TxTypeDeposit:
		if tx.Deposit == nil || tx.Deposit.Symbol == "" {
			return fmt.Errorf("deposit tx missing payload")
		}
		if !common.IsHexAddress(tx.Deposit.Owner) {
			return fmt.Errorf("deposit tx has invalid owner %q", tx.Deposit.Owner)
		}
	default:
		return fmt.Errorf("unknown tx type %q", tx.Type)
	}
	return nil
}

// ToTyped converts a place payload to its EIP-712 form.
func (p *PlacePayload) ToTyped() (*crypto.OrderTyped, error) {
	price, err := parseBig("price_lots", p.PriceLots)
	if err != nil {
		return nil, err
	}
	maxBase, err := parseBig("max_base_lots", p.MaxBaseLots)
	if err != nil {
		return nil, err
	}
	maxQuote, err := parseBig("max_quote_lots", p.MaxQuoteLots)
	if err != nil {
		return nil, err
	}
	return &crypto.OrderTyped{
		Symbol:        p.Symbol,
		Side:          p.Side,
		PriceLots:     price,
		MaxBaseLots:   maxBase,
		MaxQuoteLots:  maxQuote,
		ReduceOnly:    p.ReduceOnly,
		ClientOrderID: new(big.Int).SetUint64(p.ClientOrderID),
		Expiry:        big.NewInt(p.Expiry),
		Nonce:         new(big.Int).SetUint64(p.Nonce),
		Owner:         common.HexToAddress(p.Owner),
	}, nil
}

// ToTyped converts a cancel payload to its EIP-712 form.
func (c *CancelPayload) ToTyped() *crypto.CancelTyped {
	return &crypto.CancelTyped{
		Symbol:  c.Symbol,
		OrderID: new(big.Int).SetUint64(c.OrderID),
		Nonce:   new(big.Int).SetUint64(c.Nonce),
		Owner:   common.HexToAddress(c.Owner),
	}
}

// Lots returns the payload's int64 lot fields, rejecting values out of
// int64 range.
func (p *PlacePayload) Lots() (priceLots, maxBaseLots, maxQuoteLots int64, err error) {
	if priceLots, err = parseInt64("price_lots", p.PriceLots); err != nil {
		return
	}
	if maxBaseLots, err = parseInt64("max_base_lots", p.MaxBaseLots); err != nil {
		return
	}
	maxQuoteLots, err = parseInt64("max_quote_lots", p.MaxQuoteLots)
	return
}

func parseBig(field, s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseInt64(field, s string) (int64, error) {
	v, err := parseBig(field, s)
	if err != nil {
		return 0, err
	}
	if !v.IsInt64() {
		return 0, fmt.Errorf("%s out of range: %s", field, s)
	}
	return v.Int64(), nil
}
