package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain is the typed-data domain separator. It scopes signatures
// to one deployment so they cannot be replayed elsewhere.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// DefaultDomain is the devnet signing domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "OpenBook",
		Version: "2",
		ChainID: big.NewInt(1337),
	}
}

// OrderTyped is the typed-data form of a place-order instruction. Lots
// are carried as uint256 per EIP-712 convention; the chain re-validates
// the int64 ranges on execution.
type OrderTyped struct {
	Symbol        string
	Side          uint8 // 1 = bid, 2 = ask
	PriceLots     *big.Int
	MaxBaseLots   *big.Int
	MaxQuoteLots  *big.Int
	ReduceOnly    bool
	ClientOrderID *big.Int
	Expiry        *big.Int // unix seconds, 0 = good till cancelled
	Nonce         *big.Int
	Owner         common.Address
}

// CancelTyped is the typed-data form of a cancel instruction.
type CancelTyped struct {
	Symbol  string
	OrderID *big.Int
	Nonce   *big.Int
	Owner   common.Address
}

// EIP712Signer hashes and verifies typed instructions under one domain.
type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

var orderType = []apitypes.Type{
	{Name: "symbol", Type: "string"},
	{Name: "side", Type: "uint8"},
	{Name: "priceLots", Type: "uint256"},
	{Name: "maxBaseLots", Type: "uint256"},
	{Name: "maxQuoteLots", Type: "uint256"},
	{Name: "reduceOnly", Type: "bool"},
	{Name: "clientOrderId", Type: "uint256"},
	{Name: "expiry", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

var cancelType = []apitypes.Type{
	{Name: "symbol", Type: "string"},
	{Name: "orderId", Type: "uint256"},
	{Name: "nonce", Type: "uint256"},
	{Name: "owner", Type: "address"},
}

func (e *EIP712Signer) typedDomain() apitypes.TypedDataDomain {
	return apitypes.TypedDataDomain{
		Name:              e.domain.Name,
		Version:           e.domain.Version,
		ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
		VerifyingContract: e.domain.VerifyingContract.Hex(),
	}
}

// HashOrder returns the EIP-712 digest for an order.
func (e *EIP712Signer) HashOrder(o *OrderTyped) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Order":        orderType,
		},
		PrimaryType: "Order",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"symbol":        o.Symbol,
			"side":          fmt.Sprintf("%d", o.Side),
			"priceLots":     o.PriceLots.String(),
			"maxBaseLots":   o.MaxBaseLots.String(),
			"maxQuoteLots":  o.MaxQuoteLots.String(),
			"reduceOnly":    o.ReduceOnly,
			"clientOrderId": o.ClientOrderID.String(),
			"expiry":        o.Expiry.String(),
			"nonce":         o.Nonce.String(),
			"owner":         o.Owner.Hex(),
		},
	}
	return e.digest(td)
}

// HashCancel returns the EIP-712 digest for a cancel.
func (e *EIP712Signer) HashCancel(c *CancelTyped) ([]byte, error) {
	td := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			"Cancel":       cancelType,
		},
		PrimaryType: "Cancel",
		Domain:      e.typedDomain(),
		Message: apitypes.TypedDataMessage{
			"symbol":  c.Symbol,
			"orderId": c.OrderID.String(),
			"nonce":   c.Nonce.String(),
			"owner":   c.Owner.Hex(),
		},
	}
	return e.digest(td)
}

func (e *EIP712Signer) digest(td apitypes.TypedData) ([]byte, error) {
	domainSep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("hash domain: %w", err)
	}
	msgHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("hash message: %w", err)
	}
	// keccak256("\x19\x01" || domainSeparator || hashStruct(message))
	raw := make([]byte, 0, 2+len(domainSep)+len(msgHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSep...)
	raw = append(raw, msgHash...)
	return crypto.Keccak256(raw), nil
}

// SignOrder signs an order with the given key.
func (e *EIP712Signer) SignOrder(s *Signer, o *OrderTyped) ([]byte, error) {
	digest, err := e.HashOrder(o)
	if err != nil {
		return nil, err
	}
	return s.Sign(digest)
}

// SignCancel signs a cancel with the given key.
func (e *EIP712Signer) SignCancel(s *Signer, c *CancelTyped) ([]byte, error) {
	digest, err := e.HashCancel(c)
	if err != nil {
		return nil, err
	}
	return s.Sign(digest)
}

// RecoverOrderSigner returns the address that signed an order.
func (e *EIP712Signer) RecoverOrderSigner(o *OrderTyped, signature []byte) (common.Address, error) {
	digest, err := e.HashOrder(o)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, signature)
}

// RecoverCancelSigner returns the address that signed a cancel.
func (e *EIP712Signer) RecoverCancelSigner(c *CancelTyped, signature []byte) (common.Address, error) {
	digest, err := e.HashCancel(c)
	if err != nil {
		return common.Address{}, err
	}
	return RecoverAddress(digest, signature)
}
