package transaction

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/solape-labs/openbook-v2/pkg/crypto"
)

// Verifier checks envelope signatures and resolves the authenticated
// owner. Place and cancel use EIP-712 typed data; settle and deposit
// sign a keccak digest of a canonical message string.
type Verifier struct {
	eip712 *crypto.EIP712Signer
}

func NewVerifier(domain crypto.EIP712Domain) *Verifier {
	return &Verifier{eip712: crypto.NewEIP712Signer(domain)}
}

// Owner verifies the envelope's signature and returns the signing
// address. Consume transactions carry no owner and verify trivially.
func (v *Verifier) Owner(tx *Tx) (common.Address, error) {
	switch tx.Type {
	case TxTypeConsume:
		return common.Address{}, nil
	case TxTypePlace:
		return v.verifyPlace(tx)
	case TxTypeCancel:
		return v.verifyCancel(tx)
	case TxTypeSettle:
		owner := common.HexToAddress(tx.Settle.Owner)
		msg := fmt.Sprintf("SETTLE:%s:%d", tx.Settle.Symbol, tx.Settle.Nonce)
		return v.verifyMessage(tx, owner, msg)
	case TxTypeDeposit:
		owner := common.HexToAddress(tx.Deposit.Owner)
		msg := fmt.Sprintf("DEPOSIT:%s:%d:%d:%d",
			tx.Deposit.Symbol, tx.Deposit.BaseLots, tx.Deposit.QuoteLots, tx.Deposit.Nonce)
		return v.verifyMessage(tx, owner, msg)
	default:
		return common.Address{}, fmt.Errorf("unknown tx type %q", tx.Type)
	}
}

func (v *Verifier) verifyPlace(tx *Tx) (common.Address, error) {
	typed, err := tx.Place.ToTyped()
	if err != nil {
		return common.Address{}, err
	}
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := v.eip712.RecoverOrderSigner(typed, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover order signer: %w", err)
	}
	if signer != typed.Owner {
		return common.Address{}, fmt.Errorf("order signed by %s, claims owner %s", signer.Hex(), typed.Owner.Hex())
	}
	return signer, nil
}

func (v *Verifier) verifyCancel(tx *Tx) (common.Address, error) {
	typed := tx.Cancel.ToTyped()
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	signer, err := v.eip712.RecoverCancelSigner(typed, sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("recover cancel signer: %w", err)
	}
	if signer != typed.Owner {
		return common.Address{}, fmt.Errorf("cancel signed by %s, claims owner %s", signer.Hex(), typed.Owner.Hex())
	}
	return signer, nil
}

func (v *Verifier) verifyMessage(tx *Tx, owner common.Address, msg string) (common.Address, error) {
	sig, err := decodeSignature(tx.Signature)
	if err != nil {
		return common.Address{}, err
	}
	digest := ethcrypto.Keccak256([]byte(msg))
	if !crypto.VerifySignature(owner, digest, sig) {
		return common.Address{}, fmt.Errorf("invalid %s signature for %s", tx.Type, owner.Hex())
	}
	return owner, nil
}

func decodeSignature(sig string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex signature: %w", err)
	}
	if len(raw) != 65 {
		return nil, fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}
	return raw, nil
}
