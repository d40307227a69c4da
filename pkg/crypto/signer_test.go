package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSignAndRecover(t *testing.T) {
	s, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	sig, err := s.SignMessage([]byte("hello"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d", len(sig))
	}

	other, _ := GenerateKey()
	digest := make([]byte, 32)
	sig2, err := s.Sign(digest)
	if err != nil {
		t.Fatalf("sign digest: %v", err)
	}
	if !VerifySignature(s.Address(), digest, sig2) {
		t.Fatalf("valid signature rejected")
	}
	if VerifySignature(other.Address(), digest, sig2) {
		t.Fatalf("signature verified against wrong address")
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	const key = "289c2857d4598e37fb9647507e47a309d6133539bf21a8b9cb6df88fd5232032"

	s1, err := FromPrivateKeyHex(key)
	if err != nil {
		t.Fatalf("from hex: %v", err)
	}
	s2, err := FromPrivateKeyHex("0x" + key)
	if err != nil {
		t.Fatalf("from prefixed hex: %v", err)
	}
	if s1.Address() != s2.Address() {
		t.Fatalf("prefix changed derived address: %s vs %s", s1.Address(), s2.Address())
	}
	if s1.Address() == (common.Address{}) {
		t.Fatalf("zero address derived")
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Fatalf("bad key accepted")
	}
}

func TestOrderDigestRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	e := NewEIP712Signer(DefaultDomain())

	order := &OrderTyped{
		Symbol:        "SOL-USDC",
		Side:          1,
		PriceLots:     big.NewInt(10_000),
		MaxBaseLots:   big.NewInt(1),
		MaxQuoteLots:  big.NewInt(10_000),
		ClientOrderID: big.NewInt(7),
		Expiry:        big.NewInt(0),
		Nonce:         big.NewInt(42),
		Owner:         signer.Address(),
	}

	sig, err := e.SignOrder(signer, order)
	if err != nil {
		t.Fatalf("sign order: %v", err)
	}
	recovered, err := e.RecoverOrderSigner(order, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered, signer.Address())
	}

	// Any field change invalidates the signature.
	order.PriceLots = big.NewInt(10_001)
	recovered, err = e.RecoverOrderSigner(order, sig)
	if err == nil && recovered == signer.Address() {
		t.Fatalf("tampered order still verifies")
	}
}

func TestCancelDigestRoundTrip(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	e := NewEIP712Signer(DefaultDomain())

	cancel := &CancelTyped{
		Symbol:  "SOL-USDC",
		OrderID: big.NewInt(3),
		Nonce:   big.NewInt(1),
		Owner:   signer.Address(),
	}
	sig, err := e.SignCancel(signer, cancel)
	if err != nil {
		t.Fatalf("sign cancel: %v", err)
	}
	recovered, err := e.RecoverCancelSigner(cancel, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != signer.Address() {
		t.Fatalf("recovered %s, want %s", recovered, signer.Address())
	}
}
