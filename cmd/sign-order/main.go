// Command sign-order generates a signed place transaction for manual
// testing against a node running with REQUIRE_SIGNATURES=true.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"math/big"
	"os"

	"github.com/solape-labs/openbook-v2/pkg/app/core/transaction"
	"github.com/solape-labs/openbook-v2/pkg/crypto"
)

func main() {
	var (
		keyHex    = flag.String("key", "", "private key hex (generates a fresh key when empty)")
		symbol    = flag.String("symbol", "SOL-USDC", "market symbol")
		side      = flag.Uint("side", 1, "1 = bid, 2 = ask")
		price     = flag.Int64("price", 10000, "price in quote lots per base lot")
		maxBase   = flag.Int64("max-base", 1, "max base lots")
		maxQuote  = flag.Int64("max-quote", 10000, "max quote lots")
		expiry    = flag.Int64("expiry", 0, "expiry unix seconds, 0 = good till cancelled")
		clientID  = flag.Uint64("client-id", 0, "client order id")
		reduce    = flag.Bool("reduce-only", false, "reduce-only order")
	)
	flag.Parse()

	var signer *crypto.Signer
	var err error
	if *keyHex == "" {
		signer, err = crypto.GenerateKey()
		if err == nil {
			fmt.Fprintf(os.Stderr, "generated key: %s\n", signer.PrivateKeyHex())
		}
	} else {
		signer, err = crypto.FromPrivateKeyHex(*keyHex)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "key: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "address: %s\n", signer.Address().Hex())

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		fmt.Fprintf(os.Stderr, "nonce: %v\n", err)
		os.Exit(1)
	}

	order := &crypto.OrderTyped{
		Symbol:        *symbol,
		Side:          uint8(*side),
		PriceLots:     big.NewInt(*price),
		MaxBaseLots:   big.NewInt(*maxBase),
		MaxQuoteLots:  big.NewInt(*maxQuote),
		ReduceOnly:    *reduce,
		ClientOrderID: new(big.Int).SetUint64(*clientID),
		Expiry:        big.NewInt(*expiry),
		Nonce:         new(big.Int).SetUint64(nonce),
		Owner:         signer.Address(),
	}

	eip712 := crypto.NewEIP712Signer(crypto.DefaultDomain())
	signature, err := eip712.SignOrder(signer, order)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sign: %v\n", err)
		os.Exit(1)
	}

	tx := &transaction.Tx{
		Type: transaction.TxTypePlace,
		Place: &transaction.PlacePayload{
			Symbol:        *symbol,
			Side:          uint8(*side),
			PriceLots:     order.PriceLots.String(),
			MaxBaseLots:   order.MaxBaseLots.String(),
			MaxQuoteLots:  order.MaxQuoteLots.String(),
			ReduceOnly:    *reduce,
			ClientOrderID: *clientID,
			Expiry:        *expiry,
			Nonce:         nonce,
			Owner:         signer.Address().Hex(),
		},
		Signature: fmt.Sprintf("0x%x", signature),
	}

	out, err := json.MarshalIndent(tx, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
