// Package fees computes the maker/taker fee adjustments on fills.
//
// Rates are signed integer basis points on the native quote notional.
// Fees never touch the lot buckets (free, reserved, pending); they
// adjust quote position only, which is why cancelling a bid under a
// nonzero maker fee releases exactly the reserved quote lots.
package fees

// OnNotional returns the fee owed on a native quote notional at the
// given signed rate. Truncates toward zero.
func OnNotional(quoteNative, feeBps int64) int64 {
	return quoteNative * feeBps / 10_000
}

// Maker returns the maker-side fee for a fill. Negative rates (rebates)
// yield a negative fee, which the position application adds back.
func Maker(quoteNative, makerFeeBps int64) int64 {
	return OnNotional(quoteNative, makerFeeBps)
}

// Taker returns the taker-side fee, charged at placement time against
// the taker's quote position.
func Taker(quoteNative, takerFeeBps int64) int64 {
	return OnNotional(quoteNative, takerFeeBps)
}
