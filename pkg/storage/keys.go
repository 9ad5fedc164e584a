package storage

import (
	"fmt"
	"strconv"
)

// Key schema:
//
//	ord:<orderID>          → OrderRecord
//	trade:<seq>:<tradeID>  → Trade
//
// seq is zero-padded to 20 digits so lexicographic order is journal order.
const (
	prefixOrder = "ord:"
	prefixTrade = "trade:"
)

func orderKey(orderID string) []byte {
	return []byte(prefixOrder + orderID)
}

func tradeKey(seq uint64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", prefixTrade, seq, tradeID))
}

func tradePrefix() []byte {
	return []byte(prefixTrade)
}

// tradeSeq extracts the journal sequence from a trade key.
func tradeSeq(key []byte) (uint64, error) {
	rest := key[len(prefixTrade):]
	if len(rest) < 20 {
		return 0, fmt.Errorf("malformed trade key %q", key)
	}
	return strconv.ParseUint(string(rest[:20]), 10, 64)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
