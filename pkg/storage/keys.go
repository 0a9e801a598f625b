package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema.
//
//   ord:<id>                    → Order (id zero-padded so key order == id order)
//   bal:<trader>:<asset>        → BalanceEntry
//   trade:<token>:<ts>:<id>     → Trade (ts zero-padded for time ordering)
//   meta:paused                 → pause flag
//   meta:tradeseq               → trade sequence counter

const (
	prefixOrder   = "ord:"
	prefixBalance = "bal:"
	prefixTrade   = "trade:"
	keyPaused     = "meta:paused"
	keyTradeSeq   = "meta:tradeseq"
)

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixOrder, id))
}

func balanceKey(trader, asset common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, trader.Hex(), asset.Hex()))
}

func tradeKey(token common.Address, timestamp int64, tradeID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixTrade, token.Hex(), timestamp, tradeID))
}

func tradePrefix(token common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixTrade, token.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
