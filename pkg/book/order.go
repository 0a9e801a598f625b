package book

import (
	"github.com/ethereum/go-ethereum/common"
)

// Side identifies which half of the book an order rests on.
// The wire encoding (0=ask, 1=bid) matches the on-chain original.
type Side uint8

const (
	Ask Side = 0 // sell Token for the base asset
	Bid Side = 1 // buy Token with the base asset
)

func (s Side) Valid() bool {
	return s == Ask || s == Bid
}

func (s Side) Opposite() Side {
	if s == Ask {
		return Bid
	}
	return Ask
}

func (s Side) String() string {
	switch s {
	case Ask:
		return "ask"
	case Bid:
		return "bid"
	default:
		return "unknown"
	}
}

// Status represents the lifecycle state of an order.
type Status int8

const (
	Open Status = iota
	PartiallyFilled
	Filled
	Closed
)

func (st Status) String() string {
	switch st {
	case Open:
		return "open"
	case PartiallyFilled:
		return "partially_filled"
	case Filled:
		return "filled"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Order is the authoritative record of a placed order.
//
// Amount is the remaining unmatched quantity of Token; it reaches zero
// exactly when the status becomes Filled or Closed. Price is in base
// asset units per unit of Token. For asks the escrowed asset is Token
// itself; for bids it is Price*Amount of the base asset.
type Order struct {
	ID        uint64         `json:"id"`
	Trader    common.Address `json:"trader"`
	Token     common.Address `json:"token"`
	Side      Side           `json:"side"`
	Price     int64          `json:"price"`
	Amount    int64          `json:"amount"`
	Status    Status         `json:"status"`
	CreatedAt int64          `json:"createdAt"` // Unix milliseconds
}

// Terminal reports whether the order can no longer trade.
func (o *Order) Terminal() bool {
	return o.Status == Filled || o.Status == Closed
}

// Trade records a single fill between a taker and a maker. Price is
// always the maker's price, which governs settlement.
type Trade struct {
	ID           string         `json:"id"`
	Token        common.Address `json:"token"`
	Price        int64          `json:"price"`
	Qty          int64          `json:"qty"`
	TakerOrderID uint64         `json:"takerOrderId"`
	MakerOrderID uint64         `json:"makerOrderId"`
	Taker        common.Address `json:"taker"`
	Maker        common.Address `json:"maker"`
	TakerSide    Side           `json:"takerSide"`
	Timestamp    int64          `json:"timestamp"` // Unix milliseconds
}
