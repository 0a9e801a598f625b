package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/escrowbook/escrowbook/pkg/book"
)

// PlaceOrder validates the order, locks the offered asset in escrow,
// matches it against the opposite side in price-time priority, and
// rests any unmatched remainder. Returns the assigned order ID and the
// fills executed during matching.
//
// Settlement always executes at the resting (maker) order's price.
// When a bid's own price is more aggressive than the maker's, the
// over-locked base asset is refunded to the taker at fill time, not at
// order close.
func (e *Engine) PlaceOrder(caller, token common.Address, side book.Side, price, amount int64) (uint64, []book.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return 0, nil, ErrContractPaused
	}
	if !side.Valid() {
		return 0, nil, fmt.Errorf("side %d: %w", side, ErrUnknownOrderType)
	}
	if token == e.base {
		return 0, nil, ErrSameTokenOrder
	}
	if amount <= 0 {
		return 0, nil, fmt.Errorf("amount %d: %w", amount, ErrZeroAmount)
	}
	if price <= 0 {
		return 0, nil, fmt.Errorf("price %d: %w", price, ErrZeroPrice)
	}
	if price > math.MaxInt64/amount {
		return 0, nil, fmt.Errorf("%d*%d: %w", price, amount, ErrNotionalOverflow)
	}

	// Lock the offered asset before the store is touched; a bridge
	// failure leaves no trace.
	lockAsset, lockAmount := e.lockFor(side, token, price, amount)
	if err := e.escrow.Lock(caller, lockAsset, lockAmount); err != nil {
		return 0, nil, err
	}

	o := &book.Order{
		Trader:    caller,
		Token:     token,
		Side:      side,
		Price:     price,
		Amount:    amount,
		Status:    book.Open,
		CreatedAt: e.clock.Now().UnixMilli(),
	}
	id := e.orders.Append(o)

	makers, trades := e.match(o)
	if o.Terminal() {
		e.orders.Remove(o.ID)
	}

	e.log.Infow("order_placed",
		"id", id,
		"trader", caller.Hex(),
		"token", token.Hex(),
		"side", side.String(),
		"price", price,
		"amount", amount,
		"fills", len(trades),
		"remaining", o.Amount,
	)

	touched := []*book.Order{o}
	pairs := []balancePair{
		{caller, token}, {caller, e.base},
	}
	for _, m := range makers {
		touched = append(touched, m)
		pairs = append(pairs, balancePair{m.Trader, token}, balancePair{m.Trader, e.base})
	}
	if err := e.commit(touched, pairs, trades); err != nil {
		return 0, nil, fmt.Errorf("persist place: %w", err)
	}
	return id, trades, nil
}

// lockFor returns the asset and quantity escrowed for an order: the
// token itself for asks, price*amount of base asset for bids.
func (e *Engine) lockFor(side book.Side, token common.Address, price, amount int64) (common.Address, int64) {
	if side == book.Ask {
		return token, amount
	}
	return e.base, price * amount
}

// match walks crossing opposite-side orders best price first, earliest
// ID breaking ties, settling each fill as it happens. Returns the
// makers touched and the executed trades.
func (e *Engine) match(taker *book.Order) ([]*book.Order, []book.Trade) {
	candidates := e.candidates(taker)

	var makers []*book.Order
	var trades []book.Trade
	for _, maker := range candidates {
		if taker.Amount == 0 {
			break
		}
		qty := min(taker.Amount, maker.Amount)
		e.settle(taker, maker, qty)

		taker.Amount -= qty
		maker.Amount -= qty
		if maker.Amount == 0 {
			maker.Status = book.Filled
			e.orders.Remove(maker.ID)
		} else {
			maker.Status = book.PartiallyFilled
		}
		if taker.Amount == 0 {
			taker.Status = book.Filled
		} else {
			taker.Status = book.PartiallyFilled
		}

		makers = append(makers, maker)
		trade := e.recordTrade(taker, maker, qty)
		trades = append(trades, trade)

		e.log.Infow("fill",
			"token", taker.Token.Hex(),
			"taker", taker.ID,
			"maker", maker.ID,
			"price", maker.Price,
			"qty", qty,
		)
	}
	return makers, trades
}

// candidates collects live opposite-side orders for the taker's token
// whose price crosses the taker's limit, sorted best price first with
// the lower order ID winning ties.
func (e *Engine) candidates(taker *book.Order) []*book.Order {
	var out []*book.Order
	for o := range e.orders.Active() {
		if o.Token != taker.Token || o.Side == taker.Side {
			continue
		}
		if taker.Side == book.Bid && o.Price > taker.Price {
			continue
		}
		if taker.Side == book.Ask && o.Price < taker.Price {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if taker.Side == book.Bid {
				return out[i].Price < out[j].Price // buy from the cheapest ask
			}
			return out[i].Price > out[j].Price // sell to the highest bid
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// settle moves qty of token and qty*maker.Price of base asset between
// the two escrows. The bid side's base escrow pays the ask side's
// trader; the ask side's token escrow pays the bid side's trader.
// The notional cannot overflow: both orders passed the price*amount
// bound at placement and qty never exceeds either amount.
func (e *Engine) settle(taker, maker *book.Order, qty int64) {
	notional := maker.Price * qty
	if taker.Side == book.Bid {
		e.escrow.Settle(maker.Trader, taker.Trader, taker.Token, qty)
		e.escrow.Settle(taker.Trader, maker.Trader, e.base, notional)
		// The taker locked base at its own, possibly higher, price.
		if over := (taker.Price - maker.Price) * qty; over > 0 {
			e.escrow.Release(taker.Trader, e.base, over)
			e.log.Infow("over_lock_refund", "taker", taker.ID, "amount", over)
		}
		return
	}
	// Taker is the ask: its token escrow pays the bid, whose base
	// escrow at the maker's own price covers the notional exactly.
	e.escrow.Settle(taker.Trader, maker.Trader, taker.Token, qty)
	e.escrow.Settle(maker.Trader, taker.Trader, e.base, notional)
}

// recordTrade appends a trade with a deterministic ID, so replaying
// the same order flow reproduces identical history.
func (e *Engine) recordTrade(taker, maker *book.Order, qty int64) book.Trade {
	e.tradeSeq++
	seed := fmt.Sprintf("trade:%d:%d:%d", taker.ID, maker.ID, e.tradeSeq)
	t := book.Trade{
		ID:           uuid.NewSHA1(uuid.NameSpaceOID, []byte(seed)).String(),
		Token:        taker.Token,
		Price:        maker.Price,
		Qty:          qty,
		TakerOrderID: taker.ID,
		MakerOrderID: maker.ID,
		Taker:        taker.Trader,
		Maker:        maker.Trader,
		TakerSide:    taker.Side,
		Timestamp:    e.clock.Now().UnixMilli(),
	}
	e.trades = append(e.trades, t)
	return t
}
