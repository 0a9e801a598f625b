package engine

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowbook/escrowbook/pkg/book"
	"github.com/escrowbook/escrowbook/pkg/storage"
)

// Close cancels the unmatched remainder of an order and refunds its
// escrow: the token itself for asks, price*remaining of base asset for
// bids. Only the owning trader may close. The record stays retrievable
// by ID but leaves the active enumeration.
func (e *Engine) Close(caller common.Address, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrContractPaused
	}
	o, err := e.orders.Get(id)
	if err != nil {
		return err
	}
	if o.Trader != caller {
		return ErrNotOwner
	}
	if o.Terminal() {
		return ErrAlreadyClosed
	}

	refundAsset, refund := e.lockFor(o.Side, o.Token, o.Price, o.Amount)
	o.Status = book.Closed
	o.Amount = 0
	e.orders.Remove(id)
	e.escrow.Release(caller, refundAsset, refund)

	e.log.Infow("order_closed", "id", id, "trader", caller.Hex(), "refund", refund)
	if err := e.commit([]*book.Order{o}, []balancePair{{caller, refundAsset}}, nil); err != nil {
		return fmt.Errorf("persist close: %w", err)
	}
	return nil
}

// UpdateOrder changes a resting order's price and remaining amount.
// The escrow delta between old and new terms is locked or refunded;
// a failed additional lock leaves the order untouched. Updating never
// re-triggers matching.
func (e *Engine) UpdateOrder(caller common.Address, id uint64, newPrice, newAmount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.paused {
		return ErrContractPaused
	}
	if newAmount <= 0 {
		return fmt.Errorf("amount %d: %w", newAmount, ErrZeroAmount)
	}
	if newPrice <= 0 {
		return fmt.Errorf("price %d: %w", newPrice, ErrZeroPrice)
	}
	if newPrice > math.MaxInt64/newAmount {
		return fmt.Errorf("%d*%d: %w", newPrice, newAmount, ErrNotionalOverflow)
	}
	o, err := e.orders.Get(id)
	if err != nil {
		return err
	}
	if o.Trader != caller {
		return ErrNotOwner
	}
	if o.Terminal() {
		return ErrAlreadyClosed
	}

	asset, oldLock := e.lockFor(o.Side, o.Token, o.Price, o.Amount)
	_, newLock := e.lockFor(o.Side, o.Token, newPrice, newAmount)

	switch {
	case newLock > oldLock:
		if err := e.escrow.Lock(caller, asset, newLock-oldLock); err != nil {
			return err
		}
	case newLock < oldLock:
		e.escrow.Release(caller, asset, oldLock-newLock)
	}
	o.Price = newPrice
	o.Amount = newAmount

	e.log.Infow("order_updated", "id", id, "price", newPrice, "amount", newAmount)
	if err := e.commit([]*book.Order{o}, []balancePair{{caller, asset}}, nil); err != nil {
		return fmt.Errorf("persist update: %w", err)
	}
	return nil
}

// MigrateOrder imports a fully-formed order record as-is, preserving
// its ID, without re-validating or re-escrowing. Escrow for migrated
// books arrives separately via the bulk sweep on the source ledger.
// Owner-only; permitted while paused.
func (e *Engine) MigrateOrder(caller common.Address, rec book.Order) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return 0, ErrNotPrivileged
	}
	cp := rec
	if err := e.orders.Put(&cp); err != nil {
		return 0, err
	}

	e.log.Infow("order_migrated", "id", cp.ID, "trader", cp.Trader.Hex(), "status", cp.Status.String())
	if err := e.commit([]*book.Order{&cp}, nil, nil); err != nil {
		return 0, fmt.Errorf("persist migrate: %w", err)
	}
	return cp.ID, nil
}

// Pause blocks all trader-mutating operations: place, update, and
// close. Views and privileged operations keep working. Owner-only.
func (e *Engine) Pause(caller common.Address) error {
	return e.setPaused(caller, true)
}

// Unpause re-enables trading. Owner-only.
func (e *Engine) Unpause(caller common.Address) error {
	return e.setPaused(caller, false)
}

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotPrivileged
	}
	e.paused = paused
	e.log.Infow("pause_changed", "paused", paused)
	return e.commit(nil, nil, nil, func(b *storage.Batch) error {
		return b.SetPaused(paused)
	})
}

// WithdrawAll sweeps every aggregate escrow balance to the owner.
// Decommissioning path for version upgrades; the ledger is empty
// afterwards. Owner-only; permitted while paused.
func (e *Engine) WithdrawAll(caller common.Address) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrNotPrivileged
	}
	if err := e.escrow.SweepAll(e.owner); err != nil {
		return err
	}

	e.log.Infow("withdraw_all", "owner", e.owner.Hex())
	if e.db != nil {
		if err := e.db.ClearBalances(); err != nil {
			return fmt.Errorf("persist withdraw: %w", err)
		}
	}
	return nil
}
