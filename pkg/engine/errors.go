package engine

import (
	"errors"

	"github.com/escrowbook/escrowbook/pkg/book"
)

// Error taxonomy. Validation and state errors originate here; funds
// errors (escrow.ErrInsufficientFunds, escrow.ErrInsufficientAllowance)
// propagate from the transfer bridge unwrapped. Every error is
// reported before any state mutation for its operation.
var (
	// Validation
	ErrUnknownOrderType = errors.New("unknown order type")
	ErrSameTokenOrder   = errors.New("cannot trade the base asset against itself")
	ErrZeroAmount       = errors.New("amount must be positive")
	ErrZeroPrice        = errors.New("price must be positive")
	ErrNotionalOverflow = errors.New("price times amount overflows")

	// Authorization
	ErrNotOwner      = errors.New("caller does not own this order")
	ErrNotPrivileged = errors.New("caller is not the ledger owner")

	// State
	ErrNotFound       = book.ErrNotFound
	ErrAlreadyClosed  = errors.New("order already filled or closed")
	ErrContractPaused = errors.New("ledger is paused")
)
