package escrow

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Transfer failures reported by the external token mover. The ledger
// propagates these untouched so callers can retry with corrected
// funding.
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
)

// Bridge moves tokens between traders and the contract's custody.
// Implementations are synchronous: a call either fully succeeds or
// fully fails, with no partial movement.
type Bridge interface {
	TransferIn(trader, asset common.Address, amount int64) error
	TransferOut(trader, asset common.Address, amount int64) error
}

// TokenBank is an in-memory Bridge with ERC20-style balances and
// allowances. It backs the test suite and the dev binary; TransferIn
// mirrors transferFrom (spends allowance), TransferOut mirrors a plain
// transfer out of custody.
type TokenBank struct {
	mu         sync.Mutex
	custody    common.Address
	balances   map[common.Address]map[common.Address]int64 // asset -> holder -> amount
	allowances map[common.Address]map[common.Address]int64 // asset -> holder -> approved
}

func NewTokenBank(custody common.Address) *TokenBank {
	return &TokenBank{
		custody:    custody,
		balances:   make(map[common.Address]map[common.Address]int64),
		allowances: make(map[common.Address]map[common.Address]int64),
	}
}

// Mint credits freshly created units of asset to holder.
func (b *TokenBank) Mint(holder, asset common.Address, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credit(asset, holder, amount)
}

// Approve lets custody pull up to amount of asset from holder.
func (b *TokenBank) Approve(holder, asset common.Address, amount int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.allowances[asset] == nil {
		b.allowances[asset] = make(map[common.Address]int64)
	}
	b.allowances[asset][holder] = amount
}

func (b *TokenBank) BalanceOf(holder, asset common.Address) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[asset][holder]
}

func (b *TokenBank) TransferIn(trader, asset common.Address, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.allowances[asset][trader] < amount {
		return fmt.Errorf("%s allowance %d < %d: %w",
			asset.Hex(), b.allowances[asset][trader], amount, ErrInsufficientAllowance)
	}
	if b.balances[asset][trader] < amount {
		return fmt.Errorf("%s balance %d < %d: %w",
			asset.Hex(), b.balances[asset][trader], amount, ErrInsufficientFunds)
	}

	b.allowances[asset][trader] -= amount
	b.balances[asset][trader] -= amount
	b.credit(asset, b.custody, amount)
	return nil
}

func (b *TokenBank) TransferOut(trader, asset common.Address, amount int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.balances[asset][b.custody] < amount {
		return fmt.Errorf("custody %s balance %d < %d: %w",
			asset.Hex(), b.balances[asset][b.custody], amount, ErrInsufficientFunds)
	}

	b.balances[asset][b.custody] -= amount
	b.credit(asset, trader, amount)
	return nil
}

func (b *TokenBank) credit(asset, holder common.Address, amount int64) {
	if b.balances[asset] == nil {
		b.balances[asset] = make(map[common.Address]int64)
	}
	b.balances[asset][holder] += amount
}
