package escrow

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// AssetAmount is one entry of the aggregate asset list.
type AssetAmount struct {
	Asset  common.Address `json:"asset"`
	Amount int64          `json:"amount"`
}

// Ledger is the per-trader, per-asset escrow bookkeeping plus the
// aggregate asset list. Pure accounting: it knows nothing about orders
// or matching. The two views must stay equal at all times: for every
// asset, the sum of trader balances equals the aggregate entry.
//
// Release and Settle finalize ledger entries before invoking the
// bridge, so a transfer that calls back into the engine observes a
// consistent ledger.
type Ledger struct {
	bridge   Bridge
	balances map[common.Address]map[common.Address]int64 // trader -> asset -> amount
	assets   map[common.Address]int64
}

func NewLedger(bridge Bridge) *Ledger {
	return &Ledger{
		bridge:   bridge,
		balances: make(map[common.Address]map[common.Address]int64),
		assets:   make(map[common.Address]int64),
	}
}

// Lock pulls amount of asset from the trader into custody and records
// it in escrow. Bridge failures propagate without any ledger change.
func (l *Ledger) Lock(trader, asset common.Address, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("lock amount cannot be negative: %d", amount)
	}
	if amount == 0 {
		return nil
	}
	if err := l.bridge.TransferIn(trader, asset, amount); err != nil {
		return err
	}
	l.add(trader, asset, amount)
	return nil
}

// Release pays amount of asset out of the trader's escrow back to the
// trader.
func (l *Ledger) Release(trader, asset common.Address, amount int64) {
	l.Settle(trader, trader, asset, amount)
}

// Settle pays amount of asset out of payer's escrow to payee. Match
// settlement uses this to route the maker's proceeds and the taker's
// purchase. Escrow going negative is an engine defect, not a caller
// error, and panics. The custody holds every escrowed unit, so a
// transfer-out failure here is equally a defect and also panics.
func (l *Ledger) Settle(payer, payee, asset common.Address, amount int64) {
	if amount < 0 {
		panic(fmt.Sprintf("settle amount cannot be negative: %d", amount))
	}
	if amount == 0 {
		return
	}
	held := l.balances[payer][asset]
	if held < amount || l.assets[asset] < amount {
		panic(fmt.Sprintf("escrow underflow: payer=%s asset=%s held=%d aggregate=%d need=%d",
			payer.Hex(), asset.Hex(), held, l.assets[asset], amount))
	}
	l.add(payer, asset, -amount)
	if err := l.bridge.TransferOut(payee, asset, amount); err != nil {
		panic(fmt.Sprintf("escrow transfer out failed: payee=%s asset=%s amount=%d: %v",
			payee.Hex(), asset.Hex(), amount, err))
	}
}

// Restore re-establishes a balance entry without moving tokens. Used
// when rebuilding ledger state from disk.
func (l *Ledger) Restore(trader, asset common.Address, amount int64) {
	if amount <= 0 {
		return
	}
	l.add(trader, asset, amount)
}

// SweepAll releases every aggregate balance to the given owner. Only
// meaningful while the ledger is being decommissioned; afterwards both
// views are empty.
func (l *Ledger) SweepAll(owner common.Address) error {
	for _, aa := range l.Assets() {
		for _, held := range l.balances {
			if held[aa.Asset] != 0 {
				delete(held, aa.Asset)
			}
		}
		delete(l.assets, aa.Asset)
		if err := l.bridge.TransferOut(owner, aa.Asset, aa.Amount); err != nil {
			return fmt.Errorf("sweep %s: %w", aa.Asset.Hex(), err)
		}
	}
	return nil
}

// Balance returns the escrowed amount of asset held for trader.
func (l *Ledger) Balance(trader, asset common.Address) int64 {
	return l.balances[trader][asset]
}

// AssetAmount returns the aggregate amount of asset held in custody.
func (l *Ledger) AssetAmount(asset common.Address) int64 {
	return l.assets[asset]
}

// Assets returns the aggregate asset list, sorted by asset address so
// enumeration is deterministic.
func (l *Ledger) Assets() []AssetAmount {
	out := make([]AssetAmount, 0, len(l.assets))
	for asset, amount := range l.assets {
		if amount == 0 {
			continue
		}
		out = append(out, AssetAmount{Asset: asset, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Asset.Bytes(), out[j].Asset.Bytes()) < 0
	})
	return out
}

// Entries returns every non-zero (trader, asset, amount) triple,
// sorted by trader then asset. Used for persistence snapshots.
func (l *Ledger) Entries() []BalanceEntry {
	var out []BalanceEntry
	for trader, held := range l.balances {
		for asset, amount := range held {
			if amount == 0 {
				continue
			}
			out = append(out, BalanceEntry{Trader: trader, Asset: asset, Amount: amount})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := bytes.Compare(out[i].Trader.Bytes(), out[j].Trader.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].Asset.Bytes(), out[j].Asset.Bytes()) < 0
	})
	return out
}

// BalanceEntry is one persisted escrow balance.
type BalanceEntry struct {
	Trader common.Address `json:"trader"`
	Asset  common.Address `json:"asset"`
	Amount int64          `json:"amount"`
}

// CheckInvariant verifies that per-trader balances sum to the
// aggregate asset list for every asset appearing in either view.
func (l *Ledger) CheckInvariant() error {
	sums := make(map[common.Address]int64)
	for _, held := range l.balances {
		for asset, amount := range held {
			if amount < 0 {
				return fmt.Errorf("negative escrow balance for asset %s: %d", asset.Hex(), amount)
			}
			sums[asset] += amount
		}
	}
	for asset, amount := range l.assets {
		if sums[asset] != amount {
			return fmt.Errorf("asset %s: trader sum %d != aggregate %d", asset.Hex(), sums[asset], amount)
		}
	}
	for asset, sum := range sums {
		if l.assets[asset] != sum {
			return fmt.Errorf("asset %s: trader sum %d != aggregate %d", asset.Hex(), sum, l.assets[asset])
		}
	}
	return nil
}

func (l *Ledger) add(trader, asset common.Address, delta int64) {
	held := l.balances[trader]
	if held == nil {
		held = make(map[common.Address]int64)
		l.balances[trader] = held
	}
	held[asset] += delta
	if held[asset] == 0 {
		delete(held, asset)
	}
	l.assets[asset] += delta
	if l.assets[asset] == 0 {
		delete(l.assets, asset)
	}
}
