package engine

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/escrowbook/escrowbook/pkg/book"
	"github.com/escrowbook/escrowbook/pkg/escrow"
	"github.com/escrowbook/escrowbook/pkg/storage"
	"github.com/escrowbook/escrowbook/pkg/util"
)

// Config wires the engine's collaborators. Bridge and the two
// addresses are required; Store enables durability, Logger and Clock
// default to no-op and wall clock.
type Config struct {
	BaseAsset common.Address
	Owner     common.Address
	Bridge    escrow.Bridge
	Store     *storage.Store
	Logger    *zap.SugaredLogger
	Clock     util.Clock
}

// Engine owns the order store and the escrow ledger and serializes
// every operation: one call completes fully, escrow movements
// included, before the next begins. All arithmetic is integer;
// replaying an identical call sequence reproduces identical state.
type Engine struct {
	mu sync.Mutex

	base  common.Address
	owner common.Address

	escrow *escrow.Ledger
	orders *book.Store

	db    *storage.Store
	log   *zap.SugaredLogger
	clock util.Clock

	paused   bool
	tradeSeq uint64
	trades   []book.Trade // in-memory history, newest last
}

func New(cfg Config) (*Engine, error) {
	if cfg.Bridge == nil {
		return nil, fmt.Errorf("engine: bridge is required")
	}
	if cfg.BaseAsset == (common.Address{}) {
		return nil, fmt.Errorf("engine: base asset is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = util.RealClock{}
	}

	e := &Engine{
		base:   cfg.BaseAsset,
		owner:  cfg.Owner,
		escrow: escrow.NewLedger(cfg.Bridge),
		orders: book.NewStore(),
		db:     cfg.Store,
		log:    logger,
		clock:  clock,
	}
	if e.db != nil {
		if err := e.restore(); err != nil {
			return nil, fmt.Errorf("engine: restore: %w", err)
		}
	}
	return e, nil
}

// restore rebuilds in-memory state from Pebble. Balance entries are
// restored without bridge movement: the custody already holds the
// tokens.
func (e *Engine) restore() error {
	orders, err := e.db.LoadOrders()
	if err != nil {
		return err
	}
	for i := range orders {
		o := orders[i]
		if err := e.orders.Put(&o); err != nil {
			return err
		}
	}

	entries, err := e.db.LoadBalances()
	if err != nil {
		return err
	}
	for _, entry := range entries {
		e.escrow.Restore(entry.Trader, entry.Asset, entry.Amount)
	}

	if e.paused, err = e.db.LoadPaused(); err != nil {
		return err
	}
	if e.tradeSeq, err = e.db.LoadTradeSeq(); err != nil {
		return err
	}

	e.log.Infow("state_restored",
		"orders", e.orders.Len(),
		"active", e.orders.ActiveLen(),
		"balances", len(entries),
		"paused", e.paused,
	)
	return nil
}

// ==============================
// Queries
// ==============================

// OrderByID returns the order record, live or historical.
func (e *Engine) OrderByID(id uint64) (book.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, err := e.orders.Get(id)
	if err != nil {
		return book.Order{}, err
	}
	return *o, nil
}

// Orders returns a snapshot of the active orders in insertion order.
func (e *Engine) Orders() []book.Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]book.Order, 0, e.orders.ActiveLen())
	for o := range e.orders.Active() {
		out = append(out, *o)
	}
	return out
}

// OrderCount is the number of orders ever recorded.
func (e *Engine) OrderCount() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return uint64(e.orders.Len())
}

// AskOrderCount is the number of active ask orders.
func (e *Engine) AskOrderCount() uint64 {
	return e.countSide(book.Ask)
}

// BidOrderCount is the number of active bid orders.
func (e *Engine) BidOrderCount() uint64 {
	return e.countSide(book.Bid)
}

func (e *Engine) countSide(side book.Side) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n uint64
	for o := range e.orders.Active() {
		if o.Side == side {
			n++
		}
	}
	return n
}

// Assets returns the aggregate asset list.
func (e *Engine) Assets() []escrow.AssetAmount {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.Assets()
}

// Balance returns a trader's escrowed amount of an asset.
func (e *Engine) Balance(trader, asset common.Address) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.Balance(trader, asset)
}

// RecentTrades returns up to limit trades for a token, newest first.
func (e *Engine) RecentTrades(token common.Address, limit int) ([]book.Trade, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return e.db.LoadRecentTrades(token, limit)
	}
	var out []book.Trade
	for i := len(e.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if e.trades[i].Token == token {
			out = append(out, e.trades[i])
		}
	}
	return out, nil
}

// Paused reports whether trader-mutating operations are blocked.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Owner returns the privileged owner address.
func (e *Engine) Owner() common.Address { return e.owner }

// BaseAsset returns the quote asset all prices are denominated in.
func (e *Engine) BaseAsset() common.Address { return e.base }

// CheckInvariant verifies the escrow ledger's aggregate view. Used by
// tests after every operation.
func (e *Engine) CheckInvariant() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.escrow.CheckInvariant()
}

// ==============================
// Persistence plumbing
// ==============================

// balancePair identifies one (trader, asset) escrow entry touched by
// an operation.
type balancePair struct {
	trader common.Address
	asset  common.Address
}

// commit persists the records one operation touched as a single
// atomic Pebble batch. No-op without a backing store.
func (e *Engine) commit(orders []*book.Order, pairs []balancePair, trades []book.Trade, extra ...func(*storage.Batch) error) error {
	if e.db == nil {
		return nil
	}
	batch := e.db.NewBatch()
	defer batch.Close()

	for _, o := range orders {
		if err := batch.SaveOrder(o); err != nil {
			return err
		}
	}
	seen := make(map[balancePair]bool, len(pairs))
	for _, p := range pairs {
		if seen[p] {
			continue
		}
		seen[p] = true
		entry := escrow.BalanceEntry{
			Trader: p.trader,
			Asset:  p.asset,
			Amount: e.escrow.Balance(p.trader, p.asset),
		}
		if err := batch.SaveBalance(entry); err != nil {
			return err
		}
	}
	for i := range trades {
		if err := batch.SaveTrade(&trades[i]); err != nil {
			return err
		}
	}
	if len(trades) > 0 {
		if err := batch.SetTradeSeq(e.tradeSeq); err != nil {
			return err
		}
	}
	for _, fn := range extra {
		if err := fn(batch); err != nil {
			return err
		}
	}
	return batch.Commit()
}
