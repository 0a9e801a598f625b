package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowbook/escrowbook/pkg/book"
	"github.com/escrowbook/escrowbook/pkg/escrow"
)

// Store provides Pebble-based persistence for orders, escrow balances,
// and trades. The engine serializes access; the store itself does no
// locking.
type Store struct {
	db *pebble.DB
}

// Open opens (or creates) a Pebble database at the given path.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                 pebble.NewCache(64 << 20),
		MemTableSize:          32 << 20,
		L0CompactionThreshold: 2,
		L0StopWritesThreshold: 12,
		MaxOpenFiles:          1000,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// LoadOrders returns every persisted order in ID order.
func (s *Store) LoadOrders() ([]book.Order, error) {
	prefix := []byte(prefixOrder)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var orders []book.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o book.Order
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return nil, fmt.Errorf("corrupt order record %q: %w", iter.Key(), err)
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// LoadBalances returns every persisted escrow balance entry.
func (s *Store) LoadBalances() ([]escrow.BalanceEntry, error) {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []escrow.BalanceEntry
	for iter.First(); iter.Valid(); iter.Next() {
		var e escrow.BalanceEntry
		if err := json.Unmarshal(iter.Value(), &e); err != nil {
			return nil, fmt.Errorf("corrupt balance record %q: %w", iter.Key(), err)
		}
		if e.Amount != 0 {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// LoadRecentTrades returns up to limit trades for a token, newest
// first.
func (s *Store) LoadRecentTrades(token common.Address, limit int) ([]book.Trade, error) {
	prefix := tradePrefix(token)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var trades []book.Trade
	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t book.Trade
		if err := json.Unmarshal(iter.Value(), &t); err != nil {
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// LoadPaused returns the persisted pause flag.
func (s *Store) LoadPaused() (bool, error) {
	data, closer, err := s.db.Get([]byte(keyPaused))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	return len(data) == 1 && data[0] == 1, nil
}

// LoadTradeSeq returns the persisted trade sequence counter.
func (s *Store) LoadTradeSeq() (uint64, error) {
	data, closer, err := s.db.Get([]byte(keyTradeSeq))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt trade seq record")
	}
	return binary.BigEndian.Uint64(data), nil
}

// ClearBalances drops every persisted balance entry. Used after a
// withdraw-all sweep.
func (s *Store) ClearBalances() error {
	prefix := []byte(prefixBalance)
	return s.db.DeleteRange(prefix, keyUpperBound(prefix), pebble.Sync)
}

// Batch groups the writes of one engine operation into a single
// atomic commit.
type Batch struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *Batch {
	return &Batch{batch: s.db.NewBatch()}
}

func (b *Batch) SaveOrder(o *book.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	return b.batch.Set(orderKey(o.ID), data, nil)
}

// SaveBalance persists one escrow entry; a zero amount deletes it.
func (b *Batch) SaveBalance(e escrow.BalanceEntry) error {
	key := balanceKey(e.Trader, e.Asset)
	if e.Amount == 0 {
		return b.batch.Delete(key, nil)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return b.batch.Set(key, data, nil)
}

func (b *Batch) SaveTrade(t *book.Trade) error {
	data, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return b.batch.Set(tradeKey(t.Token, t.Timestamp, t.ID), data, nil)
}

func (b *Batch) SetPaused(paused bool) error {
	v := []byte{0}
	if paused {
		v[0] = 1
	}
	return b.batch.Set([]byte(keyPaused), v, nil)
}

func (b *Batch) SetTradeSeq(seq uint64) error {
	var v [8]byte
	binary.BigEndian.PutUint64(v[:], seq)
	return b.batch.Set([]byte(keyTradeSeq), v[:], nil)
}

// Commit writes the batch atomically and durably.
func (b *Batch) Commit() error {
	return b.batch.Commit(pebble.Sync)
}

// Close discards the batch without committing.
func (b *Batch) Close() error {
	return b.batch.Close()
}
