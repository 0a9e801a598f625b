package storage

import (
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/escrowbook/escrowbook/pkg/book"
	"github.com/escrowbook/escrowbook/pkg/escrow"
)

var (
	testToken  = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	testTrader = common.HexToAddress("0x0000000000000000000000000000000000000011")
	testAsset  = common.HexToAddress("0x00000000000000000000000000000000000000a0")
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOrderRoundTrip(t *testing.T) {
	s := openTestStore(t)

	orders := []book.Order{
		{ID: 1, Trader: testTrader, Token: testToken, Side: book.Ask, Price: 30, Amount: 50, Status: book.Open, CreatedAt: 1000},
		{ID: 2, Trader: testTrader, Token: testToken, Side: book.Bid, Price: 31, Amount: 0, Status: book.Filled, CreatedAt: 1001},
		{ID: 12, Trader: testTrader, Token: testToken, Side: book.Ask, Price: 29, Amount: 5, Status: book.PartiallyFilled, CreatedAt: 1002},
	}
	b := s.NewBatch()
	// Written out of order; the key encoding restores ID order.
	for _, i := range []int{2, 0, 1} {
		if err := b.SaveOrder(&orders[i]); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadOrders()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, orders) {
		t.Errorf("loaded orders:\n got %+v\nwant %+v", got, orders)
	}
}

func TestBalancePersistenceAndZeroDelete(t *testing.T) {
	s := openTestStore(t)

	entry := escrow.BalanceEntry{Trader: testTrader, Asset: testAsset, Amount: 900}
	b := s.NewBatch()
	if err := b.SaveBalance(entry); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadBalances()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0] != entry {
		t.Fatalf("loaded %+v, want [%+v]", got, entry)
	}

	// A zero amount removes the record entirely.
	entry.Amount = 0
	b = s.NewBatch()
	if err := b.SaveBalance(entry); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}
	got, err = s.LoadBalances()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("zero balance survived: %+v", got)
	}
}

func TestClearBalances(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	for i := int64(1); i <= 3; i++ {
		var trader common.Address
		trader[19] = byte(i)
		if err := b.SaveBalance(escrow.BalanceEntry{Trader: trader, Asset: testAsset, Amount: i * 100}); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	if err := s.ClearBalances(); err != nil {
		t.Fatal(err)
	}
	got, err := s.LoadBalances()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("balances survived clear: %+v", got)
	}
}

func TestRecentTradesNewestFirstWithLimit(t *testing.T) {
	s := openTestStore(t)

	b := s.NewBatch()
	for i := int64(1); i <= 5; i++ {
		tr := book.Trade{
			ID:        string(rune('a' + i)),
			Token:     testToken,
			Price:     30,
			Qty:       i,
			Timestamp: 1000 + i,
		}
		if err := b.SaveTrade(&tr); err != nil {
			t.Fatal(err)
		}
	}
	// A trade on another token must not leak into the listing.
	other := book.Trade{ID: "x", Token: testAsset, Price: 1, Qty: 1, Timestamp: 9999}
	if err := b.SaveTrade(&other); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadRecentTrades(testToken, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d trades, want 3", len(got))
	}
	for i, wantQty := range []int64{5, 4, 3} {
		if got[i].Qty != wantQty {
			t.Errorf("trade[%d].Qty = %d, want %d", i, got[i].Qty, wantQty)
		}
		if got[i].Token != testToken {
			t.Errorf("trade[%d] belongs to %s", i, got[i].Token.Hex())
		}
	}
}

func TestPausedAndTradeSeqDefaults(t *testing.T) {
	s := openTestStore(t)

	paused, err := s.LoadPaused()
	if err != nil || paused {
		t.Errorf("fresh db paused = %v, %v; want false, nil", paused, err)
	}
	seq, err := s.LoadTradeSeq()
	if err != nil || seq != 0 {
		t.Errorf("fresh db trade seq = %d, %v; want 0, nil", seq, err)
	}

	b := s.NewBatch()
	if err := b.SetPaused(true); err != nil {
		t.Fatal(err)
	}
	if err := b.SetTradeSeq(42); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	paused, err = s.LoadPaused()
	if err != nil || !paused {
		t.Errorf("paused = %v, %v; want true, nil", paused, err)
	}
	seq, err = s.LoadTradeSeq()
	if err != nil || seq != 42 {
		t.Errorf("trade seq = %d, %v; want 42, nil", seq, err)
	}
}
