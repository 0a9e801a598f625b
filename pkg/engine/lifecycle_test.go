package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/escrowbook/escrowbook/pkg/book"
)

func TestCloseRefundsRemaining(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 50)
	fund(bank, bob, baseUSDC, 31*30)

	askID := mustPlace(t, e, alice, tokenBTC, book.Ask, 30, 50)
	mustPlace(t, e, bob, tokenBTC, book.Bid, 31, 30)

	if err := e.Close(alice, askID); err != nil {
		t.Fatalf("close: %v", err)
	}
	checkInvariant(t, e)

	// The unfilled 20 units return to the wallet.
	if got := bank.BalanceOf(alice, tokenBTC); got != 20 {
		t.Errorf("wallet token = %d, want 20", got)
	}
	if got := e.Balance(alice, tokenBTC); got != 0 {
		t.Errorf("escrow token = %d, want 0", got)
	}

	o, err := e.OrderByID(askID)
	if err != nil {
		t.Fatalf("closed order not retrievable: %v", err)
	}
	if o.Status != book.Closed || o.Amount != 0 {
		t.Errorf("order = %+v, want closed/0", o)
	}
	for _, a := range e.Orders() {
		if a.ID == askID {
			t.Error("closed order still active")
		}
	}
}

func TestCloseBidRefundsNotional(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, bob, baseUSDC, 40*10)

	bidID := mustPlace(t, e, bob, tokenBTC, book.Bid, 40, 10)
	if err := e.Close(bob, bidID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if got := bank.BalanceOf(bob, baseUSDC); got != 400 {
		t.Errorf("wallet base = %d, want full 400 refund", got)
	}
	checkInvariant(t, e)
}

func TestCloseAuthorizationAndState(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 10)
	id := mustPlace(t, e, alice, tokenBTC, book.Ask, 30, 10)

	if err := e.Close(bob, id); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger close: got %v, want %v", err, ErrNotOwner)
	}
	if err := e.Close(alice, 9999); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown id: got %v, want %v", err, ErrNotFound)
	}
	if err := e.Close(alice, id); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := e.Close(alice, id); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("double close: got %v, want %v", err, ErrAlreadyClosed)
	}
}

func TestUpdateOrderAdjustsEscrow(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, bob, baseUSDC, 1000)

	id := mustPlace(t, e, bob, tokenBTC, book.Bid, 40, 10) // locks 400

	// Shrink: 30*10=300, 100 released.
	if err := e.UpdateOrder(bob, id, 30, 10); err != nil {
		t.Fatalf("update down: %v", err)
	}
	if got := e.Balance(bob, baseUSDC); got != 300 {
		t.Errorf("escrow = %d, want 300", got)
	}
	if got := bank.BalanceOf(bob, baseUSDC); got != 700 {
		t.Errorf("wallet = %d, want 700", got)
	}

	// Grow: 35*20=700, 400 more locked.
	if err := e.UpdateOrder(bob, id, 35, 20); err != nil {
		t.Fatalf("update up: %v", err)
	}
	if got := e.Balance(bob, baseUSDC); got != 700 {
		t.Errorf("escrow = %d, want 700", got)
	}
	o, _ := e.OrderByID(id)
	if o.Price != 35 || o.Amount != 20 {
		t.Errorf("order = %+v, want 20@35", o)
	}
	checkInvariant(t, e)
}

func TestUpdateOrderLockFailureLeavesOrderUnchanged(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, bob, baseUSDC, 400)
	id := mustPlace(t, e, bob, tokenBTC, book.Bid, 40, 10)

	// Wallet is empty, any increase must fail.
	err := e.UpdateOrder(bob, id, 50, 10)
	if err == nil {
		t.Fatal("update succeeded without funds")
	}
	o, _ := e.OrderByID(id)
	if o.Price != 40 || o.Amount != 10 {
		t.Errorf("failed update mutated order: %+v", o)
	}
	if got := e.Balance(bob, baseUSDC); got != 400 {
		t.Errorf("escrow = %d, want 400", got)
	}
	checkInvariant(t, e)
}

func TestUpdateOrderValidation(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 10)
	id := mustPlace(t, e, alice, tokenBTC, book.Ask, 30, 10)

	if err := e.UpdateOrder(alice, id, 0, 10); !errors.Is(err, ErrZeroPrice) {
		t.Errorf("zero price: got %v", err)
	}
	if err := e.UpdateOrder(alice, id, 30, 0); !errors.Is(err, ErrZeroAmount) {
		t.Errorf("zero amount: got %v", err)
	}
	if err := e.UpdateOrder(alice, id, 1<<62, 4); !errors.Is(err, ErrNotionalOverflow) {
		t.Errorf("overflowing terms: got %v", err)
	}
	if err := e.UpdateOrder(bob, id, 30, 5); !errors.Is(err, ErrNotOwner) {
		t.Errorf("stranger update: got %v", err)
	}

	if err := e.Close(alice, id); err != nil {
		t.Fatal(err)
	}
	if err := e.UpdateOrder(alice, id, 30, 5); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("update closed order: got %v", err)
	}
}

func TestPauseBlocksTraderOperations(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 20)
	id := mustPlace(t, e, alice, tokenBTC, book.Ask, 30, 10)

	if err := e.Pause(alice); !errors.Is(err, ErrNotPrivileged) {
		t.Errorf("non-owner pause: got %v, want %v", err, ErrNotPrivileged)
	}
	if err := e.Pause(ownerAcc); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if !e.Paused() {
		t.Fatal("engine not paused")
	}

	if _, _, err := e.PlaceOrder(alice, tokenBTC, book.Ask, 30, 10); !errors.Is(err, ErrContractPaused) {
		t.Errorf("place while paused: got %v", err)
	}
	if err := e.UpdateOrder(alice, id, 31, 10); !errors.Is(err, ErrContractPaused) {
		t.Errorf("update while paused: got %v", err)
	}
	if err := e.Close(alice, id); !errors.Is(err, ErrContractPaused) {
		t.Errorf("close while paused: got %v", err)
	}

	// Views keep working.
	if _, err := e.OrderByID(id); err != nil {
		t.Errorf("read while paused: %v", err)
	}

	if err := e.Unpause(alice); !errors.Is(err, ErrNotPrivileged) {
		t.Errorf("non-owner unpause: got %v", err)
	}
	if err := e.Unpause(ownerAcc); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if _, _, err := e.PlaceOrder(alice, tokenBTC, book.Ask, 30, 10); err != nil {
		t.Errorf("place after unpause: %v", err)
	}
}

func TestMigrateOrderRoundTrip(t *testing.T) {
	src, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 50)
	fund(bank, bob, baseUSDC, 31*30)
	mustPlace(t, src, alice, tokenBTC, book.Ask, 30, 50)
	mustPlace(t, src, bob, tokenBTC, book.Bid, 31, 30)

	dst, _ := newTestEngine(t)
	if err := dst.Pause(ownerAcc); err != nil {
		t.Fatal(err)
	}

	// Export everything ever recorded, including terminal orders.
	for id := uint64(1); id <= uint64(src.OrderCount()); id++ {
		rec, err := src.OrderByID(id)
		if err != nil {
			t.Fatalf("export %d: %v", id, err)
		}
		if _, err := dst.MigrateOrder(ownerAcc, rec); err != nil {
			t.Fatalf("import %d: %v", id, err)
		}
	}

	if dst.OrderCount() != src.OrderCount() {
		t.Fatalf("count = %d, want %d", dst.OrderCount(), src.OrderCount())
	}
	for id := uint64(1); id <= uint64(src.OrderCount()); id++ {
		want, _ := src.OrderByID(id)
		got, err := dst.OrderByID(id)
		if err != nil {
			t.Fatalf("imported %d missing: %v", id, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("order %d:\n got %+v\nwant %+v", id, got, want)
		}
	}
	if !reflect.DeepEqual(dst.Orders(), src.Orders()) {
		t.Error("active sets differ after migration")
	}
}

func TestMigrateOrderAuthorizationAndDuplicates(t *testing.T) {
	e, _ := newTestEngine(t)
	rec := book.Order{ID: 1, Trader: alice, Token: tokenBTC, Side: book.Ask, Price: 30, Amount: 10, Status: book.Open}

	if _, err := e.MigrateOrder(alice, rec); !errors.Is(err, ErrNotPrivileged) {
		t.Errorf("non-owner migrate: got %v", err)
	}
	if _, err := e.MigrateOrder(ownerAcc, rec); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := e.MigrateOrder(ownerAcc, rec); err == nil {
		t.Error("duplicate id accepted")
	}
}

func TestWithdrawAllSweepsToOwner(t *testing.T) {
	e, bank := newTestEngine(t)
	fund(bank, alice, tokenBTC, 50)
	fund(bank, bob, baseUSDC, 1000)
	mustPlace(t, e, alice, tokenBTC, book.Ask, 30, 50)
	mustPlace(t, e, bob, tokenBTC, book.Bid, 20, 10)

	if err := e.WithdrawAll(alice); !errors.Is(err, ErrNotPrivileged) {
		t.Errorf("non-owner withdraw: got %v", err)
	}
	if err := e.WithdrawAll(ownerAcc); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	if got := bank.BalanceOf(ownerAcc, tokenBTC); got != 50 {
		t.Errorf("owner token = %d, want 50", got)
	}
	if got := bank.BalanceOf(ownerAcc, baseUSDC); got != 200 {
		t.Errorf("owner base = %d, want 200", got)
	}
	if left := e.Assets(); len(left) != 0 {
		t.Errorf("assets still in custody after sweep: %v", left)
	}
	checkInvariant(t, e)
}
