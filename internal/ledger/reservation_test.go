package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"escrowledger/internal/ledger"
)

func TestReserve_MovesFreeToReserved(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(account, asset, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tx.Commit()

	if got := state.FreeBalance(account, asset); got != 600 {
		t.Errorf("free: got %d, want 600", got)
	}
	if got := state.ReservedBalance(account, asset); got != 400 {
		t.Errorf("reserved: got %d, want 400", got)
	}
}

func TestReserve_InsufficientFree(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 100)

	tx := state.Begin()
	err := tx.Reserve(account, asset, 101)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestReleaseRoundTrip(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(account, asset, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := tx.Release(account, asset, 400); err != nil {
		t.Fatalf("release: %v", err)
	}
	tx.Commit()

	if got := state.FreeBalance(account, asset); got != 1000 {
		t.Errorf("free: got %d, want 1000", got)
	}
	if got := state.ReservedBalance(account, asset); got != 0 {
		t.Errorf("reserved: got %d, want 0", got)
	}
}

func TestRelease_MoreThanReserved(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(account, asset, 100); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tx.Commit()

	tx = state.Begin()
	err := tx.Release(account, asset, 101)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestRepatriate_FullySatisfied(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(from, asset, 500); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	shortfall, err := tx.Repatriate(from, to, asset, 500, ledger.PoolFree)
	if err != nil {
		t.Fatalf("repatriate: %v", err)
	}
	if shortfall != 0 {
		t.Errorf("shortfall: got %d, want 0", shortfall)
	}
	tx.Commit()

	if got := state.ReservedBalance(from, asset); got != 0 {
		t.Errorf("from reserved: got %d, want 0", got)
	}
	if got := state.FreeBalance(to, asset); got != 500 {
		t.Errorf("to free: got %d, want 500", got)
	}
}

func TestRepatriate_PartialShortfall(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 300)

	tx := state.Begin()
	if err := tx.Reserve(from, asset, 300); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Ask for more than is reserved: the available part moves and the
	// difference comes back as a shortfall instead of an error.
	shortfall, err := tx.Repatriate(from, to, asset, 500, ledger.PoolFree)
	if err != nil {
		t.Fatalf("repatriate: %v", err)
	}
	if shortfall != 200 {
		t.Errorf("shortfall: got %d, want 200", shortfall)
	}
	tx.Commit()

	if got := state.ReservedBalance(from, asset); got != 0 {
		t.Errorf("from reserved: got %d, want 0", got)
	}
	if got := state.FreeBalance(to, asset); got != 300 {
		t.Errorf("to free: got %d, want 300", got)
	}
}

func TestRepatriate_ToReservedPool(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(from, asset, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := tx.Repatriate(from, to, asset, 400, ledger.PoolReserved); err != nil {
		t.Fatalf("repatriate: %v", err)
	}
	tx.Commit()

	if got := state.ReservedBalance(to, asset); got != 400 {
		t.Errorf("to reserved: got %d, want 400", got)
	}
	if got := state.FreeBalance(to, asset); got != 0 {
		t.Errorf("to free: got %d, want 0", got)
	}
}

func TestRepatriate_SelfIntoReservedIsIdentity(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(account, asset, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tx.Commit()

	// Source and destination are the same cell; the debit must be staged
	// before the credit reads or the amount doubles.
	tx = state.Begin()
	shortfall, err := tx.Repatriate(account, account, asset, 400, ledger.PoolReserved)
	if err != nil {
		t.Fatalf("repatriate: %v", err)
	}
	if shortfall != 0 {
		t.Errorf("shortfall: got %d, want 0", shortfall)
	}
	tx.Commit()

	if got := state.ReservedBalance(account, asset); got != 400 {
		t.Errorf("reserved: got %d, want 400", got)
	}
}

func TestReserve_ConservesAccountTotal(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 1000)

	tx := state.Begin()
	if err := tx.Reserve(account, asset, 777); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	tx.Commit()

	total := state.FreeBalance(account, asset) + state.ReservedBalance(account, asset)
	if total != 1000 {
		t.Errorf("free+reserved: got %d, want 1000", total)
	}
	if got := state.TotalSupply(asset); got != 1000 {
		t.Errorf("supply: got %d, want 1000", got)
	}
}
