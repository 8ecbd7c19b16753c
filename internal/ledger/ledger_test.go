package ledger_test

import (
	"errors"
	"math"
	"testing"

	"github.com/google/uuid"

	"escrowledger/internal/event"
	"escrowledger/internal/ledger"
)

// ============================================================================
// Test: Keys & asset registry
// ============================================================================

func TestBalanceKey_Path(t *testing.T) {
	account := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	assetID, _ := ledger.GetAssetID("DOT")
	key := ledger.NewBalanceKey(account, assetID, ledger.PoolFree)

	path := key.Path()
	expected := "account:550e8400-e29b-41d4-a716-446655440000:free:DOT"
	if path != expected {
		t.Errorf("got %q, want %q", path, expected)
	}
}

func TestBalanceKey_PathRoundTrip(t *testing.T) {
	account := uuid.New()
	assetID, _ := ledger.GetAssetID("KSM")
	key := ledger.NewBalanceKey(account, assetID, ledger.PoolReserved)

	parsed, err := ledger.ParseBalancePath(key.Path())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, key)
	}
}

func TestAllowanceKey_PathRoundTrip(t *testing.T) {
	owner := uuid.New()
	spender := uuid.New()
	assetID, _ := ledger.GetAssetID("USDT")
	key := ledger.NewAllowanceKey(owner, spender, assetID)

	parsed, err := ledger.ParseAllowancePath(key.Path())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed != key {
		t.Errorf("round trip mismatch: got %+v, want %+v", parsed, key)
	}
}

func TestGetAssetID_Known(t *testing.T) {
	for _, asset := range []string{"DOT", "KSM", "USDT", "BTC"} {
		id, ok := ledger.GetAssetID(asset)
		if !ok {
			t.Fatalf("%s should be a known asset", asset)
		}
		name, ok := ledger.GetAssetName(id)
		if !ok || name != asset {
			t.Errorf("%s: name round trip got %q", asset, name)
		}
	}
}

func TestGetAssetID_Unknown(t *testing.T) {
	_, ok := ledger.GetAssetID("DOGE")
	if ok {
		t.Error("DOGE should not be a known asset")
	}
}

// ============================================================================
// Test: Issue
// ============================================================================

func dot(t *testing.T) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID("DOT")
	if !ok {
		t.Fatal("DOT must be registered")
	}
	return id
}

func TestIssue_CreditsFreeAndSupply(t *testing.T) {
	state := ledger.NewState()
	account := uuid.New()
	asset := dot(t)

	tx := state.Begin()
	if err := tx.Issue(account, asset, 1_000_000); err != nil {
		t.Fatalf("issue: %v", err)
	}
	events := tx.Commit()

	if got := state.FreeBalance(account, asset); got != 1_000_000 {
		t.Errorf("free balance: got %d, want 1_000_000", got)
	}
	if got := state.TotalSupply(asset); got != 1_000_000 {
		t.Errorf("total supply: got %d, want 1_000_000", got)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	issued, ok := events[0].(event.Issued)
	if !ok {
		t.Fatalf("expected event.Issued, got %T", events[0])
	}
	if issued.Account != account || issued.Asset != "DOT" || issued.Amount != 1_000_000 {
		t.Errorf("unexpected Issued payload: %+v", issued)
	}
}

func TestIssue_SupplyOverflow(t *testing.T) {
	state := ledger.NewState()
	asset := dot(t)

	tx := state.Begin()
	if err := tx.Issue(uuid.New(), asset, math.MaxUint64); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	tx.Commit()

	tx = state.Begin()
	err := tx.Issue(uuid.New(), asset, 1)
	if !errors.Is(err, ledger.ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
}

// ============================================================================
// Test: Transfer
// ============================================================================

func fundedState(t *testing.T, account uuid.UUID, asset ledger.AssetID, amount uint64) *ledger.State {
	t.Helper()
	state := ledger.NewState()
	tx := state.Begin()
	if err := tx.Issue(account, asset, amount); err != nil {
		t.Fatalf("fund: %v", err)
	}
	tx.Commit()
	return state
}

func TestTransfer_MovesFunds(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 1000)

	tx := state.Begin()
	if err := tx.Transfer(from, to, asset, 300); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	tx.Commit()

	if got := state.FreeBalance(from, asset); got != 700 {
		t.Errorf("from: got %d, want 700", got)
	}
	if got := state.FreeBalance(to, asset); got != 300 {
		t.Errorf("to: got %d, want 300", got)
	}
	// Transfers conserve supply
	if got := state.TotalSupply(asset); got != 1000 {
		t.Errorf("supply: got %d, want 1000", got)
	}
}

func TestTransfer_InsufficientBalance(t *testing.T) {
	from := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 100)

	tx := state.Begin()
	err := tx.Transfer(from, uuid.New(), asset, 101)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
	if !ledger.IsRejection(err) {
		t.Error("insufficient balance should be a domain rejection")
	}
}

func TestTransfer_SelfTransferNetsToZeroChange(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 500)

	tx := state.Begin()
	if err := tx.Transfer(account, account, asset, 200); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	events := tx.Commit()

	if got := state.FreeBalance(account, asset); got != 500 {
		t.Errorf("balance changed on self transfer: got %d, want 500", got)
	}
	// The sufficiency check still ran and the event is still emitted
	if len(events) != 1 {
		t.Errorf("expected 1 Transfer event, got %d", len(events))
	}
}

func TestTransfer_SelfTransferStillChecksBalance(t *testing.T) {
	account := uuid.New()
	asset := dot(t)
	state := fundedState(t, account, asset, 100)

	tx := state.Begin()
	err := tx.Transfer(account, account, asset, 200)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

// ============================================================================
// Test: Approve
// ============================================================================

func TestApprove_StoresAllowance(t *testing.T) {
	owner := uuid.New()
	spender := uuid.New()
	asset := dot(t)
	state := fundedState(t, owner, asset, 1000)

	tx := state.Begin()
	if err := tx.Approve(owner, spender, asset, 400); err != nil {
		t.Fatalf("approve: %v", err)
	}
	tx.Commit()

	if got := state.Allowance(owner, spender, asset); got != 400 {
		t.Errorf("allowance: got %d, want 400", got)
	}
}

func TestApprove_BoundedByFreeBalance(t *testing.T) {
	owner := uuid.New()
	asset := dot(t)
	state := fundedState(t, owner, asset, 100)

	tx := state.Begin()
	err := tx.Approve(owner, uuid.New(), asset, 101)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Errorf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestApprove_OverwritesPriorAllowance(t *testing.T) {
	owner := uuid.New()
	spender := uuid.New()
	asset := dot(t)
	state := fundedState(t, owner, asset, 1000)

	for _, amount := range []uint64{400, 50} {
		tx := state.Begin()
		if err := tx.Approve(owner, spender, asset, amount); err != nil {
			t.Fatalf("approve %d: %v", amount, err)
		}
		tx.Commit()
	}

	if got := state.Allowance(owner, spender, asset); got != 50 {
		t.Errorf("allowance: got %d, want 50 (absolute overwrite)", got)
	}
}

// ============================================================================
// Test: TransferFrom
// ============================================================================

func TestTransferFrom_GatedByPayerBalanceNotAllowance(t *testing.T) {
	caller := uuid.New()
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 1000)

	// No Approve ever ran; the delegated transfer still succeeds because
	// the payer's free balance covers the amount.
	tx := state.Begin()
	if err := tx.TransferFrom(caller, from, to, asset, 300); err != nil {
		t.Fatalf("transfer_from: %v", err)
	}
	tx.Commit()

	if got := state.FreeBalance(from, asset); got != 700 {
		t.Errorf("from: got %d, want 700", got)
	}
	if got := state.FreeBalance(to, asset); got != 300 {
		t.Errorf("to: got %d, want 300", got)
	}
}

func TestTransferFrom_InsufficientReportsAllowanceError(t *testing.T) {
	from := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 100)

	tx := state.Begin()
	err := tx.TransferFrom(uuid.New(), from, uuid.New(), asset, 101)
	if !errors.Is(err, ledger.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestTransferFrom_RewritesAllowanceToRemainder(t *testing.T) {
	from := uuid.New()
	to := uuid.New()
	asset := dot(t)
	state := fundedState(t, from, asset, 1000)

	tx := state.Begin()
	if err := tx.TransferFrom(uuid.New(), from, to, asset, 300); err != nil {
		t.Fatalf("transfer_from: %v", err)
	}
	events := tx.Commit()

	// The (from, to) allowance is overwritten with the pre-transfer balance
	// minus the amount, regardless of any prior Approve.
	if got := state.Allowance(from, to, asset); got != 700 {
		t.Errorf("allowance: got %d, want 700", got)
	}

	if len(events) != 2 {
		t.Fatalf("expected AllowanceAdjusted + Transfer, got %d events", len(events))
	}
	adj, ok := events[0].(event.AllowanceAdjusted)
	if !ok {
		t.Fatalf("expected event.AllowanceAdjusted first, got %T", events[0])
	}
	if adj.Owner != from || adj.Spender != to || adj.Amount != 700 {
		t.Errorf("unexpected AllowanceAdjusted payload: %+v", adj)
	}
	if _, ok := events[1].(event.Transfer); !ok {
		t.Errorf("expected event.Transfer second, got %T", events[1])
	}
}

// ============================================================================
// Test: Amount arithmetic
// ============================================================================

func TestCheckedAdd_Overflow(t *testing.T) {
	if _, err := ledger.CheckedAdd(math.MaxUint64, 1); !errors.Is(err, ledger.ErrAmountOverflow) {
		t.Errorf("expected ErrAmountOverflow, got %v", err)
	}
	if v, err := ledger.CheckedAdd(math.MaxUint64-1, 1); err != nil || v != math.MaxUint64 {
		t.Errorf("got (%d, %v), want (MaxUint64, nil)", v, err)
	}
}

func TestCheckedSub_Underflow(t *testing.T) {
	if _, err := ledger.CheckedSub(0, 1); err == nil {
		t.Error("expected underflow error")
	}
	if v, err := ledger.CheckedSub(5, 5); err != nil || v != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", v, err)
	}
}
