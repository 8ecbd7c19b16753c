package core_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"

	"escrowledger/internal/command"
	"escrowledger/internal/core"
	"escrowledger/internal/event"
	"escrowledger/internal/ledger"
	"escrowledger/internal/observability"
)

// --- Test helpers ---

// newTestEngine creates an Engine with buffered channels and no DB checker.
func newTestEngine() (*core.Engine, chan core.CoreOutput, chan core.CoreOutput) {
	persistChan := make(chan core.CoreOutput, 1024)
	projChan := make(chan core.CoreOutput, 1024)
	e := core.NewEngine(0, persistChan, projChan, nil, nil)
	return e, persistChan, projChan
}

func meta(seq int64) command.Meta {
	return command.Meta{
		ID:        uuid.New(),
		SourceSeq: seq,
		Source:    "test",
		Timestamp: time.UnixMicro(1_700_000_000_000_000 + seq*1000),
	}
}

func issue(account uuid.UUID, asset string, amount uint64, seq int64) command.Issue {
	return command.Issue{Meta: meta(seq), Account: account, Asset: asset, Amount: amount}
}

func transfer(from, to uuid.UUID, asset string, amount uint64, seq int64) command.Transfer {
	return command.Transfer{Meta: meta(seq), From: from, To: to, Asset: asset, Amount: amount}
}

func submitOrder(owner uuid.UUID, baseAsset string, baseAmount uint64, targetAsset string, targetAmount uint64, seq int64) command.SubmitOrder {
	return command.SubmitOrder{
		Meta:         meta(seq),
		Owner:        owner,
		BaseAsset:    baseAsset,
		BaseAmount:   baseAmount,
		TargetAsset:  targetAsset,
		TargetAmount: targetAmount,
	}
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// --- Tests ---

func TestApply_HappyPath(t *testing.T) {
	e, persistChan, projChan := newTestEngine()
	alice := uuid.New()
	bob := uuid.New()

	if err := e.Apply(issue(alice, "DOT", 1000, 0)); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := e.Apply(transfer(alice, bob, "DOT", 300, 1)); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if got := e.GetSequence(); got != 2 {
		t.Errorf("sequence: got %d, want 2", got)
	}

	assetID := mustAsset(t, "DOT")
	if got := e.State().FreeBalance(alice, assetID); got != 700 {
		t.Errorf("alice: got %d, want 700", got)
	}
	if got := e.State().FreeBalance(bob, assetID); got != 300 {
		t.Errorf("bob: got %d, want 300", got)
	}

	persisted := drain(persistChan)
	if len(persisted) != 2 {
		t.Fatalf("persist outputs: got %d, want 2", len(persisted))
	}
	projected := drain(projChan)
	if len(projected) != 2 {
		t.Fatalf("projection outputs: got %d, want 2", len(projected))
	}

	// Both outputs carry the command for the durable log
	if persisted[0].Command == nil || persisted[1].Command == nil {
		t.Error("persist output missing command")
	}
	if persisted[1].Envelope.CommandType != "transfer" {
		t.Errorf("command type: got %q", persisted[1].Envelope.CommandType)
	}
}

func TestApply_HashChainLinks(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	alice := uuid.New()

	for i := int64(0); i < 3; i++ {
		if err := e.Apply(issue(alice, "DOT", 100, i)); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}

	outputs := drain(persistChan)
	if len(outputs) != 3 {
		t.Fatalf("outputs: got %d, want 3", len(outputs))
	}

	for i := 1; i < len(outputs); i++ {
		if outputs[i].Envelope.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("chain break at %d: prev_hash != predecessor state_hash", i)
		}
	}
	for i, o := range outputs {
		if o.Envelope.PrevHash == o.Envelope.StateHash {
			t.Errorf("output %d: prev_hash equals its own state_hash", i)
		}
	}
}

func TestApply_DuplicateSkipped(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	alice := uuid.New()

	cmd := issue(alice, "DOT", 1000, 0)
	if err := e.Apply(cmd); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	// Redelivery: same command id, same source sequence
	if err := e.Apply(cmd); err != nil {
		t.Fatalf("duplicate apply should be a no-op, got %v", err)
	}

	if got := e.GetSequence(); got != 1 {
		t.Errorf("sequence advanced on duplicate: got %d, want 1", got)
	}
	if got := e.State().FreeBalance(alice, mustAsset(t, "DOT")); got != 1000 {
		t.Errorf("duplicate re-applied: got %d, want 1000", got)
	}
	if outputs := drain(persistChan); len(outputs) != 1 {
		t.Errorf("outputs: got %d, want 1", len(outputs))
	}
}

func TestApply_SequenceGapRejected(t *testing.T) {
	e, _, _ := newTestEngine()
	alice := uuid.New()

	if err := e.Apply(issue(alice, "DOT", 1000, 0)); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	// Source sequence jumps 1 -> 5: transport fault, must not consume
	if err := e.Apply(issue(alice, "DOT", 1000, 5)); err == nil {
		t.Fatal("expected sequence gap error")
	}

	if got := e.GetSequence(); got != 1 {
		t.Errorf("sequence: got %d, want 1", got)
	}
	if got := e.State().FreeBalance(alice, mustAsset(t, "DOT")); got != 1000 {
		t.Errorf("state changed on gap: got %d, want 1000", got)
	}
}

func TestApply_StaleNonDuplicateRejected(t *testing.T) {
	e, _, _ := newTestEngine()
	alice := uuid.New()

	if err := e.Apply(issue(alice, "DOT", 1000, 0)); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	// A new command id claiming an already-consumed source sequence
	if err := e.Apply(issue(alice, "DOT", 1000, 0)); err == nil {
		t.Fatal("expected out-of-order error for stale non-duplicate")
	}
}

func TestApply_DomainRejectionConsumesCommand(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	alice := uuid.New()
	bob := uuid.New()

	// Transfer with no funds: a definitive domain outcome, not a fault
	if err := e.Apply(transfer(alice, bob, "DOT", 100, 0)); err != nil {
		t.Fatalf("rejection should not surface as an error: %v", err)
	}

	if got := e.GetSequence(); got != 1 {
		t.Errorf("sequence must advance on rejection: got %d, want 1", got)
	}

	outputs := drain(persistChan)
	if len(outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(outputs))
	}
	if len(outputs[0].Events) != 1 {
		t.Fatalf("events: got %d, want 1", len(outputs[0].Events))
	}
	rej, ok := outputs[0].Events[0].(event.CommandRejected)
	if !ok {
		t.Fatalf("expected CommandRejected, got %T", outputs[0].Events[0])
	}
	if rej.CommandType != "transfer" || rej.Reason == "" {
		t.Errorf("unexpected rejection payload: %+v", rej)
	}
}

func TestApply_RejectedCommandDedupsOnRedelivery(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	cmd := transfer(uuid.New(), uuid.New(), "DOT", 100, 0)

	if err := e.Apply(cmd); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := e.Apply(cmd); err != nil {
		t.Fatalf("redelivered rejection must dedup: %v", err)
	}
	if outputs := drain(persistChan); len(outputs) != 1 {
		t.Errorf("outputs: got %d, want 1", len(outputs))
	}
}

func TestApply_UnknownAssetRejected(t *testing.T) {
	e, persistChan, _ := newTestEngine()

	if err := e.Apply(issue(uuid.New(), "DOGE", 100, 0)); err != nil {
		t.Fatalf("unknown asset should reject, not fail: %v", err)
	}
	outputs := drain(persistChan)
	if len(outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(outputs))
	}
	if _, ok := outputs[0].Events[0].(event.CommandRejected); !ok {
		t.Errorf("expected CommandRejected, got %T", outputs[0].Events[0])
	}
}

func TestApply_RejectionDiscardsPartialLegs(t *testing.T) {
	e, _, _ := newTestEngine()
	maker := uuid.New()
	taker := uuid.New()

	seq := int64(0)
	next := func() int64 { s := seq; seq++; return s }

	if err := e.Apply(issue(maker, "DOT", 1000, next())); err != nil {
		t.Fatalf("fund maker: %v", err)
	}
	if err := e.Apply(submitOrder(maker, "DOT", 400, "USDT", 900, next())); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Taker has no USDT: the take rejects after the transfer leg would have
	// staged. Nothing may leak into committed state.
	if err := e.Apply(command.TakeOrder{Meta: meta(next()), Taker: taker, OrderID: 0}); err != nil {
		t.Fatalf("take: %v", err)
	}

	dotID := mustAsset(t, "DOT")
	if got := e.State().ReservedBalance(maker, dotID); got != 400 {
		t.Errorf("maker reserve must survive failed take: got %d, want 400", got)
	}
	if got := e.State().FreeBalance(taker, dotID); got != 0 {
		t.Errorf("taker received base leg from failed take: got %d", got)
	}
	if e.Book().Size() != 1 {
		t.Error("order must stay live after failed take")
	}
}

func TestApply_OrderLifecycleEndToEnd(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	maker := uuid.New()
	taker := uuid.New()

	seq := int64(0)
	next := func() int64 { s := seq; seq++; return s }

	steps := []command.Command{
		issue(maker, "DOT", 1000, next()),
		issue(taker, "USDT", 2000, next()),
		submitOrder(maker, "DOT", 400, "USDT", 900, next()),
		command.TakeOrder{Meta: meta(next()), Taker: taker, OrderID: 0},
	}
	for i, cmd := range steps {
		if err := e.Apply(cmd); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}

	dotID := mustAsset(t, "DOT")
	usdtID := mustAsset(t, "USDT")
	if got := e.State().FreeBalance(maker, usdtID); got != 900 {
		t.Errorf("maker USDT: got %d, want 900", got)
	}
	if got := e.State().FreeBalance(taker, dotID); got != 400 {
		t.Errorf("taker DOT: got %d, want 400", got)
	}
	if e.Book().Size() != 0 {
		t.Error("book should be empty after settlement")
	}

	outputs := drain(persistChan)
	if len(outputs) != 4 {
		t.Fatalf("outputs: got %d, want 4", len(outputs))
	}
	if _, ok := outputs[2].Events[0].(event.OrderCreated); !ok {
		t.Errorf("expected OrderCreated, got %T", outputs[2].Events[0])
	}
	if got := len(outputs[3].Events); got != 1 {
		t.Fatalf("settlement events: got %d, want 1", got)
	}
	if _, ok := outputs[3].Events[0].(event.OrderTaken); !ok {
		t.Errorf("expected OrderTaken, got %T", outputs[3].Events[0])
	}
}

// dupDBChecker models the startup condition: every command the engine asks
// about is already in the durable log, so tier 2 answers "duplicate".
type dupDBChecker struct{}

func (dupDBChecker) IsDuplicate(commandType, commandID string) (bool, error) {
	return true, nil
}

func TestApplyReplayed_RebuildsStateDespiteLoggedCommands(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	e := core.NewEngine(0, persistChan, projChan, dupDBChecker{}, nil)
	alice := uuid.New()
	bob := uuid.New()

	issueCmd := issue(alice, "DOT", 1000, 0)
	if err := e.ApplyReplayed(issueCmd); err != nil {
		t.Fatalf("replay issue: %v", err)
	}
	if err := e.ApplyReplayed(transfer(alice, bob, "DOT", 300, 1)); err != nil {
		t.Fatalf("replay transfer: %v", err)
	}

	if got := e.GetSequence(); got != 2 {
		t.Errorf("sequence: got %d, want 2", got)
	}
	dotID := mustAsset(t, "DOT")
	if got := e.State().FreeBalance(alice, dotID); got != 700 {
		t.Errorf("alice: got %d, want 700", got)
	}
	if got := e.State().FreeBalance(bob, dotID); got != 300 {
		t.Errorf("bob: got %d, want 300", got)
	}

	// Replay emits nothing: the rows are already in the log, and the workers
	// may not be draining yet.
	if outputs := drain(persistChan); len(outputs) != 0 {
		t.Errorf("persist outputs during replay: got %d, want 0", len(outputs))
	}
	if outputs := drain(projChan); len(outputs) != 0 {
		t.Errorf("projection outputs during replay: got %d, want 0", len(outputs))
	}

	// A live redelivery of a replayed command dedups without touching state.
	if err := e.Apply(issueCmd); err != nil {
		t.Fatalf("live redelivery: %v", err)
	}
	if got := e.GetSequence(); got != 2 {
		t.Errorf("sequence advanced on redelivery: got %d, want 2", got)
	}
	if got := e.State().FreeBalance(alice, dotID); got != 700 {
		t.Errorf("redelivery re-applied: got %d, want 700", got)
	}
	if outputs := drain(persistChan); len(outputs) != 0 {
		t.Errorf("redelivery emitted: got %d outputs", len(outputs))
	}
}

func TestApply_DBCheckerDuplicatesAreNotReplayed(t *testing.T) {
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	e := core.NewEngine(0, persistChan, projChan, dupDBChecker{}, nil)
	alice := uuid.New()

	// The live path must still honor tier 2: a command already in the log is
	// a duplicate, not work to redo.
	if err := e.Apply(issue(alice, "DOT", 1000, 0)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := e.GetSequence(); got != 0 {
		t.Errorf("sequence: got %d, want 0", got)
	}
	if got := e.State().FreeBalance(alice, mustAsset(t, "DOT")); got != 0 {
		t.Errorf("duplicate applied: got %d, want 0", got)
	}
}

func TestApply_OrderingFaultsAreCounted(t *testing.T) {
	// NewMetrics registers into the default prometheus registry: it may run
	// at most once per test binary, so this is the only test wired up with
	// real metrics.
	metrics := observability.NewMetrics()
	persistChan := make(chan core.CoreOutput, 16)
	projChan := make(chan core.CoreOutput, 16)
	e := core.NewEngine(0, persistChan, projChan, nil, metrics)
	alice := uuid.New()

	if err := e.Apply(issue(alice, "DOT", 100, 0)); err != nil {
		t.Fatalf("seq 0: %v", err)
	}
	if err := e.Apply(issue(alice, "DOT", 100, 5)); err == nil {
		t.Fatal("expected sequence gap error")
	}
	if err := e.Apply(issue(alice, "DOT", 100, 0)); err == nil {
		t.Fatal("expected out-of-order error")
	}

	if got := promtestutil.ToFloat64(metrics.SourceSequenceGap.WithLabelValues("test")); got != 1 {
		t.Errorf("gap counter: got %v, want 1", got)
	}
	if got := promtestutil.ToFloat64(metrics.SourceOutOfOrder.WithLabelValues("test")); got != 1 {
		t.Errorf("out-of-order counter: got %v, want 1", got)
	}
}

func TestSnapshotRestore_RoundTrip(t *testing.T) {
	e, persistChan, _ := newTestEngine()
	alice := uuid.New()
	bob := uuid.New()

	seq := int64(0)
	next := func() int64 { s := seq; seq++; return s }

	for _, cmd := range []command.Command{
		issue(alice, "DOT", 1000, next()),
		transfer(alice, bob, "DOT", 300, next()),
		submitOrder(bob, "DOT", 100, "USDT", 50, next()),
	} {
		if err := e.Apply(cmd); err != nil {
			t.Fatalf("apply: %v", err)
		}
	}
	drain(persistChan)

	snap := e.CreateSnapshotState()
	if snap.Sequence != 2 {
		t.Errorf("snapshot sequence: got %d, want 2", snap.Sequence)
	}

	restored, restoredPersist, _ := newTestEngine()
	restored.RestoreFromSnapshot(snap)
	restored.WarmLRU(snap.IdempotencyKeys)

	if restored.GetSequence() != e.GetSequence() {
		t.Errorf("sequence: got %d, want %d", restored.GetSequence(), e.GetSequence())
	}
	if restored.GetStateHash() != e.GetStateHash() {
		t.Error("state hash differs after restore")
	}

	dotID := mustAsset(t, "DOT")
	if got := restored.State().FreeBalance(alice, dotID); got != 700 {
		t.Errorf("alice: got %d, want 700", got)
	}
	if restored.Book().Size() != 1 || restored.Book().NextID() != 1 {
		t.Errorf("book: size=%d nextID=%d", restored.Book().Size(), restored.Book().NextID())
	}

	// The hash chain must continue identically on both engines
	cmd := transfer(alice, bob, "DOT", 50, next())
	if err := e.Apply(cmd); err != nil {
		t.Fatalf("original apply: %v", err)
	}
	if err := restored.Apply(cmd); err != nil {
		t.Fatalf("restored apply: %v", err)
	}
	if restored.GetStateHash() != e.GetStateHash() {
		t.Error("hash chain diverged after restore")
	}

	// A fresh command claiming a pre-snapshot source sequence must be
	// rejected as stale: the validator state survived the restore.
	if err := restored.Apply(issue(alice, "DOT", 1000, 0)); err == nil {
		t.Error("stale source sequence accepted after restore")
	}
	drain(restoredPersist)
}

func mustAsset(t *testing.T, symbol string) ledger.AssetID {
	t.Helper()
	id, ok := ledger.GetAssetID(symbol)
	if !ok {
		t.Fatalf("asset %s must be registered", symbol)
	}
	return id
}
