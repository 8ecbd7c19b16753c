package core

import (
	"errors"
	"fmt"
	"time"

	"escrowledger/internal/command"
	"escrowledger/internal/event"
	"escrowledger/internal/ledger"
	"escrowledger/internal/observability"
	"escrowledger/internal/orderbook"
)

// Engine is the single-threaded command processor. All state mutation goes
// through Apply: commands are deduplicated, gap-checked, staged on a
// transaction, and committed as one unit. The core never reads the wall
// clock for state; every timestamp is a versioned input on the command.
type Engine struct {
	sequence          int64
	hasher            *StateHasher
	state             *ledger.State
	book              *orderbook.Book
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is one applied command's footprint: the sequenced envelope,
// the domain events it produced, and the command itself for the durable log.
type CoreOutput struct {
	Envelope *event.Envelope
	Events   []event.Event
	Command  command.Command
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	// Initialize with capacity of 1M entries (configurable)
	idempotencyChecker := NewIdempotencyChecker(1_000_000, dbChecker)

	return &Engine{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		state:             ledger.NewState(),
		book:              orderbook.New(),
		idempotency:       idempotencyChecker,
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// Apply is the main processing pipeline. Domain rejections (insufficient
// balance, bad order id, ...) are terminal outcomes: they consume the
// command, advance the sequence with a CommandRejected event, and dedup on
// replay. Transport faults (duplicate delivery, sequence gap) return before
// any state is touched so the source can redeliver.
func (e *Engine) Apply(cmd command.Command) error {
	return e.apply(cmd, false)
}

// ApplyReplayed re-applies a command loaded from the durable log during
// startup recovery. The idempotency tiers are skipped: the DB checker
// consults the very table the command was loaded from, so every replayed
// command would classify as a duplicate and rebuild nothing. No outputs are
// emitted either — the command is already persisted, and projections catch
// up from their own watermark — so replay never stalls on worker channels.
func (e *Engine) ApplyReplayed(cmd command.Command) error {
	return e.apply(cmd, true)
}

func (e *Engine) apply(cmd command.Command, replayed bool) error {
	start := time.Now()
	commandType := string(cmd.CommandType())
	commandID := cmd.CommandID().String()

	// Step 1: Idempotency check (two-tier). Skipped for replayed commands.
	isDuplicate := false
	if !replayed {
		isDuplicate = e.idempotency.IsDuplicate(commandType, commandID)
	}

	// Step 2: Sequence validation
	partition := e.getPartition(cmd)
	if err := e.sequenceValidator.ValidateSequence(partition, cmd.SourceSequence(), commandID, isDuplicate); err != nil {
		if e.metrics != nil {
			switch {
			case errors.Is(err, ErrSequenceGap):
				e.metrics.SourceSequenceGap.WithLabelValues(partition).Inc()
			case errors.Is(err, ErrOutOfOrder):
				e.metrics.SourceOutOfOrder.WithLabelValues(partition).Inc()
			}
		}
		return fmt.Errorf("sequence validation failed: %w", err)
	}

	// If duplicate, skip processing
	if isDuplicate {
		if e.metrics != nil {
			e.metrics.CoreCommandsDeduped.WithLabelValues(commandType).Inc()
		}
		return nil
	}

	// Step 3: Stage the command on a transaction. Any error discards the
	// whole transaction, so partially staged legs never reach state.
	tx := e.state.Begin()
	var events []event.Event
	var rejected error

	if err := e.dispatch(tx, cmd); err != nil {
		if !ledger.IsRejection(err) {
			return fmt.Errorf("dispatch failed: %w", err)
		}
		// Rejection: drop the staged transaction, record the outcome
		rejected = err
		tx = e.state.Begin()
		tx.Emit(event.CommandRejected{
			CommandType: commandType,
			Reason:      err.Error(),
		})
	}

	// Step 4: Compute state digest over the touched cells
	stateDigest := computeStateDigest(tx.StagedCells())

	// Step 5: Commit (cannot fail) and chain the hash
	events = tx.Commit()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	envelope := &event.Envelope{
		Sequence:       e.sequence,
		CommandID:      cmd.CommandID(),
		CommandType:    commandType,
		Timestamp:      cmd.OccurredAt(),
		SourceSequence: cmd.SourceSequence(),
		Partition:      partition,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope: envelope,
		Events:   events,
		Command:  cmd,
	}
	e.sequence++

	// Step 6: Emit outputs. Replayed commands emit nothing: their rows are
	// already in the log.
	if !replayed {
		// Persistence: blocking send — the core stalls until the persistence
		// worker drains. This guarantees no event is lost.
		e.persistChan <- output

		// Projections: non-blocking send — drop on full. Projection workers
		// can rebuild from the event log if they fall behind.
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDropped.Inc()
			}
		}
	}

	// Step 7: Mark as applied (add to LRU)
	e.idempotency.MarkApplied(commandType, commandID)

	// Record metrics. Replay throughput is counted separately by the caller.
	if e.metrics != nil {
		if !replayed {
			if rejected != nil {
				e.metrics.CoreCommandsRejected.WithLabelValues(commandType, rejected.Error()).Inc()
			} else {
				e.metrics.CoreCommandsApplied.WithLabelValues(commandType).Inc()
			}
			e.metrics.CoreCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		}
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.LiveOrders.Set(float64(e.book.Size()))
	}

	return nil
}

// getPartition determines the partition key for sequence validation
func (e *Engine) getPartition(cmd command.Command) string {
	if p := cmd.Partition(); p != "" {
		return p
	}
	return "global"
}

func (e *Engine) dispatch(tx *ledger.Txn, cmd command.Command) error {
	switch c := cmd.(type) {
	case command.Issue:
		return e.handleIssue(tx, c)
	case command.Transfer:
		return e.handleTransfer(tx, c)
	case command.Approve:
		return e.handleApprove(tx, c)
	case command.TransferFrom:
		return e.handleTransferFrom(tx, c)
	case command.SubmitOrder:
		return e.handleSubmitOrder(tx, c)
	case command.TakeOrder:
		return e.handleTakeOrder(tx, c)
	case command.CancelOrder:
		return e.handleCancelOrder(tx, c)
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) handleIssue(tx *ledger.Txn, cmd command.Issue) error {
	assetID, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	return tx.Issue(cmd.Account, assetID, cmd.Amount)
}

func (e *Engine) handleTransfer(tx *ledger.Txn, cmd command.Transfer) error {
	assetID, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	return tx.Transfer(cmd.From, cmd.To, assetID, cmd.Amount)
}

func (e *Engine) handleApprove(tx *ledger.Txn, cmd command.Approve) error {
	assetID, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	return tx.Approve(cmd.Owner, cmd.Spender, assetID, cmd.Amount)
}

func (e *Engine) handleTransferFrom(tx *ledger.Txn, cmd command.TransferFrom) error {
	assetID, ok := ledger.GetAssetID(cmd.Asset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	return tx.TransferFrom(cmd.Caller, cmd.From, cmd.To, assetID, cmd.Amount)
}

func (e *Engine) handleSubmitOrder(tx *ledger.Txn, cmd command.SubmitOrder) error {
	baseID, ok := ledger.GetAssetID(cmd.BaseAsset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	targetID, ok := ledger.GetAssetID(cmd.TargetAsset)
	if !ok {
		return ledger.ErrUnknownAsset
	}
	_, err := e.book.Submit(tx, cmd.Owner, baseID, cmd.BaseAmount, targetID, cmd.TargetAmount)
	return err
}

func (e *Engine) handleTakeOrder(tx *ledger.Txn, cmd command.TakeOrder) error {
	return e.book.Take(tx, cmd.Taker, cmd.OrderID)
}

func (e *Engine) handleCancelOrder(tx *ledger.Txn, cmd command.CancelOrder) error {
	return e.book.Cancel(tx, cmd.Caller, cmd.OrderID)
}

// computeStateDigest creates canonical bytes for the state hash from the
// path-sorted cells a transaction touched.
func computeStateDigest(cells []ledger.StagedCell) []byte {
	digest := make([]byte, 0, len(cells)*64)

	for _, cell := range cells {
		// Append cell path
		digest = append(digest, byte(len(cell.Path)))
		digest = append(digest, []byte(cell.Path)...)

		// Append value (8 bytes LE)
		digest = appendUint64LE(digest, cell.Value)
	}

	return digest
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// --- Snapshot Restore & Startup Methods ---

// SnapshotState holds the serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence        int64
	StateHash       [32]byte
	Balances        map[ledger.BalanceKey]uint64
	Allowances      map[ledger.AllowanceKey]uint64
	TotalSupply     map[ledger.AssetID]uint64
	Orders          []orderbook.Order
	NextOrderID     uint64
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// RestoreFromSnapshot restores the engine's in-memory state from a snapshot.
// On warm restart, load the latest snapshot then replay the command log.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	// Restore sequence
	e.sequence = snap.Sequence + 1 // Next sequence to assign

	// Restore state hash chain
	e.hasher.SetPrevHash(snap.StateHash)

	// Restore balances, allowances, supply
	for key, balance := range snap.Balances {
		e.state.SetBalance(key, balance)
	}
	for key, allowance := range snap.Allowances {
		e.state.SetAllowance(key, allowance)
	}
	for asset, supply := range snap.TotalSupply {
		e.state.SetTotalSupply(asset, supply)
	}

	// Restore the order book
	e.book.Restore(snap.Orders, snap.NextOrderID)

	// Restore sequence validator state
	for partition, nextSeq := range snap.SequenceState {
		e.sequenceValidator.RestorePartition(partition, nextSeq)
	}
}

// WarmLRU loads recent idempotency keys into the LRU cache to avoid
// cold-path DB lookups for recently applied commands.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}

// GetSequence returns the current global sequence number.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// State exposes read access for tests and startup checks.
func (e *Engine) State() *ledger.State {
	return e.state
}

// Book exposes read access to the live order set.
func (e *Engine) Book() *orderbook.Book {
	return e.book
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	return &SnapshotState{
		Sequence:        e.sequence - 1, // Last applied sequence
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.state.SnapshotBalances(),
		Allowances:      e.state.SnapshotAllowances(),
		TotalSupply:     e.state.SnapshotTotalSupply(),
		Orders:          e.book.Live(),
		NextOrderID:     e.book.NextID(),
		SequenceState:   e.sequenceValidator.GetAllPartitions(),
		IdempotencyKeys: e.idempotency.lru.GetAllKeys(),
	}
}
