package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strconv"

	"escrowledger/internal/event"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence int64
	Events   []event.Event
}

// ProjectionWorker updates projection tables from applied commands.
// The projection channel is non-blocking with drop: if projections fall
// behind, they can be rebuilt from the event log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the event log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, ev := range output.Events {
		if err := pw.applyEvent(ctx, tx, output.Sequence, ev); err != nil {
			return fmt.Errorf("%s projection: %w", ev.EventType(), err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

func (pw *ProjectionWorker) applyEvent(ctx context.Context, tx *sql.Tx, seq int64, ev event.Event) error {
	switch e := ev.(type) {
	case event.Issued:
		if err := pw.addBalance(ctx, tx, seq, e.Account.String(), e.Asset, "free", e.Amount); err != nil {
			return err
		}
		return pw.addSupply(ctx, tx, seq, e.Asset, e.Amount)

	case event.Transfer:
		if err := pw.subBalance(ctx, tx, seq, e.From.String(), e.Asset, "free", e.Amount); err != nil {
			return err
		}
		return pw.addBalance(ctx, tx, seq, e.To.String(), e.Asset, "free", e.Amount)

	case event.Approve:
		return pw.setAllowance(ctx, tx, seq, e.Owner.String(), e.Spender.String(), e.Asset, e.Amount)

	case event.AllowanceAdjusted:
		return pw.setAllowance(ctx, tx, seq, e.Owner.String(), e.Spender.String(), e.Asset, e.Amount)

	case event.OrderCreated:
		o := e.Order
		if err := pw.subBalance(ctx, tx, seq, o.Owner.String(), o.BaseAsset, "free", o.BaseAmount); err != nil {
			return err
		}
		if err := pw.addBalance(ctx, tx, seq, o.Owner.String(), o.BaseAsset, "reserved", o.BaseAmount); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO projections.orders
				(id, owner, base_asset, base_amount, target_asset, target_amount, status, created_sequence)
			VALUES ($1::numeric, $2, $3, $4, $5, $6, 'open', $7)
			ON CONFLICT (id) DO NOTHING
		`, u64(o.ID), o.Owner.String(), o.BaseAsset, u64(o.BaseAmount), o.TargetAsset, u64(o.TargetAmount), seq)
		return err

	case event.OrderTaken:
		o := e.Order
		// Taker pays the target leg to the owner
		if err := pw.subBalance(ctx, tx, seq, e.Taker.String(), o.TargetAsset, "free", o.TargetAmount); err != nil {
			return err
		}
		if err := pw.addBalance(ctx, tx, seq, o.Owner.String(), o.TargetAsset, "free", o.TargetAmount); err != nil {
			return err
		}
		// Owner's escrowed base leg moves to the taker's free balance
		if err := pw.subBalance(ctx, tx, seq, o.Owner.String(), o.BaseAsset, "reserved", o.BaseAmount); err != nil {
			return err
		}
		if err := pw.addBalance(ctx, tx, seq, e.Taker.String(), o.BaseAsset, "free", o.BaseAmount); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE projections.orders
			SET status = 'taken', taker = $2, closed_sequence = $3
			WHERE id = $1::numeric
		`, u64(e.OrderID), e.Taker.String(), seq)
		return err

	case event.OrderCancelled:
		// The event carries only the id; recover the legs from the order row.
		var owner, baseAsset, baseAmount string
		err := tx.QueryRowContext(ctx, `
			SELECT owner, base_asset, base_amount::text FROM projections.orders WHERE id = $1::numeric
		`, u64(e.OrderID)).Scan(&owner, &baseAsset, &baseAmount)
		if err != nil {
			return fmt.Errorf("lookup cancelled order %d: %w", e.OrderID, err)
		}
		amount, err := strconv.ParseUint(baseAmount, 10, 64)
		if err != nil {
			return fmt.Errorf("parse base_amount for order %d: %w", e.OrderID, err)
		}
		if err := pw.subBalance(ctx, tx, seq, owner, baseAsset, "reserved", amount); err != nil {
			return err
		}
		if err := pw.addBalance(ctx, tx, seq, owner, baseAsset, "free", amount); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE projections.orders
			SET status = 'cancelled', closed_sequence = $2
			WHERE id = $1::numeric
		`, u64(e.OrderID), seq)
		return err

	case event.CommandRejected:
		// Rejections advance the watermark but touch no projection rows
		return nil

	default:
		return fmt.Errorf("unknown event type: %T", ev)
	}
}

// u64 renders a value for NUMERIC columns without int64 truncation. Amounts
// and order ids both use the full uint64 range.
func u64(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func (pw *ProjectionWorker) addBalance(ctx context.Context, tx *sql.Tx, seq int64, account, asset, pool string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, asset, pool, balance, last_sequence)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (account, asset, pool)
		DO UPDATE SET balance = projections.balances.balance + $4::numeric, last_sequence = $5
	`, account, asset, pool, u64(amount), seq)
	return err
}

func (pw *ProjectionWorker) subBalance(ctx context.Context, tx *sql.Tx, seq int64, account, asset, pool string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account, asset, pool, balance, last_sequence)
		VALUES ($1, $2, $3, -($4::numeric), $5)
		ON CONFLICT (account, asset, pool)
		DO UPDATE SET balance = projections.balances.balance - $4::numeric, last_sequence = $5
	`, account, asset, pool, u64(amount), seq)
	return err
}

func (pw *ProjectionWorker) setAllowance(ctx context.Context, tx *sql.Tx, seq int64, owner, spender, asset string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.allowances (owner, spender, asset, amount, last_sequence)
		VALUES ($1, $2, $3, $4::numeric, $5)
		ON CONFLICT (owner, spender, asset)
		DO UPDATE SET amount = $4::numeric, last_sequence = $5
	`, owner, spender, asset, u64(amount), seq)
	return err
}

func (pw *ProjectionWorker) addSupply(ctx context.Context, tx *sql.Tx, seq int64, asset string, amount uint64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.supply (asset, total, last_sequence)
		VALUES ($1, $2::numeric, $3)
		ON CONFLICT (asset)
		DO UPDATE SET total = projections.supply.total + $2::numeric, last_sequence = $3
	`, asset, u64(amount), seq)
	return err
}

// RebuildProjections rebuilds all projection tables from the event log by
// truncating and replaying every logged event in sequence order.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.allowances`,
		`TRUNCATE projections.orders`,
		`TRUNCATE projections.supply`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, event_type, payload
		FROM ledger_log.events
		ORDER BY sequence ASC, idx ASC
	`)
	if err != nil {
		return fmt.Errorf("read event log: %w", err)
	}
	defer rows.Close()

	worker := &ProjectionWorker{db: db}
	var maxSeq int64 = -1

	for rows.Next() {
		var seq int64
		var eventType string
		var payload []byte
		if err := rows.Scan(&seq, &eventType, &payload); err != nil {
			return err
		}

		ev, err := event.Unmarshal(eventType, payload)
		if err != nil {
			return fmt.Errorf("decode event at seq %d: %w", seq, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := worker.applyEvent(ctx, tx, seq, ev); err != nil {
			tx.Rollback()
			return fmt.Errorf("replay event at seq %d: %w", seq, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		maxSeq = seq
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if maxSeq >= 0 {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
			VALUES ('main', $1, NOW())
			ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
		`, maxSeq); err != nil {
			return fmt.Errorf("watermark restore: %w", err)
		}
	}

	log.Printf("INFO: projection rebuild complete, watermark=%d", maxSeq)
	return nil
}
