package query

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// QueryService provides read-only access to the projection tables. All
// responses include as_of_sequence, the projection watermark at read time,
// so clients can reason about freshness relative to the core sequence.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns an account's free and reserved balances for one asset.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	account uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	free, err := qs.getProjectedBalance(ctx, account.String(), asset, "free")
	if err != nil {
		return nil, err
	}
	reserved, err := qs.getProjectedBalance(ctx, account.String(), asset, "reserved")
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		Account:      account,
		Asset:        asset,
		Free:         free,
		Reserved:     reserved,
		Total:        free + reserved,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetAllowance returns the stored allowance for an (owner, spender) pair.
// A missing row reads as zero, same as the in-memory state.
func (qs *QueryService) GetAllowance(
	ctx context.Context,
	owner, spender uuid.UUID,
	asset string,
) (*AllowanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var raw string
	err = qs.db.QueryRowContext(ctx, `
		SELECT amount::text FROM projections.allowances
		WHERE owner = $1 AND spender = $2 AND asset = $3
	`, owner.String(), spender.String(), asset).Scan(&raw)

	var amount uint64
	if err == nil {
		amount, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse allowance: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	return &AllowanceResponse{
		Owner:        owner,
		Spender:      spender,
		Asset:        asset,
		Amount:       amount,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetOrder returns a single order by id, whatever its status.
func (qs *QueryService) GetOrder(ctx context.Context, id uint64) (*OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	row := qs.db.QueryRowContext(ctx, `
		SELECT id::text, owner, base_asset, base_amount::text, target_asset, target_amount::text,
		       status, taker, created_sequence, closed_sequence
		FROM projections.orders
		WHERE id = $1::numeric
	`, strconv.FormatUint(id, 10))

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	o.AsOfSequence = asOfSeq
	return o, nil
}

// ListOpenOrders returns open orders, optionally filtered by owner, with
// cursor-based pagination on the order id.
func (qs *QueryService) ListOpenOrders(
	ctx context.Context,
	owner *uuid.UUID,
	limit int,
	afterID *uint64,
) ([]OrderResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	q := `
		SELECT id::text, owner, base_asset, base_amount::text, target_asset, target_amount::text,
		       status, taker, created_sequence, closed_sequence
		FROM projections.orders
		WHERE status = 'open'
	`
	args := []interface{}{}
	argIdx := 1

	if owner != nil {
		q += fmt.Sprintf(" AND owner = $%d", argIdx)
		args = append(args, owner.String())
		argIdx++
	}

	if afterID != nil {
		q += fmt.Sprintf(" AND id > $%d::numeric", argIdx)
		args = append(args, strconv.FormatUint(*afterID, 10))
		argIdx++
	}

	q += " ORDER BY id ASC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderResponse
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		o.AsOfSequence = asOfSeq
		orders = append(orders, *o)
	}

	return orders, rows.Err()
}

// GetTotalSupply returns an asset's issued supply.
func (qs *QueryService) GetTotalSupply(ctx context.Context, asset string) (*SupplyResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var raw string
	err = qs.db.QueryRowContext(ctx, `
		SELECT total::text FROM projections.supply WHERE asset = $1
	`, asset).Scan(&raw)

	var total uint64
	if err == nil {
		total, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse supply: %w", err)
		}
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	return &SupplyResponse{
		Asset:        asset,
		Total:        total,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetCommandHistory returns logged commands with cursor-based pagination.
func (qs *QueryService) GetCommandHistory(
	ctx context.Context,
	limit int,
	afterSequence *int64,
) ([]CommandHistoryEntry, error) {
	q := `
		SELECT sequence, command_type, command_id, partition, source_sequence, timestamp
		FROM ledger_log.commands
	`
	args := []interface{}{}
	argIdx := 1

	if afterSequence != nil {
		q += fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	q += " ORDER BY sequence DESC"
	q += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CommandHistoryEntry
	for rows.Next() {
		var e CommandHistoryEntry
		var ts time.Time
		if err := rows.Scan(
			&e.Sequence, &e.CommandType, &e.CommandID, &e.Partition,
			&e.SourceSequence, &ts,
		); err != nil {
			return nil, err
		}
		e.Timestamp = ts.Format(time.RFC3339Nano)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// VerifyIntegrity checks hash chain continuity across the command log.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM ledger_log.commands c1
		JOIN ledger_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.prev_hash != c2.state_hash
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0
	return report, nil
}

// --- helpers ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*OrderResponse, error) {
	var o OrderResponse
	var id string
	var baseAmount, targetAmount string
	var taker sql.NullString
	var closedSeq sql.NullInt64

	if err := row.Scan(
		&id, &o.Owner, &o.BaseAsset, &baseAmount, &o.TargetAsset, &targetAmount,
		&o.Status, &taker, &o.CreatedSequence, &closedSeq,
	); err != nil {
		return nil, err
	}

	var err error
	o.ID, err = strconv.ParseUint(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse order id: %w", err)
	}
	o.BaseAmount, err = strconv.ParseUint(baseAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse base_amount: %w", err)
	}
	o.TargetAmount, err = strconv.ParseUint(targetAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse target_amount: %w", err)
	}
	if taker.Valid {
		o.Taker = &taker.String
	}
	if closedSeq.Valid {
		o.ClosedSequence = &closedSeq.Int64
	}
	return &o, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, account, asset, pool string) (uint64, error) {
	var raw string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::text FROM projections.balances
		WHERE account = $1 AND asset = $2 AND pool = $3
	`, account, asset, pool).Scan(&raw)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance: %w", err)
	}
	return v, nil
}
