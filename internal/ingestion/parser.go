package ingestion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"escrowledger/internal/command"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type string)
// into a typed command.Command. The ingestion shell validates and parses
// raw messages before handing them to the single-threaded core.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	switch commandType {
	case "issue":
		return parseIssue(raw.Data)
	case "transfer":
		return parseTransfer(raw.Data)
	case "approve":
		return parseApprove(raw.Data)
	case "transfer_from":
		return parseTransferFrom(raw.Data)
	case "submit_order":
		return parseSubmitOrder(raw.Data)
	case "take_order":
		return parseTakeOrder(raw.Data)
	case "cancel_order":
		return parseCancelOrder(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS.
// Field names use snake_case to match upstream producers.

type metaJSON struct {
	CommandID      string `json:"command_id"`
	Source         string `json:"source"`
	SourceSequence int64  `json:"source_sequence"`
	TimestampUs    int64  `json:"timestamp_us"`
}

func (j metaJSON) toMeta() (command.Meta, error) {
	id, err := uuid.Parse(j.CommandID)
	if err != nil {
		return command.Meta{}, fmt.Errorf("parse command_id: %w", err)
	}
	return command.Meta{
		ID:        id,
		SourceSeq: j.SourceSequence,
		Source:    j.Source,
		Timestamp: time.UnixMicro(j.TimestampUs),
	}, nil
}

type issueJSON struct {
	metaJSON
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

func parseIssue(data []byte) (command.Issue, error) {
	var j issueJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.Issue{}, fmt.Errorf("parse issue: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.Issue{}, err
	}
	account, err := uuid.Parse(j.Account)
	if err != nil {
		return command.Issue{}, fmt.Errorf("parse account: %w", err)
	}
	return command.Issue{
		Meta:    meta,
		Account: account,
		Asset:   j.Asset,
		Amount:  j.Amount,
	}, nil
}

type transferJSON struct {
	metaJSON
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func parseTransfer(data []byte) (command.Transfer, error) {
	var j transferJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.Transfer{}, fmt.Errorf("parse transfer: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.Transfer{}, err
	}
	from, err := uuid.Parse(j.From)
	if err != nil {
		return command.Transfer{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := uuid.Parse(j.To)
	if err != nil {
		return command.Transfer{}, fmt.Errorf("parse to: %w", err)
	}
	return command.Transfer{
		Meta:   meta,
		From:   from,
		To:     to,
		Asset:  j.Asset,
		Amount: j.Amount,
	}, nil
}

type approveJSON struct {
	metaJSON
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Asset   string `json:"asset"`
	Amount  uint64 `json:"amount"`
}

func parseApprove(data []byte) (command.Approve, error) {
	var j approveJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.Approve{}, fmt.Errorf("parse approve: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.Approve{}, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return command.Approve{}, fmt.Errorf("parse owner: %w", err)
	}
	spender, err := uuid.Parse(j.Spender)
	if err != nil {
		return command.Approve{}, fmt.Errorf("parse spender: %w", err)
	}
	return command.Approve{
		Meta:    meta,
		Owner:   owner,
		Spender: spender,
		Asset:   j.Asset,
		Amount:  j.Amount,
	}, nil
}

type transferFromJSON struct {
	metaJSON
	Caller string `json:"caller"`
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount uint64 `json:"amount"`
}

func parseTransferFrom(data []byte) (command.TransferFrom, error) {
	var j transferFromJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.TransferFrom{}, fmt.Errorf("parse transfer_from: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.TransferFrom{}, err
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return command.TransferFrom{}, fmt.Errorf("parse caller: %w", err)
	}
	from, err := uuid.Parse(j.From)
	if err != nil {
		return command.TransferFrom{}, fmt.Errorf("parse from: %w", err)
	}
	to, err := uuid.Parse(j.To)
	if err != nil {
		return command.TransferFrom{}, fmt.Errorf("parse to: %w", err)
	}
	return command.TransferFrom{
		Meta:   meta,
		Caller: caller,
		From:   from,
		To:     to,
		Asset:  j.Asset,
		Amount: j.Amount,
	}, nil
}

type submitOrderJSON struct {
	metaJSON
	Owner        string `json:"owner"`
	BaseAsset    string `json:"base_asset"`
	BaseAmount   uint64 `json:"base_amount"`
	TargetAsset  string `json:"target_asset"`
	TargetAmount uint64 `json:"target_amount"`
}

func parseSubmitOrder(data []byte) (command.SubmitOrder, error) {
	var j submitOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.SubmitOrder{}, fmt.Errorf("parse submit_order: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.SubmitOrder{}, err
	}
	owner, err := uuid.Parse(j.Owner)
	if err != nil {
		return command.SubmitOrder{}, fmt.Errorf("parse owner: %w", err)
	}
	return command.SubmitOrder{
		Meta:         meta,
		Owner:        owner,
		BaseAsset:    j.BaseAsset,
		BaseAmount:   j.BaseAmount,
		TargetAsset:  j.TargetAsset,
		TargetAmount: j.TargetAmount,
	}, nil
}

type takeOrderJSON struct {
	metaJSON
	Taker   string `json:"taker"`
	OrderID uint64 `json:"order_id"`
}

func parseTakeOrder(data []byte) (command.TakeOrder, error) {
	var j takeOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.TakeOrder{}, fmt.Errorf("parse take_order: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.TakeOrder{}, err
	}
	taker, err := uuid.Parse(j.Taker)
	if err != nil {
		return command.TakeOrder{}, fmt.Errorf("parse taker: %w", err)
	}
	return command.TakeOrder{
		Meta:    meta,
		Taker:   taker,
		OrderID: j.OrderID,
	}, nil
}

type cancelOrderJSON struct {
	metaJSON
	Caller  string `json:"caller"`
	OrderID uint64 `json:"order_id"`
}

func parseCancelOrder(data []byte) (command.CancelOrder, error) {
	var j cancelOrderJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return command.CancelOrder{}, fmt.Errorf("parse cancel_order: %w", err)
	}
	meta, err := j.toMeta()
	if err != nil {
		return command.CancelOrder{}, err
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return command.CancelOrder{}, fmt.Errorf("parse caller: %w", err)
	}
	return command.CancelOrder{
		Meta:    meta,
		Caller:  caller,
		OrderID: j.OrderID,
	}, nil
}
