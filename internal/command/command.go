// Package command defines the typed commands applied by the core engine.
// Every command carries a client-chosen id for idempotent replay, a source
// partition with a per-partition sequence for gap detection, and the
// ingestion timestamp that becomes the deterministic time of its effects.
package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeIssue        Type = "issue"
	TypeTransfer     Type = "transfer"
	TypeApprove      Type = "approve"
	TypeTransferFrom Type = "transfer_from"
	TypeSubmitOrder  Type = "submit_order"
	TypeTakeOrder    Type = "take_order"
	TypeCancelOrder  Type = "cancel_order"
)

type Command interface {
	CommandID() uuid.UUID
	CommandType() Type
	SourceSequence() int64
	Partition() string
	OccurredAt() time.Time
}

// Meta is the transport metadata shared by all commands.
type Meta struct {
	ID        uuid.UUID `json:"command_id"`
	SourceSeq int64     `json:"source_sequence"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func (m Meta) CommandID() uuid.UUID  { return m.ID }
func (m Meta) SourceSequence() int64 { return m.SourceSeq }
func (m Meta) Partition() string     { return m.Source }
func (m Meta) OccurredAt() time.Time { return m.Timestamp }

// Issue mints amount of asset into account's free balance.
type Issue struct {
	Meta
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (Issue) CommandType() Type { return TypeIssue }

type Transfer struct {
	Meta
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount uint64    `json:"amount"`
}

func (Transfer) CommandType() Type { return TypeTransfer }

type Approve struct {
	Meta
	Owner   uuid.UUID `json:"owner"`
	Spender uuid.UUID `json:"spender"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (Approve) CommandType() Type { return TypeApprove }

type TransferFrom struct {
	Meta
	Caller uuid.UUID `json:"caller"`
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount uint64    `json:"amount"`
}

func (TransferFrom) CommandType() Type { return TypeTransferFrom }

type SubmitOrder struct {
	Meta
	Owner        uuid.UUID `json:"owner"`
	BaseAsset    string    `json:"base_asset"`
	BaseAmount   uint64    `json:"base_amount"`
	TargetAsset  string    `json:"target_asset"`
	TargetAmount uint64    `json:"target_amount"`
}

func (SubmitOrder) CommandType() Type { return TypeSubmitOrder }

type TakeOrder struct {
	Meta
	Taker   uuid.UUID `json:"taker"`
	OrderID uint64    `json:"order_id"`
}

func (TakeOrder) CommandType() Type { return TypeTakeOrder }

type CancelOrder struct {
	Meta
	Caller  uuid.UUID `json:"caller"`
	OrderID uint64    `json:"order_id"`
}

func (CancelOrder) CommandType() Type { return TypeCancelOrder }

// Marshal serializes a command for the durable log.
func Marshal(cmd Command) ([]byte, error) {
	return json.Marshal(cmd)
}

// Unmarshal rebuilds a typed command from its logged form. Used on warm
// restart to replay the command log from the last snapshot forward.
func Unmarshal(commandType Type, data []byte) (Command, error) {
	switch commandType {
	case TypeIssue:
		var c Issue
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeTransfer:
		var c Transfer
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeApprove:
		var c Approve
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeTransferFrom:
		var c TransferFrom
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeSubmitOrder:
		var c SubmitOrder
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeTakeOrder:
		var c TakeOrder
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	case TypeCancelOrder:
		var c CancelOrder
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}
