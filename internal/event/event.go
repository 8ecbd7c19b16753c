package event

import "github.com/google/uuid"

// Type discriminator for domain event payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeIssued
	TypeTransfer
	TypeApprove
	TypeAllowanceAdjusted
	TypeOrderCreated
	TypeOrderTaken
	TypeOrderCancelled
	TypeCommandRejected
)

func (t Type) String() string {
	switch t {
	case TypeIssued:
		return "Issued"
	case TypeTransfer:
		return "Transfer"
	case TypeApprove:
		return "Approve"
	case TypeAllowanceAdjusted:
		return "AllowanceAdjusted"
	case TypeOrderCreated:
		return "OrderCreated"
	case TypeOrderTaken:
		return "OrderTaken"
	case TypeOrderCancelled:
		return "OrderCancelled"
	case TypeCommandRejected:
		return "CommandRejected"
	default:
		return "Unknown"
	}
}

// Event is the interface all domain event payloads implement
type Event interface {
	EventType() Type
}

// Order is the event-facing view of an escrow order. Assets are carried as
// symbols so downstream consumers need no access to the internal registry.
type Order struct {
	ID           uint64    `json:"id"`
	BaseAsset    string    `json:"base_asset"`
	BaseAmount   uint64    `json:"base_amount"`
	TargetAsset  string    `json:"target_asset"`
	TargetAmount uint64    `json:"target_amount"`
	Owner        uuid.UUID `json:"owner"`
}

// Issued — free balance credited from outside the ledger; total supply grew.
type Issued struct {
	Account uuid.UUID `json:"account"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (Issued) EventType() Type { return TypeIssued }

// Transfer — amount moved between free balances (direct or delegated).
type Transfer struct {
	From   uuid.UUID `json:"from"`
	To     uuid.UUID `json:"to"`
	Asset  string    `json:"asset"`
	Amount uint64    `json:"amount"`
}

func (Transfer) EventType() Type { return TypeTransfer }

// Approve — the (owner, spender) allowance was overwritten.
type Approve struct {
	Owner   uuid.UUID `json:"owner"`
	Spender uuid.UUID `json:"spender"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (Approve) EventType() Type { return TypeApprove }

// AllowanceAdjusted — a delegated transfer rewrote the (owner, spender)
// allowance as a side effect. Distinct from Approve so consumers can tell
// explicit grants from settlement residue.
type AllowanceAdjusted struct {
	Owner   uuid.UUID `json:"owner"`
	Spender uuid.UUID `json:"spender"`
	Asset   string    `json:"asset"`
	Amount  uint64    `json:"amount"`
}

func (AllowanceAdjusted) EventType() Type { return TypeAllowanceAdjusted }

type OrderCreated struct {
	OrderID uint64 `json:"order_id"`
	Order   Order  `json:"order"`
}

func (OrderCreated) EventType() Type { return TypeOrderCreated }

type OrderTaken struct {
	Taker   uuid.UUID `json:"taker"`
	OrderID uint64    `json:"order_id"`
	Order   Order     `json:"order"`
}

func (OrderTaken) EventType() Type { return TypeOrderTaken }

type OrderCancelled struct {
	OrderID uint64 `json:"order_id"`
}

func (OrderCancelled) EventType() Type { return TypeOrderCancelled }

// CommandRejected — a command was definitively refused by the core. The
// rejection is part of the replicated history so every replica records the
// same outcome.
type CommandRejected struct {
	CommandType string `json:"command_type"`
	Reason      string `json:"reason"`
}

func (CommandRejected) EventType() Type { return TypeCommandRejected }
