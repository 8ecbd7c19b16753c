package query

import "github.com/google/uuid"

// BalanceResponse represents an account's holdings of one asset.
type BalanceResponse struct {
	Account      uuid.UUID `json:"account"`
	Asset        string    `json:"asset"`
	Free         uint64    `json:"free"`
	Reserved     uint64    `json:"reserved"`
	Total        uint64    `json:"total"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// AllowanceResponse represents a stored (owner, spender) allowance.
type AllowanceResponse struct {
	Owner        uuid.UUID `json:"owner"`
	Spender      uuid.UUID `json:"spender"`
	Asset        string    `json:"asset"`
	Amount       uint64    `json:"amount"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// OrderResponse represents an escrow order for API queries.
type OrderResponse struct {
	ID              uint64  `json:"id"`
	Owner           string  `json:"owner"`
	BaseAsset       string  `json:"base_asset"`
	BaseAmount      uint64  `json:"base_amount"`
	TargetAsset     string  `json:"target_asset"`
	TargetAmount    uint64  `json:"target_amount"`
	Status          string  `json:"status"`
	Taker           *string `json:"taker,omitempty"`
	CreatedSequence int64   `json:"created_sequence"`
	ClosedSequence  *int64  `json:"closed_sequence,omitempty"`
	AsOfSequence    int64   `json:"as_of_sequence"`
}

// SupplyResponse represents an asset's total issued supply.
type SupplyResponse struct {
	Asset        string `json:"asset"`
	Total        uint64 `json:"total"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// CommandHistoryEntry represents a logged command for API queries.
type CommandHistoryEntry struct {
	Sequence       int64  `json:"sequence"`
	CommandType    string `json:"command_type"`
	CommandID      string `json:"command_id"`
	Partition      string `json:"partition"`
	SourceSequence int64  `json:"source_sequence"`
	Timestamp      string `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy       bool    `json:"is_healthy"`
	HashChainBreaks []int64 `json:"hash_chain_breaks,omitempty"`
}
