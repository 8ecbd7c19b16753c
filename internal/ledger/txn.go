package ledger

import (
	"sort"

	"escrowledger/internal/event"
)

// Txn is a staged transaction: a read-through overlay on State. Every
// fallible sub-step of a public operation stages its effects here; nothing
// touches shared state until Commit, which cannot fail. Dropping a Txn
// without committing discards all staged effects. This is the transactional
// boundary that makes dual-leg settlement and reserve-plus-allocate pairs
// all-or-nothing.
type Txn struct {
	state      *State
	balances   map[BalanceKey]uint64
	allowances map[AllowanceKey]uint64
	supply     map[AssetID]uint64
	events     []event.Event
}

func (tx *Txn) balance(key BalanceKey) uint64 {
	if v, ok := tx.balances[key]; ok {
		return v
	}
	return tx.state.balances[key]
}

func (tx *Txn) setBalance(key BalanceKey, amount uint64) {
	tx.balances[key] = amount
}

func (tx *Txn) allowance(key AllowanceKey) uint64 {
	if v, ok := tx.allowances[key]; ok {
		return v
	}
	return tx.state.allowances[key]
}

func (tx *Txn) setAllowance(key AllowanceKey, amount uint64) {
	tx.allowances[key] = amount
}

func (tx *Txn) totalSupply(asset AssetID) uint64 {
	if v, ok := tx.supply[asset]; ok {
		return v
	}
	return tx.state.totalSupply[asset]
}

func (tx *Txn) setTotalSupply(asset AssetID, amount uint64) {
	tx.supply[asset] = amount
}

// Emit stages a domain event. Events are only released on Commit.
func (tx *Txn) Emit(ev event.Event) {
	tx.events = append(tx.events, ev)
}

// Commit writes every staged cell into shared state and returns the staged
// domain events in emission order. Commit cannot fail: all validation
// happens at staging time.
func (tx *Txn) Commit() []event.Event {
	for k, v := range tx.balances {
		tx.state.balances[k] = v
	}
	for k, v := range tx.allowances {
		tx.state.allowances[k] = v
	}
	for k, v := range tx.supply {
		tx.state.totalSupply[k] = v
	}
	return tx.events
}

// StagedCell is one touched state cell, used for the post-apply state digest.
type StagedCell struct {
	Path  string
	Value uint64
}

// StagedCells returns every cell this transaction touches, sorted by path
// for deterministic digesting.
func (tx *Txn) StagedCells() []StagedCell {
	cells := make([]StagedCell, 0, len(tx.balances)+len(tx.allowances)+len(tx.supply))
	for k, v := range tx.balances {
		cells = append(cells, StagedCell{Path: k.Path(), Value: v})
	}
	for k, v := range tx.allowances {
		cells = append(cells, StagedCell{Path: k.Path(), Value: v})
	}
	for asset, v := range tx.supply {
		name, _ := GetAssetName(asset)
		cells = append(cells, StagedCell{Path: "supply:" + name, Value: v})
	}
	sort.Slice(cells, func(i, j int) bool {
		return cells[i].Path < cells[j].Path
	})
	return cells
}
