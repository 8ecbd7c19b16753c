package ledger

import "github.com/google/uuid"

// State holds the ledger's shared mutable state: per-account free and
// reserved balance cells, (owner, spender) allowances, and the per-asset
// total-supply scalars. It is exclusively owned by the deterministic core
// and mutated only through committed transactions.
// Not thread-safe — accessed from the single-threaded core only.
type State struct {
	balances    map[BalanceKey]uint64
	allowances  map[AllowanceKey]uint64
	totalSupply map[AssetID]uint64
}

func NewState() *State {
	return &State{
		balances:    make(map[BalanceKey]uint64),
		allowances:  make(map[AllowanceKey]uint64),
		totalSupply: make(map[AssetID]uint64),
	}
}

// FreeBalance returns the spendable balance; zero for unknown accounts.
func (s *State) FreeBalance(account uuid.UUID, asset AssetID) uint64 {
	return s.balances[NewBalanceKey(account, asset, PoolFree)]
}

// ReservedBalance returns the escrow-locked balance; zero for unknown accounts.
func (s *State) ReservedBalance(account uuid.UUID, asset AssetID) uint64 {
	return s.balances[NewBalanceKey(account, asset, PoolReserved)]
}

// Allowance returns the approved (owner, spender) ceiling; zero if never set.
func (s *State) Allowance(owner, spender uuid.UUID, asset AssetID) uint64 {
	return s.allowances[NewAllowanceKey(owner, spender, asset)]
}

// TotalSupply returns the separately maintained supply scalar for an asset.
// Transfer and allowance operations never touch it; only Issue does.
func (s *State) TotalSupply(asset AssetID) uint64 {
	return s.totalSupply[asset]
}

// Begin starts a staged transaction against this state.
func (s *State) Begin() *Txn {
	return &Txn{
		state:      s,
		balances:   make(map[BalanceKey]uint64),
		allowances: make(map[AllowanceKey]uint64),
		supply:     make(map[AssetID]uint64),
	}
}

// === Snapshot & Restore ===

// SnapshotBalances returns a copy of all balance cells.
func (s *State) SnapshotBalances() map[BalanceKey]uint64 {
	out := make(map[BalanceKey]uint64, len(s.balances))
	for k, v := range s.balances {
		out[k] = v
	}
	return out
}

// SnapshotAllowances returns a copy of all allowance entries.
func (s *State) SnapshotAllowances() map[AllowanceKey]uint64 {
	out := make(map[AllowanceKey]uint64, len(s.allowances))
	for k, v := range s.allowances {
		out[k] = v
	}
	return out
}

// SnapshotTotalSupply returns a copy of the per-asset supply scalars.
func (s *State) SnapshotTotalSupply() map[AssetID]uint64 {
	out := make(map[AssetID]uint64, len(s.totalSupply))
	for k, v := range s.totalSupply {
		out[k] = v
	}
	return out
}

// SetBalance writes a balance cell directly. Restore path only.
func (s *State) SetBalance(key BalanceKey, amount uint64) {
	s.balances[key] = amount
}

// SetAllowance writes an allowance entry directly. Restore path only.
func (s *State) SetAllowance(key AllowanceKey, amount uint64) {
	s.allowances[key] = amount
}

// SetTotalSupply writes a supply scalar directly. Restore path only.
func (s *State) SetTotalSupply(asset AssetID, amount uint64) {
	s.totalSupply[asset] = amount
}
