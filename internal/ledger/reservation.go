package ledger

import "github.com/google/uuid"

// Reservation operations: the escrow layer on top of free balances.
// Reserving never creates funds — it only moves amount between the free and
// reserved pools of the same account, so free+reserved per (account, asset)
// is conserved. Reservation moves are event-silent: the order lifecycle
// events carry the externally meaningful facts.

// Reserve moves amount from free to reserved for (account, asset).
func (tx *Txn) Reserve(account uuid.UUID, asset AssetID, amount uint64) error {
	freeKey := NewBalanceKey(account, asset, PoolFree)
	free := tx.balance(freeKey)
	if free < amount {
		return ErrInsufficientBalance
	}

	reservedKey := NewBalanceKey(account, asset, PoolReserved)
	newReserved, err := CheckedAdd(tx.balance(reservedKey), amount)
	if err != nil {
		return err
	}

	tx.setBalance(freeKey, free-amount)
	tx.setBalance(reservedKey, newReserved)
	return nil
}

// Release moves amount from reserved back to free. Fails when the reserved
// balance is short; with callers that only release what they reserved, that
// never happens.
func (tx *Txn) Release(account uuid.UUID, asset AssetID, amount uint64) error {
	reservedKey := NewBalanceKey(account, asset, PoolReserved)
	reserved := tx.balance(reservedKey)
	if reserved < amount {
		return ErrInsufficientBalance
	}

	freeKey := NewBalanceKey(account, asset, PoolFree)
	newFree, err := CheckedAdd(tx.balance(freeKey), amount)
	if err != nil {
		return err
	}

	tx.setBalance(reservedKey, reserved-amount)
	tx.setBalance(freeKey, newFree)
	return nil
}

// Repatriate moves up to amount from one account's reserved pool directly
// into another account's pool selected by target, bypassing the free-balance
// path. It moves what is available and returns the shortfall — zero when
// fully satisfied — rather than failing outright. Callers that require an
// exact amount must check the returned shortfall is zero.
func (tx *Txn) Repatriate(from, to uuid.UUID, asset AssetID, amount uint64, target Pool) (uint64, error) {
	fromKey := NewBalanceKey(from, asset, PoolReserved)
	available := tx.balance(fromKey)

	moved := amount
	if available < amount {
		moved = available
	}

	// Stage the debit first so the credit read nets correctly when the
	// source and destination cells alias (from == to, reserved target).
	tx.setBalance(fromKey, available-moved)

	toKey := NewBalanceKey(to, asset, target)
	newTo, err := CheckedAdd(tx.balance(toKey), moved)
	if err != nil {
		return 0, err
	}
	tx.setBalance(toKey, newTo)
	return amount - moved, nil
}
