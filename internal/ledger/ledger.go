package ledger

import (
	"github.com/google/uuid"

	"escrowledger/internal/event"
)

// Ledger operations. Each stages its effects on the transaction; the caller
// commits only when every sub-step of the enclosing command has succeeded.

// Issue credits an account's free balance from outside the ledger and grows
// the asset's total supply. This is the funding path: transfer operations
// conserve value and can never create it.
func (tx *Txn) Issue(account uuid.UUID, asset AssetID, amount uint64) error {
	key := NewBalanceKey(account, asset, PoolFree)

	newBal, err := CheckedAdd(tx.balance(key), amount)
	if err != nil {
		return err
	}
	newSupply, err := CheckedAdd(tx.totalSupply(asset), amount)
	if err != nil {
		return err
	}

	tx.setBalance(key, newBal)
	tx.setTotalSupply(asset, newSupply)

	assetName, _ := GetAssetName(asset)
	tx.Emit(event.Issued{Account: account, Asset: assetName, Amount: amount})
	return nil
}

// MoveFree stages a movement between free balances without recording an
// event. Composite operations that settle under a single event of their own
// use this for the individual legs. Fails ErrInsufficientBalance when the
// payer's free balance is short.
func (tx *Txn) MoveFree(from, to uuid.UUID, asset AssetID, amount uint64) error {
	fromKey := NewBalanceKey(from, asset, PoolFree)

	fromBal := tx.balance(fromKey)
	if fromBal < amount {
		return ErrInsufficientBalance
	}
	tx.setBalance(fromKey, fromBal-amount)

	toKey := NewBalanceKey(to, asset, PoolFree)
	newTo, err := CheckedAdd(tx.balance(toKey), amount)
	if err != nil {
		return err
	}
	tx.setBalance(toKey, newTo)
	return nil
}

// Transfer moves amount between free balances and emits the Transfer event.
// from == to is legal: the sufficiency check still runs and the event is
// still emitted, with the balance netting back to its prior value.
func (tx *Txn) Transfer(from, to uuid.UUID, asset AssetID, amount uint64) error {
	if err := tx.MoveFree(from, to, asset, amount); err != nil {
		return err
	}
	assetName, _ := GetAssetName(asset)
	tx.Emit(event.Transfer{From: from, To: to, Asset: assetName, Amount: amount})
	return nil
}

// Approve overwrites the (owner, spender) allowance. The approval is bounded
// by the owner's current free balance, not an independent limit.
func (tx *Txn) Approve(owner, spender uuid.UUID, asset AssetID, amount uint64) error {
	if tx.balance(NewBalanceKey(owner, asset, PoolFree)) < amount {
		return ErrInsufficientBalance
	}

	tx.setAllowance(NewAllowanceKey(owner, spender, asset), amount)

	assetName, _ := GetAssetName(asset)
	tx.Emit(event.Approve{Owner: owner, Spender: spender, Asset: assetName, Amount: amount})
	return nil
}

// TransferFrom performs a delegated transfer. The gate is the payer's free
// balance, NOT the stored allowance, and on success the (from, to) allowance
// entry is rewritten to the payer's post-check remainder. This mirrors the
// system's observed behavior: Approve's stored value never constrains
// TransferFrom, and the caller is not matched against any allowance record.
func (tx *Txn) TransferFrom(caller, from, to uuid.UUID, asset AssetID, amount uint64) error {
	_ = caller // authenticated upstream; deliberately not checked here

	fromBal := tx.balance(NewBalanceKey(from, asset, PoolFree))
	if fromBal < amount {
		return ErrInsufficientAllowance
	}

	tx.setAllowance(NewAllowanceKey(from, to, asset), fromBal-amount)

	assetName, _ := GetAssetName(asset)
	tx.Emit(event.AllowanceAdjusted{Owner: from, Spender: to, Asset: assetName, Amount: fromBal - amount})

	return tx.Transfer(from, to, asset, amount)
}
