package ledger

import "errors"

// Operation errors. Each aborts the whole enclosing operation with no
// partial mutation; callers compare with errors.Is.
var (
	// ErrInsufficientBalance — a debit, reservation, or repatriation
	// shortfall check failed.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInsufficientAllowance — the delegated-transfer balance gate failed.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrAmountOverflow — a credit or supply increase would overflow the
	// amount type.
	ErrAmountOverflow = errors.New("amount overflow")

	// ErrOrderIDOverflow — the order id counter is exhausted.
	ErrOrderIDOverflow = errors.New("order id overflow")

	// ErrInvalidOrderID — the referenced order id was never issued.
	ErrInvalidOrderID = errors.New("invalid order id")

	// ErrOrderIsNone — the referenced id was issued but the order is no
	// longer live (already settled or cancelled).
	ErrOrderIsNone = errors.New("order is none")

	// ErrNotOwner — caller attempted to cancel an order they do not own.
	ErrNotOwner = errors.New("not order owner")

	// ErrUnknownAsset — the asset symbol is not registered.
	ErrUnknownAsset = errors.New("unknown asset")
)

// IsRejection reports whether err belongs to the domain error taxonomy —
// a definitive per-command outcome, as opposed to a transport or ordering
// failure the shell handles differently.
func IsRejection(err error) bool {
	for _, e := range []error{
		ErrInsufficientBalance,
		ErrInsufficientAllowance,
		ErrAmountOverflow,
		ErrOrderIDOverflow,
		ErrInvalidOrderID,
		ErrOrderIsNone,
		ErrNotOwner,
		ErrUnknownAsset,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
