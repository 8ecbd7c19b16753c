package ledger

import "math"

// Amounts are unsigned fixed-point integers supplied by the host
// environment. All arithmetic is explicitly checked: overflow and underflow
// abort the operation instead of wrapping.

// CheckedAdd returns a+b or ErrAmountOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrAmountOverflow
	}
	return a + b, nil
}

// CheckedSub returns a-b or ErrInsufficientBalance when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrInsufficientBalance
	}
	return a - b, nil
}
