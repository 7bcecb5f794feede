// Package safe provides overflow-checked int64 arithmetic for ledger
// amounts. Amounts are non-negative by contract; violations panic rather
// than corrupt balances.
package safe

import (
	"math"
)

// Add performs int64 addition and panics on overflow/underflow.
func Add(a, b int64) int64 {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		panic("LEDGER_SAFE_ADD_OVERFLOW")
	}
	return a + b
}

// Sub performs int64 subtraction and panics on overflow/underflow.
func Sub(a, b int64) int64 {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		panic("LEDGER_SAFE_SUB_OVERFLOW")
	}
	return a - b
}

// Div performs int64 division and panics on division by zero.
func Div(a, b int64) int64 {
	if b == 0 {
		panic("LEDGER_SAFE_DIV_BY_ZERO")
	}
	// Note: MinInt64 / -1 also overflows.
	if a == math.MinInt64 && b == -1 {
		panic("LEDGER_SAFE_DIV_OVERFLOW")
	}
	return a / b
}

// MulDiv computes floor(a*b/c) with overflow checks. Every fee rate and
// bucket share in the system is a percent-of-amount, so this is the helper
// all of them go through.
func MulDiv(a, b, c int64) int64 {
	return Div(mul(a, b), c)
}

// mul multiplies non-negative operands, the only domain fee math needs.
func mul(a, b int64) int64 {
	if a < 0 || b < 0 {
		panic("LEDGER_SAFE_MUL_NEGATIVE")
	}
	if a == 0 || b == 0 {
		return 0
	}
	if a > math.MaxInt64/b {
		panic("LEDGER_SAFE_MUL_OVERFLOW")
	}
	return a * b
}
