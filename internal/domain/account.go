package domain

// Address identifies an account on the ledger.
type Address string

// ZeroAddress is the null account. A transfer from it mints,
// a transfer to it burns.
const ZeroAddress Address = "0x0"

// IsZero reports whether the address is the null account.
func (a Address) IsZero() bool {
	return a == ZeroAddress || a == ""
}

// Units is the smallest indivisible amount of the token.
// All monetary values are strictly int64.
type Units int64
