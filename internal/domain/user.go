package domain

import "strings"

// User represents a wallet observed on the lending ledger.
// Corresponds to users table in PostgreSQL. Identity is the wallet address,
// normalized to lowercase; users are created on first observed activity and
// never deleted.
type User struct {
	Address   string // PRIMARY KEY, lowercase hex
	FirstSeen int64  // Unix timestamp in milliseconds
	LastSeen  int64  // Unix timestamp in milliseconds
}

// NormalizeAddress canonicalizes a wallet address for use as an identity key.
// Address comparison anywhere in the pipeline must go through this.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// SameAddress reports whether two addresses refer to the same wallet,
// ignoring case and surrounding whitespace.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
