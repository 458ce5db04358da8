package wire

import "fmt"

// Machine-readable prefixes of rejection reasons.
const (
	PrefixInvalid      = "invalid"
	PrefixRateLimited  = "rate-limited"
	PrefixAuthRequired = "auth-required"
	PrefixBlocked      = "blocked"
	PrefixDuplicate    = "duplicate"
	PrefixError        = "error"
)

// Reason formats a rejection reason as "<prefix>: <message>".
func Reason(prefix, format string, args ...any) string {
	return prefix + ": " + fmt.Sprintf(format, args...)
}
