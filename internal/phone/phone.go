// Package phone holds the digit-normalization helpers shared by the outbound
// dispatcher and the reply correlation resolver.
package phone

import "strings"

// Digits strips everything but 0-9 from a raw phone value.
func Digits(value string) string {
	var sb strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// LastN returns the trailing n digits, or the whole string when shorter.
func LastN(digits string, n int) string {
	if len(digits) <= n {
		return digits
	}
	return digits[len(digits)-n:]
}
