// Package amount converts decimal amount strings to and from the smallest
// currency unit, matching the rounding and overflow rules payproc's C
// original enforces (convert_amount / reconvert_amount).
package amount

import (
	"fmt"
	"strings"
)

// Convert parses string as a non-negative decimal amount with at most
// decDigits digits after the decimal point and returns the value in the
// smallest currency unit (e.g. cents). It returns 0 for any malformed
// input or on overflow — callers must treat 0 as "invalid" when the source
// string wasn't itself a literal zero amount.
func Convert(s string, decDigits int) uint64 {
	if strings.HasPrefix(s, "+") {
		s = s[1:]
	}
	var (
		ndots uint
		nfrac int
		value uint64
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '.':
			if decDigits == 0 {
				return 0
			}
			ndots++
			if ndots > 1 {
				return 0
			}
		case c >= '0' && c <= '9':
			if ndots > 0 {
				nfrac++
				if nfrac > decDigits {
					return 0
				}
			}
			d := uint64(c - '0')
			if value > (^uint64(0)-d)/10 {
				return 0 // overflow
			}
			value = value*10 + d
		default:
			return 0
		}
	}
	for ; nfrac < decDigits; nfrac++ {
		if value > ^uint64(0)/10 {
			return 0
		}
		value *= 10
	}
	return value
}

// Reconvert renders cents (a smallest-unit amount) back as a decimal string
// with decDigits digits after the point (no point at all when decDigits<=0).
func Reconvert(cents uint64, decDigits int) string {
	if decDigits <= 0 {
		return fmt.Sprintf("%d", cents)
	}
	tens := uint64(1)
	for i := 0; i < decDigits; i++ {
		tens *= 10
	}
	return fmt.Sprintf("%d.%0*d", cents/tens, decDigits, cents%tens)
}
