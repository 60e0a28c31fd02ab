package dispenser

import (
	"math"
	"strings"
)

// ParseLeadingInt reads an optionally signed run of decimal digits from the
// start of s, ignoring leading whitespace and anything after the digits.
// "12abc" yields 12, "3.7" yields 3 and "abc" is not a number. Values beyond
// the int64 range saturate.
func ParseLeadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\n\r")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}

	var n int64
	digits := 0
	for ; digits < len(s); digits++ {
		c := s[digits]
		if c < '0' || c > '9' {
			break
		}
		d := int64(c - '0')
		if n > (math.MaxInt64-d)/10 {
			n = math.MaxInt64
			continue
		}
		n = n*10 + d
	}
	if digits == 0 {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}
