// Package text holds small string helpers shared by outbound channels.
package text

import "unicode/utf8"

const ellipsis = "…"

// Truncate cuts s to at most max runes, marking the cut with an ellipsis.
// max <= 0 disables truncation.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	if max == 1 {
		return ellipsis
	}
	n := 0
	for i := range s {
		if n == max-1 {
			return s[:i] + ellipsis
		}
		n++
	}
	return s
}
