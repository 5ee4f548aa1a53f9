package textutil

import (
	"golang.org/x/text/cases"
)

// Fold returns the Unicode case-folded form of s, used for every
// case-insensitive comparison of header and body text.
//
// A cases.Caser is stateful, so each call builds its own.
func Fold(s string) string {
	return cases.Fold().String(s)
}
