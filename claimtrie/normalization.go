package claimtrie

import (
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize maps a raw name to its canonical form: Unicode NFD
// decomposition followed by full case folding. Names that are not valid
// UTF-8 are left untouched, so arbitrary byte strings remain addressable.
func Normalize(name string) string {
	if name == "" || !utf8.ValidString(name) {
		return name
	}
	return cases.Fold().String(norm.NFD.String(name))
}
