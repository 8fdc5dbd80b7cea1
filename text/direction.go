package text

import "golang.org/x/text/unicode/bidi"

// Direction is the writing direction of a run of text.
type Direction int

const (
	LTR Direction = iota
	RTL
	// Neutral runs have no strong characters: digits, punctuation, spaces.
	Neutral
	// TTB runs are shown with a vertical font.
	TTB
)

// String returns the name used in text content items. Neutral reads as
// "ltr".
func (d Direction) String() string {
	switch d {
	case RTL:
		return "rtl"
	case TTB:
		return "ttb"
	}
	return "ltr"
}

// runeDirection classifies r by its Unicode bidirectional class.
func runeDirection(r rune) Direction {
	p, _ := bidi.LookupRune(r)
	switch p.Class() {
	case bidi.L:
		return LTR
	case bidi.R, bidi.AL:
		return RTL
	}
	return Neutral
}

// DetectDirection returns the direction of the majority of the strong
// characters in s, LTR on a tie.
func DetectDirection(s string) Direction {
	var n [2]int
	for _, r := range s {
		if d := runeDirection(r); d != Neutral {
			n[d]++
		}
	}
	switch {
	case n[LTR]+n[RTL] == 0:
		return Neutral
	case n[RTL] > n[LTR]:
		return RTL
	}
	return LTR
}
