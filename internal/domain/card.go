package domain

import (
	"strings"
	"unicode"
)

// StripSpaces removes every whitespace rune from a card number.
func StripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

// Last4 returns the last four characters of a normalized card number.
func Last4(card string) string {
	card = StripSpaces(card)
	if len(card) <= 4 {
		return card
	}
	return card[len(card)-4:]
}

// MaskCard renders a card number as "************1111".
func MaskCard(card string) string {
	card = StripSpaces(card)
	if len(card) <= 4 {
		return card
	}
	return strings.Repeat("*", len(card)-4) + card[len(card)-4:]
}
