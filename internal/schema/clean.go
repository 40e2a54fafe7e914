package schema

import "strings"

// CleanIdentifier canonicalizes a join-key or numeric-code field.
// Spreadsheet exports of integer identifiers append ".0"; those suffixes
// are stripped, along with surrounding whitespace. Leading zeros and any
// interior formatting are preserved. Idempotent.
func CleanIdentifier(s string) string {
	s = strings.TrimSpace(s)
	for strings.HasSuffix(s, ".0") {
		s = strings.TrimSuffix(s, ".0")
	}
	return strings.TrimSpace(s)
}

// IsNumericID reports whether a cleaned identifier consists only of
// digits. ANS registration numbers are numeric strings; anything else is
// a malformed join key.
func IsNumericID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// DigitsOnly strips every non-digit character. Used to compare CNPJ
// values regardless of punctuation (12.345.678/0001-95 vs 12345678000195).
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCNPJ reports whether the value contains exactly 14 digits once
// punctuation is removed, the fixed CNPJ width.
func ValidCNPJ(s string) bool {
	return len(DigitsOnly(s)) == 14
}

// brazilStates is the set of valid Brazilian federative unit codes.
var brazilStates = map[string]bool{
	"AC": true, "AL": true, "AP": true, "AM": true, "BA": true,
	"CE": true, "DF": true, "ES": true, "GO": true, "MA": true,
	"MT": true, "MS": true, "MG": true, "PA": true, "PB": true,
	"PR": true, "PE": true, "PI": true, "RJ": true, "RN": true,
	"RS": true, "RO": true, "RR": true, "SC": true, "SP": true,
	"SE": true, "TO": true,
}

// NormalizeUF upper-cases and trims a state code. Unrecognized values are
// kept rather than dropped, so unexpected source data stays visible
// downstream.
func NormalizeUF(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// ValidUF reports whether s is a known federative unit code.
func ValidUF(s string) bool {
	return brazilStates[strings.ToUpper(strings.TrimSpace(s))]
}
