// Package csv wraps encoding/csv with the dialect used by ANS disclosure
// files: semicolon-separated, optionally quoted, with headers that vary in
// casing, accents, and quoting across publication years.
package csv

import (
	stdcsv "encoding/csv"
	"io"
	"strings"
)

// NewReader returns a csv.Reader configured for the ANS dialect.
// Ragged rows are tolerated here; row width is validated per schema by the
// parser so short rows become rejections instead of hard errors.
func NewReader(r io.Reader) *stdcsv.Reader {
	cr := stdcsv.NewReader(r)
	cr.Comma = ';'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// headerFolder maps accented characters that appear in ANS headers to
// their ASCII forms so "DESCRIÇÃO" and "DESCRICAO" index identically.
var headerFolder = strings.NewReplacer(
	"Ç", "C", "ç", "C",
	"Ã", "A", "ã", "A",
	"Á", "A", "á", "A",
	"Â", "A", "â", "A",
	"É", "E", "é", "E",
	"Ê", "E", "ê", "E",
	"Í", "I", "í", "I",
	"Ó", "O", "ó", "O",
	"Õ", "O", "õ", "O",
	"Ú", "U", "ú", "U",
)

// CleanHeader canonicalizes a header cell: strips quotes and surrounding
// whitespace, folds accents, upper-cases, and collapses separators to '_'.
// The result is the canonical form used for header index lookups.
func CleanHeader(s string) string {
	s = strings.Trim(strings.TrimSpace(s), `"`)
	s = headerFolder.Replace(strings.ToUpper(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ".", "")
	return s
}

// CleanCell strips surrounding whitespace and a single layer of quotes
// from a data cell. Interior formatting is left untouched.
func CleanCell(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// HeaderIndex maps canonical header names to their column position.
type HeaderIndex map[string]int

// MakeHeaderIndex creates a HeaderIndex from a CSV header row.
// This should be called once per file, then reused for all rows.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := CleanHeader(h)
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

// IsBlankRow reports whether every cell of the row is empty after trimming.
func IsBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
