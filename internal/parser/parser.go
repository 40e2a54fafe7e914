// Package parser turns normalized CSV rows into typed records.
//
// Each scanner wraps a csv.Reader and yields one outcome per data row: a
// typed record or a structured rejection naming the violated field and the
// reason. Row-level failures never abort the file; the caller keeps
// scanning and counts rejections. Scanners are lazy — they hold one row at
// a time, so file size does not affect memory use.
package parser

import (
	stdcsv "encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/csv"
	"github.com/assadlabs/ansflow/internal/schema"
)

// Reason categorizes why a row was rejected. Reasons are the keys of the
// run summary's rejection counts.
type Reason string

const (
	ReasonMissingField        Reason = "missing_field"
	ReasonInvalidAmount       Reason = "invalid_amount"
	ReasonMalformedIdentifier Reason = "malformed_identifier"
	ReasonInvalidPeriod       Reason = "invalid_period"
	ReasonBadRow              Reason = "bad_row"

	// Produced by the loader, not the parser.
	ReasonOrphanReference     Reason = "orphan_reference"
	ReasonConstraintViolation Reason = "constraint_violation"
)

// Rejection describes a single rejected row.
type Rejection struct {
	Line   int    // 1-based CSV line number, header included
	Field  string // canonical column name, empty for whole-row problems
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Field == "" {
		return fmt.Sprintf("line %d: %s: %s", r.Line, r.Reason, r.Detail)
	}
	return fmt.Sprintf("line %d: field %s: %s: %s", r.Line, r.Field, r.Reason, r.Detail)
}

// columnMap holds resolved column positions keyed by canonical spec name.
type columnMap map[string]int

// resolveColumns matches field specs against a cleaned header row,
// following each spec's alias list. A required column that is absent from
// the header makes the whole file unusable and is reported as an error.
func resolveColumns(header []string, specs []schema.FieldSpec) (columnMap, error) {
	idx := csv.MakeHeaderIndex(header)

	cols := make(columnMap, len(specs))
	for _, spec := range specs {
		pos, ok := idx[spec.Name]
		if !ok {
			for _, alias := range spec.Aliases {
				if p, found := idx[alias]; found {
					pos, ok = p, true
					break
				}
			}
		}
		if !ok {
			if spec.Required {
				return nil, fmt.Errorf("required column %q not found in header", spec.Name)
			}
			continue
		}
		cols[spec.Name] = pos
	}
	return cols, nil
}

// cell returns the cleaned cell for a resolved column, or "" when the
// column is absent or the row is too short.
func (c columnMap) cell(row []string, name string) string {
	pos, ok := c[name]
	if !ok || pos >= len(row) {
		return ""
	}
	return csv.CleanCell(row[pos])
}

// readRow advances the underlying reader past blank rows, converting
// per-row CSV syntax errors into rejections. io.EOF ends the stream.
func readRow(cr *stdcsv.Reader, line *int) ([]string, *Rejection, error) {
	for {
		row, err := cr.Read()
		*line++
		if err == io.EOF {
			return nil, nil, io.EOF
		}
		var parseErr *stdcsv.ParseError
		if errors.As(err, &parseErr) {
			return nil, &Rejection{
				Line:   *line,
				Reason: ReasonBadRow,
				Detail: parseErr.Err.Error(),
			}, nil
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read row: %w", err)
		}
		if csv.IsBlankRow(row) {
			continue
		}
		return row, nil, nil
	}
}

// identifier cleans and validates a join-key cell.
func identifier(cols columnMap, row []string, line int) (string, *Rejection) {
	raw := cols.cell(row, "REGISTRO_ANS")
	id := schema.CleanIdentifier(raw)
	if id == "" {
		return "", &Rejection{Line: line, Field: "REGISTRO_ANS", Reason: ReasonMissingField, Detail: "empty identifier"}
	}
	if !schema.IsNumericID(id) {
		return "", &Rejection{Line: line, Field: "REGISTRO_ANS", Reason: ReasonMalformedIdentifier, Detail: fmt.Sprintf("not a numeric identifier: %q", raw)}
	}
	return id, nil
}

// RegistryScanner streams operator records from a registry file.
type RegistryScanner struct {
	cr   *stdcsv.Reader
	cols columnMap
	line int
}

// NewRegistryScanner reads the header row and resolves registry columns.
func NewRegistryScanner(r io.Reader) (*RegistryScanner, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read registry header: %w", err)
	}
	cols, err := resolveColumns(header, schema.RegistryFieldSpecs)
	if err != nil {
		return nil, fmt.Errorf("registry header: %w", err)
	}
	return &RegistryScanner{cr: cr, cols: cols, line: 1}, nil
}

// Next returns the next operator record or rejection. Exactly one of the
// two results is non-nil until io.EOF ends the stream.
func (s *RegistryScanner) Next() (*schema.Operator, *Rejection, error) {
	row, rej, err := readRow(s.cr, &s.line)
	if err != nil || rej != nil {
		return nil, rej, err
	}

	id, rej := identifier(s.cols, row, s.line)
	if rej != nil {
		return nil, rej, nil
	}

	cnpj := s.cols.cell(row, "CNPJ")
	if cnpj == "" {
		return nil, &Rejection{Line: s.line, Field: "CNPJ", Reason: ReasonMissingField, Detail: "empty CNPJ"}, nil
	}
	if !schema.ValidCNPJ(cnpj) {
		return nil, &Rejection{Line: s.line, Field: "CNPJ", Reason: ReasonMalformedIdentifier, Detail: fmt.Sprintf("CNPJ must have 14 digits: %q", cnpj)}, nil
	}

	name := s.cols.cell(row, "RAZAO_SOCIAL")
	if name == "" {
		return nil, &Rejection{Line: s.line, Field: "RAZAO_SOCIAL", Reason: ReasonMissingField, Detail: "empty legal name"}, nil
	}

	return &schema.Operator{
		RegistroANS: id,
		CNPJ:        cnpj,
		LegalName:   name,
		Modality:    s.cols.cell(row, "MODALIDADE"),
		UF:          schema.NormalizeUF(s.cols.cell(row, "UF")),
	}, nil, nil
}

// ExpenseScanner streams expense records from a consolidated expense file.
type ExpenseScanner struct {
	cr   *stdcsv.Reader
	cols columnMap
	line int
}

// NewExpenseScanner reads the header row and resolves expense columns.
func NewExpenseScanner(r io.Reader) (*ExpenseScanner, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read expense header: %w", err)
	}
	cols, err := resolveColumns(header, schema.ExpenseFieldSpecs)
	if err != nil {
		return nil, fmt.Errorf("expense header: %w", err)
	}
	return &ExpenseScanner{cr: cr, cols: cols, line: 1}, nil
}

// Next returns the next expense record or rejection. Exactly one of the
// two results is non-nil until io.EOF ends the stream.
func (s *ExpenseScanner) Next() (*schema.Expense, *Rejection, error) {
	row, rej, err := readRow(s.cr, &s.line)
	if err != nil || rej != nil {
		return nil, rej, err
	}

	id, rej := identifier(s.cols, row, s.line)
	if rej != nil {
		return nil, rej, nil
	}

	rawAmount := s.cols.cell(row, "VALOR_DESPESA")
	amount, err := ParseAmount(rawAmount)
	if err != nil {
		return nil, &Rejection{Line: s.line, Field: "VALOR_DESPESA", Reason: ReasonInvalidAmount, Detail: err.Error()}, nil
	}

	quarter, ok := normalizeQuarter(s.cols.cell(row, "TRIMESTRE"))
	if !ok {
		return nil, &Rejection{Line: s.line, Field: "TRIMESTRE", Reason: ReasonInvalidPeriod, Detail: fmt.Sprintf("invalid quarter: %q", s.cols.cell(row, "TRIMESTRE"))}, nil
	}

	year, ok := parseYear(s.cols.cell(row, "ANO"))
	if !ok {
		return nil, &Rejection{Line: s.line, Field: "ANO", Reason: ReasonInvalidPeriod, Detail: fmt.Sprintf("invalid year: %q", s.cols.cell(row, "ANO"))}, nil
	}

	return &schema.Expense{
		RegistroANS: id,
		Amount:      amount,
		Quarter:     quarter,
		Year:        year,
		Description: s.cols.cell(row, "DESCRICAO"),
	}, nil, nil
}

// ParseAmount parses a monetary cell as a non-negative fixed-point decimal
// with two fractional digits. Brazilian comma-decimal formatting
// ("1.234,56") and plain dot-decimal formatting ("1234.56") are both
// accepted; floats are never involved.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Decimal{}, errors.New("empty amount")
	}

	// Comma present means comma-decimal: dots are thousands separators.
	if strings.Contains(s, ",") {
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("not a decimal: %q", s)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("negative amount: %q", s)
	}
	return d.Round(2), nil
}

// normalizeQuarter canonicalizes quarter labels to "1T".."4T".
// "1T2023"-style labels carry a redundant year suffix which is dropped.
func normalizeQuarter(s string) (string, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if len(s) >= 2 && s[0] >= '1' && s[0] <= '4' && s[1] == 'T' {
		return s[:2], true
	}
	return "", false
}

// parseYear parses a fiscal year, bounded to a sane reporting window.
func parseYear(s string) (int, bool) {
	y, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || y < 1998 || y > 2100 {
		return 0, false
	}
	return y, true
}
