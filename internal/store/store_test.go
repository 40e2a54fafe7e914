package store

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/schema"
)

func TestNumericDecimalRoundTrip(t *testing.T) {
	values := []string{"0", "0.01", "1000.00", "1234567.89", "4500.10"}
	for _, v := range values {
		d := decimal.RequireFromString(v)
		back := DecimalFromNumeric(NumericFromDecimal(d))
		if !back.Equal(d) {
			t.Errorf("round trip %s: got %s", d, back)
		}
	}
}

func TestDecimalFromNumeric_Invalid(t *testing.T) {
	var d = DecimalFromNumeric(NumericFromDecimal(decimal.Decimal{}))
	if !d.IsZero() {
		t.Errorf("zero decimal round trip = %s, want 0", d)
	}
}

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"acme", "acme"},
		{"100%", `100\%`},
		{"a_b", `a\_b`},
		{`c\d`, `c\\d`},
	}
	for _, tt := range tests {
		if got := escapeLike(tt.input); got != tt.want {
			t.Errorf("escapeLike(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestOperatorPage_TotalPages(t *testing.T) {
	tests := []struct {
		total    int64
		pageSize int
		want     int64
	}{
		{0, 10, 0},
		{1, 10, 1},
		{10, 10, 1},
		{11, 10, 2},
		{95, 10, 10},
	}
	for _, tt := range tests {
		p := OperatorPage{Total: tt.total, PageSize: tt.pageSize}
		if got := p.TotalPages(); got != tt.want {
			t.Errorf("TotalPages(total=%d, size=%d) = %d, want %d", tt.total, tt.pageSize, got, tt.want)
		}
	}
}

func TestCopyRowsMatchColumnOrder(t *testing.T) {
	op := &schema.Operator{RegistroANS: "1", CNPJ: "2", LegalName: "3", Modality: "4", UF: "5"}
	if got := OperatorRow(op); len(got) != len(OperatorColumns) {
		t.Errorf("OperatorRow has %d values for %d columns", len(got), len(OperatorColumns))
	}

	e := &schema.Expense{RegistroANS: "1", Amount: decimal.RequireFromString("2.00"), Quarter: "1T", Year: 2023}
	if got := ExpenseRow(e); len(got) != len(ExpenseColumns) {
		t.Errorf("ExpenseRow has %d values for %d columns", len(got), len(ExpenseColumns))
	}
}
