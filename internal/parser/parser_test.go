package parser

import (
	"io"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/assadlabs/ansflow/internal/schema"
)

func collectRegistry(t *testing.T, input string) ([]*schema.Operator, []*Rejection) {
	t.Helper()
	s, err := NewRegistryScanner(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewRegistryScanner() error = %v", err)
	}

	var records []*schema.Operator
	var rejects []*Rejection
	for {
		rec, rej, err := s.Next()
		if err == io.EOF {
			return records, rejects
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if rec != nil && rej != nil {
			t.Fatal("Next() returned both a record and a rejection")
		}
		if rec != nil {
			records = append(records, rec)
		}
		if rej != nil {
			rejects = append(rejects, rej)
		}
	}
}

func collectExpenses(t *testing.T, input string) ([]*schema.Expense, []*Rejection) {
	t.Helper()
	s, err := NewExpenseScanner(strings.NewReader(input))
	if err != nil {
		t.Fatalf("NewExpenseScanner() error = %v", err)
	}

	var records []*schema.Expense
	var rejects []*Rejection
	for {
		rec, rej, err := s.Next()
		if err == io.EOF {
			return records, rejects
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		if rec != nil {
			records = append(records, rec)
		}
		if rej != nil {
			rejects = append(rejects, rej)
		}
	}
}

func TestRegistryScanner_HappyPath(t *testing.T) {
	input := "Registro ANS;CNPJ;Razão Social;Modalidade;UF\n" +
		"123456;12.345.678/0001-95;ACME SAÚDE LTDA;Medicina de Grupo;SP\n" +
		"419761.0;98.765.432/0001-10;BETA PLANOS;Cooperativa Médica;rj\n"

	records, rejects := collectRegistry(t, input)
	if len(rejects) != 0 {
		t.Fatalf("got %d rejections, want 0: %v", len(rejects), rejects)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if records[0].RegistroANS != "123456" {
		t.Errorf("RegistroANS = %q, want 123456", records[0].RegistroANS)
	}
	if records[0].LegalName != "ACME SAÚDE LTDA" {
		t.Errorf("LegalName = %q", records[0].LegalName)
	}
	// trailing .0 artifact stripped, UF upper-cased
	if records[1].RegistroANS != "419761" {
		t.Errorf("RegistroANS = %q, want 419761", records[1].RegistroANS)
	}
	if records[1].UF != "RJ" {
		t.Errorf("UF = %q, want RJ", records[1].UF)
	}
}

func TestRegistryScanner_HeaderAliases(t *testing.T) {
	// Older ANS files use REGISTRO_OPERADORA for the registration number.
	input := "REGISTRO_OPERADORA;CNPJ;RAZAO_SOCIAL\n" +
		"555;11.111.111/0001-11;GAMMA ASSISTÊNCIA\n"

	records, rejects := collectRegistry(t, input)
	if len(rejects) != 0 || len(records) != 1 {
		t.Fatalf("records=%d rejects=%d, want 1/0", len(records), len(rejects))
	}
	if records[0].RegistroANS != "555" {
		t.Errorf("RegistroANS = %q, want 555", records[0].RegistroANS)
	}
}

func TestRegistryScanner_MissingRequiredColumn(t *testing.T) {
	input := "CNPJ;RAZAO_SOCIAL\n11.111.111/0001-11;NO ID CO\n"
	if _, err := NewRegistryScanner(strings.NewReader(input)); err == nil {
		t.Fatal("expected error for header without identifier column")
	}
}

func TestRegistryScanner_RowRejections(t *testing.T) {
	input := "REGISTRO_ANS;CNPJ;RAZAO_SOCIAL\n" +
		";11.111.111/0001-11;MISSING ID\n" + // empty identifier
		"12x4;11.111.111/0001-11;BAD ID\n" + // non-numeric identifier
		"100;123;SHORT CNPJ\n" + // malformed CNPJ
		"200;22.222.222/0001-22;\n" + // empty legal name
		"300;33.333.333/0001-33;OK CO\n"

	records, rejects := collectRegistry(t, input)
	if len(records) != 1 || records[0].RegistroANS != "300" {
		t.Fatalf("records = %v, want single id 300", records)
	}
	if len(rejects) != 4 {
		t.Fatalf("got %d rejections, want 4: %v", len(rejects), rejects)
	}

	wantReasons := []Reason{ReasonMissingField, ReasonMalformedIdentifier, ReasonMalformedIdentifier, ReasonMissingField}
	for i, want := range wantReasons {
		if rejects[i].Reason != want {
			t.Errorf("rejects[%d].Reason = %q, want %q", i, rejects[i].Reason, want)
		}
	}
	if rejects[2].Field != "CNPJ" {
		t.Errorf("rejects[2].Field = %q, want CNPJ", rejects[2].Field)
	}
}

func TestRegistryScanner_BlankRowsSkipped(t *testing.T) {
	input := "REGISTRO_ANS;CNPJ;RAZAO_SOCIAL\n" +
		";;\n" +
		"300;33.333.333/0001-33;OK CO\n" +
		"\n"

	records, rejects := collectRegistry(t, input)
	if len(records) != 1 || len(rejects) != 0 {
		t.Fatalf("records=%d rejects=%d, want 1/0", len(records), len(rejects))
	}
}

func TestExpenseScanner_HappyPath(t *testing.T) {
	input := "RegistroANS;ValorDespesas;Trimestre;Ano;Descricao\n" +
		"123456;4500,10;1T;2023;EVENTOS/SINISTROS\n" +
		"123456;1234.56;4T2023;2023;SINISTROS CONHECIDOS\n"

	records, rejects := collectExpenses(t, input)
	if len(rejects) != 0 {
		t.Fatalf("got %d rejections, want 0: %v", len(rejects), rejects)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}

	if !records[0].Amount.Equal(decimal.RequireFromString("4500.10")) {
		t.Errorf("Amount = %s, want 4500.10", records[0].Amount)
	}
	if records[1].Quarter != "4T" {
		t.Errorf("Quarter = %q, want 4T (year suffix dropped)", records[1].Quarter)
	}
	if records[1].Year != 2023 {
		t.Errorf("Year = %d, want 2023", records[1].Year)
	}
}

func TestExpenseScanner_Rejections(t *testing.T) {
	input := "REG_ANS;VL_SALDO_FINAL;TRIMESTRE;ANO;DESCRICAO\n" +
		"100;abc;1T;2023;bad amount\n" +
		"100;-50,00;1T;2023;negative amount\n" +
		"100;10,00;5T;2023;bad quarter\n" +
		"100;10,00;1T;190;bad year\n" +
		"100;10,00;2T;2023;fine\n"

	records, rejects := collectExpenses(t, input)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if len(rejects) != 4 {
		t.Fatalf("got %d rejections, want 4: %v", len(rejects), rejects)
	}

	wantReasons := []Reason{ReasonInvalidAmount, ReasonInvalidAmount, ReasonInvalidPeriod, ReasonInvalidPeriod}
	for i, want := range wantReasons {
		if rejects[i].Reason != want {
			t.Errorf("rejects[%d].Reason = %q, want %q", i, rejects[i].Reason, want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{
			name:  "dot decimal",
			input: "1234.56",
			want:  "1234.56",
		},
		{
			name:  "comma decimal",
			input: "4500,10",
			want:  "4500.10",
		},
		{
			name:  "thousands dots with comma decimal",
			input: "1.234.567,89",
			want:  "1234567.89",
		},
		{
			name:  "integer",
			input: "1000",
			want:  "1000",
		},
		{
			name:  "zero",
			input: "0",
			want:  "0",
		},
		{
			name:  "rounded to cents",
			input: "10,005",
			want:  "10.01",
		},
		{
			name:    "empty",
			input:   "",
			wantErr: true,
		},
		{
			name:    "negative",
			input:   "-10,00",
			wantErr: true,
		},
		{
			name:    "garbage",
			input:   "R$ dez",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmount(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseAmount(%q) expected error, got %s", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseAmount(%q) error = %v", tt.input, err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}
