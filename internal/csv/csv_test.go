package csv

import (
	"strings"
	"testing"
)

func TestCleanHeader(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "already canonical",
			input: "REGISTRO_OPERADORA",
			want:  "REGISTRO_OPERADORA",
		},
		{
			name:  "quoted lowercase with spaces",
			input: `"razao social"`,
			want:  "RAZAO_SOCIAL",
		},
		{
			name:  "accented",
			input: "DESCRIÇÃO",
			want:  "DESCRICAO",
		},
		{
			name:  "mixed case accented with dot",
			input: " Razão Social ",
			want:  "RAZAO_SOCIAL",
		},
		{
			name:  "dot stripped",
			input: "VL.SALDO_FINAL",
			want:  "VLSALDO_FINAL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanHeader(tt.input); got != tt.want {
				t.Errorf("CleanHeader(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"  123456  ", "123456"},
		{`"ACME SAÚDE"`, "ACME SAÚDE"},
		{`" padded "`, "padded"},
		{"", ""},
		{`"`, `"`},
		{"12.345.678/0001-95", "12.345.678/0001-95"},
	}

	for _, tt := range tests {
		if got := CleanCell(tt.input); got != tt.want {
			t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{"Registro ANS", `"CNPJ"`, "Razão Social", "UF"})

	want := map[string]int{
		"REGISTRO_ANS": 0,
		"CNPJ":         1,
		"RAZAO_SOCIAL": 2,
		"UF":           3,
	}
	for k, pos := range want {
		if got, ok := idx[k]; !ok || got != pos {
			t.Errorf("idx[%q] = %d, %v; want %d", k, got, ok, pos)
		}
	}
}

func TestMakeHeaderIndex_DuplicateKeepsFirst(t *testing.T) {
	idx := MakeHeaderIndex([]string{"CNPJ", "cnpj"})
	if idx["CNPJ"] != 0 {
		t.Errorf("idx[CNPJ] = %d, want 0 (first occurrence)", idx["CNPJ"])
	}
}

func TestNewReader_SemicolonDialect(t *testing.T) {
	input := "REG_ANS;DESCRICAO;VL_SALDO_FINAL\n123;\"EVENTOS; SINISTROS\";4500,10\n"
	r := NewReader(strings.NewReader(input))

	rows, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[1][1] != "EVENTOS; SINISTROS" {
		t.Errorf("quoted field = %q, want %q", rows[1][1], "EVENTOS; SINISTROS")
	}
	if rows[1][2] != "4500,10" {
		t.Errorf("amount field = %q, want %q", rows[1][2], "4500,10")
	}
}

func TestIsBlankRow(t *testing.T) {
	if !IsBlankRow([]string{"", "  ", "\t"}) {
		t.Error("all-whitespace row should be blank")
	}
	if IsBlankRow([]string{"", "x", ""}) {
		t.Error("row with content should not be blank")
	}
}
