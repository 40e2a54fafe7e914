// Package schema defines the two record shapes the pipeline loads — the
// operator registry and the expense ledger — together with the per-column
// validation specs and the cleanup rules for identifier fields.
package schema

import "github.com/shopspring/decimal"

// Operator is a registry entity: one registered health plan operator.
// registro_ans is the primary key; cnpj is unique across operators.
type Operator struct {
	RegistroANS string
	CNPJ        string
	LegalName   string
	Modality    string
	UF          string
}

// Expense is one dated financial-event row linked to an operator.
// Amount is fixed-point; it never passes through a float.
type Expense struct {
	RegistroANS string
	Amount      decimal.Decimal
	Quarter     string // "1T".."4T"
	Year        int
	Description string
}

// FieldType represents the expected data type for a CSV field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldIdentifier
	FieldCNPJ
	FieldUF
	FieldAmount
	FieldQuarter
	FieldYear
)

// FieldSpec defines validation rules for a single CSV column.
// Aliases cover the header variants ANS has used across publication years;
// positions are resolved against the cleaned header once per file.
type FieldSpec struct {
	Name     string    // canonical name, also the cleaned-header primary key
	Aliases  []string  // additional cleaned-header names that map here
	Type     FieldType // expected data type
	Required bool      // row is rejected when the value is missing or invalid
}

// RegistryFieldSpecs defines the expected columns of the operator
// registry file (Relatorio_cadop.csv).
var RegistryFieldSpecs = []FieldSpec{
	{Name: "REGISTRO_ANS", Aliases: []string{"REGISTRO_OPERADORA", "REG_ANS", "CD_OPERADORA"}, Type: FieldIdentifier, Required: true},
	{Name: "CNPJ", Type: FieldCNPJ, Required: true},
	{Name: "RAZAO_SOCIAL", Type: FieldText, Required: true},
	{Name: "MODALIDADE", Type: FieldText},
	{Name: "UF", Type: FieldUF},
}

// ExpenseFieldSpecs defines the expected columns of the consolidated
// expense file.
var ExpenseFieldSpecs = []FieldSpec{
	{Name: "REGISTRO_ANS", Aliases: []string{"REGISTROANS", "REG_ANS", "CD_OPERADORA"}, Type: FieldIdentifier, Required: true},
	{Name: "VALOR_DESPESA", Aliases: []string{"VALORDESPESAS", "VL_SALDO_FINAL"}, Type: FieldAmount, Required: true},
	{Name: "TRIMESTRE", Type: FieldQuarter, Required: true},
	{Name: "ANO", Type: FieldYear, Required: true},
	{Name: "DESCRICAO", Type: FieldText},
}
