package schema

import "testing"

func TestCleanIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain identifier",
			input: "123456",
			want:  "123456",
		},
		{
			name:  "spreadsheet export artifact",
			input: "123456.0",
			want:  "123456",
		},
		{
			name:  "surrounding whitespace",
			input: "  123456  ",
			want:  "123456",
		},
		{
			name:  "whitespace and artifact",
			input: " 419761.0 ",
			want:  "419761",
		},
		{
			name:  "leading zeros preserved",
			input: "003456.0",
			want:  "003456",
		},
		{
			name:  "interior dot untouched",
			input: "12.34",
			want:  "12.34",
		},
		{
			name:  "empty",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanIdentifier(tt.input); got != tt.want {
				t.Errorf("CleanIdentifier(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestCleanIdentifier_Idempotent(t *testing.T) {
	inputs := []string{"123456", "123456.0", " 42.0 ", "003456", "12.34", "", "9.0.0"}
	for _, in := range inputs {
		once := CleanIdentifier(in)
		twice := CleanIdentifier(once)
		if once != twice {
			t.Errorf("CleanIdentifier not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestIsNumericID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"123456", true},
		{"0", true},
		{"", false},
		{"12a4", false},
		{"12 34", false},
		{"-12", false},
	}

	for _, tt := range tests {
		if got := IsNumericID(tt.input); got != tt.want {
			t.Errorf("IsNumericID(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestValidCNPJ(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"12.345.678/0001-95", true},
		{"12345678000195", true},
		{"1234567800019", false},
		{"123456780001955", false},
		{"", false},
		{"not a cnpj", false},
	}

	for _, tt := range tests {
		if got := ValidCNPJ(tt.input); got != tt.want {
			t.Errorf("ValidCNPJ(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNormalizeUF(t *testing.T) {
	if got := NormalizeUF(" sp "); got != "SP" {
		t.Errorf("NormalizeUF(' sp ') = %q, want SP", got)
	}
	if !ValidUF("rj") {
		t.Error("ValidUF(rj) = false, want true")
	}
	if ValidUF("XX") {
		t.Error("ValidUF(XX) = true, want false")
	}
}
