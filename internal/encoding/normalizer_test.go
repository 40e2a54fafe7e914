package encoding

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name         string
		input        []byte
		wantEncoding Encoding
		wantText     string
	}{
		{
			name:         "plain ascii",
			input:        []byte("registro_ans;cnpj\n123;456\n"),
			wantEncoding: UTF8,
			wantText:     "registro_ans;cnpj\n123;456\n",
		},
		{
			name:         "valid utf-8 accents",
			input:        []byte("razão social;saúde\n"),
			wantEncoding: UTF8,
			wantText:     "razão social;saúde\n",
		},
		{
			name:         "utf-8 with BOM stripped",
			input:        append([]byte{0xEF, 0xBB, 0xBF}, []byte("registro;valor")...),
			wantEncoding: UTF8,
			wantText:     "registro;valor",
		},
		{
			// "razão" in Latin-1: ã = 0xE3
			name:         "latin-1 fallback",
			input:        []byte{'r', 'a', 'z', 0xE3, 'o'},
			wantEncoding: Latin1,
			wantText:     "razão",
		},
		{
			// ç=0xE7 ã=0xE3 í=0xED in Latin-1
			name:         "latin-1 multiple accents",
			input:        []byte{'a', 0xE7, 0xE3, 'o', ' ', 'm', 0xED, 'n'},
			wantEncoding: Latin1,
			wantText:     "ação mín",
		},
		{
			name:         "empty file",
			input:        []byte{},
			wantEncoding: UTF8,
			wantText:     "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader, enc, err := Normalize(bytes.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Normalize() error = %v", err)
			}
			if enc != tt.wantEncoding {
				t.Errorf("encoding = %q, want %q", enc, tt.wantEncoding)
			}

			got, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if string(got) != tt.wantText {
				t.Errorf("text = %q, want %q", string(got), tt.wantText)
			}
		})
	}
}

func TestNormalize_LargeFileSplitSequences(t *testing.T) {
	// Build a file larger than the probe buffer whose multi-byte runes land
	// on every possible buffer boundary offset.
	var b strings.Builder
	for b.Len() < probeBufSize*3 {
		b.WriteString("operadora de saúde ção ")
	}
	input := []byte(b.String())

	reader, enc, err := Normalize(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if enc != UTF8 {
		t.Fatalf("encoding = %q, want %q", enc, UTF8)
	}

	got, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, input) {
		t.Error("large UTF-8 file was altered by normalization")
	}
}

func TestNormalize_TruncatedRuneFallsBack(t *testing.T) {
	// A file ending mid-rune is not valid UTF-8; it must take the Latin-1 path.
	input := []byte("despesa")
	input = append(input, 0xC3) // first byte of a 2-byte sequence, no continuation

	_, enc, err := Normalize(bytes.NewReader(input))
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	if enc != Latin1 {
		t.Errorf("encoding = %q, want %q", enc, Latin1)
	}
}

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{
			name:     "file with BOM",
			input:    append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello,world")...),
			expected: "hello,world",
		},
		{
			name:     "file without BOM",
			input:    []byte("hello,world"),
			expected: "hello,world",
		},
		{
			name:     "empty file",
			input:    []byte{},
			expected: "",
		},
		{
			name:     "only BOM",
			input:    []byte{0xEF, 0xBB, 0xBF},
			expected: "",
		},
		{
			name:     "partial BOM at start",
			input:    []byte{0xEF, 0xBB, 'a', 'b', 'c'},
			expected: string([]byte{0xEF, 0xBB, 'a', 'b', 'c'}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := NewBOMSkippingReader(bytes.NewReader(tt.input))
			result, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(result) != tt.expected {
				t.Errorf("got %q, want %q", string(result), tt.expected)
			}
		})
	}
}
