package core

import (
	"strings"
	"testing"
)

// TestLexerTokens tests tokenization of a mixed input
func TestLexerTokens(t *testing.T) {
	input := "<< /Type /Page /Count 3 /Ratio -1.5 >> [ (a\\(b) <4869> ] 12 0 R % note\ntrue"
	want := []struct {
		typ   TokenType
		value string
	}{
		{TokenDictStart, "<<"},
		{TokenName, "Type"},
		{TokenName, "Page"},
		{TokenName, "Count"},
		{TokenInteger, "3"},
		{TokenName, "Ratio"},
		{TokenReal, "-1.5"},
		{TokenDictEnd, ">>"},
		{TokenArrayStart, "["},
		{TokenString, "a(b"},
		{TokenHexString, "Hi"},
		{TokenArrayEnd, "]"},
		{TokenInteger, "12"},
		{TokenInteger, "0"},
		{TokenIndirectRef, "R"},
		{TokenComment, "% note"},
		{TokenKeyword, "true"},
		{TokenEOF, ""},
	}

	lexer := NewLexer(strings.NewReader(input))
	for i, w := range want {
		tok, err := lexer.NextToken()
		if err != nil {
			t.Fatalf("token %d: unexpected error: %v", i, err)
		}
		if tok.Type != w.typ {
			t.Fatalf("token %d: expected type %v, got %v", i, w.typ, tok.Type)
		}
		if w.typ != TokenEOF && string(tok.Value) != w.value {
			t.Errorf("token %d: expected %q, got %q", i, w.value, tok.Value)
		}
	}
}

// TestLexerAbsolutePositions tests that NewLexerAt reports file offsets
func TestLexerAbsolutePositions(t *testing.T) {
	lexer := NewLexerAt(strings.NewReader("  xref 0 1"), 1000)

	tok, err := lexer.NextToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tok.Pos != 1002 {
		t.Errorf("expected position 1002, got %d", tok.Pos)
	}
	if lexer.Pos() != 1006 {
		t.Errorf("expected lexer position 1006, got %d", lexer.Pos())
	}
}

// TestSkipStreamEOL tests the EOL variants accepted after "stream"
func TestSkipStreamEOL(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"LF", "\nDATA"},
		{"CRLF", "\r\nDATA"},
		{"CR only", "\rDATA"},
		{"trailing spaces", "  \r\nDATA"},
		{"no EOL", "DATA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lexer := NewLexer(strings.NewReader(tt.input))
			if err := lexer.SkipStreamEOL(); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			data, err := lexer.ReadBytes(4)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if string(data) != "DATA" {
				t.Errorf("expected DATA, got %q", data)
			}
		})
	}
}

// TestLexerOctalAndNameEscapes tests escape handling in strings and names
func TestLexerOctalAndNameEscapes(t *testing.T) {
	lexer := NewLexer(strings.NewReader(`(\101\102C) /A#20B`))

	tok, err := lexer.NextToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tok.Value) != "ABC" {
		t.Errorf("expected ABC, got %q", tok.Value)
	}

	tok, err = lexer.NextToken()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(tok.Value) != "A B" {
		t.Errorf("expected \"A B\", got %q", tok.Value)
	}
}

// TestLexerUnexpectedCharacter tests that stray delimiters are syntax errors
func TestLexerUnexpectedCharacter(t *testing.T) {
	lexer := NewLexer(strings.NewReader(") x"))
	_, err := lexer.NextToken()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if _, ok := err.(*SyntaxError); !ok {
		t.Errorf("expected *SyntaxError, got %T", err)
	}
}

// TestReadBytesShort tests reading past the end of input
func TestReadBytesShort(t *testing.T) {
	lexer := NewLexer(strings.NewReader("abc"))
	data, err := lexer.ReadBytes(10)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if string(data) != "abc" {
		t.Errorf("expected partial data abc, got %q", data)
	}
	if tok, err := lexer.NextToken(); err != nil || tok.Type != TokenEOF {
		t.Errorf("expected EOF after short read, got %v, %v", tok, err)
	}
}

// TestClassifyWord tests how runs of regular characters are typed
func TestClassifyWord(t *testing.T) {
	tests := []struct {
		in    string
		typ   TokenType
		value string
	}{
		{"42", TokenInteger, "42"},
		{"+7", TokenInteger, "+7"},
		{"-.25", TokenReal, "-.25"},
		{"-", TokenInteger, "0"},
		{"1.2.3", TokenKeyword, "1.2.3"},
		{"R", TokenIndirectRef, "R"},
		{"endstream", TokenKeyword, "endstream"},
		{"T*", TokenKeyword, "T*"},
	}
	for _, tt := range tests {
		typ, value := classifyWord([]byte(tt.in))
		if typ != tt.typ || string(value) != tt.value {
			t.Errorf("classifyWord(%q) = %v %q, want %v %q", tt.in, typ, value, tt.typ, tt.value)
		}
	}
}

// TestCharClasses tests the byte classes shared with the xref and writer
func TestCharClasses(t *testing.T) {
	for c := 0; c < 256; c++ {
		b := byte(c)
		if got, want := isDigit(b), b >= '0' && b <= '9'; got != want {
			t.Errorf("isDigit(%q) = %v", b, got)
		}
		if got, want := isDelimiter(b), strings.IndexByte("()<>[]{}/%", b) >= 0; got != want {
			t.Errorf("isDelimiter(%q) = %v", b, got)
		}
		if isWhitespace(b) && (isDelimiter(b) || regular(b)) {
			t.Errorf("%q is in more than one class", b)
		}
	}
}

// TestLexerLenientName tests that a malformed # escape is kept literally
func TestLexerLenientName(t *testing.T) {
	tok, err := NewLexer(strings.NewReader("/A#zz#41")).NextToken()
	if err != nil {
		t.Fatal(err)
	}
	if string(tok.Value) != "A#zzA" {
		t.Errorf("got %q", tok.Value)
	}
}
