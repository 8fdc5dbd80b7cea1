package contentstream

import (
	"reflect"
	"testing"

	"github.com/tsawler/docworker/core"
)

// TestParseOperands tests the operand types a content stream carries
func TestParseOperands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Operation
	}{
		{"no operands", "BT", Operation{Operator: "BT", Operands: []core.Object{}}},
		{"numbers", "1 -2 .5 -.25 +3 re", Operation{"re", []core.Object{core.Int(1), core.Int(-2), core.Real(.5), core.Real(-.25), core.Int(3)}}},
		{"font", "/F1 12 Tf", Operation{"Tf", []core.Object{core.Name("F1"), core.Int(12)}}},
		{"literal string", `(a \(b\) \\ \101\n) Tj`, Operation{"Tj", []core.Object{core.String("a (b) \\ A\n")}}},
		{"nested parens", "(a (b) c) Tj", Operation{"Tj", []core.Object{core.String("a (b) c")}}},
		{"line continuation", "(ab\\\ncd) Tj", Operation{"Tj", []core.Object{core.String("abcd")}}},
		{"hex string", "<48 65 6c6C 6> Tj", Operation{"Tj", []core.Object{core.String("Hell`")}}},
		{"name escapes", "/A#20B#2fC gs", Operation{"gs", []core.Object{core.Name("A B/C")}}},
		{"array", "[(A) -120 (B) [1]] TJ", Operation{"TJ", []core.Object{core.Array{core.String("A"), core.Int(-120), core.String("B"), core.Array{core.Int(1)}}}}},
		{"dict", "/Span << /ActualText (x) /MCID 0 >> BDC", Operation{"BDC", []core.Object{core.Name("Span"), core.Dict{"ActualText": core.String("x"), "MCID": core.Int(0)}}}},
		{"comment", "% setup\n0.5 g % gray\n", Operation{"g", []core.Object{core.Real(0.5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops, err := NewParser([]byte(tt.input)).Parse()
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if len(ops) != 1 {
				t.Fatalf("Parse() = %+v, want one operation", ops)
			}
			if !reflect.DeepEqual(ops[0], tt.want) {
				t.Errorf("Parse() = %#v, want %#v", ops[0], tt.want)
			}
		})
	}
}

// TestParseSequence tests a text object split into its operations
func TestParseSequence(t *testing.T) {
	input := "q 1 0 0 1 72 720 cm BT /F1 12 Tf 14.4 TL (Hello) Tj T* (World) ' ET Q"
	ops, err := NewParser([]byte(input)).Parse()
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	counts := map[string]int{}
	for _, op := range ops {
		names = append(names, op.Operator)
		counts[op.Operator] = len(op.Operands)
	}
	want := []string{"q", "cm", "BT", "Tf", "TL", "Tj", "T*", "'", "ET", "Q"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("operators = %v, want %v", names, want)
	}
	if counts["cm"] != 6 || counts["TL"] != 1 || counts["'"] != 1 {
		t.Errorf("operand counts = %v", counts)
	}
}

// TestParseEmpty tests inputs without operations
func TestParseEmpty(t *testing.T) {
	for _, in := range []string{"", " \r\n\t", "% only a comment", "1 2 3"} {
		ops, err := NewParser([]byte(in)).Parse()
		if err != nil || len(ops) != 0 {
			t.Errorf("Parse(%q) = %v, %v", in, ops, err)
		}
	}
}

// TestParseErrors tests malformed input that cannot be skipped
func TestParseErrors(t *testing.T) {
	tests := []string{
		"(unterminated Tj",
		"<48656C",
		"BI /W 1 /H 1",
		"BI /W 1 ID \x00\x01",
		"BI 1 /W ID x EI",
	}
	for _, in := range tests {
		if _, err := NewParser([]byte(in)).Parse(); err == nil {
			t.Errorf("Parse(%q) should fail", in)
		}
	}
}
