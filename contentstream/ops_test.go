package contentstream

import (
	"errors"
	"io"
	"reflect"
	"testing"

	"github.com/tsawler/docworker/core"
)

// TestParseInlineImageData tests that inline image data is captured
func TestParseInlineImageData(t *testing.T) {
	input := []byte("q BI /W 2 /H 1 /BPC 8 /CS /G /IM false ID \x00\xffEI\x01 EI Q")
	ops, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	var names []string
	for _, op := range ops {
		names = append(names, op.Operator)
	}
	if !reflect.DeepEqual(names, []string{"q", "BI", "Q"}) {
		t.Fatalf("operators = %v", names)
	}

	bi := ops[1]
	dict, ok := bi.Operands[0].(core.Dict)
	if !ok {
		t.Fatalf("expected dict operand, got %T", bi.Operands[0])
	}
	if dict.Get("W") != core.Int(2) || dict.Get("IM") != core.Bool(false) {
		t.Errorf("inline image dict = %v", dict)
	}
	if data := bi.Operands[1].(core.String); string(data) != "\x00\xffEI\x01" {
		t.Errorf("inline image data = %q", data)
	}
}

// TestParseOperatorsWithDigitsAndQuotes tests d0, d1, ' and "
func TestParseOperatorsWithDigitsAndQuotes(t *testing.T) {
	input := []byte(`500 0 d0 (a) ' 1 2 (b) " T*`)
	ops, err := NewParser(input).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	want := []struct {
		op       string
		operands int
	}{{"d0", 2}, {"'", 1}, {"\"", 3}, {"T*", 0}}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d", len(want), len(ops))
	}
	for i, w := range want {
		if ops[i].Operator != w.op || len(ops[i].Operands) != w.operands {
			t.Errorf("op %d = %s with %d operands, want %s with %d", i, ops[i].Operator, len(ops[i].Operands), w.op, w.operands)
		}
	}
}

// TestParseKeywordOperands tests that true, false and null are operands
func TestParseKeywordOperands(t *testing.T) {
	ops, err := NewParser([]byte("/OC true null [false] BDC")).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ops) != 1 || len(ops[0].Operands) != 4 {
		t.Fatalf("ops = %+v", ops)
	}
	if ops[0].Operands[1] != core.Bool(true) {
		t.Errorf("operand 1 = %v", ops[0].Operands[1])
	}
}

// TestParseStrayDelimiters tests that stray delimiters are skipped
func TestParseStrayDelimiters(t *testing.T) {
	ops, err := NewParser([]byte("1 ] 2 w } q")).Parse()
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(ops) != 2 || len(ops[0].Operands) != 1 || ops[0].Operands[0] != core.Int(2) {
		t.Errorf("ops = %+v", ops)
	}
}

// TestParserNext tests incremental parsing
func TestParserNext(t *testing.T) {
	parser := NewParser([]byte("q Q"))
	op, err := parser.Next()
	if err != nil || op.Operator != "q" {
		t.Fatalf("first Next = %v, %v", op, err)
	}
	op, err = parser.Next()
	if err != nil || op.Operator != "Q" {
		t.Fatalf("second Next = %v, %v", op, err)
	}
	if _, err := parser.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// TestTranslate tests operand validation and conversion
func TestTranslate(t *testing.T) {
	tests := []struct {
		name     string
		op       Operation
		wantCode OpCode
		wantArgs []any
		wantErr  bool
	}{
		{"fixed", Operation{"Tf", []core.Object{core.Name("F1"), core.Int(12)}}, OpSetFont, []any{"F1", int64(12)}, false},
		{"surplus dropped", Operation{"w", []core.Object{core.Int(1), core.Real(2.5)}}, OpSetLineWidth, []any{2.5}, false},
		{"too few", Operation{"cm", []core.Object{core.Int(1)}}, 0, nil, true},
		{"variable", Operation{"sc", []core.Object{core.Real(0.5)}}, OpSetFillColor, []any{0.5}, false},
		{"variable too many", Operation{"sc", []core.Object{core.Int(1), core.Int(1), core.Int(1), core.Int(1), core.Int(1)}}, 0, nil, true},
		{"unknown", Operation{"XX", nil}, 0, nil, true},
		{"binary string", Operation{"Tj", []core.Object{core.String("\xe9")}}, OpShowText, []any{"é"}, false},
		{"array", Operation{"TJ", []core.Object{core.Array{core.String("a"), core.Int(-120)}}}, OpShowSpacedText, []any{[]any{"a", int64(-120)}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, args, err := Translate(tt.op)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if code != tt.wantCode {
				t.Errorf("code = %v, want %v", code, tt.wantCode)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("args = %#v, want %#v", args, tt.wantArgs)
			}
		})
	}
}

// TestOpCodeString tests op code names
func TestOpCodeString(t *testing.T) {
	if OpSave.String() != "save" || OpBeginAnnotation.String() != "beginAnnotation" {
		t.Errorf("unexpected names %s %s", OpSave, OpBeginAnnotation)
	}
	if code, ok := Lookup("F"); !ok || code != OpFill {
		t.Errorf("Lookup(F) = %v, %v", code, ok)
	}
}

// TestListBuilderChunks tests chunk boundaries and the final chunk
func TestListBuilderChunks(t *testing.T) {
	var chunks []Chunk
	b := NewListBuilder(2, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	for i := 0; i < 5; i++ {
		if err := b.Add(OpSave, nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, want := range []int{2, 4, 5} {
		if chunks[i].Length != want {
			t.Errorf("chunk %d length = %d, want %d", i, chunks[i].Length, want)
		}
	}
	if chunks[1].LastChunk || !chunks[2].LastChunk {
		t.Error("only the final chunk should be marked last")
	}
}

// TestListBuilderEmptyAndError tests the empty list and emit failures
func TestListBuilderEmptyAndError(t *testing.T) {
	var got []Chunk
	b := NewListBuilder(0, func(c Chunk) error {
		got = append(got, c)
		return nil
	})
	if err := b.Close(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].LastChunk || got[0].FnArray == nil {
		t.Errorf("empty list chunks = %+v", got)
	}

	stop := errors.New("stop")
	b = NewListBuilder(1, func(Chunk) error { return stop })
	if err := b.Add(OpSave, nil); !errors.Is(err, stop) {
		t.Errorf("expected stop error, got %v", err)
	}
	if err := b.Add(OpRestore, nil); !errors.Is(err, stop) {
		t.Errorf("expected sticky error, got %v", err)
	}
}
