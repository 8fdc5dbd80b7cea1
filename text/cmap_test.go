package text

import (
	"testing"

	"github.com/tsawler/docworker/core"
)

const sampleCMap = `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def
/CMapName /Adobe-Identity-UCS def
/CMapType 2 def
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
3 beginbfchar
<0003> <0020>
<0011> <0041>
<0024> <D835DC00>
endbfchar
2 beginbfrange
<0044> <0046> <0061>
<0050> <0052> [<0066006C> <0078> <00E9>]
endbfrange
endcmap
CMapName currentdict /CMap defineresource pop
end
end`

// TestParseCMap tests bfchar, bfrange and codespace parsing.
func TestParseCMap(t *testing.T) {
	cm, err := ParseCMap([]byte(sampleCMap))
	if err != nil {
		t.Fatalf("ParseCMap failed: %v", err)
	}
	if !cm.HasCodespace() {
		t.Fatal("expected codespace ranges")
	}

	tests := []struct {
		code uint32
		want string
		ok   bool
	}{
		{0x03, " ", true},
		{0x11, "A", true},
		{0x24, "\U0001D400", true}, // surrogate pair
		{0x44, "a", true},
		{0x46, "c", true},
		{0x50, "fl", true},
		{0x52, "é", true},
		{0x47, "", false},
		{0x99, "", false},
	}
	for _, tt := range tests {
		got, ok := cm.Lookup(tt.code)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Lookup(%#x) = %q, %v; want %q, %v", tt.code, got, ok, tt.want, tt.ok)
		}
	}
}

// TestCMapNextCode tests code splitting by codespace length.
func TestCMapNextCode(t *testing.T) {
	cm, err := ParseCMap([]byte("2 begincodespacerange <00> <80> <8140> <9FFC> endcodespacerange"))
	if err != nil {
		t.Fatalf("ParseCMap failed: %v", err)
	}

	data := []byte{0x41, 0x81, 0x40, 0x42}
	var codes []uint32
	for len(data) > 0 {
		code, n := cm.NextCode(data, 1)
		codes = append(codes, code)
		data = data[n:]
	}
	want := []uint32{0x41, 0x8140, 0x42}
	if len(codes) != len(want) {
		t.Fatalf("got %d codes %x, want %x", len(codes), codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("code %d = %#x, want %#x", i, codes[i], want[i])
		}
	}
}

// TestParseCMapGarbage tests that mappings read before an error survive.
func TestParseCMapGarbage(t *testing.T) {
	cm, err := ParseCMap([]byte("1 beginbfchar <01> <0058> endbfchar <zz"))
	if err != nil {
		t.Fatalf("ParseCMap failed: %v", err)
	}
	if got, _ := cm.Lookup(1); got != "X" {
		t.Errorf("Lookup(1) = %q, want X", got)
	}

	if _, err := ParseCMapStream(nil); err == nil {
		t.Error("expected error for nil stream")
	}
	s := &core.Stream{Dict: core.Dict{}, Data: []byte("1 beginbfchar <02> /bullet endbfchar")}
	cm, err = ParseCMapStream(s)
	if err != nil {
		t.Fatalf("ParseCMapStream failed: %v", err)
	}
	if got, _ := cm.Lookup(2); got != "•" {
		t.Errorf("Lookup(2) = %q, want bullet", got)
	}
}
