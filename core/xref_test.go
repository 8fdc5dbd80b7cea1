package core

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"
)

// TestXRefTable tests XRef table operations
func TestXRefTable(t *testing.T) {
	table := NewXRefTable()
	table.Set(5, &XRefEntry{Type: XRefEntryUncompressed, Offset: 1000, InUse: true})

	retrieved, ok := table.Get(5)
	if !ok {
		t.Fatal("expected to retrieve entry")
	}
	if retrieved.Offset != 1000 {
		t.Errorf("expected offset 1000, got %d", retrieved.Offset)
	}
	if table.Size() != 1 {
		t.Errorf("expected size 1, got %d", table.Size())
	}
	if _, ok := table.Get(999); ok {
		t.Error("expected Get to return false for non-existent entry")
	}
}

// TestXRefStreamDetection tests detection of XRef stream vs traditional table
func TestXRefStreamDetection(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		wantStream bool
		wantError  bool
	}{
		{"traditional xref", "xref\n0 6\n", false, false},
		{"xref stream", "5 0 obj\n<</Type /XRef>>", true, false},
		{"invalid format", "invalid content", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := strings.NewReader(tt.content)
			parser := NewXRefParser(reader, int64(len(tt.content)))

			isStream, err := parser.isXRefStream()
			if tt.wantError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if isStream != tt.wantStream {
				t.Errorf("isXRefStream() = %v, want %v", isStream, tt.wantStream)
			}
		})
	}
}

// TestReadBigEndianInt tests big-endian integer reading
func TestReadBigEndianInt(t *testing.T) {
	tests := []struct {
		name  string
		data  []byte
		width int
		want  int64
	}{
		{"1 byte", []byte{0x42}, 1, 0x42},
		{"2 bytes", []byte{0x01, 0x00}, 2, 256},
		{"3 bytes", []byte{0x01, 0x02, 0x03}, 3, 0x010203},
		{"4 bytes", []byte{0x00, 0x00, 0x10, 0x00}, 4, 4096},
		{"zero width", []byte{0xFF}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := readBigEndianInt(tt.data, tt.width); got != tt.want {
				t.Errorf("readBigEndianInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestParseXRefStreamEntry tests decoding of binary xref rows
func TestParseXRefStreamEntry(t *testing.T) {
	parser := NewXRefParser(strings.NewReader(""), 0)

	tests := []struct {
		name       string
		data       []byte
		w          []int
		wantType   XRefEntryType
		wantField1 int64
		wantField2 int
		wantBytes  int
		wantError  bool
	}{
		{"in-use entry", []byte{0x01, 0x10, 0x00, 0x00}, []int{1, 2, 1}, XRefEntryUncompressed, 4096, 0, 4, false},
		{"free entry", []byte{0x00, 0x00, 0x05, 0x03}, []int{1, 2, 1}, XRefEntryFree, 5, 3, 4, false},
		{"object stream entry", []byte{0x02, 0x00, 0x0A, 0x02}, []int{1, 2, 1}, XRefEntryCompressed, 10, 2, 4, false},
		{"default type", []byte{0x03, 0xE8, 0x00}, []int{0, 2, 1}, XRefEntryUncompressed, 1000, 0, 3, false},
		{"insufficient data", []byte{0x01}, []int{1, 2, 1}, 0, 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry, n, err := parser.parseXRefStreamEntry(tt.data, tt.w)
			if tt.wantError {
				if err == nil {
					t.Error("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if entry.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", entry.Type, tt.wantType)
			}
			if entry.Offset != tt.wantField1 {
				t.Errorf("Offset = %d, want %d", entry.Offset, tt.wantField1)
			}
			if entry.Generation != tt.wantField2 {
				t.Errorf("Generation = %d, want %d", entry.Generation, tt.wantField2)
			}
			if n != tt.wantBytes {
				t.Errorf("bytes read = %d, want %d", n, tt.wantBytes)
			}
		})
	}
}

// TestParseXRefTable tests a classic table with its trailer
func TestParseXRefTable(t *testing.T) {
	data, offsets := simpleDoc().build()
	parser := NewXRefParser(bytes.NewReader(data), int64(len(data)))

	start, err := parser.FindXRef()
	if err != nil {
		t.Fatalf("FindXRef failed: %v", err)
	}
	table, err := parser.ParseXRef(start)
	if err != nil {
		t.Fatalf("ParseXRef failed: %v", err)
	}
	if table.IsStream {
		t.Error("expected a classic table")
	}
	if table.Size() != 5 {
		t.Errorf("expected 5 entries, got %d", table.Size())
	}
	entry, _ := table.Get(3)
	if entry.Offset != offsets[3] || !entry.InUse {
		t.Errorf("entry 3 = %+v, want offset %d", entry, offsets[3])
	}
	if ref, ok := table.Trailer.GetIndirectRef("Root"); !ok || ref.Number != 1 {
		t.Errorf("unexpected /Root %v", table.Trailer.Get("Root"))
	}
}

// TestParseXRefTableCROnly tests tables written with CR line endings
func TestParseXRefTableCROnly(t *testing.T) {
	content := "xref\r0 2\r0000000000 65535 f\r0000000017 00000 n\rtrailer\r<< /Size 2 /Root 1 0 R >>\r"
	parser := NewXRefParser(strings.NewReader(content), int64(len(content)))
	table, err := parser.ParseXRef(0)
	if err != nil {
		t.Fatalf("ParseXRef failed: %v", err)
	}
	entry, ok := table.Get(1)
	if !ok || entry.Offset != 17 {
		t.Errorf("entry 1 = %+v", entry)
	}
}

// buildXRefStreamDoc writes object 1 and an xref stream describing it.
func buildXRefStreamDoc(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	obj1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	xrefPos := buf.Len()
	rows := []byte{
		0x00, 0x00, 0x00, 0xFF,
		0x01, byte(obj1 >> 8), byte(obj1), 0x00,
		0x01, byte(xrefPos >> 8), byte(xrefPos), 0x00,
	}
	compressed := zlibBytes(rows)
	fmt.Fprintf(&buf, "2 0 obj\n<< /Type /XRef /Size 3 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", len(compressed))
	buf.Write(compressed)
	buf.WriteString("\nendstream\nendobj\nstartxref\n" + strconv.Itoa(xrefPos) + "\n%%EOF\n")
	return buf.Bytes()
}

// TestParseXRefStream tests an xref stream section
func TestParseXRefStream(t *testing.T) {
	data := buildXRefStreamDoc(t)
	parser := NewXRefParser(bytes.NewReader(data), int64(len(data)))

	start, err := parser.FindXRef()
	if err != nil {
		t.Fatalf("FindXRef failed: %v", err)
	}
	table, err := parser.ParseXRef(start)
	if err != nil {
		t.Fatalf("ParseXRef failed: %v", err)
	}
	if !table.IsStream {
		t.Error("expected IsStream = true")
	}
	if table.Size() != 3 {
		t.Errorf("Size() = %d, want 3", table.Size())
	}
	entry0, _ := table.Get(0)
	if entry0.InUse {
		t.Error("entry 0 should be free")
	}
	entry1, _ := table.Get(1)
	if !entry1.InUse || entry1.Offset != int64(bytes.Index(data, []byte("1 0 obj"))) {
		t.Errorf("entry 1 = %+v", entry1)
	}
}

// TestParseXRefStreamWithIndex tests non-contiguous /Index subsections
func TestParseXRefStreamWithIndex(t *testing.T) {
	rows := []byte{
		0x01, 0x00, 0x10, 0x00,
		0x01, 0x00, 0x20, 0x00,
		0x02, 0x00, 0x0A, 0x03,
	}
	content := fmt.Sprintf("9 0 obj\n<< /Type /XRef /Size 21 /W [1 2 1] /Index [10 2 20 1] /Length %d >>\nstream\n", len(rows))
	data := append([]byte(content), rows...)
	data = append(data, []byte("\nendstream\nendobj\n")...)

	parser := NewXRefParser(bytes.NewReader(data), int64(len(data)))
	table, err := parser.parseXRefStream()
	if err != nil {
		t.Fatalf("parseXRefStream failed: %v", err)
	}
	if e, ok := table.Get(11); !ok || e.Offset != 0x20 {
		t.Errorf("entry 11 = %+v", e)
	}
	if e, ok := table.Get(20); !ok || e.Type != XRefEntryCompressed || e.Offset != 10 || e.Generation != 3 {
		t.Errorf("entry 20 = %+v", e)
	}
	if _, ok := table.Get(12); ok {
		t.Error("entry 12 should not exist")
	}
}

// TestParseAllXRefsPrevChain tests that /Prev sections are merged with
// newer entries taking precedence
func TestParseAllXRefsPrevChain(t *testing.T) {
	data, _ := simpleDoc().build()
	firstXRef := bytes.LastIndex(data, []byte("xref\n0 "))

	var buf bytes.Buffer
	buf.Write(data)
	newObj := buf.Len()
	buf.WriteString("4 0 obj\n<< /Length 2 >>\nstream\nhi\nendstream\nendobj\n")
	secondXRef := buf.Len()
	fmt.Fprintf(&buf, "xref\n4 1\n%010d 00000 n \ntrailer\n<< /Size 5 /Root 1 0 R /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", newObj, firstXRef, secondXRef)
	updated := buf.Bytes()

	parser := NewXRefParser(bytes.NewReader(updated), int64(len(updated)))
	tables, err := parser.ParseAllXRefs(int64(secondXRef))
	if err != nil {
		t.Fatalf("ParseAllXRefs failed: %v", err)
	}
	if len(tables) != 2 {
		t.Fatalf("expected 2 sections, got %d", len(tables))
	}
	merged := MergeXRefTables(tables...)
	entry, _ := merged.Get(4)
	if entry.Offset != int64(newObj) {
		t.Errorf("expected newest offset %d for object 4, got %d", newObj, entry.Offset)
	}
	if _, ok := merged.Get(3); !ok {
		t.Error("expected object 3 from the older section")
	}
}

// TestParseAllXRefsBadOffset tests that a broken startxref yields XRefParseError
func TestParseAllXRefsBadOffset(t *testing.T) {
	data, _ := simpleDoc().build()
	parser := NewXRefParser(bytes.NewReader(data), int64(len(data)))

	_, err := parser.ParseAllXRefs(20)
	if !IsXRefParseError(err) {
		t.Fatalf("expected XRefParseError, got %v", err)
	}
	var xe *XRefParseError
	errors.As(err, &xe)
	if xe.Offset != 20 {
		t.Errorf("expected offset 20, got %d", xe.Offset)
	}
}

// TestXRefHybridSupport tests tables whose trailer points at an /XRefStm
func TestXRefHybridSupport(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	obj1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog >>\nendobj\n")

	stmPos := buf.Len()
	rows := []byte{0x02, 0x00, 0x07, 0x00}
	fmt.Fprintf(&buf, "3 0 obj\n<< /Type /XRef /Size 3 /W [1 2 1] /Index [2 1] /Length %d >>\nstream\n", len(rows))
	buf.Write(rows)
	buf.WriteString("\nendstream\nendobj\n")

	xrefPos := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 3\n0000000000 65535 f \n%010d 00000 n \n0000000000 65535 f \ntrailer\n<< /Size 3 /Root 1 0 R /XRefStm %d >>\n", obj1, stmPos)
	data := buf.Bytes()

	parser := NewXRefParser(bytes.NewReader(data), int64(len(data)))
	tables, err := parser.ParseAllXRefs(int64(xrefPos))
	if err != nil {
		t.Fatalf("ParseAllXRefs failed: %v", err)
	}
	merged := MergeXRefTables(tables...)
	entry, ok := merged.Get(2)
	if !ok || entry.Type != XRefEntryCompressed || entry.Offset != 7 {
		t.Errorf("expected object 2 from the xref stream, got %+v", entry)
	}
	if merged.IsStream {
		t.Error("top section is a table")
	}
}
