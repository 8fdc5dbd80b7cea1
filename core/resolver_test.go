package core

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func openTestXRef(t *testing.T, data []byte) *XRef {
	t.Helper()
	x := NewXRef(bytes.NewReader(data), int64(len(data)))
	start, err := NewXRefParser(bytes.NewReader(data), int64(len(data))).FindXRef()
	if err != nil {
		t.Fatalf("FindXRef failed: %v", err)
	}
	if err := x.Parse(start, false); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return x
}

// TestXRefFetch tests fetching objects through a classic table
func TestXRefFetch(t *testing.T) {
	data, _ := simpleDoc().build()
	x := openTestXRef(t, data)

	obj, err := x.Fetch(IndirectRef{Number: 1})
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	catalog, ok := obj.(Dict)
	if !ok || !catalog.IsType("Catalog") {
		t.Fatalf("expected catalog, got %v", obj)
	}

	obj, err = x.Fetch(IndirectRef{Number: 4})
	if err != nil {
		t.Fatalf("Fetch stream failed: %v", err)
	}
	stream, ok := obj.(*Stream)
	if !ok {
		t.Fatalf("expected stream, got %T", obj)
	}
	if !strings.HasPrefix(string(stream.Data), "BT /F1") {
		t.Errorf("unexpected stream data %q", stream.Data)
	}

	again, _ := x.Fetch(IndirectRef{Number: 4})
	if again != obj {
		t.Error("expected cached object on second fetch")
	}
}

// TestXRefFetchMissing tests that free, unknown and stale references are null
func TestXRefFetchMissing(t *testing.T) {
	data, _ := simpleDoc().build()
	x := openTestXRef(t, data)

	tests := []struct {
		name string
		ref  IndirectRef
	}{
		{"free entry", IndirectRef{Number: 0, Generation: 65535}},
		{"unknown", IndirectRef{Number: 99}},
		{"generation mismatch", IndirectRef{Number: 1, Generation: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := x.Fetch(tt.ref)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if _, ok := obj.(Null); !ok {
				t.Errorf("expected null, got %v", obj)
			}
		})
	}
}

// TestXRefFetchWrongObject tests that an entry pointing at another object
// reports XRefEntryError
func TestXRefFetchWrongObject(t *testing.T) {
	data, offsets := simpleDoc().build()
	x := openTestXRef(t, data)
	x.entries[3] = XRefEntry{Type: XRefEntryUncompressed, Offset: offsets[2], InUse: true}

	_, err := x.Fetch(IndirectRef{Number: 3})
	var ee *XRefEntryError
	if !errors.As(err, &ee) {
		t.Fatalf("expected XRefEntryError, got %v", err)
	}
	if ee.Ref.Number != 3 {
		t.Errorf("error names object %d", ee.Ref.Number)
	}
}

// TestXRefBadStreamLength tests that stream data is recovered when /Length
// is wrong
func TestXRefBadStreamLength(t *testing.T) {
	for _, length := range []string{"10", "5000", "7 0 R"} {
		t.Run(length, func(t *testing.T) {
			doc := simpleDoc()
			doc.objects[4] = "<< /Length " + length + " >>\nstream\nBT /F1 24 Tf 100 700 Td (Hello World) Tj ET\nendstream"
			data, _ := doc.build()
			x := openTestXRef(t, data)

			obj, err := x.Fetch(IndirectRef{Number: 4})
			if err != nil {
				t.Fatalf("Fetch failed: %v", err)
			}
			stream := obj.(*Stream)
			if string(stream.Data) != "BT /F1 24 Tf 100 700 Td (Hello World) Tj ET" {
				t.Errorf("recovered data %q", stream.Data)
			}
			if n, _ := stream.Dict.GetInt("Length"); n != 43 {
				t.Errorf("Length = %d, want 43", n)
			}
		})
	}
}

// buildObjStmDoc writes a document whose objects 6 and 7 live in object
// stream 5 and whose xref is a stream.
func buildObjStmDoc() []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	off1 := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /Catalog /Extra 6 0 R >>\nendobj\n")

	content := "6 0 7 11 << /A 1 >> (hello)"
	off5 := buf.Len()
	fmt.Fprintf(&buf, "5 0 obj\n<< /Type /ObjStm /N 2 /First 9 /Length %d >>\nstream\n%s\nendstream\nendobj\n", len(content), content)

	off8 := buf.Len()
	row := func(typ byte, f1 int, f2 byte) []byte {
		return []byte{typ, byte(f1 >> 8), byte(f1), f2}
	}
	var rows []byte
	rows = append(rows, row(0, 0, 0xFF)...)
	rows = append(rows, row(1, off1, 0)...)
	rows = append(rows, row(0, 0, 0)...)
	rows = append(rows, row(0, 0, 0)...)
	rows = append(rows, row(0, 0, 0)...)
	rows = append(rows, row(1, off5, 0)...)
	rows = append(rows, row(2, 5, 0)...)
	rows = append(rows, row(2, 5, 1)...)
	rows = append(rows, row(1, off8, 0)...)
	compressed := zlibBytes(rows)
	fmt.Fprintf(&buf, "8 0 obj\n<< /Type /XRef /Size 9 /W [1 2 1] /Root 1 0 R /Filter /FlateDecode /Length %d >>\nstream\n", len(compressed))
	buf.Write(compressed)
	fmt.Fprintf(&buf, "\nendstream\nendobj\nstartxref\n%d\n%%%%EOF\n", off8)
	return buf.Bytes()
}

// TestXRefCompressedObjects tests fetching objects stored in object streams
func TestXRefCompressedObjects(t *testing.T) {
	data := buildObjStmDoc()
	x := openTestXRef(t, data)

	if !x.TopIsStream() {
		t.Error("expected xref stream document")
	}
	obj, err := x.Fetch(IndirectRef{Number: 6})
	if err != nil {
		t.Fatalf("Fetch 6 failed: %v", err)
	}
	if d, ok := obj.(Dict); !ok || d.Get("A") != Int(1) {
		t.Errorf("object 6 = %v", obj)
	}
	obj, err = x.Fetch(IndirectRef{Number: 7})
	if err != nil {
		t.Fatalf("Fetch 7 failed: %v", err)
	}
	if obj != String("hello") {
		t.Errorf("object 7 = %v", obj)
	}
}

// TestXRefRecovery tests rebuilding the table when startxref is wrong
func TestXRefRecovery(t *testing.T) {
	data, offsets := simpleDoc().build()
	x := NewXRef(bytes.NewReader(data), int64(len(data)))

	err := x.Parse(12, false)
	if !IsXRefParseError(err) {
		t.Fatalf("expected XRefParseError, got %v", err)
	}

	if err := x.Parse(0, true); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if ref, ok := x.Trailer().GetIndirectRef("Root"); !ok || ref.Number != 1 {
		t.Errorf("recovered trailer %v", x.Trailer())
	}
	entry, ok := x.Entry(3)
	if !ok || entry.Offset != offsets[3] {
		t.Errorf("entry 3 = %+v, want offset %d", entry, offsets[3])
	}
	obj, err := x.Fetch(IndirectRef{Number: 3})
	if err != nil {
		t.Fatalf("Fetch after recovery failed: %v", err)
	}
	if !obj.(Dict).IsType("Page") {
		t.Errorf("object 3 = %v", obj)
	}
}

// TestXRefRecoveryWithoutTrailer tests locating the catalog when no trailer
// survives
func TestXRefRecoveryWithoutTrailer(t *testing.T) {
	data, _ := simpleDoc().build()
	data = bytes.Replace(data, []byte("trailer"), []byte("garbage"), 1)
	x := NewXRef(bytes.NewReader(data), int64(len(data)))

	if err := x.Parse(0, true); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if ref, ok := x.Trailer().GetIndirectRef("Root"); !ok || ref.Number != 1 {
		t.Errorf("expected catalog 1 0 R as root, got %v", x.Trailer().Get("Root"))
	}
}

// TestXRefRecoveryObjectStreams tests that recovery registers objects held
// in object streams
func TestXRefRecoveryObjectStreams(t *testing.T) {
	data := buildObjStmDoc()
	x := NewXRef(bytes.NewReader(data), int64(len(data)))
	if err := x.Parse(0, true); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	entry, ok := x.Entry(7)
	if !ok || entry.Type != XRefEntryCompressed || entry.Offset != 5 || entry.Generation != 1 {
		t.Fatalf("entry 7 = %+v", entry)
	}
	obj, err := x.Fetch(IndirectRef{Number: 7})
	if err != nil || obj != String("hello") {
		t.Errorf("Fetch 7 = %v, %v", obj, err)
	}
}

// TestXRefRecoveryNothing tests that recovery of garbage fails
func TestXRefRecoveryNothing(t *testing.T) {
	data := []byte("%PDF-1.4\nnothing to see here\n")
	x := NewXRef(bytes.NewReader(data), int64(len(data)))
	if err := x.Parse(0, true); !errors.Is(err, ErrInvalidPDF) {
		t.Errorf("expected ErrInvalidPDF, got %v", err)
	}
}

// TestXRefTemporaryRefs tests allocation of references for new objects
func TestXRefTemporaryRefs(t *testing.T) {
	data, _ := simpleDoc().build()
	x := openTestXRef(t, data)

	if x.Size() != 5 {
		t.Fatalf("Size() = %d, want 5", x.Size())
	}
	first := x.NewTemporaryRef()
	second := x.NewTemporaryRef()
	if first.Number != 5 || second.Number != 6 {
		t.Errorf("got %v and %v, want 5 and 6", first, second)
	}
	x.ResetTemporaryRefs()
	if again := x.NewTemporaryRef(); again.Number != 5 {
		t.Errorf("after reset got %v, want 5", again)
	}
}

type prefixDecrypter struct{}

func (prefixDecrypter) DecryptString(ref IndirectRef, data []byte) ([]byte, error) {
	return append([]byte("dec:"), data...), nil
}

func (prefixDecrypter) DecryptStream(ref IndirectRef, dict Dict, data []byte) ([]byte, error) {
	return bytes.ToUpper(data), nil
}

// TestXRefDecrypter tests that fetched objects are decrypted, except the
// /Encrypt dictionary itself
func TestXRefDecrypter(t *testing.T) {
	doc := simpleDoc()
	doc.objects[1] = "<< /Type /Catalog /Pages 2 0 R /Lang (en) >>"
	doc.objects[5] = "<< /Filter /Standard /O (owner) >>"
	doc.trailer = "<< /Size 6 /Root 1 0 R /Encrypt 5 0 R >>"
	data, _ := doc.build()
	x := openTestXRef(t, data)

	if _, err := x.Fetch(IndirectRef{Number: 1}); err != nil {
		t.Fatal(err)
	}
	x.SetDecrypter(prefixDecrypter{})

	obj, _ := x.Fetch(IndirectRef{Number: 1})
	if lang, _ := obj.(Dict).GetString("Lang"); lang != "dec:en" {
		t.Errorf("Lang = %q, want decrypted", lang)
	}
	obj, _ = x.Fetch(IndirectRef{Number: 4})
	if !bytes.HasPrefix(obj.(*Stream).Data, []byte("BT /F1")) {
		t.Errorf("stream data %q", obj.(*Stream).Data)
	}
	obj, _ = x.Fetch(IndirectRef{Number: 5})
	if o, _ := obj.(Dict).GetString("O"); o != "owner" {
		t.Errorf("encrypt dictionary was decrypted: %q", o)
	}
}

// TestWalkNameTree tests name tree traversal across kids
func TestWalkNameTree(t *testing.T) {
	doc := simpleDoc()
	doc.objects[5] = "<< /Kids [6 0 R 7 0 R] >>"
	doc.objects[6] = "<< /Names [(a) 1 (b) 2] /Limits [(a) (b)] >>"
	doc.objects[7] = "<< /Names [(c) 3] >>"
	data, _ := doc.build()
	x := openTestXRef(t, data)

	var keys []string
	err := WalkNameTree(x, IndirectRef{Number: 5}, func(key string, value Object) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("WalkNameTree failed: %v", err)
	}
	if strings.Join(keys, ",") != "a,b,c" {
		t.Errorf("keys = %v", keys)
	}

	v, err := NameTreeLookup(x, IndirectRef{Number: 5}, "c")
	if err != nil || v != Int(3) {
		t.Errorf("lookup c = %v, %v", v, err)
	}
	v, _ = NameTreeLookup(x, IndirectRef{Number: 5}, "zzz")
	if v != nil {
		t.Errorf("lookup of missing key = %v", v)
	}
}

// TestWalkNumberTreeCycle tests that a self-referencing tree fails cleanly
func TestWalkNumberTreeCycle(t *testing.T) {
	doc := simpleDoc()
	doc.objects[5] = "<< /Nums [0 (x)] /Kids [5 0 R] >>"
	data, _ := doc.build()
	x := openTestXRef(t, data)

	err := WalkNumberTree(x, IndirectRef{Number: 5}, func(int, Object) error { return nil })
	if err == nil {
		t.Error("expected an error for a cyclic number tree")
	}
}
