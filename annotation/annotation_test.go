package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/docworker/core"
)

// mapResolver resolves references from an in-memory object table.
type mapResolver map[int]core.Object

func (m mapResolver) Resolve(obj core.Object) (core.Object, error) {
	ref, ok := obj.(core.IndirectRef)
	if !ok {
		return obj, nil
	}
	if v, ok := m[ref.Number]; ok {
		return v, nil
	}
	return core.Null{}, nil
}

// counter allocates references from a starting number.
type counter struct{ next int }

func (c *counter) NewTemporaryRef() core.IndirectRef {
	ref := core.IndirectRef{Number: c.next}
	c.next++
	return ref
}

func fixedClock(t *testing.T) {
	t.Helper()
	old := now
	now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { now = old })
}

func changeText(t *testing.T, c *core.ChangeSet, ref core.IndirectRef) string {
	t.Helper()
	ch, ok := c.Get(ref)
	if !ok {
		t.Fatalf("no change recorded for %s", ref)
	}
	return string(ch.Data)
}

// TestParse tests descriptions of common annotation kinds.
func TestParse(t *testing.T) {
	r := mapResolver{
		20: core.Dict{"T": core.String("person"), "FT": core.Name("Tx")},
		21: &core.Stream{Dict: core.Dict{}, Data: []byte("q Q")},
	}
	tests := []struct {
		name  string
		dict  core.Dict
		check func(t *testing.T, d *Data)
	}{
		{
			name: "link uri",
			dict: core.Dict{
				"Subtype": core.Name("Link"),
				"Rect":    core.Array{core.Int(100), core.Int(50), core.Int(10), core.Int(20)},
				"A":       core.Dict{"S": core.Name("URI"), "URI": core.String("https://example.com")},
				"F":       core.Int(FlagPrint),
			},
			check: func(t *testing.T, d *Data) {
				if d.AnnotationType != TypeLink || d.URL != "https://example.com" {
					t.Errorf("link = %+v", d)
				}
				if d.Rect[0] != 10 || d.Rect[1] != 20 || d.Rect[2] != 100 || d.Rect[3] != 50 {
					t.Errorf("rect = %v", d.Rect)
				}
				if d.NoPrint || d.NoView {
					t.Error("printable link should be visible")
				}
			},
		},
		{
			name: "link goto",
			dict: core.Dict{
				"Subtype": core.Name("Link"),
				"Dest":    core.Array{core.IndirectRef{Number: 3}, core.Name("XYZ"), core.Int(0), core.Real(792.5), core.Null{}},
			},
			check: func(t *testing.T, d *Data) {
				dest, ok := d.Dest.([]any)
				if !ok || len(dest) != 5 {
					t.Fatalf("dest = %#v", d.Dest)
				}
				data, _ := json.Marshal(dest)
				if string(data) != `[{"gen":0,"num":3},{"name":"XYZ"},0,792.5,null]` {
					t.Errorf("dest json = %s", data)
				}
			},
		},
		{
			name: "widget inherits",
			dict: core.Dict{
				"Subtype": core.Name("Widget"),
				"Parent":  core.IndirectRef{Number: 20},
				"T":       core.String("name"),
				"V":       core.String("Ada"),
				"Ff":      core.Int(1),
				"AP":      core.Dict{"N": core.IndirectRef{Number: 21}},
				"C":       core.Array{core.Real(1), core.Int(0), core.Int(0)},
			},
			check: func(t *testing.T, d *Data) {
				if d.FieldName != "person.name" || d.FieldType != "Tx" || d.FieldValue != "Ada" {
					t.Errorf("widget = %+v", d)
				}
				if !d.ReadOnly || !d.HasAppearance {
					t.Error("expected read-only widget with appearance")
				}
				if len(d.Color) != 3 || d.Color[0] != 255 || d.Color[1] != 0 {
					t.Errorf("color = %v", d.Color)
				}
			},
		},
		{
			name: "ink",
			dict: core.Dict{
				"Subtype": core.Name("Ink"),
				"InkList": core.Array{core.Array{core.Int(1), core.Int(2), core.Int(3), core.Int(4)}},
				"C":       core.Array{core.Real(0.5)},
			},
			check: func(t *testing.T, d *Data) {
				if len(d.InkLists) != 1 || len(d.InkLists[0]) != 4 {
					t.Errorf("ink = %v", d.InkLists)
				}
				if d.Color[0] != 128 || d.Color[2] != 128 {
					t.Errorf("gray color = %v", d.Color)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Parse(r, &core.IndirectRef{Number: 9}, tt.dict)
			if err != nil {
				t.Fatalf("Parse failed: %v", err)
			}
			if d.ID != "9R" {
				t.Errorf("id = %q", d.ID)
			}
			tt.check(t, d)
		})
	}

	if _, err := Parse(r, nil, core.Dict{}); err == nil {
		t.Error("expected error without /Subtype")
	}
}

// TestCollectIntent tests visibility filtering by intent.
func TestCollectIntent(t *testing.T) {
	r := mapResolver{
		1: core.Dict{"Subtype": core.Name("Text"), "F": core.Int(FlagPrint)},
		2: core.Dict{"Subtype": core.Name("Text"), "F": core.Int(FlagHidden)},
		3: core.Dict{"Subtype": core.Name("Text")},
		4: core.Int(5),
	}
	annots := core.Array{
		core.IndirectRef{Number: 1}, core.IndirectRef{Number: 2},
		core.IndirectRef{Number: 3}, core.IndirectRef{Number: 4},
	}
	tests := []struct {
		intent string
		want   []string
	}{
		{"display", []string{"1R", "3R"}},
		{"print", []string{"1R"}},
		{"any", []string{"1R", "2R", "3R"}},
	}
	for _, tt := range tests {
		got := Collect(r, annots, tt.intent)
		var ids []string
		for _, d := range got {
			ids = append(ids, d.ID)
		}
		if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
			t.Errorf("Collect(%s) = %v, want %v", tt.intent, ids, tt.want)
		}
	}
}

// TestParseStorage tests splitting host storage into fields, XFA values and editors.
func TestParseStorage(t *testing.T) {
	raw := map[string]json.RawMessage{
		"12R":              json.RawMessage(`{"value":"hello"}`),
		EditorPrefix + "1": json.RawMessage(`{"annotationType":3,"pageIndex":1,"rect":[0,0,10,10],"value":"b"}`),
		EditorPrefix + "0": json.RawMessage(`{"annotationType":15,"pageIndex":0,"rect":[0,0,10,10],"paths":[[1,1,2,2]]}`),
		"not-a-ref":        json.RawMessage(`{"value":1}`),
		"form1.name":       json.RawMessage(`{"value":"Grace"}`),
		EditorPrefix + "2": json.RawMessage(`{"annotationType":3,"pageIndex":1,"deleted":true,"id":"40R"}`),
	}
	s, err := ParseStorage(raw)
	if err != nil {
		t.Fatalf("ParseStorage failed: %v", err)
	}
	if len(s.Fields) != 1 || s.Fields[core.IndirectRef{Number: 12}].Value != "hello" {
		t.Errorf("fields = %v", s.Fields)
	}
	if len(s.XFA) != 1 || s.XFA["form1.name"] != "Grace" {
		t.Errorf("xfa = %v", s.XFA)
	}
	if len(s.Editors) != 3 || s.Editors[0].AnnotationType != TypeInk {
		t.Fatalf("editors = %+v", s.Editors)
	}
	byPage := s.ByPage()
	if len(byPage[0]) != 1 || len(byPage[1]) != 2 {
		t.Errorf("by page = %v", byPage)
	}
	if ref, ok := s.Editors[2].ExistingRef(); !ok || ref.Number != 40 {
		t.Errorf("existing ref = %v, %v", ref, ok)
	}

	empty, err := ParseStorage(nil)
	if err != nil || !empty.Empty() || empty.ByPage() != nil {
		t.Error("nil storage should be empty")
	}

	_, err = ParseStorage(map[string]json.RawMessage{EditorPrefix + "x": json.RawMessage(`{"pageIndex":-1}`)})
	if err == nil {
		t.Error("expected error for negative page index")
	}
}

// TestWriteNew tests new annotations and deletions on one page.
func TestWriteNew(t *testing.T) {
	fixedClock(t)
	r := mapResolver{
		7: core.Array{core.IndirectRef{Number: 40}, core.IndirectRef{Number: 41}},
	}
	page := core.Dict{"Type": core.Name("Page"), "Annots": core.IndirectRef{Number: 7}}
	parent := 3
	editors := []*Editor{
		{AnnotationType: TypeFreeText, Rect: []float64{10, 10, 110, 40}, Value: "Hi\nthere", FontSize: 12, Color: []int{255, 0, 0}, ParentTreeID: &parent},
		{AnnotationType: TypeFreeText, ID: "40R", Deleted: true},
		{AnnotationType: TypeInk, Rect: []float64{0, 0, 50, 50}, Thickness: 2, Paths: [][]float64{{1, 1, 10, 10, 20, 5}}},
	}
	changes := core.NewChangeSet()
	alloc := &counter{next: 100}
	pageRef := core.IndirectRef{Number: 5}
	if err := WriteNew(r, alloc, nil, pageRef, page, editors, changes); err != nil {
		t.Fatalf("WriteNew failed: %v", err)
	}

	// free text: appearance 100, annotation 101; ink: appearance 102, annotation 103
	if editors[0].Ref == nil || editors[0].Ref.Number != 101 || editors[2].Ref.Number != 103 {
		t.Fatalf("refs = %v, %v", editors[0].Ref, editors[2].Ref)
	}
	if changes.Len() != 5 {
		t.Errorf("got %d changes, want 5", changes.Len())
	}

	pageText := changeText(t, changes, pageRef)
	if !strings.Contains(pageText, "/Annots [41 0 R 101 0 R 103 0 R]") {
		t.Errorf("page = %s", pageText)
	}

	ft := changeText(t, changes, core.IndirectRef{Number: 101})
	for _, want := range []string{"/Subtype /FreeText", "/Contents (Hi\\nthere)", "/StructParent 3", "/P 5 0 R", "/AP <</N 100 0 R>>", "/DA (/Helv 12 Tf 1 0 0 rg)", "/M (D:20240501120000Z)"} {
		if !strings.Contains(ft, want) {
			t.Errorf("free text missing %q:\n%s", want, ft)
		}
	}
	ink := changeText(t, changes, core.IndirectRef{Number: 103})
	if !strings.Contains(ink, "/InkList [[1 1 10 10 20 5]]") || !strings.Contains(ink, "/BS <</W 2>>") {
		t.Errorf("ink = %s", ink)
	}

	bad := []*Editor{{AnnotationType: TypeHighlight, Rect: []float64{0, 0, 1, 1}, QuadPoints: []float64{1, 2, 3}}}
	if err := WriteNew(r, alloc, nil, pageRef, page, bad, core.NewChangeSet()); err == nil {
		t.Error("expected error for malformed quad points")
	}
}

// TestStampImage tests splitting RGBA pixels into image and soft mask.
func TestStampImage(t *testing.T) {
	opaque := &Bitmap{Width: 1, Height: 2, Data: []byte{1, 2, 3, 255, 4, 5, 6, 255}}
	img, mask, err := stampImage(opaque)
	if err != nil {
		t.Fatalf("stampImage failed: %v", err)
	}
	if mask != nil {
		t.Error("opaque bitmap should have no mask")
	}
	data, err := img.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3, 4, 5, 6}) {
		t.Errorf("rgb = %v", data)
	}

	translucent := &Bitmap{Width: 1, Height: 1, Data: []byte{9, 9, 9, 128}}
	_, mask, err = stampImage(translucent)
	if err != nil || mask == nil {
		t.Fatalf("expected mask, err %v", err)
	}
	if _, _, err := stampImage(&Bitmap{Width: 2, Height: 2, Data: []byte{1}}); err == nil {
		t.Error("expected error for short bitmap")
	}

	e := &Editor{AnnotationType: TypeStamp, Rect: []float64{0, 0, 20, 40}, Bitmap: translucent}
	changes := core.NewChangeSet()
	if err := e.Write(&counter{next: 10}, nil, nil, changes); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// image 10, mask 11, appearance 12, annotation 13
	if changes.Len() != 4 || e.Ref.Number != 13 {
		t.Errorf("changes = %d, ref = %v", changes.Len(), e.Ref)
	}
	if img := changeText(t, changes, core.IndirectRef{Number: 10}); !strings.Contains(img, "/SMask 11 0 R") {
		t.Errorf("image = %s", img)
	}
}

// TestSaveFields tests rewriting changed widget values only.
func TestSaveFields(t *testing.T) {
	fixedClock(t)
	r := mapResolver{
		1: core.Dict{"Subtype": core.Name("Widget"), "FT": core.Name("Tx"), "V": core.String("old"), "AP": core.Dict{}},
		2: core.Dict{"Subtype": core.Name("Widget"), "FT": core.Name("Tx"), "V": core.String("same")},
		3: core.Dict{
			"Subtype": core.Name("Widget"), "FT": core.Name("Btn"), "AS": core.Name("Off"),
			"AP": core.Dict{"N": core.Dict{"Off": core.Null{}, "Checked": core.Null{}}},
		},
		4: core.Dict{"Subtype": core.Name("Text")},
	}
	annots := core.Array{
		core.IndirectRef{Number: 1}, core.IndirectRef{Number: 2},
		core.IndirectRef{Number: 3}, core.IndirectRef{Number: 4},
	}
	fields := map[core.IndirectRef]FieldValue{
		{Number: 1}: {Value: "new"},
		{Number: 2}: {Value: "same"},
		{Number: 3}: {Value: true},
		{Number: 4}: {Value: "ignored"},
	}
	changes := core.NewChangeSet()
	if err := SaveFields(r, nil, annots, fields, changes, nil); err != nil {
		t.Fatalf("SaveFields failed: %v", err)
	}
	if changes.Len() != 2 {
		t.Fatalf("got %d changes, want 2: %v", changes.Len(), changes.Refs())
	}
	text := changeText(t, changes, core.IndirectRef{Number: 1})
	if !strings.Contains(text, "/V (new)") || strings.Contains(text, "/AP") {
		t.Errorf("text field = %s", text)
	}
	btn := changeText(t, changes, core.IndirectRef{Number: 3})
	if !strings.Contains(btn, "/AS /Checked") || !strings.Contains(btn, "/V /Checked") {
		t.Errorf("button = %s", btn)
	}
	if !changes.NeedAppearances() {
		t.Error("text change should need appearances")
	}
	if err := SaveFields(r, nil, annots, nil, changes, nil); err != nil {
		t.Errorf("empty fields: %v", err)
	}

	stop := errors.New("stopped")
	stopped := core.NewChangeSet()
	if err := SaveFields(r, nil, annots, fields, stopped, func() error { return stop }); !errors.Is(err, stop) {
		t.Errorf("SaveFields with failing check = %v, want %v", err, stop)
	}
	if stopped.Len() != 0 {
		t.Errorf("stopped save wrote %d changes", stopped.Len())
	}
}
