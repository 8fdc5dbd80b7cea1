package text

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/tsawler/docworker/core"
)

func helvetica() core.Dict {
	return core.Dict{
		"Type":     core.Name("Font"),
		"Subtype":  core.Name("Type1"),
		"BaseFont": core.Name("Helvetica"),
	}
}

func collect(t *testing.T, e *Extractor, content string, res core.Dict) []Chunk {
	t.Helper()
	var chunks []Chunk
	err := e.Extract(context.Background(), []byte(content), res, func(c Chunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	return chunks
}

func allItems(chunks []Chunk) []Item {
	var items []Item
	for _, c := range chunks {
		items = append(items, c.Items...)
	}
	return items
}

// TestExtractSimple tests a single shown string with its geometry and style.
func TestExtractSimple(t *testing.T) {
	res := core.Dict{"Font": core.Dict{"F1": helvetica()}}
	e := NewExtractor(mapResolver{}, nil, Options{Lang: "en"})
	chunks := collect(t, e, "BT /F1 10 Tf 100 700 Td (Hello) Tj ET", res)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	items := chunks[0].Items
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	it := items[0]
	if it.Str != "Hello" || it.Dir != "ltr" {
		t.Errorf("item = %q/%s", it.Str, it.Dir)
	}
	if it.Transform != [6]float64{10, 0, 0, 10, 100, 700} {
		t.Errorf("transform = %v", it.Transform)
	}
	if math.Abs(it.Width-25) > 1e-9 || it.Height != 10 {
		t.Errorf("size = %vx%v, want 25x10", it.Width, it.Height)
	}
	style, ok := chunks[0].Styles[it.FontName]
	if !ok || style.FontFamily != "Helvetica" {
		t.Errorf("styles = %v", chunks[0].Styles)
	}
	if chunks[0].Lang != "en" {
		t.Errorf("lang = %q", chunks[0].Lang)
	}
}

// TestExtractLayout tests line ends, TJ word gaps and inserted spaces.
func TestExtractLayout(t *testing.T) {
	res := core.Dict{"Font": core.Dict{"F1": helvetica()}}
	tests := []struct {
		name    string
		content string
		want    []string
		eol     []bool
	}{
		{
			name:    "two lines",
			content: "BT /F1 10 Tf 100 700 Td (A) Tj 0 -20 Td (B) Tj ET",
			want:    []string{"A", "B"},
			eol:     []bool{true, false},
		},
		{
			name:    "TJ gap",
			content: "BT /F1 10 Tf [(Hello) -300 (World) -50 (!)] TJ ET",
			want:    []string{"Hello World!"},
			eol:     []bool{false},
		},
		{
			name:    "positioned words",
			content: "BT /F1 10 Tf 0 0 Td (ab) Tj 30 0 Td (cd) Tj ET",
			want:    []string{"ab", " ", "cd"},
			eol:     []bool{false, false, false},
		},
		{
			name:    "T* and quote",
			content: "BT /F1 10 Tf 12 TL 0 100 Td (x) Tj (y) ' ET",
			want:    []string{"x", "y"},
			eol:     []bool{true, false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := allItems(collect(t, NewExtractor(mapResolver{}, nil, Options{}), tt.content, res))
			if len(items) != len(tt.want) {
				t.Fatalf("got %d items %+v, want %d", len(items), items, len(tt.want))
			}
			for i := range tt.want {
				if items[i].Str != tt.want[i] {
					t.Errorf("item %d = %q, want %q", i, items[i].Str, tt.want[i])
				}
				if items[i].HasEOL != tt.eol[i] {
					t.Errorf("item %d hasEOL = %v, want %v", i, items[i].HasEOL, tt.eol[i])
				}
			}
		})
	}
}

// TestExtractChunking tests that items arrive in order split by ChunkSize.
func TestExtractChunking(t *testing.T) {
	res := core.Dict{"Font": core.Dict{"F1": helvetica()}}
	var b strings.Builder
	b.WriteString("BT /F1 10 Tf 0 700 Td ")
	for _, s := range []string{"a", "b", "c", "d", "e"} {
		b.WriteString("(" + s + ") Tj 0 -20 Td ")
	}
	b.WriteString("ET")

	chunks := collect(t, NewExtractor(mapResolver{}, nil, Options{ChunkSize: 2}), b.String(), res)
	var sizes []int
	var text string
	for _, c := range chunks {
		sizes = append(sizes, len(c.Items))
		for _, it := range c.Items {
			text += it.Str
		}
	}
	if text != "abcde" {
		t.Errorf("text = %q, want abcde", text)
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Errorf("chunk sizes = %v, want [2 2 1]", sizes)
	}
	if len(chunks[0].Styles) != 1 || len(chunks[1].Styles) != 0 {
		t.Error("styles should be sent once")
	}
	if !chunks[0].Items[1].HasEOL {
		t.Error("held-back item should receive its line end before sending")
	}

	empty := collect(t, NewExtractor(mapResolver{}, nil, Options{}), "q Q", nil)
	if len(empty) != 1 || len(empty[0].Items) != 0 {
		t.Errorf("empty page chunks = %+v", empty)
	}
}

// TestExtractMarkedContent tests marked content items and their JSON form.
func TestExtractMarkedContent(t *testing.T) {
	res := core.Dict{
		"Font":       core.Dict{"F1": helvetica()},
		"Properties": core.Dict{"MC0": core.Dict{"MCID": core.Int(7)}},
	}
	content := "/P <</MCID 3>> BDC BT /F1 10 Tf (x) Tj ET EMC /Span /MC0 BDC EMC /Artifact BMC EMC"

	items := allItems(collect(t, NewExtractor(mapResolver{}, nil, Options{}), content, res))
	if len(items) != 1 {
		t.Fatalf("marked content should be skipped by default, got %d items", len(items))
	}

	e := NewExtractor(mapResolver{}, nil, Options{IncludeMarkedContent: true, IDPrefix: "p5R_mc"})
	items = allItems(collect(t, e, content, res))
	want := []Item{
		{Type: "beginMarkedContentProps", Tag: "P", ID: "p5R_mc3"},
		{Str: "x"},
		{Type: "endMarkedContent"},
		{Type: "beginMarkedContentProps", Tag: "Span", ID: "p5R_mc7"},
		{Type: "endMarkedContent"},
		{Type: "beginMarkedContent", Tag: "Artifact"},
		{Type: "endMarkedContent"},
	}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i := range want {
		if items[i].Type != want[i].Type || items[i].Tag != want[i].Tag || items[i].ID != want[i].ID || items[i].Str != want[i].Str {
			t.Errorf("item %d = %+v, want %+v", i, items[i], want[i])
		}
	}

	data, err := json.Marshal(items[0])
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"type":"beginMarkedContentProps","tag":"P","id":"p5R_mc3"}` {
		t.Errorf("json = %s", data)
	}
	data, _ = json.Marshal(items[1])
	if !strings.Contains(string(data), `"str":"x"`) || strings.Contains(string(data), `"type"`) {
		t.Errorf("json = %s", data)
	}
}

// TestExtractFormXObject tests text inside a form with its own matrix.
func TestExtractFormXObject(t *testing.T) {
	form := &core.Stream{
		Dict: core.Dict{
			"Subtype":   core.Name("Form"),
			"Matrix":    core.Array{core.Int(1), core.Int(0), core.Int(0), core.Int(1), core.Int(50), core.Int(0)},
			"Resources": core.Dict{"Font": core.Dict{"F2": core.IndirectRef{Number: 9}}},
		},
		Data: []byte("BT /F2 12 Tf (Form) Tj ET"),
	}
	r := mapResolver{8: form, 9: helvetica()}
	res := core.Dict{"XObject": core.Dict{"Fm1": core.IndirectRef{Number: 8}}}

	cache := NewFontCache()
	items := allItems(collect(t, NewExtractor(r, cache, Options{}), "q 1 0 0 1 10 20 cm /Fm1 Do Q", res))
	if len(items) != 1 || items[0].Str != "Form" {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Transform != [6]float64{12, 0, 0, 12, 60, 20} {
		t.Errorf("transform = %v", items[0].Transform)
	}
	if items[0].FontName != "f9_0" || cache.Len() != 1 {
		t.Errorf("font name %q, cache size %d", items[0].FontName, cache.Len())
	}
	cache.Clear()
	if cache.Len() != 0 {
		t.Error("Clear should empty the cache")
	}
}

// TestExtractNormalization tests compatibility normalization of ligatures.
func TestExtractNormalization(t *testing.T) {
	font := helvetica()
	font["Encoding"] = core.Dict{"Differences": core.Array{core.Int(65), core.Name("fi")}}
	res := core.Dict{"Font": core.Dict{"F1": font}}

	items := allItems(collect(t, NewExtractor(mapResolver{}, nil, Options{}), "BT /F1 10 Tf (A) Tj ET", res))
	if len(items) != 1 || items[0].Str != "fi" {
		t.Errorf("normalized items = %+v", items)
	}
	items = allItems(collect(t, NewExtractor(mapResolver{}, nil, Options{DisableNormalization: true}), "BT /F1 10 Tf (A) Tj ET", res))
	if len(items) != 1 || items[0].Str != "ﬁ" {
		t.Errorf("raw items = %+v", items)
	}
}

// TestExtractStops tests cancellation and emit errors.
func TestExtractStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	content := strings.Repeat("q Q ", 600)
	e := NewExtractor(mapResolver{}, nil, Options{})
	err := e.Extract(ctx, []byte(content), nil, func(Chunk) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}

	boom := errors.New("sink closed")
	err = e.Extract(context.Background(), []byte("q Q"), nil, func(Chunk) error { return boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}
