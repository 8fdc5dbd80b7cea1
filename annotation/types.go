package annotation

import (
	"fmt"
	"math"

	"github.com/tsawler/docworker/core"
)

// Type is the numeric annotation type reported to hosts.
type Type int

// Annotation types.
const (
	TypeText Type = iota + 1
	TypeLink
	TypeFreeText
	TypeLine
	TypeSquare
	TypeCircle
	TypePolygon
	TypePolyline
	TypeHighlight
	TypeUnderline
	TypeSquiggly
	TypeStrikeOut
	TypeStamp
	TypeCaret
	TypeInk
	TypePopup
	TypeFileAttachment
	TypeSound
	TypeMovie
	TypeWidget
	TypeScreen
	TypePrinterMark
	TypeTrapNet
	TypeWatermark
	TypeThreeD
	TypeRedact
)

var subtypes = map[string]Type{
	"Text": TypeText, "Link": TypeLink, "FreeText": TypeFreeText, "Line": TypeLine,
	"Square": TypeSquare, "Circle": TypeCircle, "Polygon": TypePolygon,
	"PolyLine": TypePolyline, "Highlight": TypeHighlight, "Underline": TypeUnderline,
	"Squiggly": TypeSquiggly, "StrikeOut": TypeStrikeOut, "Stamp": TypeStamp,
	"Caret": TypeCaret, "Ink": TypeInk, "Popup": TypePopup,
	"FileAttachment": TypeFileAttachment, "Sound": TypeSound, "Movie": TypeMovie,
	"Widget": TypeWidget, "Screen": TypeScreen, "PrinterMark": TypePrinterMark,
	"TrapNet": TypeTrapNet, "Watermark": TypeWatermark, "3D": TypeThreeD,
	"Redact": TypeRedact,
}

// Annotation flags (/F).
const (
	FlagInvisible = 1 << 0
	FlagHidden    = 1 << 1
	FlagPrint     = 1 << 2
	FlagNoView    = 1 << 5
	FlagReadOnly  = 1 << 6
)

// Data is the host-facing description of one annotation.
type Data struct {
	AnnotationType  Type      `json:"annotationType"`
	Subtype         string    `json:"subtype"`
	ID              string    `json:"id"`
	Rect            []float64 `json:"rect"`
	AnnotationFlags int       `json:"annotationFlags"`
	Color           []int     `json:"color"`
	Contents        string    `json:"contents,omitempty"`
	Title           string    `json:"titleObj,omitempty"`
	ModDate         string    `json:"modificationDate,omitempty"`
	HasAppearance   bool      `json:"hasAppearance"`
	NoView          bool      `json:"noView"`
	NoPrint         bool      `json:"noPrint"`
	StructParent    *int      `json:"structParent,omitempty"`
	PopupRef        string    `json:"popupRef,omitempty"`

	// Links
	URL  string `json:"url,omitempty"`
	Dest any    `json:"dest,omitempty"`

	// Widgets
	FieldName  string `json:"fieldName,omitempty"`
	FieldType  string `json:"fieldType,omitempty"`
	FieldValue any    `json:"fieldValue,omitempty"`
	ReadOnly   bool   `json:"readOnly,omitempty"`

	// Markup
	QuadPoints []float64   `json:"quadPoints,omitempty"`
	InkLists   [][]float64 `json:"inkLists,omitempty"`
}

// Parse builds the description of the annotation dict stored at ref.
func Parse(r core.Resolver, ref *core.IndirectRef, dict core.Dict) (*Data, error) {
	subtype, ok := dict.GetName("Subtype")
	if !ok {
		return nil, fmt.Errorf("annotation without /Subtype")
	}
	d := &Data{
		AnnotationType: subtypes[string(subtype)],
		Subtype:        string(subtype),
		Rect:           normalizeRect(resolveFloats(r, dict.Get("Rect"))),
		Color:          rgbColor(resolveFloats(r, dict.Get("C"))),
	}
	if ref != nil {
		d.ID = ref.Key()
	}
	if f, ok := core.ToInt(resolve(r, dict.Get("F"))); ok {
		d.AnnotationFlags = f
	}
	d.NoView = d.AnnotationFlags&(FlagHidden|FlagNoView) != 0
	d.NoPrint = d.AnnotationFlags&FlagPrint == 0 || d.AnnotationFlags&FlagHidden != 0
	if s, ok := resolve(r, dict.Get("Contents")).(core.String); ok {
		d.Contents = core.DecodeTextString(s)
	}
	if s, ok := resolve(r, dict.Get("T")).(core.String); ok && subtype != "Widget" {
		d.Title = core.DecodeTextString(s)
	}
	if s, ok := resolve(r, dict.Get("M")).(core.String); ok {
		d.ModDate = core.DecodeTextString(s)
	}
	if n, ok := core.ToInt(dict.Get("StructParent")); ok {
		d.StructParent = &n
	}
	if popup, ok := dict.GetIndirectRef("Popup"); ok {
		d.PopupRef = popup.Key()
	}
	d.HasAppearance = Appearance(r, dict) != nil

	switch subtype {
	case "Link":
		parseLink(r, dict, d)
	case "Widget":
		parseWidget(r, dict, d)
	case "Highlight", "Underline", "Squiggly", "StrikeOut":
		d.QuadPoints = resolveFloats(r, dict.Get("QuadPoints"))
	case "Ink":
		for _, path := range resolveArray(r, dict.Get("InkList")) {
			d.InkLists = append(d.InkLists, resolveFloats(r, path))
		}
	}
	return d, nil
}

func parseLink(r core.Resolver, dict core.Dict, d *Data) {
	if dest := dict.Get("Dest"); dest != nil {
		d.Dest = DestValue(r, dest)
		return
	}
	action, _ := resolve(r, dict.Get("A")).(core.Dict)
	switch s, _ := action.GetName("S"); s {
	case "URI":
		if uri, ok := resolve(r, action.Get("URI")).(core.String); ok {
			d.URL = string(uri)
		}
	case "GoTo":
		d.Dest = DestValue(r, action.Get("D"))
	}
}

// DestValue converts an explicit or named destination to its JSON form:
// page references become {num, gen} and fit types {name}.
func DestValue(r core.Resolver, obj core.Object) any {
	switch v := resolve(r, obj).(type) {
	case core.Name:
		return string(v)
	case core.String:
		return core.DecodeTextString(v)
	case core.Array:
		out := make([]any, len(v))
		for i, item := range v {
			switch x := item.(type) {
			case core.IndirectRef:
				out[i] = map[string]int{"num": x.Number, "gen": x.Generation}
			case core.Name:
				out[i] = map[string]string{"name": string(x)}
			case core.Int:
				out[i] = int64(x)
			case core.Real:
				out[i] = float64(x)
			default:
				out[i] = nil
			}
		}
		return out
	}
	return nil
}

func parseWidget(r core.Resolver, dict core.Dict, d *Data) {
	d.FieldName = FieldName(r, dict)
	if ft, ok := inheritedField(r, dict, "FT").(core.Name); ok {
		d.FieldType = string(ft)
	}
	switch v := inheritedField(r, dict, "V").(type) {
	case core.String:
		d.FieldValue = core.DecodeTextString(v)
	case core.Name:
		d.FieldValue = string(v)
	case core.Array:
		vals := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := resolve(r, item).(core.String); ok {
				vals = append(vals, core.DecodeTextString(s))
			}
		}
		d.FieldValue = vals
	}
	if ff, ok := core.ToInt(inheritedField(r, dict, "Ff")); ok {
		d.ReadOnly = ff&1 != 0
	}
}

// maxParentDepth bounds /Parent chains of form fields.
const maxParentDepth = 32

// inheritedField looks key up on the field and its /Parent chain.
func inheritedField(r core.Resolver, dict core.Dict, key string) core.Object {
	for i := 0; dict != nil && i < maxParentDepth; i++ {
		if v := dict.Get(key); v != nil {
			return resolve(r, v)
		}
		dict, _ = resolve(r, dict.Get("Parent")).(core.Dict)
	}
	return nil
}

// FieldName returns the fully qualified field name: partial /T names of the
// field and its ancestors joined with dots.
func FieldName(r core.Resolver, dict core.Dict) string {
	var parts []string
	for i := 0; dict != nil && i < maxParentDepth; i++ {
		if t, ok := resolve(r, dict.Get("T")).(core.String); ok {
			parts = append([]string{core.DecodeTextString(t)}, parts...)
		}
		dict, _ = resolve(r, dict.Get("Parent")).(core.Dict)
	}
	name := ""
	for i, p := range parts {
		if i > 0 {
			name += "."
		}
		name += p
	}
	return name
}

// Appearance returns the normal appearance stream of an annotation,
// selecting the /AS state when /N is a state dictionary.
func Appearance(r core.Resolver, dict core.Dict) *core.Stream {
	ap, _ := resolve(r, dict.Get("AP")).(core.Dict)
	switch n := resolve(r, ap.Get("N")).(type) {
	case *core.Stream:
		return n
	case core.Dict:
		state, ok := dict.GetName("AS")
		if !ok {
			return nil
		}
		s, _ := resolve(r, n.Get(string(state))).(*core.Stream)
		return s
	}
	return nil
}

// Visible reports whether an annotation with flags is shown for intent,
// which is "display", "print" or anything else for all annotations.
func Visible(flags int, intent string) bool {
	switch intent {
	case "display":
		return flags&(FlagHidden|FlagNoView|FlagInvisible) == 0
	case "print":
		return flags&FlagPrint != 0 && flags&FlagHidden == 0
	}
	return true
}

// Collect parses every annotation in annots visible for intent. Malformed
// entries are skipped.
func Collect(r core.Resolver, annots core.Array, intent string) []*Data {
	out := make([]*Data, 0, len(annots))
	for _, item := range annots {
		var ref *core.IndirectRef
		if rf, ok := item.(core.IndirectRef); ok {
			ref = &rf
		}
		dict, ok := resolve(r, item).(core.Dict)
		if !ok {
			continue
		}
		d, err := Parse(r, ref, dict)
		if err != nil || !Visible(d.AnnotationFlags, intent) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func resolve(r core.Resolver, obj core.Object) core.Object {
	v, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	return v
}

func resolveArray(r core.Resolver, obj core.Object) core.Array {
	a, _ := resolve(r, obj).(core.Array)
	return a
}

func resolveFloats(r core.Resolver, obj core.Object) []float64 {
	arr := resolveArray(r, obj)
	out := make([]float64, 0, len(arr))
	for _, item := range arr {
		if f, ok := core.ToFloat(resolve(r, item)); ok {
			out = append(out, f)
		}
	}
	return out
}

// normalizeRect orders a rectangle as [llx lly urx ury].
func normalizeRect(r []float64) []float64 {
	if len(r) != 4 {
		return []float64{0, 0, 0, 0}
	}
	return []float64{
		math.Min(r[0], r[2]), math.Min(r[1], r[3]),
		math.Max(r[0], r[2]), math.Max(r[1], r[3]),
	}
}

// rgbColor converts a /C array (gray, RGB or CMYK) to 0-255 RGB.
func rgbColor(c []float64) []int {
	to255 := func(v float64) int {
		return int(math.Round(math.Max(0, math.Min(1, v)) * 255))
	}
	switch len(c) {
	case 1:
		g := to255(c[0])
		return []int{g, g, g}
	case 3:
		return []int{to255(c[0]), to255(c[1]), to255(c[2])}
	case 4:
		k := c[3]
		return []int{to255((1 - c[0]) * (1 - k)), to255((1 - c[1]) * (1 - k)), to255((1 - c[2]) * (1 - k))}
	}
	return nil
}
