package document

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/core"
)

// Field flags.
const (
	flagReadOnly   = 1 << 0
	flagRadio      = 1 << 15
	flagPushButton = 1 << 16
	flagCombo      = 1 << 17
)

// maxFieldDepth bounds /Kids recursion of the field tree.
const maxFieldDepth = 32

// FieldObject describes one widget of a form field.
type FieldObject struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	Type         string              `json:"type"`
	Value        any                 `json:"value"`
	DefaultValue any                 `json:"defaultValue,omitempty"`
	ExportValues []string            `json:"exportValues,omitempty"`
	Page         int                 `json:"page"`
	Rect         []float64           `json:"rect,omitempty"`
	ReadOnly     bool                `json:"readOnly"`
	Hidden       bool                `json:"hidden"`
	Actions      map[string][]string `json:"actions,omitempty"`
}

type fieldSet struct {
	objects   map[string][]*FieldObject
	hasJS     bool
	calcOrder []string
}

var fieldEvents = map[string]string{
	"E": "Mouse Enter", "X": "Mouse Exit", "D": "Mouse Down", "U": "Mouse Up",
	"Fo": "Focus", "Bl": "Blur", "PO": "PageOpen", "PC": "PageClose",
	"PV": "PageVisible", "PI": "PageInvisible",
	"K": "Keystroke", "F": "Format", "V": "Validate", "C": "Calculate",
}

// AcroForm returns the interactive form dictionary and its reference, or
// nil when the document has no form.
func (m *Manager) AcroForm(ctx context.Context) (core.Dict, *core.IndirectRef, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, nil, err
	}
	obj := catalog.Dict().Get("AcroForm")
	form, ok := resolveDict(xref, obj)
	if !ok {
		return nil, nil, nil
	}
	if ref, ok := obj.(core.IndirectRef); ok {
		return form, &ref, nil
	}
	return form, nil, nil
}

func (m *Manager) loadFields(ctx context.Context) (*fieldSet, error) {
	return m.fields.get(ctx, func() (*fieldSet, error) {
		form, _, err := m.AcroForm(ctx)
		if err != nil {
			return nil, err
		}
		xref, err := m.xrefOrErr()
		if err != nil {
			return nil, err
		}
		fs := &fieldSet{objects: make(map[string][]*FieldObject)}
		if form == nil {
			return fs, nil
		}
		pageOf, err := m.widgetPages(ctx)
		if err != nil {
			return nil, err
		}

		seen := make(map[core.IndirectRef]bool)
		var walk func(obj core.Object, depth int) error
		walk = func(obj core.Object, depth int) error {
			if depth > maxFieldDepth {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			ref, isRef := obj.(core.IndirectRef)
			if isRef {
				if seen[ref] {
					return nil
				}
				seen[ref] = true
			}
			dict, ok := resolveDict(xref, obj)
			if !ok {
				return nil
			}
			if st, _ := dict.GetName("Subtype"); st == "Widget" && isRef {
				fo := m.fieldObject(xref, ref, dict, pageOf)
				if len(fo.Actions) > 0 {
					fs.hasJS = true
				}
				fs.objects[fo.Name] = append(fs.objects[fo.Name], fo)
			}
			for _, kid := range resolveArray(xref, dict.Get("Kids")) {
				if err := walk(kid, depth+1); err != nil {
					return err
				}
			}
			return nil
		}
		for _, f := range resolveArray(xref, form.Get("Fields")) {
			if err := walk(f, 0); err != nil {
				return nil, err
			}
		}
		for _, item := range resolveArray(xref, form.Get("CO")) {
			if ref, ok := item.(core.IndirectRef); ok {
				fs.calcOrder = append(fs.calcOrder, ref.Key())
			}
		}
		return fs, nil
	})
}

// widgetPages maps every annotation reference to the index of the page
// listing it.
func (m *Manager) widgetPages(ctx context.Context) (map[core.IndirectRef]int, error) {
	n, err := m.NumPages(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[core.IndirectRef]int)
	for i := 0; i < n; i++ {
		page, err := m.GetPage(ctx, i)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			m.log.Debug("page skipped while collecting fields", "page", i, "error", err)
			continue
		}
		annots, err := page.page.Annots()
		if err != nil {
			continue
		}
		for _, item := range annots {
			if ref, ok := item.(core.IndirectRef); ok {
				out[ref] = i
			}
		}
	}
	return out, nil
}

// inherited looks key up on the field and its /Parent chain.
func inherited(r core.Resolver, dict core.Dict, key string) core.Object {
	for i := 0; dict != nil && i < maxFieldDepth; i++ {
		if v := dict.Get(key); v != nil {
			v, _ = r.Resolve(v)
			return v
		}
		dict, _ = resolveDict(r, dict.Get("Parent"))
	}
	return nil
}

func (m *Manager) fieldObject(r core.Resolver, ref core.IndirectRef, dict core.Dict, pageOf map[core.IndirectRef]int) *FieldObject {
	fo := &FieldObject{
		ID:    ref.Key(),
		Name:  annotation.FieldName(r, dict),
		Value: fieldValue(r, inherited(r, dict, "V")),
		Page:  -1,
	}
	if dv := inherited(r, dict, "DV"); dv != nil {
		fo.DefaultValue = fieldValue(r, dv)
	}
	if i, ok := pageOf[ref]; ok {
		fo.Page = i
	}
	if rect := floatsOr(r, dict.Get("Rect"), nil); len(rect) == 4 {
		fo.Rect = rect
	}
	ff, _ := core.ToInt(inherited(r, dict, "Ff"))
	flags, _ := core.ToInt(dict.Get("F"))
	fo.ReadOnly = ff&flagReadOnly != 0
	fo.Hidden = flags&2 != 0

	ft, _ := inherited(r, dict, "FT").(core.Name)
	switch ft {
	case "Tx":
		fo.Type = "text"
	case "Btn":
		switch {
		case ff&flagPushButton != 0:
			fo.Type = "button"
		case ff&flagRadio != 0:
			fo.Type = "radiobutton"
		default:
			fo.Type = "checkbox"
		}
		if ap, ok := resolveDict(r, dict.Get("AP")); ok {
			if normal, ok := resolveDict(r, ap.Get("N")); ok {
				for _, k := range normal.Keys() {
					if k != "Off" {
						fo.ExportValues = append(fo.ExportValues, k)
					}
				}
				sort.Strings(fo.ExportValues)
			}
		}
	case "Ch":
		if ff&flagCombo != 0 {
			fo.Type = "combobox"
		} else {
			fo.Type = "listbox"
		}
	case "Sig":
		fo.Type = "signature"
	default:
		fo.Type = "unknown"
	}

	actions := map[string][]string{}
	if aa, ok := resolveDict(r, dict.Get("AA")); ok {
		for event, scripts := range collectActions(r, aa, fieldEvents) {
			actions[event] = scripts
		}
	}
	if a, ok := resolveDict(r, dict.Get("A")); ok {
		if js, ok := jsValue(r, a); ok {
			actions["Action"] = append(actions["Action"], js)
		}
	}
	if len(actions) > 0 {
		fo.Actions = actions
	}
	return fo
}

func fieldValue(r core.Resolver, obj core.Object) any {
	switch v := obj.(type) {
	case core.String:
		return core.DecodeTextString(v)
	case core.Name:
		return string(v)
	case core.Array:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := resolveString(r, item); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// FieldObjects returns the form widgets grouped by fully qualified field
// name, or nil when the document has no fields.
func (m *Manager) FieldObjects(ctx context.Context) (map[string][]*FieldObject, error) {
	fs, err := m.loadFields(ctx)
	if err != nil {
		return nil, err
	}
	if len(fs.objects) == 0 {
		return nil, nil
	}
	return fs.objects, nil
}

// HasJSActions reports whether any field or the document carries scripts.
func (m *Manager) HasJSActions(ctx context.Context) (bool, error) {
	fs, err := m.loadFields(ctx)
	if err != nil {
		return false, err
	}
	if fs.hasJS {
		return true, nil
	}
	doc, err := m.DocJSActions(ctx)
	if err != nil {
		return false, err
	}
	return len(doc) > 0, nil
}

// CalculationOrderIDs returns the ids listed by /CO, or nil.
func (m *Manager) CalculationOrderIDs(ctx context.Context) ([]string, error) {
	fs, err := m.loadFields(ctx)
	if err != nil {
		return nil, err
	}
	return fs.calcOrder, nil
}

// XFA describes the XFA packets of the form.
type XFA struct {
	// Packets is false when /XFA is a single stream instead of the
	// name/stream array.
	Packets     bool
	DatasetsRef *core.IndirectRef
	Datasets    *core.Stream
}

// XFA returns the XFA description, or nil when the form has none.
func (m *Manager) XFA(ctx context.Context) (*XFA, error) {
	form, _, err := m.AcroForm(ctx)
	if err != nil || form == nil {
		return nil, err
	}
	xref, err := m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	obj := form.Get("XFA")
	if obj == nil {
		return nil, nil
	}
	v, err := xref.Resolve(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /XFA: %w", err)
	}
	arr, ok := v.(core.Array)
	if !ok {
		return &XFA{}, nil
	}
	out := &XFA{Packets: true}
	for i := 0; i+1 < len(arr); i += 2 {
		name, ok := resolveString(xref, arr[i])
		if !ok || name != "datasets" {
			continue
		}
		if ref, ok := arr[i+1].(core.IndirectRef); ok {
			out.DatasetsRef = &ref
		}
		if s, err := xref.Resolve(arr[i+1]); err == nil {
			out.Datasets, _ = s.(*core.Stream)
		}
		break
	}
	return out, nil
}

// IsPureXFA reports whether the document is an XFA form whose pages have
// to be generated from the template.
func (m *Manager) IsPureXFA(ctx context.Context) (bool, error) {
	if !m.opts.EnableXFA {
		return false, nil
	}
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return false, err
	}
	nr, _ := xref.Resolve(catalog.Dict().Get("NeedsRendering"))
	if b, ok := nr.(core.Bool); !ok || !bool(b) {
		return false, nil
	}
	xfa, err := m.XFA(ctx)
	if err != nil {
		return false, err
	}
	return xfa != nil, nil
}

// SerializeXFAData writes values into the datasets packet. Keys are the
// dotted element paths below xfa:data, such as "form1.name". It returns
// nil when there is nothing to write or the values match the packet.
func (m *Manager) SerializeXFAData(ctx context.Context, values map[string]string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	xfa, err := m.XFA(ctx)
	if err != nil {
		return nil, err
	}
	if xfa == nil || xfa.Datasets == nil {
		return nil, nil
	}
	data, err := xfa.Datasets.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode XFA datasets: %w", err)
	}
	out, err := setXFAValues(data, values)
	if err != nil || bytes.Equal(out, data) {
		return nil, err
	}
	return out, nil
}

type xmlEdit struct {
	start, end int64
	text       string
}

// setXFAValues replaces the text of the elements addressed by values and
// leaves every other byte of doc untouched.
func setXFAValues(doc []byte, values map[string]string) ([]byte, error) {
	dec := xml.NewDecoder(bytes.NewReader(doc))

	type open struct {
		path  string
		name  string
		start int64
	}
	var (
		stack []open
		edits []xmlEdit
	)
	dataDepth := -1
	for {
		before := dec.InputOffset()
		tok, err := dec.RawToken()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("invalid XFA datasets: %w", err)
		}
		after := dec.InputOffset()
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			if t.Name.Space != "" {
				name = t.Name.Space + ":" + t.Name.Local
			}
			path := ""
			if dataDepth >= 0 {
				if top := stack[len(stack)-1]; top.path != "" {
					path = top.path + "." + t.Name.Local
				} else {
					path = t.Name.Local
				}
			}
			stack = append(stack, open{path: path, name: name, start: after})
			if dataDepth < 0 && t.Name.Local == "data" {
				dataDepth = len(stack)
			}
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, errors.New("invalid XFA datasets: unbalanced elements")
			}
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack)+1 == dataDepth {
				dataDepth = -1
			}
			v, ok := values[top.path]
			if !ok || top.path == "" {
				continue
			}
			var buf strings.Builder
			if err := xml.EscapeText(&buf, []byte(v)); err != nil {
				return nil, err
			}
			if before == top.start && bytes.HasSuffix(doc[:top.start], []byte("/>")) {
				// <name/> becomes <name>value</name>
				edits = append(edits, xmlEdit{start: top.start - 2, end: top.start, text: ">" + buf.String() + "</" + top.name + ">"})
				continue
			}
			edits = append(edits, xmlEdit{start: top.start, end: before, text: buf.String()})
		}
	}
	if len(stack) > 0 {
		return nil, fmt.Errorf("invalid XFA datasets: unclosed element %s", stack[len(stack)-1].name)
	}
	if len(edits) == 0 {
		return doc, nil
	}
	var out bytes.Buffer
	out.Grow(len(doc))
	var pos int64
	for _, e := range edits {
		out.Write(doc[pos:e.start])
		out.WriteString(e.text)
		pos = e.end
	}
	out.Write(doc[pos:])
	return out.Bytes(), nil
}

// LoadXFAFonts loads the fonts of the form's default resources and
// returns how many were found.
func (m *Manager) LoadXFAFonts(ctx context.Context) (int, error) {
	form, _, err := m.AcroForm(ctx)
	if err != nil || form == nil {
		return 0, err
	}
	xref, err := m.xrefOrErr()
	if err != nil {
		return 0, err
	}
	dr, _ := resolveDict(xref, form.Get("DR"))
	fonts, _ := resolveDict(xref, dr.Get("Font"))
	keys := fonts.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		m.fonts.Load(xref, fonts.Get(key))
	}
	return len(keys), nil
}

// LoadXFAImages returns the images of the /XFAImages name tree keyed by
// name. Images are converted to PNG when their pixel format is supported
// and are returned decoded otherwise.
func (m *Manager) LoadXFAImages(ctx context.Context) (map[string][]byte, error) {
	return m.xfaImages.get(ctx, func() (map[string][]byte, error) {
		catalog, xref, err := m.catalogOrErr()
		if err != nil {
			return nil, err
		}
		names, ok := resolveDict(xref, catalog.Dict().Get("Names"))
		if !ok || !names.Has("XFAImages") {
			return nil, nil
		}
		out := make(map[string][]byte)
		err = core.WalkNameTree(xref, names.Get("XFAImages"), func(key string, v core.Object) error {
			obj, err := xref.Resolve(v)
			if err != nil {
				return err
			}
			stream, ok := obj.(*core.Stream)
			if !ok {
				return nil
			}
			img, err := newPixelImage(xref, key, stream)
			if err != nil {
				return fmt.Errorf("XFA image %q: %w", key, err)
			}
			if png, err := img.ToPNG(); err == nil {
				out[key] = png
			} else {
				out[key] = img.Data
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load XFA images: %w", err)
		}
		return out, nil
	})
}
