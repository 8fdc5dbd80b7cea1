package pages

import (
	"bytes"
	"fmt"

	"github.com/tsawler/docworker/core"
)

// Page is a leaf of the page tree.
type Page struct {
	dict      core.Dict
	ref       *core.IndirectRef
	ancestors []core.Dict
	resolver  ObjectResolver
}

// NewPage wraps a page dictionary. ancestors are the intermediate nodes
// above it, nearest last; ref is nil for a page stored inline in /Kids.
func NewPage(dict core.Dict, ref *core.IndirectRef, ancestors []core.Dict, resolver ObjectResolver) *Page {
	return &Page{dict: dict, ref: ref, ancestors: ancestors, resolver: resolver}
}

func (p *Page) Dict() core.Dict        { return p.dict }
func (p *Page) Ref() *core.IndirectRef { return p.ref }

func (p *Page) Type() string {
	n, _ := p.dict.GetName("Type")
	return string(n)
}

// attr resolves key on the page. Inheritable keys fall back to the
// ancestors, nearest first. A missing key resolves to nil.
func (p *Page) attr(key string, inheritable bool) core.Object {
	v := p.dict.Get(key)
	for i := len(p.ancestors) - 1; v == nil && inheritable && i >= 0; i-- {
		v = p.ancestors[i].Get(key)
	}
	if v == nil {
		return nil
	}
	obj, err := p.resolver.Resolve(v)
	if err != nil {
		return nil
	}
	return obj
}

// box reads a rectangle with its corners normalized. Degenerate or
// malformed rectangles read as absent.
func (p *Page) box(key string) ([4]float64, bool) {
	var r [4]float64
	arr, ok := p.attr(key, true).(core.Array)
	if !ok || len(arr) != 4 {
		return r, false
	}
	f, ok := arr.Floats()
	if !ok {
		return r, false
	}
	r = [4]float64{min(f[0], f[2]), min(f[1], f[3]), max(f[0], f[2]), max(f[1], f[3])}
	return r, r[0] < r[2] && r[1] < r[3]
}

// MediaBox returns the inheritable media box, US Letter when unusable.
func (p *Page) MediaBox() ([]float64, error) {
	if b, ok := p.box("MediaBox"); ok {
		return b[:], nil
	}
	return []float64{0, 0, 612, 792}, nil
}

// CropBox returns the crop box intersected with the media box. It falls
// back to the media box when absent or when the two do not overlap.
func (p *Page) CropBox() ([]float64, error) {
	media, _ := p.MediaBox()
	crop, ok := p.box("CropBox")
	if !ok {
		return media, nil
	}
	r := []float64{max(crop[0], media[0]), max(crop[1], media[1]), min(crop[2], media[2]), min(crop[3], media[3])}
	if r[0] >= r[2] || r[1] >= r[3] {
		return media, nil
	}
	return r, nil
}

// View is the visible area of the page.
func (p *Page) View() ([]float64, error) { return p.CropBox() }

func (p *Page) Width() (float64, error) {
	b, err := p.MediaBox()
	if err != nil {
		return 0, err
	}
	return b[2] - b[0], nil
}

func (p *Page) Height() (float64, error) {
	b, err := p.MediaBox()
	if err != nil {
		return 0, err
	}
	return b[3] - b[1], nil
}

// Resources returns the inheritable resource dictionary, empty when none
// is usable.
func (p *Page) Resources() (core.Dict, error) {
	if d, ok := p.attr("Resources", true).(core.Dict); ok {
		return d, nil
	}
	return core.Dict{}, nil
}

// Rotate returns the inheritable rotation as 0, 90, 180 or 270. Values that
// are not a multiple of 90 read as 0.
func (p *Page) Rotate() int {
	r, ok := core.ToInt(p.attr("Rotate", true))
	if !ok || r%90 != 0 {
		return 0
	}
	return (r%360 + 360) % 360
}

// UserUnit returns the user space unit in multiples of 1/72 inch.
func (p *Page) UserUnit() float64 {
	if u, ok := core.ToFloat(p.attr("UserUnit", false)); ok && u > 0 {
		return u
	}
	return 1
}

// Annots returns the /Annots entries without resolving them.
func (p *Page) Annots() (core.Array, error) {
	if !p.dict.Has("Annots") {
		return nil, nil
	}
	obj, err := p.resolver.Resolve(p.dict.Get("Annots"))
	if err != nil {
		return nil, fmt.Errorf("resolve /Annots: %w", err)
	}
	arr, _ := obj.(core.Array)
	return arr, nil
}

// StructParents returns the page's key in the structure parent tree.
func (p *Page) StructParents() (int, bool) {
	return core.ToInt(p.dict.Get("StructParents"))
}

// Contents returns the resolved content streams. /Contents may be a single
// stream or an array of them.
func (p *Page) Contents() ([]core.Object, error) {
	if !p.dict.Has("Contents") {
		return nil, nil
	}
	obj, err := p.resolver.Resolve(p.dict.Get("Contents"))
	if err != nil {
		return nil, fmt.Errorf("resolve /Contents: %w", err)
	}
	switch c := obj.(type) {
	case nil, core.Null:
		return nil, nil
	case *core.Stream:
		return []core.Object{c}, nil
	case core.Array:
		out := make([]core.Object, 0, len(c))
		for i, o := range c {
			s, err := p.resolver.Resolve(o)
			if err != nil {
				return nil, fmt.Errorf("resolve /Contents %d: %w", i, err)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("/Contents is %T", obj)
}

// ContentData decodes and concatenates the content streams with a newline
// between them so operators never run together.
func (p *Page) ContentData() ([]byte, error) {
	parts, err := p.Contents()
	if err != nil {
		return nil, err
	}
	var streams [][]byte
	for i, o := range parts {
		s, ok := o.(*core.Stream)
		if !ok {
			continue
		}
		data, err := s.Decode()
		if err != nil {
			return nil, fmt.Errorf("decode /Contents %d: %w", i, err)
		}
		streams = append(streams, data)
	}
	return bytes.Join(streams, []byte{'\n'}), nil
}
