package text

import (
	"fmt"
	"strings"

	"github.com/tsawler/docworker/core"
)

// Glyph is one decoded character code of a shown string.
type Glyph struct {
	Code  uint32
	Text  string
	Width float64 // horizontal displacement in text space units
	// Space is set for the single-byte code 32, the only code word spacing
	// applies to.
	Space bool
}

type cidWidth struct {
	first, last uint32
	widths      []float64 // per-CID widths, or nil for a constant range
	width       float64
}

// Font is the part of a PDF font needed to turn shown strings into text
// and advances. Glyph outlines are never read.
type Font struct {
	Name     string // resource name on the page
	BaseFont string
	Subtype  string

	composite bool
	vertical  bool
	ucs2      bool // predefined CMap whose codes are Unicode values
	encCMap   *CMap
	toUnicode *CMap
	enc       baseEncoding
	hasEnc    bool

	firstChar    int
	widths       []float64
	missingWidth float64
	cidWidths    []cidWidth
	defaultWidth float64
	scale        float64 // glyph space to text space

	ascent, descent float64
}

// LoadFont builds a Font from a font dictionary. Missing or malformed
// optional entries fall back to defaults; only an unusable dictionary is an
// error.
func LoadFont(r core.Resolver, name string, dict core.Dict) (*Font, error) {
	if dict == nil {
		return nil, fmt.Errorf("font %s: not a dictionary", name)
	}
	subtype, _ := dict.GetName("Subtype")
	base, _ := dict.GetName("BaseFont")
	f := &Font{
		Name:     name,
		BaseFont: string(base),
		Subtype:  string(subtype),
		scale:    0.001,
	}

	if tu, err := r.Resolve(dict.Get("ToUnicode")); err == nil {
		if s, ok := tu.(*core.Stream); ok {
			if cm, err := ParseCMapStream(s); err == nil {
				f.toUnicode = cm
			}
		}
	}

	if subtype == "Type0" {
		if err := f.loadComposite(r, dict); err != nil {
			return nil, err
		}
	} else {
		f.loadSimple(r, dict)
	}
	return f, nil
}

func resolveDict(r core.Resolver, obj core.Object) core.Dict {
	v, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	switch d := v.(type) {
	case core.Dict:
		return d
	case *core.Stream:
		return d.Dict
	}
	return nil
}

func resolveArray(r core.Resolver, obj core.Object) core.Array {
	v, err := r.Resolve(obj)
	if err != nil {
		return nil
	}
	a, _ := v.(core.Array)
	return a
}

func (f *Font) loadSimple(r core.Resolver, dict core.Dict) {
	fd := resolveDict(r, dict.Get("FontDescriptor"))
	f.readDescriptor(fd)

	if fc, ok := dict.GetInt("FirstChar"); ok {
		f.firstChar = int(fc)
	}
	for _, w := range resolveArray(r, dict.Get("Widths")) {
		v, _ := core.ToFloat(w)
		f.widths = append(f.widths, v)
	}
	if f.Subtype == "Type3" {
		if m, ok := resolveArray(r, dict.Get("FontMatrix")).Floats(); ok && len(m) == 6 {
			f.scale = m[0]
		}
	}

	symbolic := false
	if flags, ok := fd.GetInt("Flags"); ok {
		symbolic = flags&4 != 0
	}

	var base *baseEncoding
	var diffs core.Array
	encObj, _ := r.Resolve(dict.Get("Encoding"))
	switch e := encObj.(type) {
	case core.Name:
		base = namedEncoding(string(e))
	case core.Dict:
		if n, ok := e.GetName("BaseEncoding"); ok {
			base = namedEncoding(string(n))
		}
		diffs = resolveArray(r, e.Get("Differences"))
	}
	if base == nil && !symbolic {
		if f.Subtype == "TrueType" {
			base = winAnsiEncoding
		} else {
			base = standardEncoding
		}
	}
	if base != nil {
		f.enc = *base
		f.hasEnc = true
	}

	code := 0
	for _, item := range diffs {
		switch v := item.(type) {
		case core.Int:
			code = int(v)
		case core.Name:
			if code >= 0 && code < 256 {
				if r, ok := glyphToRune(string(v)); ok {
					f.enc[code] = r
					f.hasEnc = true
				}
			}
			code++
		}
	}
}

func (f *Font) readDescriptor(fd core.Dict) {
	if fd == nil {
		return
	}
	if v, ok := core.ToFloat(fd.Get("Ascent")); ok {
		f.ascent = v / 1000
	}
	if v, ok := core.ToFloat(fd.Get("Descent")); ok {
		f.descent = v / 1000
	}
	if v, ok := core.ToFloat(fd.Get("MissingWidth")); ok {
		f.missingWidth = v
	}
}

func (f *Font) loadComposite(r core.Resolver, dict core.Dict) error {
	f.composite = true
	f.defaultWidth = 1000

	encObj, _ := r.Resolve(dict.Get("Encoding"))
	switch e := encObj.(type) {
	case core.Name:
		name := string(e)
		f.vertical = strings.HasSuffix(name, "-V")
		f.ucs2 = strings.Contains(name, "UCS2") || strings.Contains(name, "UTF16")
	case *core.Stream:
		if cm, err := ParseCMapStream(e); err == nil {
			f.encCMap = cm
		}
		if wm, ok := e.Dict.GetInt("WMode"); ok {
			f.vertical = wm == 1
		}
	}

	descendants := resolveArray(r, dict.Get("DescendantFonts"))
	if len(descendants) == 0 {
		return fmt.Errorf("font %s: Type0 font without DescendantFonts", f.Name)
	}
	cid := resolveDict(r, descendants[0])
	if cid == nil {
		return fmt.Errorf("font %s: descendant font is not a dictionary", f.Name)
	}
	f.readDescriptor(resolveDict(r, cid.Get("FontDescriptor")))
	if dw, ok := core.ToFloat(cid.Get("DW")); ok {
		f.defaultWidth = dw
	}
	f.cidWidths = parseWArray(r, resolveArray(r, cid.Get("W")))
	return nil
}

// parseWArray reads the CID width array, whose entries are either
// "c [w1 ... wn]" or "cfirst clast w".
func parseWArray(r core.Resolver, w core.Array) []cidWidth {
	var out []cidWidth
	for i := 0; i+1 < len(w); {
		first, ok := core.ToInt(w[i])
		if !ok {
			break
		}
		next, _ := r.Resolve(w[i+1])
		if list, ok := next.(core.Array); ok {
			cw := cidWidth{first: uint32(first)}
			for _, item := range list {
				v, _ := core.ToFloat(item)
				cw.widths = append(cw.widths, v)
			}
			if len(cw.widths) > 0 {
				cw.last = cw.first + uint32(len(cw.widths)) - 1
				out = append(out, cw)
			}
			i += 2
			continue
		}
		if i+2 >= len(w) {
			break
		}
		last, ok1 := core.ToInt(next)
		width, ok2 := core.ToFloat(w[i+2])
		if ok1 && ok2 && last >= first {
			out = append(out, cidWidth{first: uint32(first), last: uint32(last), width: width})
		}
		i += 3
	}
	return out
}

// Family returns the base font name without a subset tag such as "ABCDEF+".
func (f *Font) Family() string {
	name := f.BaseFont
	if i := strings.IndexByte(name, '+'); i == 6 {
		name = name[i+1:]
	}
	if name == "" {
		return "sans-serif"
	}
	return name
}

// Vertical reports whether the font writes top to bottom.
func (f *Font) Vertical() bool { return f.vertical }

// Ascent returns the ascent in text space units, or 0 when unknown.
func (f *Font) Ascent() float64 { return f.ascent }

// Descent returns the descent in text space units (usually negative).
func (f *Font) Descent() float64 { return f.descent }

// Glyphs splits a shown string into character codes and decodes each.
func (f *Font) Glyphs(data []byte) []Glyph {
	glyphs := make([]Glyph, 0, len(data))
	for len(data) > 0 {
		code, n := f.nextCode(data)
		if n == 0 {
			break
		}
		data = data[n:]
		g := Glyph{
			Code:  code,
			Text:  f.unicode(code),
			Width: f.width(code) * f.scale,
			Space: n == 1 && code == 32,
		}
		glyphs = append(glyphs, g)
	}
	return glyphs
}

func (f *Font) nextCode(data []byte) (uint32, int) {
	if !f.composite {
		return uint32(data[0]), 1
	}
	if f.encCMap != nil && f.encCMap.HasCodespace() {
		return f.encCMap.NextCode(data, 2)
	}
	if f.toUnicode != nil && f.toUnicode.HasCodespace() {
		return f.toUnicode.NextCode(data, 2)
	}
	if len(data) == 1 {
		return uint32(data[0]), 1
	}
	return uint32(data[0])<<8 | uint32(data[1]), 2
}

func (f *Font) unicode(code uint32) string {
	if f.toUnicode != nil {
		if s, ok := f.toUnicode.Lookup(code); ok {
			return s
		}
	}
	if f.composite {
		if f.ucs2 {
			return string(rune(code))
		}
		return ""
	}
	if f.hasEnc && code < 256 && f.enc[code] != 0 {
		return string(f.enc[code])
	}
	if code < 32 {
		return ""
	}
	return string(rune(code))
}

func (f *Font) width(code uint32) float64 {
	if f.composite {
		for _, cw := range f.cidWidths {
			if code < cw.first || code > cw.last {
				continue
			}
			if cw.widths != nil {
				return cw.widths[code-cw.first]
			}
			return cw.width
		}
		return f.defaultWidth
	}
	i := int(code) - f.firstChar
	if i >= 0 && i < len(f.widths) && f.widths[i] > 0 {
		return f.widths[i]
	}
	if f.missingWidth > 0 {
		return f.missingWidth
	}
	if len(f.widths) == 0 {
		// Standard 14 fonts often omit widths; use an average advance.
		return 500
	}
	return 0
}
