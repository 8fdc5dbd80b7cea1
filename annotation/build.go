package annotation

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tsawler/docworker/core"
)

// Allocator hands out object numbers for new objects.
type Allocator interface {
	NewTemporaryRef() core.IndirectRef
}

// now stamps /M on written annotations.
var now = time.Now

// pdfDate formats t as a PDF date string.
func pdfDate(t time.Time) core.String {
	return core.String(t.UTC().Format("D:20060102150405") + "Z")
}

func num(f float64) string {
	return strconv.FormatFloat(math.Round(f*1000)/1000, 'f', -1, 64)
}

func reals(fs ...float64) core.Array {
	arr := make(core.Array, len(fs))
	for i, f := range fs {
		if f == math.Trunc(f) {
			arr[i] = core.Int(int64(f))
		} else {
			arr[i] = core.Real(f)
		}
	}
	return arr
}

// rgb returns the editor color as 0-1 components, black when unset.
func (e *Editor) rgb() []float64 {
	if len(e.Color) != 3 {
		return []float64{0, 0, 0}
	}
	return []float64{float64(e.Color[0]) / 255, float64(e.Color[1]) / 255, float64(e.Color[2]) / 255}
}

func (e *Editor) opacity() float64 {
	if e.Opacity == nil {
		return 1
	}
	return math.Max(0, math.Min(1, *e.Opacity))
}

func (e *Editor) subtype() (string, error) {
	switch e.AnnotationType {
	case TypeFreeText:
		return "FreeText", nil
	case TypeInk:
		return "Ink", nil
	case TypeHighlight:
		return "Highlight", nil
	case TypeStamp:
		return "Stamp", nil
	}
	return "", fmt.Errorf("unsupported editor annotation type %d", e.AnnotationType)
}

// dict builds the annotation dictionary without its appearance.
func (e *Editor) dict(pageRef *core.IndirectRef) (core.Dict, error) {
	subtype, err := e.subtype()
	if err != nil {
		return nil, err
	}
	if len(e.Rect) != 4 {
		return nil, fmt.Errorf("%s annotation needs a four-number rect", subtype)
	}
	rect := normalizeRect(e.Rect)
	d := core.Dict{
		"Type":    core.Name("Annot"),
		"Subtype": core.Name(subtype),
		"Rect":    reals(rect...),
		"F":       core.Int(FlagPrint),
		"M":       pdfDate(now()),
		"Border":  core.Array{core.Int(0), core.Int(0), core.Int(0)},
	}
	if pageRef != nil {
		d["P"] = *pageRef
	}
	if e.Rotation != 0 {
		d["Rotate"] = core.Int(e.Rotation)
	}
	if e.ParentTreeID != nil {
		d["StructParent"] = core.Int(*e.ParentTreeID)
	}
	if e.AccessibilityData != nil && e.AccessibilityData.Alt != "" {
		d["Contents"] = core.EncodeTextString(e.AccessibilityData.Alt)
	}
	c := e.rgb()

	switch e.AnnotationType {
	case TypeFreeText:
		d["Contents"] = core.EncodeTextString(e.Value)
		d["DA"] = core.String(fmt.Sprintf("/Helv %s Tf %s %s %s rg", num(e.fontSize()), num(c[0]), num(c[1]), num(c[2])))
	case TypeInk:
		d["C"] = reals(c...)
		d["CA"] = core.Real(e.opacity())
		d["BS"] = core.Dict{"W": core.Real(e.Thickness)}
		ink := make(core.Array, 0, len(e.Paths))
		for _, p := range e.Paths {
			ink = append(ink, reals(p...))
		}
		d["InkList"] = ink
	case TypeHighlight:
		d["C"] = reals(c...)
		d["CA"] = core.Real(e.opacity())
		if len(e.QuadPoints) == 0 || len(e.QuadPoints)%8 != 0 {
			return nil, fmt.Errorf("highlight needs quad points in groups of eight")
		}
		d["QuadPoints"] = reals(e.QuadPoints...)
	case TypeStamp:
		if e.Bitmap == nil {
			return nil, fmt.Errorf("stamp annotation without bitmap")
		}
	}
	return d, nil
}

func (e *Editor) fontSize() float64 {
	if e.FontSize <= 0 {
		return 10
	}
	return e.FontSize
}

// appearance builds the /N appearance stream. Extra objects it refers to,
// such as a stamp image, are returned for writing alongside it.
func (e *Editor) appearance(alloc Allocator) (*core.Stream, map[core.IndirectRef]core.Object, error) {
	rect := normalizeRect(e.Rect)
	var buf bytes.Buffer
	res := core.Dict{}
	extra := map[core.IndirectRef]core.Object{}
	c := e.rgb()

	switch e.AnnotationType {
	case TypeFreeText:
		size := e.fontSize()
		res["Font"] = core.Dict{"Helv": core.Dict{
			"Type":     core.Name("Font"),
			"Subtype":  core.Name("Type1"),
			"BaseFont": core.Name("Helvetica"),
			"Encoding": core.Name("WinAnsiEncoding"),
		}}
		fmt.Fprintf(&buf, "q\nBT\n1 0 0 1 %s %s Tm\n", num(rect[0]+2), num(rect[3]-size))
		fmt.Fprintf(&buf, "/Helv %s Tf\n%s %s %s rg\n%s TL\n", num(size), num(c[0]), num(c[1]), num(c[2]), num(size*1.2))
		for i, line := range strings.Split(e.Value, "\n") {
			if i > 0 {
				buf.WriteString("T*\n")
			}
			var s bytes.Buffer
			core.WriteObject(&s, core.String(winAnsi(line)))
			fmt.Fprintf(&buf, "%s Tj\n", s.String())
		}
		buf.WriteString("ET\nQ")
	case TypeInk:
		fmt.Fprintf(&buf, "q\n%s w\n1 J\n1 j\n%s %s %s RG\n", num(e.Thickness), num(c[0]), num(c[1]), num(c[2]))
		if e.opacity() < 1 {
			res["ExtGState"] = core.Dict{"GS0": core.Dict{"CA": core.Real(e.opacity())}}
			buf.WriteString("/GS0 gs\n")
		}
		for _, p := range e.Paths {
			for i := 0; i+1 < len(p); i += 2 {
				op := "l"
				if i == 0 {
					op = "m"
				}
				fmt.Fprintf(&buf, "%s %s %s\n", num(p[i]), num(p[i+1]), op)
			}
			buf.WriteString("S\n")
		}
		buf.WriteString("Q")
	case TypeHighlight:
		res["ExtGState"] = core.Dict{"GS0": core.Dict{"ca": core.Real(e.opacity()), "BM": core.Name("Multiply")}}
		fmt.Fprintf(&buf, "q\n/GS0 gs\n%s %s %s rg\n", num(c[0]), num(c[1]), num(c[2]))
		q := e.QuadPoints
		for i := 0; i+8 <= len(q); i += 8 {
			// quad points are ordered ul, ur, ll, lr
			fmt.Fprintf(&buf, "%s %s m\n%s %s l\n%s %s l\n%s %s l\nf\n",
				num(q[i]), num(q[i+1]), num(q[i+2]), num(q[i+3]),
				num(q[i+6]), num(q[i+7]), num(q[i+4]), num(q[i+5]))
		}
		buf.WriteString("Q")
	case TypeStamp:
		img, smask, err := stampImage(e.Bitmap)
		if err != nil {
			return nil, nil, err
		}
		imgRef := alloc.NewTemporaryRef()
		if smask != nil {
			maskRef := alloc.NewTemporaryRef()
			extra[maskRef] = smask
			img.Dict["SMask"] = maskRef
		}
		extra[imgRef] = img
		res["XObject"] = core.Dict{"Im0": imgRef}
		fmt.Fprintf(&buf, "q\n%s 0 0 %s %s %s cm\n/Im0 Do\nQ", num(rect[2]-rect[0]), num(rect[3]-rect[1]), num(rect[0]), num(rect[1]))
	}

	stream, err := core.NewFlateStream(core.Dict{
		"Type":      core.Name("XObject"),
		"Subtype":   core.Name("Form"),
		"FormType":  core.Int(1),
		"BBox":      reals(rect...),
		"Resources": res,
	}, buf.Bytes())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to compress appearance: %w", err)
	}
	return stream, extra, nil
}

// winAnsi maps text to the single-byte encoding of the appearance font.
// Characters outside Latin-1 become '?'.
func winAnsi(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 256 {
			b.WriteByte(byte(r))
		} else {
			b.WriteByte('?')
		}
	}
	return b.String()
}

// stampImage splits RGBA pixels into an RGB image and a soft mask. The mask
// is omitted when every pixel is opaque.
func stampImage(bm *Bitmap) (*core.Stream, *core.Stream, error) {
	if bm.Width <= 0 || bm.Height <= 0 || len(bm.Data) != bm.Width*bm.Height*4 {
		return nil, nil, fmt.Errorf("bitmap %dx%d has %d bytes", bm.Width, bm.Height, len(bm.Data))
	}
	n := bm.Width * bm.Height
	rgb := make([]byte, 0, n*3)
	alpha := make([]byte, 0, n)
	opaque := true
	for i := 0; i < n; i++ {
		p := bm.Data[i*4 : i*4+4]
		rgb = append(rgb, p[0], p[1], p[2])
		alpha = append(alpha, p[3])
		if p[3] != 255 {
			opaque = false
		}
	}
	base := core.Dict{
		"Type":             core.Name("XObject"),
		"Subtype":          core.Name("Image"),
		"Width":            core.Int(bm.Width),
		"Height":           core.Int(bm.Height),
		"BitsPerComponent": core.Int(8),
	}
	imgDict := base.Clone()
	imgDict["ColorSpace"] = core.Name("DeviceRGB")
	img, err := core.NewFlateStream(imgDict, rgb)
	if err != nil {
		return nil, nil, err
	}
	if opaque {
		return img, nil, nil
	}
	maskDict := base.Clone()
	maskDict["ColorSpace"] = core.Name("DeviceGray")
	mask, err := core.NewFlateStream(maskDict, alpha)
	if err != nil {
		return nil, nil, err
	}
	return img, mask, nil
}

// Write serializes the annotation and its appearance into changes. The
// annotation keeps its existing object when it replaces one; otherwise a
// new reference is allocated. The reference used is stored in e.Ref.
func (e *Editor) Write(alloc Allocator, enc core.Encrypter, pageRef *core.IndirectRef, changes *core.ChangeSet) error {
	d, err := e.dict(pageRef)
	if err != nil {
		return err
	}
	ap, extra, err := e.appearance(alloc)
	if err != nil {
		return err
	}
	apRef := alloc.NewTemporaryRef()
	d["AP"] = core.Dict{"N": apRef}

	ref, ok := e.ExistingRef()
	if !ok {
		ref = alloc.NewTemporaryRef()
	}
	e.Ref = &ref

	if err := changes.PutObject(ref, d, enc, false); err != nil {
		return fmt.Errorf("failed to write annotation %s: %w", ref, err)
	}
	if err := changes.PutObject(apRef, ap, enc, false); err != nil {
		return fmt.Errorf("failed to write appearance %s: %w", apRef, err)
	}
	for xref, obj := range extra {
		if err := changes.PutObject(xref, obj, enc, false); err != nil {
			return fmt.Errorf("failed to write image %s: %w", xref, err)
		}
	}
	return nil
}

// WriteNew writes the editors of one page and rewrites the page's /Annots
// array: new annotations are appended and deleted ones removed.
func WriteNew(r core.Resolver, alloc Allocator, enc core.Encrypter, pageRef core.IndirectRef, pageDict core.Dict, editors []*Editor, changes *core.ChangeSet) error {
	var annots core.Array
	if obj, err := r.Resolve(pageDict.Get("Annots")); err == nil {
		if arr, ok := obj.(core.Array); ok {
			annots = append(annots, arr...)
		}
	}
	present := make(map[core.IndirectRef]bool, len(annots))
	for _, a := range annots {
		if ref, ok := a.(core.IndirectRef); ok {
			present[ref] = true
		}
	}

	deleted := make(map[core.IndirectRef]bool)
	for _, e := range editors {
		if e.Deleted {
			if ref, ok := e.ExistingRef(); ok {
				deleted[ref] = true
			}
			continue
		}
		if err := e.Write(alloc, enc, &pageRef, changes); err != nil {
			return err
		}
		if !present[*e.Ref] {
			annots = append(annots, *e.Ref)
			present[*e.Ref] = true
		}
	}

	out := make(core.Array, 0, len(annots))
	for _, a := range annots {
		if ref, ok := a.(core.IndirectRef); ok && deleted[ref] {
			continue
		}
		out = append(out, a)
	}
	page := pageDict.Clone()
	page["Annots"] = out
	if err := changes.PutObject(pageRef, page, enc, false); err != nil {
		return fmt.Errorf("failed to write page %s: %w", pageRef, err)
	}
	return nil
}
