package document

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/pages"
	"github.com/tsawler/docworker/structtree"
	"github.com/tsawler/docworker/text"
)

// Annotation modes of operator list requests.
const (
	AnnotationModeDisable = iota
	AnnotationModeEnable
	AnnotationModeEnableForms
	AnnotationModeEnableStorage
)

// maxFormDepth bounds nested form XObjects in operator lists.
const maxFormDepth = 15

// checkEvery is how many operations run between cancellation checks.
const checkEvery = 100

// Page is one loaded page of a document.
type Page struct {
	m     *Manager
	index int
	page  *pages.Page
}

// Index returns the page's 0-based index.
func (p *Page) Index() int { return p.index }

// Ref returns the page object reference, nil for direct page dictionaries.
func (p *Page) Ref() *core.IndirectRef { return p.page.Ref() }

// Dict returns the page dictionary.
func (p *Page) Dict() core.Dict { return p.page.Dict() }

// Rotate returns the normalized /Rotate.
func (p *Page) Rotate() int { return p.page.Rotate() }

// UserUnit returns the /UserUnit scale.
func (p *Page) UserUnit() float64 { return p.page.UserUnit() }

// View returns the visible box of the page.
func (p *Page) View() ([]float64, error) { return p.page.View() }

func (p *Page) resources() core.Dict {
	res, err := p.page.Resources()
	if err != nil || res == nil {
		return core.Dict{}
	}
	return res
}

// OperatorListOptions selects what an operator list contains.
type OperatorListOptions struct {
	// Intent is "display", "print" or "any" and filters annotations.
	Intent         string
	AnnotationMode int
	ChunkSize      int
}

// OperatorList streams the drawing instructions of the page in chunks.
// Forms are expanded inline; images and fonts are announced once with a
// dependency entry. Visible annotation appearances follow the page
// content. Malformed content ends the list early instead of failing it.
func (p *Page) OperatorList(ctx context.Context, opts OperatorListOptions, emit func(contentstream.Chunk) error) error {
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return err
	}
	b := contentstream.NewListBuilder(opts.ChunkSize, emit)
	ev := &evaluator{
		ctx:   ctx,
		m:     p.m,
		r:     xref,
		b:     b,
		known: make(map[string]bool),
	}

	data, err := p.page.ContentData()
	if err != nil {
		p.m.log.Warn("page content unreadable", "page", p.index, "error", err)
	}
	if err := ev.run(data, p.resources(), 0); err != nil {
		return err
	}

	if opts.AnnotationMode != AnnotationModeDisable {
		if err := p.annotationOps(ev, opts.Intent); err != nil {
			return err
		}
	}
	return b.Close()
}

func (p *Page) annotationOps(ev *evaluator, intent string) error {
	annots, err := p.page.Annots()
	if err != nil {
		p.m.log.Warn("page annotations unreadable", "page", p.index, "error", err)
		return nil
	}
	for _, item := range annots {
		var ref *core.IndirectRef
		if rf, ok := item.(core.IndirectRef); ok {
			ref = &rf
		}
		obj, err := ev.r.Resolve(item)
		if err != nil {
			continue
		}
		dict, ok := obj.(core.Dict)
		if !ok {
			continue
		}
		data, err := annotation.Parse(ev.r, ref, dict)
		if err != nil || !annotation.Visible(data.AnnotationFlags, intent) {
			continue
		}
		ap := annotation.Appearance(ev.r, dict)
		if ap == nil {
			continue
		}
		content, err := ap.Decode()
		if err != nil {
			p.m.log.Warn("annotation appearance unreadable", "id", data.ID, "error", err)
			continue
		}
		matrix := floatsOr(ev.r, ap.Dict.Get("Matrix"), []float64{1, 0, 0, 1, 0, 0})
		if err := ev.b.Add(contentstream.OpBeginAnnotation, []any{data.ID, data.Rect, matrix}); err != nil {
			return err
		}
		res, _ := resolveDict(ev.r, ap.Dict.Get("Resources"))
		if res == nil {
			res = core.Dict{}
		}
		if err := ev.run(content, res, 1); err != nil {
			return err
		}
		if err := ev.b.Add(contentstream.OpEndAnnotation, nil); err != nil {
			return err
		}
	}
	return nil
}

type evaluator struct {
	ctx   context.Context
	m     *Manager
	r     *core.XRef
	b     *contentstream.ListBuilder
	known map[string]bool
	ops   int
}

func (ev *evaluator) run(data []byte, resources core.Dict, depth int) error {
	parser := contentstream.NewParser(data)
	for {
		ev.ops++
		if ev.ops%checkEvery == 0 {
			if err := ev.ctx.Err(); err != nil {
				return err
			}
		}
		op, err := parser.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			ev.m.log.Warn("content stream parse error", "error", err)
			return nil
		}
		code, args, err := contentstream.Translate(op)
		if err != nil {
			ev.m.log.Debug("skipping operator", "error", err)
			continue
		}
		switch code {
		case contentstream.OpSetFont:
			name, _ := args[0].(string)
			key := ev.font(resources, name)
			err = ev.b.Add(code, []any{key, args[1]})
		case contentstream.OpPaintXObject:
			name, _ := args[0].(string)
			err = ev.xobject(resources, name, depth)
		case contentstream.OpBeginInlineImage:
			var dict core.Dict
			if len(op.Operands) > 0 {
				dict, _ = op.Operands[0].(core.Dict)
			}
			w, _ := core.ToInt(firstOf(dict, "W", "Width"))
			h, _ := core.ToInt(firstOf(dict, "H", "Height"))
			err = ev.b.Add(contentstream.OpPaintInlineImageXObject, []any{map[string]int{"width": w, "height": h}})
		default:
			err = ev.b.Add(code, args)
		}
		if err != nil {
			return err
		}
	}
}

func firstOf(d core.Dict, keys ...string) core.Object {
	for _, k := range keys {
		if v := d.Get(k); v != nil {
			return v
		}
	}
	return nil
}

// dependency announces key once per operator list.
func (ev *evaluator) dependency(key string) error {
	if ev.known[key] {
		return nil
	}
	ev.known[key] = true
	return ev.b.Add(contentstream.OpDependency, []any{key})
}

// font loads the named font resource and returns the key it is known by.
func (ev *evaluator) font(resources core.Dict, name string) string {
	fonts, _ := resolveDict(ev.r, resources.Get("Font"))
	obj := fonts.Get(name)
	if obj == nil {
		ev.m.log.Debug("font resource missing", "name", name)
		return name
	}
	key := name
	if ref, ok := obj.(core.IndirectRef); ok {
		key = ref.Key()
	}
	ev.m.fonts.Load(ev.r, obj)
	if err := ev.dependency(key); err != nil {
		ev.m.log.Debug("font dependency not sent", "error", err)
	}
	return key
}

func (ev *evaluator) xobject(resources core.Dict, name string, depth int) error {
	xobjects, _ := resolveDict(ev.r, resources.Get("XObject"))
	raw := xobjects.Get(name)
	obj, err := ev.r.Resolve(raw)
	if err != nil {
		ev.m.log.Debug("xobject unreadable", "name", name, "error", err)
		return nil
	}
	stream, ok := obj.(*core.Stream)
	if !ok {
		return nil
	}
	key := "img_" + name
	if ref, ok := raw.(core.IndirectRef); ok {
		key = ref.Key()
	}

	switch subtype, _ := stream.Dict.GetName("Subtype"); subtype {
	case "Image":
		if err := ev.dependency(key); err != nil {
			return err
		}
		w, _ := core.ToInt(stream.Dict.Get("Width"))
		h, _ := core.ToInt(stream.Dict.Get("Height"))
		return ev.b.Add(contentstream.OpPaintImageXObject, []any{key, w, h})
	case "Form":
		if depth >= maxFormDepth {
			ev.m.log.Warn("form xobjects nested too deeply", "name", name)
			return nil
		}
		data, err := stream.Decode()
		if err != nil {
			ev.m.log.Warn("form xobject unreadable", "name", name, "error", err)
			return nil
		}
		matrix := floatsOr(ev.r, stream.Dict.Get("Matrix"), []float64{1, 0, 0, 1, 0, 0})
		bbox := floatsOr(ev.r, stream.Dict.Get("BBox"), nil)
		if err := ev.b.Add(contentstream.OpPaintFormXObjectBegin, []any{matrix, bbox}); err != nil {
			return err
		}
		formRes, _ := resolveDict(ev.r, stream.Dict.Get("Resources"))
		if formRes == nil {
			formRes = resources
		}
		if err := ev.run(data, formRes, depth+1); err != nil {
			return err
		}
		return ev.b.Add(contentstream.OpPaintFormXObjectEnd, nil)
	}
	return nil
}

// TextOptions selects what a text content stream contains.
type TextOptions struct {
	IncludeMarkedContent bool
	DisableNormalization bool
}

// TextContent streams the text runs of the page.
func (p *Page) TextContent(ctx context.Context, opts TextOptions, emit func(text.Chunk) error) error {
	catalog, xref, err := p.m.catalogOrErr()
	if err != nil {
		return err
	}
	data, err := p.page.ContentData()
	if err != nil {
		return fmt.Errorf("failed to read page %d content: %w", p.index, err)
	}
	lang := ""
	if s, ok := resolveString(xref, catalog.Dict().Get("Lang")); ok {
		lang = s
	}
	prefix := "p" + fmt.Sprint(p.index) + "_mc"
	if ref := p.Ref(); ref != nil {
		prefix = "p" + ref.Key() + "_mc"
	}
	ex := text.NewExtractor(xref, p.m.fonts, text.Options{
		IncludeMarkedContent: opts.IncludeMarkedContent,
		DisableNormalization: opts.DisableNormalization,
		Lang:                 lang,
		IDPrefix:             prefix,
	})
	return ex.Extract(ctx, data, p.resources(), emit)
}

// Annotations describes the annotations visible for intent.
func (p *Page) Annotations(ctx context.Context, intent string) ([]*annotation.Data, error) {
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	annots, err := p.page.Annots()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return annotation.Collect(xref, annots, intent), nil
}

// AnnotRefs returns the keys of the indirect entries of /Annots in order.
// Inline annotation dictionaries have no reference and are skipped.
func (p *Page) AnnotRefs() ([]string, error) {
	annots, err := p.page.Annots()
	if err != nil {
		return nil, err
	}
	refs := make([]string, 0, len(annots))
	for _, a := range annots {
		if ref, ok := a.(core.IndirectRef); ok {
			refs = append(refs, ref.Key())
		}
	}
	return refs, nil
}

// StructTree returns the structure tree restricted to this page, or nil
// when the document is untagged or the page has no references.
func (p *Page) StructTree(ctx context.Context) (*structtree.Node, error) {
	root, err := p.m.StructTreeRoot(ctx)
	if err != nil || root == nil {
		return nil, err
	}
	ref := p.Ref()
	if ref == nil {
		return nil, nil
	}
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	var parents []int
	annots, _ := p.page.Annots()
	for _, item := range annots {
		if d, ok := resolveDict(xref, item); ok {
			if sp, ok := core.ToInt(d.Get("StructParent")); ok {
				parents = append(parents, sp)
			}
		}
	}
	return root.PageTree(*ref, p.Dict(), parents), nil
}

// JSActions returns the page open and close scripts.
func (p *Page) JSActions(ctx context.Context) (map[string][]string, error) {
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	aa, _ := resolveDict(xref, p.Dict().Get("AA"))
	return collectActions(xref, aa, map[string]string{"O": "PageOpen", "C": "PageClose"}), nil
}

// Save writes the new values of existing form fields on this page. check,
// when not nil, is consulted before each widget and stops the save with
// its error.
func (p *Page) Save(ctx context.Context, fields map[core.IndirectRef]annotation.FieldValue, changes *core.ChangeSet, check func() error) error {
	if len(fields) == 0 {
		return nil
	}
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return err
	}
	annots, err := p.page.Annots()
	if err != nil {
		return err
	}
	return annotation.SaveFields(xref, p.m.Encrypter(), annots, fields, changes, check)
}

// SaveNewAnnotations writes annotations created by the host's editors and
// rewrites the page's /Annots.
func (p *Page) SaveNewAnnotations(ctx context.Context, editors []*annotation.Editor, changes *core.ChangeSet) error {
	ref := p.Ref()
	if ref == nil {
		return ErrNoPageRef
	}
	xref, err := p.m.xrefOrErr()
	if err != nil {
		return err
	}
	return annotation.WriteNew(xref, xref, p.m.Encrypter(), *ref, p.Dict(), editors, changes)
}
