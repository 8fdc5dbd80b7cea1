package text

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/core"
)

// DefaultChunkSize is the number of items sent per text content chunk.
const DefaultChunkSize = 100

// maxFormDepth bounds nested form XObjects.
const maxFormDepth = 15

// spaceFactor is the TJ adjustment, as a fraction of the font size, from
// which a gap counts as a word break.
const spaceFactor = 0.25

// Item is one entry of a text content stream: a run of text, or a marked
// content boundary when Type is set.
type Item struct {
	Str       string     `json:"str"`
	Dir       string     `json:"dir"`
	Width     float64    `json:"width"`
	Height    float64    `json:"height"`
	Transform [6]float64 `json:"transform"`
	FontName  string     `json:"fontName"`
	HasEOL    bool       `json:"hasEOL"`

	Type string `json:"type,omitempty"`
	Tag  string `json:"tag,omitempty"`
	ID   string `json:"id,omitempty"`
}

// MarshalJSON writes marked content items with only their marker fields.
func (it Item) MarshalJSON() ([]byte, error) {
	if it.Type != "" {
		return json.Marshal(struct {
			Type string `json:"type"`
			Tag  string `json:"tag,omitempty"`
			ID   string `json:"id,omitempty"`
		}{it.Type, it.Tag, it.ID})
	}
	type plain Item
	return json.Marshal(plain(it))
}

// Style describes a font referenced by Item.FontName.
type Style struct {
	FontFamily string  `json:"fontFamily"`
	Ascent     float64 `json:"ascent"`
	Descent    float64 `json:"descent"`
	Vertical   bool    `json:"vertical"`
}

// Chunk is one message of a text content stream. Styles only holds fonts
// not described by an earlier chunk.
type Chunk struct {
	Items  []Item           `json:"items"`
	Styles map[string]Style `json:"styles"`
	Lang   string           `json:"lang,omitempty"`
}

// Options controls text content extraction.
type Options struct {
	IncludeMarkedContent bool
	DisableNormalization bool
	ChunkSize            int
	Lang                 string
	// IDPrefix prefixes marked content ids, e.g. "p12R_mc".
	IDPrefix string
}

// FontCache shares loaded fonts between the pages of one document.
type FontCache struct {
	mu     sync.Mutex
	fonts  map[core.IndirectRef]*Font
	direct int
}

// NewFontCache returns an empty cache.
func NewFontCache() *FontCache {
	return &FontCache{fonts: make(map[core.IndirectRef]*Font)}
}

// Load returns the font for the font resource obj, loading it on first use.
// Fonts that cannot be loaded are replaced by a fallback so text keeps
// flowing.
func (c *FontCache) Load(r core.Resolver, obj core.Object) *Font {
	ref, isRef := obj.(core.IndirectRef)
	c.mu.Lock()
	if isRef {
		if f, ok := c.fonts[ref]; ok {
			c.mu.Unlock()
			return f
		}
	}
	var name string
	if isRef {
		name = fmt.Sprintf("f%d_%d", ref.Number, ref.Generation)
	} else {
		c.direct++
		name = fmt.Sprintf("fd%d", c.direct)
	}
	c.mu.Unlock()

	f, err := LoadFont(r, name, resolveDict(r, obj))
	if err != nil {
		f = fallbackFont(name)
	}
	if isRef {
		c.mu.Lock()
		if existing, ok := c.fonts[ref]; ok {
			f = existing
		} else {
			c.fonts[ref] = f
		}
		c.mu.Unlock()
	}
	return f
}

// Len returns the number of cached fonts.
func (c *FontCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fonts)
}

// Clear drops every cached font.
func (c *FontCache) Clear() {
	c.mu.Lock()
	c.fonts = make(map[core.IndirectRef]*Font)
	c.mu.Unlock()
}

func fallbackFont(name string) *Font {
	return &Font{
		Name:     name,
		BaseFont: "Helvetica",
		Subtype:  "Type1",
		enc:      *standardEncoding,
		hasEnc:   true,
		scale:    0.001,
	}
}

// Extractor turns page content streams into text content chunks.
type Extractor struct {
	resolver core.Resolver
	fonts    *FontCache
	opts     Options
}

// NewExtractor creates an extractor. fonts may be shared between extractors
// of the same document.
func NewExtractor(r core.Resolver, fonts *FontCache, opts Options) *Extractor {
	if fonts == nil {
		fonts = NewFontCache()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Extractor{resolver: r, fonts: fonts, opts: opts}
}

type textState struct {
	ctm         Matrix
	font        *Font
	fontSize    float64
	charSpacing float64
	wordSpacing float64
	hScale      float64
	leading     float64
	rise        float64
}

// run is the state of one Extract call.
type run struct {
	e      *Extractor
	ctx    context.Context
	emit   func(Chunk) error
	gs     textState
	stack  []textState
	tm     Matrix
	tlm    Matrix
	items  []Item
	styles map[string]Style
	sent   map[string]bool
	// last is the index in items of the previous text item, -1 if none.
	last          int
	lastEndX      float64
	lastY         float64
	lastEndValid  bool
	lastEndsSpace bool
	ops           int
}

// Extract interprets content with resources and sends the text it shows
// through emit in chunks of at most ChunkSize items. The last chunk is sent
// even when it is empty. Extraction stops at the first emit error.
func (e *Extractor) Extract(ctx context.Context, content []byte, resources core.Dict, emit func(Chunk) error) error {
	r := &run{
		e:      e,
		ctx:    ctx,
		emit:   emit,
		gs:     textState{ctm: Identity(), hScale: 1},
		tm:     Identity(),
		tlm:    Identity(),
		styles: make(map[string]Style),
		sent:   make(map[string]bool),
		last:   -1,
	}
	if err := r.interpret(content, resources, 0); err != nil {
		return err
	}
	return r.flush(true)
}

func (r *run) interpret(content []byte, resources core.Dict, depth int) error {
	p := contentstream.NewParser(content)
	for {
		op, err := p.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to parse content stream: %w", err)
		}
		r.ops++
		if r.ops%256 == 0 {
			if err := r.ctx.Err(); err != nil {
				return err
			}
		}
		if err := r.apply(op, resources, depth); err != nil {
			return err
		}
	}
}

func num(ops []core.Object, i int) float64 {
	if i < 0 || i >= len(ops) {
		return 0
	}
	v, _ := core.ToFloat(ops[i])
	return v
}

func (r *run) apply(op contentstream.Operation, resources core.Dict, depth int) error {
	args := op.Operands
	n := len(args)
	switch op.Operator {
	case "q":
		r.stack = append(r.stack, r.gs)
	case "Q":
		if len(r.stack) > 0 {
			r.gs = r.stack[len(r.stack)-1]
			r.stack = r.stack[:len(r.stack)-1]
		}
	case "cm":
		if n >= 6 {
			m := Matrix{num(args, n-6), num(args, n-5), num(args, n-4), num(args, n-3), num(args, n-2), num(args, n-1)}
			r.gs.ctm = m.Mul(r.gs.ctm)
		}
	case "BT":
		r.tm, r.tlm = Identity(), Identity()
	case "Tf":
		if n >= 2 {
			name, _ := args[n-2].(core.Name)
			r.gs.font = r.loadFont(resources, string(name))
			r.gs.fontSize = num(args, n-1)
		}
	case "Tc":
		r.gs.charSpacing = num(args, n-1)
	case "Tw":
		r.gs.wordSpacing = num(args, n-1)
	case "Tz":
		r.gs.hScale = num(args, n-1) / 100
	case "TL":
		r.gs.leading = num(args, n-1)
	case "Ts":
		r.gs.rise = num(args, n-1)
	case "Td":
		r.moveText(num(args, n-2), num(args, n-1))
	case "TD":
		r.gs.leading = -num(args, n-1)
		r.moveText(num(args, n-2), num(args, n-1))
	case "Tm":
		if n >= 6 {
			m := Matrix{num(args, n-6), num(args, n-5), num(args, n-4), num(args, n-3), num(args, n-2), num(args, n-1)}
			r.tm, r.tlm = m, m
		}
	case "T*":
		r.moveText(0, -r.gs.leading)
	case "Tj":
		if n >= 1 {
			return r.show(core.Array{args[n-1]})
		}
	case "TJ":
		if n >= 1 {
			if arr, ok := args[n-1].(core.Array); ok {
				return r.show(arr)
			}
		}
	case "'":
		r.moveText(0, -r.gs.leading)
		if n >= 1 {
			return r.show(core.Array{args[n-1]})
		}
	case "\"":
		if n >= 3 {
			r.gs.wordSpacing = num(args, n-3)
			r.gs.charSpacing = num(args, n-2)
			r.moveText(0, -r.gs.leading)
			return r.show(core.Array{args[n-1]})
		}
	case "Do":
		if n >= 1 {
			name, _ := args[n-1].(core.Name)
			return r.paintForm(resources, string(name), depth)
		}
	case "BMC":
		if n >= 1 {
			tag, _ := args[n-1].(core.Name)
			return r.marked(Item{Type: "beginMarkedContent", Tag: string(tag)})
		}
	case "BDC":
		return r.beginMarkedProps(args, resources)
	case "EMC":
		return r.marked(Item{Type: "endMarkedContent"})
	}
	return nil
}

func (r *run) moveText(tx, ty float64) {
	r.tlm = Translate(tx, ty).Mul(r.tlm)
	r.tm = r.tlm
}

func (r *run) loadFont(resources core.Dict, name string) *Font {
	fonts := resolveDict(r.e.resolver, resources.Get("Font"))
	obj := fonts.Get(name)
	if obj == nil {
		return fallbackFont("fallback_" + name)
	}
	return r.e.fonts.Load(r.e.resolver, obj)
}

func (r *run) paintForm(resources core.Dict, name string, depth int) error {
	if depth >= maxFormDepth {
		return nil
	}
	xobjects := resolveDict(r.e.resolver, resources.Get("XObject"))
	obj, err := r.e.resolver.Resolve(xobjects.Get(name))
	if err != nil {
		return nil
	}
	form, ok := obj.(*core.Stream)
	if !ok {
		return nil
	}
	if st, _ := form.Dict.GetName("Subtype"); st != "Form" {
		return nil
	}
	data, err := form.Decode()
	if err != nil {
		return nil
	}

	saved, savedStack := r.gs, r.stack
	r.stack = nil
	if m, ok := resolveArray(r.e.resolver, form.Dict.Get("Matrix")).Floats(); ok {
		if fm, ok := matrixFrom(m); ok {
			r.gs.ctm = fm.Mul(r.gs.ctm)
		}
	}
	formRes := resolveDict(r.e.resolver, form.Dict.Get("Resources"))
	if formRes == nil {
		formRes = resources
	}
	err = r.interpret(data, formRes, depth+1)
	r.gs, r.stack = saved, savedStack
	return err
}

func (r *run) beginMarkedProps(args []core.Object, resources core.Dict) error {
	if len(args) < 2 {
		return r.marked(Item{Type: "beginMarkedContent"})
	}
	tag, _ := args[0].(core.Name)
	var props core.Dict
	switch p := args[1].(type) {
	case core.Dict:
		props = p
	case core.Name:
		props = resolveDict(r.e.resolver, resolveDict(r.e.resolver, resources.Get("Properties")).Get(string(p)))
	}
	if mcid, ok := props.GetInt("MCID"); ok {
		return r.marked(Item{
			Type: "beginMarkedContentProps",
			Tag:  string(tag),
			ID:   fmt.Sprintf("%s%d", r.e.opts.IDPrefix, mcid),
		})
	}
	return r.marked(Item{Type: "beginMarkedContentProps", Tag: string(tag)})
}

func (r *run) marked(it Item) error {
	if !r.e.opts.IncludeMarkedContent {
		return nil
	}
	return r.push(it)
}

// show handles the operands of the text showing operators: strings and,
// for TJ, position adjustments in thousandths of text space.
func (r *run) show(parts core.Array) error {
	font := r.gs.font
	if font == nil {
		font = fallbackFont("fallback")
		r.gs.font = font
	}
	gs := r.gs
	trm := Matrix{gs.fontSize * gs.hScale, 0, 0, gs.fontSize, 0, gs.rise}.Mul(r.tm).Mul(gs.ctm)
	start := r.tm.Mul(gs.ctm)

	var sb strings.Builder
	advance := 0.0
	for _, part := range parts {
		switch v := part.(type) {
		case core.String:
			for _, g := range font.Glyphs([]byte(v)) {
				sb.WriteString(g.Text)
				var d float64
				if font.vertical {
					d = -gs.fontSize + gs.charSpacing
					if g.Space {
						d += gs.wordSpacing
					}
					r.tm = Translate(0, d).Mul(r.tm)
					advance -= d
					continue
				}
				d = (g.Width*gs.fontSize + gs.charSpacing) * gs.hScale
				if g.Space {
					d += gs.wordSpacing * gs.hScale
				}
				r.tm = Translate(d, 0).Mul(r.tm)
				advance += d
			}
		case core.Int, core.Real:
			adj, _ := core.ToFloat(v)
			d := -adj / 1000 * gs.fontSize
			if font.vertical {
				r.tm = Translate(0, d).Mul(r.tm)
				advance -= d
				continue
			}
			d *= gs.hScale
			r.tm = Translate(d, 0).Mul(r.tm)
			advance += d
			if -adj/1000 >= spaceFactor && sb.Len() > 0 && !strings.HasSuffix(sb.String(), " ") {
				sb.WriteByte(' ')
			}
		}
	}

	str := sb.String()
	if str == "" {
		return nil
	}
	if !r.e.opts.DisableNormalization {
		str = norm.NFKC.String(str)
	}

	height := trm.yScale()
	item := Item{
		Str:       str,
		Transform: [6]float64(trm),
		FontName:  font.Name,
		Height:    height,
	}
	if font.vertical {
		item.Dir = TTB.String()
		item.Width = trm.xScale()
		item.Height = advance * start.yScale()
	} else {
		item.Dir = DetectDirection(str).String()
		item.Width = advance * start.xScale()
	}
	if !r.sent[font.Name] {
		r.sent[font.Name] = true
		r.styles[font.Name] = Style{
			FontFamily: font.Family(),
			Ascent:     font.Ascent(),
			Descent:    font.Descent(),
			Vertical:   font.vertical,
		}
	}

	x0, y0 := trm[4], trm[5]
	if err := r.separate(item, x0, y0); err != nil {
		return err
	}
	if err := r.push(item); err != nil {
		return err
	}
	r.last = len(r.items) - 1
	endX, _ := start.Transform(advance, 0)
	r.lastEndX, r.lastY = endX, y0
	r.lastEndValid = !font.vertical
	r.lastEndsSpace = strings.HasSuffix(str, " ")
	return nil
}

// separate marks line ends on the previous item and inserts a space item
// when a horizontal gap separates it from the next.
func (r *run) separate(next Item, x, y float64) error {
	if r.last < 0 || r.last >= len(r.items) || !r.lastEndValid || next.Dir == TTB.String() {
		return nil
	}
	prev := &r.items[r.last]
	if math.Abs(y-r.lastY) > math.Max(prev.Height, next.Height)/2 {
		prev.HasEOL = true
		return nil
	}
	gap := x - r.lastEndX
	if gap > next.Height*spaceFactor && !r.lastEndsSpace && !strings.HasPrefix(next.Str, " ") {
		return r.push(Item{
			Str:       " ",
			Dir:       "ltr",
			Width:     gap,
			Transform: [6]float64{next.Height, 0, 0, next.Height, r.lastEndX, y},
			FontName:  prev.FontName,
		})
	}
	return nil
}

func (r *run) push(it Item) error {
	r.items = append(r.items, it)
	if len(r.items) > r.e.opts.ChunkSize {
		return r.flush(false)
	}
	return nil
}

// flush sends buffered items. Unless final, the newest item is held back so
// a later line break can still be recorded on it.
func (r *run) flush(final bool) error {
	send := r.items
	var keep []Item
	if !final && len(send) > 0 {
		send, keep = send[:len(send)-1], []Item{send[len(send)-1]}
	}
	chunk := Chunk{Items: send, Styles: r.styles, Lang: r.e.opts.Lang}
	if chunk.Items == nil {
		chunk.Items = []Item{}
	}
	if err := r.emit(chunk); err != nil {
		return err
	}
	if r.last >= 0 {
		r.last -= len(send)
	}
	r.items = keep
	r.styles = make(map[string]Style)
	return nil
}
