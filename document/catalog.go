package document

import (
	"context"
	"fmt"
	"sort"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/core"
	"github.com/tsawler/docworker/crypt"
	"github.com/tsawler/docworker/pages"
)

// destination unwraps the /D of destination dictionaries.
func destination(r core.Resolver, obj core.Object) any {
	if d, ok := resolveDict(r, obj); ok {
		obj = d.Get("D")
	}
	if arr := resolveArray(r, obj); arr == nil {
		return nil
	}
	return annotation.DestValue(r, obj)
}

// Destinations returns every named destination, from the /Dests name tree
// and the older /Dests dictionary of the catalog.
func (m *Manager) Destinations(ctx context.Context) (map[string]any, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any)
	if d, ok := resolveDict(xref, catalog.Dict().Get("Dests")); ok {
		for name, v := range d {
			if dest := destination(xref, v); dest != nil {
				out[name] = dest
			}
		}
	}
	if names, ok := resolveDict(xref, catalog.Dict().Get("Names")); ok {
		err := core.WalkNameTree(xref, names.Get("Dests"), func(key string, v core.Object) error {
			if dest := destination(xref, v); dest != nil {
				out[key] = dest
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read named destinations: %w", err)
		}
	}
	return out, nil
}

// Destination looks up one named destination; nil when it is unknown.
func (m *Manager) Destination(ctx context.Context, id string) (any, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	if names, ok := resolveDict(xref, catalog.Dict().Get("Names")); ok && names.Has("Dests") {
		v, err := core.NameTreeLookup(xref, names.Get("Dests"), id)
		if err != nil {
			return nil, fmt.Errorf("failed to look up destination %q: %w", id, err)
		}
		if v != nil {
			return destination(xref, v), nil
		}
	}
	if d, ok := resolveDict(xref, catalog.Dict().Get("Dests")); ok {
		return destination(xref, d.Get(id)), nil
	}
	return nil, nil
}

// PageLabels returns one label per page, or nil without /PageLabels.
func (m *Manager) PageLabels(ctx context.Context) ([]string, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	n, err := m.NumPages(ctx)
	if err != nil {
		return nil, err
	}
	return pages.Labels(xref, catalog.Dict().Get("PageLabels"), n)
}

var pageLayouts = map[string]bool{
	"SinglePage": true, "OneColumn": true, "TwoColumnLeft": true,
	"TwoColumnRight": true, "TwoPageLeft": true, "TwoPageRight": true,
}

// PageLayout returns /PageLayout, or "" when absent or invalid.
func (m *Manager) PageLayout(ctx context.Context) (string, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return "", err
	}
	if name, ok := resolveName(xref, catalog.Dict().Get("PageLayout")); ok && pageLayouts[name] {
		return name, nil
	}
	return "", nil
}

var pageModes = map[string]bool{
	"UseNone": true, "UseOutlines": true, "UseThumbs": true,
	"FullScreen": true, "UseOC": true, "UseAttachments": true,
}

// PageMode returns /PageMode, defaulting to UseNone.
func (m *Manager) PageMode(ctx context.Context) (string, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return "", err
	}
	if name, ok := resolveName(xref, catalog.Dict().Get("PageMode")); ok && pageModes[name] {
		return name, nil
	}
	return "UseNone", nil
}

var (
	viewerBools = []string{"HideToolbar", "HideMenubar", "HideWindowUI", "FitWindow", "CenterWindow", "DisplayDocTitle", "PickTrayByPDFSize"}
	viewerNames = map[string][]string{
		"NonFullScreenPageMode": {"UseNone", "UseOutlines", "UseThumbs", "UseOC"},
		"Direction":             {"L2R", "R2L"},
		"ViewArea":              {"MediaBox", "CropBox", "BleedBox", "TrimBox", "ArtBox"},
		"ViewClip":              {"MediaBox", "CropBox", "BleedBox", "TrimBox", "ArtBox"},
		"PrintArea":             {"MediaBox", "CropBox", "BleedBox", "TrimBox", "ArtBox"},
		"PrintClip":             {"MediaBox", "CropBox", "BleedBox", "TrimBox", "ArtBox"},
		"PrintScaling":          {"None", "AppDefault"},
		"Duplex":                {"Simplex", "DuplexFlipShortEdge", "DuplexFlipLongEdge"},
	}
)

// ViewerPreferences returns the valid /ViewerPreferences entries, or nil.
func (m *Manager) ViewerPreferences(ctx context.Context) (map[string]any, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	prefs, ok := resolveDict(xref, catalog.Dict().Get("ViewerPreferences"))
	if !ok {
		return nil, nil
	}
	out := make(map[string]any)
	for _, key := range viewerBools {
		if v, err := xref.Resolve(prefs.Get(key)); err == nil {
			if b, ok := v.(core.Bool); ok {
				out[key] = bool(b)
			}
		}
	}
	for key, allowed := range viewerNames {
		name, ok := resolveName(xref, prefs.Get(key))
		if !ok {
			continue
		}
		for _, a := range allowed {
			if a == name {
				out[key] = name
				break
			}
		}
	}
	if n, ok := core.ToInt(prefs.Get("NumCopies")); ok && n > 0 {
		out["NumCopies"] = n
	}
	if arr := resolveArray(xref, prefs.Get("PrintPageRange")); len(arr) > 0 && len(arr)%2 == 0 {
		ranges := make([]int, 0, len(arr))
		for _, item := range arr {
			n, ok := core.ToInt(item)
			if !ok || n < 0 {
				ranges = nil
				break
			}
			ranges = append(ranges, n)
		}
		if ranges != nil {
			out["PrintPageRange"] = ranges
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// OpenAction is the catalog's /OpenAction: a destination or a named
// action.
type OpenAction struct {
	Dest   any    `json:"dest,omitempty"`
	Action string `json:"action,omitempty"`
}

// OpenAction returns the open action, or nil.
func (m *Manager) OpenAction(ctx context.Context) (*OpenAction, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	obj := catalog.Dict().Get("OpenAction")
	if arr := resolveArray(xref, obj); arr != nil {
		return &OpenAction{Dest: annotation.DestValue(xref, arr)}, nil
	}
	action, ok := resolveDict(xref, obj)
	if !ok {
		return nil, nil
	}
	switch s, _ := action.GetName("S"); s {
	case "GoTo":
		if dest := destination(xref, action.Get("D")); dest != nil {
			return &OpenAction{Dest: dest}, nil
		}
		if name, ok := resolveString(xref, action.Get("D")); ok {
			return &OpenAction{Dest: name}, nil
		}
	case "Named":
		if name, ok := resolveName(xref, action.Get("N")); ok {
			return &OpenAction{Action: name}, nil
		}
	}
	return nil, nil
}

// Attachment is an embedded file.
type Attachment struct {
	Filename    string `json:"filename"`
	RawFilename string `json:"rawFilename"`
	Content     []byte `json:"content"`
	Description string `json:"description,omitempty"`
}

// Attachments returns the files of the /EmbeddedFiles name tree keyed by
// name, or nil when there are none.
func (m *Manager) Attachments(ctx context.Context) (map[string]*Attachment, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	names, ok := resolveDict(xref, catalog.Dict().Get("Names"))
	if !ok || !names.Has("EmbeddedFiles") {
		return nil, nil
	}
	out := make(map[string]*Attachment)
	err = core.WalkNameTree(xref, names.Get("EmbeddedFiles"), func(key string, v core.Object) error {
		spec, ok := resolveDict(xref, v)
		if !ok {
			return nil
		}
		a := &Attachment{}
		for _, k := range []string{"UF", "F", "Unix", "Mac", "DOS"} {
			if s, ok := resolveString(xref, spec.Get(k)); ok && s != "" {
				a.RawFilename = s
				break
			}
		}
		a.Filename = baseName(a.RawFilename)
		if desc, ok := resolveString(xref, spec.Get("Desc")); ok {
			a.Description = desc
		}
		if ef, ok := resolveDict(xref, spec.Get("EF")); ok {
			for _, k := range []string{"UF", "F"} {
				obj, err := xref.Resolve(ef.Get(k))
				if err != nil {
					continue
				}
				if stream, ok := obj.(*core.Stream); ok {
					data, err := stream.Decode()
					if err != nil {
						m.log.Warn("attachment unreadable", "name", key, "error", err)
						break
					}
					a.Content = data
					break
				}
			}
		}
		out[key] = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func baseName(name string) string {
	for i := len(name) - 1; i >= 0; i-- {
		if name[i] == '/' || name[i] == '\\' || name[i] == ':' {
			return name[i+1:]
		}
	}
	return name
}

// DocJSActions returns the document level scripts keyed by name, or nil.
func (m *Manager) DocJSActions(ctx context.Context) (map[string][]string, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	var out map[string][]string
	add := func(name, js string) {
		if out == nil {
			out = make(map[string][]string)
		}
		out[name] = append(out[name], js)
	}
	if names, ok := resolveDict(xref, catalog.Dict().Get("Names")); ok && names.Has("JavaScript") {
		err := core.WalkNameTree(xref, names.Get("JavaScript"), func(key string, v core.Object) error {
			if action, ok := resolveDict(xref, v); ok {
				if js, ok := jsValue(xref, action); ok {
					add(key, js)
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to read document scripts: %w", err)
		}
	}
	if action, ok := resolveDict(xref, catalog.Dict().Get("OpenAction")); ok {
		if js, ok := jsValue(xref, action); ok {
			add("OpenAction", js)
		}
	}
	aa, _ := resolveDict(xref, catalog.Dict().Get("AA"))
	for event, scripts := range collectActions(xref, aa, map[string]string{
		"WC": "WillClose", "WS": "WillSave", "DS": "DidSave", "WP": "WillPrint", "DP": "DidPrint",
	}) {
		for _, js := range scripts {
			add(event, js)
		}
	}
	return out, nil
}

// OptionalContentGroup is one layer of the document.
type OptionalContentGroup struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Intent  []string `json:"intent,omitempty"`
	Visible bool     `json:"visible"`
}

// OptionalContentConfig is the default optional content configuration.
type OptionalContentConfig struct {
	Name      string                  `json:"name,omitempty"`
	Creator   string                  `json:"creator,omitempty"`
	BaseState string                  `json:"baseState"`
	Groups    []*OptionalContentGroup `json:"groups"`
	Order     []any                   `json:"order,omitempty"`
}

// OptionalContentConfig returns the /OCProperties default configuration,
// or nil when the document has no layers.
func (m *Manager) OptionalContentConfig(ctx context.Context) (*OptionalContentConfig, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	props, ok := resolveDict(xref, catalog.Dict().Get("OCProperties"))
	if !ok {
		return nil, nil
	}
	cfg := &OptionalContentConfig{BaseState: "ON", Groups: []*OptionalContentGroup{}}
	d, _ := resolveDict(xref, props.Get("D"))
	if s, ok := resolveString(xref, d.Get("Name")); ok {
		cfg.Name = s
	}
	if s, ok := resolveString(xref, d.Get("Creator")); ok {
		cfg.Creator = s
	}
	if s, ok := resolveName(xref, d.Get("BaseState")); ok && (s == "OFF" || s == "Unchanged") {
		cfg.BaseState = s
	}
	listed := func(key string) map[core.IndirectRef]bool {
		set := make(map[core.IndirectRef]bool)
		for _, item := range resolveArray(xref, d.Get(key)) {
			if ref, ok := item.(core.IndirectRef); ok {
				set[ref] = true
			}
		}
		return set
	}
	on, off := listed("ON"), listed("OFF")

	for _, item := range resolveArray(xref, props.Get("OCGs")) {
		ref, ok := item.(core.IndirectRef)
		if !ok {
			continue
		}
		ocg, ok := resolveDict(xref, ref)
		if !ok {
			continue
		}
		g := &OptionalContentGroup{ID: ref.Key(), Visible: cfg.BaseState != "OFF"}
		if s, ok := resolveString(xref, ocg.Get("Name")); ok {
			g.Name = s
		}
		switch v := jsonValue(xref, ocg.Get("Intent"), 0).(type) {
		case string:
			g.Intent = []string{v}
		case []any:
			for _, x := range v {
				if s, ok := x.(string); ok {
					g.Intent = append(g.Intent, s)
				}
			}
		}
		if on[ref] {
			g.Visible = true
		}
		if off[ref] {
			g.Visible = false
		}
		cfg.Groups = append(cfg.Groups, g)
	}
	if order := resolveArray(xref, d.Get("Order")); order != nil {
		cfg.Order = ocOrder(xref, order, 0)
	}
	return cfg, nil
}

// ocOrder converts the nested /Order array: group references become ids
// and nested arrays become {name, order}.
func ocOrder(r core.Resolver, arr core.Array, depth int) []any {
	out := make([]any, 0, len(arr))
	if depth > maxJSONDepth {
		return out
	}
	for _, item := range arr {
		if ref, ok := item.(core.IndirectRef); ok {
			if _, isDict := resolveDict(r, ref); isDict {
				out = append(out, ref.Key())
				continue
			}
		}
		nested := resolveArray(r, item)
		if nested == nil {
			continue
		}
		name := ""
		if len(nested) > 0 {
			if s, ok := resolveString(r, nested[0]); ok {
				name = s
				nested = nested[1:]
			}
		}
		out = append(out, map[string]any{"name": name, "order": ocOrder(r, nested, depth+1)})
	}
	return out
}

// Permissions returns the granted permission flags of an encrypted
// document, or nil when the document is not encrypted.
func (m *Manager) Permissions(ctx context.Context) ([]int32, error) {
	if _, err := m.xrefOrErr(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return nil, nil
	}
	return crypt.PermissionList(h.Permissions()), nil
}

// Metadata is the document information reported to hosts.
type Metadata struct {
	Info                       map[string]any `json:"info"`
	Metadata                   string         `json:"metadata,omitempty"`
	ContentDispositionFilename string         `json:"contentDispositionFilename,omitempty"`
	ContentLength              int64          `json:"contentLength"`
}

var standardInfoKeys = map[string]bool{
	"Title": true, "Author": true, "Subject": true, "Keywords": true,
	"Creator": true, "Producer": true, "CreationDate": true, "ModDate": true, "Trapped": true,
}

// Metadata returns the /Info entries, the XMP packet and file facts.
func (m *Manager) Metadata(ctx context.Context) (*Metadata, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	linearized, err := m.Linearization(ctx)
	if err != nil {
		return nil, err
	}
	trailer := xref.Trailer()
	form, _ := resolveDict(xref, catalog.Dict().Get("AcroForm"))
	info := map[string]any{
		"PDFFormatVersion":    m.Version(),
		"IsLinearized":        linearized != nil,
		"IsAcroFormPresent":   form != nil && len(resolveArray(xref, form.Get("Fields"))) > 0,
		"IsXFAPresent":        form != nil && form.Has("XFA"),
		"IsCollectionPresent": catalog.Dict().Has("Collection"),
		"IsSignaturesPresent": form != nil && signaturesPresent(form),
	}
	if lang, ok := resolveString(xref, catalog.Dict().Get("Lang")); ok {
		info["Language"] = lang
	}
	if enc, ok := resolveDict(xref, trailer.Get("Encrypt")); ok {
		if f, ok := resolveName(xref, enc.Get("Filter")); ok {
			info["EncryptFilterName"] = f
		}
	}
	if dict, ok := resolveDict(xref, trailer.Get("Info")); ok {
		custom := make(map[string]any)
		for key, v := range dict {
			if standardInfoKeys[key] {
				if s, ok := resolveString(xref, v); ok {
					info[key] = s
				} else if n, ok := resolveName(xref, v); ok {
					info[key] = n
				}
				continue
			}
			if val := jsonValue(xref, v, 0); val != nil {
				custom[key] = val
			}
		}
		if len(custom) > 0 {
			info["Custom"] = custom
		}
	}

	md := &Metadata{
		Info:                       info,
		ContentDispositionFilename: m.opts.Filename,
		ContentLength:              m.stream.Length(),
	}
	if stream, err := catalog.Metadata(); err == nil && stream != nil {
		if data, err := stream.Decode(); err == nil {
			md.Metadata = string(data)
		} else {
			m.log.Warn("metadata stream unreadable", "error", err)
		}
	}
	return md, nil
}

func signaturesPresent(form core.Dict) bool {
	flags, _ := core.ToInt(form.Get("SigFlags"))
	return flags&1 != 0
}

// MarkInfo returns the /MarkInfo flags, or nil when absent.
func (m *Manager) MarkInfo(ctx context.Context) (map[string]bool, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	dict, ok := resolveDict(xref, catalog.Dict().Get("MarkInfo"))
	if !ok {
		return nil, nil
	}
	out := map[string]bool{"Marked": false, "UserProperties": false, "Suspects": false}
	for key := range out {
		if v, err := xref.Resolve(dict.Get(key)); err == nil {
			if b, ok := v.(core.Bool); ok {
				out[key] = bool(b)
			}
		}
	}
	return out, nil
}

// XRefPrevValue returns the /Prev of the newest trailer, or nil.
func (m *Manager) XRefPrevValue(ctx context.Context) (*int64, error) {
	xref, err := m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	prev, ok := core.ToInt(xref.Trailer().Get("Prev"))
	if !ok {
		return nil, nil
	}
	v := int64(prev)
	return &v, nil
}

// TrailerRefs returns the /Info and /Encrypt references of the trailer.
func (m *Manager) TrailerRefs() (info, encrypt *core.IndirectRef, err error) {
	xref, err := m.xrefOrErr()
	if err != nil {
		return nil, nil, err
	}
	trailer := xref.Trailer()
	if ref, ok := trailer.GetIndirectRef("Info"); ok {
		info = &ref
	}
	if ref, ok := trailer.GetIndirectRef("Encrypt"); ok {
		encrypt = &ref
	}
	return info, encrypt, nil
}

// InfoStrings returns the string entries of the /Info dictionary.
func (m *Manager) InfoStrings() (map[string]string, error) {
	xref, err := m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	dict, ok := resolveDict(xref, xref.Trailer().Get("Info"))
	if !ok {
		return out, nil
	}
	keys := dict.Keys()
	sort.Strings(keys)
	for _, key := range keys {
		if s, ok := resolveString(xref, dict.Get(key)); ok {
			out[key] = s
		}
	}
	return out, nil
}

// FileIDs returns the trailer /ID array.
func (m *Manager) FileIDs() (core.Array, error) {
	xref, err := m.xrefOrErr()
	if err != nil {
		return nil, err
	}
	ids, _ := xref.Trailer().GetArray("ID")
	return ids, nil
}
