package document

import (
	"context"

	"github.com/tsawler/docworker/core"
)

// maxOutlineItems bounds the number of visited outline entries so a
// cyclic /Next chain cannot loop forever.
const maxOutlineItems = 10000

// OutlineItem is one bookmark.
type OutlineItem struct {
	Title     string         `json:"title"`
	Bold      bool           `json:"bold"`
	Italic    bool           `json:"italic"`
	Color     []int          `json:"color"`
	Dest      any            `json:"dest"`
	URL       string         `json:"url,omitempty"`
	Action    string         `json:"action,omitempty"`
	NewWindow bool           `json:"newWindow,omitempty"`
	Count     *int           `json:"count,omitempty"`
	Items     []*OutlineItem `json:"items"`
}

// Outline returns the bookmark tree, or nil when the document has none.
func (m *Manager) Outline(ctx context.Context) ([]*OutlineItem, error) {
	catalog, xref, err := m.catalogOrErr()
	if err != nil {
		return nil, err
	}
	root, ok := resolveDict(xref, catalog.Dict().Get("Outlines"))
	if !ok {
		return nil, nil
	}
	first, ok := root.GetIndirectRef("First")
	if !ok {
		return nil, nil
	}

	seen := make(map[core.IndirectRef]bool)
	var walk func(ref core.IndirectRef) []*OutlineItem
	walk = func(ref core.IndirectRef) []*OutlineItem {
		items := []*OutlineItem{}
		for {
			if seen[ref] || len(seen) >= maxOutlineItems || ctx.Err() != nil {
				return items
			}
			seen[ref] = true
			dict, ok := resolveDict(xref, ref)
			if !ok {
				return items
			}
			item := outlineItem(xref, dict)
			if child, ok := dict.GetIndirectRef("First"); ok {
				item.Items = walk(child)
			}
			items = append(items, item)
			next, ok := dict.GetIndirectRef("Next")
			if !ok {
				return items
			}
			ref = next
		}
	}
	items := walk(first)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func outlineItem(r core.Resolver, dict core.Dict) *OutlineItem {
	item := &OutlineItem{Color: []int{0, 0, 0}, Items: []*OutlineItem{}}
	if title, ok := resolveString(r, dict.Get("Title")); ok {
		item.Title = title
	}
	if flags, ok := core.ToInt(dict.Get("F")); ok {
		item.Italic = flags&1 != 0
		item.Bold = flags&2 != 0
	}
	if c := floatsOr(r, dict.Get("C"), nil); len(c) == 3 {
		for i, v := range c {
			item.Color[i] = int(min(max(v, 0), 1)*255 + 0.5)
		}
	}
	if n, ok := core.ToInt(dict.Get("Count")); ok {
		item.Count = &n
	}
	if dest := dict.Get("Dest"); dest != nil {
		item.Dest = destinationOrName(r, dest)
		return item
	}
	action, ok := resolveDict(r, dict.Get("A"))
	if !ok {
		return item
	}
	switch s, _ := action.GetName("S"); s {
	case "GoTo":
		item.Dest = destinationOrName(r, action.Get("D"))
	case "URI":
		if uri, ok := resolveString(r, action.Get("URI")); ok {
			item.URL = uri
		}
	case "GoToR":
		if file, ok := resolveString(r, action.Get("F")); ok {
			item.URL = file
		} else if spec, ok := resolveDict(r, action.Get("F")); ok {
			item.URL, _ = resolveString(r, spec.Get("F"))
		}
		if nw, err := r.Resolve(action.Get("NewWindow")); err == nil {
			if b, ok := nw.(core.Bool); ok {
				item.NewWindow = bool(b)
			}
		}
	case "Named":
		if name, ok := resolveName(r, action.Get("N")); ok {
			item.Action = name
		}
	}
	return item
}

// destinationOrName returns an explicit destination or the name of a named
// one.
func destinationOrName(r core.Resolver, obj core.Object) any {
	if dest := destination(r, obj); dest != nil {
		return dest
	}
	if s, ok := resolveString(r, obj); ok {
		return s
	}
	if n, ok := resolveName(r, obj); ok {
		return n
	}
	return nil
}
