package structtree

import (
	"fmt"

	"github.com/tsawler/docworker/core"
)

// maxDepth bounds /P chains and nested elements on malformed files.
const maxDepth = 40

// Root is a loaded /StructTreeRoot.
type Root struct {
	ref  *core.IndirectRef
	dict core.Dict
	r    core.Resolver
}

// Load returns the structure tree root of catalog, or nil when the document
// has none.
func Load(r core.Resolver, catalog core.Dict) (*Root, error) {
	raw := catalog.Get("StructTreeRoot")
	if raw == nil {
		return nil, nil
	}
	obj, err := r.Resolve(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve /StructTreeRoot: %w", err)
	}
	dict, ok := obj.(core.Dict)
	if !ok {
		return nil, nil
	}
	root := &Root{dict: dict, r: r}
	if ref, ok := raw.(core.IndirectRef); ok {
		root.ref = &ref
	}
	return root, nil
}

// Ref returns the reference of the root dictionary, nil when it is direct.
func (t *Root) Ref() *core.IndirectRef {
	return t.ref
}

// Dict returns the root dictionary.
func (t *Root) Dict() core.Dict {
	return t.dict
}

func (t *Root) resolve(obj core.Object) core.Object {
	v, err := t.r.Resolve(obj)
	if err != nil {
		return nil
	}
	return v
}

func (t *Root) parentTreeEntry(key int) core.Object {
	entry, err := core.NumberTreeLookup(t.r, t.dict.Get("ParentTree"), key)
	if err != nil {
		return nil
	}
	return entry
}

// Node is a structure element as reported to hosts.
type Node struct {
	Role     string `json:"role"`
	Alt      string `json:"alt,omitempty"`
	Lang     string `json:"lang,omitempty"`
	Children []any  `json:"children"`
}

// Leaf is marked content or an object referenced by a structure element.
type Leaf struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// PageTree returns the part of the structure tree that refers to the page
// at pageRef. Marked content ids have the form "p<ref>_mc<mcid>", matching
// the ids reported with text content.
func (t *Root) PageTree(pageRef core.IndirectRef, page core.Dict, annotParents []int) *Node {
	root := &Node{Role: "Root", Children: []any{}}

	var ids []int
	if id, ok := core.ToInt(page.Get("StructParents")); ok {
		ids = append(ids, id)
	}
	ids = append(ids, annotParents...)

	used := make(map[core.IndirectRef]core.Dict)
	for _, id := range ids {
		switch v := t.resolve(t.parentTreeEntry(id)).(type) {
		case core.Array:
			for _, item := range v {
				t.collect(item, used, 0)
			}
		default:
			t.collect(t.parentTreeEntry(id), used, 0)
		}
	}
	if len(used) == 0 {
		return root
	}

	roleMap, _ := t.resolve(t.dict.Get("RoleMap")).(core.Dict)
	b := &pageBuilder{t: t, used: used, pageRef: pageRef, roleMap: roleMap, done: map[core.IndirectRef]bool{}}

	kids := t.resolve(t.dict.Get("K"))
	switch k := kids.(type) {
	case core.Array:
		for _, kid := range k {
			if n := b.node(kid, 0); n != nil {
				root.Children = append(root.Children, n)
			}
		}
	default:
		if n := b.node(t.dict.Get("K"), 0); n != nil {
			root.Children = append(root.Children, n)
		}
	}
	return root
}

// collect marks the element at obj and its ancestors as used by the page.
func (t *Root) collect(obj core.Object, used map[core.IndirectRef]core.Dict, depth int) {
	ref, ok := obj.(core.IndirectRef)
	if !ok || depth > maxDepth {
		return
	}
	if _, seen := used[ref]; seen {
		return
	}
	dict, ok := t.resolve(ref).(core.Dict)
	if !ok || dict.IsType("StructTreeRoot") {
		return
	}
	used[ref] = dict
	t.collect(dict.Get("P"), used, depth+1)
}

type pageBuilder struct {
	t       *Root
	used    map[core.IndirectRef]core.Dict
	pageRef core.IndirectRef
	roleMap core.Dict
	done    map[core.IndirectRef]bool
}

func (b *pageBuilder) node(obj core.Object, depth int) *Node {
	ref, ok := obj.(core.IndirectRef)
	if !ok || depth > maxDepth || b.done[ref] {
		return nil
	}
	dict, ok := b.used[ref]
	if !ok {
		return nil
	}
	b.done[ref] = true

	role, _ := dict.GetName("S")
	if mapped, ok := b.roleMap.GetName(string(role)); ok {
		role = mapped
	}
	n := &Node{Role: string(role), Children: []any{}}
	if alt, ok := b.t.resolve(dict.Get("Alt")).(core.String); ok {
		n.Alt = core.DecodeTextString(alt)
	}
	if lang, ok := b.t.resolve(dict.Get("Lang")).(core.String); ok {
		n.Lang = core.DecodeTextString(lang)
	}

	pg, hasPg := dict.GetIndirectRef("Pg")
	onPage := !hasPg || pg == b.pageRef
	add := func(kid core.Object, pageOK bool) {
		switch v := kid.(type) {
		case core.Int:
			if pageOK {
				n.Children = append(n.Children, Leaf{Type: "content", ID: b.contentID(int(v))})
			}
			return
		case core.IndirectRef:
			if child := b.node(v, depth+1); child != nil {
				n.Children = append(n.Children, child)
				return
			}
		}
		d, ok := b.t.resolve(kid).(core.Dict)
		if !ok {
			return
		}
		kidPageOK := pageOK
		if p, ok := d.GetIndirectRef("Pg"); ok {
			kidPageOK = p == b.pageRef
		}
		switch {
		case d.IsType("MCR"):
			if mcid, ok := core.ToInt(d.Get("MCID")); ok && kidPageOK {
				n.Children = append(n.Children, Leaf{Type: "content", ID: b.contentID(mcid)})
			}
		case d.IsType("OBJR"):
			target, ok := d.GetIndirectRef("Obj")
			if !ok || !kidPageOK {
				return
			}
			if od, ok := b.t.resolve(target).(core.Dict); ok && od.Has("Subtype") && (od.IsType("Annot") || !od.Has("Type")) {
				n.Children = append(n.Children, Leaf{Type: "annotation", ID: "pdfjs_internal_id_" + target.Key()})
				return
			}
			n.Children = append(n.Children, Leaf{Type: "object", ID: target.Key()})
		}
	}

	switch k := b.t.resolve(dict.Get("K")).(type) {
	case core.Array:
		for _, kid := range k {
			add(kid, onPage)
		}
	case nil:
	default:
		add(dict.Get("K"), onPage)
	}
	return n
}

func (b *pageBuilder) contentID(mcid int) string {
	return fmt.Sprintf("p%s_mc%d", b.pageRef.Key(), mcid)
}
