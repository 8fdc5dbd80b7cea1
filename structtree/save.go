package structtree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/tsawler/docworker/annotation"
	"github.com/tsawler/docworker/core"
)

// ErrNothingToTag is returned by the checks when no new annotation carries
// a structure type.
var ErrNothingToTag = errors.New("no new annotation needs a structure element")

// Page is what the save path needs to know about a page receiving new
// annotations.
type Page struct {
	Ref  *core.IndirectRef
	Dict core.Dict
}

// Allocator hands out object numbers for new objects.
type Allocator interface {
	NewTemporaryRef() core.IndirectRef
}

func sortedPages(byPage map[int][]*annotation.Editor) []int {
	idx := make([]int, 0, len(byPage))
	for i := range byPage {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func tagged(e *annotation.Editor) bool {
	return !e.Deleted && e.AccessibilityData != nil && e.AccessibilityData.Type != ""
}

func clearIDs(byPage map[int][]*annotation.Editor) {
	for _, editors := range byPage {
		for _, e := range editors {
			e.ParentTreeID = nil
		}
	}
}

// assignIDs numbers the tagged editors from next on and returns the next
// free key.
func assignIDs(byPage map[int][]*annotation.Editor, next int) (int, bool) {
	found := false
	for _, idx := range sortedPages(byPage) {
		for _, e := range byPage[idx] {
			if !tagged(e) {
				continue
			}
			id := next
			e.ParentTreeID = &id
			next++
			found = true
		}
	}
	return next, found
}

// CanCreate reports whether a new structure tree can be written for the
// editors. On success each tagged editor has its ParentTreeID set.
func CanCreate(catalogRef *core.IndirectRef, pages map[int]Page, byPage map[int][]*annotation.Editor) error {
	if catalogRef == nil {
		return errors.New("cannot create the structure tree: no catalog reference")
	}
	for _, idx := range sortedPages(byPage) {
		if p, ok := pages[idx]; !ok || p.Ref == nil {
			return fmt.Errorf("cannot create the structure tree: page %d has no reference", idx)
		}
	}
	if _, ok := assignIDs(byPage, 0); !ok {
		clearIDs(byPage)
		return ErrNothingToTag
	}
	return nil
}

// CanUpdate reports whether new elements can be added to the existing tree.
// The parent tree must be a single node with a /Nums array and every page
// that already has /StructParents must map to an array in it. On success
// each tagged editor has its ParentTreeID set.
func (t *Root) CanUpdate(pages map[int]Page, byPage map[int][]*annotation.Editor) error {
	if t.ref == nil {
		return errors.New("cannot update the structure tree: no root reference")
	}
	next, ok := core.ToInt(t.resolve(t.dict.Get("ParentTreeNextKey")))
	if !ok || next < 0 {
		return errors.New("cannot update the structure tree: invalid next key")
	}
	parentTree, ok := t.resolve(t.dict.Get("ParentTree")).(core.Dict)
	if !ok {
		return errors.New("cannot update the structure tree: missing parent tree")
	}
	if _, ok := t.resolve(parentTree.Get("Nums")).(core.Array); !ok {
		return errors.New("cannot update the structure tree: nums isn't an array")
	}
	for _, idx := range sortedPages(byPage) {
		p, ok := pages[idx]
		if !ok || p.Ref == nil {
			return fmt.Errorf("cannot update the structure tree: page %d has no reference", idx)
		}
		if !p.Dict.Has("StructParents") {
			continue
		}
		id, ok := core.ToInt(t.resolve(p.Dict.Get("StructParents")))
		if !ok {
			return fmt.Errorf("cannot update the structure tree: invalid page %d struct parents", idx)
		}
		if _, ok := t.resolve(t.parentTreeEntry(id)).(core.Array); !ok {
			return fmt.Errorf("cannot update the structure tree: invalid page %d struct parents", idx)
		}
	}
	if _, ok := assignIDs(byPage, next); !ok {
		clearIDs(byPage)
		return ErrNothingToTag
	}
	return nil
}

// writeKids creates one structure element per tagged editor, each holding
// an object reference to the written annotation. It returns the element
// references and the next free parent tree key.
func writeKids(alloc Allocator, rootRef core.IndirectRef, pages map[int]Page, byPage map[int][]*annotation.Editor, objs map[core.IndirectRef]core.Object, nums *core.Array, next int) ([]core.Object, int, error) {
	var kids []core.Object
	for _, idx := range sortedPages(byPage) {
		pageRef := pages[idx].Ref
		for _, e := range byPage[idx] {
			if !tagged(e) || e.ParentTreeID == nil {
				continue
			}
			if e.Ref == nil {
				return nil, 0, fmt.Errorf("annotation on page %d was not written", idx)
			}
			acc := e.AccessibilityData
			tag := core.Dict{
				"Type": core.Name("StructElem"),
				"S":    core.Name(acc.Type),
				"P":    rootRef,
				"Pg":   *pageRef,
				"K": core.Dict{
					"Type": core.Name("OBJR"),
					"Obj":  *e.Ref,
					"Pg":   *pageRef,
				},
			}
			if acc.Title != "" {
				tag["T"] = core.EncodeTextString(acc.Title)
			}
			if acc.Lang != "" {
				tag["Lang"] = core.EncodeTextString(acc.Lang)
			}
			if acc.Alt != "" {
				tag["Alt"] = core.EncodeTextString(acc.Alt)
			}
			tagRef := alloc.NewTemporaryRef()
			objs[tagRef] = tag
			kids = append(kids, tagRef)
			*nums = append(*nums, core.Int(*e.ParentTreeID), tagRef)
			if *e.ParentTreeID >= next {
				next = *e.ParentTreeID + 1
			}
		}
	}
	return kids, next, nil
}

func flush(objs map[core.IndirectRef]core.Object, enc core.Encrypter, changes *core.ChangeSet) error {
	for ref, obj := range objs {
		if err := changes.PutObject(ref, obj, enc, false); err != nil {
			return fmt.Errorf("failed to write structure object %s: %w", ref, err)
		}
	}
	return nil
}

// Create writes a new structure tree for the editors, which must already
// have been written, and points the catalog at it.
func Create(alloc Allocator, enc core.Encrypter, catalogRef core.IndirectRef, catalog core.Dict, pages map[int]Page, byPage map[int][]*annotation.Editor, changes *core.ChangeSet) error {
	objs := make(map[core.IndirectRef]core.Object)
	rootRef := alloc.NewTemporaryRef()
	parentTreeRef := alloc.NewTemporaryRef()

	nums := core.Array{}
	kids, next, err := writeKids(alloc, rootRef, pages, byPage, objs, &nums, 0)
	if err != nil {
		return err
	}
	objs[rootRef] = core.Dict{
		"Type":              core.Name("StructTreeRoot"),
		"ParentTree":        parentTreeRef,
		"K":                 core.Array(kids),
		"ParentTreeNextKey": core.Int(next),
	}
	objs[parentTreeRef] = core.Dict{"Nums": nums}

	cat := catalog.Clone()
	cat["StructTreeRoot"] = rootRef
	if !cat.Has("MarkInfo") {
		cat["MarkInfo"] = core.Dict{"Marked": core.Bool(true)}
	}
	objs[catalogRef] = cat
	return flush(objs, enc, changes)
}

// Update adds elements for the editors to the existing tree. CanUpdate must
// have succeeded and the editors must already have been written.
func (t *Root) Update(alloc Allocator, enc core.Encrypter, pages map[int]Page, byPage map[int][]*annotation.Editor, changes *core.ChangeSet) error {
	objs := make(map[core.IndirectRef]core.Object)
	root := t.dict.Clone()
	objs[*t.ref] = root

	rawParent := root.Get("ParentTree")
	parentTree, _ := t.resolve(rawParent).(core.Dict)
	parentTree = parentTree.Clone()
	parentRef, ok := rawParent.(core.IndirectRef)
	if !ok {
		parentRef = alloc.NewTemporaryRef()
		root["ParentTree"] = parentRef
	}
	objs[parentRef] = parentTree

	rawNums := parentTree.Get("Nums")
	cur, _ := t.resolve(rawNums).(core.Array)
	nums := append(core.Array{}, cur...)

	next, _ := core.ToInt(t.resolve(root.Get("ParentTreeNextKey")))
	kids, next, err := writeKids(alloc, *t.ref, pages, byPage, objs, &nums, next)
	if err != nil {
		return err
	}
	if len(kids) == 0 {
		return nil
	}
	if numsRef, ok := rawNums.(core.IndirectRef); ok {
		objs[numsRef] = nums
	} else {
		parentTree["Nums"] = nums
	}
	root["ParentTreeNextKey"] = core.Int(next)

	var k core.Array
	switch v := t.resolve(root.Get("K")).(type) {
	case core.Array:
		k = append(k, v...)
	case nil, core.Null:
	default:
		k = core.Array{root.Get("K")}
	}
	root["K"] = append(k, kids...)
	return flush(objs, enc, changes)
}
