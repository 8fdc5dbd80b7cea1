package pages

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tsawler/docworker/core"
)

// ObjectResolver resolves indirect references.
type ObjectResolver interface {
	Resolve(obj core.Object) (core.Object, error)
	ResolveReference(ref core.IndirectRef) (core.Object, error)
}

// maxTreeDepth bounds /Kids nesting on malformed files.
const maxTreeDepth = 256

// Catalog is the document root dictionary.
type Catalog struct {
	dict     core.Dict
	ref      core.IndirectRef
	resolver ObjectResolver
}

// NewCatalog wraps the /Root dictionary loaded from ref.
func NewCatalog(dict core.Dict, ref core.IndirectRef, resolver ObjectResolver) *Catalog {
	return &Catalog{dict: dict, ref: ref, resolver: resolver}
}

func (c *Catalog) Dict() core.Dict       { return c.dict }
func (c *Catalog) Ref() core.IndirectRef { return c.ref }
func (c *Catalog) Type() string          { return c.name("Type") }

// Version returns the /Version name, which overrides the header version
// when it is later.
func (c *Catalog) Version() string { return c.name("Version") }

func (c *Catalog) name(key string) string {
	n, _ := c.dict.GetName(key)
	return string(n)
}

// Pages returns the root of the page tree.
func (c *Catalog) Pages() (core.Dict, error) {
	if !c.dict.Has("Pages") {
		return nil, errors.New("catalog has no /Pages")
	}
	obj, err := c.resolver.Resolve(c.dict.Get("Pages"))
	if err != nil {
		return nil, fmt.Errorf("resolve /Pages: %w", err)
	}
	root, ok := obj.(core.Dict)
	if !ok {
		return nil, fmt.Errorf("/Pages is %T, not a dictionary", obj)
	}
	return root, nil
}

// Metadata returns the XMP stream, or nil when the catalog has none.
func (c *Catalog) Metadata() (*core.Stream, error) {
	if !c.dict.Has("Metadata") {
		return nil, nil
	}
	obj, err := c.resolver.Resolve(c.dict.Get("Metadata"))
	if err != nil {
		return nil, fmt.Errorf("resolve /Metadata: %w", err)
	}
	s, ok := obj.(*core.Stream)
	if !ok {
		return nil, fmt.Errorf("/Metadata is %T, not a stream", obj)
	}
	return s, nil
}

// PageTree flattens the /Kids hierarchy into page order. The walk runs once
// and its result, or error, is shared by all callers.
type PageTree struct {
	root     core.Dict
	resolver ObjectResolver

	once  sync.Once
	err   error
	pages []*Page
	index map[core.IndirectRef]int
}

// NewPageTree returns a tree rooted at the /Pages dictionary.
func NewPageTree(root core.Dict, resolver ObjectResolver) *PageTree {
	return &PageTree{root: root, resolver: resolver}
}

// Count returns the root's /Count entry, which may disagree with Len.
func (t *PageTree) Count() (int, error) {
	if !t.root.Has("Count") {
		return 0, errors.New("page tree has no /Count")
	}
	obj, err := t.resolver.Resolve(t.root.Get("Count"))
	if err != nil {
		return 0, fmt.Errorf("resolve /Count: %w", err)
	}
	n, ok := obj.(core.Int)
	if !ok || n < 0 {
		return 0, fmt.Errorf("bad /Count %v", obj)
	}
	return int(n), nil
}

// Len returns the number of leaves found by the walk.
func (t *PageTree) Len() (int, error) {
	pages, err := t.Pages()
	return len(pages), err
}

// GetPage returns page i, counting from zero.
func (t *PageTree) GetPage(i int) (*Page, error) {
	pages, err := t.Pages()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(pages) {
		return nil, fmt.Errorf("page index %d out of range [0, %d)", i, len(pages))
	}
	return pages[i], nil
}

// PageIndex returns the position of the page stored under ref.
func (t *PageTree) PageIndex(ref core.IndirectRef) (int, error) {
	if _, err := t.Pages(); err != nil {
		return 0, err
	}
	i, ok := t.index[ref]
	if !ok {
		return 0, fmt.Errorf("%v is not a page of this document", ref)
	}
	return i, nil
}

// Pages returns every page in order.
func (t *PageTree) Pages() ([]*Page, error) {
	t.once.Do(func() {
		t.index = make(map[core.IndirectRef]int)
		if err := t.walk(); err != nil {
			t.err = fmt.Errorf("page tree: %w", err)
		}
	})
	return t.pages, t.err
}

// treeNode is a pending /Kids entry together with the intermediate nodes
// above it, nearest last.
type treeNode struct {
	obj   core.Object
	chain []core.Dict
}

// walk visits the tree depth first with an explicit stack. A node is an
// intermediate node when its /Type is Pages, or when it has no page /Type
// but carries /Kids.
func (t *PageTree) walk() error {
	seen := make(map[core.IndirectRef]bool)
	stack := []treeNode{{obj: t.root}}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if len(n.chain) > maxTreeDepth {
			return fmt.Errorf("deeper than %d levels", maxTreeDepth)
		}

		var ref *core.IndirectRef
		if r, ok := n.obj.(core.IndirectRef); ok {
			if seen[r] {
				return fmt.Errorf("cycle at %v", r)
			}
			seen[r] = true
			ref = &r
		}
		obj, err := t.resolver.Resolve(n.obj)
		if err != nil {
			return err
		}
		dict, ok := obj.(core.Dict)
		if !ok {
			return fmt.Errorf("kid %v is %T, not a dictionary", n.obj, obj)
		}

		if dict.IsType("Page") || (!dict.IsType("Pages") && !dict.Has("Kids")) {
			if ref != nil {
				t.index[*ref] = len(t.pages)
			}
			t.pages = append(t.pages, NewPage(dict, ref, n.chain, t.resolver))
			continue
		}

		kidsObj, err := t.resolver.Resolve(dict.Get("Kids"))
		if err != nil {
			return fmt.Errorf("resolve /Kids: %w", err)
		}
		kids, ok := kidsObj.(core.Array)
		if !ok {
			return fmt.Errorf("/Kids is %T, not an array", kidsObj)
		}
		chain := append(n.chain[:len(n.chain):len(n.chain)], dict)
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, treeNode{obj: kids[i], chain: chain})
		}
	}
	return nil
}
