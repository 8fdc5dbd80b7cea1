package core

import (
	"sort"
	"sync"
)

// Change is one object rewritten by a save: its serialized "N G obj"
// bytes and whether the form needs appearance regeneration because of it.
type Change struct {
	Data            []byte
	NeedAppearances bool
}

// ChangeSet collects the objects changed by one save. Per-page save tasks
// write to it concurrently.
type ChangeSet struct {
	mu      sync.Mutex
	changes map[IndirectRef]Change
}

// NewChangeSet creates an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{changes: make(map[IndirectRef]Change)}
}

// Put records the new content of ref, replacing any earlier change.
func (c *ChangeSet) Put(ref IndirectRef, change Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.changes[ref] = change
}

// Get returns the change recorded for ref.
func (c *ChangeSet) Get(ref IndirectRef) (Change, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.changes[ref]
	return ch, ok
}

// Len returns the number of changed objects.
func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.changes)
}

// Refs returns the changed references sorted by object number.
func (c *ChangeSet) Refs() []IndirectRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	refs := make([]IndirectRef, 0, len(c.changes))
	for ref := range c.changes {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Number != refs[j].Number {
			return refs[i].Number < refs[j].Number
		}
		return refs[i].Generation < refs[j].Generation
	})
	return refs
}

// NeedAppearances reports whether any change asked for appearance
// regeneration.
func (c *ChangeSet) NeedAppearances() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.changes {
		if ch.NeedAppearances {
			return true
		}
	}
	return false
}

// PutObject serializes obj as the new content of ref, encrypting it with
// enc when enc is non-nil, and records the result.
func (c *ChangeSet) PutObject(ref IndirectRef, obj Object, enc Encrypter, needAppearances bool) error {
	data, err := SerializeObject(ref, obj, enc)
	if err != nil {
		return err
	}
	c.Put(ref, Change{Data: data, NeedAppearances: needAppearances})
	return nil
}
