package annotation

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tsawler/docworker/core"
)

// EditorPrefix marks storage keys that hold annotations drawn by the host's
// editor rather than values of existing form fields.
const EditorPrefix = "pdfjs_internal_editor_"

// AccessibilityData is the alt text attached to a new annotation. It becomes
// a structure element when the document can carry one.
type AccessibilityData struct {
	Type  string `json:"type"`
	Alt   string `json:"alt"`
	Title string `json:"title,omitempty"`
	Lang  string `json:"lang,omitempty"`
}

// Bitmap is an RGBA image supplied for a stamp annotation.
type Bitmap struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"`
}

// Editor is one annotation created, modified or deleted by the host.
type Editor struct {
	AnnotationType    Type               `json:"annotationType"`
	PageIndex         int                `json:"pageIndex"`
	ID                string             `json:"id,omitempty"`
	Rect              []float64          `json:"rect"`
	Rotation          int                `json:"rotation"`
	Color             []int              `json:"color"`
	Opacity           *float64           `json:"opacity,omitempty"`
	Thickness         float64            `json:"thickness"`
	FontSize          float64            `json:"fontSize"`
	Value             string             `json:"value"`
	Paths             [][]float64        `json:"paths,omitempty"`
	QuadPoints        []float64          `json:"quadPoints,omitempty"`
	Deleted           bool               `json:"deleted"`
	AccessibilityData *AccessibilityData `json:"accessibilityData,omitempty"`
	Bitmap            *Bitmap            `json:"bitmap,omitempty"`

	// Ref is the object the annotation is written to, set by WriteNew.
	Ref *core.IndirectRef `json:"-"`
	// ParentTreeID is the structure parent key, set before WriteNew when
	// the annotation gets a structure element.
	ParentTreeID *int `json:"-"`
}

// ExistingRef returns the reference of the annotation this editor replaces.
func (e *Editor) ExistingRef() (core.IndirectRef, bool) {
	if e.ID == "" {
		return core.IndirectRef{}, false
	}
	return core.ParseRefKey(e.ID)
}

// FieldValue is the stored value of an existing form field.
type FieldValue struct {
	Value any `json:"value"`
}

// Storage is the host's annotation storage split by kind.
type Storage struct {
	Fields  map[core.IndirectRef]FieldValue
	Editors []*Editor
	// XFA maps dotted data paths such as "form1.name" to new values for
	// XFA documents.
	XFA map[string]string
}

// Empty reports whether the storage holds no edits.
func (s *Storage) Empty() bool {
	return s == nil || (len(s.Fields) == 0 && len(s.Editors) == 0 && len(s.XFA) == 0)
}

// ParseStorage decodes host annotation storage. Editor entries are ordered
// by key so repeated saves allocate objects in the same order.
func ParseStorage(raw map[string]json.RawMessage) (*Storage, error) {
	s := &Storage{Fields: make(map[core.IndirectRef]FieldValue)}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if strings.HasPrefix(key, EditorPrefix) {
			var e Editor
			if err := json.Unmarshal(raw[key], &e); err != nil {
				return nil, fmt.Errorf("failed to decode editor %s: %w", key, err)
			}
			if e.PageIndex < 0 {
				return nil, fmt.Errorf("editor %s has negative page index", key)
			}
			s.Editors = append(s.Editors, &e)
			continue
		}
		var v FieldValue
		ref, ok := core.ParseRefKey(key)
		if !ok {
			if err := json.Unmarshal(raw[key], &v); err != nil {
				continue
			}
			if str, ok := v.Value.(string); ok {
				if s.XFA == nil {
					s.XFA = make(map[string]string)
				}
				s.XFA[key] = str
			}
			continue
		}
		if err := json.Unmarshal(raw[key], &v); err != nil {
			return nil, fmt.Errorf("failed to decode field %s: %w", key, err)
		}
		s.Fields[ref] = v
	}
	return s, nil
}

// ByPage groups editors by page index.
func (s *Storage) ByPage() map[int][]*Editor {
	if s == nil || len(s.Editors) == 0 {
		return nil
	}
	m := make(map[int][]*Editor)
	for _, e := range s.Editors {
		m[e.PageIndex] = append(m[e.PageIndex], e)
	}
	return m
}
