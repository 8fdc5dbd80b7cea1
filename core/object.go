package core

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Object is any PDF value. The String form is for logs and errors; use
// WriteObject for PDF syntax.
type Object interface {
	fmt.Stringer
	pdfObject()
}

type (
	// Null is the null object. A missing dictionary entry reads as nil,
	// not Null.
	Null struct{}
	Bool bool
	Int  int64
	Real float64
	// String holds raw string bytes. DecodeTextString interprets them as
	// a text string.
	String string
	Name   string
	Array  []Object
	Dict   map[string]Object
	// Stream is a dictionary with its still-encoded data.
	Stream struct {
		Dict Dict
		Data []byte
	}
	// IndirectRef is comparable and serves as a map key.
	IndirectRef struct {
		Number     int
		Generation int
	}
)

func (Null) pdfObject()        {}
func (Bool) pdfObject()        {}
func (Int) pdfObject()         {}
func (Real) pdfObject()        {}
func (String) pdfObject()      {}
func (Name) pdfObject()        {}
func (Array) pdfObject()       {}
func (Dict) pdfObject()        {}
func (*Stream) pdfObject()     {}
func (IndirectRef) pdfObject() {}

func (Null) String() string     { return "null" }
func (b Bool) String() string   { return strconv.FormatBool(bool(b)) }
func (i Int) String() string    { return strconv.FormatInt(int64(i), 10) }
func (r Real) String() string   { return strconv.FormatFloat(float64(r), 'f', -1, 64) }
func (s String) String() string { return string(s) }
func (n Name) String() string   { return "/" + string(n) }

func (a Array) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for i, o := range a {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(o.String())
	}
	b.WriteByte(']')
	return b.String()
}

// String lists the entries in key order.
func (d Dict) String() string {
	var b strings.Builder
	b.WriteString("<<")
	for i, k := range d.SortedKeys() {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "/%s %v", k, d[k])
	}
	b.WriteString(">>")
	return b.String()
}

func (s *Stream) String() string {
	return fmt.Sprintf("stream %v (%d bytes)", s.Dict, len(s.Data))
}

func (r IndirectRef) String() string {
	return fmt.Sprintf("%d %d R", r.Number, r.Generation)
}

// Len returns the number of elements.
func (a Array) Len() int { return len(a) }

// Get returns element i, or nil when i is out of range.
func (a Array) Get(i int) Object {
	if i < 0 || i >= len(a) {
		return nil
	}
	return a[i]
}

func (a Array) GetInt(i int) (Int, bool)   { return as[Int](a.Get(i)) }
func (a Array) GetName(i int) (Name, bool) { return as[Name](a.Get(i)) }

// Floats converts an all-numeric array.
func (a Array) Floats() ([]float64, bool) {
	out := make([]float64, len(a))
	for i, o := range a {
		f, ok := ToFloat(o)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}

func as[T Object](o Object) (T, bool) {
	v, ok := o.(T)
	return v, ok
}

// Get returns the value for key, or nil.
func (d Dict) Get(key string) Object { return d[key] }

func (d Dict) GetName(key string) (Name, bool)               { return as[Name](d[key]) }
func (d Dict) GetInt(key string) (Int, bool)                 { return as[Int](d[key]) }
func (d Dict) GetDict(key string) (Dict, bool)               { return as[Dict](d[key]) }
func (d Dict) GetArray(key string) (Array, bool)             { return as[Array](d[key]) }
func (d Dict) GetString(key string) (String, bool)           { return as[String](d[key]) }
func (d Dict) GetBool(key string) (Bool, bool)               { return as[Bool](d[key]) }
func (d Dict) GetIndirectRef(key string) (IndirectRef, bool) { return as[IndirectRef](d[key]) }

// Has reports whether key is present, even with a null value.
func (d Dict) Has(key string) bool {
	_, ok := d[key]
	return ok
}

// Keys returns the keys in map order.
func (d Dict) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	return keys
}

// SortedKeys returns the keys in byte order.
func (d Dict) SortedKeys() []string {
	keys := d.Keys()
	slices.Sort(keys)
	return keys
}

// Clone copies the top level only.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// IsType reports whether /Type is the name t.
func (d Dict) IsType(t string) bool {
	n, ok := d.GetName("Type")
	return ok && string(n) == t
}

// Key returns the "12R" or "12R3" identifier used for annotations and
// fields on the wire.
func (r IndirectRef) Key() string {
	k := strconv.Itoa(r.Number) + "R"
	if r.Generation != 0 {
		k += strconv.Itoa(r.Generation)
	}
	return k
}

// ParseRefKey is the inverse of IndirectRef.Key.
func ParseRefKey(s string) (IndirectRef, bool) {
	num, gen, ok := strings.Cut(s, "R")
	if !ok || num == "" {
		return IndirectRef{}, false
	}
	var r IndirectRef
	var err error
	if r.Number, err = strconv.Atoi(num); err != nil || r.Number < 0 {
		return IndirectRef{}, false
	}
	if gen != "" {
		if r.Generation, err = strconv.Atoi(gen); err != nil || r.Generation < 0 {
			return IndirectRef{}, false
		}
	}
	return r, true
}

// IndirectObject is an object together with the reference it was stored
// under.
type IndirectObject struct {
	Ref    IndirectRef
	Object Object
}

// ToFloat reads an Int or Real.
func ToFloat(o Object) (float64, bool) {
	switch v := o.(type) {
	case Int:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// ToInt reads an Int or a Real truncated toward zero.
func ToInt(o Object) (int, bool) {
	if i, ok := o.(Int); ok {
		return int(i), true
	}
	f, ok := ToFloat(o)
	return int(f), ok
}
