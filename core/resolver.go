package core

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Decrypter decrypts strings and stream data of objects read from an
// encrypted document. The crypt package provides the standard handler.
type Decrypter interface {
	DecryptString(ref IndirectRef, data []byte) ([]byte, error)
	DecryptStream(ref IndirectRef, dict Dict, data []byte) ([]byte, error)
}

// XRefEntryError reports an xref entry that does not point at the object
// it claims to describe.
type XRefEntryError struct {
	Ref IndirectRef
	Err error
}

func (e *XRefEntryError) Error() string {
	return fmt.Sprintf("bad xref entry for %s: %v", e.Ref, e.Err)
}

func (e *XRefEntryError) Unwrap() error {
	return e.Err
}

// XRef resolves indirect objects of one document from random-access bytes.
// It is safe for concurrent use; the lock only guards the maps, so two
// goroutines may parse the same object at once and the first result wins.
type XRef struct {
	r    io.ReaderAt
	size int64

	mu                sync.Mutex
	entries           map[int]XRefEntry
	trailer           Dict
	topIsStream       bool
	lastXRefStreamPos int64
	cache             map[IndirectRef]Object
	objStms           map[int]*ObjectStream
	decrypter         Decrypter
	encryptRef        *IndirectRef
	nextTemp          int
}

// Ensure XRef can back the parser's indirect /Length lookups.
var _ ReferenceResolver = (*XRef)(nil)

// NewXRef creates an empty resolver over size bytes of r. Call Parse before
// fetching objects.
func NewXRef(r io.ReaderAt, size int64) *XRef {
	return &XRef{
		r:                 r,
		size:              size,
		entries:           make(map[int]XRefEntry),
		trailer:           make(Dict),
		lastXRefStreamPos: -1,
		cache:             make(map[IndirectRef]Object),
		objStms:           make(map[int]*ObjectStream),
	}
}

// Length returns the size of the underlying data.
func (x *XRef) Length() int64 {
	return x.size
}

// Parse reads the cross-reference chain starting at startXRef. In recovery
// mode the chain is ignored and the table is rebuilt by scanning the whole
// file for object headers and trailers.
func (x *XRef) Parse(startXRef int64, recovery bool) error {
	if recovery {
		return x.reconstruct()
	}

	tables, err := NewXRefParser(x.r, x.size).ParseAllXRefs(startXRef)
	if err != nil {
		return err
	}
	if len(tables) == 0 {
		return &XRefParseError{Offset: startXRef, Err: errors.New("no xref sections")}
	}

	merged := MergeXRefTables(tables...)
	top := tables[len(tables)-1]
	trailer := top.Trailer.Clone()
	for i := len(tables) - 2; i >= 0; i-- {
		inheritTrailerKeys(trailer, tables[i].Trailer)
	}
	if !trailer.Has("Root") {
		return &XRefParseError{Offset: startXRef, Err: errors.New("trailer has no /Root")}
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	x.entries = make(map[int]XRefEntry, len(merged.Entries))
	for num, e := range merged.Entries {
		x.entries[num] = *e
	}
	x.trailer = trailer
	x.topIsStream = top.IsStream
	x.lastXRefStreamPos = -1
	if pos, ok := top.Trailer.GetInt("XRefStm"); ok {
		x.lastXRefStreamPos = int64(pos)
	}
	x.setEncryptRefLocked()
	return nil
}

func inheritTrailerKeys(dst, src Dict) {
	for _, key := range []string{"Root", "Info", "Encrypt", "ID"} {
		if !dst.Has(key) && src.Has(key) {
			dst[key] = src[key]
		}
	}
}

func (x *XRef) setEncryptRefLocked() {
	x.encryptRef = nil
	if ref, ok := x.trailer.GetIndirectRef("Encrypt"); ok {
		x.encryptRef = &ref
	}
}

// Trailer returns the trailer of the newest section with Root, Info,
// Encrypt and ID inherited from older sections when missing.
func (x *XRef) Trailer() Dict {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.trailer
}

// TopIsStream reports whether the newest section is an xref stream.
func (x *XRef) TopIsStream() bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.topIsStream
}

// LastXRefStreamPos returns the /XRefStm offset of a hybrid file's newest
// section.
func (x *XRef) LastXRefStreamPos() (int64, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lastXRefStreamPos, x.lastXRefStreamPos >= 0
}

// Entry returns the merged xref entry for an object number.
func (x *XRef) Entry(num int) (XRefEntry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	e, ok := x.entries[num]
	return e, ok
}

// Size returns one more than the highest object number known, taking the
// trailer's /Size into account.
func (x *XRef) Size() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.sizeLocked()
}

func (x *XRef) sizeLocked() int {
	size := 0
	if s, ok := x.trailer.GetInt("Size"); ok {
		size = int(s)
	}
	for num := range x.entries {
		if num+1 > size {
			size = num + 1
		}
	}
	return size
}

// InUseRefs lists the references of every in-use entry in ascending order.
func (x *XRef) InUseRefs() []IndirectRef {
	x.mu.Lock()
	defer x.mu.Unlock()
	refs := make([]IndirectRef, 0, len(x.entries))
	for num, e := range x.entries {
		switch e.Type {
		case XRefEntryUncompressed:
			refs = append(refs, IndirectRef{Number: num, Generation: e.Generation})
		case XRefEntryCompressed:
			refs = append(refs, IndirectRef{Number: num})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return refs
}

// SetDecrypter installs the security handler. The object cache is dropped so
// nothing fetched before (the /Encrypt dictionary) is served undecrypted
// from it later.
func (x *XRef) SetDecrypter(d Decrypter) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.decrypter = d
	x.cache = make(map[IndirectRef]Object)
	x.objStms = make(map[int]*ObjectStream)
}

// NewTemporaryRef allocates a reference past the end of the table for
// objects written by an incremental update. Allocation continues until
// ResetTemporaryRefs is called.
func (x *XRef) NewTemporaryRef() IndirectRef {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.nextTemp == 0 {
		x.nextTemp = x.sizeLocked()
	}
	ref := IndirectRef{Number: x.nextTemp}
	x.nextTemp++
	return ref
}

// ResetTemporaryRefs releases every reference handed out by NewTemporaryRef.
func (x *XRef) ResetTemporaryRefs() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextTemp = 0
}

// Cleanup drops cached objects and object streams. The parsed table is kept.
func (x *XRef) Cleanup() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.cache = make(map[IndirectRef]Object)
	x.objStms = make(map[int]*ObjectStream)
}

// Fetch returns the object for ref. Free and unknown entries resolve to the
// null object, as PDF requires.
func (x *XRef) Fetch(ref IndirectRef) (Object, error) {
	x.mu.Lock()
	if obj, ok := x.cache[ref]; ok {
		x.mu.Unlock()
		return obj, nil
	}
	entry, ok := x.entries[ref.Number]
	x.mu.Unlock()

	if !ok || entry.Type == XRefEntryFree {
		return Null{}, nil
	}

	var (
		obj Object
		err error
	)
	switch entry.Type {
	case XRefEntryUncompressed:
		if entry.Generation != ref.Generation {
			return Null{}, nil
		}
		obj, err = x.fetchUncompressed(ref, entry)
	case XRefEntryCompressed:
		obj, err = x.fetchCompressed(ref, entry)
	}
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	if cached, ok := x.cache[ref]; ok {
		obj = cached
	} else {
		x.cache[ref] = obj
	}
	x.mu.Unlock()
	return obj, nil
}

func (x *XRef) fetchUncompressed(ref IndirectRef, entry XRefEntry) (Object, error) {
	ind, err := x.parseObjectAt(entry.Offset)
	if err != nil {
		return nil, &XRefEntryError{Ref: ref, Err: err}
	}
	if ind.Ref.Number != ref.Number {
		return nil, &XRefEntryError{Ref: ref, Err: fmt.Errorf("found object %d at offset %d", ind.Ref.Number, entry.Offset)}
	}

	x.mu.Lock()
	dec := x.decrypter
	isEncryptDict := x.encryptRef != nil && *x.encryptRef == ref
	x.mu.Unlock()
	if dec == nil || isEncryptDict {
		return ind.Object, nil
	}
	return decryptObject(dec, ref, ind.Object)
}

// parseObjectAt parses "N G obj ... endobj" at offset, recovering stream
// data by scanning for "endstream" when /Length is wrong.
func (x *XRef) parseObjectAt(offset int64) (*IndirectObject, error) {
	if offset <= 0 || offset >= x.size {
		return nil, fmt.Errorf("offset %d outside file of %d bytes", offset, x.size)
	}
	parser := NewParserAt(io.NewSectionReader(x.r, offset, x.size-offset), offset)
	parser.SetReferenceResolver(x)

	ind, err := parser.ParseIndirectObject()
	if err == nil {
		return ind, nil
	}
	var sle *StreamLengthError
	if !errors.As(err, &sle) {
		return nil, err
	}

	head, herr := x.parseObjectHeader(offset)
	if herr != nil {
		return nil, err
	}
	data, serr := x.scanStreamData(sle.DataOffset)
	if serr != nil {
		return nil, serr
	}
	dict := sle.Dict.Clone()
	dict["Length"] = Int(len(data))
	return &IndirectObject{Ref: head, Object: &Stream{Dict: dict, Data: data}}, nil
}

func (x *XRef) parseObjectHeader(offset int64) (IndirectRef, error) {
	lexer := NewLexerAt(io.NewSectionReader(x.r, offset, x.size-offset), offset)
	numTok, err := lexer.NextToken()
	if err != nil {
		return IndirectRef{}, err
	}
	genTok, err := lexer.NextToken()
	if err != nil {
		return IndirectRef{}, err
	}
	if numTok.Type != TokenInteger || genTok.Type != TokenInteger {
		return IndirectRef{}, fmt.Errorf("no object header at offset %d", offset)
	}
	num, gen := atoiBytes(numTok.Value), atoiBytes(genTok.Value)
	return IndirectRef{Number: num, Generation: gen}, nil
}

func atoiBytes(b []byte) int {
	n := 0
	for _, c := range b {
		if !isDigit(c) {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// scanStreamData reads from start up to the next "endstream" keyword,
// dropping the end-of-line that precedes it.
func (x *XRef) scanStreamData(start int64) ([]byte, error) {
	const chunkSize = 64 * 1024
	keyword := []byte("endstream")

	var data []byte
	buf := make([]byte, chunkSize)
	for pos := start; pos < x.size; {
		n, err := x.r.ReadAt(buf, pos)
		if n == 0 && err != nil {
			break
		}
		data = append(data, buf[:n]...)
		// Search from a little before the new chunk so a keyword split
		// across reads is found.
		from := len(data) - n - len(keyword)
		if from < 0 {
			from = 0
		}
		if idx := bytes.Index(data[from:], keyword); idx >= 0 {
			end := from + idx
			switch {
			case end >= 2 && data[end-2] == '\r' && data[end-1] == '\n':
				end -= 2
			case end >= 1 && (data[end-1] == '\n' || data[end-1] == '\r'):
				end--
			}
			return data[:end], nil
		}
		pos += int64(n)
	}
	return nil, fmt.Errorf("no endstream after offset %d", start)
}

func (x *XRef) fetchCompressed(ref IndirectRef, entry XRefEntry) (Object, error) {
	stm, err := x.objectStream(int(entry.Offset))
	if err != nil {
		return nil, &XRefEntryError{Ref: ref, Err: err}
	}
	obj, num, err := stm.GetObjectByIndex(entry.Generation)
	if err != nil {
		return nil, &XRefEntryError{Ref: ref, Err: err}
	}
	if num != ref.Number {
		return nil, &XRefEntryError{Ref: ref, Err: fmt.Errorf("object stream %d slot %d holds object %d", entry.Offset, entry.Generation, num)}
	}
	return obj, nil
}

func (x *XRef) objectStream(num int) (*ObjectStream, error) {
	x.mu.Lock()
	stm, ok := x.objStms[num]
	x.mu.Unlock()
	if ok {
		return stm, nil
	}

	obj, err := x.Fetch(IndirectRef{Number: num})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch object stream %d: %w", num, err)
	}
	stream, ok := obj.(*Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d is %T", num, obj)
	}
	stm, err = NewObjectStream(stream)
	if err != nil {
		return nil, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if existing, ok := x.objStms[num]; ok {
		return existing, nil
	}
	x.objStms[num] = stm
	return stm, nil
}

// ResolveReference fetches ref. It satisfies ReferenceResolver.
func (x *XRef) ResolveReference(ref IndirectRef) (Object, error) {
	return x.Fetch(ref)
}

// Resolve follows obj if it is an indirect reference, otherwise returns it
// as is. Reference chains are followed up to a fixed depth.
func (x *XRef) Resolve(obj Object) (Object, error) {
	for depth := 0; depth < 32; depth++ {
		ref, ok := obj.(IndirectRef)
		if !ok {
			return obj, nil
		}
		var err error
		obj, err = x.Fetch(ref)
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("reference chain too deep")
}

// decryptObject decrypts strings and stream data in place. Objects come
// fresh from the parser so mutation does not leak into shared state.
func decryptObject(dec Decrypter, ref IndirectRef, obj Object) (Object, error) {
	switch v := obj.(type) {
	case String:
		out, err := dec.DecryptString(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return String(out), nil
	case Array:
		for i, elem := range v {
			d, err := decryptObject(dec, ref, elem)
			if err != nil {
				return nil, err
			}
			v[i] = d
		}
		return v, nil
	case Dict:
		for key, val := range v {
			d, err := decryptObject(dec, ref, val)
			if err != nil {
				return nil, err
			}
			v[key] = d
		}
		return v, nil
	case *Stream:
		if v.Dict.IsType("XRef") {
			return v, nil
		}
		if _, err := decryptObject(dec, ref, v.Dict); err != nil {
			return nil, err
		}
		data, err := dec.DecryptStream(ref, v.Dict, v.Data)
		if err != nil {
			return nil, err
		}
		return &Stream{Dict: v.Dict, Data: data}, nil
	}
	return obj, nil
}
