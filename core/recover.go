package core

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
)

var (
	objHeaderRe = regexp.MustCompile(`(?:^|[^0-9])([0-9]{1,10})[ \t\r\n\f\x00]+([0-9]{1,5})[ \t\r\n\f\x00]+obj\b`)
	trailerRe   = regexp.MustCompile(`trailer[ \t\r\n\f\x00]*<<`)
)

// reconstruct rebuilds the table from a full scan of the file. Later
// definitions of an object win, matching incremental update semantics.
// Trailers are gathered from "trailer" keywords and xref streams; the newest
// one whose /Root resolves to a dictionary is kept.
func (x *XRef) reconstruct() error {
	data := make([]byte, x.size)
	n, err := x.r.ReadAt(data, 0)
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read document for recovery: %w", err)
	}
	data = data[:n]

	entries := make(map[int]XRefEntry)
	var candidates []int64
	for _, m := range objHeaderRe.FindAllSubmatchIndex(data, -1) {
		num := atoiBytes(data[m[2]:m[3]])
		gen := atoiBytes(data[m[4]:m[5]])
		offset := int64(m[2])
		entries[num] = XRefEntry{Type: XRefEntryUncompressed, Offset: offset, Generation: gen, InUse: true}

		window := data[m[1]:]
		if len(window) > 1024 {
			window = window[:1024]
		}
		if bytes.Contains(window, []byte("/ObjStm")) || bytes.Contains(window, []byte("/XRef")) {
			candidates = append(candidates, offset)
		}
	}
	if len(entries) == 0 {
		return fmt.Errorf("recovery found no objects: %w", ErrInvalidPDF)
	}

	x.mu.Lock()
	x.entries = entries
	x.trailer = make(Dict)
	x.cache = make(map[IndirectRef]Object)
	x.objStms = make(map[int]*ObjectStream)
	x.topIsStream = false
	x.lastXRefStreamPos = -1
	x.mu.Unlock()

	var trailers []Dict
	var streamTrailer []bool
	for _, loc := range trailerRe.FindAllIndex(data, -1) {
		dictPos := int64(loc[1] - 2)
		parser := NewParserAt(bytes.NewReader(data[dictPos:]), dictPos)
		obj, err := parser.ParseObject()
		if err != nil {
			continue
		}
		if dict, ok := obj.(Dict); ok {
			trailers = append(trailers, dict)
			streamTrailer = append(streamTrailer, false)
		}
	}

	// Objects stored in object streams are only reachable through the
	// streams themselves; register them unless a plain definition exists.
	for _, offset := range candidates {
		ind, err := x.parseObjectAt(offset)
		if err != nil {
			continue
		}
		stream, ok := ind.Object.(*Stream)
		if !ok {
			continue
		}
		switch {
		case stream.Dict.IsType("XRef"):
			trailers = append(trailers, stream.Dict)
			streamTrailer = append(streamTrailer, true)
		case stream.Dict.IsType("ObjStm"):
			stm, err := NewObjectStream(stream)
			if err != nil {
				continue
			}
			nums, err := stm.ObjectNumbers()
			if err != nil {
				continue
			}
			x.mu.Lock()
			for i, num := range nums {
				if _, exists := entries[num]; !exists {
					entries[num] = XRefEntry{Type: XRefEntryCompressed, Offset: int64(ind.Ref.Number), Generation: i, InUse: true}
				}
			}
			x.mu.Unlock()
		}
	}

	for i := len(trailers) - 1; i >= 0; i-- {
		if !x.hasUsableRoot(trailers[i]) {
			continue
		}
		trailer := trailers[i].Clone()
		for j := i - 1; j >= 0; j-- {
			inheritTrailerKeys(trailer, trailers[j])
		}
		x.mu.Lock()
		x.trailer = trailer
		x.topIsStream = streamTrailer[i]
		x.setEncryptRefLocked()
		x.mu.Unlock()
		return nil
	}

	// No usable trailer: look for the catalog directly.
	for _, ref := range x.InUseRefs() {
		obj, err := x.Fetch(ref)
		if err != nil {
			continue
		}
		if dict, ok := obj.(Dict); ok && dict.IsType("Catalog") {
			x.mu.Lock()
			x.trailer = Dict{"Root": ref, "Size": Int(x.sizeLocked())}
			x.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("recovery found no document catalog: %w", ErrInvalidPDF)
}

func (x *XRef) hasUsableRoot(trailer Dict) bool {
	ref, ok := trailer.GetIndirectRef("Root")
	if !ok {
		return false
	}
	obj, err := x.Fetch(ref)
	if err != nil {
		return false
	}
	dict, ok := obj.(Dict)
	return ok && (dict.IsType("Catalog") || dict.Has("Pages"))
}
