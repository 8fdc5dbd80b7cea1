package text

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/tsawler/docworker/contentstream"
	"github.com/tsawler/docworker/core"
)

// CMap maps character codes of a font to Unicode text. It is built from a
// /ToUnicode stream and also knows the codespace ranges that decide how many
// bytes each code in a string occupies.
type CMap struct {
	codespace []codespaceRange
	chars     map[uint32]string
	ranges    []bfRange
}

type codespaceRange struct {
	n        int // bytes per code
	low, hig uint32
}

// bfRange maps [lo,hi] either by incrementing the last UTF-16 unit of dst
// or, when dsts is set, by indexing into it.
type bfRange struct {
	lo, hi uint32
	dst    []uint16
	dsts   []string
}

// NewCMap returns an empty CMap.
func NewCMap() *CMap {
	return &CMap{chars: make(map[uint32]string)}
}

// ParseCMapStream decodes stream and parses it as a ToUnicode CMap.
func ParseCMapStream(stream *core.Stream) (*CMap, error) {
	if stream == nil {
		return nil, fmt.Errorf("stream is nil")
	}
	data, err := stream.Decode()
	if err != nil {
		return nil, fmt.Errorf("failed to decode stream: %w", err)
	}
	return ParseCMap(data)
}

// ParseCMap parses CMap program text. The PostScript syntax of a CMap is a
// subset of content stream syntax, so the content stream tokenizer drives
// it: each end* keyword arrives with the entries of its section as
// operands. Mappings read before a syntax error are kept.
func ParseCMap(data []byte) (*CMap, error) {
	cm := NewCMap()
	p := contentstream.NewParser(data)
	for {
		op, err := p.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			if cm.Len() == 0 {
				return nil, fmt.Errorf("failed to parse cmap: %w", err)
			}
			break
		}
		switch op.Operator {
		case "endcodespacerange":
			cm.addCodespace(op.Operands)
		case "endbfchar":
			cm.addChars(op.Operands)
		case "endbfrange":
			cm.addRanges(op.Operands)
		}
	}
	sort.Slice(cm.codespace, func(i, j int) bool { return cm.codespace[i].n < cm.codespace[j].n })
	return cm, nil
}

func codeOf(obj core.Object) (uint32, int, bool) {
	s, ok := obj.(core.String)
	if !ok || len(s) == 0 || len(s) > 4 {
		return 0, 0, false
	}
	var v uint32
	for i := 0; i < len(s); i++ {
		v = v<<8 | uint32(s[i])
	}
	return v, len(s), true
}

func (cm *CMap) addCodespace(ops []core.Object) {
	for i := 0; i+1 < len(ops); i += 2 {
		lo, n, ok1 := codeOf(ops[i])
		hi, _, ok2 := codeOf(ops[i+1])
		if ok1 && ok2 {
			cm.codespace = append(cm.codespace, codespaceRange{n: n, low: lo, hig: hi})
		}
	}
}

func (cm *CMap) addChars(ops []core.Object) {
	for i := 0; i+1 < len(ops); i += 2 {
		code, _, ok := codeOf(ops[i])
		if !ok {
			continue
		}
		switch dst := ops[i+1].(type) {
		case core.String:
			cm.chars[code] = decodeUTF16([]byte(dst))
		case core.Name:
			// Some producers write glyph names instead of hex strings.
			if r, ok := glyphToRune(string(dst)); ok {
				cm.chars[code] = string(r)
			}
		}
	}
}

func (cm *CMap) addRanges(ops []core.Object) {
	for i := 0; i+2 < len(ops); i += 3 {
		lo, _, ok1 := codeOf(ops[i])
		hi, _, ok2 := codeOf(ops[i+1])
		if !ok1 || !ok2 || hi < lo {
			continue
		}
		switch dst := ops[i+2].(type) {
		case core.String:
			units := toUnits([]byte(dst))
			if len(units) == 0 {
				continue
			}
			cm.ranges = append(cm.ranges, bfRange{lo: lo, hi: hi, dst: units})
		case core.Array:
			r := bfRange{lo: lo, hi: hi}
			for _, item := range dst {
				if s, ok := item.(core.String); ok {
					r.dsts = append(r.dsts, decodeUTF16([]byte(s)))
				} else {
					r.dsts = append(r.dsts, "")
				}
			}
			cm.ranges = append(cm.ranges, r)
		}
	}
}

// Len returns the number of explicit mappings, counting each range once.
func (cm *CMap) Len() int {
	return len(cm.chars) + len(cm.ranges)
}

// Lookup returns the Unicode text for code.
func (cm *CMap) Lookup(code uint32) (string, bool) {
	if s, ok := cm.chars[code]; ok {
		return s, true
	}
	for _, r := range cm.ranges {
		if code < r.lo || code > r.hi {
			continue
		}
		off := code - r.lo
		if r.dsts != nil {
			if int(off) < len(r.dsts) && r.dsts[off] != "" {
				return r.dsts[off], true
			}
			return "", false
		}
		units := append([]uint16(nil), r.dst...)
		units[len(units)-1] += uint16(off)
		return string(utf16.Decode(units)), true
	}
	return "", false
}

// HasCodespace reports whether the CMap declared codespace ranges.
func (cm *CMap) HasCodespace() bool {
	return len(cm.codespace) > 0
}

// NextCode reads one character code from the front of data using the
// codespace ranges, shortest first. Without a matching range it falls back
// to def bytes.
func (cm *CMap) NextCode(data []byte, def int) (uint32, int) {
	for _, cs := range cm.codespace {
		if cs.n > len(data) {
			continue
		}
		var v uint32
		for i := 0; i < cs.n; i++ {
			v = v<<8 | uint32(data[i])
		}
		if v >= cs.low && v <= cs.hig {
			return v, cs.n
		}
	}
	if def > len(data) {
		def = len(data)
	}
	var v uint32
	for i := 0; i < def; i++ {
		v = v<<8 | uint32(data[i])
	}
	return v, def
}

func toUnits(b []byte) []uint16 {
	if len(b)%2 == 1 {
		b = append([]byte{0}, b...)
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
	}
	return units
}

// decodeUTF16 decodes a big-endian UTF-16 destination string. Single bytes
// are taken as Latin-1.
func decodeUTF16(b []byte) string {
	if len(b) == 1 {
		return string(rune(b[0]))
	}
	return strings.ToValidUTF8(string(utf16.Decode(toUnits(b))), "�")
}
