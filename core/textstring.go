package core

import (
	"bytes"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// pdfDocEncoding maps the PDFDocEncoding code points that differ from
// ISO-8859-1. Zero entries are undefined in PDFDocEncoding.
var pdfDocEncoding = map[byte]rune{
	0x18: '˘', 0x19: 'ˇ', 0x1A: 'ˆ', 0x1B: '˙',
	0x1C: '˝', 0x1D: '˛', 0x1E: '˚', 0x1F: '˜',
	0x80: '•', 0x81: '†', 0x82: '‡', 0x83: '…',
	0x84: '—', 0x85: '–', 0x86: 'ƒ', 0x87: '⁄',
	0x88: '‹', 0x89: '›', 0x8A: '−', 0x8B: '‰',
	0x8C: '„', 0x8D: '“', 0x8E: '”', 0x8F: '‘',
	0x90: '’', 0x91: '‚', 0x92: '™', 0x93: 'ﬁ',
	0x94: 'ﬂ', 0x95: 'Ł', 0x96: 'Œ', 0x97: 'Š',
	0x98: 'Ÿ', 0x99: 'Ž', 0x9A: 'ı', 0x9B: 'ł',
	0x9C: 'œ', 0x9D: 'š', 0x9E: 'ž', 0xA0: '€',
}

var (
	utf16BEBOM = []byte{0xFE, 0xFF}
	utf16LEBOM = []byte{0xFF, 0xFE}
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
)

// DecodeTextString interprets a PDF text string: UTF-16 when it carries a
// byte order mark, UTF-8 with a BOM (PDF 2.0), PDFDocEncoding otherwise.
func DecodeTextString(s String) string {
	b := []byte(s)
	switch {
	case bytes.HasPrefix(b, utf16BEBOM):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(b); err == nil {
			return stripLanguageEscapes(string(out))
		}
	case bytes.HasPrefix(b, utf16LEBOM):
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		if out, err := dec.Bytes(b); err == nil {
			return stripLanguageEscapes(string(out))
		}
	case bytes.HasPrefix(b, utf8BOM):
		return string(b[len(utf8BOM):])
	}

	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		if r, ok := pdfDocEncoding[c]; ok {
			sb.WriteRune(r)
			continue
		}
		sb.WriteRune(rune(c))
	}
	return sb.String()
}

// stripLanguageEscapes removes the U+001B language tag sequences that may
// appear inside UTF-16 text strings.
func stripLanguageEscapes(s string) string {
	if !strings.ContainsRune(s, '\x1b') {
		return s
	}
	var sb strings.Builder
	inEscape := false
	for _, r := range s {
		if r == '\x1b' {
			inEscape = !inEscape
			continue
		}
		if !inEscape {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// EncodeTextString encodes a Go string as a PDF text string. Strings that
// are plain ASCII are written as is; anything else becomes UTF-16BE with a
// byte order mark.
func EncodeTextString(s string) String {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 || (s[i] < 0x20 && s[i] != '\t' && s[i] != '\n' && s[i] != '\r') {
			ascii = false
			break
		}
	}
	if ascii {
		return String(s)
	}
	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	out, err := enc.String(s)
	if err != nil {
		return String(s)
	}
	return String(out)
}
