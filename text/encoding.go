package text

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// baseEncoding maps a single-byte code to a rune. Zero means unmapped.
type baseEncoding [256]rune

func fromCharmap(cm *charmap.Charmap) *baseEncoding {
	var enc baseEncoding
	for i := 0; i < 256; i++ {
		r := cm.DecodeByte(byte(i))
		if r != utf8.RuneError {
			enc[i] = r
		}
	}
	return &enc
}

var (
	winAnsiEncoding  = fromCharmap(charmap.Windows1252)
	macRomanEncoding = fromCharmap(charmap.Macintosh)
	standardEncoding = newStandardEncoding()
)

// newStandardEncoding builds Adobe StandardEncoding: Latin-1 shaped in the
// ASCII range apart from the quotes, with its own upper half.
func newStandardEncoding() *baseEncoding {
	var enc baseEncoding
	for i := 0x20; i < 0x7F; i++ {
		enc[i] = rune(i)
	}
	enc[0x27] = '’'
	enc[0x60] = '‘'
	upper := map[byte]rune{
		0xA1: '¡', 0xA2: '¢', 0xA3: '£', 0xA4: '⁄', 0xA5: '¥', 0xA6: 'ƒ',
		0xA7: '§', 0xA8: '¤', 0xA9: '\'', 0xAA: '“', 0xAB: '«', 0xAC: '‹',
		0xAD: '›', 0xAE: 'ﬁ', 0xAF: 'ﬂ', 0xB1: '–', 0xB2: '†',
		0xB3: '‡', 0xB4: '·', 0xB6: '¶', 0xB7: '•', 0xB8: '‚',
		0xB9: '„', 0xBA: '”', 0xBB: '»', 0xBC: '…', 0xBD: '‰',
		0xBF: '¿', 0xC1: '`', 0xC2: '´', 0xC3: 'ˆ', 0xC4: '˜', 0xC5: '¯', 0xC6: '˘',
		0xC7: '˙', 0xC8: '¨', 0xCA: '˚', 0xCB: '¸', 0xCD: '˝', 0xCE: '˛', 0xCF: 'ˇ',
		0xD0: '—', 0xE1: 'Æ', 0xE3: 'ª', 0xE8: 'Ł', 0xE9: 'Ø', 0xEA: 'Œ',
		0xEB: 'º', 0xF1: 'æ', 0xF5: 'ı', 0xF8: 'ł', 0xF9: 'ø', 0xFA: 'œ', 0xFB: 'ß',
	}
	for b, r := range upper {
		enc[b] = r
	}
	return &enc
}

func namedEncoding(name string) *baseEncoding {
	switch name {
	case "WinAnsiEncoding":
		return winAnsiEncoding
	case "MacRomanEncoding", "MacExpertEncoding":
		return macRomanEncoding
	case "StandardEncoding":
		return standardEncoding
	}
	return nil
}

var glyphNames = map[string]rune{
	"space": ' ', "exclam": '!', "quotedbl": '"', "numbersign": '#', "dollar": '$',
	"percent": '%', "ampersand": '&', "quotesingle": '\'', "parenleft": '(',
	"parenright": ')', "asterisk": '*', "plus": '+', "comma": ',', "hyphen": '-',
	"period": '.', "slash": '/', "colon": ':', "semicolon": ';', "less": '<',
	"equal": '=', "greater": '>', "question": '?', "at": '@', "bracketleft": '[',
	"backslash": '\\', "bracketright": ']', "asciicircum": '^', "underscore": '_',
	"grave": '`', "braceleft": '{', "bar": '|', "braceright": '}', "asciitilde": '~',
	"zero": '0', "one": '1', "two": '2', "three": '3', "four": '4', "five": '5',
	"six": '6', "seven": '7', "eight": '8', "nine": '9',
	"quoteleft": '‘', "quoteright": '’', "quotedblleft": '“',
	"quotedblright": '”', "quotesinglbase": '‚', "quotedblbase": '„',
	"endash": '–', "emdash": '—', "bullet": '•', "ellipsis": '…',
	"dagger": '†', "daggerdbl": '‡', "perthousand": '‰',
	"guilsinglleft": '‹', "guilsinglright": '›', "guillemotleft": '«',
	"guillemotright": '»', "trademark": '™', "copyright": '©', "registered": '®',
	"degree": '°', "section": '§', "paragraph": '¶', "periodcentered": '·',
	"multiply": '×', "divide": '÷', "minus": '−', "plusminus": '±',
	"fi": 'ﬁ', "fl": 'ﬂ', "ff": 'ﬀ', "ffi": 'ﬃ', "ffl": 'ﬄ',
	"AE": 'Æ', "ae": 'æ', "OE": 'Œ', "oe": 'œ', "germandbls": 'ß', "Oslash": 'Ø',
	"oslash": 'ø', "Lslash": 'Ł', "lslash": 'ł', "dotlessi": 'ı', "Eth": 'Ð',
	"eth": 'ð', "Thorn": 'Þ', "thorn": 'þ', "Euro": '€', "sterling": '£',
	"yen": '¥', "cent": '¢', "currency": '¤', "florin": 'ƒ', "exclamdown": '¡',
	"questiondown": '¿', "nbspace": ' ', "sfthyphen": '­',
	"ordfeminine": 'ª', "ordmasculine": 'º', "onehalf": '½', "onequarter": '¼',
	"threequarters": '¾', "mu": 'µ', "logicalnot": '¬', "brokenbar": '¦',
	"dieresis": '¨', "macron": '¯', "acute": '´', "cedilla": '¸',
}

// accentMarks turns suffixed glyph names such as "eacute" into a base letter
// plus combining mark, composed with NFC.
var accentMarks = []struct {
	suffix string
	mark   rune
}{
	{"circumflex", '̂'}, {"hungarumlaut", '̋'}, {"dieresis", '̈'},
	{"dotaccent", '̇'}, {"cedilla", '̧'}, {"macron", '̄'},
	{"ogonek", '̨'}, {"acute", '́'}, {"grave", '̀'},
	{"tilde", '̃'}, {"caron", '̌'}, {"breve", '̆'},
	{"ring", '̊'},
}

// glyphToRune resolves a glyph name from a /Differences array.
func glyphToRune(name string) (rune, bool) {
	if r, ok := glyphNames[name]; ok {
		return r, true
	}
	if i := strings.IndexByte(name, '.'); i > 0 {
		name = name[:i]
		if r, ok := glyphNames[name]; ok {
			return r, true
		}
	}
	if len(name) == 1 {
		return rune(name[0]), true
	}
	if strings.HasPrefix(name, "uni") && len(name) >= 7 {
		if v, err := strconv.ParseUint(name[3:7], 16, 32); err == nil {
			return rune(v), true
		}
	}
	if strings.HasPrefix(name, "u") && len(name) >= 5 && len(name) <= 7 {
		if v, err := strconv.ParseUint(name[1:], 16, 32); err == nil {
			return rune(v), true
		}
	}
	for _, a := range accentMarks {
		if len(name) == len(a.suffix)+1 && strings.HasSuffix(name, a.suffix) {
			composed := norm.NFC.String(name[:1] + string(a.mark))
			r, size := utf8.DecodeRuneInString(composed)
			if size == len(composed) {
				return r, true
			}
		}
	}
	return 0, false
}
