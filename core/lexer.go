package core

import (
	"bufio"
	"fmt"
	"io"
)

// TokenType classifies a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenComment
	TokenKeyword
	TokenInteger
	TokenReal
	TokenString
	TokenHexString
	TokenName
	TokenArrayStart
	TokenArrayEnd
	TokenDictStart
	TokenDictEnd
	TokenIndirectRef
)

// Token is one lexical unit. Value holds the decoded bytes of strings and
// names and the literal text of everything else.
type Token struct {
	Type  TokenType
	Value []byte
	Pos   int64
}

func (t *Token) is(typ TokenType, value string) bool {
	return t.Type == typ && string(t.Value) == value
}

const (
	chSpace = 1 << iota
	chDelim
)

var charClass [256]uint8

func init() {
	for _, c := range []byte{0, '\t', '\n', '\f', '\r', ' '} {
		charClass[c] = chSpace
	}
	for _, c := range []byte("()<>[]{}/%") {
		charClass[c] = chDelim
	}
}

func isWhitespace(c byte) bool { return charClass[c] == chSpace }
func isDelimiter(c byte) bool  { return charClass[c] == chDelim }
func isDigit(c byte) bool      { return '0' <= c && c <= '9' }

// regular reports whether c can appear inside a name, number or keyword.
func regular(c byte) bool { return charClass[c] == 0 }

func unhexDigit(c byte) (byte, bool) {
	switch {
	case '0' <= c && c <= '9':
		return c - '0', true
	case 'a' <= c && c <= 'f':
		return c - 'a' + 10, true
	case 'A' <= c && c <= 'F':
		return c - 'A' + 10, true
	}
	return 0, false
}

// Lexer splits PDF syntax into tokens and tracks the absolute offset of
// every byte it consumes.
type Lexer struct {
	r   *bufio.Reader
	pos int64
}

// NewLexer returns a lexer reading r from offset zero.
func NewLexer(r io.Reader) *Lexer {
	return NewLexerAt(r, 0)
}

// NewLexerAt returns a lexer for a reader that starts at file offset base,
// so token positions are absolute.
func NewLexerAt(r io.Reader, base int64) *Lexer {
	return &Lexer{r: bufio.NewReaderSize(r, 8192), pos: base}
}

// Pos returns the offset of the next unread byte.
func (l *Lexer) Pos() int64 {
	return l.pos
}

func (l *Lexer) peek() (byte, error) {
	b, err := l.r.Peek(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (l *Lexer) next() (byte, error) {
	c, err := l.r.ReadByte()
	if err == nil {
		l.pos++
	}
	return c, err
}

// take consumes bytes while keep reports true and appends them to buf.
func (l *Lexer) take(buf []byte, keep func(byte) bool) ([]byte, error) {
	for {
		c, err := l.peek()
		if err == io.EOF {
			return buf, nil
		}
		if err != nil {
			return nil, err
		}
		if !keep(c) {
			return buf, nil
		}
		l.next()
		buf = append(buf, c)
	}
}

// NextToken returns the next token. At the end of input it keeps returning
// a TokenEOF.
func (l *Lexer) NextToken() (*Token, error) {
	if _, err := l.take(nil, isWhitespace); err != nil {
		return nil, err
	}
	start := l.pos
	c, err := l.peek()
	if err == io.EOF {
		return &Token{Type: TokenEOF, Pos: start}, nil
	}
	if err != nil {
		return nil, err
	}

	tok := &Token{Pos: start}
	switch c {
	case '%':
		tok.Type = TokenComment
		tok.Value, err = l.take(nil, func(c byte) bool { return c != '\r' && c != '\n' })
	case '(':
		l.next()
		tok.Type = TokenString
		tok.Value, err = l.literal()
	case '<', '>':
		two, _ := l.r.Peek(2)
		if len(two) == 2 && two[1] == c {
			l.next()
			l.next()
			tok.Type, tok.Value = TokenDictStart, []byte("<<")
			if c == '>' {
				tok.Type, tok.Value = TokenDictEnd, []byte(">>")
			}
			return tok, nil
		}
		if c == '>' {
			l.next()
			return nil, &SyntaxError{Offset: start, Msg: "unexpected '>'"}
		}
		l.next()
		tok.Type = TokenHexString
		tok.Value, err = l.hex()
	case '[', ']':
		l.next()
		tok.Type, tok.Value = TokenArrayStart, []byte{c}
		if c == ']' {
			tok.Type = TokenArrayEnd
		}
	case '/':
		l.next()
		tok.Type = TokenName
		tok.Value, err = l.name()
	default:
		if !regular(c) {
			l.next()
			return nil, &SyntaxError{Offset: start, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
		var word []byte
		if word, err = l.take(nil, regular); err == nil {
			tok.Type, tok.Value = classifyWord(word)
		}
	}
	if err != nil {
		return nil, err
	}
	return tok, nil
}

// classifyWord sorts a run of regular characters into a number or keyword.
// A lone sign or dot reads as zero.
func classifyWord(w []byte) (TokenType, []byte) {
	if len(w) == 1 && w[0] == 'R' {
		return TokenIndirectRef, w
	}
	digits, dots := 0, 0
	for i, c := range w {
		switch {
		case '0' <= c && c <= '9':
			digits++
		case c == '.':
			dots++
		case (c == '-' || c == '+') && i == 0:
		default:
			return TokenKeyword, w
		}
	}
	switch {
	case dots > 1:
		return TokenKeyword, w
	case digits == 0:
		return TokenInteger, []byte("0")
	case dots == 1:
		return TokenReal, w
	}
	return TokenInteger, w
}

// literal reads a parenthesized string after its opening paren.
func (l *Lexer) literal() ([]byte, error) {
	var out []byte
	for depth := 1; ; {
		c, err := l.next()
		if err != nil {
			return nil, fmt.Errorf("unterminated string: %w", err)
		}
		switch c {
		case '(':
			depth++
		case ')':
			if depth--; depth == 0 {
				return out, nil
			}
		case '\\':
			if out, err = l.escape(out); err != nil {
				return nil, err
			}
			continue
		}
		out = append(out, c)
	}
}

var escapes = map[byte]byte{'n': '\n', 'r': '\r', 't': '\t', 'b': '\b', 'f': '\f'}

func (l *Lexer) escape(out []byte) ([]byte, error) {
	c, err := l.next()
	if err != nil {
		return nil, fmt.Errorf("unterminated string: %w", err)
	}
	if e, ok := escapes[c]; ok {
		return append(out, e), nil
	}
	switch {
	case c == '\n':
		return out, nil
	case c == '\r':
		if n, err := l.peek(); err == nil && n == '\n' {
			l.next()
		}
		return out, nil
	case '0' <= c && c <= '7':
		v := c - '0'
		for i := 0; i < 2; i++ {
			n, err := l.peek()
			if err != nil || n < '0' || n > '7' {
				break
			}
			l.next()
			v = v<<3 | (n - '0')
		}
		return append(out, v), nil
	}
	return append(out, c), nil
}

// hex reads a hex string after its opening angle bracket. An odd final
// digit is padded with zero.
func (l *Lexer) hex() ([]byte, error) {
	var out []byte
	half := false
	for {
		c, err := l.next()
		if err != nil {
			return nil, fmt.Errorf("unterminated hex string: %w", err)
		}
		if c == '>' {
			return out, nil
		}
		if isWhitespace(c) {
			continue
		}
		v, ok := unhexDigit(c)
		if !ok {
			return nil, &SyntaxError{Offset: l.pos - 1, Msg: fmt.Sprintf("invalid hex digit %q", c)}
		}
		if half {
			out[len(out)-1] |= v
		} else {
			out = append(out, v<<4)
		}
		half = !half
	}
}

// name reads a name after its slash. A '#' not followed by two hex digits
// is kept as is.
func (l *Lexer) name() ([]byte, error) {
	raw, err := l.take(nil, regular)
	if err != nil {
		return nil, err
	}
	out := raw[:0]
	for i := 0; i < len(raw); i++ {
		if raw[i] == '#' && i+2 < len(raw) {
			hi, ok1 := unhexDigit(raw[i+1])
			lo, ok2 := unhexDigit(raw[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, raw[i])
	}
	return out, nil
}

// inlineData reads inline image bytes after the ID operator. The data ends
// at an EI that has whitespace before it and no regular character after.
func (l *Lexer) inlineData() ([]byte, error) {
	if c, err := l.peek(); err == nil && isWhitespace(c) {
		l.next()
	}
	var buf []byte
	for {
		c, err := l.next()
		if err != nil {
			return nil, fmt.Errorf("inline image without EI: %w", err)
		}
		buf = append(buf, c)
		n := len(buf)
		if c != 'I' || n < 2 || buf[n-2] != 'E' || (n > 2 && !isWhitespace(buf[n-3])) {
			continue
		}
		if after, err := l.peek(); err == nil && regular(after) {
			continue
		}
		data := buf[:n-2]
		if k := len(data); k > 0 && isWhitespace(data[k-1]) {
			data = data[:k-1]
		}
		return data, nil
	}
}

// ReadBytes reads exactly n bytes of raw data. On a short read it returns
// what was available with an error.
func (l *Lexer) ReadBytes(n int) ([]byte, error) {
	data := make([]byte, n)
	got, err := io.ReadFull(l.r, data)
	l.pos += int64(got)
	if err != nil {
		return data[:got], fmt.Errorf("read %d of %d stream bytes: %w", got, n, err)
	}
	return data, nil
}

// SkipStreamEOL consumes the end of line after the "stream" keyword: LF,
// CR LF or a lone CR, optionally preceded by spaces.
func (l *Lexer) SkipStreamEOL() error {
	if _, err := l.take(nil, func(c byte) bool { return c == ' ' || c == '\t' }); err != nil {
		return err
	}
	c, err := l.peek()
	if err != nil {
		return err
	}
	if c == '\r' {
		l.next()
		c, err = l.peek()
		if err != nil {
			return nil
		}
	}
	if c == '\n' {
		l.next()
	}
	return nil
}
