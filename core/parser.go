package core

import (
	"fmt"
	"io"
	"strconv"
)

// ReferenceResolver resolves indirect references. The parser uses it for
// stream lengths stored as separate objects.
type ReferenceResolver interface {
	ResolveReference(ref IndirectRef) (Object, error)
}

// Parser reads PDF objects from a token stream. Comments are dropped.
// Lookahead is filled on demand so that nothing past a "stream" keyword is
// tokenized before the raw data is read.
type Parser struct {
	lex      *Lexer
	ahead    []*Token
	resolver ReferenceResolver
}

// NewParser returns a parser reading r from offset zero.
func NewParser(r io.Reader) *Parser {
	return NewParserAt(r, 0)
}

// NewParserAt returns a parser for a reader that starts at file offset
// base. Offsets in errors are absolute.
func NewParserAt(r io.Reader, base int64) *Parser {
	return &Parser{lex: NewLexerAt(r, base)}
}

// SetReferenceResolver sets the resolver used for indirect /Length values.
func (p *Parser) SetReferenceResolver(r ReferenceResolver) {
	p.resolver = r
}

func (p *Parser) peek(i int) (*Token, error) {
	for len(p.ahead) <= i {
		t, err := p.lex.NextToken()
		if err != nil {
			return nil, err
		}
		if t.Type != TokenComment {
			p.ahead = append(p.ahead, t)
		}
	}
	return p.ahead[i], nil
}

func (p *Parser) next() (*Token, error) {
	t, err := p.peek(0)
	if err != nil {
		return nil, err
	}
	p.ahead = p.ahead[1:]
	return t, nil
}

// ParseObject parses the next direct object or reference. It returns
// io.EOF at the end of input.
func (p *Parser) ParseObject() (Object, error) {
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	switch t.Type {
	case TokenEOF:
		return nil, io.EOF
	case TokenKeyword:
		switch string(t.Value) {
		case "null":
			return Null{}, nil
		case "true":
			return Bool(true), nil
		case "false":
			return Bool(false), nil
		}
	case TokenInteger:
		return p.integerOrRef(t)
	case TokenReal:
		f, err := strconv.ParseFloat(string(t.Value), 64)
		if err != nil {
			return nil, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("bad number %q", t.Value)}
		}
		return Real(f), nil
	case TokenString, TokenHexString:
		return String(t.Value), nil
	case TokenName:
		return Name(t.Value), nil
	case TokenArrayStart:
		return p.array()
	case TokenDictStart:
		return p.dict()
	}
	return nil, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("unexpected %q", t.Value)}
}

// ParseOperand reads the next item of a content stream: an operand
// object, or the name of an operator. Bare keywords other than true, false
// and null are operators.
func (p *Parser) ParseOperand() (Object, string, error) {
	t, err := p.peek(0)
	if err != nil {
		return nil, "", err
	}
	if t.Type == TokenKeyword || t.Type == TokenIndirectRef {
		switch kw := string(t.Value); kw {
		case "true", "false", "null":
		default:
			p.ahead = p.ahead[1:]
			return nil, kw, nil
		}
	}
	obj, err := p.ParseObject()
	return obj, "", err
}

// InlineImageData reads the raw bytes that follow an ID operator.
func (p *Parser) InlineImageData() ([]byte, error) {
	if len(p.ahead) > 0 {
		return nil, &SyntaxError{Offset: p.ahead[0].Pos, Msg: "inline image data after lookahead"}
	}
	return p.lex.inlineData()
}

// integerOrRef looks two tokens ahead for the "num gen R" form.
func (p *Parser) integerOrRef(t *Token) (Object, error) {
	n, err := strconv.ParseInt(string(t.Value), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(t.Value), 64)
		if ferr != nil {
			return nil, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("bad number %q", t.Value)}
		}
		return Real(f), nil
	}
	gen, err := p.peek(0)
	if err != nil || gen.Type != TokenInteger {
		return Int(n), nil
	}
	r, err := p.peek(1)
	if err != nil || r.Type != TokenIndirectRef {
		return Int(n), nil
	}
	g, err := strconv.Atoi(string(gen.Value))
	if err != nil {
		return nil, &SyntaxError{Offset: gen.Pos, Msg: fmt.Sprintf("bad generation %q", gen.Value)}
	}
	p.ahead = p.ahead[2:]
	return IndirectRef{Number: int(n), Generation: g}, nil
}

func (p *Parser) array() (Array, error) {
	arr := Array{}
	for {
		t, err := p.peek(0)
		if err != nil {
			return nil, err
		}
		switch t.Type {
		case TokenArrayEnd:
			p.ahead = p.ahead[1:]
			return arr, nil
		case TokenEOF:
			return nil, &SyntaxError{Offset: t.Pos, Msg: "unterminated array"}
		}
		obj, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("array element %d: %w", len(arr), err)
		}
		arr = append(arr, obj)
	}
}

// dict parses dictionary entries. A key directly followed by ">>" is
// dropped.
func (p *Parser) dict() (Dict, error) {
	d := Dict{}
	for {
		t, err := p.next()
		if err != nil {
			return nil, err
		}
		switch t.Type {
		case TokenDictEnd:
			return d, nil
		case TokenEOF:
			return nil, &SyntaxError{Offset: t.Pos, Msg: "unterminated dictionary"}
		case TokenName:
		default:
			return nil, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("dictionary key %q is not a name", t.Value)}
		}
		if v, err := p.peek(0); err == nil && v.Type == TokenDictEnd {
			continue
		}
		val, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("value of /%s: %w", t.Value, err)
		}
		d[string(t.Value)] = val
	}
}

func (p *Parser) expectInt(what string) (int, error) {
	t, err := p.next()
	if err != nil {
		return 0, err
	}
	if t.Type != TokenInteger {
		return 0, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("expected %s, found %q", what, t.Value)}
	}
	n, err := strconv.Atoi(string(t.Value))
	if err != nil {
		return 0, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("bad %s %q", what, t.Value)}
	}
	return n, nil
}

// ParseIndirectObject parses "num gen obj ... endobj", including a stream
// body. A missing endobj is accepted.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	num, err := p.expectInt("object number")
	if err != nil {
		return nil, err
	}
	gen, err := p.expectInt("generation number")
	if err != nil {
		return nil, err
	}
	t, err := p.next()
	if err != nil {
		return nil, err
	}
	if !t.is(TokenKeyword, "obj") {
		return nil, &SyntaxError{Offset: t.Pos, Msg: fmt.Sprintf("expected obj, found %q", t.Value)}
	}
	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("object %d %d: %w", num, gen, err)
	}

	t, err = p.peek(0)
	if err == nil && t.is(TokenKeyword, "stream") {
		dict, ok := obj.(Dict)
		if !ok {
			return nil, &SyntaxError{Offset: t.Pos, Msg: "stream without a dictionary"}
		}
		p.ahead = p.ahead[1:]
		if obj, err = p.streamBody(dict); err != nil {
			return nil, err
		}
		t, err = p.peek(0)
	}
	if err == nil && t.is(TokenKeyword, "endobj") {
		p.ahead = p.ahead[1:]
	}
	return &IndirectObject{Ref: IndirectRef{Number: num, Generation: gen}, Object: obj}, nil
}

// streamLength returns the /Length of dict, or -1 when it is missing or
// cannot be resolved.
func (p *Parser) streamLength(dict Dict) int {
	v := dict.Get("Length")
	if ref, ok := v.(IndirectRef); ok {
		if p.resolver == nil {
			return -1
		}
		var err error
		if v, err = p.resolver.ResolveReference(ref); err != nil {
			return -1
		}
	}
	if n, ok := v.(Int); ok && n >= 0 {
		return int(n)
	}
	return -1
}

// streamBody reads the raw data after the "stream" keyword. The data must
// end at "endstream"; otherwise a StreamLengthError carries the data offset
// so the caller can scan for the end instead.
func (p *Parser) streamBody(dict Dict) (*Stream, error) {
	if err := p.lex.SkipStreamEOL(); err != nil {
		return nil, fmt.Errorf("stream data: %w", err)
	}
	start := p.lex.Pos()
	n := p.streamLength(dict)
	if n < 0 {
		return nil, &StreamLengthError{Dict: dict, DataOffset: start}
	}
	data, err := p.lex.ReadBytes(n)
	if err != nil {
		return nil, &StreamLengthError{Dict: dict, DataOffset: start}
	}
	end, err := p.lex.NextToken()
	if err != nil || !end.is(TokenKeyword, "endstream") {
		return nil, &StreamLengthError{Dict: dict, DataOffset: start}
	}
	return &Stream{Dict: dict, Data: data}, nil
}
