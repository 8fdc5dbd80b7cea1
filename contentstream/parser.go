package contentstream

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/tsawler/docworker/core"
)

// Operation is an operator with the operands that preceded it.
type Operation struct {
	Operator string
	Operands []core.Object
}

// maxOperands bounds the operand stack on garbage input.
const maxOperands = 4096

// Parser reads operations from a content stream. It shares the object
// syntax of core.Parser. A Parser is not safe for concurrent use.
type Parser struct {
	src   *core.Parser
	stack []core.Object
}

// NewParser returns a parser over data.
func NewParser(data []byte) *Parser {
	return &Parser{src: core.NewParser(bytes.NewReader(data))}
}

// Parse returns every operation in order.
func (p *Parser) Parse() ([]Operation, error) {
	ops := []Operation{}
	for {
		op, err := p.Next()
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
}

// Next returns the next operation, or io.EOF at the end of the stream.
// Operands left at the end are discarded. A stray delimiter drops the
// operands collected so far.
func (p *Parser) Next() (Operation, error) {
	for {
		obj, op, err := p.src.ParseOperand()
		var syn *core.SyntaxError
		switch {
		case err == io.EOF:
			p.stack = nil
			return Operation{}, io.EOF
		case errors.As(err, &syn):
			p.stack = p.stack[:0]
			continue
		case err != nil:
			return Operation{}, err
		case op == "BI":
			p.stack = p.stack[:0]
			return p.inlineImage()
		case op != "":
			out := Operation{Operator: op, Operands: make([]core.Object, len(p.stack))}
			copy(out.Operands, p.stack)
			p.stack = p.stack[:0]
			return out, nil
		}
		if len(p.stack) == maxOperands {
			return Operation{}, fmt.Errorf("more than %d operands", maxOperands)
		}
		p.stack = append(p.stack, obj)
	}
}

// inlineImage reads the key/value pairs between BI and ID, then the raw
// data up to EI. The result is a BI operation whose operands are the image
// dictionary and the data. Bare keywords as values become names.
func (p *Parser) inlineImage() (Operation, error) {
	dict := core.Dict{}
	var key core.Name
	for {
		obj, kw, err := p.src.ParseOperand()
		if err == io.EOF {
			return Operation{}, fmt.Errorf("inline image without ID")
		}
		if err != nil {
			return Operation{}, fmt.Errorf("inline image: %w", err)
		}
		if kw == "ID" {
			break
		}
		if obj == nil {
			obj = core.Name(kw)
		}
		if key == "" {
			name, ok := obj.(core.Name)
			if !ok || name == "" {
				return Operation{}, fmt.Errorf("inline image key %v is not a name", obj)
			}
			key = name
			continue
		}
		dict[string(key)] = obj
		key = ""
	}
	data, err := p.src.InlineImageData()
	if err != nil {
		return Operation{}, err
	}
	return Operation{Operator: "BI", Operands: []core.Object{dict, core.String(data)}}, nil
}
