package core

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
)

// Encrypter encrypts strings and stream data of objects being written to an
// encrypted document.
type Encrypter interface {
	EncryptString(ref IndirectRef, data []byte) ([]byte, error)
	EncryptStream(ref IndirectRef, dict Dict, data []byte) ([]byte, error)
}

// WriteObject appends the PDF syntax for obj to buf. Dictionary keys are
// written in sorted order so output is deterministic.
func WriteObject(buf *bytes.Buffer, obj Object) {
	switch v := obj.(type) {
	case nil, Null:
		buf.WriteString("null")
	case Bool:
		buf.WriteString(v.String())
	case Int:
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	case Real:
		buf.WriteString(formatReal(float64(v)))
	case String:
		writeLiteralString(buf, []byte(v))
	case Name:
		writeName(buf, string(v))
	case Array:
		buf.WriteByte('[')
		for i, elem := range v {
			if i > 0 {
				buf.WriteByte(' ')
			}
			WriteObject(buf, elem)
		}
		buf.WriteByte(']')
	case Dict:
		keys := v.Keys()
		sort.Strings(keys)
		buf.WriteString("<<")
		for _, key := range keys {
			writeName(buf, key)
			buf.WriteByte(' ')
			WriteObject(buf, v[key])
		}
		buf.WriteString(">>")
	case *Stream:
		dict := v.Dict.Clone()
		dict["Length"] = Int(len(v.Data))
		WriteObject(buf, dict)
		buf.WriteString(" stream\n")
		buf.Write(v.Data)
		buf.WriteString("\nendstream")
	case IndirectRef:
		fmt.Fprintf(buf, "%d %d R", v.Number, v.Generation)
	default:
		buf.WriteString("null")
	}
}

// WriteIndirectObject appends "N G obj ... endobj" for obj. When enc is
// non-nil strings and stream data are encrypted with the key of ref.
func WriteIndirectObject(buf *bytes.Buffer, ref IndirectRef, obj Object, enc Encrypter) error {
	if enc != nil {
		var err error
		obj, err = encryptObject(enc, ref, obj)
		if err != nil {
			return fmt.Errorf("failed to encrypt object %s: %w", ref, err)
		}
	}
	fmt.Fprintf(buf, "%d %d obj\n", ref.Number, ref.Generation)
	WriteObject(buf, obj)
	buf.WriteString("\nendobj\n")
	return nil
}

// SerializeObject returns the indirect object syntax for obj as a new slice.
func SerializeObject(ref IndirectRef, obj Object, enc Encrypter) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteIndirectObject(&buf, ref, obj, enc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// encryptObject returns an encrypted copy; obj itself is not modified since
// it may be shared with the resolver cache.
func encryptObject(enc Encrypter, ref IndirectRef, obj Object) (Object, error) {
	switch v := obj.(type) {
	case String:
		out, err := enc.EncryptString(ref, []byte(v))
		if err != nil {
			return nil, err
		}
		return String(out), nil
	case Array:
		out := make(Array, len(v))
		for i, elem := range v {
			e, err := encryptObject(enc, ref, elem)
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case Dict:
		out := make(Dict, len(v))
		for k, val := range v {
			e, err := encryptObject(enc, ref, val)
			if err != nil {
				return nil, err
			}
			out[k] = e
		}
		return out, nil
	case *Stream:
		dictObj, err := encryptObject(enc, ref, v.Dict)
		if err != nil {
			return nil, err
		}
		data, err := enc.EncryptStream(ref, v.Dict, v.Data)
		if err != nil {
			return nil, err
		}
		return &Stream{Dict: dictObj.(Dict), Data: data}, nil
	}
	return obj, nil
}

func formatReal(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	s = trimTrailingZeros(s)
	return s
}

func trimTrailingZeros(s string) string {
	i := len(s)
	for i > 0 && s[i-1] == '0' {
		i--
	}
	if i > 0 && s[i-1] == '.' {
		i--
	}
	return s[:i]
}

func writeLiteralString(buf *bytes.Buffer, b []byte) {
	buf.WriteByte('(')
	for _, c := range b {
		switch c {
		case '(', ')', '\\':
			buf.WriteByte('\\')
			buf.WriteByte(c)
		case '\r':
			buf.WriteString(`\r`)
		case '\n':
			buf.WriteString(`\n`)
		default:
			buf.WriteByte(c)
		}
	}
	buf.WriteByte(')')
}

func writeName(buf *bytes.Buffer, name string) {
	buf.WriteByte('/')
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c < 0x21 || c > 0x7E || c == '#' || isDelimiter(c) {
			fmt.Fprintf(buf, "#%02X", c)
			continue
		}
		buf.WriteByte(c)
	}
}
