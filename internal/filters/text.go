package filters

import (
	"encoding/binary"
	"fmt"
)

func unhex(data []byte, _ Params) ([]byte, error) {
	out := make([]byte, 0, len(data)/2+1)
	half := false
	for _, c := range data {
		if isSpace(c) {
			continue
		}
		if c == '>' {
			break
		}
		var v byte
		switch {
		case '0' <= c && c <= '9':
			v = c - '0'
		case 'a' <= c && c <= 'f':
			v = c - 'a' + 10
		case 'A' <= c && c <= 'F':
			v = c - 'A' + 10
		default:
			return nil, fmt.Errorf("invalid hex digit %q", c)
		}
		if half {
			out[len(out)-1] |= v
		} else {
			out = append(out, v<<4)
		}
		half = !half
	}
	return out, nil
}

// un85 decodes base-85 groups of five digits into four bytes. 'z' stands
// for four zero bytes and a final partial group of n digits yields n-1
// bytes.
func un85(data []byte, _ Params) ([]byte, error) {
	out := make([]byte, 0, len(data)*4/5+4)
	var v uint32
	n := 0
scan:
	for _, c := range data {
		switch {
		case isSpace(c):
			continue
		case c == '~':
			break scan
		case c == 'z' && n == 0:
			out = append(out, 0, 0, 0, 0)
			continue
		case c < '!' || c > 'u':
			return nil, fmt.Errorf("invalid ASCII85 byte %q", c)
		}
		v = v*85 + uint32(c-'!')
		if n++; n == 5 {
			out = binary.BigEndian.AppendUint32(out, v)
			v, n = 0, 0
		}
	}
	if n > 1 {
		for i := n; i < 5; i++ {
			v = v*85 + 84
		}
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		out = append(out, b[:n-1]...)
	}
	return out, nil
}

// unrunlength decodes RunLengthDecode. A length byte L below 128 copies
// L+1 literal bytes, above 128 repeats the next byte 257-L times and 128
// ends the data.
func unrunlength(data []byte, _ Params) ([]byte, error) {
	out := make([]byte, 0, len(data)*2)
	for len(data) > 0 {
		l := int(data[0])
		data = data[1:]
		switch {
		case l == 128:
			return out, nil
		case l < 128:
			if l+1 > len(data) {
				return nil, fmt.Errorf("literal run of %d bytes overruns input", l+1)
			}
			out = append(out, data[:l+1]...)
			data = data[l+1:]
		default:
			if len(data) == 0 {
				return nil, fmt.Errorf("repeat run without its byte")
			}
			for i := 0; i < 257-l; i++ {
				out = append(out, data[0])
			}
			data = data[1:]
		}
	}
	return out, nil
}
