package filters

import (
	"errors"
	"fmt"
)

// ErrUnknownFilter is returned for filter names that are not registered.
var ErrUnknownFilter = errors.New("unknown filter")

// Params holds the /DecodeParms entries the decoders read.
type Params struct {
	Predictor        int
	Colors           int
	BitsPerComponent int
	// Columns is zero when unset; each filter applies its own default.
	Columns          int
	EarlyChange      int
	K                int
	Rows             int
	BlackIs1         bool
	EncodedByteAlign bool
}

// NewParams returns the parameter defaults.
func NewParams() Params {
	return Params{
		Predictor:        1,
		Colors:           1,
		BitsPerComponent: 8,
		EarlyChange:      1,
	}
}

type decoder func(data []byte, p Params) ([]byte, error)

func passThrough(data []byte, _ Params) ([]byte, error) { return data, nil }

var decoders = map[string]decoder{
	"FlateDecode":     inflate,
	"Fl":              inflate,
	"LZWDecode":       unlzw,
	"LZW":             unlzw,
	"ASCIIHexDecode":  unhex,
	"AHx":             unhex,
	"ASCII85Decode":   un85,
	"A85":             un85,
	"RunLengthDecode": unrunlength,
	"RL":              unrunlength,
	"CCITTFaxDecode":  uncfax,
	"CCF":             uncfax,
	"DCTDecode":       passThrough,
	"DCT":             passThrough,
	"JPXDecode":       passThrough,
	"JBIG2Decode":     passThrough,
	// Named crypt filters are applied before decoding; only Identity
	// reaches this table.
	"Crypt": passThrough,
}

// Decode runs the filter called name over data.
func Decode(name string, data []byte, p Params) ([]byte, error) {
	dec, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFilter, name)
	}
	out, err := dec(data, p)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}
