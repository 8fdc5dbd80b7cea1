package filters

import (
	"bytes"
	"io"

	"golang.org/x/image/ccitt"
)

// uncfax decodes Group 3 (K >= 0) and Group 4 (K < 0) fax data. Columns
// defaults to 1728 and a zero Rows reads until the end of the data.
func uncfax(data []byte, p Params) ([]byte, error) {
	sf := ccitt.Group3
	if p.K < 0 {
		sf = ccitt.Group4
	}
	width := p.Columns
	if width <= 0 {
		width = 1728
	}
	height := p.Rows
	if height <= 0 {
		height = ccitt.AutoDetectHeight
	}
	opts := &ccitt.Options{Align: p.EncodedByteAlign, Invert: p.BlackIs1}
	return io.ReadAll(ccitt.NewReader(bytes.NewReader(data), ccitt.MSB, sf, width, height, opts))
}
