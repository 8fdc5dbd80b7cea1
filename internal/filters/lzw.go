package filters

import "fmt"

const (
	lzwClear = 256
	lzwEOD   = 257
	lzwMax   = 4096
)

// unlzw decodes LZW data with 9 to 12 bit codes, most significant bit
// first. EarlyChange 1 widens the code one entry before the table fills.
func unlzw(data []byte, p Params) ([]byte, error) {
	table := make([][]byte, lzwEOD+1, lzwMax)
	for i := 0; i < 256; i++ {
		table[i] = []byte{byte(i)}
	}
	var (
		out   []byte
		prev  []byte
		width = 9
		acc   uint32
		nbits int
	)
	for pos := 0; ; {
		for nbits < width {
			if pos == len(data) {
				return out, nil
			}
			acc = acc<<8 | uint32(data[pos])
			pos++
			nbits += 8
		}
		nbits -= width
		code := int(acc>>nbits) & (1<<width - 1)

		var entry []byte
		switch {
		case code == lzwClear:
			table, prev, width = table[:lzwEOD+1], nil, 9
			continue
		case code == lzwEOD:
			return out, nil
		case code < len(table):
			entry = table[code]
		case code == len(table) && prev != nil:
			entry = append(append(make([]byte, 0, len(prev)+1), prev...), prev[0])
		default:
			return nil, fmt.Errorf("LZW code %d out of range", code)
		}
		out = append(out, entry...)
		if prev != nil && len(table) < lzwMax {
			table = append(table, append(append(make([]byte, 0, len(prev)+1), prev...), entry[0]))
		}
		prev = entry
		if width < 12 && len(table)+p.EarlyChange >= 1<<width {
			width++
		}
	}
}
