package filters

import "fmt"

// unpredict reverses the predictor selected by p. Rows are
// Columns*Colors samples of BitsPerComponent bits, padded to a byte.
func unpredict(data []byte, p Params) ([]byte, error) {
	if p.Predictor <= 1 {
		return data, nil
	}
	cols := max(p.Columns, 1)
	colors := max(p.Colors, 1)
	bpc := p.BitsPerComponent
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported BitsPerComponent %d", bpc)
	}
	rowBytes := (cols*colors*bpc + 7) / 8
	switch {
	case p.Predictor == 2:
		return untiff(data, rowBytes, cols*colors, colors, bpc), nil
	case p.Predictor >= 10:
		return unpng(data, rowBytes, (colors*bpc+7)/8)
	}
	return nil, fmt.Errorf("unsupported predictor %d", p.Predictor)
}

// unpng undoes PNG row filters. Each row starts with its filter type. A
// short final row is decoded as far as it goes.
func unpng(data []byte, rowBytes, bpp int) ([]byte, error) {
	out := make([]byte, 0, len(data))
	prev := make([]byte, rowBytes)
	for len(data) > 0 {
		kind := data[0]
		n := min(rowBytes, len(data)-1)
		row := make([]byte, rowBytes)
		copy(row, data[1:1+n])
		data = data[1+n:]
		for i := range row {
			var left, upLeft byte
			if i >= bpp {
				left, upLeft = row[i-bpp], prev[i-bpp]
			}
			up := prev[i]
			switch kind {
			case 0:
			case 1:
				row[i] += left
			case 2:
				row[i] += up
			case 3:
				row[i] += byte((int(left) + int(up)) / 2)
			case 4:
				row[i] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("unknown PNG row filter %d", kind)
			}
		}
		out = append(out, row[:n]...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// untiff undoes TIFF predictor 2: every sample is stored as the difference
// from the previous sample of the same component in its row.
func untiff(data []byte, rowBytes, samples, colors, bpc int) []byte {
	out := make([]byte, len(data))
	mask := uint32(1)<<bpc - 1
	last := make([]uint32, colors)
	for start := 0; start < len(data); start += rowBytes {
		end := min(start+rowBytes, len(data))
		src, dst := data[start:end], out[start:end]
		copy(dst, src)
		clear(last)
		for s := 0; s < samples; s++ {
			off := s * bpc
			if off+bpc > len(src)*8 {
				break
			}
			c := s % colors
			last[c] = (bitsAt(src, off, bpc) + last[c]) & mask
			setBits(dst, off, bpc, last[c])
		}
	}
	return out
}

func bitsAt(b []byte, off, n int) uint32 {
	var v uint32
	for i := off; i < off+n; i++ {
		v = v<<1 | uint32(b[i>>3]>>(7-i&7))&1
	}
	return v
}

func setBits(b []byte, off, n int, v uint32) {
	for i := off + n - 1; i >= off; i-- {
		bit := byte(1) << (7 - i&7)
		if v&1 == 1 {
			b[i>>3] |= bit
		} else {
			b[i>>3] &^= bit
		}
		v >>= 1
	}
}
