package text

import "math"

// Matrix is the affine transform [a b c d e f] mapping (x, y) to
// (ax + cy + e, bx + dy + f).
type Matrix [6]float64

func Identity() Matrix { return Matrix{1, 0, 0, 1, 0, 0} }

func Translate(tx, ty float64) Matrix { return Matrix{1, 0, 0, 1, tx, ty} }

// Mul concatenates n after m.
func (m Matrix) Mul(n Matrix) Matrix {
	var out Matrix
	for row := 0; row < 3; row++ {
		a, b := m[2*row], m[2*row+1]
		out[2*row] = a*n[0] + b*n[2]
		out[2*row+1] = a*n[1] + b*n[3]
	}
	out[4] += n[4]
	out[5] += n[5]
	return out
}

func (m Matrix) Transform(x, y float64) (float64, float64) {
	return m[0]*x + m[2]*y + m[4], m[1]*x + m[3]*y + m[5]
}

// xScale and yScale are the lengths of the transformed unit vectors.
func (m Matrix) xScale() float64 { return math.Hypot(m[0], m[1]) }
func (m Matrix) yScale() float64 { return math.Hypot(m[2], m[3]) }

func matrixFrom(v []float64) (m Matrix, ok bool) {
	if ok = len(v) == len(m); ok {
		copy(m[:], v)
	}
	return m, ok
}
