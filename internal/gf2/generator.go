package gf2

import "fmt"

// CyclicMatrix returns the deterministic t×t generator matrix B.
//
// t=2 and t=3 use fixed invertible matrices. For t≥4 B is circulant: the
// first row has ones at columns 0, 2 and t-1 and every following row is the
// previous one rotated right by one column. The circulant is not invertible
// for every t (t=7 is the first failure); use GeneratorMatrix when an
// invertible B is required.
func CyclicMatrix(t int) (*Matrix, error) {
	switch {
	case t < 2:
		return nil, fmt.Errorf("%w: threshold %d, need t >= 2", ErrInvalidDimension, t)
	case t == 2:
		return FromRows([][]uint8{
			{0, 1},
			{1, 1},
		})
	case t == 3:
		return FromRows([][]uint8{
			{1, 1, 1},
			{1, 1, 0},
			{1, 0, 1},
		})
	default:
		return circulant(t, 0, 2, t-1), nil
	}
}

// GeneratorMatrix returns an invertible t×t generator matrix. It is
// CyclicMatrix(t) whenever that is invertible. Otherwise the middle tap is
// moved to the smallest column m in [1, t-2] that yields an invertible
// circulant with taps {0, m, t-1}.
func GeneratorMatrix(t int) (*Matrix, error) {
	b, err := CyclicMatrix(t)
	if err != nil {
		return nil, err
	}
	if IsInvertible(b) {
		return b, nil
	}
	for m := 1; m <= t-2; m++ {
		if m == 2 {
			continue
		}
		c := circulant(t, 0, m, t-1)
		if IsInvertible(c) {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: no invertible three-tap circulant for t=%d", ErrSingularMatrix, t)
}

// circulant builds a t×t matrix whose row r has ones at (tap+r) mod t.
func circulant(t int, taps ...int) *Matrix {
	m := New(t, t)
	for r := 0; r < t; r++ {
		for _, tap := range taps {
			m.data[r].Set(uint((tap + r) % t))
		}
	}
	return m
}
