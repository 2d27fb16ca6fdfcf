// Package gf2 implements dense bit matrices over GF(2), the two-element
// field where addition is XOR and multiplication is AND.
//
// Rows are stored as bitsets so row operations during elimination are
// word-wide XORs.
package gf2

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"
)

var (
	// ErrInvalidDimension is returned for matrix shapes the caller may not ask for.
	ErrInvalidDimension = errors.New("invalid dimension")
	// ErrSingularMatrix is returned when a matrix has no inverse over GF(2).
	ErrSingularMatrix = errors.New("singular matrix over GF(2)")
)

// Matrix is a rows×cols bit matrix.
type Matrix struct {
	rows, cols int
	data       []*bitset.BitSet
}

// New returns a zero matrix.
func New(rows, cols int) *Matrix {
	m := &Matrix{rows: rows, cols: cols, data: make([]*bitset.BitSet, rows)}
	for i := range m.data {
		m.data[i] = bitset.New(uint(cols))
	}
	return m
}

// FromRows builds a matrix from 0/1 rows. Any non-zero entry is a 1.
func FromRows(rows [][]uint8) (*Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: no rows", ErrInvalidDimension)
	}
	cols := len(rows[0])
	m := New(len(rows), cols)
	for i, r := range rows {
		if len(r) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, want %d", ErrInvalidDimension, i, len(r), cols)
		}
		for j, v := range r {
			if v != 0 {
				m.data[i].Set(uint(j))
			}
		}
	}
	return m, nil
}

// Identity returns the n×n identity matrix.
func Identity(n int) *Matrix {
	m := New(n, n)
	for i := 0; i < n; i++ {
		m.data[i].Set(uint(i))
	}
	return m
}

// Rows returns the number of rows.
func (m *Matrix) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix) Cols() int { return m.cols }

// At reports whether entry (i, j) is 1.
func (m *Matrix) At(i, j int) bool { return m.data[i].Test(uint(j)) }

// Set assigns entry (i, j).
func (m *Matrix) Set(i, j int, v bool) { m.data[i].SetTo(uint(j), v) }

// Row returns a copy of row i.
func (m *Matrix) Row(i int) *bitset.BitSet { return m.data[i].Clone() }

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	c := &Matrix{rows: m.rows, cols: m.cols, data: make([]*bitset.BitSet, m.rows)}
	for i, r := range m.data {
		c.data[i] = r.Clone()
	}
	return c
}

// Equal reports whether two matrices have the same shape and entries.
func (m *Matrix) Equal(o *Matrix) bool {
	if m.rows != o.rows || m.cols != o.cols {
		return false
	}
	for i := range m.data {
		for j := 0; j < m.cols; j++ {
			if m.At(i, j) != o.At(i, j) {
				return false
			}
		}
	}
	return true
}

// String renders the matrix one row per line, e.g. "101\n011".
func (m *Matrix) String() string {
	var b strings.Builder
	for i := 0; i < m.rows; i++ {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j := 0; j < m.cols; j++ {
			if m.At(i, j) {
				b.WriteByte('1')
			} else {
				b.WriteByte('0')
			}
		}
	}
	return b.String()
}

// SubMatrix returns the rows at the given indices, in the given order.
func (m *Matrix) SubMatrix(rows []int) (*Matrix, error) {
	sub := &Matrix{rows: len(rows), cols: m.cols, data: make([]*bitset.BitSet, len(rows))}
	for i, r := range rows {
		if r < 0 || r >= m.rows {
			return nil, fmt.Errorf("%w: row %d out of range [0,%d)", ErrInvalidDimension, r, m.rows)
		}
		sub.data[i] = m.data[r].Clone()
	}
	return sub, nil
}

// Extend returns B⁺: b with one extra row equal to the XOR of all its rows.
func Extend(b *Matrix) *Matrix {
	ext := &Matrix{rows: b.rows + 1, cols: b.cols, data: make([]*bitset.BitSet, 0, b.rows+1)}
	parity := bitset.New(uint(b.cols))
	for _, r := range b.data {
		ext.data = append(ext.data, r.Clone())
		parity.InPlaceSymmetricDifference(r)
	}
	ext.data = append(ext.data, parity)
	return ext
}

// Invert returns the inverse of a square matrix using Gauss-Jordan
// elimination with downward pivot search.
func Invert(m *Matrix) (*Matrix, error) {
	if m.rows != m.cols {
		return nil, fmt.Errorf("%w: cannot invert %dx%d matrix", ErrInvalidDimension, m.rows, m.cols)
	}
	n := m.rows
	a := m.Clone()
	inv := Identity(n)

	for col := 0; col < n; col++ {
		pivot := -1
		for row := col; row < n; row++ {
			if a.data[row].Test(uint(col)) {
				pivot = row
				break
			}
		}
		if pivot < 0 {
			return nil, fmt.Errorf("%w: no pivot in column %d", ErrSingularMatrix, col)
		}
		if pivot != col {
			a.data[col], a.data[pivot] = a.data[pivot], a.data[col]
			inv.data[col], inv.data[pivot] = inv.data[pivot], inv.data[col]
		}
		for row := 0; row < n; row++ {
			if row != col && a.data[row].Test(uint(col)) {
				a.data[row].InPlaceSymmetricDifference(a.data[col])
				inv.data[row].InPlaceSymmetricDifference(inv.data[col])
			}
		}
	}
	return inv, nil
}

// IsInvertible reports whether m is square and non-singular.
func IsInvertible(m *Matrix) bool {
	_, err := Invert(m)
	return err == nil
}

// MulVec returns A·v mod 2. Output bit i is the parity of row i AND v.
func MulVec(a *Matrix, v *bitset.BitSet) (*bitset.BitSet, error) {
	if v.Len() < uint(a.cols) {
		return nil, fmt.Errorf("%w: vector length %d, want %d", ErrInvalidDimension, v.Len(), a.cols)
	}
	w := bitset.New(uint(a.rows))
	for i, r := range a.data {
		if r.IntersectionCardinality(v)%2 == 1 {
			w.Set(uint(i))
		}
	}
	return w, nil
}

// Mul returns A·B mod 2.
func Mul(a, b *Matrix) (*Matrix, error) {
	if a.cols != b.rows {
		return nil, fmt.Errorf("%w: %dx%d times %dx%d", ErrInvalidDimension, a.rows, a.cols, b.rows, b.cols)
	}
	out := New(a.rows, b.cols)
	for i, r := range a.data {
		for j, ok := r.NextSet(0); ok && int(j) < a.cols; j, ok = r.NextSet(j + 1) {
			out.data[i].InPlaceSymmetricDifference(b.data[j])
		}
	}
	return out, nil
}
