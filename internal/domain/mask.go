package domain

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ValidityMask marks the grid cells usable for statistics.
// Masks are rebuilt wholesale from their source; they are never edited in place.
type ValidityMask struct {
	Rows  int
	Cols  int
	Valid []bool // Row-major, Rows*Cols entries.
}

// NewValidityMask returns an all-valid mask of the given shape.
func NewValidityMask(rows, cols int) ValidityMask {
	valid := make([]bool, rows*cols)
	for i := range valid {
		valid[i] = true
	}
	return ValidityMask{Rows: rows, Cols: cols, Valid: valid}
}

// MaskFromField marks cells whose value is finite and accepted by keep.
// A nil keep accepts every finite value.
func MaskFromField(values mat.Matrix, keep func(float64) bool) ValidityMask {
	rows, cols := values.Dims()
	valid := make([]bool, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := values.At(i, j)
			valid[i*cols+j] = IsFinite(v) && (keep == nil || keep(v))
		}
	}
	return ValidityMask{Rows: rows, Cols: cols, Valid: valid}
}

// MaskFromCube marks cells where every ensemble member is finite.
func MaskFromCube(c *EnsembleCube) ValidityMask {
	_, rows, cols := c.Size()
	m := NewValidityMask(rows, cols)
	for _, member := range c.Members {
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				if !IsFinite(member.At(i, j)) {
					m.Valid[i*cols+j] = false
				}
			}
		}
	}
	return m
}

// At reports whether cell (row, col) is valid.
func (m ValidityMask) At(row, col int) bool {
	return m.Valid[row*m.Cols+col]
}

// Count returns the number of valid cells.
func (m ValidityMask) Count() int {
	n := 0
	for _, v := range m.Valid {
		if v {
			n++
		}
	}
	return n
}

// Indices returns the row-major flat indices of the valid cells in ascending order.
func (m ValidityMask) Indices() []int {
	idx := make([]int, 0, m.Count())
	for i, v := range m.Valid {
		if v {
			idx = append(idx, i)
		}
	}
	return idx
}

// And returns a new mask valid where both m and other are valid.
func (m ValidityMask) And(other ValidityMask) (ValidityMask, error) {
	if m.Rows != other.Rows || m.Cols != other.Cols {
		return ValidityMask{}, fmt.Errorf("%w: masks are %dx%d and %dx%d",
			ErrDimensionMismatch, m.Rows, m.Cols, other.Rows, other.Cols)
	}
	valid := make([]bool, len(m.Valid))
	for i := range valid {
		valid[i] = m.Valid[i] && other.Valid[i]
	}
	return ValidityMask{Rows: m.Rows, Cols: m.Cols, Valid: valid}, nil
}

// Validate checks the mask against a field shape.
func (m ValidityMask) Validate(rows, cols int) error {
	if m.Rows != rows || m.Cols != cols || len(m.Valid) != rows*cols {
		return fmt.Errorf("%w: mask is %dx%d (%d cells), field is %dx%d",
			ErrInvalidInput, m.Rows, m.Cols, len(m.Valid), rows, cols)
	}
	return nil
}
