package interp

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// GridCell represents a cell in a regular grid with four corner values.
type GridCell struct {
	// Corner coordinates (forming a rectangle).
	X0, X1 float64 // X boundaries (rotated longitude).
	Y0, Y1 float64 // Y boundaries (rotated latitude).

	// Values at the four corners:
	// V00: value at (X0, Y0).
	// V10: value at (X1, Y0).
	// V01: value at (X0, Y1).
	// V11: value at (X1, Y1).
	V00, V10, V01, V11 float64
}

// BilinearInterpolate performs bilinear interpolation within a grid cell
// Formula:
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// where:
//
//	t = (x - x0) / (x1 - x0)
//	u = (y - y0) / (y1 - y0)
//
// Corners with zero weight are skipped, so a NaN corner only propagates
// when the point actually draws on it.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("%w: invalid grid cell: X1 must be > X0", domain.ErrInvalidInput)
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("%w: invalid grid cell: Y1 must be > Y0", domain.ErrInvalidInput)
	}

	// Check if point is within cell (with small tolerance for floating point).
	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("%w: x coordinate %.6f is outside grid cell [%.6f, %.6f]", domain.ErrOutOfBounds, x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("%w: y coordinate %.6f is outside grid cell [%.6f, %.6f]", domain.ErrOutOfBounds, y, cell.Y0, cell.Y1)
	}

	t := (x - cell.X0) / (cell.X1 - cell.X0)
	u := (y - cell.Y0) / (cell.Y1 - cell.Y0)
	t = math.Max(0, math.Min(1, t))
	u = math.Max(0, math.Min(1, u))

	return weighted(cell, t, u), nil
}

func weighted(cell GridCell, t, u float64) float64 {
	terms := [4]struct{ w, v float64 }{
		{(1 - t) * (1 - u), cell.V00},
		{t * (1 - u), cell.V10},
		{(1 - t) * u, cell.V01},
		{t * u, cell.V11},
	}
	var result float64
	for _, term := range terms {
		if term.w == 0 {
			continue
		}
		result += term.w * term.v
	}
	return result
}

// Grid2D represents a regular 2D grid for interpolation.
type Grid2D struct {
	X      []float64  // X coordinates (rotated longitudes), strictly increasing.
	Y      []float64  // Y coordinates (rotated latitudes), strictly increasing.
	Values mat.Matrix // Values.At(i, j) corresponds to (X[j], Y[i]).
}

// Validate checks if the grid is valid.
func (g *Grid2D) Validate() error {
	if len(g.X) < 2 {
		return fmt.Errorf("%w: grid must have at least 2 X coordinates", domain.ErrInvalidInput)
	}
	if len(g.Y) < 2 {
		return fmt.Errorf("%w: grid must have at least 2 Y coordinates", domain.ErrInvalidInput)
	}
	if g.Values == nil {
		return fmt.Errorf("%w: grid has no values", domain.ErrInvalidInput)
	}
	if r, c := g.Values.Dims(); r != len(g.Y) || c != len(g.X) {
		return fmt.Errorf("%w: values are %dx%d, coordinates are %dx%d",
			domain.ErrDimensionMismatch, r, c, len(g.Y), len(g.X))
	}
	if !strictlyIncreasing(g.X) {
		return fmt.Errorf("%w: X coordinates must be strictly increasing", domain.ErrInvalidInput)
	}
	if !strictlyIncreasing(g.Y) {
		return fmt.Errorf("%w: Y coordinates must be strictly increasing", domain.ErrInvalidInput)
	}
	return nil
}

// InterpolateAt performs bilinear interpolation at a given point.
// The grid is assumed valid; call Validate once before interpolating many points.
func (g *Grid2D) InterpolateAt(x, y float64) (float64, error) {
	xIdx, err := lowerCell(g.X, x)
	if err != nil {
		return 0, fmt.Errorf("x: %w", err)
	}
	yIdx, err := lowerCell(g.Y, y)
	if err != nil {
		return 0, fmt.Errorf("y: %w", err)
	}

	cell := GridCell{
		X0:  g.X[xIdx],
		X1:  g.X[xIdx+1],
		Y0:  g.Y[yIdx],
		Y1:  g.Y[yIdx+1],
		V00: g.Values.At(yIdx, xIdx),
		V10: g.Values.At(yIdx, xIdx+1),
		V01: g.Values.At(yIdx+1, xIdx),
		V11: g.Values.At(yIdx+1, xIdx+1),
	}

	return BilinearInterpolate(cell, x, y)
}

// lowerCell returns i such that axis[i] <= v <= axis[i+1].
func lowerCell(axis []float64, v float64) (int, error) {
	n := len(axis)
	if math.IsNaN(v) || v < axis[0] || v > axis[n-1] {
		return 0, fmt.Errorf("%w: coordinate %.6f is outside grid range [%.6f, %.6f]",
			domain.ErrOutOfBounds, v, axis[0], axis[n-1])
	}
	// First index with axis[i] > v, minus one.
	i := sort.Search(n, func(k int) bool { return axis[k] > v }) - 1
	if i >= n-1 {
		i = n - 2
	}
	return i, nil
}

func strictlyIncreasing(axis []float64) bool {
	for i := 1; i < len(axis); i++ {
		if !(axis[i] > axis[i-1]) {
			return false
		}
	}
	return true
}
