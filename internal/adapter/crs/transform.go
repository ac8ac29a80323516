package crs

import (
	"fmt"

	"go.ngs.io/dvmap/internal/domain"
)

// Transform converts the points (x[i], y[i]) from src to dst.
// Inputs are validated before any point is converted; outputs are newly allocated.
func Transform(x, y []float64, src, dst CRS) ([]float64, []float64, error) {
	if src == nil || dst == nil {
		return nil, nil, fmt.Errorf("%w: source and target CRS are required", domain.ErrInvalidInput)
	}
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: x has %d points, y has %d", domain.ErrInvalidInput, len(x), len(y))
	}
	if err := src.validate(); err != nil {
		return nil, nil, fmt.Errorf("source CRS: %w", err)
	}
	if err := dst.validate(); err != nil {
		return nil, nil, fmt.Errorf("target CRS: %w", err)
	}

	outX := make([]float64, len(x))
	outY := make([]float64, len(y))
	for i := range x {
		lon, lat := src.toGeographic(x[i], y[i])
		outX[i], outY[i] = dst.fromGeographic(lon, lat)
	}
	return outX, outY, nil
}

// ToRotated converts geographic longitude/latitude to rotated-pole coordinates.
func ToRotated(lon, lat []float64, pole RotatedPole) ([]float64, []float64, error) {
	return Transform(lon, lat, Geographic{}, pole)
}

// ToGeographic converts rotated-pole coordinates back to longitude/latitude.
func ToGeographic(rlon, rlat []float64, pole RotatedPole) ([]float64, []float64, error) {
	return Transform(rlon, rlat, pole, Geographic{})
}

// FlattenCoords expands 1-D axes into per-cell coordinates in row-major order:
// x is tiled once per y value and y is repeated once per x value.
func FlattenCoords(x, y []float64) (xs, ys []float64) {
	xs = make([]float64, 0, len(x)*len(y))
	ys = make([]float64, 0, len(x)*len(y))
	for _, yv := range y {
		for _, xv := range x {
			xs = append(xs, xv)
			ys = append(ys, yv)
		}
	}
	return xs, ys
}
