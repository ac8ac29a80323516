// Package regrid changes the resolution of an ensemble cube.
//
// Refinement interpolates every member and the geographic coordinates
// bilinearly in rotated-pole index space; coarsening takes block means.
// Both are deterministic: cells are produced in row-major order and new
// axes follow a fixed linspace rule, so repeated runs are bit-identical.
package regrid

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/interp"
	"go.ngs.io/dvmap/internal/domain"
)

// Regrid returns a copy of cube with factor times as many rows and columns.
// required lists the dataset keys that must be declared, checked before any
// computation. factor 1 returns an exact copy.
func Regrid(cube *domain.EnsembleCube, designValue string, factor int, required []string) (*domain.EnsembleCube, error) {
	if err := checkInputs(cube, designValue, factor, required); err != nil {
		return nil, err
	}
	if factor == 1 {
		return copyCube(cube), nil
	}
	if len(cube.RLat) < 2 || len(cube.RLon) < 2 {
		return nil, fmt.Errorf("%w: refinement needs at least 2x2 cells, got %dx%d",
			domain.ErrInvalidInput, len(cube.RLat), len(cube.RLon))
	}

	rlat := linspace(cube.RLat[0], cube.RLat[len(cube.RLat)-1], len(cube.RLat)*factor)
	rlon := linspace(cube.RLon[0], cube.RLon[len(cube.RLon)-1], len(cube.RLon)*factor)

	resample := func(src *mat.Dense) (*mat.Dense, error) {
		g := &interp.Grid2D{X: cube.RLon, Y: cube.RLat, Values: src}
		out := mat.NewDense(len(rlat), len(rlon), nil)
		for i, y := range rlat {
			for j, x := range rlon {
				v, err := g.InterpolateAt(x, y)
				if err != nil {
					return nil, err
				}
				out.Set(i, j, v)
			}
		}
		return out, nil
	}

	out := &domain.EnsembleCube{
		DesignValue: cube.DesignValue,
		RLat:        rlat,
		RLon:        rlon,
		Keys:        append([]string(nil), cube.Keys...),
	}
	var err error
	if out.Lat, err = resample(cube.Lat); err != nil {
		return nil, fmt.Errorf("lat: %w", err)
	}
	if out.Lon, err = resample(cube.Lon); err != nil {
		return nil, fmt.Errorf("lon: %w", err)
	}
	out.Members = make([]*mat.Dense, len(cube.Members))
	for m, member := range cube.Members {
		if out.Members[m], err = resample(member); err != nil {
			return nil, fmt.Errorf("member %d: %w", m, err)
		}
	}
	return out, nil
}

// Coarsen returns a copy of cube reduced by factor in each dimension.
// Each output cell is the mean of the finite values in its factor x factor
// block; trailing rows and columns that do not fill a block are dropped.
func Coarsen(cube *domain.EnsembleCube, designValue string, factor int, required []string) (*domain.EnsembleCube, error) {
	if err := checkInputs(cube, designValue, factor, required); err != nil {
		return nil, err
	}
	if factor == 1 {
		return copyCube(cube), nil
	}
	rows, cols := len(cube.RLat)/factor, len(cube.RLon)/factor
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: factor %d exceeds grid %dx%d",
			domain.ErrInvalidInput, factor, len(cube.RLat), len(cube.RLon))
	}

	out := &domain.EnsembleCube{
		DesignValue: cube.DesignValue,
		RLat:        blockAxis(cube.RLat, factor, rows),
		RLon:        blockAxis(cube.RLon, factor, cols),
		Lat:         blockMean(cube.Lat, factor, rows, cols),
		Lon:         blockMean(cube.Lon, factor, rows, cols),
		Keys:        append([]string(nil), cube.Keys...),
	}
	out.Members = make([]*mat.Dense, len(cube.Members))
	for m, member := range cube.Members {
		out.Members[m] = blockMean(member, factor, rows, cols)
	}
	return out, nil
}

func checkInputs(cube *domain.EnsembleCube, designValue string, factor int, required []string) error {
	if cube == nil {
		return fmt.Errorf("%w: ensemble cube is nil", domain.ErrInvalidInput)
	}
	missing := cube.MissingKeys(required)
	if designValue != cube.DesignValue {
		if cube.HasKey(designValue) {
			return fmt.Errorf("%w: %q is not the design value of the cube (%q)",
				domain.ErrInvalidInput, designValue, cube.DesignValue)
		}
		missing = append(missing, designValue)
		sort.Strings(missing)
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", domain.ErrMissingKey, missing)
	}
	if factor < 1 {
		return fmt.Errorf("%w: regrid factor must be a positive integer, got %d", domain.ErrInvalidInput, factor)
	}
	if err := cube.Validate(); err != nil {
		return err
	}
	if !ascending(cube.RLat) || !ascending(cube.RLon) {
		return fmt.Errorf("%w: rlat and rlon must be strictly increasing", domain.ErrInvalidInput)
	}
	return nil
}

// linspace returns n evenly spaced values from a to b. The last value is b exactly.
func linspace(a, b float64, n int) []float64 {
	out := make([]float64, n)
	step := (b - a) / float64(n-1)
	for i := range out {
		out[i] = a + float64(i)*step
	}
	out[n-1] = b
	return out
}

func blockAxis(axis []float64, factor, n int) []float64 {
	out := make([]float64, n)
	for k := range out {
		var sum float64
		for _, v := range axis[k*factor : (k+1)*factor] {
			sum += v
		}
		out[k] = sum / float64(factor)
	}
	return out
}

func blockMean(src *mat.Dense, factor, rows, cols int) *mat.Dense {
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			var n int
			for bi := i * factor; bi < (i+1)*factor; bi++ {
				for bj := j * factor; bj < (j+1)*factor; bj++ {
					v := src.At(bi, bj)
					if !domain.IsFinite(v) {
						continue
					}
					sum += v
					n++
				}
			}
			if n == 0 {
				out.Set(i, j, math.NaN())
				continue
			}
			out.Set(i, j, sum/float64(n))
		}
	}
	return out
}

func copyCube(c *domain.EnsembleCube) *domain.EnsembleCube {
	out := &domain.EnsembleCube{
		DesignValue: c.DesignValue,
		Lat:         mat.DenseCopyOf(c.Lat),
		Lon:         mat.DenseCopyOf(c.Lon),
		RLat:        append([]float64(nil), c.RLat...),
		RLon:        append([]float64(nil), c.RLon...),
		Keys:        append([]string(nil), c.Keys...),
	}
	out.Members = make([]*mat.Dense, len(c.Members))
	for m, member := range c.Members {
		out.Members[m] = mat.DenseCopyOf(member)
	}
	return out
}

func ascending(axis []float64) bool {
	for i := 1; i < len(axis); i++ {
		if !(axis[i] > axis[i-1]) {
			return false
		}
	}
	return true
}
