package domain

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Dataset keys every ensemble file must declare.
const (
	KeyRLat  = "rlat"
	KeyRLon  = "rlon"
	KeyLat   = "lat"
	KeyLon   = "lon"
	KeyLevel = "level"
)

// DefaultRequiredKeys are the coordinate keys expected in a CanRCM4 ensemble.
func DefaultRequiredKeys() []string {
	return []string{KeyRLat, KeyRLon, KeyLat, KeyLon, KeyLevel}
}

// GridField is a 2-D field on the rotated-pole grid.
//
// Values, Lat and Lon share the shape (len(RLat), len(RLon)). Missing values
// are NaN. A GridField is never mutated after construction.
type GridField struct {
	Name   string
	Values *mat.Dense
	Lat    *mat.Dense // Geographic latitude of each cell centre (degrees).
	Lon    *mat.Dense // Geographic longitude of each cell centre (degrees).
	RLat   []float64  // Rotated latitude axis, one entry per row.
	RLon   []float64  // Rotated longitude axis, one entry per column.
}

// Dims returns the number of rows and columns of the field.
func (f *GridField) Dims() (rows, cols int) {
	return len(f.RLat), len(f.RLon)
}

// Validate checks the shape invariants of the field.
func (f *GridField) Validate() error {
	if f.Values == nil {
		return fmt.Errorf("%w: field %q has no values", ErrInvalidInput, f.Name)
	}
	rows, cols := f.Dims()
	if r, c := f.Values.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: field %q values are %dx%d, axes are %dx%d",
			ErrDimensionMismatch, f.Name, r, c, rows, cols)
	}
	return validateCoords(f.Lat, f.Lon, rows, cols)
}

// EnsembleCube holds one design-value field per ensemble member on a shared grid.
type EnsembleCube struct {
	DesignValue string
	Members     []*mat.Dense // Each member is len(RLat) x len(RLon).
	Lat         *mat.Dense
	Lon         *mat.Dense
	RLat        []float64
	RLon        []float64

	// Keys lists the variables and dimensions declared by the source dataset.
	Keys []string
}

// Size returns the member count and grid shape of the cube.
func (c *EnsembleCube) Size() (members, rows, cols int) {
	return len(c.Members), len(c.RLat), len(c.RLon)
}

// Cells returns the number of grid cells per member.
func (c *EnsembleCube) Cells() int {
	return len(c.RLat) * len(c.RLon)
}

// HasKey reports whether the cube declares key.
func (c *EnsembleCube) HasKey(key string) bool {
	for _, k := range c.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// MissingKeys returns the sorted subset of required that the cube does not declare.
func (c *EnsembleCube) MissingKeys(required []string) []string {
	var missing []string
	for _, k := range required {
		if !c.HasKey(k) {
			missing = append(missing, k)
		}
	}
	sort.Strings(missing)
	return missing
}

// Validate checks that every member shares the cube's grid.
func (c *EnsembleCube) Validate() error {
	if len(c.Members) == 0 {
		return fmt.Errorf("%w: ensemble %q has no members", ErrInvalidInput, c.DesignValue)
	}
	rows, cols := len(c.RLat), len(c.RLon)
	for i, m := range c.Members {
		if m == nil {
			return fmt.Errorf("%w: member %d is nil", ErrInvalidInput, i)
		}
		if r, cc := m.Dims(); r != rows || cc != cols {
			return fmt.Errorf("%w: member %d is %dx%d, axes are %dx%d",
				ErrDimensionMismatch, i, r, cc, rows, cols)
		}
	}
	return validateCoords(c.Lat, c.Lon, rows, cols)
}

// Member returns member i as a GridField sharing the cube's coordinates.
func (c *EnsembleCube) Member(i int) *GridField {
	return &GridField{
		Name:   fmt.Sprintf("%s[%d]", c.DesignValue, i),
		Values: c.Members[i],
		Lat:    c.Lat,
		Lon:    c.Lon,
		RLat:   c.RLat,
		RLon:   c.RLon,
	}
}

// Flatten reshapes the cube into a members x cells matrix in row-major cell order.
func (c *EnsembleCube) Flatten() *mat.Dense {
	n, rows, cols := c.Size()
	out := mat.NewDense(n, rows*cols, nil)
	for m, member := range c.Members {
		dst := out.RawRowView(m)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				dst[i*cols+j] = member.At(i, j)
			}
		}
	}
	return out
}

// Mean returns the member mean of each cell, ignoring non-finite members.
// Cells with no finite member are NaN.
func (c *EnsembleCube) Mean() *GridField {
	_, rows, cols := c.Size()
	values := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			var sum float64
			var n int
			for _, m := range c.Members {
				v := m.At(i, j)
				if math.IsNaN(v) || math.IsInf(v, 0) {
					continue
				}
				sum += v
				n++
			}
			if n == 0 {
				values.Set(i, j, math.NaN())
				continue
			}
			values.Set(i, j, sum/float64(n))
		}
	}
	return &GridField{
		Name:   c.DesignValue + "_mean",
		Values: values,
		Lat:    c.Lat,
		Lon:    c.Lon,
		RLat:   c.RLat,
		RLon:   c.RLon,
	}
}

func validateCoords(lat, lon *mat.Dense, rows, cols int) error {
	if lat == nil || lon == nil {
		return fmt.Errorf("%w: missing lat/lon coordinates", ErrInvalidInput)
	}
	if r, c := lat.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: lat is %dx%d, expected %dx%d", ErrDimensionMismatch, r, c, rows, cols)
	}
	if r, c := lon.Dims(); r != rows || c != cols {
		return fmt.Errorf("%w: lon is %dx%d, expected %dx%d", ErrDimensionMismatch, r, c, rows, cols)
	}
	return nil
}

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
