// Package mask loads validity masks, such as land masks, from NetCDF files.
package mask

import (
	"fmt"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/store"
	"go.ngs.io/dvmap/internal/domain"
)

// DefaultVariable is the CMIP land-area-fraction variable.
const DefaultVariable = "sftlf"

// LocalStore loads a mask from a local NetCDF file. A cell is valid where
// the mask variable is finite and greater than Threshold.
type LocalStore struct {
	path      string
	variables []string // Candidate variable names, tried in order.

	// Threshold is the value a cell must exceed to be valid.
	Threshold float64
	Log       logrus.FieldLogger

	// Cached mask (loaded on demand).
	values *mat.Dense
	mu     sync.Mutex
}

// NewLocalStore creates a mask store for path. An empty variable tries
// DefaultVariable followed by "mask".
func NewLocalStore(path, variable string, log logrus.FieldLogger) *LocalStore {
	names := []string{DefaultVariable, "mask"}
	if variable != "" {
		names = []string{variable}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &LocalStore{path: path, variables: names, Log: log}
}

// LoadMask returns the mask for a rows x cols grid. Masks stored as
// [rlon, rlat] are transposed.
func (s *LocalStore) LoadMask(rows, cols int) (domain.ValidityMask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.values == nil {
		values, err := s.load()
		if err != nil {
			return domain.ValidityMask{}, err
		}
		s.values = values
	}

	values := s.values
	r, c := values.Dims()
	switch {
	case r == rows && c == cols:
	case r == cols && c == rows:
		values = mat.DenseCopyOf(values.T())
	default:
		return domain.ValidityMask{}, fmt.Errorf("%w: mask in %s is %dx%d, grid is %dx%d",
			domain.ErrDimensionMismatch, s.path, r, c, rows, cols)
	}

	threshold := s.Threshold
	m := domain.MaskFromField(values, func(v float64) bool { return v > threshold })
	s.Log.WithFields(logrus.Fields{
		"path":  s.path,
		"valid": m.Count(),
		"cells": rows * cols,
	}).Debug("Loaded validity mask")
	return m, nil
}

// Close releases the cached mask.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	s.values = nil
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) load() (*mat.Dense, error) {
	nc, err := netcdf.OpenFile(s.path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	for _, name := range s.variables {
		if !store.Has(nc, name) {
			continue
		}
		v, err := store.ReadVariable(nc, name)
		if err != nil {
			return nil, err
		}
		switch len(v.Shape) {
		case 2:
			return mat.NewDense(v.Shape[0], v.Shape[1], v.Data), nil
		case 3:
			// A leading singleton time dimension is common in CMIP fixed fields.
			if v.Shape[0] == 1 {
				return mat.NewDense(v.Shape[1], v.Shape[2], v.Data), nil
			}
			s.Log.WithField("variable", name).Warn("Mask variable has a non-singleton leading dimension")
		}
		return nil, fmt.Errorf("%w: mask variable %q is %v, expected 2-D", domain.ErrDimensionMismatch, name, v.Shape)
	}
	return nil, fmt.Errorf("%w: mask variable not found in %s (tried: %v)", domain.ErrMissingKey, s.path, s.variables)
}

// Write stores a rows x cols mask variable over (rlat, rlon) at path,
// replacing any existing file.
func Write(path, variable string, values *mat.Dense) error {
	if variable == "" {
		variable = DefaultVariable
	}
	rows, cols := values.Dims()

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	rlatDim, err := ds.AddDim(domain.KeyRLat, uint64(rows))
	if err != nil {
		return fmt.Errorf("failed to add rlat dimension: %w", err)
	}
	rlonDim, err := ds.AddDim(domain.KeyRLon, uint64(cols))
	if err != nil {
		return fmt.Errorf("failed to add rlon dimension: %w", err)
	}
	v, err := ds.AddVar(variable, netcdf.DOUBLE, []netcdf.Dim{rlatDim, rlonDim})
	if err != nil {
		return fmt.Errorf("failed to add variable %s: %w", variable, err)
	}
	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}

	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, values.RawRowView(i)...)
	}
	if err := v.WriteFloat64s(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", variable, err)
	}
	return nil
}
