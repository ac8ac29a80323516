// Package ensemble reads and writes design-value ensembles stored as NetCDF.
//
// A file holds a design-value variable over (level, rlat, rlon), where level
// indexes ensemble members, 2-D lat/lon variables over (rlat, rlon), and 1-D
// rlat/rlon axis variables. A 2-D design value is read as a single member.
package ensemble

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fhs/go-netcdf/netcdf"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/store"
	"go.ngs.io/dvmap/internal/domain"
)

// Store loads ensemble cubes from a single NetCDF file.
type Store struct {
	path  string
	cache map[string]*domain.EnsembleCube // Cache loaded cubes by design value.
	mu    sync.RWMutex                    // Protect cache.
}

// NewStore creates a new ensemble store for the file at path.
func NewStore(path string) *Store {
	return &Store{
		path:  path,
		cache: make(map[string]*domain.EnsembleCube),
	}
}

// Path returns the file the store reads.
func (s *Store) Path() string {
	return s.path
}

// Load reads the cube for designValue. Cubes are immutable, so repeated loads
// return the cached instance.
func (s *Store) Load(designValue string, required []string) (*domain.EnsembleCube, error) {
	s.mu.RLock()
	if cube, ok := s.cache[designValue]; ok {
		s.mu.RUnlock()
		if missing := cube.MissingKeys(append([]string{designValue}, required...)); len(missing) > 0 {
			return nil, fmt.Errorf("%w: %v in %s", domain.ErrMissingKey, missing, s.path)
		}
		return cube, nil
	}
	s.mu.RUnlock()

	cube, err := Read(s.path, designValue, required)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[designValue] = cube
	s.mu.Unlock()
	return cube, nil
}

// Read loads the cube for designValue from path. path must name a .nc file,
// and every required key plus the design value must be declared as a
// variable or dimension.
//
//nolint:gocyclo // Shape checks for every coordinate variable.
func Read(path, designValue string, required []string) (*domain.EnsembleCube, error) {
	if !strings.HasSuffix(path, ".nc") {
		return nil, fmt.Errorf("%w: %s is not a NetCDF (.nc) file", domain.ErrInvalidInput, path)
	}
	if designValue == "" {
		return nil, fmt.Errorf("%w: design value name is required", domain.ErrInvalidInput)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("ensemble file: %w", err)
	}

	nc, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, fmt.Errorf("failed to open NetCDF file: %w", err)
	}
	defer func() { _ = nc.Close() }()

	wanted := append([]string{designValue}, required...)
	wanted = append(wanted, domain.DefaultRequiredKeys()...)
	var keys, missing []string
	seen := map[string]bool{}
	for _, k := range wanted {
		if seen[k] {
			continue
		}
		seen[k] = true
		if store.Has(nc, k) {
			keys = append(keys, k)
		}
	}
	for _, k := range append([]string{designValue}, required...) {
		if !store.Has(nc, k) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %v in %s", domain.ErrMissingKey, missing, filepath.Base(path))
	}
	sort.Strings(keys)

	rlat, err := readAxis(nc, domain.KeyRLat)
	if err != nil {
		return nil, err
	}
	rlon, err := readAxis(nc, domain.KeyRLon)
	if err != nil {
		return nil, err
	}
	rows, cols := len(rlat), len(rlon)

	lat, err := readGrid(nc, domain.KeyLat, rows, cols)
	if err != nil {
		return nil, err
	}
	lon, err := readGrid(nc, domain.KeyLon, rows, cols)
	if err != nil {
		return nil, err
	}

	dv, err := store.ReadVariable(nc, designValue)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingKey, err)
	}
	members, err := splitMembers(dv, rows, cols)
	if err != nil {
		return nil, err
	}

	cube := &domain.EnsembleCube{
		DesignValue: designValue,
		Members:     members,
		Lat:         lat,
		Lon:         lon,
		RLat:        rlat,
		RLon:        rlon,
		Keys:        keys,
	}
	if err := cube.Validate(); err != nil {
		return nil, err
	}
	return cube, nil
}

func readAxis(nc netcdf.Dataset, name string) ([]float64, error) {
	v, err := store.ReadVariable(nc, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingKey, err)
	}
	if len(v.Shape) != 1 {
		return nil, fmt.Errorf("%w: %s must be 1-D, got %dD", domain.ErrDimensionMismatch, name, len(v.Shape))
	}
	return v.Data, nil
}

func readGrid(nc netcdf.Dataset, name string, rows, cols int) (*mat.Dense, error) {
	v, err := store.ReadVariable(nc, name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingKey, err)
	}
	if len(v.Shape) != 2 {
		return nil, fmt.Errorf("%w: %s must be 2-D, got %dD", domain.ErrDimensionMismatch, name, len(v.Shape))
	}
	switch {
	case v.Shape[0] == rows && v.Shape[1] == cols:
		return mat.NewDense(rows, cols, v.Data), nil
	case v.Shape[0] == cols && v.Shape[1] == rows:
		// Stored as [rlon, rlat].
		return mat.DenseCopyOf(mat.NewDense(cols, rows, v.Data).T()), nil
	default:
		return nil, fmt.Errorf("%w: %s is %v, expected [%d, %d]", domain.ErrDimensionMismatch, name, v.Shape, rows, cols)
	}
}

// splitMembers slices the design value into one rows x cols matrix per member.
// The member dimension may come first or last.
func splitMembers(v *store.Variable, rows, cols int) ([]*mat.Dense, error) {
	switch len(v.Shape) {
	case 2:
		if v.Shape[0] != rows || v.Shape[1] != cols {
			return nil, fmt.Errorf("%w: %s is %v, expected [%d, %d]", domain.ErrDimensionMismatch, v.Name, v.Shape, rows, cols)
		}
		return []*mat.Dense{mat.NewDense(rows, cols, v.Data)}, nil
	case 3:
	default:
		return nil, fmt.Errorf("%w: %s must be 2-D or 3-D, got %dD", domain.ErrDimensionMismatch, v.Name, len(v.Shape))
	}

	cells := rows * cols
	switch {
	case v.Shape[1] == rows && v.Shape[2] == cols:
		// [level, rlat, rlon].
		n := v.Shape[0]
		members := make([]*mat.Dense, n)
		for m := 0; m < n; m++ {
			members[m] = mat.NewDense(rows, cols, v.Data[m*cells:(m+1)*cells])
		}
		return members, nil
	case v.Shape[0] == rows && v.Shape[1] == cols:
		// [rlat, rlon, level].
		n := v.Shape[2]
		members := make([]*mat.Dense, n)
		for m := 0; m < n; m++ {
			d := mat.NewDense(rows, cols, nil)
			for c := 0; c < cells; c++ {
				d.Set(c/cols, c%cols, v.Data[c*n+m])
			}
			members[m] = d
		}
		return members, nil
	default:
		return nil, fmt.Errorf("%w: %s is %v, no axis pair matches [%d, %d]",
			domain.ErrDimensionMismatch, v.Name, v.Shape, rows, cols)
	}
}

// WriteField stores f at path as a single-member ensemble named f.Name.
func WriteField(path string, f *domain.GridField) error {
	if err := f.Validate(); err != nil {
		return err
	}
	return Write(path, &domain.EnsembleCube{
		DesignValue: f.Name,
		Members:     []*mat.Dense{f.Values},
		Lat:         f.Lat,
		Lon:         f.Lon,
		RLat:        f.RLat,
		RLon:        f.RLon,
	})
}

// Write stores cube at path in the layout Read expects, replacing any existing file.
func Write(path string, cube *domain.EnsembleCube) error {
	if err := cube.Validate(); err != nil {
		return err
	}
	//nolint:gosec // G301: Output directory is chosen by the operator.
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ds, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return fmt.Errorf("failed to create NetCDF file: %w", err)
	}
	defer func() { _ = ds.Close() }()

	n, rows, cols := cube.Size()
	levelDim, err := ds.AddDim(domain.KeyLevel, uint64(n))
	if err != nil {
		return fmt.Errorf("failed to add level dimension: %w", err)
	}
	rlatDim, err := ds.AddDim(domain.KeyRLat, uint64(rows))
	if err != nil {
		return fmt.Errorf("failed to add rlat dimension: %w", err)
	}
	rlonDim, err := ds.AddDim(domain.KeyRLon, uint64(cols))
	if err != nil {
		return fmt.Errorf("failed to add rlon dimension: %w", err)
	}

	vars := []struct {
		name string
		dims []netcdf.Dim
		data []float64
	}{
		{domain.KeyLevel, []netcdf.Dim{levelDim}, levels(n)},
		{domain.KeyRLat, []netcdf.Dim{rlatDim}, cube.RLat},
		{domain.KeyRLon, []netcdf.Dim{rlonDim}, cube.RLon},
		{domain.KeyLat, []netcdf.Dim{rlatDim, rlonDim}, rowMajor(cube.Lat)},
		{domain.KeyLon, []netcdf.Dim{rlatDim, rlonDim}, rowMajor(cube.Lon)},
		{cube.DesignValue, []netcdf.Dim{levelDim, rlatDim, rlonDim}, stack(cube.Members)},
	}
	handles := make([]netcdf.Var, len(vars))
	for i, v := range vars {
		if handles[i], err = ds.AddVar(v.name, netcdf.DOUBLE, v.dims); err != nil {
			return fmt.Errorf("failed to add variable %s: %w", v.name, err)
		}
	}
	if err := ds.EndDef(); err != nil {
		return fmt.Errorf("failed to end define mode: %w", err)
	}
	for i, v := range vars {
		if err := handles[i].WriteFloat64s(v.data); err != nil {
			return fmt.Errorf("failed to write %s: %w", v.name, err)
		}
	}
	return nil
}

func levels(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i)
	}
	return out
}

func rowMajor(m *mat.Dense) []float64 {
	rows, cols := m.Dims()
	out := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

func stack(members []*mat.Dense) []float64 {
	var out []float64
	for _, m := range members {
		out = append(out, rowMajor(m)...)
	}
	return out
}
