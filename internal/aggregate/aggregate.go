// Package aggregate centres ensemble cubes on their member mean and weights
// the resulting anomalies by fractional cell area.
package aggregate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// EnsembleMean returns the members x cells anomaly matrix of the cube.
// Non-finite entries are zeroed, then the centring projection I - J/n is
// applied so every cell's member values sum to zero.
func EnsembleMean(cube *domain.EnsembleCube) (*mat.Dense, error) {
	if cube == nil {
		return nil, fmt.Errorf("%w: ensemble cube is nil", domain.ErrInvalidInput)
	}
	if err := cube.Validate(); err != nil {
		return nil, err
	}

	x := cube.Flatten()
	x.Apply(func(_, _ int, v float64) float64 {
		if !domain.IsFinite(v) {
			return 0
		}
		return v
	}, x)

	n, p := x.Dims()
	centring := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := -1.0 / float64(n)
			if i == j {
				v += 1
			}
			centring.Set(i, j, v)
		}
	}

	out := mat.NewDense(n, p, nil)
	out.Mul(centring, x)
	return out, nil
}

// Weighted is an area-weighted anomaly matrix over the interior cells of a grid.
type Weighted struct {
	// Matrix is members x len(Cells): the anomaly right-multiplied by Weights.
	Matrix *mat.Dense
	// Anomaly is the unweighted members x len(Cells) anomaly of the same cells.
	Anomaly *mat.Dense
	// Weights is the diagonal of fractional cell areas; it sums to one.
	Weights *mat.DiagDense
	// Cells lists the row-major grid index of each column.
	Cells []int
}

// WeightMatrix weights the ensemble anomaly by fractional cell area.
//
// Cell (i, j) spans |lat[i+1,j]-lat[i,j]| by |lon[i,j+1]-lon[i,j]| degrees.
// The last row and the last column have no forward neighbour, so their area
// is undefined and they are always excluded; only cells with i < rows-1 and
// j < cols-1 carry weight.
func WeightMatrix(cube *domain.EnsembleCube) (*Weighted, error) {
	if cube == nil {
		return nil, fmt.Errorf("%w: ensemble cube is nil", domain.ErrInvalidInput)
	}
	_, rows, cols := cube.Size()
	if cube.Lat == nil || cube.Lon == nil {
		return nil, fmt.Errorf("%w: cube has no lat/lon coordinates", domain.ErrDimensionMismatch)
	}
	if r, c := cube.Lat.Dims(); r != rows || c != cols {
		return nil, fmt.Errorf("%w: lat is %dx%d, cube grid is %dx%d", domain.ErrDimensionMismatch, r, c, rows, cols)
	}
	if r, c := cube.Lon.Dims(); r != rows || c != cols {
		return nil, fmt.Errorf("%w: lon is %dx%d, cube grid is %dx%d", domain.ErrDimensionMismatch, r, c, rows, cols)
	}
	if rows < 2 || cols < 2 {
		return nil, fmt.Errorf("%w: grid %dx%d has no interior cells", domain.ErrInvalidInput, rows, cols)
	}

	anomaly, err := EnsembleMean(cube)
	if err != nil {
		return nil, err
	}

	cells := make([]int, 0, (rows-1)*(cols-1))
	areas := make([]float64, 0, (rows-1)*(cols-1))
	for i := 0; i < rows-1; i++ {
		for j := 0; j < cols-1; j++ {
			dLat := math.Abs(cube.Lat.At(i+1, j) - cube.Lat.At(i, j))
			dLon := math.Abs(cube.Lon.At(i, j+1) - cube.Lon.At(i, j))
			cells = append(cells, i*cols+j)
			areas = append(areas, dLat*dLon)
		}
	}
	total := floats.Sum(areas)
	if !(total > 0) || math.IsInf(total, 0) {
		return nil, fmt.Errorf("%w: total interior cell area is %v", domain.ErrInvalidInput, total)
	}
	floats.Scale(1/total, areas)
	weights := mat.NewDiagDense(len(areas), areas)

	n, _ := anomaly.Dims()
	interior := mat.NewDense(n, len(cells), nil)
	for m := 0; m < n; m++ {
		src := anomaly.RawRowView(m)
		dst := interior.RawRowView(m)
		for k, c := range cells {
			dst[k] = src[c]
		}
	}

	// Column scaling is the product with a diagonal matrix.
	weighted := mat.NewDense(n, len(cells), nil)
	weighted.Apply(func(_, j int, v float64) float64 {
		return v * weights.At(j, j)
	}, interior)

	return &Weighted{Matrix: weighted, Anomaly: interior, Weights: weights, Cells: cells}, nil
}

// Variance returns the area-weighted ensemble variance: the sum over cells of
// fractional area times the sample variance of the members. It is zero for
// ensembles with fewer than two members.
func (w *Weighted) Variance() float64 {
	n, _ := w.Matrix.Dims()
	if n < 2 {
		return 0
	}
	var sum float64
	for m := 0; m < n; m++ {
		sum += floats.Dot(w.Anomaly.RawRowView(m), w.Matrix.RawRowView(m))
	}
	return sum / float64(n-1)
}
