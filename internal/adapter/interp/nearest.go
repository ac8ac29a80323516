package interp

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// Cell addresses a grid cell by row (y index) and column (x index).
type Cell struct {
	Row int
	Col int
}

// Matcher snaps coordinates onto grid axes and finds the nearest valid cells.
type Matcher struct {
	// SearchRadius bounds the ring search in cells (Chebyshev distance).
	// Zero searches the whole field.
	SearchRadius int

	// OnWarning receives out-of-range lookups. When nil they are logged.
	OnWarning func(domain.RangeWarning)

	Log logrus.FieldLogger
}

// NewMatcher creates a Matcher with an unbounded search and logged warnings.
func NewMatcher(log logrus.FieldLogger) *Matcher {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Matcher{Log: log}
}

func (m *Matcher) warn(w domain.RangeWarning) {
	if m.OnWarning != nil {
		m.OnWarning(w)
		return
	}
	log := m.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithFields(logrus.Fields{
		"axis":  w.Axis,
		"value": w.Value,
		"min":   w.Min,
		"max":   w.Max,
		"index": w.Index,
	}).Warn("value outside axis range, using boundary index")
}

// FindNearestIndex returns the index of the axis entry closest to value.
// The axis must be strictly monotonic (ascending or descending). Equidistant
// entries resolve to the lower index. Values outside the axis range produce
// one warning and resolve to the nearest boundary.
func (m *Matcher) FindNearestIndex(axis []float64, value float64) (int, error) {
	if err := checkAxis("axis", axis); err != nil {
		return 0, err
	}
	if math.IsNaN(value) {
		return 0, fmt.Errorf("%w: lookup value is NaN", domain.ErrInvalidInput)
	}
	return m.nearest("axis", axis, value), nil
}

// FindElementWiseNearestPos snaps each (x[k], y[k]) onto the xAxis and yAxis grids.
func (m *Matcher) FindElementWiseNearestPos(xAxis, yAxis, x, y []float64) (xIdx, yIdx []int, err error) {
	if err := checkAxis("x", xAxis); err != nil {
		return nil, nil, err
	}
	if err := checkAxis("y", yAxis); err != nil {
		return nil, nil, err
	}
	if len(x) != len(y) {
		return nil, nil, fmt.Errorf("%w: %d x values but %d y values", domain.ErrInvalidInput, len(x), len(y))
	}
	xIdx = make([]int, len(x))
	yIdx = make([]int, len(y))
	for k := range x {
		if math.IsNaN(x[k]) || math.IsNaN(y[k]) {
			return nil, nil, fmt.Errorf("%w: point %d has a NaN coordinate", domain.ErrInvalidInput, k)
		}
		xIdx[k] = m.nearest("x", xAxis, x[k])
		yIdx[k] = m.nearest("y", yAxis, y[k])
	}
	return xIdx, yIdx, nil
}

// NearestValidCells returns, for each snapped position, the cell itself when
// it is valid, otherwise the closest valid cell by Euclidean index distance
// with ties broken in row-major order. A cell is valid when the mask allows it
// and the field value is finite. field is len(yAxis) x len(xAxis).
func (m *Matcher) NearestValidCells(xAxis, yAxis []float64, xIdx, yIdx []int, field mat.Matrix, mask domain.ValidityMask) ([]Cell, error) {
	rows, cols := len(yAxis), len(xAxis)
	if field == nil {
		return nil, fmt.Errorf("%w: field is nil", domain.ErrInvalidInput)
	}
	if r, c := field.Dims(); r != rows || c != cols {
		return nil, fmt.Errorf("%w: field is %dx%d, axes are %dx%d", domain.ErrInvalidInput, r, c, rows, cols)
	}
	if err := mask.Validate(rows, cols); err != nil {
		return nil, err
	}
	if len(xIdx) != len(yIdx) {
		return nil, fmt.Errorf("%w: %d x indices but %d y indices", domain.ErrInvalidInput, len(xIdx), len(yIdx))
	}

	valid := func(i, j int) bool {
		return mask.At(i, j) && domain.IsFinite(field.At(i, j))
	}

	maxRadius := m.SearchRadius
	if maxRadius <= 0 {
		maxRadius = max(rows, cols)
	}

	cells := make([]Cell, len(xIdx))
	for k := range xIdx {
		i, j := yIdx[k], xIdx[k]
		if i < 0 || i >= rows {
			return nil, fmt.Errorf("%w: y index %d at position %d not in [0, %d)", domain.ErrOutOfBounds, i, k, rows)
		}
		if j < 0 || j >= cols {
			return nil, fmt.Errorf("%w: x index %d at position %d not in [0, %d)", domain.ErrOutOfBounds, j, k, cols)
		}
		if valid(i, j) {
			cells[k] = Cell{Row: i, Col: j}
			continue
		}
		c, ok := ringSearch(i, j, rows, cols, maxRadius, valid)
		if !ok {
			return nil, fmt.Errorf("%w: no valid cell within %d cells of (%d, %d)",
				domain.ErrLookupExhausted, maxRadius, i, j)
		}
		cells[k] = c
	}
	return cells, nil
}

// FindNearestIndexValue returns the field value at the nearest valid cell of
// each snapped position.
func (m *Matcher) FindNearestIndexValue(xAxis, yAxis []float64, xIdx, yIdx []int, field mat.Matrix, mask domain.ValidityMask) ([]float64, error) {
	cells, err := m.NearestValidCells(xAxis, yAxis, xIdx, yIdx, field, mask)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(cells))
	for k, c := range cells {
		out[k] = field.At(c.Row, c.Col)
	}
	return out, nil
}

// ringSearch scans square rings of growing Chebyshev radius around (i, j).
// Once a candidate is found, rings are scanned until no closer cell can exist.
func ringSearch(i, j, rows, cols, maxRadius int, valid func(int, int) bool) (Cell, bool) {
	best := Cell{}
	bestD2 := math.MaxInt
	found := false

	for r := 1; r <= maxRadius; r++ {
		if found && r*r > bestD2 {
			break
		}
		for ii := i - r; ii <= i+r; ii++ {
			if ii < 0 || ii >= rows {
				continue
			}
			di := ii - i
			edge := ii == i-r || ii == i+r
			for jj := j - r; jj <= j+r; jj++ {
				if jj < 0 || jj >= cols {
					continue
				}
				if !edge && jj != j-r && jj != j+r {
					continue
				}
				if !valid(ii, jj) {
					continue
				}
				dj := jj - j
				d2 := di*di + dj*dj
				c := Cell{Row: ii, Col: jj}
				if d2 < bestD2 || (d2 == bestD2 && before(c, best)) {
					best, bestD2, found = c, d2, true
				}
			}
		}
	}
	return best, found
}

func before(a, b Cell) bool {
	if a.Row != b.Row {
		return a.Row < b.Row
	}
	return a.Col < b.Col
}

func (m *Matcher) nearest(name string, axis []float64, value float64) int {
	n := len(axis)
	ascending := axis[n-1] > axis[0]
	lo, hi := axis[0], axis[n-1]
	if !ascending {
		lo, hi = hi, lo
	}

	var i int
	if ascending {
		i = sort.Search(n, func(k int) bool { return axis[k] >= value })
	} else {
		i = sort.Search(n, func(k int) bool { return axis[k] <= value })
	}

	var idx int
	switch {
	case i == 0:
		idx = 0
	case i == n:
		idx = n - 1
	default:
		below := math.Abs(value - axis[i-1])
		above := math.Abs(axis[i] - value)
		if below <= above {
			idx = i - 1
		} else {
			idx = i
		}
	}

	if value < lo || value > hi {
		m.warn(domain.RangeWarning{Axis: name, Value: value, Min: lo, Max: hi, Index: idx})
	}
	return idx
}

func checkAxis(name string, axis []float64) error {
	if len(axis) < 2 {
		return fmt.Errorf("%w: %s axis needs at least 2 entries, got %d", domain.ErrInvalidInput, name, len(axis))
	}
	ascending := axis[1] > axis[0]
	for k := 1; k < len(axis); k++ {
		if math.IsNaN(axis[k]) || math.IsNaN(axis[k-1]) {
			return fmt.Errorf("%w: %s axis contains NaN", domain.ErrInvalidInput, name)
		}
		if ascending && !(axis[k] > axis[k-1]) || !ascending && !(axis[k] < axis[k-1]) {
			return fmt.Errorf("%w: %s axis is not strictly monotonic at %d", domain.ErrInvalidInput, name, k)
		}
	}
	return nil
}
