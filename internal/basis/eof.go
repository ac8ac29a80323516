package basis

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// varianceTolerance absorbs rounding in the cumulative variance comparison.
const varianceTolerance = 1e-12

// EOF computes empirical orthogonal functions by thin singular value
// decomposition of the anomaly matrix X = U S Vᵀ. The columns of V are the
// spatial modes, U S the member scores, and s²/Σs² the explained variance.
type EOF struct {
	Log logrus.FieldLogger
}

// NewEOF creates an EOF reducer.
func NewEOF(log logrus.FieldLogger) *EOF {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &EOF{Log: log}
}

// Fit retains the smallest number of modes whose cumulative explained
// variance reaches threshold. Each mode's sign is chosen so that its largest
// absolute entry is positive.
func (e *EOF) Fit(x mat.Matrix, threshold float64) (*domain.SpatialBasis, error) {
	if !(threshold > 0 && threshold <= 1) {
		return nil, fmt.Errorf("%w: explained variance threshold %v not in (0, 1]", domain.ErrInvalidInput, threshold)
	}
	members, cells := x.Dims()
	if members < 2 {
		return nil, fmt.Errorf("%w: %d members, need at least 2", domain.ErrInsufficientData, members)
	}
	if cells == 0 {
		return nil, fmt.Errorf("%w: no cells to decompose", domain.ErrInsufficientData)
	}
	for i := 0; i < members; i++ {
		for j := 0; j < cells; j++ {
			if !domain.IsFinite(x.At(i, j)) {
				return nil, fmt.Errorf("%w: anomaly (%d, %d) is not finite", domain.ErrInvalidInput, i, j)
			}
		}
	}

	var svd mat.SVD
	if ok := svd.Factorize(x, mat.SVDThin); !ok {
		return nil, fmt.Errorf("singular value decomposition of %dx%d anomaly did not converge", members, cells)
	}
	values := svd.Values(nil)

	variance := make([]float64, len(values))
	for i, s := range values {
		variance[i] = s * s
	}
	total := floats.Sum(variance)
	if !(total > 0) {
		return nil, fmt.Errorf("%w: ensemble has zero variance", domain.ErrInsufficientData)
	}
	floats.Scale(1/total, variance)

	cumulative := make([]float64, len(variance))
	floats.CumSum(cumulative, variance)
	k := len(cumulative)
	for i, c := range cumulative {
		if c >= threshold-varianceTolerance {
			k = i + 1
			break
		}
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	components := mat.DenseCopyOf(v.Slice(0, cells, 0, k))
	scores := mat.NewDense(members, k, nil)
	for j := 0; j < k; j++ {
		sign := 1.0
		if dominant(components.ColView(j)) < 0 {
			sign = -1
		}
		for c := 0; c < cells; c++ {
			components.Set(c, j, sign*components.At(c, j))
		}
		for m := 0; m < members; m++ {
			scores.Set(m, j, sign*u.At(m, j)*values[j])
		}
	}

	e.Log.WithFields(logrus.Fields{
		"members":    members,
		"cells":      cells,
		"components": k,
		"explained":  cumulative[k-1],
		"threshold":  threshold,
	}).Debug("fitted EOF basis")

	return &domain.SpatialBasis{
		Components:        components,
		ExplainedVariance: append([]float64(nil), variance[:k]...),
		SingularValues:    append([]float64(nil), values[:k]...),
		Scores:            scores,
		Threshold:         threshold,
	}, nil
}

// dominant returns the entry of v with the largest magnitude.
func dominant(v mat.Vector) float64 {
	best := 0.0
	for i := 0; i < v.Len(); i++ {
		if math.Abs(v.AtVec(i)) > math.Abs(best) {
			best = v.AtVec(i)
		}
	}
	return best
}
