// Package basis fits orthogonal spatial bases to ensemble anomalies.
package basis

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// DefaultThreshold is the cumulative explained variance retained by default.
const DefaultThreshold = 0.95

// Reducer fits a spatial basis to a members x cells anomaly matrix.
type Reducer interface {
	Fit(x mat.Matrix, threshold float64) (*domain.SpatialBasis, error)
}

// ForMethod returns the reducer implementing method.
func ForMethod(method domain.Method, log logrus.FieldLogger) (Reducer, error) {
	switch method {
	case domain.MethodBasisRegression:
		return NewEOF(log), nil
	case domain.MethodSelfOrganizingMap:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedMethod, method)
	default:
		return nil, fmt.Errorf("%w: unknown method %s", domain.ErrInvalidInput, method)
	}
}

// FitMasked fits r on the valid cells of a members x cells anomaly matrix.
// The returned basis records which grid cells its component rows describe.
func FitMasked(r Reducer, anomaly *mat.Dense, mask domain.ValidityMask, threshold float64) (*domain.SpatialBasis, error) {
	members, cells := anomaly.Dims()
	if len(mask.Valid) != cells {
		return nil, fmt.Errorf("%w: mask has %d cells, anomaly has %d",
			domain.ErrDimensionMismatch, len(mask.Valid), cells)
	}
	idx := mask.Indices()
	if len(idx) == 0 {
		return nil, fmt.Errorf("%w: mask has no valid cells", domain.ErrInsufficientData)
	}

	x := mat.NewDense(members, len(idx), nil)
	for m := 0; m < members; m++ {
		src := anomaly.RawRowView(m)
		dst := x.RawRowView(m)
		for k, c := range idx {
			dst[k] = src[c]
		}
	}

	b, err := r.Fit(x, threshold)
	if err != nil {
		return nil, err
	}
	b.Cells = idx
	return b, nil
}
