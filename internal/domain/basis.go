package domain

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// SpatialBasis is an orthonormal set of spatial modes fitted to an ensemble.
type SpatialBasis struct {
	// Components is cells x k; column i is the i-th mode.
	Components *mat.Dense
	// ExplainedVariance holds the variance fraction of each retained mode, descending.
	ExplainedVariance []float64
	// SingularValues holds the magnitude of each retained mode.
	SingularValues []float64
	// Scores is members x k; the projection of each member onto the modes.
	Scores *mat.Dense
	// Cells maps component rows to row-major grid cell indices.
	Cells []int
	// Threshold is the cumulative variance fraction the modes were chosen to meet.
	Threshold float64
}

// Len returns the number of retained components.
func (b *SpatialBasis) Len() int {
	return len(b.ExplainedVariance)
}

// CumulativeVariance returns the total explained variance of the retained modes.
func (b *SpatialBasis) CumulativeVariance() float64 {
	var sum float64
	for _, v := range b.ExplainedVariance {
		sum += v
	}
	return sum
}

// Loadings returns the cells x k matrix of each cell's weight on every mode,
// the components scaled by their singular values.
func (b *SpatialBasis) Loadings() *mat.Dense {
	rows, k := b.Components.Dims()
	out := mat.NewDense(rows, k, nil)
	out.Apply(func(_, j int, v float64) float64 {
		return v * b.SingularValues[j]
	}, b.Components)
	return out
}

// RegressionModel maps a vector of basis loadings to a design value.
type RegressionModel struct {
	Coefficients []float64
	Intercept    float64
	// Score is the coefficient of determination on the fitting data.
	Score float64
	// Samples is the number of observations used in the fit.
	Samples int
}

// Observation is a point record in geographic coordinates.
type Observation struct {
	Station string
	Lon     float64
	Lat     float64
	Value   float64
}

// ObservationSet is a collection of point observations.
type ObservationSet []Observation

// Coords splits the set into longitude and latitude slices.
func (s ObservationSet) Coords() (lon, lat []float64) {
	lon = make([]float64, len(s))
	lat = make([]float64, len(s))
	for i, o := range s {
		lon[i] = o.Lon
		lat[i] = o.Lat
	}
	return lon, lat
}

// Values returns the observed values in order.
func (s ObservationSet) Values() []float64 {
	out := make([]float64, len(s))
	for i, o := range s {
		out[i] = o.Value
	}
	return out
}

// Method selects the spatial-basis strategy of an analysis.
type Method int

const (
	// MethodBasisRegression fits EOFs and regresses observations on them.
	MethodBasisRegression Method = iota
	// MethodSelfOrganizingMap is reserved for a self-organizing-map basis.
	MethodSelfOrganizingMap
)

func (m Method) String() string {
	switch m {
	case MethodBasisRegression:
		return "basis-regression"
	case MethodSelfOrganizingMap:
		return "som"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// ParseMethod converts a configuration string into a Method.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "basis-regression", "eof":
		return MethodBasisRegression, nil
	case "som":
		return MethodSelfOrganizingMap, nil
	default:
		return 0, fmt.Errorf("%w: unknown method %q (use basis-regression or som)", ErrInvalidInput, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m Method) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	parsed, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
