package domain

import (
	"errors"
	"fmt"
)

// Error classes shared by every stage of the reconstruction pipeline.
// Failures wrap one of these with the offending shapes, keys or indices.
var (
	// ErrInvalidInput reports a wrong type, shape or rank.
	ErrInvalidInput = errors.New("invalid input")
	// ErrOutOfBounds reports an index outside its axis.
	ErrOutOfBounds = errors.New("index out of bounds")
	// ErrMissingKey reports a required dataset key that is not declared.
	ErrMissingKey = errors.New("missing key")
	// ErrDimensionMismatch reports coordinate arrays that disagree with the data.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrLookupExhausted reports that no valid cell was found around a position.
	ErrLookupExhausted = errors.New("nearest valid value lookup exhausted")
	// ErrInsufficientData reports too few ensemble members for a decomposition.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrRankDeficient reports an underdetermined regression.
	ErrRankDeficient = errors.New("rank deficient")
	// ErrUnsupportedMethod reports a recognized but unimplemented analysis method.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// RangeWarning is raised when a lookup value lies outside its axis range.
// The lookup still completes using the nearest boundary index.
type RangeWarning struct {
	Axis  string
	Value float64
	Min   float64
	Max   float64
	Index int
}

func (w RangeWarning) Error() string {
	return fmt.Sprintf("value %.6f on axis %q is outside [%.6f, %.6f], clamped to index %d",
		w.Value, w.Axis, w.Min, w.Max, w.Index)
}
