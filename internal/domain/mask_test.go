package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestValidityMask_And(t *testing.T) {
	land := MaskFromField(mat.NewDense(2, 3, []float64{0, 1, 1, 1, 1, 0}), func(v float64) bool { return v > 0 })
	finite := MaskFromField(mat.NewDense(2, 3, []float64{1, math.NaN(), 1, 1, 1, 1}), nil)

	both, err := land.And(finite)
	require.NoError(t, err)
	assert.Equal(t, []bool{false, false, true, true, true, false}, both.Valid)
	assert.Equal(t, 3, both.Count())
	assert.Equal(t, []int{2, 3, 4}, both.Indices())

	// Operands are left untouched.
	assert.Equal(t, 4, land.Count())
	assert.Equal(t, 5, finite.Count())

	_, err = land.And(NewValidityMask(3, 2))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestGridField_Validate(t *testing.T) {
	cube := &EnsembleCube{
		DesignValue: "hdd",
		Members:     []*mat.Dense{mat.NewDense(2, 3, nil), mat.NewDense(2, 3, []float64{1, 2, 3, 4, 5, 6})},
		Lat:         mat.NewDense(2, 3, nil),
		Lon:         mat.NewDense(2, 3, nil),
		RLat:        []float64{0, 1},
		RLon:        []float64{0, 1, 2},
	}
	require.NoError(t, cube.Validate())

	f := cube.Member(1)
	assert.Equal(t, "hdd[1]", f.Name)
	assert.Equal(t, 6.0, f.Values.At(1, 2))
	assert.NoError(t, f.Validate())

	f.Values = nil
	assert.ErrorIs(t, f.Validate(), ErrInvalidInput)

	f = cube.Member(0)
	f.Lat = mat.NewDense(3, 2, nil)
	assert.ErrorIs(t, f.Validate(), ErrDimensionMismatch)
}
