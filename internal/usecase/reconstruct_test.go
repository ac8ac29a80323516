package usecase

import (
	"fmt"
	"math"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/domain"
)

const (
	testRows = 6
	testCols = 8
	testBase = 10.0
)

var (
	memberA = []float64{-2.5, -1.5, -0.5, 0.5, 1.5, 2.5}
	memberB = []float64{1, -1, 1, -1, 1, -1}
)

// syntheticCube builds a 6-member ensemble on a CanRCM4 rotated grid whose
// members are testBase + a[m]*row + b[m]*col. The ensemble mean is testBase
// everywhere, so every member is an exact linear function of two modes.
func syntheticCube(t *testing.T) *domain.EnsembleCube {
	t.Helper()
	rlat := make([]float64, testRows)
	for i := range rlat {
		rlat[i] = float64(i - 3)
	}
	rlon := make([]float64, testCols)
	for j := range rlon {
		rlon[j] = float64(j - 4)
	}
	xs, ys := crs.FlattenCoords(rlon, rlat)
	lon, lat, err := crs.ToGeographic(xs, ys, crs.CanRCM4())
	require.NoError(t, err)

	cube := &domain.EnsembleCube{
		DesignValue: "snw",
		Lat:         mat.NewDense(testRows, testCols, lat),
		Lon:         mat.NewDense(testRows, testCols, lon),
		RLat:        rlat,
		RLon:        rlon,
		Keys:        append(domain.DefaultRequiredKeys(), "snw"),
	}
	for m := range memberA {
		d := mat.NewDense(testRows, testCols, nil)
		for i := 0; i < testRows; i++ {
			for j := 0; j < testCols; j++ {
				d.Set(i, j, memberValue(m, i, j))
			}
		}
		cube.Members = append(cube.Members, d)
	}
	return cube
}

func memberValue(m, i, j int) float64 {
	return testBase + memberA[m]*float64(i) + memberB[m]*float64(j)
}

type fakeEnsembles struct {
	cube  *domain.EnsembleCube
	loads int
}

func (f *fakeEnsembles) Load(designValue string, required []string) (*domain.EnsembleCube, error) {
	f.loads++
	if missing := f.cube.MissingKeys(append([]string{designValue}, required...)); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrMissingKey, missing)
	}
	return f.cube, nil
}

type fakeMask struct {
	invalid [][2]int
}

func (f *fakeMask) LoadMask(rows, cols int) (domain.ValidityMask, error) {
	m := domain.NewValidityMask(rows, cols)
	for _, c := range f.invalid {
		m.Valid[c[0]*cols+c[1]] = false
	}
	return m, nil
}

func (f *fakeMask) Close() error { return nil }

type fakeObservations struct {
	obs domain.ObservationSet
}

func (f *fakeObservations) LoadObservations() (domain.ObservationSet, error) {
	return f.obs, nil
}

func testOptions() Options {
	return Options{
		Method:           domain.MethodBasisRegression,
		DesignValue:      "snw",
		RequiredKeys:     domain.DefaultRequiredKeys(),
		ResolutionFactor: 1,
		Threshold:        1,
		SampleFraction:   1,
		Seed:             3,
	}
}

func newTestUseCase(t *testing.T, masks *fakeMask, obs *fakeObservations) (*ReconstructionUseCase, *domain.EnsembleCube) {
	t.Helper()
	cube := syntheticCube(t)
	logger, _ := test.NewNullLogger()
	uc := NewReconstructionUseCase(&fakeEnsembles{cube: cube}, nil, nil, crs.CanRCM4(), testOptions(), logger)
	if masks != nil {
		uc.masks = masks
	}
	if obs != nil {
		uc.observations = obs
	}
	return uc, cube
}

// observationAt reports member m's value at cell (i, j) at the cell centre.
func observationAt(cube *domain.EnsembleCube, m, i, j int) domain.Observation {
	return domain.Observation{
		Station: fmt.Sprintf("s-%d-%d", i, j),
		Lon:     cube.Lon.At(i, j),
		Lat:     cube.Lat.At(i, j),
		Value:   memberValue(m, i, j),
	}
}

func TestExecute_PseudoObservationsRecoverMember(t *testing.T) {
	uc, _ := newTestUseCase(t, nil, nil)

	res, err := uc.Execute(ReconstructionRequest{Options: testOptions(), PseudoFraction: 0.5})
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "basis-regression", res.Method)
	assert.Equal(t, GridInfo{Members: 6, Rows: testRows, Cols: testCols, ValidCells: 48}, res.Grid)
	assert.Equal(t, 2, res.Basis.Components)
	assert.InDelta(t, 1, res.Basis.Cumulative, 1e-9)
	assert.Greater(t, res.WeightedVariance, 0.0)
	assert.Len(t, res.Matches, 24)
	assert.Equal(t, 24, res.Model.Samples)
	assert.InDelta(t, 1, res.Model.Score, 1e-9)
	assert.Zero(t, res.Warnings)
	assert.Nil(t, res.Validation)

	member := res.PseudoMember
	require.True(t, member >= 0 && member < len(memberA))
	for _, m := range res.Matches {
		assert.Less(t, m.DistanceKm, 1e-3, "station %s", m.Station)
		assert.InDelta(t, testBase, m.EnsembleMean, 1e-9)
		assert.Equal(t, fmt.Sprintf("pseudo-%d-%d", m.Row, m.Col), m.Station)
	}
	for i := 0; i < testRows; i++ {
		for j := 0; j < testCols; j++ {
			assert.InDelta(t, memberValue(member, i, j), res.Field.Values.At(i, j), 1e-8, "cell (%d, %d)", i, j)
		}
	}
}

func TestExecute_Reproducible(t *testing.T) {
	uc, _ := newTestUseCase(t, nil, nil)
	req := ReconstructionRequest{Options: testOptions(), PseudoFraction: 0.25}

	a, err := uc.Execute(req)
	require.NoError(t, err)
	b, err := uc.Execute(req)
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.PseudoMember, b.PseudoMember)
	assert.Equal(t, a.Matches, b.Matches)
	assert.Equal(t, a.Model, b.Model)
}

func TestExecute_HoldOutValidation(t *testing.T) {
	uc, _ := newTestUseCase(t, nil, nil)
	opts := testOptions()
	opts.SampleFraction = 0.5

	res, err := uc.Execute(ReconstructionRequest{Options: opts, PseudoFraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Model.Samples)
	require.NotNil(t, res.Validation)
	assert.Equal(t, 12, res.Validation.N)
	assert.Less(t, res.Validation.RMSE, 1e-8)
	assert.InDelta(t, 0, res.Validation.Bias, 1e-8)
}

func TestExecute_ExternalMask(t *testing.T) {
	uc, _ := newTestUseCase(t, &fakeMask{invalid: [][2]int{{0, 0}, {5, 7}}}, nil)

	res, err := uc.Execute(ReconstructionRequest{Options: testOptions(), PseudoFraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 46, res.Grid.ValidCells)
	assert.Len(t, res.Matches, 23)
	assert.True(t, math.IsNaN(res.Field.Values.At(0, 0)))
	assert.True(t, math.IsNaN(res.Field.Values.At(5, 7)))
	assert.False(t, math.IsNaN(res.Field.Values.At(0, 1)))
}

func TestExecute_LoadedObservationsOutsideGrid(t *testing.T) {
	uc, cube := newTestUseCase(t, nil, nil)

	var obs domain.ObservationSet
	for _, c := range [][2]int{{0, 0}, {1, 3}, {2, 5}, {4, 1}, {5, 6}} {
		obs = append(obs, observationAt(cube, 0, c[0], c[1]))
	}
	// Rotated (10, 0) lies east of the grid and snaps to cell (3, 7).
	lon, lat, err := crs.ToGeographic([]float64{10}, []float64{0}, crs.CanRCM4())
	require.NoError(t, err)
	obs = append(obs, domain.Observation{Station: "east", Lon: lon[0], Lat: lat[0], Value: memberValue(0, 3, 7)})
	uc.observations = &fakeObservations{obs: obs}

	res, err := uc.Execute(ReconstructionRequest{Options: testOptions()})
	require.NoError(t, err)
	assert.Equal(t, -1, res.PseudoMember)
	assert.Equal(t, 1, res.Warnings)
	last := res.Matches[len(res.Matches)-1]
	assert.Equal(t, 3, last.Row)
	assert.Equal(t, 7, last.Col)
	assert.Greater(t, last.DistanceKm, 100.0)
	assert.InDelta(t, 1, res.Model.Score, 1e-9)
	assert.InDelta(t, memberValue(0, 2, 2), res.Field.Values.At(2, 2), 1e-8)
}

func TestExecute_Regridding(t *testing.T) {
	uc, _ := newTestUseCase(t, nil, nil)

	opts := testOptions()
	opts.ResolutionFactor = 2
	res, err := uc.Execute(ReconstructionRequest{Options: opts, PseudoFraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 12, res.Grid.Rows)
	assert.Equal(t, 16, res.Grid.Cols)
	assert.InDelta(t, 1, res.Model.Score, 1e-6)

	opts.Coarsen = true
	res, err = uc.Execute(ReconstructionRequest{Options: opts, PseudoFraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Grid.Rows)
	assert.Equal(t, 4, res.Grid.Cols)
	assert.Equal(t, 6, res.Model.Samples)
	assert.InDelta(t, 1, res.Model.Score, 1e-6)
}

func TestExecute_Errors(t *testing.T) {
	uc, cube := newTestUseCase(t, nil, nil)

	tests := []struct {
		name    string
		mutate  func(*ReconstructionRequest)
		wantErr error
	}{
		{"no design value", func(r *ReconstructionRequest) { r.DesignValue = "" }, domain.ErrInvalidInput},
		{"bad threshold", func(r *ReconstructionRequest) { r.Threshold = 0 }, domain.ErrInvalidInput},
		{"bad resolution", func(r *ReconstructionRequest) { r.ResolutionFactor = 0 }, domain.ErrInvalidInput},
		{"missing key", func(r *ReconstructionRequest) { r.RequiredKeys = []string{"zeta"} }, domain.ErrMissingKey},
		{"unsupported method", func(r *ReconstructionRequest) { r.Method = domain.MethodSelfOrganizingMap }, domain.ErrUnsupportedMethod},
		{"no observations", func(r *ReconstructionRequest) { r.PseudoFraction = 0 }, domain.ErrInvalidInput},
		{"too few observations", func(r *ReconstructionRequest) {
			r.Observations = domain.ObservationSet{observationAt(cube, 1, 0, 0), observationAt(cube, 1, 2, 2)}
		}, domain.ErrRankDeficient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := ReconstructionRequest{Options: testOptions(), PseudoFraction: 0.5}
			tt.mutate(&req)
			_, err := uc.Execute(req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNearest(t *testing.T) {
	uc, cube := newTestUseCase(t, nil, nil)

	m, warnings, err := uc.Nearest(NearestRequest{Lon: cube.Lon.At(2, 3), Lat: cube.Lat.At(2, 3)})
	require.NoError(t, err)
	assert.Zero(t, warnings)
	assert.Equal(t, 2, m.Row)
	assert.Equal(t, 3, m.Col)
	assert.InDelta(t, testBase, m.EnsembleMean, 1e-9)

	masked, _ := newTestUseCase(t, &fakeMask{invalid: [][2]int{{2, 3}}}, nil)
	m, _, err = masked.Nearest(NearestRequest{Lon: cube.Lon.At(2, 3), Lat: cube.Lat.At(2, 3)})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Row, "ties resolve to the first cell in row-major order")
	assert.Equal(t, 3, m.Col)

	_, _, err = uc.Nearest(NearestRequest{Lon: 0, Lat: 95})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, _, err = uc.Nearest(NearestRequest{DesignValue: "tas", Lon: 0, Lat: 45})
	assert.ErrorIs(t, err, domain.ErrMissingKey)
}

func TestTransform(t *testing.T) {
	uc, _ := newTestUseCase(t, nil, nil)

	x, y, err := uc.Transform(-123, 49, false)
	require.NoError(t, err)
	assert.InDelta(t, -16.762937096809097, x, 1e-6)
	assert.InDelta(t, 4.30869242838931, y, 1e-6)

	lon, lat, err := uc.Transform(x, y, true)
	require.NoError(t, err)
	assert.InDelta(t, -123, lon, 1e-9)
	assert.InDelta(t, 49, lat, 1e-9)
}

func TestHaversineKm(t *testing.T) {
	assert.InDelta(t, 111.195, haversineKm(0, 0, 0, 1), 1e-3)
	assert.InDelta(t, 0, haversineKm(49, -123, 49, -123), 1e-12)
}
