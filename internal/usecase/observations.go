package usecase

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/adapter/interp"
	"go.ngs.io/dvmap/internal/domain"
)

// Match pairs an observation with the grid cell it was assigned to.
type Match struct {
	Station string  `json:"station"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Value   float64 `json:"value"`

	Row     int     `json:"row"`
	Col     int     `json:"col"`
	CellLon float64 `json:"cell_lon"`
	CellLat float64 `json:"cell_lat"`
	// DistanceKm is the great-circle distance from the observation to the cell centre.
	DistanceKm   float64 `json:"distance_km"`
	EnsembleMean float64 `json:"ensemble_mean"`
}

// MatchObservations assigns each observation to the nearest valid cell of the
// ensemble mean. Observations are rotated onto the cube's grid, snapped to its
// axes and moved to the closest valid cell when the snapped cell is masked.
func MatchObservations(cube *domain.EnsembleCube, mean *mat.Dense, mask domain.ValidityMask,
	obs domain.ObservationSet, pole crs.RotatedPole, matcher *interp.Matcher) ([]Match, error) {
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no observations", domain.ErrInsufficientData)
	}
	lon, lat := obs.Coords()
	rlon, rlat, err := crs.ToRotated(lon, lat, pole)
	if err != nil {
		return nil, err
	}
	xIdx, yIdx, err := matcher.FindElementWiseNearestPos(cube.RLon, cube.RLat, rlon, rlat)
	if err != nil {
		return nil, err
	}
	cells, err := matcher.NearestValidCells(cube.RLon, cube.RLat, xIdx, yIdx, mean, mask)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, len(obs))
	for k, o := range obs {
		c := cells[k]
		cellLon, cellLat := cube.Lon.At(c.Row, c.Col), cube.Lat.At(c.Row, c.Col)
		matches[k] = Match{
			Station:      o.Station,
			Lon:          o.Lon,
			Lat:          o.Lat,
			Value:        o.Value,
			Row:          c.Row,
			Col:          c.Col,
			CellLon:      cellLon,
			CellLat:      cellLat,
			DistanceKm:   haversineKm(o.Lat, o.Lon, cellLat, cellLon),
			EnsembleMean: mean.At(c.Row, c.Col),
		}
	}
	return matches, nil
}

// NearestRequest asks for the nearest valid ensemble-mean cell to a point.
type NearestRequest struct {
	DesignValue string
	Lon         float64
	Lat         float64
}

// Nearest returns the valid ensemble-mean cell closest to a geographic point.
// The ensemble is used at its native resolution.
func (uc *ReconstructionUseCase) Nearest(req NearestRequest) (*Match, int, error) {
	if req.Lat < -90 || req.Lat > 90 {
		return nil, 0, fmt.Errorf("%w: latitude must be between -90 and 90", domain.ErrInvalidInput)
	}
	if math.IsNaN(req.Lon) || math.IsInf(req.Lon, 0) {
		return nil, 0, fmt.Errorf("%w: longitude must be finite", domain.ErrInvalidInput)
	}
	opts := uc.Defaults()
	if req.DesignValue != "" {
		opts.DesignValue = req.DesignValue
	}
	if opts.DesignValue == "" {
		return nil, 0, fmt.Errorf("%w: design value is required", domain.ErrInvalidInput)
	}
	opts.ResolutionFactor = 1

	a, err := uc.prepare(opts, uc.Log.WithField("design_value", opts.DesignValue))
	if err != nil {
		return nil, 0, err
	}

	var warnings int
	matcher := interp.NewMatcher(uc.Log)
	matcher.SearchRadius = opts.SearchRadius
	matcher.OnWarning = func(domain.RangeWarning) { warnings++ }

	point := domain.ObservationSet{{Station: "query", Lon: req.Lon, Lat: req.Lat}}
	matches, err := MatchObservations(a.cube, a.mean, a.mask, point, uc.pole, matcher)
	if err != nil {
		return nil, 0, err
	}
	return &matches[0], warnings, nil
}

// Transform converts a single point between geographic and rotated coordinates.
func (uc *ReconstructionUseCase) Transform(x, y float64, inverse bool) (float64, float64, error) {
	var (
		outX, outY []float64
		err        error
	)
	if inverse {
		outX, outY, err = crs.ToGeographic([]float64{x}, []float64{y}, uc.pole)
	} else {
		outX, outY, err = crs.ToRotated([]float64{x}, []float64{y}, uc.pole)
	}
	if err != nil {
		return 0, 0, err
	}
	return outX[0], outY[0], nil
}

func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(x float64) float64 { return x * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}
