package usecase

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/adapter/interp"
	"go.ngs.io/dvmap/internal/adapter/store"
	"go.ngs.io/dvmap/internal/aggregate"
	"go.ngs.io/dvmap/internal/basis"
	"go.ngs.io/dvmap/internal/config"
	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/regress"
	"go.ngs.io/dvmap/internal/regrid"
	"go.ngs.io/dvmap/internal/sample"
)

// Options controls a single reconstruction run.
type Options struct {
	Method           domain.Method
	DesignValue      string
	RequiredKeys     []string
	ResolutionFactor int
	Coarsen          bool
	Threshold        float64 // Cumulative explained variance to retain.
	SampleFraction   float64 // Fraction of observations used for fitting; the rest are held out.
	Seed             int64
	SearchRadius     int
}

// OptionsFromConfig extracts the run options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Method:           cfg.Method,
		DesignValue:      cfg.DesignValue,
		RequiredKeys:     append([]string(nil), cfg.RequiredKeys...),
		ResolutionFactor: cfg.ResolutionFactor,
		Coarsen:          cfg.Coarsen,
		Threshold:        cfg.ExplainedVarianceThreshold,
		SampleFraction:   cfg.SampleFraction,
		Seed:             cfg.Seed,
		SearchRadius:     cfg.SearchRadius,
	}
}

// Validate checks the options before any data is loaded.
func (o Options) Validate() error {
	if o.DesignValue == "" {
		return fmt.Errorf("%w: design value is required", domain.ErrInvalidInput)
	}
	if o.ResolutionFactor < 1 {
		return fmt.Errorf("%w: resolution factor must be >= 1, got %d", domain.ErrInvalidInput, o.ResolutionFactor)
	}
	if !(o.Threshold > 0 && o.Threshold <= 1) {
		return fmt.Errorf("%w: explained variance threshold %v not in (0, 1]", domain.ErrInvalidInput, o.Threshold)
	}
	if !(o.SampleFraction > 0 && o.SampleFraction <= 1) {
		return fmt.Errorf("%w: sample fraction %v not in (0, 1]", domain.ErrInvalidInput, o.SampleFraction)
	}
	if o.SearchRadius < 0 {
		return fmt.Errorf("%w: search radius must be >= 0, got %d", domain.ErrInvalidInput, o.SearchRadius)
	}
	return nil
}

// ReconstructionRequest encapsulates a reconstruction request.
type ReconstructionRequest struct {
	Options

	// Observations to fit. When empty, PseudoFraction > 0 samples
	// pseudo-observations from one ensemble member, otherwise the configured
	// observation loader is used.
	Observations   domain.ObservationSet
	PseudoFraction float64
}

// GridInfo describes the analysis grid.
type GridInfo struct {
	Members    int `json:"members"`
	Rows       int `json:"rows"`
	Cols       int `json:"cols"`
	ValidCells int `json:"valid_cells"`
}

// BasisSummary describes the fitted spatial basis.
type BasisSummary struct {
	Components        int       `json:"components"`
	ExplainedVariance []float64 `json:"explained_variance"`
	Cumulative        float64   `json:"cumulative"`
	Threshold         float64   `json:"threshold"`
}

// ModelSummary describes the fitted regression.
type ModelSummary struct {
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	Score        float64   `json:"r2"`
	Samples      int       `json:"samples"`
}

// ValidationSummary reports errors on held-out observations.
type ValidationSummary struct {
	RMSE float64 `json:"rmse"`
	Bias float64 `json:"bias"`
	N    int     `json:"n"`
}

// ReconstructionResult contains the reconstruction outputs.
type ReconstructionResult struct {
	RunID            string             `json:"run_id"`
	DesignValue      string             `json:"design_value"`
	Method           string             `json:"method"`
	Grid             GridInfo           `json:"grid"`
	Basis            BasisSummary       `json:"basis"`
	WeightedVariance float64            `json:"weighted_variance"`
	Model            ModelSummary       `json:"model"`
	Matches          []Match            `json:"matches"`
	Warnings         int                `json:"warnings"`
	Validation       *ValidationSummary `json:"validation,omitempty"`
	// PseudoMember is the member pseudo-observations were drawn from, or -1.
	PseudoMember int `json:"pseudo_member"`

	// Field is the reconstructed design value; NaN outside the validity mask.
	Field *domain.GridField `json:"-"`
}

// ReconstructionUseCase orchestrates design-value reconstruction.
type ReconstructionUseCase struct {
	ensembles    store.EnsembleLoader
	masks        store.MaskLoader        // Optional.
	observations store.ObservationLoader // Optional.
	pole         crs.RotatedPole
	defaults     Options

	Log logrus.FieldLogger
}

// NewReconstructionUseCase creates a new reconstruction use case. masks and
// observations may be nil.
func NewReconstructionUseCase(ensembles store.EnsembleLoader, masks store.MaskLoader, observations store.ObservationLoader,
	pole crs.RotatedPole, defaults Options, log logrus.FieldLogger) *ReconstructionUseCase {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &ReconstructionUseCase{
		ensembles:    ensembles,
		masks:        masks,
		observations: observations,
		pole:         pole,
		defaults:     defaults,
		Log:          log,
	}
}

// Defaults returns the options requests start from.
func (uc *ReconstructionUseCase) Defaults() Options {
	o := uc.defaults
	o.RequiredKeys = append([]string(nil), o.RequiredKeys...)
	return o
}

// Pole returns the rotated pole of the ensemble grid.
func (uc *ReconstructionUseCase) Pole() crs.RotatedPole {
	return uc.pole
}

// analysis is a loaded, optionally regridded and masked ensemble.
type analysis struct {
	cube *domain.EnsembleCube
	mask domain.ValidityMask
	mean *mat.Dense
}

// prepare loads the ensemble, applies the external mask, regrids and derives
// the validity mask and ensemble mean.
func (uc *ReconstructionUseCase) prepare(opts Options, log logrus.FieldLogger) (*analysis, error) {
	cube, err := uc.ensembles.Load(opts.DesignValue, opts.RequiredKeys)
	if err != nil {
		return nil, fmt.Errorf("failed to load ensemble %s: %w", opts.DesignValue, err)
	}
	n, rows, cols := cube.Size()
	log.WithFields(logrus.Fields{"stage": "load", "members": n, "rows": rows, "cols": cols}).Info("Loaded ensemble")

	// The external mask is defined on the native grid, so it is applied
	// before regridding.
	if uc.masks != nil {
		ext, err := uc.masks.LoadMask(rows, cols)
		if err != nil {
			return nil, fmt.Errorf("failed to load mask: %w", err)
		}
		if err := ext.Validate(rows, cols); err != nil {
			return nil, err
		}
		keep, err := domain.MaskFromCube(cube).And(ext)
		if err != nil {
			return nil, err
		}
		cube = applyMask(cube, keep)
		log.WithFields(logrus.Fields{
			"stage":    "mask",
			"external": ext.Count(),
			"valid":    keep.Count(),
		}).Debug("Applied external mask")
	}

	if opts.ResolutionFactor > 1 {
		if opts.Coarsen {
			cube, err = regrid.Coarsen(cube, opts.DesignValue, opts.ResolutionFactor, opts.RequiredKeys)
		} else {
			cube, err = regrid.Regrid(cube, opts.DesignValue, opts.ResolutionFactor, opts.RequiredKeys)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to regrid: %w", err)
		}
		_, rows, cols = cube.Size()
		log.WithFields(logrus.Fields{
			"stage":   "regrid",
			"factor":  opts.ResolutionFactor,
			"coarsen": opts.Coarsen,
			"rows":    rows,
			"cols":    cols,
		}).Info("Regridded ensemble")
	}

	mask := domain.MaskFromCube(cube)
	if mask.Count() == 0 {
		return nil, fmt.Errorf("%w: no cell is finite in every member", domain.ErrInsufficientData)
	}
	log.WithFields(logrus.Fields{"stage": "mask", "valid": mask.Count(), "cells": rows * cols}).Info("Derived validity mask")

	return &analysis{cube: cube, mask: mask, mean: cube.Mean().Values}, nil
}

// Execute performs the reconstruction.
//
//nolint:gocyclo // One pass over the pipeline stages.
func (uc *ReconstructionUseCase) Execute(req ReconstructionRequest) (*ReconstructionResult, error) {
	opts := req.Options
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	runID := uuid.NewString()
	log := uc.Log.WithFields(logrus.Fields{"run_id": runID, "design_value": opts.DesignValue})

	a, err := uc.prepare(opts, log)
	if err != nil {
		return nil, err
	}
	cube, mask := a.cube, a.mask
	n, rows, cols := cube.Size()

	anomaly, err := aggregate.EnsembleMean(cube)
	if err != nil {
		return nil, err
	}
	var variance float64
	if w, err := aggregate.WeightMatrix(cube); err != nil {
		log.WithError(err).Warn("Skipping area-weighted variance")
	} else {
		variance = w.Variance()
	}

	reducer, err := basis.ForMethod(opts.Method, log)
	if err != nil {
		return nil, err
	}
	b, err := basis.FitMasked(reducer, anomaly, mask, opts.Threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to fit spatial basis: %w", err)
	}
	log.WithFields(logrus.Fields{
		"stage":      "basis",
		"components": b.Len(),
		"cumulative": b.CumulativeVariance(),
	}).Info("Fitted spatial basis")

	rng := rand.New(rand.NewSource(opts.Seed)) //nolint:gosec // Reproducible sampling, not security.
	obs, member, err := uc.observationsFor(req, cube, mask, rng)
	if err != nil {
		return nil, err
	}
	fitObs, heldOut := obs, domain.ObservationSet(nil)
	if opts.SampleFraction < 1 {
		if fitObs, heldOut, err = sample.Observations(rng, obs, opts.SampleFraction); err != nil {
			return nil, fmt.Errorf("failed to sample observations: %w", err)
		}
	}

	var warnings int
	matcher := interp.NewMatcher(log)
	matcher.SearchRadius = opts.SearchRadius
	matcher.OnWarning = func(w domain.RangeWarning) {
		warnings++
		log.WithFields(logrus.Fields{
			"axis":  w.Axis,
			"value": w.Value,
			"min":   w.Min,
			"max":   w.Max,
			"index": w.Index,
		}).Warn("Observation outside the ensemble grid")
	}

	matches, err := MatchObservations(cube, a.mean, mask, fitObs, uc.pole, matcher)
	if err != nil {
		return nil, fmt.Errorf("failed to match observations: %w", err)
	}
	log.WithFields(logrus.Fields{"stage": "match", "observations": len(matches), "warnings": warnings}).Info("Matched observations")

	loadings := b.Loadings()
	rowOf := make(map[int]int, len(b.Cells))
	for r, c := range b.Cells {
		rowOf[c] = r
	}
	features := func(ms []Match) *mat.Dense {
		out := mat.NewDense(len(ms), b.Len(), nil)
		for k, m := range ms {
			out.SetRow(k, loadings.RawRowView(rowOf[m.Row*cols+m.Col]))
		}
		return out
	}

	model, err := regress.Fit(features(matches), fitObs.Values())
	if err != nil {
		return nil, fmt.Errorf("failed to fit regression: %w", err)
	}
	log.WithFields(logrus.Fields{"stage": "fit", "r2": model.Score, "samples": model.Samples}).Info("Fitted regression")

	predicted, err := regress.Predict(model, loadings)
	if err != nil {
		return nil, err
	}
	values := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			values.Set(i, j, math.NaN())
		}
	}
	for r, c := range b.Cells {
		values.Set(c/cols, c%cols, predicted[r])
	}
	log.WithFields(logrus.Fields{"stage": "predict", "cells": len(predicted)}).Info("Reconstructed field")

	result := &ReconstructionResult{
		RunID:       runID,
		DesignValue: opts.DesignValue,
		Method:      opts.Method.String(),
		Grid: GridInfo{
			Members:    n,
			Rows:       rows,
			Cols:       cols,
			ValidCells: mask.Count(),
		},
		Basis: BasisSummary{
			Components:        b.Len(),
			ExplainedVariance: b.ExplainedVariance,
			Cumulative:        b.CumulativeVariance(),
			Threshold:         b.Threshold,
		},
		WeightedVariance: variance,
		Model: ModelSummary{
			Intercept:    model.Intercept,
			Coefficients: model.Coefficients,
			Score:        model.Score,
			Samples:      model.Samples,
		},
		Matches:      matches,
		PseudoMember: member,
		Field: &domain.GridField{
			Name:   opts.DesignValue + "_reconstructed",
			Values: values,
			Lat:    cube.Lat,
			Lon:    cube.Lon,
			RLat:   cube.RLat,
			RLon:   cube.RLon,
		},
	}

	if len(heldOut) > 0 {
		held, err := MatchObservations(cube, a.mean, mask, heldOut, uc.pole, matcher)
		if err != nil {
			return nil, fmt.Errorf("failed to match held-out observations: %w", err)
		}
		est, err := regress.Predict(model, features(held))
		if err != nil {
			return nil, err
		}
		e, err := regress.Compare(est, heldOut.Values())
		if err != nil {
			return nil, err
		}
		result.Validation = &ValidationSummary{RMSE: e.RMSE, Bias: e.Bias, N: e.N}
		log.WithFields(logrus.Fields{"stage": "validate", "rmse": e.RMSE, "bias": e.Bias, "n": e.N}).Info("Validated on held-out observations")
	}
	result.Warnings = warnings

	return result, nil
}

// observationsFor resolves the observations of a request. It returns the
// pseudo-observation member, or -1.
func (uc *ReconstructionUseCase) observationsFor(req ReconstructionRequest, cube *domain.EnsembleCube,
	mask domain.ValidityMask, rng *rand.Rand) (domain.ObservationSet, int, error) {
	switch {
	case len(req.Observations) > 0:
		return req.Observations, -1, nil
	case req.PseudoFraction > 0:
		obs, member, err := sample.PseudoObservations(rng, cube, mask, req.PseudoFraction)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to sample pseudo-observations: %w", err)
		}
		return obs, member, nil
	case uc.observations != nil:
		obs, err := uc.observations.LoadObservations()
		if err != nil {
			return nil, 0, fmt.Errorf("failed to load observations: %w", err)
		}
		return obs, -1, nil
	default:
		return nil, 0, fmt.Errorf("%w: no observations supplied or configured", domain.ErrInvalidInput)
	}
}

// applyMask returns a copy of cube with cells outside mask set to NaN.
func applyMask(cube *domain.EnsembleCube, mask domain.ValidityMask) *domain.EnsembleCube {
	out := *cube
	out.Members = make([]*mat.Dense, len(cube.Members))
	for m, member := range cube.Members {
		d := mat.DenseCopyOf(member)
		d.Apply(func(i, j int, v float64) float64 {
			if !mask.At(i, j) {
				return math.NaN()
			}
			return v
		}, d)
		out.Members[m] = d
	}
	return &out
}
