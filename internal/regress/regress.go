// Package regress fits and applies the linear model that maps basis
// loadings to design values.
package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go.ngs.io/dvmap/internal/domain"
)

// maxCondition is the largest design-matrix condition number accepted as full rank.
const maxCondition = 1e12

// Fit solves the ordinary least-squares problem values ≈ intercept + features·coef
// by QR decomposition. features is observations x components. The model's
// Score is R² on the fitting data.
func Fit(features mat.Matrix, values []float64) (*domain.RegressionModel, error) {
	n, k := features.Dims()
	if n != len(values) {
		return nil, fmt.Errorf("%w: %d feature rows but %d values", domain.ErrInvalidInput, n, len(values))
	}
	if k == 0 {
		return nil, fmt.Errorf("%w: no components to regress on", domain.ErrInvalidInput)
	}
	if n < k+1 {
		return nil, fmt.Errorf("%w: %d observations for %d components and an intercept",
			domain.ErrRankDeficient, n, k)
	}

	design := mat.NewDense(n, k+1, nil)
	for i := 0; i < n; i++ {
		if !domain.IsFinite(values[i]) {
			return nil, fmt.Errorf("%w: value %d is not finite", domain.ErrInvalidInput, i)
		}
		design.Set(i, 0, 1)
		for j := 0; j < k; j++ {
			v := features.At(i, j)
			if !domain.IsFinite(v) {
				return nil, fmt.Errorf("%w: feature (%d, %d) is not finite", domain.ErrInvalidInput, i, j)
			}
			design.Set(i, j+1, v)
		}
	}

	var qr mat.QR
	qr.Factorize(design)
	if cond := qr.Cond(); cond > maxCondition || math.IsNaN(cond) {
		return nil, fmt.Errorf("%w: design matrix condition number %.3g", domain.ErrRankDeficient, cond)
	}

	var w mat.Dense
	if err := qr.SolveTo(&w, false, mat.NewDense(n, 1, values)); err != nil {
		var c mat.Condition
		if errors.As(err, &c) {
			return nil, fmt.Errorf("%w: %v", domain.ErrRankDeficient, err)
		}
		return nil, fmt.Errorf("solve least squares: %w", err)
	}

	model := &domain.RegressionModel{
		Intercept:    w.At(0, 0),
		Coefficients: make([]float64, k),
		Samples:      n,
	}
	for j := 0; j < k; j++ {
		model.Coefficients[j] = w.At(j+1, 0)
	}

	fitted, err := Predict(model, features)
	if err != nil {
		return nil, err
	}
	model.Score = RSquared(fitted, values)
	return model, nil
}

// Predict applies the model to every row of features.
func Predict(model *domain.RegressionModel, features mat.Matrix) ([]float64, error) {
	if model == nil {
		return nil, fmt.Errorf("%w: regression model is nil", domain.ErrInvalidInput)
	}
	n, k := features.Dims()
	if k != len(model.Coefficients) {
		return nil, fmt.Errorf("%w: model has %d coefficients, features have %d columns",
			domain.ErrDimensionMismatch, len(model.Coefficients), k)
	}
	if n == 0 || k == 0 {
		pred := make([]float64, n)
		floats.AddConst(model.Intercept, pred)
		return pred, nil
	}
	coef := mat.NewVecDense(k, append([]float64(nil), model.Coefficients...))
	out := mat.NewVecDense(n, nil)
	out.MulVec(features, coef)

	pred := make([]float64, n)
	floats.AddConst(model.Intercept, floats.AddTo(pred, pred, out.RawVector().Data))
	return pred, nil
}

// RSquared returns the coefficient of determination of estimates against values.
// A constant target scores 1 when reproduced exactly and 0 otherwise.
func RSquared(estimates, values []float64) float64 {
	mean := stat.Mean(values, nil)
	var total, residual float64
	for i, v := range values {
		total += (v - mean) * (v - mean)
		residual += (v - estimates[i]) * (v - estimates[i])
	}
	if total == 0 {
		if residual == 0 {
			return 1
		}
		return 0
	}
	return stat.RSquaredFrom(estimates, values, nil)
}

// Errors summarises predictions against held-out values.
type Errors struct {
	RMSE float64
	Bias float64 // Mean of predicted minus observed.
	N    int
}

// Compare computes the root-mean-square error and bias of predicted against observed.
func Compare(predicted, observed []float64) (Errors, error) {
	if len(predicted) != len(observed) {
		return Errors{}, fmt.Errorf("%w: %d predictions for %d observations",
			domain.ErrInvalidInput, len(predicted), len(observed))
	}
	if len(observed) == 0 {
		return Errors{}, fmt.Errorf("%w: nothing to compare", domain.ErrInsufficientData)
	}
	diff := make([]float64, len(observed))
	floats.SubTo(diff, predicted, observed)
	return Errors{
		RMSE: math.Sqrt(floats.Dot(diff, diff) / float64(len(diff))),
		Bias: stat.Mean(diff, nil),
		N:    len(diff),
	}, nil
}
