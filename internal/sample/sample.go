// Package sample draws reproducible random subsets of observations and grid
// cells. Every function takes its random source from the caller.
package sample

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"go.ngs.io/dvmap/internal/domain"
)

// Count returns how many of n items a fraction selects, rounded to nearest
// with halves going to the even count.
func Count(n int, frac float64) int {
	return int(math.RoundToEven(frac * float64(n)))
}

// Indices returns Count(n, frac) distinct indices in [0, n), sorted ascending.
func Indices(rng *rand.Rand, n int, frac float64) ([]int, error) {
	if rng == nil {
		return nil, fmt.Errorf("%w: random source is required", domain.ErrInvalidInput)
	}
	if !(frac > 0 && frac <= 1) {
		return nil, fmt.Errorf("%w: sample fraction %v not in (0, 1]", domain.ErrInvalidInput, frac)
	}
	k := Count(n, frac)
	if k == 0 {
		return nil, fmt.Errorf("%w: fraction %v of %d items selects nothing", domain.ErrInsufficientData, frac, n)
	}
	idx := rng.Perm(n)[:k]
	sort.Ints(idx)
	return idx, nil
}

// Observations splits obs into a sampled subset and the held-out remainder.
// Both keep the input order.
func Observations(rng *rand.Rand, obs domain.ObservationSet, frac float64) (sampled, rest domain.ObservationSet, err error) {
	idx, err := Indices(rng, len(obs), frac)
	if err != nil {
		return nil, nil, err
	}
	picked := make([]bool, len(obs))
	for _, i := range idx {
		picked[i] = true
	}
	sampled = make(domain.ObservationSet, 0, len(idx))
	rest = make(domain.ObservationSet, 0, len(obs)-len(idx))
	for i, o := range obs {
		if picked[i] {
			sampled = append(sampled, o)
		} else {
			rest = append(rest, o)
		}
	}
	return sampled, rest, nil
}

// PseudoObservations samples a fraction of the valid cells of one randomly
// chosen ensemble member and reports them as observations at the cells'
// geographic coordinates. It returns the chosen member index.
func PseudoObservations(rng *rand.Rand, cube *domain.EnsembleCube, mask domain.ValidityMask, frac float64) (domain.ObservationSet, int, error) {
	if rng == nil {
		return nil, 0, fmt.Errorf("%w: random source is required", domain.ErrInvalidInput)
	}
	if cube == nil {
		return nil, 0, fmt.Errorf("%w: ensemble cube is nil", domain.ErrInvalidInput)
	}
	if err := cube.Validate(); err != nil {
		return nil, 0, err
	}
	_, rows, cols := cube.Size()
	if err := mask.Validate(rows, cols); err != nil {
		return nil, 0, err
	}

	member := rng.Intn(len(cube.Members))
	field := cube.Member(member)
	values := field.Values

	var candidates []int
	for _, c := range mask.Indices() {
		if domain.IsFinite(values.At(c/cols, c%cols)) {
			candidates = append(candidates, c)
		}
	}
	idx, err := Indices(rng, len(candidates), frac)
	if err != nil {
		return nil, 0, err
	}

	obs := make(domain.ObservationSet, 0, len(idx))
	for _, k := range idx {
		c := candidates[k]
		i, j := c/cols, c%cols
		obs = append(obs, domain.Observation{
			Station: fmt.Sprintf("pseudo-%d-%d", i, j),
			Lon:     field.Lon.At(i, j),
			Lat:     field.Lat.At(i, j),
			Value:   values.At(i, j),
		})
	}
	return obs, member, nil
}
