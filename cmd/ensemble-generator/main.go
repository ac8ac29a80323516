// Package main generates a synthetic design-value ensemble on a rotated-pole grid.
package main

import (
	"flag"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/adapter/store/csv"
	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/adapter/store/mask"
	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/sample"
)

// RotatedGrid defines the rotated-pole bounds and resolution.
type RotatedGrid struct {
	RLatMin    float64
	RLatMax    float64
	RLonMin    float64
	RLonMax    float64
	Resolution float64 // Rotated degrees.
}

func main() {
	// Command line flags.
	out := flag.String("out", "./data/ensemble.nc", "Output ensemble NetCDF file")
	maskOut := flag.String("mask-out", "", "Optional land mask NetCDF file")
	obsOut := flag.String("obs-out", "", "Optional pseudo-observation CSV file")
	obsFraction := flag.Float64("obs-fraction", 0.05, "Fraction of valid cells reported as pseudo-observations")
	designValue := flag.String("design-value", "hdd", "Design value variable name")
	members := flag.Int("members", 35, "Number of ensemble members")
	region := flag.String("region", "canada", "Region: canada or custom")
	rlatMin := flag.Float64("rlat-min", -10.0, "Minimum rotated latitude (custom region)")
	rlatMax := flag.Float64("rlat-max", 10.0, "Maximum rotated latitude (custom region)")
	rlonMin := flag.Float64("rlon-min", -15.0, "Minimum rotated longitude (custom region)")
	rlonMax := flag.Float64("rlon-max", 15.0, "Maximum rotated longitude (custom region)")
	resolution := flag.Float64("resolution", 0.44, "Grid resolution in rotated degrees")
	seed := flag.Int64("seed", 1, "Random seed")
	poleDef := flag.String("pole", crs.CanRCM4Proj4, "proj4 ob_tran definition of the rotated pole")
	noise := flag.Float64("noise", 0.05, "Standard deviation of per-cell member noise, relative to the base field")

	flag.Parse()

	log := logrus.StandardLogger()

	// Define grid based on region.
	var grid RotatedGrid
	switch *region {
	case "canada":
		grid = RotatedGrid{RLatMin: -20.0, RLatMax: 20.0, RLonMin: -30.0, RLonMax: 30.0, Resolution: *resolution}
	case "custom":
		grid = RotatedGrid{RLatMin: *rlatMin, RLatMax: *rlatMax, RLonMin: *rlonMin, RLonMax: *rlonMax, Resolution: *resolution}
	default:
		log.Fatalf("Unknown region: %s (use canada or custom)", *region)
	}
	if *members < 2 {
		log.Fatalf("At least 2 members are required, got %d", *members)
	}

	pole, err := crs.ParseRotatedPole(*poleDef)
	if err != nil {
		log.WithError(err).Fatal("Invalid rotated pole")
	}

	rng := rand.New(rand.NewSource(*seed)) //nolint:gosec // Reproducible synthetic data.
	cube, land, err := generate(grid, pole, *designValue, *members, *noise, rng)
	if err != nil {
		log.WithError(err).Fatal("Failed to generate ensemble")
	}
	n, rows, cols := cube.Size()

	if err := ensemble.Write(*out, cube); err != nil {
		log.WithError(err).Fatal("Failed to write ensemble")
	}
	log.WithFields(logrus.Fields{
		"path":    *out,
		"members": n,
		"rows":    rows,
		"cols":    cols,
	}).Info("Generated ensemble")

	if *maskOut != "" {
		if err := mask.Write(*maskOut, mask.DefaultVariable, land); err != nil {
			log.WithError(err).Fatal("Failed to write mask")
		}
		log.WithField("path", *maskOut).Info("Generated land mask")
	}

	if *obsOut != "" {
		valid := domain.MaskFromField(land, func(v float64) bool { return v > 0 })
		obs, member, err := sample.PseudoObservations(rng, cube, valid, *obsFraction)
		if err != nil {
			log.WithError(err).Fatal("Failed to sample pseudo-observations")
		}
		//nolint:gosec // G301: Output directory is chosen by the operator.
		if err := os.MkdirAll(filepath.Dir(*obsOut), 0o755); err != nil {
			log.WithError(err).Fatal("Failed to create output directory")
		}
		//nolint:gosec // G304: Output path is chosen by the operator.
		f, err := os.Create(*obsOut)
		if err != nil {
			log.WithError(err).Fatal("Failed to create observations file")
		}
		if err := csv.WriteObservations(f, obs); err != nil {
			_ = f.Close()
			log.WithError(err).Fatal("Failed to write observations")
		}
		if err := f.Close(); err != nil {
			log.WithError(err).Fatal("Failed to close observations file")
		}
		log.WithFields(logrus.Fields{
			"path":         *obsOut,
			"observations": len(obs),
			"member":       member,
		}).Info("Generated pseudo-observations")
	}
}

// generate builds an ensemble whose members perturb a smooth base field by
// two large-scale modes and white noise. Cells outside a synthetic coastline
// are NaN in every member and zero in the land fraction.
func generate(grid RotatedGrid, pole crs.RotatedPole, designValue string, members int, noise float64, rng *rand.Rand) (*domain.EnsembleCube, *mat.Dense, error) {
	nLat := int(math.Round((grid.RLatMax-grid.RLatMin)/grid.Resolution)) + 1
	nLon := int(math.Round((grid.RLonMax-grid.RLonMin)/grid.Resolution)) + 1

	rlat := make([]float64, nLat)
	for i := range rlat {
		rlat[i] = grid.RLatMin + float64(i)*grid.Resolution
	}
	rlon := make([]float64, nLon)
	for j := range rlon {
		rlon[j] = grid.RLonMin + float64(j)*grid.Resolution
	}

	xs, ys := crs.FlattenCoords(rlon, rlat)
	lon, lat, err := crs.ToGeographic(xs, ys, pole)
	if err != nil {
		return nil, nil, err
	}

	land := mat.NewDense(nLat, nLon, nil)
	base := mat.NewDense(nLat, nLon, nil)
	modeA := mat.NewDense(nLat, nLon, nil)
	modeB := mat.NewDense(nLat, nLon, nil)
	for i := 0; i < nLat; i++ {
		for j := 0; j < nLon; j++ {
			k := i*nLon + j
			// Heating degree days grow poleward and inland.
			base.Set(i, j, 3000+60*(lat[k]-40)+8*math.Abs(lon[k]+100))
			modeA.Set(i, j, math.Sin(rlat[i]*math.Pi/(grid.RLatMax-grid.RLatMin)))
			modeB.Set(i, j, math.Cos(rlon[j]*math.Pi/(grid.RLonMax-grid.RLonMin)))

			// Synthetic coastline: an ellipse in rotated coordinates.
			u := rlon[j] / (0.45 * (grid.RLonMax - grid.RLonMin))
			v := rlat[i] / (0.45 * (grid.RLatMax - grid.RLatMin))
			if u*u+v*v <= 1 {
				land.Set(i, j, 100)
			}
		}
	}

	cube := &domain.EnsembleCube{
		DesignValue: designValue,
		Lat:         mat.NewDense(nLat, nLon, lat),
		Lon:         mat.NewDense(nLat, nLon, lon),
		RLat:        rlat,
		RLon:        rlon,
	}
	for m := 0; m < members; m++ {
		a := 300 * rng.NormFloat64()
		b := 150 * rng.NormFloat64()
		d := mat.NewDense(nLat, nLon, nil)
		d.Apply(func(i, j int, v float64) float64 {
			if land.At(i, j) == 0 {
				return math.NaN()
			}
			return v*(1+noise*rng.NormFloat64()) + a*modeA.At(i, j) + b*modeB.At(i, j)
		}, base)
		cube.Members = append(cube.Members, d)
	}
	return cube, land, nil
}
