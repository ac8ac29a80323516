package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/domain"
)

var inverse bool

func init() {
	RootCmd.AddCommand(transformCmd)
	transformCmd.Flags().BoolVar(&inverse, "inverse", false, "convert rotated (rlon, rlat) to geographic (lon, lat)")
}

// transformCmd converts one point between geographic and the configured
// rotated-pole coordinates.
var transformCmd = &cobra.Command{
	Use:   "transform [--] X Y",
	Short: "Convert a point between geographic and rotated-pole coordinates",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		x, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return fmt.Errorf("%w: x %q: %v", domain.ErrInvalidInput, args[0], err)
		}
		y, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return fmt.Errorf("%w: y %q: %v", domain.ErrInvalidInput, args[1], err)
		}

		pole, err := Config.Pole()
		if err != nil {
			return err
		}
		var outX, outY []float64
		if inverse {
			outX, outY, err = crs.ToGeographic([]float64{x}, []float64{y}, pole)
		} else {
			outX, outY, err = crs.ToRotated([]float64{x}, []float64{y}, pole)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%.6f %.6f\n", outX[0], outY[0])
		return nil
	},
}
