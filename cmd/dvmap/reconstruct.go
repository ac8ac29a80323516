package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/usecase"
)

var (
	pseudoFraction float64
	fieldOut       string
	holdOut        float64
)

func init() {
	RootCmd.AddCommand(reconstructCmd, validateCmd)

	for _, c := range []*cobra.Command{reconstructCmd, validateCmd} {
		c.Flags().Float64Var(&pseudoFraction, "pseudo", 0,
			"sample this fraction of valid cells from a random member instead of loading observations")
	}
	reconstructCmd.Flags().StringVarP(&fieldOut, "out", "o", "",
		"also save the reconstructed field as a single-member NetCDF file")
	validateCmd.Flags().Float64Var(&holdOut, "fit-fraction", 0.8, "fraction of observations used for fitting")
}

// reconstructCmd runs a reconstruction and prints its summary as JSON.
var reconstructCmd = &cobra.Command{
	Use:   "reconstruct",
	Short: "Reconstruct the design value field",
	RunE: func(cmd *cobra.Command, args []string) error {
		uc, err := newUseCase(Config)
		if err != nil {
			return err
		}
		result, err := uc.Execute(usecase.ReconstructionRequest{
			Options:        uc.Defaults(),
			PseudoFraction: pseudoFraction,
		})
		if err != nil {
			return err
		}
		if fieldOut != "" {
			if err := ensemble.WriteField(fieldOut, result.Field); err != nil {
				return err
			}
			log.WithField("path", fieldOut).Info("Saved reconstructed field")
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

// validateCmd fits on part of the observations and reports the error on the
// rest.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Report hold-out errors of a reconstruction",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !(holdOut > 0 && holdOut < 1) {
			return fmt.Errorf("%w: fit-fraction must be in (0, 1), got %v", domain.ErrInvalidInput, holdOut)
		}
		uc, err := newUseCase(Config)
		if err != nil {
			return err
		}
		opts := uc.Defaults()
		opts.SampleFraction = holdOut
		result, err := uc.Execute(usecase.ReconstructionRequest{Options: opts, PseudoFraction: pseudoFraction})
		if err != nil {
			return err
		}
		v := result.Validation
		if v == nil {
			return fmt.Errorf("%w: no observations were held out", domain.ErrInsufficientData)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "components=%d r2=%.4f n=%d rmse=%.6g bias=%.6g\n",
			result.Basis.Components, result.Model.Score, v.N, v.RMSE, v.Bias)
		return nil
	},
}
