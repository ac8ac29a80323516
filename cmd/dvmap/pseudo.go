package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/dvmap/internal/adapter/store/csv"
	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/sample"
)

var (
	pseudoOut  string
	pseudoFrac float64
)

func init() {
	RootCmd.AddCommand(pseudoCmd)
	pseudoCmd.Flags().StringVarP(&pseudoOut, "out", "o", "", "output CSV file (default: stdout)")
	pseudoCmd.Flags().Float64Var(&pseudoFrac, "fraction", 0.05, "fraction of valid cells to sample")
}

// pseudoCmd samples pseudo-observations from a random ensemble member.
var pseudoCmd = &cobra.Command{
	Use:   "pseudo-obs",
	Short: "Sample pseudo-observations from a random ensemble member",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := Config
		cube, err := ensemble.NewStore(cfg.EnsemblePath).Load(cfg.DesignValue, cfg.RequiredKeys)
		if err != nil {
			return err
		}
		rng := rand.New(rand.NewSource(cfg.Seed)) //nolint:gosec // Reproducible sampling, not security.
		obs, member, err := sample.PseudoObservations(rng, cube, domain.MaskFromCube(cube), pseudoFrac)
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if pseudoOut != "" {
			f, err := os.Create(pseudoOut)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", pseudoOut, err)
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		if err := csv.WriteObservations(w, obs); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{"member": member, "observations": len(obs)}).Info("Sampled pseudo-observations")
		return nil
	},
}
