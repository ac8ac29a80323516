package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/regrid"
)

var regridOut string

func init() {
	RootCmd.AddCommand(regridCmd)
	regridCmd.Flags().StringVarP(&regridOut, "out", "o", "regridded.nc", "output NetCDF file")
}

// regridCmd changes the resolution of the configured ensemble and saves it.
var regridCmd = &cobra.Command{
	Use:   "regrid",
	Short: "Refine or coarsen the ensemble grid",
	Long: "Refine (bilinear) or coarsen (block mean) the configured ensemble by " +
		"resolution_factor and save the result as NetCDF.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := Config
		cube, err := ensemble.NewStore(cfg.EnsemblePath).Load(cfg.DesignValue, cfg.RequiredKeys)
		if err != nil {
			return err
		}
		if cfg.Coarsen {
			cube, err = regrid.Coarsen(cube, cfg.DesignValue, cfg.ResolutionFactor, cfg.RequiredKeys)
		} else {
			cube, err = regrid.Regrid(cube, cfg.DesignValue, cfg.ResolutionFactor, cfg.RequiredKeys)
		}
		if err != nil {
			return err
		}
		if err := ensemble.Write(regridOut, cube); err != nil {
			return err
		}
		n, rows, cols := cube.Size()
		log.WithFields(logrus.Fields{
			"path":    regridOut,
			"members": n,
			"rows":    rows,
			"cols":    cols,
		}).Info("Saved regridded ensemble")
		return nil
	},
}
