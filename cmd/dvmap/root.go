package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go.ngs.io/dvmap/internal/adapter/store"
	"go.ngs.io/dvmap/internal/adapter/store/csv"
	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/adapter/store/mask"
	"go.ngs.io/dvmap/internal/config"
	"go.ngs.io/dvmap/internal/usecase"
)

const version = "0.1.0"

var (
	configFile string
	verbose    bool

	// Config holds the configuration shared by all subcommands.
	Config *config.Config

	log = logrus.New()
)

// RootCmd is the main command.
var RootCmd = &cobra.Command{
	Use:   "dvmap",
	Short: "Reconstruct climate design value fields.",
	Long: `Reconstruct climate design value fields from a rotated-pole model
ensemble and station observations using a reduced spatial basis.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return Startup(configFile)
	},
}

// Startup reads the configuration file and sets up logging.
func Startup(configFile string) error {
	log.SetOutput(RootCmd.ErrOrStderr())
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	var err error
	Config, err = config.Load(configFile)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"config":       configFile,
		"ensemble":     Config.EnsemblePath,
		"design_value": Config.DesignValue,
	}).Debug("Loaded configuration")
	return nil
}

func init() {
	RootCmd.AddCommand(versionCmd)

	RootCmd.PersistentFlags().StringVar(&configFile, "config", "", "configuration file location (default: $DVMAP_CONFIG)")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug messages")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of dvmap",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dvmap v%s\n", version)
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return nil
	},
}

// newUseCase wires the stores and rotated pole named in cfg into a
// reconstruction use case.
func newUseCase(cfg *config.Config) (*usecase.ReconstructionUseCase, error) {
	pole, err := cfg.Pole()
	if err != nil {
		return nil, err
	}
	var masks store.MaskLoader
	if cfg.MaskPath != "" {
		s := mask.NewLocalStore(cfg.MaskPath, cfg.MaskVariable, log)
		s.Threshold = cfg.MaskThreshold
		masks = s
	}
	var observations store.ObservationLoader
	if cfg.ObservationsPath != "" {
		observations = csv.NewObservationStore(cfg.ObservationsPath)
	}
	return usecase.NewReconstructionUseCase(ensemble.NewStore(cfg.EnsemblePath), masks, observations,
		pole, usecase.OptionsFromConfig(cfg), log), nil
}
