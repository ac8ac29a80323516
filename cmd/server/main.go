// Package main provides the design-value reconstruction HTTP server.
package main

import (
	"flag"
	"fmt"

	"github.com/sirupsen/logrus"

	"go.ngs.io/dvmap/internal/adapter/store"
	"go.ngs.io/dvmap/internal/adapter/store/csv"
	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/adapter/store/mask"
	"go.ngs.io/dvmap/internal/config"
	httpHandler "go.ngs.io/dvmap/internal/http"
	"go.ngs.io/dvmap/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	configPath := flag.String("config", "", "TOML configuration file (default: $DVMAP_CONFIG)")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("dvmap-server version %s\n", version)
		return
	}

	log := logrus.StandardLogger()

	// Load configuration from file and environment.
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.WithError(err).Fatal("Failed to load configuration")
	}

	log.Info("Starting design value reconstruction server...")
	log.WithFields(logrus.Fields{
		"port":         cfg.Port,
		"ensemble":     cfg.EnsemblePath,
		"design_value": cfg.DesignValue,
		"method":       cfg.Method.String(),
	}).Info("Configuration")

	pole, err := cfg.Pole()
	if err != nil {
		log.WithError(err).Fatal("Invalid rotated pole")
	}
	log.WithFields(logrus.Fields{
		"pole_lon": pole.PoleLongitude,
		"pole_lat": pole.PoleLatitude,
	}).Info("Rotated pole")

	// Initialize stores.
	var ensembles store.EnsembleLoader = ensemble.NewStore(cfg.EnsemblePath)

	// Initialize mask store (optional).
	var masks store.MaskLoader
	if cfg.MaskPath != "" {
		maskStore := mask.NewLocalStore(cfg.MaskPath, cfg.MaskVariable, log)
		maskStore.Threshold = cfg.MaskThreshold
		masks = maskStore
		defer func() { _ = masks.Close() }()
		log.WithField("path", cfg.MaskPath).Info("Mask store initialized")
	} else {
		log.Info("Mask store disabled (no mask path configured)")
	}

	// Initialize observation store (optional).
	var observations store.ObservationLoader
	if cfg.ObservationsPath != "" {
		observations = csv.NewObservationStore(cfg.ObservationsPath)
		log.WithField("path", cfg.ObservationsPath).Info("Observation store initialized")
	}

	// Initialize use case.
	reconstructionUC := usecase.NewReconstructionUseCase(ensembles, masks, observations,
		pole, usecase.OptionsFromConfig(cfg), log)

	// Setup router.
	router := httpHandler.SetupRouter(reconstructionUC, cfg.CORSAllowedOrigins)

	// Start server.
	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Infof("Server listening on %s", addr)
	log.Infof("Health check: http://localhost:%s/health", cfg.Port)
	log.Info("API endpoints:")
	log.Info("  - GET  /v1/transform")
	log.Info("  - GET  /v1/ensemble/nearest")
	log.Info("  - POST /v1/reconstructions")

	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("Failed to start server")
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Design Value Reconstruction Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  dvmap-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println("  -config        TOML configuration file")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  DVMAP_CONFIG            TOML configuration file (when -config is not set)")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  ENSEMBLE_PATH           Ensemble NetCDF file (default: ./data/ensemble.nc)")
	fmt.Println("  DESIGN_VALUE            Design value variable in the ensemble file")
	fmt.Println("  ROTATED_POLE            proj4 ob_tran definition of the grid (default: CanRCM4)")
	fmt.Println("  MASK_PATH               Land mask NetCDF file (optional)")
	fmt.Println("  OBSERVATIONS_PATH       Station observations CSV (optional)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Start server with default settings")
	fmt.Println("  DESIGN_VALUE=hdd dvmap-server")
	fmt.Println()
	fmt.Println("  # Start server on custom port")
	fmt.Println("  PORT=3000 DESIGN_VALUE=hdd dvmap-server")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET  /health                  Health check")
	fmt.Println("  GET  /v1/transform            Geographic <-> rotated-pole coordinates")
	fmt.Println("  GET  /v1/ensemble/nearest     Nearest valid ensemble-mean cell")
	fmt.Println("  POST /v1/reconstructions      Reconstruct a design value field")
	fmt.Println()
}
