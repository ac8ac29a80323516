// Package config holds the reconstruction settings shared by the server and CLI.
//
// Settings come from an optional TOML file and are then overridden by
// environment variables.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/domain"
)

// Config is the full set of reconstruction options.
type Config struct {
	Method                     domain.Method `toml:"method"`
	DesignValue                string        `toml:"design_value"`
	RequiredKeys               []string      `toml:"required_keys"`
	ResolutionFactor           int           `toml:"resolution_factor"`
	Coarsen                    bool          `toml:"coarsen"`
	ExplainedVarianceThreshold float64       `toml:"explained_variance_threshold"`
	SampleFraction             float64       `toml:"sample_fraction"`
	Seed                       int64         `toml:"seed"`
	SearchRadius               int           `toml:"search_radius"`

	// RotatedPole is the proj4 ob_tran definition of the ensemble grid.
	RotatedPole string `toml:"rotated_pole"`

	EnsemblePath     string  `toml:"ensemble_path"`
	MaskPath         string  `toml:"mask_path"`
	MaskVariable     string  `toml:"mask_variable"`
	MaskThreshold    float64 `toml:"mask_threshold"`
	ObservationsPath string  `toml:"observations_path"`

	Port               string   `toml:"port"`
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Method:                     domain.MethodBasisRegression,
		RequiredKeys:               domain.DefaultRequiredKeys(),
		ResolutionFactor:           1,
		ExplainedVarianceThreshold: 0.95,
		SampleFraction:             1.0,
		RotatedPole:                crs.CanRCM4Proj4,
		EnsemblePath:               "./data/ensemble.nc",
		Port:                       "8080",
	}
}

// Load reads the TOML file at path (or $DVMAP_CONFIG when path is empty),
// applies environment overrides and validates the result. A missing path
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("DVMAP_CONFIG")
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides paths and server settings from the environment.
func (c *Config) ApplyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.EnsemblePath = getEnv("ENSEMBLE_PATH", c.EnsemblePath)
	c.MaskPath = getEnv("MASK_PATH", c.MaskPath)
	c.ObservationsPath = getEnv("OBSERVATIONS_PATH", c.ObservationsPath)
	c.DesignValue = getEnv("DESIGN_VALUE", c.DesignValue)
	c.RotatedPole = getEnv("ROTATED_POLE", c.RotatedPole)
	if origins := getEnv("CORS_ALLOWED_ORIGINS", ""); origins != "" {
		c.CORSAllowedOrigins = splitList(origins)
	}
}

// Validate rejects out-of-range options with domain.ErrInvalidInput.
func (c *Config) Validate() error {
	switch {
	case c.ResolutionFactor < 1:
		return fmt.Errorf("%w: resolution_factor must be >= 1, got %d", domain.ErrInvalidInput, c.ResolutionFactor)
	case !(c.ExplainedVarianceThreshold > 0 && c.ExplainedVarianceThreshold <= 1):
		return fmt.Errorf("%w: explained_variance_threshold must be in (0, 1], got %v",
			domain.ErrInvalidInput, c.ExplainedVarianceThreshold)
	case !(c.SampleFraction > 0 && c.SampleFraction <= 1):
		return fmt.Errorf("%w: sample_fraction must be in (0, 1], got %v", domain.ErrInvalidInput, c.SampleFraction)
	case c.SearchRadius < 0:
		return fmt.Errorf("%w: search_radius must be >= 0, got %d", domain.ErrInvalidInput, c.SearchRadius)
	case math.IsNaN(c.MaskThreshold):
		return fmt.Errorf("%w: mask_threshold is NaN", domain.ErrInvalidInput)
	case c.Method != domain.MethodBasisRegression && c.Method != domain.MethodSelfOrganizingMap:
		return fmt.Errorf("%w: unknown method %v", domain.ErrInvalidInput, c.Method)
	}
	if _, err := c.Pole(); err != nil {
		return fmt.Errorf("rotated_pole: %w", err)
	}
	return nil
}

// Pole parses RotatedPole.
func (c *Config) Pole() (crs.RotatedPole, error) {
	return crs.ParseRotatedPole(c.RotatedPole)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
