// Package store defines the data sources the reconstruction pipeline reads from.
package store

import "go.ngs.io/dvmap/internal/domain"

// EnsembleLoader loads an ensemble cube for a design value.
type EnsembleLoader interface {
	// Load reads the cube for designValue, failing with domain.ErrMissingKey
	// when any of required or the design value itself is not declared.
	Load(designValue string, required []string) (*domain.EnsembleCube, error)
}

// MaskLoader loads an external validity mask, e.g. a land mask.
type MaskLoader interface {
	// LoadMask returns the mask for a rows x cols grid.
	LoadMask(rows, cols int) (domain.ValidityMask, error)

	// Close releases any resources held by the loader.
	Close() error
}

// ObservationLoader loads point observations.
type ObservationLoader interface {
	LoadObservations() (domain.ObservationSet, error)
}
