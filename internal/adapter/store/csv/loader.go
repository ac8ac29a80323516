// Package csv provides CSV-based observation loading.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.ngs.io/dvmap/internal/domain"
)

// Header is the column layout of an observation file.
var Header = []string{"station", "lon", "lat", "value"}

// ObservationStore loads point observations from a CSV file.
type ObservationStore struct {
	path string
}

// NewObservationStore creates a new CSV-based observation store.
func NewObservationStore(path string) *ObservationStore {
	return &ObservationStore{
		path: path,
	}
}

// LoadObservations reads every observation in the file.
func (s *ObservationStore) LoadObservations() (domain.ObservationSet, error) {
	//nolint:gosec // G304: File path comes from configuration.
	file, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open observations file: %w", err)
	}
	defer func() { _ = file.Close() }()

	obs, err := ReadObservations(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return obs, nil
}

// ReadObservations parses observations from r. The first record must be Header.
func ReadObservations(r io.Reader) (domain.ObservationSet, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = len(Header)

	// Read header.
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", domain.ErrInvalidInput, err)
	}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) != Header[i] {
			return nil, fmt.Errorf("%w: invalid CSV header: expected column %d to be %s, got %s",
				domain.ErrInvalidInput, i, Header[i], h)
		}
	}

	// Read data rows.
	obs := make(domain.ObservationSet, 0)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read CSV record: %v", domain.ErrInvalidInput, err)
		}

		station := strings.TrimSpace(record[0])
		var vals [3]float64
		for i, col := range Header[1:] {
			v, err := strconv.ParseFloat(strings.TrimSpace(record[i+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid %s for station %s: %v", domain.ErrInvalidInput, col, station, err)
			}
			if !domain.IsFinite(v) {
				return nil, fmt.Errorf("%w: non-finite %s for station %s", domain.ErrInvalidInput, col, station)
			}
			vals[i] = v
		}
		if vals[1] < -90 || vals[1] > 90 {
			return nil, fmt.Errorf("%w: latitude %v for station %s", domain.ErrOutOfBounds, vals[1], station)
		}

		obs = append(obs, domain.Observation{
			Station: station,
			Lon:     vals[0],
			Lat:     vals[1],
			Value:   vals[2],
		})
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no observations found in CSV", domain.ErrInsufficientData)
	}
	return obs, nil
}

// WriteObservations writes obs to w with Header as the first record.
func WriteObservations(w io.Writer, obs domain.ObservationSet) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, o := range obs {
		record := []string{
			o.Station,
			strconv.FormatFloat(o.Lon, 'g', -1, 64),
			strconv.FormatFloat(o.Lat, 'g', -1, 64),
			strconv.FormatFloat(o.Value, 'g', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write observation %s: %w", o.Station, err)
		}
	}
	writer.Flush()
	return writer.Error()
}
