package csv

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.ngs.io/dvmap/internal/domain"
)

func TestReadObservations(t *testing.T) {
	in := "station, lon, lat, value\n" +
		"VANCOUVER, -123.1, 49.25, 2.4\n" +
		"\"St. John's\", -52.7, 47.56, 3.1\n"

	obs, err := ReadObservations(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadObservations: %v", err)
	}
	if len(obs) != 2 {
		t.Fatalf("got %d observations, want 2", len(obs))
	}
	want := domain.Observation{Station: "St. John's", Lon: -52.7, Lat: 47.56, Value: 3.1}
	if obs[1] != want {
		t.Errorf("obs[1] = %+v, want %+v", obs[1], want)
	}
}

func TestReadObservations_Errors(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr error
	}{
		{"empty", "", domain.ErrInvalidInput},
		{"bad header", "name,lon,lat,value\na,1,2,3\n", domain.ErrInvalidInput},
		{"short header", "station,lon,lat\n", domain.ErrInvalidInput},
		{"short record", "station,lon,lat,value\na,1,2\n", domain.ErrInvalidInput},
		{"bad number", "station,lon,lat,value\na,x,2,3\n", domain.ErrInvalidInput},
		{"nan value", "station,lon,lat,value\na,1,2,NaN\n", domain.ErrInvalidInput},
		{"latitude range", "station,lon,lat,value\na,1,91,3\n", domain.ErrOutOfBounds},
		{"no rows", "station,lon,lat,value\n", domain.ErrInsufficientData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadObservations(strings.NewReader(tt.in))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteThenLoad(t *testing.T) {
	obs := domain.ObservationSet{
		{Station: "a", Lon: -100.5, Lat: 50, Value: 1.25},
		{Station: "b,c", Lon: -80, Lat: 44.125, Value: -3},
	}
	var buf bytes.Buffer
	if err := WriteObservations(&buf, obs); err != nil {
		t.Fatalf("WriteObservations: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "station,lon,lat,value\n") {
		t.Errorf("unexpected header in %q", buf.String())
	}

	path := filepath.Join(t.TempDir(), "obs.csv")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := NewObservationStore(path).LoadObservations()
	if err != nil {
		t.Fatalf("LoadObservations: %v", err)
	}
	for i := range obs {
		if got[i] != obs[i] {
			t.Errorf("obs[%d] = %+v, want %+v", i, got[i], obs[i])
		}
	}
}

func TestLoadObservations_MissingFile(t *testing.T) {
	_, err := NewObservationStore(filepath.Join(t.TempDir(), "absent.csv")).LoadObservations()
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("err = %v, want os.ErrNotExist", err)
	}
}
