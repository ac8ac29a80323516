package ensemble

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fhs/go-netcdf/netcdf"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/domain"
)

// testCube builds a 2-member 3x4 cube with value 100*m + 10*i + j.
func testCube() *domain.EnsembleCube {
	rows, cols := 3, 4
	cube := &domain.EnsembleCube{
		DesignValue: "hdd",
		Lat:         mat.NewDense(rows, cols, nil),
		Lon:         mat.NewDense(rows, cols, nil),
		RLat:        []float64{-1, 0, 1},
		RLon:        []float64{-2, -1, 0, 1},
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			cube.Lat.Set(i, j, 45+float64(i))
			cube.Lon.Set(i, j, -100+float64(j))
		}
	}
	for m := 0; m < 2; m++ {
		d := mat.NewDense(rows, cols, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d.Set(i, j, float64(100*m+10*i+j))
			}
		}
		cube.Members = append(cube.Members, d)
	}
	return cube
}

// createTransposedNC writes a FLOAT design value stored as [rlat, rlon, level]
// with a _FillValue, and no level variable.
func createTransposedNC(t *testing.T, path string) {
	t.Helper()
	f, err := netcdf.CreateFile(path, netcdf.CLOBBER)
	if err != nil {
		t.Fatalf("create nc: %v", err)
	}
	defer f.Close()

	rlatDim, _ := f.AddDim("rlat", 2)
	rlonDim, _ := f.AddDim("rlon", 2)
	levelDim, _ := f.AddDim("level", 3)
	vrlat, _ := f.AddVar("rlat", netcdf.DOUBLE, []netcdf.Dim{rlatDim})
	vrlon, _ := f.AddVar("rlon", netcdf.DOUBLE, []netcdf.Dim{rlonDim})
	vlat, _ := f.AddVar("lat", netcdf.DOUBLE, []netcdf.Dim{rlatDim, rlonDim})
	vlon, _ := f.AddVar("lon", netcdf.DOUBLE, []netcdf.Dim{rlatDim, rlonDim})
	vdv, _ := f.AddVar("tas", netcdf.FLOAT, []netcdf.Dim{rlatDim, rlonDim, levelDim})
	if err := vdv.Attr("_FillValue").WriteFloat32s([]float32{-999}); err != nil {
		t.Fatalf("write fill value: %v", err)
	}

	if err := f.EndDef(); err != nil {
		t.Fatalf("enddef: %v", err)
	}

	if err := vrlat.WriteFloat64s([]float64{0, 1}); err != nil {
		t.Fatalf("write rlat: %v", err)
	}
	if err := vrlon.WriteFloat64s([]float64{0, 1}); err != nil {
		t.Fatalf("write rlon: %v", err)
	}
	if err := vlat.WriteFloat64s([]float64{50, 50, 51, 51}); err != nil {
		t.Fatalf("write lat: %v", err)
	}
	if err := vlon.WriteFloat64s([]float64{-90, -89, -90, -89}); err != nil {
		t.Fatalf("write lon: %v", err)
	}
	// Cell c, member m holds 10*c + m; cell 3 of member 2 is missing.
	dv := []float32{0, 1, 2, 10, 11, 12, 20, 21, 22, 30, 31, -999}
	if err := vdv.WriteFloat32s(dv); err != nil {
		t.Fatalf("write tas: %v", err)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "ensemble.nc")
	want := testCube()
	if err := Write(path, want); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(path, "hdd", domain.DefaultRequiredKeys())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n, rows, cols := got.Size(); n != 2 || rows != 3 || cols != 4 {
		t.Fatalf("size = (%d, %d, %d), want (2, 3, 4)", n, rows, cols)
	}
	for m := range want.Members {
		if !mat.Equal(got.Members[m], want.Members[m]) {
			t.Errorf("member %d differs:\n%v", m, mat.Formatted(got.Members[m]))
		}
	}
	if !mat.Equal(got.Lat, want.Lat) || !mat.Equal(got.Lon, want.Lon) {
		t.Errorf("lat/lon not preserved")
	}
	if got.RLon[3] != 1 || got.RLat[0] != -1 {
		t.Errorf("axes not preserved: rlat=%v rlon=%v", got.RLat, got.RLon)
	}
	for _, k := range []string{"hdd", "lat", "level", "lon", "rlat", "rlon"} {
		if !got.HasKey(k) {
			t.Errorf("key %q not recorded in %v", k, got.Keys)
		}
	}
}

func TestRead_MemberLastWithFillValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tas.nc")
	createTransposedNC(t, path)

	got, err := Read(path, "tas", []string{"rlat", "rlon", "lat", "lon"})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got.Members) != 3 {
		t.Fatalf("members = %d, want 3", len(got.Members))
	}
	if v := got.Members[1].At(1, 0); v != 21 {
		t.Errorf("member 1 cell (1,0) = %v, want 21", v)
	}
	if v := got.Members[2].At(1, 1); !math.IsNaN(v) {
		t.Errorf("fill value not converted to NaN, got %v", v)
	}
	// level is declared as a dimension only.
	if !got.HasKey("level") {
		t.Errorf("dimension-only key missing from %v", got.Keys)
	}
}

func TestRead_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ensemble.nc")
	if err := Write(path, testCube()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		dv      string
		req     []string
		wantErr error
		wantMsg string
	}{
		{"not netcdf", filepath.Join(dir, "ensemble.csv"), "hdd", nil, domain.ErrInvalidInput, ".nc"},
		{"no design value", path, "", nil, domain.ErrInvalidInput, ""},
		{"missing design value", path, "tas", nil, domain.ErrMissingKey, "[tas]"},
		{"missing keys sorted", path, "hdd", []string{"zeta", "alpha", "lat"}, domain.ErrMissingKey, "[alpha zeta]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(tt.path, tt.dv, tt.req)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("err %q does not mention %q", err, tt.wantMsg)
			}
		})
	}

	if _, err := Read(filepath.Join(dir, "absent.nc"), "hdd", nil); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("absent file: err = %v, want os.ErrNotExist", err)
	}
}

func TestStore_LoadCaches(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ensemble.nc")
	if err := Write(path, testCube()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	s := NewStore(path)

	first, err := s.Load("hdd", nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	second, err := s.Load("hdd", []string{"lat"})
	if err != nil {
		t.Fatalf("cached Load: %v", err)
	}
	if first != second {
		t.Errorf("expected cached cube to be returned")
	}
	if _, err := s.Load("hdd", []string{"missing"}); !errors.Is(err, domain.ErrMissingKey) {
		t.Errorf("cached Load with unknown key: err = %v, want ErrMissingKey", err)
	}
}

func TestWrite_RejectsInvalidCube(t *testing.T) {
	cube := testCube()
	cube.Members = nil
	err := Write(filepath.Join(t.TempDir(), "bad.nc"), cube)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
}

func TestWriteField(t *testing.T) {
	cube := testCube()
	field := cube.Member(1)
	field.Name = "hdd_reconstructed"
	field.Values = mat.DenseCopyOf(field.Values)
	field.Values.Set(0, 0, math.NaN())

	path := filepath.Join(t.TempDir(), "field.nc")
	if err := WriteField(path, field); err != nil {
		t.Fatalf("WriteField: %v", err)
	}
	got, err := Read(path, "hdd_reconstructed", domain.DefaultRequiredKeys())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n, rows, cols := got.Size(); n != 1 || rows != 3 || cols != 4 {
		t.Fatalf("size = %d x %d x %d, want 1 x 3 x 4", n, rows, cols)
	}
	if v := got.Members[0].At(0, 0); !math.IsNaN(v) {
		t.Errorf("masked cell = %v, want NaN", v)
	}
	if v, want := got.Members[0].At(2, 3), 100.0+20+3; v != want {
		t.Errorf("cell (2, 3) = %v, want %v", v, want)
	}

	tests := []struct {
		name    string
		mutate  func(f *domain.GridField)
		wantErr error
	}{
		{"no values", func(f *domain.GridField) { f.Values = nil }, domain.ErrInvalidInput},
		{"short axis", func(f *domain.GridField) { f.RLon = f.RLon[:3] }, domain.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := cube.Member(0)
			tt.mutate(f)
			if err := WriteField(filepath.Join(t.TempDir(), "bad.nc"), f); !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}
