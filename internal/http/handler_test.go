package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"go.ngs.io/dvmap/internal/adapter/crs"
	"go.ngs.io/dvmap/internal/adapter/store/ensemble"
	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/usecase"
)

// newTestRouter writes a 4-member 5x6 ensemble whose members are
// 3 + a*row + b*col and serves it.
func newTestRouter(t *testing.T) (*gin.Engine, *domain.EnsembleCube) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rows, cols := 5, 6
	rlat := []float64{-2, -1, 0, 1, 2}
	rlon := []float64{-3, -2, -1, 0, 1, 2}
	xs, ys := crs.FlattenCoords(rlon, rlat)
	lon, lat, err := crs.ToGeographic(xs, ys, crs.CanRCM4())
	require.NoError(t, err)

	cube := &domain.EnsembleCube{
		DesignValue: "rl50",
		Lat:         mat.NewDense(rows, cols, lat),
		Lon:         mat.NewDense(rows, cols, lon),
		RLat:        rlat,
		RLon:        rlon,
	}
	a := []float64{-1.5, -0.5, 0.5, 1.5}
	b := []float64{1, -1, -1, 1}
	for m := range a {
		d := mat.NewDense(rows, cols, nil)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				d.Set(i, j, 3+a[m]*float64(i)+b[m]*float64(j))
			}
		}
		cube.Members = append(cube.Members, d)
	}

	path := filepath.Join(t.TempDir(), "rl50.nc")
	require.NoError(t, ensemble.Write(path, cube))

	logger, _ := test.NewNullLogger()
	opts := usecase.Options{
		Method:           domain.MethodBasisRegression,
		DesignValue:      "rl50",
		RequiredKeys:     domain.DefaultRequiredKeys(),
		ResolutionFactor: 1,
		Threshold:        1,
		SampleFraction:   1,
	}
	uc := usecase.NewReconstructionUseCase(ensemble.NewStore(path), nil, nil, crs.CanRCM4(), opts, logger)
	return SetupRouter(uc, nil), cube
}

func doRequest(t *testing.T, router *gin.Engine, method, target string, body []byte) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return w, out
}

func TestHealthCheck(t *testing.T) {
	router, _ := newTestRouter(t)
	w, out := doRequest(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestTransform(t *testing.T) {
	router, _ := newTestRouter(t)

	w, out := doRequest(t, router, http.MethodGet, "/v1/transform?lon=-123&lat=49", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, -16.762937, out["rlon"], 1e-6)
	assert.InDelta(t, 4.308692, out["rlat"], 1e-6)

	w, out = doRequest(t, router, http.MethodGet, "/v1/transform?lon=0&lat=0&inverse=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.InDelta(t, -97, out["lon"], 1e-6)
	assert.InDelta(t, 47.5, out["lat"], 1e-6)

	for _, target := range []string{
		"/v1/transform?lat=49",
		"/v1/transform?lon=abc&lat=49",
		"/v1/transform?lon=0&lat=91",
		"/v1/transform?lon=0&lat=0&inverse=maybe",
	} {
		w, out = doRequest(t, router, http.MethodGet, target, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.NotEmpty(t, out["error"], target)
	}
}

func TestNearest(t *testing.T) {
	router, cube := newTestRouter(t)

	target := fmt.Sprintf("/v1/ensemble/nearest?lon=%v&lat=%v", cube.Lon.At(3, 4), cube.Lat.At(3, 4))
	w, out := doRequest(t, router, http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, w.Code, out)
	assert.EqualValues(t, 3, out["row"])
	assert.EqualValues(t, 4, out["col"])
	assert.InDelta(t, 3, out["ensemble_mean"], 1e-9)
	assert.EqualValues(t, 0, out["warnings"])

	w, _ = doRequest(t, router, http.MethodGet, target+"&design_value=tas", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateReconstruction(t *testing.T) {
	router, _ := newTestRouter(t)

	body, err := json.Marshal(map[string]any{"pseudo_fraction": 0.5, "seed": 11})
	require.NoError(t, err)
	w, out := doRequest(t, router, http.MethodPost, "/v1/reconstructions", body)
	require.Equal(t, http.StatusOK, w.Code, out)

	assert.NotEmpty(t, out["run_id"])
	assert.Equal(t, "rl50", out["design_value"])
	model := out["model"].(map[string]any)
	assert.InDelta(t, 1, model["r2"], 1e-9)
	assert.EqualValues(t, 15, model["samples"])
	assert.Len(t, out["matches"], 15)

	field := out["field"].(map[string]any)
	values := field["values"].([]any)
	require.Len(t, values, 5)
	assert.Len(t, values[0], 6)
	assert.Len(t, field["rlon"], 6)
}

func TestCreateReconstruction_Errors(t *testing.T) {
	router, _ := newTestRouter(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed", `{"seed":`, http.StatusBadRequest},
		{"observation without value", `{"observations":[{"lon":-97,"lat":47.5}]}`, http.StatusBadRequest},
		{"no observations", `{}`, http.StatusBadRequest},
		{"bad threshold", `{"pseudo_fraction":0.5,"explained_variance_threshold":2}`, http.StatusBadRequest},
		{"missing design value", `{"pseudo_fraction":0.5,"design_value":"tas"}`, http.StatusBadRequest},
		{"too few observations", `{"observations":[{"lon":-97,"lat":47.5,"value":3}]}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, out := doRequest(t, router, http.MethodPost, "/v1/reconstructions", []byte(tt.body))
			assert.Equal(t, tt.want, w.Code, out)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("load: %w", domain.ErrMissingKey), http.StatusBadRequest},
		{domain.ErrUnsupportedMethod, http.StatusBadRequest},
		{domain.ErrRankDeficient, http.StatusUnprocessableEntity},
		{domain.ErrLookupExhausted, http.StatusUnprocessableEntity},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
