package http

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"go.ngs.io/dvmap/internal/domain"
	"go.ngs.io/dvmap/internal/usecase"
)

// Handler handles HTTP requests for design-value reconstructions.
type Handler struct {
	reconstructionUC *usecase.ReconstructionUseCase
}

// NewHandler creates a new HTTP handler.
func NewHandler(reconstructionUC *usecase.ReconstructionUseCase) *Handler {
	return &Handler{
		reconstructionUC: reconstructionUC,
	}
}

// statusFor maps pipeline errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrOutOfBounds),
		errors.Is(err, domain.ErrMissingKey),
		errors.Is(err, domain.ErrDimensionMismatch),
		errors.Is(err, domain.ErrUnsupportedMethod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData),
		errors.Is(err, domain.ErrRankDeficient),
		errors.Is(err, domain.ErrLookupExhausted):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// parseFloatQuery parses a required float query parameter.
func parseFloatQuery(c *gin.Context, name string) (float64, bool) {
	s := c.Query(name)
	if s == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s parameter is required", name)})
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s: %q", name, s)})
		return 0, false
	}
	return v, true
}

// Transform handles GET /v1/transform.
func (h *Handler) Transform(c *gin.Context) {
	x, ok := parseFloatQuery(c, "lon")
	if !ok {
		return
	}
	y, ok := parseFloatQuery(c, "lat")
	if !ok {
		return
	}
	inverse := false
	if s := c.Query("inverse"); s != "" {
		var err error
		if inverse, err = strconv.ParseBool(s); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid inverse: %v", err)})
			return
		}
	}
	if !inverse && (y < -90 || y > 90) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "latitude must be between -90 and 90"})
		return
	}

	outX, outY, err := h.reconstructionUC.Transform(x, y, inverse)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if inverse {
		c.JSON(http.StatusOK, gin.H{"rlon": x, "rlat": y, "lon": outX, "lat": outY})
		return
	}
	c.JSON(http.StatusOK, gin.H{"lon": x, "lat": y, "rlon": outX, "rlat": outY})
}

// Nearest handles GET /v1/ensemble/nearest.
func (h *Handler) Nearest(c *gin.Context) {
	lon, ok := parseFloatQuery(c, "lon")
	if !ok {
		return
	}
	lat, ok := parseFloatQuery(c, "lat")
	if !ok {
		return
	}

	match, warnings, err := h.reconstructionUC.Nearest(usecase.NearestRequest{
		DesignValue: c.Query("design_value"),
		Lon:         lon,
		Lat:         lat,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lon":           lon,
		"lat":           lat,
		"row":           match.Row,
		"col":           match.Col,
		"cell_lon":      match.CellLon,
		"cell_lat":      match.CellLat,
		"distance_km":   match.DistanceKm,
		"ensemble_mean": match.EnsembleMean,
		"warnings":      warnings,
	})
}

// observationBody is one observation in a reconstruction request.
type observationBody struct {
	Station string   `json:"station"`
	Lon     *float64 `json:"lon" binding:"required"`
	Lat     *float64 `json:"lat" binding:"required"`
	Value   *float64 `json:"value" binding:"required"`
}

// reconstructionBody overrides the configured options for one run.
type reconstructionBody struct {
	DesignValue                *string           `json:"design_value"`
	ResolutionFactor           *int              `json:"resolution_factor"`
	Coarsen                    *bool             `json:"coarsen"`
	ExplainedVarianceThreshold *float64          `json:"explained_variance_threshold"`
	SampleFraction             *float64          `json:"sample_fraction"`
	Seed                       *int64            `json:"seed"`
	PseudoFraction             *float64          `json:"pseudo_fraction"`
	Observations               []observationBody `json:"observations" binding:"dive"`
}

// fieldResponse is a reconstructed grid; masked cells are null.
type fieldResponse struct {
	RLat   []float64    `json:"rlat"`
	RLon   []float64    `json:"rlon"`
	Values [][]*float64 `json:"values"`
}

// ReconstructionResponse is the body of a successful reconstruction.
type ReconstructionResponse struct {
	*usecase.ReconstructionResult
	Field fieldResponse `json:"field"`
}

// CreateReconstruction handles POST /v1/reconstructions.
func (h *Handler) CreateReconstruction(c *gin.Context) {
	var body reconstructionBody
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid request body: %v", err)})
			return
		}
	}

	req := usecase.ReconstructionRequest{Options: h.reconstructionUC.Defaults()}
	if body.DesignValue != nil {
		req.DesignValue = *body.DesignValue
	}
	if body.ResolutionFactor != nil {
		req.ResolutionFactor = *body.ResolutionFactor
	}
	if body.Coarsen != nil {
		req.Coarsen = *body.Coarsen
	}
	if body.ExplainedVarianceThreshold != nil {
		req.Threshold = *body.ExplainedVarianceThreshold
	}
	if body.SampleFraction != nil {
		req.SampleFraction = *body.SampleFraction
	}
	if body.Seed != nil {
		req.Seed = *body.Seed
	}
	if body.PseudoFraction != nil {
		req.PseudoFraction = *body.PseudoFraction
	}
	for i, o := range body.Observations {
		station := o.Station
		if station == "" {
			station = fmt.Sprintf("obs-%d", i)
		}
		req.Observations = append(req.Observations, domain.Observation{
			Station: station,
			Lon:     *o.Lon,
			Lat:     *o.Lat,
			Value:   *o.Value,
		})
	}

	result, err := h.reconstructionUC.Execute(req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, ReconstructionResponse{
		ReconstructionResult: result,
		Field:                toFieldResponse(result.Field),
	})
}

func toFieldResponse(f *domain.GridField) fieldResponse {
	rows, cols := f.Dims()
	values := make([][]*float64, rows)
	for i := 0; i < rows; i++ {
		values[i] = make([]*float64, cols)
		for j := 0; j < cols; j++ {
			if v := f.Values.At(i, j); domain.IsFinite(v) {
				values[i][j] = &v
			}
		}
	}
	return fieldResponse{RLat: f.RLat, RLon: f.RLon, Values: values}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
