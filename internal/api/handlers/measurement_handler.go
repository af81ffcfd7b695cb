package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"noisemap/internal/api/middleware"
	"noisemap/internal/apperr"
	"noisemap/internal/domain/entities"
	"noisemap/internal/services"
)

type MeasurementHandler struct {
	ingestion *services.IngestionService
	queries   *services.QueryService
}

func NewMeasurementHandler(ingestion *services.IngestionService, queries *services.QueryService) *MeasurementHandler {
	return &MeasurementHandler{
		ingestion: ingestion,
		queries:   queries,
	}
}

// AddMeasurement handles POST /measurements
func (h *MeasurementHandler) AddMeasurement(c *gin.Context) {
	var req services.MeasurementInput
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.AbortWithError(c, apperr.Validation("api.add_measurement", "invalid body: %v", err))
		return
	}

	res, err := h.ingestion.Process(c.Request.Context(), req)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":      "measurement added",
		"id":           res.MeasurementID,
		"geohash":      res.Geohash,
		"time_bucket":  res.TimeBucket,
		"achievements": res.Achievements,
	})
}

// GetMeasurements handles GET /measurements?latitude=&longitude=&radius=
// with optional start_timestamp and end_timestamp (RFC 3339). radius_km is
// accepted in place of radius.
func (h *MeasurementHandler) GetMeasurements(c *gin.Context) {
	q, err := parseRadiusQuery(c)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}

	points, err := h.queries.Nearby(c.Request.Context(), q)
	if err != nil {
		middleware.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, points)
}

func parseRadiusQuery(c *gin.Context) (services.RadiusQuery, error) {
	const op = "api.get_measurements"
	var q services.RadiusQuery

	lat, err := floatParam(c, "latitude")
	if err != nil {
		return q, apperr.Validation(op, "%v", err)
	}
	lon, err := floatParam(c, "longitude")
	if err != nil {
		return q, apperr.Validation(op, "%v", err)
	}

	radiusName := "radius"
	if _, ok := c.GetQuery(radiusName); !ok {
		if _, alias := c.GetQuery("radius_km"); alias {
			radiusName = "radius_km"
		}
	}
	radius, err := floatParam(c, radiusName)
	if err != nil {
		return q, apperr.Validation(op, "%v", err)
	}

	start, err := timeParam(c, "start_timestamp")
	if err != nil {
		return q, apperr.Validation(op, "%v", err)
	}
	end, err := timeParam(c, "end_timestamp")
	if err != nil {
		return q, apperr.Validation(op, "%v", err)
	}

	return services.RadiusQuery{
		Lat:      lat,
		Lon:      lon,
		RadiusKm: radius,
		Window:   entities.TimeWindow{Start: start, End: end},
	}, nil
}

type paramError struct {
	name, reason string
}

func (e paramError) Error() string {
	return e.name + " " + e.reason
}

func floatParam(c *gin.Context, name string) (float64, error) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return 0, paramError{name, "is required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, paramError{name, "must be a number"}
	}
	return v, nil
}

// timeParam parses an optional RFC 3339 timestamp; absent means unbounded.
func timeParam(c *gin.Context, name string) (time.Time, error) {
	raw := c.Query(name)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, paramError{name, "must be an RFC 3339 timestamp"}
	}
	return t, nil
}
