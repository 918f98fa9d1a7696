package api

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/forestwatch/internal/classifier"
	"github.com/tphakala/forestwatch/internal/errors"
	"github.com/tphakala/forestwatch/internal/prediction"
)

const (
	msgInvalidBody      = "request body must be a JSON object with numeric lat and lon"
	msgImageUnavailable = "could not retrieve an image for the given coordinates"
	msgModelNotReady    = "model is not ready"
	msgPredictionFailed = "prediction failed"
)

var errNotNumeric = errors.NewStd("value is not numeric")

// coordinateValue accepts a JSON number or a numeric string, so form inputs
// posted as strings work like numbers.
type coordinateValue struct {
	value float64
	set   bool
}

func (v *coordinateValue) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		var s string
		if json.Unmarshal(b, &s) != nil {
			return errNotNumeric
		}
		if f, err = strconv.ParseFloat(strings.TrimSpace(s), 64); err != nil {
			return errNotNumeric
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return errNotNumeric
	}

	v.value, v.set = f, true
	return nil
}

// PredictRequest is the body of POST /predict.
type PredictRequest struct {
	Lat coordinateValue `json:"lat"`
	Lon coordinateValue `json:"lon"`
}

// decodePredictRequest parses body. Both coordinates are required.
func decodePredictRequest(body []byte) (lat, lon float64, err error) {
	var req PredictRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, 0, err
	}
	if !req.Lat.set || !req.Lon.set {
		return 0, 0, errors.Newf("lat and lon are required").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}
	return req.Lat.value, req.Lon.value, nil
}

// handlePredict serves POST /predict.
func (s *Server) handlePredict(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return badRequest(c, msgInvalidBody)
	}

	lat, lon, err := decodePredictRequest(body)
	if err != nil {
		s.log.WithContext(c.Request().Context()).Debug("rejected predict request")
		return badRequest(c, msgInvalidBody)
	}

	resp, err := s.predictor.PredictForCoordinate(c.Request().Context(), lat, lon)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, resp)
	case prediction.IsClientError(err):
		return badRequest(c, msgImageUnavailable)
	case errors.Is(err, classifier.ErrModelNotReady):
		return s.internalError(c, err, msgModelNotReady)
	default:
		return s.internalError(c, err, msgPredictionFailed)
	}
}
