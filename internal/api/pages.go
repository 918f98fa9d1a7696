package api

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/labstack/echo/v4"

	"github.com/tphakala/forestwatch/internal/prediction"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// staticFiles returns the embedded static assets rooted at static/.
func staticFiles() fs.FS {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(fmt.Sprintf("embedded static assets: %v", err))
	}
	return sub
}

type indexData struct {
	MapboxToken string
	ModelKind   string
	ModelReady  bool
	Version     string
}

// handleIndex serves the map page.
func (s *Server) handleIndex(c echo.Context) error {
	data := indexData{
		MapboxToken: s.config.MapboxToken,
		ModelKind:   s.predictor.ModelKind(),
		ModelReady:  s.predictor.ModelReady(),
		Version:     s.build.Version(),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		return s.internalError(c, err, "failed to render page")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

// parseCoordinateParam reads a required finite float query parameter.
func parseCoordinateParam(c echo.Context, name string) (float64, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%s must be a number", name)
	}
	return v, nil
}

// handleChart renders a fresh time series for the coordinate as an HTML
// line chart.
func (s *Server) handleChart(c echo.Context) error {
	lat, err := parseCoordinateParam(c, "lat")
	if err != nil {
		return badRequest(c, err.Error())
	}
	lon, err := parseCoordinateParam(c, "lon")
	if err != nil {
		return badRequest(c, err.Error())
	}

	var buf bytes.Buffer
	if err := renderTimeSeriesChart(&buf, s.predictor.TimeSeries(), lat, lon); err != nil {
		return s.internalError(c, err, "failed to render chart")
	}
	return c.HTMLBlob(http.StatusOK, buf.Bytes())
}

func lineData(values []int) []opts.LineData {
	items := make([]opts.LineData, 0, len(values))
	for _, v := range values {
		items = append(items, opts.LineData{Value: v})
	}
	return items
}

func renderTimeSeriesChart(buf *bytes.Buffer, ts prediction.TimeSeries, lat, lon float64) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "ForestWatch time series", Width: "900px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{Title: "Monthly indicators", Subtitle: fmt.Sprintf("lat=%.6f lon=%.6f", lat, lon)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "%", Min: 0, Max: 100}),
	)
	line.SetXAxis(ts.Labels).
		AddSeries("Deforestation", lineData(ts.Deforestation)).
		AddSeries("Risk", lineData(ts.Risk)).
		AddSeries("Vegetation", lineData(ts.Vegetation))

	return line.Render(buf)
}
