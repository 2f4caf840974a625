package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
)

func newTestMetrics(t *testing.T) (*HTTPMetrics, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := &HTTPMetrics{meter: mp.Meter(httpInstrumentationName), logger: zap.NewNop()}
	m.init()
	return m, reader
}

func collect(t *testing.T, reader *metric.ManualReader, name string) (metricdata.Aggregation, bool) {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m.Data, true
			}
		}
	}
	return nil, false
}

func activeRequests(t *testing.T, reader *metric.ManualReader) int64 {
	t.Helper()
	data, ok := collect(t, reader, "memoryd.http.active_requests")
	require.True(t, ok, "active requests gauge not recorded")
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetricsMiddleware_StatusOfHandlerErrors(t *testing.T) {
	m, reader := newTestMetrics(t)
	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.POST("/v1/memories/search", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	})
	e.POST("/v1/memories/reconcile", func(c echo.Context) error {
		return errors.New("index unavailable")
	})
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
	})

	for _, r := range []struct{ method, path string }{
		{http.MethodPost, "/v1/memories/search"},
		{http.MethodPost, "/v1/memories/reconcile"},
		{http.MethodGet, "/health"},
		{http.MethodGet, "/health"},
	} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(r.method, r.path, nil))
	}

	data, ok := collect(t, reader, "memoryd.http.requests_total")
	require.True(t, ok)
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok)

	got := make(map[string]int64)
	for _, dp := range sum.DataPoints {
		endpoint, _ := dp.Attributes.Value(attribute.Key("endpoint"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		got[fmt.Sprintf("%s %d", endpoint.AsString(), status.AsInt64())] += dp.Value
	}
	assert.Equal(t, map[string]int64{
		"/v1/memories/search 400":    1,
		"/v1/memories/reconcile 500": 1,
		"/health 200":                2,
	}, got)

	data, ok = collect(t, reader, "memoryd.http.request_duration_seconds")
	require.True(t, ok)
	hist, ok := data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range hist.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(4), count)
}

func TestMetricsMiddleware_ActiveRequestsReturnToZero(t *testing.T) {
	m, reader := newTestMetrics(t)
	e := echo.New()
	e.Use(m.MetricsMiddleware())

	var inFlight int64
	e.POST("/v1/chat/completions", func(c echo.Context) error {
		inFlight = activeRequests(t, reader)
		return echo.NewHTTPError(http.StatusBadGateway, "upstream model error")
	})
	e.GET("/v1/memories/reconcile", func(c echo.Context) error {
		return errors.New("boom")
	})

	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil))
	e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/memories/reconcile", nil))

	assert.Equal(t, int64(1), inFlight)
	assert.Zero(t, activeRequests(t, reader))
}

func TestResponseStatus(t *testing.T) {
	e := echo.New()
	newContext := func() echo.Context {
		return e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	}

	t.Run("http error", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, responseStatus(newContext(), echo.NewHTTPError(http.StatusNotFound)))
	})
	t.Run("wrapped http error", func(t *testing.T) {
		err := fmt.Errorf("search: %w", echo.NewHTTPError(http.StatusBadRequest, "bad scope"))
		assert.Equal(t, http.StatusBadRequest, responseStatus(newContext(), err))
	})
	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, http.StatusInternalServerError, responseStatus(newContext(), errors.New("boom")))
	})
	t.Run("committed response wins", func(t *testing.T) {
		c := newContext()
		require.NoError(t, c.String(http.StatusAccepted, "streaming"))
		assert.Equal(t, http.StatusAccepted, responseStatus(c, errors.New("stream aborted")))
	})
	t.Run("success", func(t *testing.T) {
		c := newContext()
		require.NoError(t, c.NoContent(http.StatusNoContent))
		assert.Equal(t, http.StatusNoContent, responseStatus(c, nil))
	})
}

func TestNormalizePath_UnmatchedCollapses(t *testing.T) {
	assert.Equal(t, "/", normalizePath(""))
	assert.Equal(t, "/v1/memories/search", normalizePath("/v1/memories/search"))
}
