package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New()
	m.Forwarded("rest", 5, nil)
	m.Forwarded("rest", 2, errors.New("x"))
	m.Forwarded("rest", 0, nil)
	m.CaptureDone(nil)
	m.UploadDone(errors.New("x"))
	m.ObserveHTTP("GET", "/api/getDevices", 200, 10*time.Millisecond)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.forwarded.WithLabelValues("rest", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.forwarded.WithLabelValues("rest", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.captures.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.uploads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/api/getDevices", "200")))

	done := m.WSConnected("deviceData")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.wsClients.WithLabelValues("deviceData")))
	done()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.wsClients.WithLabelValues("deviceData")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Forwarded("rest", 1, nil)
	m.CaptureDone(nil)
	m.WSConnected("x")()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.CaptureDone(nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "iot_gateway_capture_executions_total")
}
