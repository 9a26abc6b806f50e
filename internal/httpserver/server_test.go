package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	cfgpkg "github.com/taoyao-code/wiperlink/internal/config"
	appmetrics "github.com/taoyao-code/wiperlink/internal/metrics"
)

func get(s *Server, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthzReadyzMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := cfgpkg.HTTPConfig{Addr: ":0", ReadTimeout: time.Second, WriteTimeout: time.Second}
	reg := appmetrics.NewRegistry()
	m := appmetrics.NewAppMetrics(reg)
	m.SweepsTotal.WithLabelValues("front").Inc()
	srv := New(cfg, "/metrics", appmetrics.Handler(reg), func() bool { return true }, nil)

	assert.Equal(t, http.StatusOK, get(srv, "/healthz").Code)
	assert.Equal(t, http.StatusOK, get(srv, "/readyz").Code)

	rr := get(srv, "/metrics")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sweeps_total{group="front"} 1`)
}

func TestReadyzNotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := cfgpkg.HTTPConfig{Addr: ":0"}
	srv := New(cfg, "", nil, func() bool { return false }, nil)

	assert.Equal(t, http.StatusServiceUnavailable, get(srv, "/readyz").Code)
	assert.Equal(t, http.StatusNotFound, get(srv, "/metrics").Code)
}

func TestMounts(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv := New(cfgpkg.HTTPConfig{}, "", nil, nil, nil, func(r *gin.Engine) {
		r.GET("/extra", func(c *gin.Context) { c.String(http.StatusTeapot, "x") })
	})
	assert.Equal(t, http.StatusTeapot, get(srv, "/extra").Code)
}
