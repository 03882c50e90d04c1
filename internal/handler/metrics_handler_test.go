package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/student-records-api/internal/service"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func newProbeRouter(store Pinger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(service.NewMetricsService(), store)
	r := gin.New()
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", h.Prometheus)
	return r
}

func TestMetricsHandlerReady(t *testing.T) {
	r := newProbeRouter(pingerFunc(func(ctx context.Context) error { return nil }))
	w := perform(r, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, w.Code)

	r = newProbeRouter(pingerFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }))
	w = perform(r, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "STORE_ERROR", decodeBody(t, w)["code"])
}

func TestMetricsHandlerHealthAndPrometheus(t *testing.T) {
	r := newProbeRouter(nil)

	w := perform(r, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(r, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "goroutines_total"))
}
