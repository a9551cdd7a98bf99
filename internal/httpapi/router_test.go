package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type pingRoute struct{}

func (pingRoute) Register(r gin.IRouter) {
	r.GET("/api/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.POST("/api/webhooks/gateway", func(c *gin.Context) { c.Status(http.StatusOK) })
}

func serve(r http.Handler, method, path string) int {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w.Code
}

func TestHealthReportsDependencies(t *testing.T) {
	gin.SetMode(gin.TestMode)
	up := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("refused") })

	r := NewRouter(Options{ServiceName: "test", Checks: map[string]Pinger{"postgres": up}}, zap.NewNop())
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/health"))

	r = NewRouter(Options{ServiceName: "test", Checks: map[string]Pinger{"postgres": up, "redis": down}}, zap.NewNop())
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/health"))
}

func TestRateLimitPerClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{ServiceName: "test", RateLimitRPS: 0.001, RateLimitBurst: 2}, zap.NewNop(), pingRoute{})

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/ping"))
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/api/ping"))
	assert.Equal(t, http.StatusTooManyRequests, serve(r, http.MethodGet, "/api/ping"))

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(r, http.MethodPost, "/api/webhooks/gateway"))
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{ServiceName: "test", AllowedOrigins: []string{"https://shop.example"}}, zap.NewNop())

	req := httptest.NewRequest(http.MethodOptions, "/api/ping", nil)
	req.Header.Set("Origin", "https://shop.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://shop.example", w.Header().Get("Access-Control-Allow-Origin"))
}
