// Package httpapi assembles the gin engine: tracing, request logging, rate
// limiting, health checks, and the routes of each domain handler.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r gin.IRouter)
}

// Pinger is a dependency the health check probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// RedisPinger probes a go-redis client.
func RedisPinger(client redis.UniversalClient) Pinger {
	return PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
}

// Options configures the router.
type Options struct {
	ServiceName    string
	RateLimitRPS   float64
	RateLimitBurst int
	// AllowedOrigins enables CORS for the browser checkout. Empty disables it.
	AllowedOrigins []string
	// Checks are probed by GET /health, keyed by dependency name.
	Checks map[string]Pinger
}

// NewRouter builds the engine and mounts every registrar.
func NewRouter(opts Options, logger *zap.Logger, registrars ...Registrar) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(opts.ServiceName, otelgin.WithFilter(func(req *http.Request) bool {
		return req.URL.Path != "/health"
	})))
	r.Use(requestLogger(logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: opts.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	if opts.RateLimitRPS > 0 {
		r.Use(RateLimit(opts.RateLimitRPS, opts.RateLimitBurst, "/api/webhooks/"))
	}

	r.GET("/health", health(opts.Checks))
	for _, reg := range registrars {
		reg.Register(r)
	}
	return r
}

func health(checks map[string]Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		results := gin.H{}
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				status = http.StatusServiceUnavailable
				results[name] = "down"
				continue
			}
			results[name] = "up"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{"status": state, "checks": results})
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if strings.HasPrefix(path, "/health") {
			return
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}
