package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/wa-broadcaster/internal/broadcast"
	"github.com/jmehdipour/wa-broadcaster/internal/http/middleware"
	"github.com/jmehdipour/wa-broadcaster/internal/metrics"
	"github.com/jmehdipour/wa-broadcaster/internal/repository"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps wires the API. Configs, Deliveries and Redis are optional: without
// them config changes are not persisted, reports answer 503 and the API is
// not throttled.
type Deps struct {
	Manager    *broadcast.Manager
	Tenants    middleware.TenantLookup
	Configs    repository.TenantConfigRepository
	Deliveries repository.DeliveriesRepository
	Redis      *redis.Client

	RateLimitRPS int
	AdminKey     string
	Log          *zap.Logger
}

type Server struct {
	e   *echo.Echo
	log *zap.Logger
}

func NewServer(d Deps) *Server {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	lg := d.Log.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.WARN)
	e.Use(echoMid.Recover(), requestLogger(lg))

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.APIKeyMiddleware(d.Tenants)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          d.Redis,
		DefaultRPS:     d.RateLimitRPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	h := &handlers{m: d.Manager, configs: d.Configs, deliveries: d.Deliveries, log: lg}

	v1 := e.Group("/v1", authMW, rlMW)
	v1.POST("/broadcasts", h.submit)
	v1.DELETE("/broadcasts", h.clear)
	v1.GET("/broadcasts/progress", h.progress)
	v1.GET("/broadcasts/stats", h.stats)
	v1.POST("/broadcasts/stop", h.stop)
	v1.GET("/broadcasts/config", h.getConfig)
	v1.PATCH("/broadcasts/config", h.patchConfig)
	v1.GET("/reports/deliveries", h.listDeliveries)

	admin := e.Group("/admin", middleware.AdminKeyMiddleware(d.AdminKey))
	admin.GET("/stats", h.allStats)

	return &Server{e: e, log: lg}
}

// requestLogger writes one zap line per request.
func requestLogger(lg *zap.Logger) echo.MiddlewareFunc {
	return echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURIPath: true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("path", v.URIPath),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
			}
			if id, ok := middleware.TenantIDFromCtx(c); ok {
				fields = append(fields, zap.String("tenant", id))
			}
			if v.Error != nil {
				lg.Warn("request failed", append(fields, zap.Error(v.Error))...)
				return nil
			}
			lg.Debug("request", fields...)
			return nil
		},
	})
}

func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	s.log.Info("listening", zap.String("addr", addr))
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
