package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/faucetgw/faucetgw/internal/config"
	"github.com/faucetgw/faucetgw/internal/http/middleware"
	"github.com/faucetgw/faucetgw/internal/metrics"
	"github.com/faucetgw/faucetgw/internal/service"
)

type Server struct{ e *echo.Echo }

// NewServer wires the faucet operations behind the identity and rate-limit
// middlewares. rds may be nil (dev: edge limiting disabled).
func NewServer(cfg config.Config, faucet *service.Faucet, rds *redis.Client) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	metrics.MustRegister(prometheus.DefaultRegisterer)

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	// middlewares
	identityMW := middleware.IdentityMiddleware(faucet)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          rds,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:user:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	// routes
	v1 := e.Group("/v1", identityMW, rlMW)
	v1.POST("/mint", mintHandler(faucet))
	v1.GET("/quota", quotaHandler(faucet))
	v1.GET("/me", meHandler())
	v1.GET("/reports/daily", dailyReportHandler(faucet))
	v1.POST("/admin/role", setRoleHandler(faucet))
	v1.POST("/admin/limits", setLimitsHandler(faucet))

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	return s.e.Start(addr)
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
