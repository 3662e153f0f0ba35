package web

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/austin-smith/fusion-bridge-sub010/internal/engine"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/api"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/middleware"
	"github.com/austin-smith/fusion-bridge-sub010/internal/web/stream"
)

// Deps are the services behind the HTTP API
type Deps struct {
	Addr       string
	Rules      engine.RuleStore
	Engine     api.RuleEngine
	Executions api.ExecutionReader
	Events     api.EventSink
	Stream     *stream.Hub
	// Topology backs the device context routes when set
	Topology    engine.TopologyStore
	Invalidator api.ContextInvalidator
	JWTSecret   string
	// Gatherer is exposed on MetricsPath when set
	Gatherer    prometheus.Gatherer
	MetricsPath string
	// Ready reports dependency health for /healthz
	Ready func(ctx context.Context) error
}

type WebServer struct {
	router *gin.Engine
	srv    *http.Server
}

func NewWebServer(deps Deps) *WebServer {
	router := gin.New()
	mw := middleware.NewMiddlewareManager(deps.JWTSecret)
	router.Use(gin.Recovery(), mw.RequestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		if deps.Ready != nil {
			if err := deps.Ready(c); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Gatherer != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		router.GET(path, gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api.RegisterAutomationRoutes(router, mw, deps.Rules, deps.Engine)
	if deps.Stream != nil {
		router.GET("/executions/stream", mw.RequireAuth(), deps.Stream.Handler)
	}
	api.RegisterExecutionRoutes(router, mw, deps.Executions)
	if deps.Topology != nil {
		api.RegisterDeviceRoutes(router, mw, deps.Topology, deps.Invalidator)
	}
	if deps.Events != nil {
		api.RegisterEventRoutes(router, mw, deps.Events)
	}

	return &WebServer{
		router: router,
		srv:    &http.Server{Addr: deps.Addr, Handler: router, ReadHeaderTimeout: 10 * time.Second},
	}
}

// Handler exposes the router for tests
func (ws *WebServer) Handler() http.Handler {
	return ws.router
}

// Start serves until Shutdown is called
func (ws *WebServer) Start() error {
	log.Info().Str("component", "web").Str("addr", ws.srv.Addr).Msg("http server listening")
	if err := ws.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (ws *WebServer) Shutdown(ctx context.Context) error {
	return ws.srv.Shutdown(ctx)
}
