package api

import (
	"context"
	"net/http"
	"time"

	"codeberg.org/mutker/anglepub/internal/errors"
	"codeberg.org/mutker/anglepub/internal/logger"
	"codeberg.org/mutker/anglepub/internal/publish"
	"codeberg.org/mutker/anglepub/internal/sample"
	"codeberg.org/mutker/anglepub/internal/sampler"
	"codeberg.org/mutker/anglepub/internal/telemetry"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	readHeaderTimeout = 5 * time.Second
	defaultHistory    = 100
	maxHistory        = 1000
)

// Controller applies and reports the sampling parameters.
type Controller interface {
	Apply(u sampler.Update) error
	Parameters() sampler.Parameters
}

// History serves recently published samples.
type History interface {
	Recent(ctx context.Context, limit int) ([]sample.Sample, error)
	Enabled() bool
}

type Config struct {
	Listen  string
	FrameID string
}

// Server is the HTTP control and subscription surface.
type Server struct {
	engine   *gin.Engine
	http     *http.Server
	ctrl     Controller
	broker   *publish.Broker
	stats    telemetry.Collector
	history  History
	frameID  string
	upgrader websocket.Upgrader
	log      logger.Logger
}

func NewServer(cfg Config, ctrl Controller, broker *publish.Broker, stats telemetry.Collector, history History, log logger.Logger) *Server {
	if cfg.FrameID == "" {
		cfg.FrameID = sample.DefaultFrameID
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{
		engine:  engine,
		ctrl:    ctrl,
		broker:  broker,
		stats:   stats,
		history: history,
		frameID: cfg.FrameID,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		log: log,
	}
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.health)

	v1 := s.engine.Group("/v1")
	{
		v1.GET("/parameters", s.getParameters)
		v1.PUT("/parameters", s.putParameters)
		v1.GET("/angles/latest", s.latest)
		v1.GET("/angles/history", s.recent)
		v1.GET("/angles/stream", s.stream)
		v1.GET("/stats", s.getStats)
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe blocks until the server fails or is shut down. A graceful
// shutdown returns nil.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("listen", s.http.Addr).Msg("API server listening")

	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New().Wrap(errors.ErrServeAPI, err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for active ones until ctx is
// done. Websocket streams end when the broker closes.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.http.Shutdown(ctx); err != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, err)
	}
	s.log.Debug().Msg("API server stopped")
	return nil
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client", c.ClientIP()).
			Msg("Request handled")
	}
}
