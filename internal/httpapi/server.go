// Package httpapi exposes a driver over HTTP: device control routes, a
// WebSocket stream of state changes and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/go-micros/micros/config"
	"github.com/go-micros/micros/logger"
	"github.com/go-micros/micros/micros"
)

// Controller is the part of *micros.Driver the API depends on.
type Controller interface {
	SetRelay(num int, cmd micros.Command) error
	GetRelay(num int) (micros.Reading, error)
	SetDimmer(num int, level int) error
	ToggleDimmer(num int) error
	GetDimmer(num int) (micros.Reading, error)
	SetFlag(num int, cmd micros.Command) error
	GetFlag(num int) (micros.Reading, error)
	SetMood(num int, cmd micros.Command, kind micros.MoodKind) error
	GetSensor(num int) (micros.Reading, error)
	Subscribe(h micros.StateHandler) func()
	Metrics() *micros.Metrics
	Err() error
}

var _ Controller = (*micros.Driver)(nil)

// Server wraps the gin engine and its http.Server.
type Server struct {
	srv         *http.Server
	ctrl        Controller
	logger      logger.Logger
	clients     *xsync.MapOf[string, *wsClient]
	upgrader    websocket.Upgrader
	unsubscribe func()
}

// New builds the server and subscribes it to ctrl's state changes.
func New(cfg config.HTTPConfig, ctrl Controller, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}

	s := &Server{
		ctrl:    ctrl,
		logger:  l.With("component", "httpapi"),
		clients: xsync.NewMapOf[string, *wsClient](),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	metricsPath := cfg.MetricsPath
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))

	r.GET("/healthz", s.health)
	r.GET(metricsPath, gin.WrapH(metricsHandler(NewRegistry(ctrl.Metrics(), s.clients.Size))))
	r.GET("/events", s.events)

	r.GET("/relays/:num", s.getReading(ctrl.GetRelay, micros.FunctionRelay))
	r.PUT("/relays/:num", s.setSwitch(ctrl.SetRelay, micros.FunctionRelay))
	r.GET("/flags/:num", s.getReading(ctrl.GetFlag, micros.FunctionFlag))
	r.PUT("/flags/:num", s.setSwitch(ctrl.SetFlag, micros.FunctionFlag))
	r.GET("/dimmers/:num", s.getReading(ctrl.GetDimmer, micros.FunctionDimmer))
	r.PUT("/dimmers/:num", s.setDimmer)
	r.GET("/sensors/:num", s.getReading(ctrl.GetSensor, micros.FunctionSensor))
	r.POST("/moods/:kind/:num", s.setMood)

	s.srv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	s.unsubscribe = ctrl.Subscribe(s.broadcast)

	return s
}

// Handler returns the routed engine.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start serves until Shutdown is called. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http api listening", "addr", s.srv.Addr)

	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops accepting requests, closes the event streams and drops the
// driver subscription.
func (s *Server) Shutdown(ctx context.Context) error {
	s.unsubscribe()

	s.clients.Range(func(_ string, c *wsClient) bool {
		c.close()
		return true
	})

	return s.srv.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	if err := s.ctrl.Err(); err != nil {
		c.String(http.StatusServiceUnavailable, err.Error())
		return
	}

	c.String(http.StatusOK, "ok")
}

func requestLogger(l logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		l.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
		)
	}
}
