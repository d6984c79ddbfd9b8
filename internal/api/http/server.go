package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stratawm/strata/scripting/internal/api/middleware"
	"github.com/stratawm/strata/scripting/internal/api/ws"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/engine"
	"github.com/stratawm/strata/scripting/internal/events"
	"github.com/stratawm/strata/scripting/internal/logging"
)

// Server is the debug and introspection surface. It is disabled
// unless the config turns it on, and it is not the script transport;
// everything here is read-mostly operator tooling.
type Server struct {
	eng     *engine.Engine
	log     *logging.Logger
	history *events.History
	tap     *ws.Tap
	srv     *http.Server
}

// New assembles the router and handlers. gatherer is the prometheus
// registry the metrics collector was registered on.
func New(cfg *config.Config, eng *engine.Engine, gatherer prometheus.Gatherer, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{
		eng:     eng,
		log:     logger.Named("debug"),
		history: events.NewHistory(cfg.Queue.EventHistory),
		tap:     ws.NewTap(logger.Named("debug")),
	}

	if cfg.Logging.Development && logging.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	router.Use(middleware.GlobalRateLimit(middleware.DefaultRateLimitConfig()))

	router.GET("/health", s.health)
	router.GET("/stats", s.stats)
	router.GET("/events", s.events)
	router.POST("/emit", s.emit)
	router.GET("/stream", s.tap.HandleConnection)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	s.srv = &http.Server{
		Addr:              cfg.Debug.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Observe from construction on, so the ring already has context
	// by the time an operator connects.
	eng.Bus().SetObserver(s.observe)
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Run serves until Shutdown or a listener failure.
func (s *Server) Run() error {
	s.log.Info("debug server listening", zap.String("addr", s.srv.Addr))
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown detaches the observer, drops websocket clients and stops
// the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.eng.Bus().SetObserver(nil)
	s.tap.Close()
	return s.srv.Shutdown(ctx)
}

// observe runs inline on the executor after each emission; it must
// stay cheap and must not call back into the runtime.
func (s *Server) observe(event string, payload any, handlers int) {
	entry := s.history.Record(event, payload, handlers)
	if !s.tap.Active() {
		return
	}
	frame, err := sonic.Marshal(entry)
	if err != nil {
		return
	}
	s.tap.Broadcast(frame)
}
