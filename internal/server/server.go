package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/jsbridge/internal/debugger"
	"github.com/GriffinCanCode/jsbridge/internal/engine"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/jsbridge/internal/infrastructure/monitoring"
)

// commandTimeout bounds how long a debugger command may wait for an answer.
const commandTimeout = 10 * time.Second

var ErrNoPool = errors.New("server requires a context pool")

// Host holds the engine pieces the inspector serves. Debugger may be nil
// to run without the debug routes.
type Host struct {
	Pool     *engine.Pool
	Debugger *debugger.Debugger
	Metrics  *monitoring.Metrics
	// Gatherer backs GET /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// Server wraps the HTTP server and dependencies
type Server struct {
	router  *gin.Engine
	host    Host
	hub     *hub
	limiter *IPLimiter
	logger  *zap.Logger
	config  *config.Config
}

// New creates the inspector. When a debugger is given it is attached to
// the pool's isolate and commands are drained in pooled contexts.
func New(cfg *config.Config, host Host) (*Server, error) {
	if host.Pool == nil {
		return nil, ErrNoPool
	}
	logger := host.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := host.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(monitoring.Middleware(host.Metrics))

	cors := DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(CORS(cors))

	s := &Server{
		router: router,
		host:   host,
		logger: logger,
		config: cfg,
	}

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		s.limiter = NewIPLimiter(RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		})
		router.Use(s.limiter.Middleware())
	}

	h := &handlers{
		pool:        host.Pool,
		debugger:    host.Debugger,
		logger:      logger,
		timeout:     commandTimeout,
		evalTimeout: cfg.Pool.EvalTimeout.Std(),
	}

	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	router.POST("/eval", h.eval)

	if d := host.Debugger; d != nil {
		s.hub = newHub(d, host.Metrics, logger, commandTimeout)
		d.OnMessage(s.hub.publish)
		d.OnDispatch(s.drainCommands)
		d.SetEnabled(true)

		router.POST("/debug/command", h.command)
		router.GET("/debug/ws", s.hub.handleConnection)
	}

	logger.Info("Inspector initialized", zap.String("isolate", host.Pool.Isolate().ID()))
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.router }

// drainCommands answers queued debugger commands from a pooled context.
// Commands queued while script is running are usually answered by the
// running script first, which leaves nothing to drain here.
func (s *Server) drainCommands() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()

		c, err := s.host.Pool.Acquire(ctx)
		if err != nil {
			s.logger.Warn("no context to process debugger commands", zap.Error(err))
			return
		}
		defer s.host.Pool.Release(c)

		_ = c.Do(func() error {
			s.host.Debugger.ProcessDebugMessages()
			return nil
		})
	}()
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting inspector", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("inspector failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down inspector...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down inspector: %w", err)
	}
	return s.Close()
}

// Close detaches the debugger. The pool is owned by the caller.
func (s *Server) Close() error {
	if d := s.host.Debugger; d != nil {
		d.SetEnabled(false)
		d.OnMessage(nil)
		d.OnDispatch(nil)
	}
	_ = s.logger.Sync()
	return nil
}
