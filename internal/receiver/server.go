package receiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"uploadq/internal/config"
	"uploadq/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// Server is the HTTP receiver for uploadq clients.
type Server struct {
	bind   string
	logger *slog.Logger
	store  *Store
	echo   *echo.Echo
	server *http.Server

	listener net.Listener
}

// NewServer builds the receiver from the server section of cfg.
func NewServer(cfg *config.Config, version string, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	store, err := NewStore(cfg.Server.UploadDir, cfg.Server.StagingDir, cfg.Server.MinFreeBytes, logger)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	return newServer(cfg.Server.Bind, cfg.Server.BodyLimit, store, version, logger), nil
}

func newServer(bind, bodyLimit string, store *Store, version string, logger *slog.Logger) *Server {
	httpLogger := logging.NewComponentLogger(logger, "http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(httpLogger)

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize:         4 << 10,
		DisablePrintStack: true,
	}))
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/health"
		},
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logging.WithContext(c.Request().Context(), httpLogger).Debug("request",
				logging.String("method", v.Method),
				logging.String("uri", v.URI),
				logging.Int("status", v.Status),
				logging.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	h := NewHandlers(store, version, logger)
	e.POST("/upload", h.HandleUpload)
	e.GET("/files", h.HandleList)
	e.POST("/files/rename", h.HandleRename)
	e.POST("/files/delete", h.HandleDelete)
	e.GET("/health", h.HandleHealth)

	return &Server{
		bind:   bind,
		logger: logging.NewComponentLogger(logger, "receiver"),
		store:  store,
		echo:   e,
		server: &http.Server{
			Handler:           e,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Handler exposes the routed handler for in-process use.
func (s *Server) Handler() http.Handler { return s.echo }

// Store returns the backing file store.
func (s *Server) Store() *Store { return s.store }

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.bind
	}
	return s.listener.Addr().String()
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("receiver listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("receiver server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("receiver listening",
		logging.String("address", listener.Addr().String()),
		logging.String("upload_dir", s.store.UploadDir()),
	)
	return nil
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
