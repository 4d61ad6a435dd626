package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/knxlog/internal/infrastructure/config"
)

const (
	// gracefulShutdownTimeout bounds in-flight scrapes during Close.
	gracefulShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 5 * time.Second

	defaultPath = "/metrics"
)

// Logger interface for optional logging.
type Logger interface {
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Server exposes a Metrics registry over HTTP.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   Logger
}

// Serve starts the metrics endpoint on cfg.Listen and returns once the
// listener is bound, so a port conflict is reported to the caller.
// Requests inherit ctx.
func Serve(ctx context.Context, cfg config.MetricsConfig, m *Metrics, logger Logger) (*Server, error) {
	path := cfg.Path
	if path == "" {
		path = defaultPath
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())

	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}

	s := &Server{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: readHeaderTimeout,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		},
		listener: ln,
		logger:   logger,
	}

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logError("metrics server error", "error", err)
		}
	}()

	s.logInfo("metrics server started", "address", ln.Addr().String(), "path", path)
	return s, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	if s == nil || s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logInfo("metrics server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down metrics server: %w", err)
	}
	return nil
}

func (s *Server) logInfo(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Info(msg, keysAndValues...)
	}
}

func (s *Server) logError(msg string, keysAndValues ...any) {
	if s.logger != nil {
		s.logger.Error(msg, keysAndValues...)
	}
}
