package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP front of the lock server: the lock protocol plus prometheus metrics
type Server struct {
	httpServer *http.Server
	logger     hclog.Logger
}

// metricsPath may be empty to leave metrics unexposed
func NewServer(httpAddr string, locks http.Handler, metricsPath string, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	metrics := promhttp.Handler()
	// no ServeMux: it cleans paths and redirects before the lock handler
	// gets to reject them
	dispatch := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if metricsPath != "" && r.URL.Path == metricsPath {
			metrics.ServeHTTP(w, r)
			return
		}
		locks.ServeHTTP(w, r)
	})

	return &Server{
		httpServer: &http.Server{
			Addr:              httpAddr,
			Handler:           dispatch,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// blocks until Stop, listening on the configured address
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	return s.Serve(ctx, lis)
}

func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.logger.Info("lock server listening", "addr", lis.Addr())

	if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
