package api

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/metrics"
	"github.com/getmockd/inbound/pkg/protocol"
)

// Controller is what the API needs from the listener manager.
type Controller interface {
	List() []protocol.Status
	Status(name string) (protocol.Status, error)
	Deploy(ctx context.Context, cfg config.ListenerConfig) (protocol.Listener, error)
	Undeploy(ctx context.Context, name string) error
	Pause(name string) error
	Resume(ctx context.Context, name string) error
	Activate(ctx context.Context, name string) error
	Deactivate(ctx context.Context, name string) error
}

// Server is the control API server.
type Server struct {
	ctrl       Controller
	httpServer *http.Server
	host       string
	port       int
	log        *slog.Logger

	mu   sync.Mutex
	lis  net.Listener
	done chan struct{}
}

// NewServer creates a control API server. A nil gatherer serves the default
// Prometheus registry on /metrics.
func NewServer(ctrl Controller, gatherer prometheus.Gatherer, host string, port int) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		ctrl: ctrl,
		host: host,
		port: port,
		log:  logging.Nop(),
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler(gatherer))

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Undeploy blocks for the drain window.
		WriteTimeout: 5 * time.Minute,
	}
	return s
}

// SetLogger sets the logger.
func (s *Server) SetLogger(log *slog.Logger) {
	if log != nil {
		s.log = log
	}
}

// Handler returns the routed handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start binds the port and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", net.JoinHostPort(s.host, strconv.Itoa(s.port)))
	if err != nil {
		return err
	}
	done := make(chan struct{})
	s.mu.Lock()
	s.lis, s.done = lis, done
	s.mu.Unlock()

	s.log.Info("starting control API", "address", lis.Addr().String())
	go func() {
		defer close(done)
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API server error", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lis == nil {
		return nil
	}
	return s.lis.Addr()
}

// Stop shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	<-done
	return err
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /listeners", s.handleListListeners)
	mux.HandleFunc("POST /listeners", s.handleDeploy)
	mux.HandleFunc("GET /listeners/{name}", s.handleGetListener)
	mux.HandleFunc("DELETE /listeners/{name}", s.handleUndeploy)
	mux.HandleFunc("POST /listeners/{name}/{action}", s.handleAction)
}
