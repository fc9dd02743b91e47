package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/netutil"

	"github.com/getmockd/inbound/pkg/logging"
)

// ShutdownGrace is the usual grace for http.Server.Shutdown when a port is
// released with nothing in flight.
const ShutdownGrace = 5 * time.Second

// Route is one listener's claim on a port.
type Route struct {
	Host    string
	Port    int
	Path    string
	Handler http.Handler
	// TLS enables TLS on the port. The first route on a port decides.
	TLS *tls.Config
	// MaxConnections caps concurrent connections on the port; zero means
	// unlimited. The first route on a port decides.
	MaxConnections int
}

// EndpointManager owns the HTTP servers shared by WebSocket listeners.
type EndpointManager struct {
	mu    sync.Mutex
	ports map[int]*portServer
	log   *slog.Logger
}

// NewEndpointManager creates an empty manager.
func NewEndpointManager(log *slog.Logger) *EndpointManager {
	return &EndpointManager{
		ports: make(map[int]*portServer),
		log:   logging.OrNop(log).With("component", "websocket-endpoints"),
	}
}

type portServer struct {
	port   int
	secure bool
	lis    net.Listener
	srv    *http.Server
	done   chan struct{}

	mu     sync.RWMutex
	routes map[string]http.Handler
}

func (p *portServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.RLock()
	h, ok := p.routes[r.URL.Path]
	p.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	h.ServeHTTP(w, r)
}

// Acquire registers a route, binding the port if this is its first route,
// and returns the bound address. Port zero always binds a fresh ephemeral
// port; the returned address carries the real port to release with.
func (m *EndpointManager) Acquire(rt Route) (net.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ps, ok := m.ports[rt.Port]; ok && rt.Port != 0 {
		if ps.secure != (rt.TLS != nil) {
			return nil, fmt.Errorf("%w: port %d", ErrPortSecurityMismatch, rt.Port)
		}
		ps.mu.Lock()
		defer ps.mu.Unlock()
		if _, taken := ps.routes[rt.Path]; taken {
			return nil, fmt.Errorf("%w: %d%s", ErrPathInUse, rt.Port, rt.Path)
		}
		ps.routes[rt.Path] = rt.Handler
		m.log.Debug("route added to bound port", "port", rt.Port, "path", rt.Path, "routes", len(ps.routes))
		return ps.lis.Addr(), nil
	}

	lis, err := net.Listen("tcp", net.JoinHostPort(rt.Host, strconv.Itoa(rt.Port)))
	if err != nil {
		return nil, err
	}
	if rt.MaxConnections > 0 {
		lis = netutil.LimitListener(lis, rt.MaxConnections)
	}
	if rt.TLS != nil {
		lis = tls.NewListener(lis, rt.TLS)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	ps := &portServer{
		port:   port,
		secure: rt.TLS != nil,
		lis:    lis,
		done:   make(chan struct{}),
		routes: map[string]http.Handler{rt.Path: rt.Handler},
	}
	ps.srv = &http.Server{
		Handler:           ps,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(m.log.Handler(), slog.LevelDebug),
	}
	go func() {
		defer close(ps.done)
		if err := ps.srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.log.Error("websocket server stopped", "port", port, "error", err)
		}
	}()
	m.ports[port] = ps
	m.log.Info("port bound", "port", port, "tls", ps.secure, "maxConnections", rt.MaxConnections)
	return lis.Addr(), nil
}

// Release removes a route and shuts the port down when no routes remain.
// The server gets up to grace to finish active requests; a zero grace
// closes it at once, abandoning them.
func (m *EndpointManager) Release(ctx context.Context, port int, path string, grace time.Duration) error {
	m.mu.Lock()
	ps, ok := m.ports[port]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d%s", ErrRouteNotFound, port, path)
	}
	ps.mu.Lock()
	if _, ok := ps.routes[path]; !ok {
		ps.mu.Unlock()
		m.mu.Unlock()
		return fmt.Errorf("%w: %d%s", ErrRouteNotFound, port, path)
	}
	delete(ps.routes, path)
	remaining := len(ps.routes)
	ps.mu.Unlock()
	if remaining > 0 {
		m.mu.Unlock()
		return nil
	}
	delete(m.ports, port)
	m.mu.Unlock()

	if grace > 0 {
		sctx, cancel := context.WithTimeout(ctx, grace)
		defer cancel()
		if err := ps.srv.Shutdown(sctx); err != nil {
			_ = ps.srv.Close()
		}
	} else {
		_ = ps.srv.Close()
	}
	<-ps.done
	m.log.Info("port released", "port", port, "forced", grace <= 0)
	return nil
}

// Bound reports whether port currently has a server.
func (m *EndpointManager) Bound(port int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.ports[port]
	return ok
}

// Routes returns the number of routes registered on port.
func (m *EndpointManager) Routes(port int) int {
	m.mu.Lock()
	ps, ok := m.ports[port]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.routes)
}
