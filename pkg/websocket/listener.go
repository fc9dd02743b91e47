package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	ws "github.com/coder/websocket"

	"github.com/getmockd/inbound/internal/id"
	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/httputil"
	"github.com/getmockd/inbound/pkg/lifecycle"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/protocol"
	inboundtls "github.com/getmockd/inbound/pkg/tls"
)

// Defaults.
const (
	DefaultPath           = "/"
	DefaultContentType    = "text/plain"
	DefaultMaxMessageSize = 1 << 20
	binaryContentType     = "application/octet-stream"
	retryAfter            = time.Second
)

// Message properties set on every routed frame or request.
const (
	PropertyConnectionID = "ws.connectionId"
	PropertyPath         = "ws.path"
	PropertyRemoteAddr   = "ws.remoteAddr"
	PropertyFrameType    = "ws.frameType"
	PropertyHTTPMethod   = "http.method"
)

// DefaultPort returns the default port for a WebSocket family protocol.
func DefaultPort(p protocol.Protocol) int {
	switch p {
	case protocol.ProtocolSecureWebSocket:
		return 9092
	case protocol.ProtocolHTTPWebSocket:
		return 9093
	default:
		return 9091
	}
}

// Supports reports whether p is served by this package.
func Supports(p protocol.Protocol) bool { return p.IsWebSocketFamily() }

var _ protocol.Listener = (*Listener)(nil)

// Config is the parsed WebSocket listener configuration.
type Config struct {
	Host           string
	Port           int
	Path           string
	ContentType    string
	MaxConnections int
	MaxMessageSize int64
	TLS            *inboundtls.Material
}

// ParseConfig reads WebSocket parameters.
func ParseConfig(cfg config.ListenerConfig, log *slog.Logger) Config {
	p := cfg.Params(log)
	path := p.String("path", DefaultPath)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return Config{
		Host:           p.String("host", ""),
		Port:           p.Port(DefaultPort(cfg.Protocol)),
		Path:           path,
		ContentType:    p.String("contentType", DefaultContentType),
		MaxConnections: p.Int("maxConnections", 0, 0, 1<<20),
		MaxMessageSize: int64(p.Int("maxMessageSize", DefaultMaxMessageSize, 1, 1<<30)),
		TLS:            cfg.TLS,
	}
}

// Listener is the inbound adapter for ws, wss and httpws.
type Listener struct {
	*lifecycle.Lifecycle

	cfg       Config
	endpoints *EndpointManager
	handler   *mediation.Handler
	log       *slog.Logger

	mu     sync.Mutex
	addr   net.Addr
	conns  map[string]*ws.Conn
	cancel context.CancelFunc
	ctx    context.Context
	wg     sync.WaitGroup
}

// NewListener creates a WebSocket family listener that registers its route
// with endpoints. A nil manager gives the listener a private one.
func NewListener(cfg config.ListenerConfig, rt lifecycle.Runtime, endpoints *EndpointManager) (*Listener, error) {
	if !Supports(cfg.Protocol) {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "protocol", Err: protocol.ErrUnknownProtocol}
	}
	if cfg.Protocol == protocol.ProtocolSecureWebSocket && cfg.TLS == nil {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "tls", Err: inboundtls.ErrMissingKeyPair}
	}
	if cfg.TLS != nil {
		if err := cfg.TLS.Validate(); err != nil {
			return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "tls", Err: err}
		}
	}
	if endpoints == nil {
		endpoints = NewEndpointManager(rt.Log)
	}
	l := &Listener{
		endpoints: endpoints,
		handler:   rt.Handler(cfg),
		conns:     make(map[string]*ws.Conn),
	}
	l.Lifecycle = lifecycle.New((*transport)(l), rt.Options(cfg))
	l.log = l.Logger()
	l.cfg = ParseConfig(cfg, l.log)
	return l, nil
}

// Config returns the parsed configuration.
func (l *Listener) Config() Config { return l.cfg }

// Addr returns the bound address, or nil while unbound.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.addr
}

// Connections returns the number of open WebSocket connections.
func (l *Listener) Connections() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

func isUpgrade(r *http.Request) bool {
	for _, v := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
		}
	}
	return false
}

// ServeHTTP handles requests routed to this listener's path.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if isUpgrade(r) {
		l.serveUpgrade(w, r)
		return
	}
	if l.Protocol() == protocol.ProtocolHTTPWebSocket {
		l.serveHTTP(w, r)
		return
	}
	httputil.WriteError(w, http.StatusUpgradeRequired, "upgrade_required", "websocket upgrade required")
}

func (l *Listener) unavailable(w http.ResponseWriter) {
	httputil.WriteRetryLater(w, retryAfter, "paused", fmt.Sprintf("listener %s is paused", l.Name()))
}

func (l *Listener) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	if l.IsPaused() {
		l.Reject()
		l.unavailable(w)
		return
	}
	c, err := ws.Accept(w, r, &ws.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    ws.CompressionDisabled,
	})
	if err != nil {
		l.log.Debug("upgrade failed", "remoteAddr", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(l.cfg.MaxMessageSize)

	connID := id.Prefixed("ws")
	l.mu.Lock()
	if l.ctx == nil {
		l.mu.Unlock()
		_ = c.Close(ws.StatusGoingAway, "listener is shutting down")
		return
	}
	ctx := l.ctx
	l.conns[connID] = c
	l.wg.Add(1)
	l.mu.Unlock()

	l.log.Debug("connection opened", "connectionId", connID, "remoteAddr", r.RemoteAddr)
	go l.readLoop(ctx, c, connID, r.RemoteAddr)
}

func (l *Listener) readLoop(ctx context.Context, c *ws.Conn, connID, remoteAddr string) {
	defer l.wg.Done()
	defer func() {
		l.mu.Lock()
		delete(l.conns, connID)
		l.mu.Unlock()
		_ = c.CloseNow()
		l.log.Debug("connection closed", "connectionId", connID)
	}()

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		l.frame(ctx, c, typ, data, connID, remoteAddr)
	}
}

// frame routes one frame. Frames on a paused listener are dropped.
func (l *Listener) frame(ctx context.Context, c *ws.Conn, typ ws.MessageType, data []byte, connID, remoteAddr string) {
	release, ok := l.Admit()
	if !ok {
		l.log.Debug("frame dropped while paused", "connectionId", connID, "size", len(data))
		return
	}
	defer release()

	contentType := l.cfg.ContentType
	frameType := "text"
	if typ == ws.MessageBinary {
		contentType = binaryContentType
		frameType = "binary"
	}
	mc, err := l.handler.Inject(ctx, mediation.Inbound{
		Payload:     data,
		ContentType: contentType,
		Properties: map[string]string{
			PropertyConnectionID: connID,
			PropertyPath:         l.cfg.Path,
			PropertyRemoteAddr:   remoteAddr,
			PropertyFrameType:    frameType,
		},
	})
	if err != nil {
		return
	}
	if resp, ok := mc.Response(); ok {
		if err := c.Write(ctx, typ, resp); err != nil {
			l.log.Debug("response write failed", "connectionId", connID, "error", err)
		}
	}
}

// serveHTTP handles plain HTTP requests on an httpws listener.
func (l *Listener) serveHTTP(w http.ResponseWriter, r *http.Request) {
	release, ok := l.Admit()
	if !ok {
		l.unavailable(w)
		return
	}
	defer release()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, l.cfg.MaxMessageSize))
	if err != nil {
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, "body_too_large", err.Error())
		return
	}
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = l.cfg.ContentType
	}
	props := map[string]string{
		PropertyPath:       r.URL.Path,
		PropertyRemoteAddr: r.RemoteAddr,
		PropertyHTTPMethod: r.Method,
	}
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			props["http.query."+k] = v[0]
		}
	}
	mc, err := l.handler.InjectSequential(r.Context(), mediation.Inbound{Payload: body, ContentType: contentType, Properties: props})
	if err != nil {
		var herr *mediation.HandoffError
		if errors.As(err, &herr) && herr.Reason == mediation.ReasonSequenceNotFound {
			httputil.WriteError(w, http.StatusBadGateway, string(herr.Reason), err.Error())
			return
		}
		httputil.WriteInternalError(w, "handoff_failed", err.Error())
		return
	}
	w.Header().Set("X-Correlation-Id", mc.CorrelationID)
	resp, ok := mc.Response()
	if !ok {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if mc.ContentType != "" {
		w.Header().Set("Content-Type", mc.ContentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(resp)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(resp)
}

// transport registers the listener's route with the endpoint manager.
type transport Listener

func (t *transport) Bind(context.Context) error {
	l := (*Listener)(t)
	address := net.JoinHostPort(l.cfg.Host, strconv.Itoa(l.cfg.Port))
	route := Route{
		Host:           l.cfg.Host,
		Port:           l.cfg.Port,
		Path:           l.cfg.Path,
		Handler:        l,
		MaxConnections: l.cfg.MaxConnections,
	}
	if l.cfg.TLS != nil {
		tc, err := l.cfg.TLS.ServerConfig()
		if err != nil {
			return &protocol.TransportBindError{Listener: l.Name(), Address: address, Err: err}
		}
		route.TLS = tc
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.mu.Lock()
	l.ctx, l.cancel = ctx, cancel
	l.mu.Unlock()

	addr, err := l.endpoints.Acquire(route)
	if err != nil {
		l.mu.Lock()
		l.ctx, l.cancel = nil, nil
		l.mu.Unlock()
		cancel()
		return &protocol.TransportBindError{Listener: l.Name(), Address: address, Err: err}
	}
	l.mu.Lock()
	l.addr = addr
	l.mu.Unlock()
	l.log.Info("websocket listener bound", "address", addr.String(), "path", l.cfg.Path, "tls", route.TLS != nil)
	return nil
}

// Unbind releases the route and closes every open connection. With work
// still in flight the port and connections are closed at once and the
// abandoned handlers are not waited for.
func (t *transport) Unbind(ctx context.Context) error {
	l := (*Listener)(t)
	l.mu.Lock()
	addr := l.addr
	cancel := l.cancel
	conns := make([]*ws.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.addr, l.ctx, l.cancel = nil, nil, nil
	l.mu.Unlock()
	if addr == nil {
		return nil
	}

	grace := ShutdownGrace
	if l.InFlight() > 0 {
		grace = 0
	}
	err := l.endpoints.Release(ctx, addr.(*net.TCPAddr).Port, l.cfg.Path, grace)
	var closing sync.WaitGroup
	for _, c := range conns {
		if grace == 0 {
			_ = c.CloseNow()
			continue
		}
		closing.Add(1)
		go func(c *ws.Conn) {
			defer closing.Done()
			_ = c.Close(ws.StatusGoingAway, "listener stopped")
		}(c)
	}
	closing.Wait()
	if cancel != nil {
		cancel()
	}
	if grace > 0 {
		l.wg.Wait()
	}
	l.log.Info("websocket listener unbound", "address", addr.String(), "connectionsClosed", len(conns), "forced", grace == 0)
	return err
}
