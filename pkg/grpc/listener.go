package grpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/lifecycle"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/protocol"
	inboundtls "github.com/getmockd/inbound/pkg/tls"
)

// Defaults.
const (
	DefaultPort        = 8888
	DefaultContentType = "application/json"
	// RetryDelay is advertised to clients rejected while paused.
	RetryDelay = time.Second
	// StopGrace bounds GracefulStop when nothing is left in flight.
	StopGrace = time.Second
)

var _ protocol.Listener = (*Listener)(nil)

// Config is the parsed gRPC listener configuration.
type Config struct {
	Host           string
	Port           int
	Reflection     bool
	MaxRecvMsgSize int
	ContentType    string
	TLS            *inboundtls.Material
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ParseConfig reads gRPC parameters, falling back to defaults with a
// warning for malformed optional values.
func ParseConfig(cfg config.ListenerConfig, log *slog.Logger) Config {
	p := cfg.Params(log)
	return Config{
		Host:           p.String("host", ""),
		Port:           p.Port(DefaultPort),
		Reflection:     p.Bool("reflection", false),
		MaxRecvMsgSize: p.Int("maxRecvMsgSize", 0, 0, 1<<30),
		ContentType:    p.String("contentType", DefaultContentType),
		TLS:            cfg.TLS,
	}
}

// Listener is the inbound gRPC adapter.
type Listener struct {
	*lifecycle.Lifecycle

	cfg     Config
	schema  *Schema
	handler *mediation.Handler
	log     *slog.Logger

	mu   sync.Mutex
	srv  *grpc.Server
	lis  net.Listener
	done chan struct{}
}

// NewListener creates a gRPC listener. The port is not bound until Start.
func NewListener(cfg config.ListenerConfig, rt lifecycle.Runtime) (*Listener, error) {
	if cfg.Protocol != protocol.ProtocolGRPC {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "protocol", Err: protocol.ErrUnknownProtocol}
	}
	schema, err := LoadSchema()
	if err != nil {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Err: err}
	}
	if cfg.TLS != nil {
		if err := cfg.TLS.Validate(); err != nil {
			return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "tls", Err: err}
		}
	}

	l := &Listener{
		schema:  schema,
		handler: rt.Handler(cfg),
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
	if l.lis == nil {
		return nil
	}
	return l.lis.Addr()
}

// transport binds the grpc.Server for the lifecycle.
type transport Listener

func (t *transport) Bind(context.Context) error {
	l := (*Listener)(t)
	addr := l.cfg.Address()

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(l.unaryAdmission),
		grpc.ChainStreamInterceptor(l.streamAdmission),
	}
	if l.cfg.MaxRecvMsgSize > 0 {
		opts = append(opts, grpc.MaxRecvMsgSize(l.cfg.MaxRecvMsgSize))
	}
	if l.cfg.TLS != nil {
		tlsCfg, err := l.cfg.TLS.ServerConfig()
		if err != nil {
			return &protocol.TransportBindError{Listener: l.Name(), Address: addr, Err: err}
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return &protocol.TransportBindError{Listener: l.Name(), Address: addr, Err: err}
	}

	srv := grpc.NewServer(opts...)
	srv.RegisterService(l.serviceDesc(), l)
	if l.cfg.Reflection {
		reflectionpb.RegisterServerReflectionServer(srv, reflection.NewServerV1(reflection.ServerOptions{
			Services:           srv,
			DescriptorResolver: l.schema.Files(),
		}))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			l.log.Error("gRPC server error", "error", err)
		}
	}()

	l.mu.Lock()
	l.srv, l.lis, l.done = srv, lis, done
	l.mu.Unlock()
	l.log.Info("gRPC listener bound", "address", lis.Addr().String(), "reflection", l.cfg.Reflection)
	return nil
}

func (t *transport) Unbind(ctx context.Context) error {
	l := (*Listener)(t)
	l.mu.Lock()
	srv, done := l.srv, l.done
	l.srv, l.lis, l.done = nil, nil, nil
	l.mu.Unlock()
	if srv == nil {
		return nil
	}

	// Completed calls may still be flushing their responses; give them a
	// short grace unless work is being abandoned.
	grace := StopGrace
	if l.InFlight() > 0 {
		grace = 0
	}
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-stopped:
	case <-timer.C:
		srv.Stop()
	case <-ctx.Done():
		srv.Stop()
	}

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	l.log.Info("gRPC listener unbound")
	return nil
}

func (l *Listener) serviceDesc() *grpc.ServiceDesc {
	return &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: MethodProcess, Handler: l.unaryHandler(MethodProcess, l.process)},
			{MethodName: MethodConsume, Handler: l.unaryHandler(MethodConsume, l.consume)},
		},
		Streams: []grpc.StreamDesc{
			{StreamName: MethodConsumeStream, Handler: l.consumeStream, ClientStreams: true},
		},
		Metadata: ProtoFile,
	}
}

type unaryFunc func(ctx context.Context, in *dynamicpb.Message) (proto.Message, error)

func (l *Listener) unaryHandler(method string, fn unaryFunc) grpc.MethodHandler {
	fullMethod := "/" + ServiceName + "/" + method
	return func(_ any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := dynamicpb.NewMessage(l.schema.Event)
		if err := dec(in); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "failed to decode request: %v", err)
		}
		if interceptor == nil {
			return fn(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: l, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return fn(ctx, req.(*dynamicpb.Message))
		})
	}
}

func (l *Listener) inbound(ctx context.Context, method string, msg *dynamicpb.Message) mediation.Inbound {
	headers, payload := l.schema.ReadEvent(msg)
	contentType := l.cfg.ContentType
	for k, v := range headers {
		if strings.EqualFold(k, "content-type") && v != "" {
			contentType = v
		}
	}
	props := headers
	props["grpc.method"] = method
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		for k, v := range md {
			if len(v) > 0 && !strings.HasPrefix(k, ":") {
				props["grpc.metadata."+k] = v[0]
			}
		}
	}
	return mediation.Inbound{Payload: []byte(payload), ContentType: contentType, Properties: props}
}

func (l *Listener) process(ctx context.Context, in *dynamicpb.Message) (proto.Message, error) {
	mc, err := l.handler.InjectSequential(ctx, l.inbound(ctx, MethodProcess, in))
	if err != nil {
		return nil, toStatus(err)
	}
	resp, _ := mc.Response()
	headers := map[string]string{"correlation-id": mc.CorrelationID}
	if mc.ContentType != "" {
		headers["Content-Type"] = mc.ContentType
	}
	return l.schema.NewEvent(headers, string(resp)), nil
}

func (l *Listener) consume(ctx context.Context, in *dynamicpb.Message) (proto.Message, error) {
	if _, err := l.handler.Inject(ctx, l.inbound(ctx, MethodConsume, in)); err != nil {
		return nil, toStatus(err)
	}
	return l.schema.NewEmpty(), nil
}

func (l *Listener) consumeStream(_ any, stream grpc.ServerStream) error {
	ctx := stream.Context()
	for {
		in := dynamicpb.NewMessage(l.schema.Event)
		if err := stream.RecvMsg(in); err != nil {
			if errors.Is(err, io.EOF) {
				return stream.SendMsg(l.schema.NewEmpty())
			}
			return err
		}
		// A failed event does not end the stream; the handler already
		// logged it and ran the onError sequence.
		_, _ = l.handler.Inject(ctx, l.inbound(ctx, MethodConsumeStream, in))
	}
}

// toStatus maps a handoff failure to a gRPC status.
func toStatus(err error) error {
	var herr *mediation.HandoffError
	if errors.As(err, &herr) && herr.Reason == mediation.ReasonSequenceNotFound {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// pausedStatus is returned for calls that arrive while the gate is closed.
func pausedStatus(listener string) error {
	st := status.New(codes.Unavailable, fmt.Sprintf("listener %s is paused", listener))
	if withDetails, err := st.WithDetails(&errdetails.RetryInfo{RetryDelay: durationpb.New(RetryDelay)}); err == nil {
		st = withDetails
	}
	return st.Err()
}
