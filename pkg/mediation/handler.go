package mediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/metrics"
	"github.com/getmockd/inbound/pkg/protocol"
)

const tracerName = "github.com/getmockd/inbound/pkg/mediation"

// HandlerConfig configures a Handler.
type HandlerConfig struct {
	Listener   string
	Protocol   protocol.Protocol
	Sequence   string
	OnError    string
	Sequential bool
	Builders   *Builders
	Metrics    *metrics.Metrics
	Log        *slog.Logger
	Tracer     trace.Tracer
}

// Inbound is one protocol-native unit of work.
type Inbound struct {
	Payload     []byte
	ContentType string
	Properties  map[string]string
}

// Handler injects inbound messages of one listener into the engine.
type Handler struct {
	engine Engine
	cfg    HandlerConfig
	log    *slog.Logger
	tracer trace.Tracer
}

// NewHandler creates a Handler for a listener.
func NewHandler(engine Engine, cfg HandlerConfig) *Handler {
	if cfg.Builders == nil {
		cfg.Builders = NewBuilders()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Handler{
		engine: engine,
		cfg:    cfg,
		log:    logging.ForListener(cfg.Log, string(cfg.Protocol), cfg.Listener),
		tracer: tracer,
	}
}

// Sequential reports whether messages are processed synchronously.
func (h *Handler) Sequential() bool { return h.cfg.Sequential }

// Inject builds the message context and hands it to the configured
// sequence. It never panics; every failure is returned as *HandoffError.
func (h *Handler) Inject(ctx context.Context, in Inbound) (*MessageContext, error) {
	return h.inject(ctx, in, h.cfg.Sequential)
}

// InjectSequential is Inject with sequential processing forced, for callers
// that must wait for the sequence's response.
func (h *Handler) InjectSequential(ctx context.Context, in Inbound) (*MessageContext, error) {
	return h.inject(ctx, in, true)
}

func (h *Handler) inject(ctx context.Context, in Inbound, sequential bool) (mc *MessageContext, err error) {
	ctx, span := h.tracer.Start(ctx, "inbound.inject", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()
	span.SetAttributes(
		attribute.String("inbound.listener", h.cfg.Listener),
		attribute.String("inbound.protocol", string(h.cfg.Protocol)),
		attribute.String("inbound.sequence", h.cfg.Sequence),
	)

	defer func() {
		if r := recover(); r != nil {
			err = h.fail(ctx, mc, ReasonPanic, fmt.Errorf("%w: %v", ErrPanic, r))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	if h.engine == nil {
		return nil, h.fail(ctx, nil, ReasonEngine, ErrNoEngine)
	}

	mc = h.engine.CreateMessageContext()
	mc.InboundEndpoint = h.cfg.Listener
	mc.Protocol = h.cfg.Protocol
	mc.ContentType = in.ContentType
	mc.Payload = in.Payload
	for k, v := range in.Properties {
		mc.SetProperty(k, v)
	}
	mc.SetProperty(PropertyListener, h.cfg.Listener)
	mc.SetProperty(PropertyProtocol, string(h.cfg.Protocol))
	mc.SetProperty(PropertyContentType, in.ContentType)
	span.SetAttributes(attribute.String("inbound.correlation_id", mc.CorrelationID))

	doc, buildErr := h.cfg.Builders.For(in.ContentType).Build(in.Payload)
	if buildErr != nil {
		return mc, h.fail(ctx, mc, ReasonBuild, buildErr)
	}
	mc.Document = doc

	seq, ok := h.engine.LookupSequence(h.cfg.Sequence)
	if !ok {
		return mc, h.fail(ctx, mc, ReasonSequenceNotFound, fmt.Errorf("%w: %q", ErrSequenceNotFound, h.cfg.Sequence))
	}

	accepted, injectErr := h.engine.InjectInbound(ctx, mc, seq, sequential)
	if injectErr != nil {
		return mc, h.fail(ctx, mc, ReasonEngine, injectErr)
	}
	if !accepted {
		return mc, h.fail(ctx, mc, ReasonRejected, ErrRejected)
	}
	return mc, nil
}

func (h *Handler) fail(ctx context.Context, mc *MessageContext, reason Reason, cause error) error {
	herr := &HandoffError{
		Listener: h.cfg.Listener,
		Sequence: h.cfg.Sequence,
		Reason:   reason,
		Err:      cause,
	}
	if mc != nil {
		herr.CorrelationID = mc.CorrelationID
	}
	h.cfg.Metrics.HandoffFailed(string(h.cfg.Protocol), h.cfg.Listener, string(reason))
	h.log.Warn("message handoff failed",
		"sequence", h.cfg.Sequence, "reason", reason, "correlationId", herr.CorrelationID, "error", cause)

	if mc != nil {
		h.injectFault(ctx, mc, herr)
	}
	return herr
}

// injectFault runs the onError sequence for a failed message. Failures here
// are only logged.
func (h *Handler) injectFault(ctx context.Context, mc *MessageContext, cause *HandoffError) {
	if h.cfg.OnError == "" || h.cfg.OnError == h.cfg.Sequence {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			h.log.Error("panic in onError sequence", "sequence", h.cfg.OnError, "panic", r)
		}
	}()
	seq, ok := h.engine.LookupSequence(h.cfg.OnError)
	if !ok {
		h.log.Warn("onError sequence not found", "sequence", h.cfg.OnError)
		return
	}
	mc.SetProperty("ERROR_CODE", string(cause.Reason))
	mc.SetProperty("ERROR_MESSAGE", cause.Err.Error())
	if _, err := h.engine.InjectInbound(ctx, mc, seq, true); err != nil && !errors.Is(err, context.Canceled) {
		h.log.Warn("onError sequence failed", "sequence", h.cfg.OnError, "error", err)
	}
}
