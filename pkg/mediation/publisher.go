package mediation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/getmockd/inbound/internal/id"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/protocol"
)

// Metadata keys set on published messages.
const (
	MetadataListener    = "listener"
	MetadataProtocol    = "protocol"
	MetadataContentType = "content_type"
	MetadataReplyTo     = "reply_to"

	metadataReplyStatus = "reply_status"
	metadataHasResponse = "has_response"
	metadataReplyError  = "reply_error"
)

// ReplyTopic is the default topic sequential replies are published on.
const ReplyTopic = "inbound.replies"

// DefaultReplyTimeout bounds a sequential wait when the caller's context
// has no deadline.
const DefaultReplyTimeout = 30 * time.Second

const (
	replyOK      = "ok"
	replyRefused = "refused"
	replyError   = "error"
)

// ErrSequentialUnsupported is returned for a sequential injection on a
// publisher engine that is not serving replies.
var ErrSequentialUnsupported = errors.New("sequential processing needs a reply subscription")

// ErrEngineClosed is returned to sequential callers still waiting when the
// engine closes.
var ErrEngineClosed = errors.New("mediation engine closed")

type topicSequence string

func (t topicSequence) Name() string { return string(t) }

// PublisherEngine forwards injected messages to a watermill publisher. The
// sequence name is used as the topic, so every non-empty name resolves.
// Sequential injections wait for a reply keyed by correlation id once
// ServeReplies runs.
type PublisherEngine struct {
	pub          message.Publisher
	log          *slog.Logger
	ReplyTimeout time.Duration

	mu         sync.Mutex
	replyTopic string
	pending    map[string]chan *message.Message
	closed     chan struct{}
	closeOnce  sync.Once
}

// NewPublisherEngine wraps pub.
func NewPublisherEngine(pub message.Publisher, log *slog.Logger) *PublisherEngine {
	return &PublisherEngine{
		pub:          pub,
		log:          logging.OrNop(log).With("component", "mediation"),
		ReplyTimeout: DefaultReplyTimeout,
		pending:      make(map[string]chan *message.Message),
		closed:       make(chan struct{}),
	}
}

// CreateMessageContext returns a context with a fresh UUID correlation id.
func (e *PublisherEngine) CreateMessageContext() *MessageContext {
	return NewMessageContext(id.UUID())
}

// LookupSequence maps name to a topic.
func (e *PublisherEngine) LookupSequence(name string) (Sequence, bool) {
	if name == "" {
		return nil, false
	}
	return topicSequence(name), true
}

// ServeReplies subscribes to topic and hands each reply to the sequential
// call waiting on its correlation id. The returned channel closes once the
// subscription ends.
func (e *PublisherEngine) ServeReplies(ctx context.Context, sub message.Subscriber, topic string) (<-chan struct{}, error) {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.replyTopic = topic
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			e.mu.Lock()
			waiter, ok := e.pending[msg.UUID]
			delete(e.pending, msg.UUID)
			e.mu.Unlock()
			if ok {
				waiter <- msg
			} else {
				e.log.Debug("reply without a waiting caller", "correlationId", msg.UUID)
			}
			msg.Ack()
		}
	}()
	return done, nil
}

// InjectInbound publishes mc to the topic named by seq. A sequential call
// then waits for the reply and copies its response into mc.
func (e *PublisherEngine) InjectInbound(ctx context.Context, mc *MessageContext, seq Sequence, sequential bool) (bool, error) {
	msg := message.NewMessage(mc.CorrelationID, mc.Payload)
	for k, v := range mc.Properties() {
		msg.Metadata.Set(k, v)
	}
	msg.Metadata.Set(MetadataListener, mc.InboundEndpoint)
	msg.Metadata.Set(MetadataProtocol, string(mc.Protocol))
	msg.Metadata.Set(MetadataContentType, mc.ContentType)
	msg.SetContext(ctx)

	if !sequential {
		if err := e.pub.Publish(seq.Name(), msg); err != nil {
			return false, err
		}
		return true, nil
	}

	e.mu.Lock()
	replyTopic := e.replyTopic
	if replyTopic == "" {
		e.mu.Unlock()
		return false, ErrSequentialUnsupported
	}
	waiter := make(chan *message.Message, 1)
	e.pending[mc.CorrelationID] = waiter
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pending, mc.CorrelationID)
		e.mu.Unlock()
	}()

	msg.Metadata.Set(MetadataReplyTo, replyTopic)
	if err := e.pub.Publish(seq.Name(), msg); err != nil {
		return false, err
	}

	wait := ctx
	if _, ok := ctx.Deadline(); !ok && e.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, e.ReplyTimeout)
		defer cancel()
	}
	select {
	case reply := <-waiter:
		return applyReply(mc, reply)
	case <-e.closed:
		return false, ErrEngineClosed
	case <-wait.Done():
		return false, fmt.Errorf("waiting for reply to %s: %w", mc.CorrelationID, wait.Err())
	}
}

func applyReply(mc *MessageContext, reply *message.Message) (bool, error) {
	switch reply.Metadata.Get(metadataReplyStatus) {
	case replyOK:
		if reply.Metadata.Get(metadataHasResponse) == "true" {
			mc.SetResponse(reply.Payload)
		}
		if ct := reply.Metadata.Get(MetadataContentType); ct != "" {
			mc.ContentType = ct
		}
		return true, nil
	case replyRefused:
		return false, nil
	default:
		return false, errors.New(reply.Metadata.Get(metadataReplyError))
	}
}

// Close releases waiting sequential callers and closes the publisher.
func (e *PublisherEngine) Close(context.Context) error {
	e.closeOnce.Do(func() { close(e.closed) })
	return e.pub.Close()
}

// Forward subscribes to topic on sub and, on its own goroutine, runs the
// local sequence of the same name for every message. Messages are acked
// whether or not the sequence succeeded; failures are logged and, for
// sequential requests, reported in the reply published on reply. The
// subscription is in place when Forward returns; the returned channel
// closes once ctx is done or the subscription closes.
func Forward(ctx context.Context, sub message.Subscriber, reply message.Publisher, topic string, local *LocalEngine) (<-chan struct{}, error) {
	seq, ok := local.LookupSequence(topic)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSequenceNotFound, topic)
	}
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range msgs {
			forwardOne(msg, topic, seq, local, reply)
			msg.Ack()
		}
	}()
	return done, nil
}

func forwardOne(msg *message.Message, topic string, seq Sequence, local *LocalEngine, reply message.Publisher) {
	mc := NewMessageContext(msg.UUID)
	mc.Payload = msg.Payload
	mc.InboundEndpoint = msg.Metadata.Get(MetadataListener)
	mc.Protocol = protocol.Protocol(msg.Metadata.Get(MetadataProtocol))
	mc.ContentType = msg.Metadata.Get(MetadataContentType)
	for k, v := range msg.Metadata {
		mc.SetProperty(k, v)
	}

	ok, err := runForwarded(msg.Context(), mc, seq, local)
	if err != nil || !ok {
		local.log.Warn("forwarded message not processed", "topic", topic, "correlationId", msg.UUID, "error", err)
	}

	replyTo := msg.Metadata.Get(MetadataReplyTo)
	if replyTo == "" || reply == nil {
		return
	}
	out := message.NewMessage(msg.UUID, nil)
	switch {
	case err != nil:
		out.Metadata.Set(metadataReplyStatus, replyError)
		out.Metadata.Set(metadataReplyError, err.Error())
	case !ok:
		out.Metadata.Set(metadataReplyStatus, replyRefused)
	default:
		out.Metadata.Set(metadataReplyStatus, replyOK)
		resp, has := mc.Response()
		out.Payload = resp
		out.Metadata.Set(metadataHasResponse, strconv.FormatBool(has))
		out.Metadata.Set(MetadataContentType, mc.ContentType)
	}
	if perr := reply.Publish(replyTo, out); perr != nil {
		local.log.Warn("publishing reply failed", "topic", replyTo, "correlationId", msg.UUID, "error", perr)
	}
}

func runForwarded(ctx context.Context, mc *MessageContext, seq Sequence, local *LocalEngine) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return local.InjectInbound(ctx, mc, seq, true)
}
