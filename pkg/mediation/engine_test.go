package mediation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/inbound/pkg/protocol"
)

func TestLocalEngine_BuiltinSequences(t *testing.T) {
	e := NewLocalEngine(nil)
	assert.Equal(t, []string{"drop", "echo", "log"}, e.Sequences())

	_, ok := e.LookupSequence("nope")
	assert.False(t, ok)
}

func TestLocalEngine_AsyncAndClose(t *testing.T) {
	e := NewLocalEngine(nil)
	var ran atomic.Int32
	e.Register("slow", func(context.Context, *MessageContext) (bool, error) {
		time.Sleep(20 * time.Millisecond)
		ran.Add(1)
		return true, nil
	})
	seq, ok := e.LookupSequence("slow")
	require.True(t, ok)

	for i := 0; i < 3; i++ {
		accepted, err := e.InjectInbound(context.Background(), e.CreateMessageContext(), seq, false)
		require.NoError(t, err)
		require.True(t, accepted)
	}

	require.NoError(t, e.Close(context.Background()))
	assert.Equal(t, int32(3), ran.Load())

	accepted, err := e.InjectInbound(context.Background(), e.CreateMessageContext(), seq, true)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestPublisherEngine_PublishesToSequenceTopic(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := pubSub.Subscribe(ctx, "orders")
	require.NoError(t, err)

	e := NewPublisherEngine(pubSub, nil)
	h := NewHandler(e, HandlerConfig{Listener: "orders-mqtt", Protocol: protocol.ProtocolMQTT, Sequence: "orders"})

	go func() {
		_, _ = h.Inject(ctx, Inbound{
			Payload:     []byte(`{"id":3}`),
			ContentType: "application/json",
			Properties:  map[string]string{"mqtt.topic": "shop/orders"},
		})
	}()

	select {
	case msg := <-msgs:
		assert.Equal(t, `{"id":3}`, string(msg.Payload))
		assert.Equal(t, "orders-mqtt", msg.Metadata.Get(MetadataListener))
		assert.Equal(t, "mqtt", msg.Metadata.Get(MetadataProtocol))
		assert.Equal(t, "shop/orders", msg.Metadata.Get("mqtt.topic"))
		msg.Ack()
	case <-ctx.Done():
		t.Fatal("message was not published")
	}

	_, ok := e.LookupSequence("")
	assert.False(t, ok)
}

func TestForward_RunsLocalSequence(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	local := NewLocalEngine(nil)
	got := make(chan *MessageContext, 1)
	local.Register("audit", func(_ context.Context, mc *MessageContext) (bool, error) {
		select {
		case got <- mc:
		default:
		}
		return true, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done, err := Forward(ctx, pubSub, pubSub, "audit", local)
	require.NoError(t, err)

	e := NewPublisherEngine(pubSub, nil)
	seq, _ := e.LookupSequence("audit")

	mc := e.CreateMessageContext()
	mc.Payload = []byte("hi")
	mc.InboundEndpoint = "feed"
	accepted, err := e.InjectInbound(ctx, mc, seq, false)
	require.NoError(t, err)
	require.True(t, accepted)

	select {
	case received := <-got:
		assert.Equal(t, "hi", string(received.Payload))
		assert.Equal(t, "feed", received.InboundEndpoint)
		assert.Equal(t, mc.CorrelationID, received.CorrelationID)
	case <-time.After(5 * time.Second):
		t.Fatal("forwarded message not processed")
	}

	require.NoError(t, pubSub.Close())
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Forward did not stop after close")
	}
}

func TestForward_UnknownSequence(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	defer pubSub.Close()
	_, err := Forward(context.Background(), pubSub, pubSub, "missing", NewLocalEngine(nil))
	assert.ErrorIs(t, err, ErrSequenceNotFound)
}

func TestForward_FailedMessagesAreNotRedelivered(t *testing.T) {
	tests := []struct {
		name string
		fn   SequenceFunc
	}{
		{"refused", func(context.Context, *MessageContext) (bool, error) { return false, nil }},
		{"error", func(context.Context, *MessageContext) (bool, error) { return false, errors.New("boom") }},
		{"panic", func(context.Context, *MessageContext) (bool, error) { panic("boom") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
			t.Cleanup(func() { _ = pubSub.Close() })

			var calls atomic.Int32
			local := NewLocalEngine(nil)
			local.Register("audit", func(ctx context.Context, mc *MessageContext) (bool, error) {
				calls.Add(1)
				return tt.fn(ctx, mc)
			})

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			_, err := Forward(ctx, pubSub, pubSub, "audit", local)
			require.NoError(t, err)

			e := NewPublisherEngine(pubSub, nil)
			seq, _ := e.LookupSequence("audit")
			mc := e.CreateMessageContext()
			mc.Payload = []byte("once")
			_, err = e.InjectInbound(ctx, mc, seq, false)
			require.NoError(t, err)

			require.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 5*time.Millisecond)
			time.Sleep(200 * time.Millisecond)
			assert.Equal(t, int32(1), calls.Load())
		})
	}
}

func TestPublisherEngine_SequentialWithoutReplies(t *testing.T) {
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { _ = pubSub.Close() })

	e := NewPublisherEngine(pubSub, nil)
	seq, _ := e.LookupSequence("audit")
	accepted, err := e.InjectInbound(context.Background(), e.CreateMessageContext(), seq, true)
	assert.False(t, accepted)
	assert.ErrorIs(t, err, ErrSequentialUnsupported)
}

func newReplyingEngine(t *testing.T, local *LocalEngine, sequences ...string) *PublisherEngine {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	for _, name := range sequences {
		_, err := Forward(ctx, pubSub, pubSub, name, local)
		require.NoError(t, err)
	}
	e := NewPublisherEngine(pubSub, nil)
	_, err := e.ServeReplies(ctx, pubSub, ReplyTopic)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e
}

func TestHandler_InjectSequentialThroughPublisher(t *testing.T) {
	local := NewLocalEngine(nil)
	local.Register("deny", func(context.Context, *MessageContext) (bool, error) { return false, nil })
	local.Register("fail", func(context.Context, *MessageContext) (bool, error) { return false, errors.New("backend down") })
	local.Register("silent", func(context.Context, *MessageContext) (bool, error) { return true, nil })
	e := newReplyingEngine(t, local, SequenceEcho, "deny", "fail", "silent")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	in := Inbound{Payload: []byte("ping"), ContentType: "text/plain"}

	t.Run("response returned", func(t *testing.T) {
		h := NewHandler(e, HandlerConfig{Listener: "echo-ws", Protocol: protocol.ProtocolWebSocket, Sequence: SequenceEcho})
		mc, err := h.InjectSequential(ctx, in)
		require.NoError(t, err)
		resp, ok := mc.Response()
		require.True(t, ok)
		assert.Equal(t, "ping", string(resp))
		assert.Equal(t, "text/plain", mc.ContentType)
	})

	t.Run("no response", func(t *testing.T) {
		h := NewHandler(e, HandlerConfig{Listener: "echo-ws", Protocol: protocol.ProtocolWebSocket, Sequence: "silent"})
		mc, err := h.InjectSequential(ctx, in)
		require.NoError(t, err)
		_, ok := mc.Response()
		assert.False(t, ok)
	})

	t.Run("refused", func(t *testing.T) {
		h := NewHandler(e, HandlerConfig{Listener: "echo-ws", Protocol: protocol.ProtocolWebSocket, Sequence: "deny"})
		_, err := h.InjectSequential(ctx, in)
		var herr *HandoffError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, ReasonRejected, herr.Reason)
	})

	t.Run("sequence error", func(t *testing.T) {
		h := NewHandler(e, HandlerConfig{Listener: "echo-ws", Protocol: protocol.ProtocolWebSocket, Sequence: "fail"})
		_, err := h.InjectSequential(ctx, in)
		var herr *HandoffError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, ReasonEngine, herr.Reason)
		assert.ErrorContains(t, err, "backend down")
	})
}

func TestPublisherEngine_SequentialWaitEndsOnClose(t *testing.T) {
	local := NewLocalEngine(nil)
	release := make(chan struct{})
	local.Register("slow", func(context.Context, *MessageContext) (bool, error) {
		<-release
		return true, nil
	})
	t.Cleanup(func() { close(release) })
	e := newReplyingEngine(t, local, "slow")
	seq, _ := e.LookupSequence("slow")

	errCh := make(chan error, 1)
	go func() {
		_, err := e.InjectInbound(context.Background(), e.CreateMessageContext(), seq, true)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, e.Close(context.Background()))
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrEngineClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("sequential wait did not end on close")
	}
}
