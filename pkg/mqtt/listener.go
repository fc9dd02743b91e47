package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/getmockd/inbound/internal/id"
	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/lifecycle"
	"github.com/getmockd/inbound/pkg/logging"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/protocol"
	inboundtls "github.com/getmockd/inbound/pkg/tls"
)

// Defaults.
const (
	DefaultQoS            = 1
	DefaultConnectTimeout = 5 * time.Second
	DefaultContentType    = "application/json"
	// DisconnectQuiesce is how long Disconnect waits for outstanding work, in ms.
	DisconnectQuiesce = 250
)

// Message properties set on every routed message.
const (
	PropertyTopic     = "mqtt.topic"
	PropertyQoS       = "mqtt.qos"
	PropertyMessageID = "mqtt.messageId"
	PropertyRetained  = "mqtt.retained"
	PropertyDuplicate = "mqtt.duplicate"
)

var _ protocol.Listener = (*Listener)(nil)

// Config is the parsed MQTT listener configuration.
type Config struct {
	Broker         string
	Topic          string
	QoS            byte
	ClientID       string
	CleanSession   bool
	Username       string
	Password       string
	ConnectTimeout time.Duration
	ContentType    string
	TLS            *inboundtls.Material
}

// ParseConfig reads MQTT parameters. broker and topic are mandatory.
func ParseConfig(cfg config.ListenerConfig, log *slog.Logger) (Config, error) {
	p := cfg.Params(log)
	broker, err := p.Required("broker")
	if err != nil {
		return Config{}, err
	}
	if u, perr := url.Parse(broker); perr != nil || u.Scheme == "" || u.Host == "" {
		return Config{}, &protocol.ConfigurationError{Listener: cfg.Name, Key: "broker", Err: fmt.Errorf("invalid broker URL %q", broker)}
	}
	topic, err := p.Required("topic")
	if err != nil {
		return Config{}, err
	}
	return Config{
		Broker:         broker,
		Topic:          topic,
		QoS:            byte(p.Int("qos", DefaultQoS, 0, 2)),
		ClientID:       p.String("clientId", cfg.Name+"-"+id.ULID()),
		CleanSession:   p.Bool("cleanSession", true),
		Username:       p.String("username", ""),
		Password:       p.String("password", ""),
		ConnectTimeout: p.Millis("connectTimeoutMillis", DefaultConnectTimeout),
		ContentType:    p.String("contentType", DefaultContentType),
		TLS:            cfg.TLS,
	}, nil
}

// Listener is the inbound MQTT adapter.
type Listener struct {
	*lifecycle.Lifecycle

	cfg     Config
	handler *mediation.Handler
	log     *slog.Logger

	mu         sync.Mutex
	client     paho.Client
	subscribed atomic.Bool
}

// NewListener creates an MQTT listener. Nothing connects until Start.
func NewListener(cfg config.ListenerConfig, rt lifecycle.Runtime) (*Listener, error) {
	if cfg.Protocol != protocol.ProtocolMQTT {
		return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "protocol", Err: protocol.ErrUnknownProtocol}
	}
	if cfg.TLS != nil {
		if err := cfg.TLS.Validate(); err != nil {
			return nil, &protocol.ConfigurationError{Listener: cfg.Name, Key: "tls", Err: err}
		}
	}
	log := logging.ForListener(rt.Log, string(cfg.Protocol), cfg.Name)
	parsed, err := ParseConfig(cfg, log)
	if err != nil {
		return nil, err
	}
	l := &Listener{cfg: parsed, handler: rt.Handler(cfg)}
	l.Lifecycle = lifecycle.New((*transport)(l), rt.Options(cfg))
	l.log = l.Logger()
	return l, nil
}

// Config returns the parsed configuration.
func (l *Listener) Config() Config { return l.cfg }

// Connected reports whether the broker connection is up.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client != nil && l.client.IsConnectionOpen()
}

func (l *Listener) clientOptions() (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().
		AddBroker(l.cfg.Broker).
		SetClientID(l.cfg.ClientID).
		SetCleanSession(l.cfg.CleanSession).
		SetConnectTimeout(l.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetOrderMatters(false).
		SetAutoAckDisabled(true).
		SetOnConnectHandler(l.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			l.log.Warn("broker connection lost", "broker", l.cfg.Broker, "error", err)
		})
	if l.cfg.Username != "" {
		opts.SetUsername(l.cfg.Username)
		opts.SetPassword(l.cfg.Password)
	}
	if l.cfg.TLS != nil {
		tc, err := l.cfg.TLS.ClientConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tc)
	}
	return opts, nil
}

// onConnect restores the subscription after an automatic reconnect. The
// first subscription is made synchronously by Bind.
func (l *Listener) onConnect(c paho.Client) {
	if !l.subscribed.Load() {
		return
	}
	if err := l.subscribe(c); err != nil {
		l.log.Error("resubscribe failed", "topic", l.cfg.Topic, "error", err)
		return
	}
	l.log.Info("resubscribed after reconnect", "topic", l.cfg.Topic)
}

func (l *Listener) subscribe(c paho.Client) error {
	tok := c.Subscribe(l.cfg.Topic, l.cfg.QoS, l.onMessage)
	if !tok.WaitTimeout(l.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe to %q timed out", l.cfg.Topic)
	}
	return tok.Error()
}

// onMessage routes one broker message. Paused messages are left
// unacknowledged.
func (l *Listener) onMessage(_ paho.Client, msg paho.Message) {
	release, ok := l.Admit()
	if !ok {
		l.log.Debug("message not routed while paused", "topic", msg.Topic(), "messageId", msg.MessageID())
		return
	}
	defer release()

	in := mediation.Inbound{
		Payload:     msg.Payload(),
		ContentType: l.cfg.ContentType,
		Properties: map[string]string{
			PropertyTopic:     msg.Topic(),
			PropertyQoS:       strconv.Itoa(int(msg.Qos())),
			PropertyMessageID: strconv.Itoa(int(msg.MessageID())),
			PropertyRetained:  strconv.FormatBool(msg.Retained()),
			PropertyDuplicate: strconv.FormatBool(msg.Duplicate()),
		},
	}
	// Failed handoffs are acked too; the handler has already logged them and
	// run the onError sequence, and redelivery would fail the same way.
	_, _ = l.handler.Inject(context.Background(), in)
	msg.Ack()
}

// transport owns the broker connection for the lifecycle.
type transport Listener

func (t *transport) Bind(ctx context.Context) error {
	l := (*Listener)(t)
	opts, err := l.clientOptions()
	if err != nil {
		return &protocol.TransportBindError{Listener: l.Name(), Address: l.cfg.Broker, Err: err}
	}
	c := paho.NewClient(opts)
	tok := c.Connect()
	select {
	case <-tok.Done():
	case <-time.After(l.cfg.ConnectTimeout):
		c.Disconnect(0)
		return &protocol.TransportBindError{Listener: l.Name(), Address: l.cfg.Broker, Err: fmt.Errorf("connect timed out after %s", l.cfg.ConnectTimeout)}
	case <-ctx.Done():
		c.Disconnect(0)
		return &protocol.TransportBindError{Listener: l.Name(), Address: l.cfg.Broker, Err: ctx.Err()}
	}
	if err := tok.Error(); err != nil {
		return &protocol.TransportBindError{Listener: l.Name(), Address: l.cfg.Broker, Err: err}
	}
	if err := l.subscribe(c); err != nil {
		c.Disconnect(0)
		return &protocol.TransportBindError{Listener: l.Name(), Address: l.cfg.Broker, Err: err}
	}
	l.subscribed.Store(true)

	l.mu.Lock()
	l.client = c
	l.mu.Unlock()
	l.log.Info("subscribed", "broker", l.cfg.Broker, "topic", l.cfg.Topic, "qos", l.cfg.QoS, "clientId", l.cfg.ClientID)
	return nil
}

func (t *transport) Unbind(context.Context) error {
	l := (*Listener)(t)
	l.mu.Lock()
	c := l.client
	l.client = nil
	l.mu.Unlock()
	if c == nil {
		return nil
	}
	l.subscribed.Store(false)
	if c.IsConnectionOpen() {
		tok := c.Unsubscribe(l.cfg.Topic)
		if tok.WaitTimeout(l.cfg.ConnectTimeout) && tok.Error() != nil {
			l.log.Warn("unsubscribe failed", "topic", l.cfg.Topic, "error", tok.Error())
		}
	}
	c.Disconnect(DisconnectQuiesce)
	l.log.Info("disconnected", "broker", l.cfg.Broker)
	return nil
}
