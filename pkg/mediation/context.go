package mediation

import (
	"sync"
	"time"

	"github.com/getmockd/inbound/pkg/protocol"
)

// Standard property keys set on every MessageContext.
const (
	PropertyListener    = "inbound.listener"
	PropertyProtocol    = "inbound.protocol"
	PropertyContentType = "inbound.contentType"
)

// MessageContext is the canonical message passed to the engine.
type MessageContext struct {
	CorrelationID   string
	InboundEndpoint string
	Protocol        protocol.Protocol
	ContentType     string
	Payload         []byte
	// Document is the payload parsed by the content-type builder.
	Document   any
	ReceivedAt time.Time

	mu          sync.RWMutex
	properties  map[string]string
	response    []byte
	hasResponse bool
}

// NewMessageContext creates an empty context.
func NewMessageContext(correlationID string) *MessageContext {
	return &MessageContext{
		CorrelationID: correlationID,
		ReceivedAt:    time.Now(),
		properties:    make(map[string]string),
	}
}

// SetProperty sets a transport or mediation property.
func (m *MessageContext) SetProperty(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.properties == nil {
		m.properties = make(map[string]string)
	}
	m.properties[key] = value
}

// Property returns a property value.
func (m *MessageContext) Property(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.properties[key]
	return v, ok
}

// Properties returns a copy of all properties.
func (m *MessageContext) Properties() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.properties))
	for k, v := range m.properties {
		out[k] = v
	}
	return out
}

// SetResponse stores the reply produced by a sequence.
func (m *MessageContext) SetResponse(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = b
	m.hasResponse = true
}

// Response returns the reply, if any sequence produced one.
func (m *MessageContext) Response() ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.response, m.hasResponse
}
