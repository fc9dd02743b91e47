package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/engine/api"
	"github.com/getmockd/inbound/pkg/mediation"
	"github.com/getmockd/inbound/pkg/protocol"
	"github.com/getmockd/inbound/pkg/websocket"
)

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func httpwsConfig(name string) config.ListenerConfig {
	return config.ListenerConfig{
		Name:       name,
		Protocol:   protocol.ProtocolHTTPWebSocket,
		Sequence:   "capture",
		Parameters: map[string]string{"host": "127.0.0.1", "port": "0", "path": "/in"},
	}
}

func newTestEngine(t *testing.T, engineKind string) (*Engine, chan string) {
	t.Helper()
	local := mediation.NewLocalEngine(nil)
	got := make(chan string, 8)
	local.Register("capture", func(_ context.Context, mc *mediation.MessageContext) (bool, error) {
		got <- string(mc.Payload)
		return true, nil
	})

	cfg := &config.Config{
		Admin:     config.AdminConfig{Port: getFreePort(t)},
		Mediation: config.MediationConfig{Engine: engineKind},
		Shutdown:  config.ShutdownConfig{TimeoutMillis: 2000, PollIntervalMillis: 10},
		Listeners: []config.ListenerConfig{httpwsConfig("ingest")},
	}
	e, err := New(cfg, WithLocalEngine(local), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	return e, got
}

func listenerURL(t *testing.T, e *Engine, name string) string {
	t.Helper()
	l, ok := e.Manager().Get(name)
	require.True(t, ok)
	ws := l.(*websocket.Listener)
	return fmt.Sprintf("http://%s%s", ws.Addr(), ws.Config().Path)
}

func TestEngine_MediationEngines(t *testing.T) {
	for _, kind := range []string{config.EngineLocal, config.EngineChannel} {
		t.Run(kind, func(t *testing.T) {
			e, got := newTestEngine(t, kind)

			resp, err := http.Post(listenerURL(t, e, "ingest"), "text/plain", strings.NewReader("reading-1"))
			require.NoError(t, err)
			_ = resp.Body.Close()
			assert.Less(t, resp.StatusCode, 300)

			select {
			case payload := <-got:
				assert.Equal(t, "reading-1", payload)
			case <-time.After(5 * time.Second):
				t.Fatal("message not delivered to sequence")
			}
		})
	}
}

func TestEngine_SequentialResponseReturned(t *testing.T) {
	for _, kind := range []string{config.EngineLocal, config.EngineChannel} {
		t.Run(kind, func(t *testing.T) {
			e, _ := newTestEngine(t, kind)
			cfg := httpwsConfig("echo")
			cfg.Sequence = mediation.SequenceEcho
			cfg.Parameters["path"] = "/echo"
			_, err := e.Manager().Deploy(context.Background(), cfg)
			require.NoError(t, err)

			resp, err := http.Post(listenerURL(t, e, "echo"), "text/plain", strings.NewReader("ping"))
			require.NoError(t, err)
			body, _ := io.ReadAll(resp.Body)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "ping", string(body))
			assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
		})
	}
}

func TestEngine_ControlAPI(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineLocal)
	base := "http://" + e.AdminAddr().String()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	var health api.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Listeners)

	resp, err = http.Post(base+"/listeners/ingest/pause", "", nil)
	require.NoError(t, err)
	var st protocol.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	_ = resp.Body.Close()
	assert.Equal(t, protocol.StatePaused, st.State)

	resp, err = http.Post(listenerURL(t, e, "ingest"), "text/plain", strings.NewReader("x"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `inbound_listener_rejected_total{listener="ingest",protocol="httpws"} 1`)

	cfg := httpwsConfig("second")
	cfg.Sequence = mediation.SequenceEcho
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	resp, err = http.Post(base+"/listeners", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, base+"/listeners/second", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Len(t, e.Manager().List(), 1)
}

func TestEngine_ShutdownIsIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineChannel)
	addr := e.AdminAddr().String()

	require.NoError(t, e.Shutdown(context.Background()))
	require.NoError(t, e.Shutdown(context.Background()))
	assert.Empty(t, e.Manager().List())

	_, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
	assert.Error(t, err)
}

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(&config.Config{Mediation: config.MediationConfig{Engine: "kafka"}})
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)

	e, err := New(&config.Config{Admin: config.AdminConfig{Port: -1}}, WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.Nil(t, e.AdminAddr())
	assert.Equal(t, -1, e.cfg.Admin.Port)
}
