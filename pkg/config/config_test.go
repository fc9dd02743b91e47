package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/inbound/pkg/protocol"
	"github.com/getmockd/inbound/pkg/tls"
)

const sampleYAML = `
logging:
  level: debug
shutdown:
  timeoutMillis: 5000
listeners:
  - name: orders-grpc
    protocol: GRPC
    sequence: orders
    onError: fault
    sequential: true
    undeploymentWaitTimeoutMillis: 2000
    parameters:
      port: "8888"
      reflection: "true"
  - name: sensors
    protocol: mqtt
    sequence: log
    startInPausedMode: true
    parameters:
      broker: tcp://localhost:1883
      topic: sensors/#
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFromFile_YAML(t *testing.T) {
	cfg, err := LoadFromFile(writeFile(t, "inbound.yaml", sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, 5*time.Second, cfg.Shutdown.Timeout())
	assert.Equal(t, 100*time.Millisecond, cfg.Shutdown.PollInterval())
	assert.Equal(t, DefaultAdminPort, cfg.Admin.Port)
	assert.Equal(t, EngineLocal, cfg.Mediation.Engine)

	require.Len(t, cfg.Listeners, 2)
	l := cfg.Listeners[0]
	assert.Equal(t, protocol.ProtocolGRPC, l.Protocol)
	assert.Equal(t, 2*time.Second, l.UndeploymentWait())
	assert.True(t, l.Sequential)
	assert.Equal(t, "fault", l.OnError)
	assert.True(t, cfg.Listeners[1].StartInPausedMode)
	assert.Zero(t, cfg.Listeners[1].UndeploymentWait())
}

func TestLoadFromFile_JSON(t *testing.T) {
	path := writeFile(t, "inbound.json", `{"listeners":[{"name":"feed","protocol":"ws","sequence":"echo"}]}`)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, protocol.ProtocolWebSocket, cfg.Listeners[0].Protocol)
}

func TestLoadFromFile_Errors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = LoadFromFile(writeFile(t, "empty.yaml", "  \n"))
	assert.ErrorIs(t, err, ErrEmptyFile)

	_, err = LoadFromFile(writeFile(t, "bad.json", "{nope"))
	assert.ErrorIs(t, err, ErrInvalidJSON)

	_, err = LoadFromFile(writeFile(t, "bad.yaml", "listeners: [\n"))
	assert.ErrorIs(t, err, ErrInvalidYAML)

	_, err = LoadFromFile(t.TempDir())
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name: "duplicate names",
			cfg: Config{Listeners: []ListenerConfig{
				{Name: "a", Protocol: protocol.ProtocolWebSocket, Sequence: "s"},
				{Name: "a", Protocol: protocol.ProtocolGRPC, Sequence: "s"},
			}},
			wantErr: "duplicate listener name",
		},
		{
			name:    "unknown protocol",
			cfg:     Config{Listeners: []ListenerConfig{{Name: "a", Protocol: "amqp", Sequence: "s"}}},
			wantErr: "unknown protocol",
		},
		{
			name:    "missing sequence",
			cfg:     Config{Listeners: []ListenerConfig{{Name: "a", Protocol: protocol.ProtocolGRPC}}},
			wantErr: "sequence: is required",
		},
		{
			name:    "negative wait",
			cfg:     Config{Listeners: []ListenerConfig{{Name: "a", Protocol: protocol.ProtocolGRPC, Sequence: "s", UndeploymentWaitTimeoutMillis: -1}}},
			wantErr: "must not be negative",
		},
		{
			name:    "wss without tls",
			cfg:     Config{Listeners: []ListenerConfig{{Name: "a", Protocol: protocol.ProtocolSecureWebSocket, Sequence: "s"}}},
			wantErr: "tls:",
		},
		{
			name:    "unknown engine",
			cfg:     Config{Mediation: MediationConfig{Engine: "kafka"}},
			wantErr: "unknown engine",
		},
		{
			name: "valid wss",
			cfg: Config{Listeners: []ListenerConfig{{
				Name: "a", Protocol: protocol.ProtocolSecureWebSocket, Sequence: "s",
				TLS: &tls.Material{CertFile: "c.pem", KeyFile: "k.pem"},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParams(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	l := ListenerConfig{Name: "feed", Parameters: map[string]string{
		"port":    "abc",
		"qos":     "7",
		"retain":  "yes",
		"path":    " /events ",
		"timeout": "250",
		"blank":   "  ",
	}}
	p := l.Params(log)

	assert.Equal(t, 9091, p.Port(9091))
	assert.Equal(t, 1, p.Int("qos", 1, 0, 2))
	assert.False(t, p.Bool("retain", false))
	assert.Equal(t, "/events", p.String("path", "/"))
	assert.Equal(t, "x", p.String("blank", "x"))
	assert.Equal(t, 250*time.Millisecond, p.Millis("timeout", time.Second))
	assert.Equal(t, time.Second, p.Millis("absent", time.Second))

	out := buf.String()
	assert.Contains(t, out, "parameter=port")
	assert.Contains(t, out, "parameter=qos")
	assert.Contains(t, out, "parameter=retain")

	_, err := p.Required("broker")
	var cerr *protocol.ConfigurationError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "broker", cerr.Key)
	assert.ErrorIs(t, err, ErrMissingParameter)
}

func TestParams_PortZeroAllowed(t *testing.T) {
	l := ListenerConfig{Name: "x", Parameters: map[string]string{"port": "0"}}
	assert.Equal(t, 0, l.Params(nil).Port(8888))

	l.Parameters["port"] = "70000"
	assert.Equal(t, 8888, l.Params(nil).Port(8888))
}

func TestToYAML(t *testing.T) {
	cfg := Default()
	data, err := ToYAML(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timeoutMillis: 30000")

	_, err = ToYAML(nil)
	assert.Error(t, err)
}
