package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/engine/api"
	"github.com/getmockd/inbound/pkg/httputil"
	"github.com/getmockd/inbound/pkg/protocol"
)

const sampleConfig = `
logging: {level: warn}
shutdown: {timeoutMillis: 5000}
listeners:
  - name: orders
    protocol: grpc
    sequence: echo
    parameters: {port: "0"}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inbound.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadServeConfig_FlagsOverrideFile(t *testing.T) {
	f := &serveFlags{
		configPath:      writeConfig(t, sampleConfig),
		logLevel:        "debug",
		logFormat:       "json",
		adminPort:       -1,
		shutdownTimeout: 2 * time.Second,
	}
	changed := map[string]bool{"log-level": true, "admin-port": true, "shutdown-timeout": true}

	cfg, err := loadServeConfig(f, func(name string) bool { return changed[name] })
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format, "unchanged flags keep file or default values")
	assert.Equal(t, -1, cfg.Admin.Port)
	assert.Equal(t, int64(2000), cfg.Shutdown.TimeoutMillis)
	require.Len(t, cfg.Listeners, 1)
	assert.Equal(t, protocol.ProtocolGRPC, cfg.Listeners[0].Protocol)
}

func TestLoadServeConfig_Errors(t *testing.T) {
	none := func(string) bool { return false }

	_, err := loadServeConfig(&serveFlags{configPath: filepath.Join(t.TempDir(), "missing.yaml")}, none)
	assert.ErrorIs(t, err, config.ErrFileNotFound)

	_, err = loadServeConfig(&serveFlags{shutdownTimeout: -time.Second}, func(n string) bool { return n == "shutdown-timeout" })
	assert.Error(t, err)

	cfg, err := loadServeConfig(&serveFlags{}, none)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultAdminPort, cfg.Admin.Port)
}

func TestComputeConfigHash(t *testing.T) {
	a := config.Default()
	b := config.Default()
	b.Admin.Port = 1

	h := computeConfigHash(a)
	assert.Regexp(t, `^sha256:[0-9a-f]{16}$`, h)
	assert.Equal(t, h, computeConfigHash(config.Default()))
	assert.NotEqual(t, h, computeConfigHash(b))
}

func TestConfigCommands(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"config", "validate", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "valid (1 listeners)")

	out.Reset()
	rootCmd.SetArgs([]string{"config", "show", path})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "name: orders")
	assert.Contains(t, out.String(), "timeoutMillis: 5000")

	bad := writeConfig(t, "listeners: [{name: x, protocol: smtp, sequence: y}]")
	rootCmd.SetArgs([]string{"config", "validate", bad})
	assert.Error(t, rootCmd.Execute())
}

func TestListenersCommand(t *testing.T) {
	var paused bool
	mux := http.NewServeMux()
	mux.HandleFunc("GET /listeners", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteOK(w, api.ListenersResponse{
			Listeners: []protocol.Status{{Name: "orders", Protocol: protocol.ProtocolGRPC, State: protocol.StateRunning, InFlight: 2}},
			Count:     1,
		})
	})
	mux.HandleFunc("POST /listeners/orders/pause", func(w http.ResponseWriter, _ *http.Request) {
		paused = true
		httputil.WriteOK(w, protocol.Status{Name: "orders", Protocol: protocol.ProtocolGRPC, State: protocol.StatePaused})
	})
	mux.HandleFunc("POST /listeners/nope/pause", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteNotFound(w, "not_found", "listener not found: nope")
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"listeners", "--admin-url", srv.URL})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "orders")
	assert.Contains(t, out.String(), "running")

	out.Reset()
	rootCmd.SetArgs([]string{"listeners", "pause", "orders", "--admin-url", srv.URL})
	require.NoError(t, rootCmd.Execute())
	assert.True(t, paused)
	assert.Contains(t, out.String(), "paused")

	rootCmd.SetArgs([]string{"listeners", "pause", "nope", "--admin-url", srv.URL})
	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listener not found")
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version", "--json=false"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "inboundd ")
	assert.Contains(t, out.String(), "protocols: grpc, mqtt, ws, wss, httpws")

	out.Reset()
	rootCmd.SetArgs([]string{"version", "--json"})
	require.NoError(t, rootCmd.Execute())
	var v versionInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Len(t, v.Protocols, 5)
	assert.NotEmpty(t, v.Go)
	jsonOutput = false
}
