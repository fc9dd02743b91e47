package cli

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/getmockd/inbound/pkg/config"
	"github.com/getmockd/inbound/pkg/engine"
	"github.com/getmockd/inbound/pkg/logging"
)

// shutdownMargin is added to the global budget for unbinding and closing
// the control API after the last drain.
const shutdownMargin = 5 * time.Second

// serveFlags holds all flags for the serve command.
type serveFlags struct {
	configPath      string
	logLevel        string
	logFormat       string
	adminPort       int
	shutdownTimeout time.Duration
}

// serveFlagVals is the package-level instance bound to cobra flags.
var serveFlagVals serveFlags

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Deploy the configured listeners and run until SIGINT/SIGTERM",
	Long: `Deploy every listener in the configuration file, start the control API
and run in the foreground. Flags override the values in the file.

On SIGINT or SIGTERM the global shutdown timer starts and every listener is
destroyed in parallel: the admission gate closes, in-flight work drains for up
to the listener's undeploymentWaitTimeoutMillis (bounded by the global
budget), then the transport is released.`,
	Example: `  # Start with a config file
  inboundd serve --config inbound.yaml

  # JSON logs and a shorter shutdown budget
  inboundd serve -c inbound.yaml --log-format json --shutdown-timeout 10s

  # Disable the control API
  inboundd serve -c inbound.yaml --admin-port -1`,
	RunE: runServe,
}

func init() {
	f := &serveFlagVals

	serveCmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to config file (YAML or JSON)")
	serveCmd.Flags().StringVar(&f.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	serveCmd.Flags().StringVar(&f.logFormat, "log-format", "text", "Log format (text, json)")
	serveCmd.Flags().IntVar(&f.adminPort, "admin-port", config.DefaultAdminPort, "Control API port (-1 disables it)")
	serveCmd.Flags().DurationVar(&f.shutdownTimeout, "shutdown-timeout", time.Duration(config.DefaultShutdownTimeoutMillis)*time.Millisecond, "Global graceful shutdown budget")

	rootCmd.AddCommand(serveCmd)
}

// loadServeConfig reads the config file, if any, and applies the flags the
// user set explicitly.
func loadServeConfig(f *serveFlags, changed func(name string) bool) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.LoadFromFile(f.configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}
	if changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if changed("log-format") {
		cfg.Logging.Format = f.logFormat
	}
	if changed("admin-port") {
		cfg.Admin.Port = f.adminPort
	}
	if changed("shutdown-timeout") {
		if f.shutdownTimeout < 0 {
			return nil, fmt.Errorf("--shutdown-timeout must not be negative")
		}
		cfg.Shutdown.TimeoutMillis = f.shutdownTimeout.Milliseconds()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadServeConfig(&serveFlagVals, cmd.Flags().Changed)
	if err != nil {
		return err
	}

	log := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
		Output: cmd.ErrOrStderr(),
	})

	e, err := engine.New(cfg, engine.WithLogger(log))
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := e.Start(ctx); err != nil {
		if !errors.Is(err, engine.ErrListenersFailed) {
			_ = e.Shutdown(context.Background())
			return fmt.Errorf("failed to start: %w", err)
		}
		log.Warn("continuing without failed listeners", "error", err)
	}

	log.Info("inboundd started",
		"listeners", len(e.Manager().List()),
		"admin", e.AdminAddr(),
		"engine", cfg.Mediation.Engine,
		"config", serveFlagVals.configPath,
		"configHash", computeConfigHash(cfg),
	)

	<-ctx.Done()
	stop()

	log.Info("shutting down", "timeout", cfg.Shutdown.Timeout())
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout()+shutdownMargin)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// computeConfigHash returns a sha256 hash prefix of the serialized config.
func computeConfigHash(cfg *config.Config) string {
	data, err := config.ToYAML(cfg)
	if err != nil {
		return "unknown"
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("sha256:%x", h[:8])
}
