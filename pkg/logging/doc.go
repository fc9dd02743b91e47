// Package logging builds the slog loggers used by inbound.
//
// Listener adapters derive their logger with ForListener so every record
// carries the protocol and listener name:
//
//	log := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON})
//	logging.ForListener(log, "mqtt", "telemetry").Info("subscribed", "topic", "devices/#")
//
// Constructors that take an optional *slog.Logger fall back to Nop through
// OrNop.
package logging
