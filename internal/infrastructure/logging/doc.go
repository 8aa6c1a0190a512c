// Package logging provides structured logging for Pill Fleet Core.
//
// It wraps log/slog so every component logs the same way: JSON in
// production, text during development, with service and version attached
// to each entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("dispenser registered", "serial", serial)
//	logger.Error("schedule sync failed", "device_id", id, "error", err)
//
// Never log broker passwords, SMTP credentials or webhook tokens.
// Patient names belong in the event log, not in process logs.
package logging
