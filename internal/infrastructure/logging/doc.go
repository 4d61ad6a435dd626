// Package logging provides structured logging for knxlog.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service and version on every entry.
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, discard
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("starting", "knxd", cfg.KNXD.Connection)
//	logger.With("component", "persist").Error("insert failed", "error", err)
package logging
