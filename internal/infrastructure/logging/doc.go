// Package logging provides structured logging for Smart Water Core.
//
// This package wraps Go's standard log/slog package. Every entry carries
// the service name and build version; component and profile loggers add
// their own fields.
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	fetchLog := logger.Component("fetch").Profile(id, name)
//	fetchLog.Info("retry from WEB", "delay", "5s")
//
// # Security
//
// Never log cloud passwords or access tokens.
package logging
