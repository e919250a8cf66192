// Package logging provides structured logging for hasslink.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version fields on every entry. The same Logger is passed to the
// gateway client, the relay and the status server.
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
//	logger.Info("connected to gateway", "url", cfg.Gateway.URL)
//
// # Security
//
// Never log the gateway access token. Log auth.Redact(token) if the token
// must be identified.
package logging
