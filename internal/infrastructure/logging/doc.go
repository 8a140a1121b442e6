// Package logging provides structured logging for the GO DAIKIN bridge.
//
// It wraps log/slog so every record carries the service name and build
// version. JSON output is the default; text output is easier to read when
// running the bridge by hand.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("bridge started", "devices", n)
//
// Never log vendor passwords, Cognito tokens or MQTT credentials.
package logging
