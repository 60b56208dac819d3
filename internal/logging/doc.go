// Package logging provides structured logging for moentap.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the sync engine. It provides both general logging
// functions and specialized functions for domain-specific logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (channel events, patch contents, pings)
//   - Info: Normal operations (connections, refreshes, state changes)
//   - Warn: Non-fatal issues (dropped frames, partial fetch failures, retries)
//   - Error: Fatal issues (startup failures, authentication errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device subscribed",
//	    zap.String("serial", "315260240"),
//	    zap.String("channel", "private-abc123"),
//	)
//
// # Specialized Logging
//
// The package provides domain-specific logging functions:
//
//	logging.LogConnection(endpoint, "connection_established")
//	logging.LogChannelEvent(channel, event, len(payload))
//	logging.LogRefresh(deviceCount, failedCount)
//	logging.LogDeviceUpdate(serial, "push")
//
// # Configuration
//
// Logging is silent by default. Set the MOENTAP_LOG_LEVEL environment
// variable (debug, info, warn, error) or call Initialize explicitly:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
