// Package logging provides structured logging for the nxscope tools.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the client. It provides both general logging
// functions and specialized functions for protocol-specific logging needs.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (hex dumps, frame parsing, resync events)
//   - Info: Normal operations (connections, commands, state changes)
//   - Warn: Non-fatal issues (dropped frames, retries)
//   - Error: Fatal issues (transport failures, critical errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device connected",
//	    zap.String("transport", "serial"),
//	    zap.Uint8("chmax", 11),
//	)
//
// # Specialized Logging
//
// Frame Logging:
//
//	logging.LogFrame("tx", frame.IDStart, raw)
//	logging.LogFrame("rx", frame.IDAck, raw)
//
// Raw byte Logging:
//
//	logging.LogRawBytes("resync discard", data)
//
// # Configuration
//
// Logging is silent by default so that CLI output stays clean. Set the
// NXSCOPE_LOG_LEVEL environment variable or initialize explicitly:
//
//	if err := logging.InitializeFromEnv(); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Output Format
//
// Logs are written to stderr in console format (human-readable):
//
//	2025-11-25T10:30:45.123-0800  DEBUG  frame
//	  direction=rx
//	  id=ACK
//	  length=10
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
