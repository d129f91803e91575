// Package logging provides structured logging for the rovo client library.
//
// This package wraps zap logger with convenience functions for common logging
// patterns used throughout the library. Logging is silent unless explicitly
// enabled, so embedding applications keep full control of their output.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (payload dumps, request ids, topic churn)
//   - Info: Normal operations (session start, device connects)
//   - Warn: Non-fatal issues (connection drops, decode failures, late replies)
//   - Error: Fatal issues (callback panics, unrecoverable session errors)
//
// # Structured Logging
//
// All log functions use structured fields for queryability:
//
//	logging.Info("Device connected",
//	    zap.String("duid", "ABC123"),
//	    zap.String("model", "roborock.vacuum.s7"),
//	)
//
// # Configuration
//
// Initialize logging at startup, or set ROVO_LOG_LEVEL in the environment:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When neither is set the package installs a nop logger, which is the
// expected default for a library.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. The underlying zap logger
// handles synchronization automatically.
package logging
