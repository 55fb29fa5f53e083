// Package logging provides a minimal logging interface and adapters for agentstream.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the runner, tools and provider adapters use. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter wrapping rs/zerolog for the server binary
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", os.Stderr)
//	r := runner.New(func(o *runner.Options) { o.Logger = logger })
//
// Arguments after the message are key/value pairs in slog style.
package logging
