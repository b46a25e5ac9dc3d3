// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - an optional JSON file sink tee'd with the console for the log dir,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, WarnKV, ErrorKV, etc.).
//
// Every component accepts a context and extracts the logger from it, so
// per-job and per-host fields follow the work through the call chain.
package logger
