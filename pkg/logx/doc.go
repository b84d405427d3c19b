// Package logx configures quizbot's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//
// Components receive a Logger derived via With (fixed "svc" field); the
// Service owns the sinks and supports hot re-apply of the logging config
// without invalidating previously handed-out loggers.
package logx
