// Package logging provides the minimal logging interface used throughout
// lang2file and adapters for slog and zap.
//
// Every component takes a Logger through its options. Log calls use a dotted
// event name as message followed by alternating key/value pairs:
//
//	logger.Info("router.classify.decision", "task", true, "reason", "pattern")
//
// Adapters:
//
//   - SlogAdapter wraps a *slog.Logger (NewSlogLogger builds one for a level and format)
//   - ZapAdapter wraps a *zap.Logger (NewZapLogger builds a production or development logger)
//   - NoOpLogger discards everything and is the default when no logger is configured
package logging
