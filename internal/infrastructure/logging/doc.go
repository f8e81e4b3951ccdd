// Package logging provides structured logging using uber/zap.
//
// Two output modes are available:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Logs are written to stderr by default. The runner prints script results
// on stdout and the two streams must not mix.
//
// Engine components accept a *zap.Logger; use Component to derive one:
//
//	logger, err := logging.New(logging.FromSettings(cfg.Logging))
//	iso := engine.NewIsolate(engine.WithLogger(logger.Component("engine")))
package logging
