// Package config provides 12-factor configuration for the jsbridge runner
// and inspector.
//
// Configuration starts from defaults, is overlaid by an optional YAML or
// TOML file, and finally by environment variables.
//
// Configuration Sections:
//   - Server: inspector HTTP settings (port, host, CORS origins)
//   - Engine: isolate resource limits, extensions, console
//   - Pool: context pool for the eval endpoint
//   - Debug: debugger endpoints
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting
//
// Example Usage:
//
//	cfg, err := config.Load("jsbridge.yaml")
//	fmt.Printf("Inspector on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - JSB_SERVER_PORT, JSB_SERVER_HOST, JSB_SERVER_ALLOWED_ORIGINS
//   - JSB_ENGINE_MAX_OLD_SPACE_SIZE, JSB_ENGINE_MAX_CALL_STACK_SIZE, JSB_ENGINE_EXTENSIONS
//   - JSB_POOL_SIZE, JSB_POOL_ACQUIRE_TIMEOUT, JSB_POOL_EVAL_TIMEOUT
//   - JSB_LOGGING_LEVEL, JSB_LOGGING_DEVELOPMENT
//   - JSB_RATE_LIMIT_REQUESTS_PER_SECOND, JSB_RATE_LIMIT_BURST, JSB_RATE_LIMIT_ENABLED
package config
