// Package server provides the HTTP inspector for a running isolate.
//
// Routes:
//   - GET /healthz: liveness, isolate state and pool occupancy
//   - GET /metrics: Prometheus metrics
//   - POST /eval: evaluate a script in a pooled context
//   - POST /debug/command: send one debugger command and wait for its response
//   - GET /debug/ws: debugger session over WebSocket
//
// The WebSocket carries request packets from the client; responses go back
// to the requesting connection while events are broadcast to every
// connection.
//
// Middleware Stack:
//   - Recovery
//   - Request metrics
//   - CORS
//   - Per-IP rate limiting
//
// Example Usage:
//
//	srv, err := server.New(cfg, server.Host{Pool: pool, Debugger: dbg})
//	if err := srv.Run(ctx); err != nil {
//	    logger.Fatal("inspector failed", zap.Error(err))
//	}
package server
