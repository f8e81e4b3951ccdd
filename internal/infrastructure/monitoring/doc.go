/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics for the script bridge,
tracking compilation, script runs, isolate lock contention, resource
faults, debug events and the HTTP inspector.

# Features

- Compile and run counters, run latency
- Isolate lock wait time
- Live context gauge
- Host callback errors by translated error kind
- Stack overflow and memory limit faults
- Debugger WebSocket connection metrics

# Usage

	// Create metrics collector on a private registry
	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	// Attach to an isolate
	iso := engine.NewIsolate(engine.WithMetrics(metrics))

	// Add middleware to Gin router
	router.Use(monitoring.Middleware(metrics))

	// Time operations
	timer := monitoring.NewTimer(metrics)
	// ... run a script ...
	timer.Stop("ok")

# Metrics Endpoint

Expose metrics via the standard Prometheus endpoint:

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
*/
package monitoring
