/*
Package monitoring provides metrics collection for the scripting runtime.

# Overview

This package implements Prometheus-based metrics for the script host,
tracking event emissions, script invocations, timers, child processes,
queue pressure, and outbound fetches.

# Metrics

- Event metrics (emissions, registered handlers, invocation duration)
- Script error and timeout counters by invocation kind
- Timer metrics (armed count, expirations)
- Process metrics (live children, spawns, signals)
- Queue metrics (drain depth, deferred drops)
- State query counters by query path
- System metrics (uptime)

# Usage

	// Create metrics collector
	metrics := monitoring.New(prometheus.DefaultRegisterer)

	// Record runtime activity
	metrics.RecordEmit("window:focus")
	metrics.SetTimersActive(3)

	// Time script invocations
	timer := monitoring.StartInvocation(metrics, monitoring.KindEvent)
	// ... run the callback ...
	timer.Stop(false, false)

# Metrics Endpoint

The debug server exposes the standard Prometheus endpoint:

	import "github.com/prometheus/client_golang/prometheus/promhttp"
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
*/
package monitoring
