// Package http serves the debug and introspection API over Gin.
//
// The surface is operator tooling, disabled by default and bound to
// loopback. It is not the script transport and holds no state of its
// own beyond the recent-emission ring.
//
// Endpoints:
//   - GET /health: liveness and uptime
//   - GET /stats: runtime counters and metric snapshot
//   - GET /events: recent emissions, oldest first
//   - POST /emit: inject an event into script code
//   - GET /stream: websocket tap of live emissions
//   - GET /metrics: prometheus exposition
//
// Example Usage:
//
//	srv := http.New(cfg, eng, prometheus.DefaultGatherer, logger)
//	go srv.Run()
//	defer srv.Shutdown(ctx)
package http
