// Package config provides 12-factor configuration management for scriptd.
//
// Configuration is resolved in three layers, later layers winning:
//   - Built-in defaults (Default)
//   - An optional YAML file (LoadFile)
//   - SCRIPTD_* environment variables
//
// Configuration Sections:
//   - Script: per-invocation timeout, load timeout, script directory
//   - Process: kill grace period, stream chunk size, spawn rate limits
//   - Queue: deferred queue capacity and per-tick budget
//   - Fetch: outbound HTTP timeout, retries, rate limits
//   - Debug: introspection server toggle and bind address
//   - Logging: log level and output format
//
// Example Usage:
//
//	cfg, err := config.LoadFile("/etc/strata/scriptd.yaml")
//	if err != nil {
//	    cfg = config.LoadOrDefault()
//	}
//	timeout := cfg.Script.Timeout()
//
// Environment Variables:
//   - SCRIPTD_SCRIPT_TIMEOUT_MS, SCRIPTD_LOAD_TIMEOUT_MS, SCRIPTD_SCRIPT_DIR
//   - SCRIPTD_KILL_GRACE_MS, SCRIPTD_CHUNK_SIZE, SCRIPTD_SPAWN_PER_SECOND
//   - SCRIPTD_DEFERRED_CAPACITY, SCRIPTD_DEFERRED_PER_TICK
//   - SCRIPTD_DEBUG_ENABLED, SCRIPTD_DEBUG_ADDR
//   - SCRIPTD_LOG_LEVEL, SCRIPTD_LOG_DEV
package config
