package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all runtime configuration.
//
// Precedence: defaults < YAML file < environment. Defaults live in
// Default() rather than struct tags so file values are not clobbered
// by tag defaults when the environment leaves a key unset.
type Config struct {
	Script  ScriptConfig  `yaml:"script"`
	Process ProcessConfig `yaml:"process"`
	Queue   QueueConfig   `yaml:"queue"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Debug   DebugConfig   `yaml:"debug"`
	Logging LogConfig     `yaml:"logging"`
}

// ScriptConfig holds script execution configuration.
type ScriptConfig struct {
	// TimeoutMS bounds each callback invocation. 0 disables the limit.
	TimeoutMS int `yaml:"timeout_ms" envconfig:"SCRIPTD_SCRIPT_TIMEOUT_MS"`
	// LoadTimeoutMS bounds top-level script loads. 0 disables the limit;
	// startup code legitimately blocks on wait() style helpers.
	LoadTimeoutMS int    `yaml:"load_timeout_ms" envconfig:"SCRIPTD_LOAD_TIMEOUT_MS"`
	Dir           string `yaml:"dir" envconfig:"SCRIPTD_SCRIPT_DIR"`
}

// ProcessConfig holds child process management configuration.
type ProcessConfig struct {
	KillGraceMS    int `yaml:"kill_grace_ms" envconfig:"SCRIPTD_KILL_GRACE_MS"`
	ChunkSize      int `yaml:"chunk_size" envconfig:"SCRIPTD_CHUNK_SIZE"`
	SpawnPerSecond int `yaml:"spawn_per_second" envconfig:"SCRIPTD_SPAWN_PER_SECOND"`
	SpawnBurst     int `yaml:"spawn_burst" envconfig:"SCRIPTD_SPAWN_BURST"`
}

// QueueConfig holds callback queue configuration.
type QueueConfig struct {
	DeferredCapacity int `yaml:"deferred_capacity" envconfig:"SCRIPTD_DEFERRED_CAPACITY"`
	DeferredPerTick  int `yaml:"deferred_per_tick" envconfig:"SCRIPTD_DEFERRED_PER_TICK"`
	EventHistory     int `yaml:"event_history" envconfig:"SCRIPTD_EVENT_HISTORY"`
}

// FetchConfig holds outbound HTTP helper configuration.
type FetchConfig struct {
	TimeoutMS  int `yaml:"timeout_ms" envconfig:"SCRIPTD_FETCH_TIMEOUT_MS"`
	RetryCount int `yaml:"retry_count" envconfig:"SCRIPTD_FETCH_RETRY_COUNT"`
	PerSecond  int `yaml:"per_second" envconfig:"SCRIPTD_FETCH_PER_SECOND"`
	Burst      int `yaml:"burst" envconfig:"SCRIPTD_FETCH_BURST"`
}

// DebugConfig holds the debug/introspection server configuration.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled" envconfig:"SCRIPTD_DEBUG_ENABLED"`
	Addr    string `yaml:"addr" envconfig:"SCRIPTD_DEBUG_ADDR"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"SCRIPTD_LOG_LEVEL"`
	Development bool   `yaml:"development" envconfig:"SCRIPTD_LOG_DEV"`
}

// Load loads configuration from environment variables over defaults.
func Load() (*Config, error) {
	cfg := Default()
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

// LoadFile loads configuration from a YAML file, then applies
// environment variables on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.clamp()
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Script: ScriptConfig{
			TimeoutMS:     1000,
			LoadTimeoutMS: 0,
			Dir:           "",
		},
		Process: ProcessConfig{
			KillGraceMS:    1000,
			ChunkSize:      4096,
			SpawnPerSecond: 16,
			SpawnBurst:     32,
		},
		Queue: QueueConfig{
			DeferredCapacity: 1024,
			DeferredPerTick:  128,
			EventHistory:     256,
		},
		Fetch: FetchConfig{
			TimeoutMS:  30000,
			RetryCount: 2,
			PerSecond:  8,
			Burst:      16,
		},
		Debug: DebugConfig{
			Enabled: false,
			Addr:    "127.0.0.1:7700",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// clamp rewrites values that would break the runtime back to defaults.
func (c *Config) clamp() {
	def := Default()
	if c.Script.TimeoutMS < 0 {
		c.Script.TimeoutMS = def.Script.TimeoutMS
	}
	if c.Script.LoadTimeoutMS < 0 {
		c.Script.LoadTimeoutMS = 0
	}
	if c.Process.KillGraceMS < 0 {
		c.Process.KillGraceMS = def.Process.KillGraceMS
	}
	if c.Process.ChunkSize <= 0 {
		c.Process.ChunkSize = def.Process.ChunkSize
	}
	if c.Process.SpawnPerSecond <= 0 {
		c.Process.SpawnPerSecond = def.Process.SpawnPerSecond
	}
	if c.Process.SpawnBurst <= 0 {
		c.Process.SpawnBurst = def.Process.SpawnBurst
	}
	if c.Queue.DeferredCapacity <= 0 {
		c.Queue.DeferredCapacity = def.Queue.DeferredCapacity
	}
	if c.Queue.DeferredPerTick <= 0 {
		c.Queue.DeferredPerTick = def.Queue.DeferredPerTick
	}
	if c.Queue.EventHistory < 0 {
		c.Queue.EventHistory = def.Queue.EventHistory
	}
	if c.Fetch.TimeoutMS <= 0 {
		c.Fetch.TimeoutMS = def.Fetch.TimeoutMS
	}
	if c.Fetch.RetryCount < 0 {
		c.Fetch.RetryCount = def.Fetch.RetryCount
	}
	if c.Fetch.PerSecond <= 0 {
		c.Fetch.PerSecond = def.Fetch.PerSecond
	}
	if c.Fetch.Burst <= 0 {
		c.Fetch.Burst = def.Fetch.Burst
	}
}

// Timeout returns the per-invocation script timeout.
func (c ScriptConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// LoadTimeout returns the top-level load timeout.
func (c ScriptConfig) LoadTimeout() time.Duration {
	return time.Duration(c.LoadTimeoutMS) * time.Millisecond
}

// KillGrace returns how long a child gets between SIGTERM and SIGKILL.
func (c ProcessConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMS) * time.Millisecond
}

// Timeout returns the per-request fetch timeout.
func (c FetchConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}
