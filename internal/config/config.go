// Package config holds the runtime configuration for the bot fleet.
// Config is loaded once at startup from a JSON5 file and overlaid with
// environment variables; secrets never live in the file.
package config

// Config is the root configuration.
type Config struct {
	Team      TeamConfig      `json:"team"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Sessions  SessionsConfig  `json:"sessions"`
	Routines  RoutinesConfig  `json:"routines"`
	Sidekicks SidekicksConfig `json:"sidekicks"`
	Content   ContentConfig   `json:"content"`
	Secrets   SecretsConfig   `json:"secrets"`
	WorkLogs  WorkLogsConfig  `json:"work_logs"`
	Workspace WorkspaceConfig `json:"workspace"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// TeamConfig tunes the coordinator and the roster.
type TeamConfig struct {
	// DefaultBot answers when no specialist matches.
	DefaultBot string `json:"default_bot,omitempty"`
	// EnergyProfile seeds the default routines: quiet, balanced, active.
	EnergyProfile string `json:"energy_profile,omitempty"`
}

// HeartbeatConfig sets fleet-wide heartbeat defaults. Individual bots
// inherit these unless their own definition overrides them.
type HeartbeatConfig struct {
	Enabled            bool    `json:"enabled"`
	IntervalSec        int     `json:"interval_sec,omitempty"`
	Parallel           bool    `json:"parallel,omitempty"`
	MaxConcurrent      int     `json:"max_concurrent,omitempty"`
	StopOnFirstFailure bool    `json:"stop_on_first_failure,omitempty"`
	RetryAttempts      int     `json:"retry_attempts,omitempty"`
	RetryDelayMs       int     `json:"retry_delay_ms,omitempty"`
	RetryBackoff       float64 `json:"retry_backoff,omitempty"`
	FailureThreshold   int     `json:"failure_threshold,omitempty"`
	BreakerTimeoutSec  int     `json:"breaker_timeout_sec,omitempty"`
}

// SessionsConfig controls history storage and compaction.
type SessionsConfig struct {
	// Storage is the directory for session files. Empty keeps
	// sessions in memory only.
	Storage          string  `json:"storage,omitempty"`
	CompactionMode   string  `json:"compaction_mode,omitempty"` // summary, token-limit, off
	ContextWindow    int     `json:"context_window,omitempty"`
	ThresholdPercent float64 `json:"threshold_percent,omitempty"`
	TargetTokens     int     `json:"target_tokens,omitempty"`
	MinMessages      int     `json:"min_messages,omitempty"`
	PreserveRecent   int     `json:"preserve_recent,omitempty"`
	MemoryFlush      bool    `json:"memory_flush,omitempty"`
}

// RoutinesConfig controls the scheduler.
type RoutinesConfig struct {
	// StorePath is the JSON file holding scheduled routines.
	StorePath  string `json:"store_path,omitempty"`
	CadenceSec int    `json:"cadence_sec,omitempty"`
	Timezone   string `json:"timezone,omitempty"`
}

// SidekicksConfig caps ephemeral helper agents.
type SidekicksConfig struct {
	MaxPerBot      int `json:"max_per_bot,omitempty"`
	MaxPerRoom     int `json:"max_per_room,omitempty"`
	MaxTokens      int `json:"max_tokens,omitempty"`
	TaskTimeoutSec int `json:"task_timeout_sec,omitempty"`
}

// ContentConfig tunes the fetched-content store.
type ContentConfig struct {
	MaxSize  int `json:"max_size,omitempty"`
	TTLHours int `json:"ttl_hours,omitempty"`
}

// SecretsConfig picks the secret backend.
type SecretsConfig struct {
	// Backend is "keyring" or "file".
	Backend string `json:"backend,omitempty"`
	// FilePath backs the file store when Backend is "file".
	FilePath string `json:"file_path,omitempty"`
}

// WorkLogsConfig controls reasoning-trace persistence.
type WorkLogsConfig struct {
	SQLitePath    string `json:"sqlite_path,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
	// PostgresDSN switches persistence to Postgres. Env only
	// (BOTFLEET_POSTGRES_DSN), never stored in the config file.
	PostgresDSN string `json:"-"`
}

// WorkspaceConfig locates the shared filesystem areas.
type WorkspaceConfig struct {
	// Root is the directory bots read and write, including
	// HEARTBEAT.md directive files.
	Root string `json:"root,omitempty"`
	// StateDir holds the workspace membership records.
	StateDir string `json:"state_dir,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}
