package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Team: TeamConfig{
			DefaultBot:    "coordinator",
			EnergyProfile: "balanced",
		},
		Heartbeat: HeartbeatConfig{
			Enabled:           true,
			IntervalSec:       1800,
			MaxConcurrent:     4,
			RetryAttempts:     2,
			RetryDelayMs:      500,
			RetryBackoff:      2.0,
			FailureThreshold:  3,
			BreakerTimeoutSec: 300,
		},
		Sessions: SessionsConfig{
			Storage:          "~/.botfleet/sessions",
			CompactionMode:   "summary",
			ContextWindow:    100000,
			ThresholdPercent: 0.80,
			TargetTokens:     4000,
			MinMessages:      10,
			PreserveRecent:   10,
			MemoryFlush:      true,
		},
		Routines: RoutinesConfig{
			StorePath:  "~/.botfleet/routines.json",
			CadenceSec: 1,
			Timezone:   "UTC",
		},
		Sidekicks: SidekicksConfig{
			MaxPerBot:      2,
			MaxPerRoom:     3,
			MaxTokens:      8000,
			TaskTimeoutSec: 120,
		},
		Content: ContentConfig{
			MaxSize:  500000,
			TTLHours: 24,
		},
		Secrets: SecretsConfig{
			Backend:  "keyring",
			FilePath: "~/.botfleet/secrets.json",
		},
		WorkLogs: WorkLogsConfig{
			SQLitePath:    "~/.botfleet/worklogs.db",
			RetentionDays: 30,
		},
		Workspace: WorkspaceConfig{
			Root:     "~/.botfleet/workspace",
			StateDir: "~/.botfleet/workspaces",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "botfleet",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A
// missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandPaths()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("BOTFLEET_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("BOTFLEET_ROUTINES_STORE", &c.Routines.StorePath)
	envStr("BOTFLEET_WORKSPACE", &c.Workspace.Root)
	envStr("BOTFLEET_SECRETS_BACKEND", &c.Secrets.Backend)

	// Database
	envStr("BOTFLEET_POSTGRES_DSN", &c.WorkLogs.PostgresDSN)

	// Telemetry
	envStr("BOTFLEET_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("BOTFLEET_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("BOTFLEET_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("BOTFLEET_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}

	if v := os.Getenv("BOTFLEET_HEARTBEAT_INTERVAL_SEC"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Heartbeat.IntervalSec = sec
		}
	}
	if v := os.Getenv("BOTFLEET_HEARTBEAT_ENABLED"); v != "" {
		c.Heartbeat.Enabled = v == "true" || v == "1"
	}

	c.expandPaths()
}

// expandPaths resolves a leading ~ in the filesystem settings.
func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.Sessions.Storage,
		&c.Routines.StorePath,
		&c.Secrets.FilePath,
		&c.WorkLogs.SQLitePath,
		&c.Workspace.Root,
		&c.Workspace.StateDir,
	} {
		*p = expandHome(*p)
	}
}

func expandHome(path string) string {
	if len(path) < 2 || path[0] != '~' || path[1] != '/' {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return home + path[1:]
}
