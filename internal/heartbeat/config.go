// Package heartbeat runs each bot's cadenced background check loop with
// retries, circuit breaking, and fleet-level supervision.
package heartbeat

import "time"

// CheckDefinition names one unit of background work and its limits.
// Zero retry fields inherit the bot-level policy.
type CheckDefinition struct {
	Name          string        `json:"name"`
	Enabled       bool          `json:"enabled"`
	MaxDuration   time.Duration `json:"max_duration"`
	RetryAttempts int           `json:"retry_attempts,omitempty"`
	RetryDelay    time.Duration `json:"retry_delay,omitempty"`
	RetryBackoff  float64       `json:"retry_backoff,omitempty"`
}

// Config is the declarative shape of one bot's heartbeat.
type Config struct {
	BotName  string        `json:"bot_name"`
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`

	Checks              []CheckDefinition `json:"checks"`
	Parallel            bool              `json:"parallel"`
	MaxConcurrentChecks int               `json:"max_concurrent_checks"`
	StopOnFirstFailure  bool              `json:"stop_on_first_failure"`

	RetryAttempts int           `json:"retry_attempts"`
	RetryDelay    time.Duration `json:"retry_delay"`
	RetryBackoff  float64       `json:"retry_backoff"`

	FailureThreshold int           `json:"failure_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout"`

	// DirectivePath points at the bot's task-list file. Empty disables
	// the directive branch.
	DirectivePath string `json:"directive_path,omitempty"`
}

// DefaultConfig returns a heartbeat configuration with standard timing.
func DefaultConfig(botName string) Config {
	return Config{
		BotName:             botName,
		Enabled:             true,
		Interval:            30 * time.Second,
		Parallel:            false,
		MaxConcurrentChecks: 3,
		RetryAttempts:       2,
		RetryDelay:          time.Second,
		RetryBackoff:        2.0,
		FailureThreshold:    5,
		BreakerTimeout:      60 * time.Second,
	}
}
