// Package config defines the process configuration for the guildpost worker.
// Configuration is loaded once at startup and is immutable thereafter,
// following 12-Factor principles: values come from the OS environment, with
// an optional local .env file. A missing required value or invalid format
// fails the process immediately.
package config

import (
	"time"

	"guildpost/internal/types"
)

// SecretString aliases types.SecretString, the redacted secret type used for
// credentials so they never leak through logs or config dumps.
type SecretString = types.SecretString

// Config is the top-level configuration struct. Sub-components receive only
// the subsets they need.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"guildpost-worker"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Database DatabaseConfig
	Discord  DiscordConfig
	Poller   PollerConfig
	Runner   RunnerConfig
	Server   ServerConfig
}

// DatabaseConfig holds connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
}

// DiscordConfig holds the chat delivery credentials and endpoint tuning.
type DiscordConfig struct {
	BotToken   SecretString  `envconfig:"DISCORD_TOKEN" validate:"required"`
	APIBaseURL string        `envconfig:"DISCORD_API_BASE_URL" default:"https://discord.com/api/v10" validate:"url"`
	UserAgent  string        `envconfig:"DISCORD_USER_AGENT" default:"DiscordBot (guildpost, 1.0)"`
	Timeout    time.Duration `envconfig:"DISCORD_TIMEOUT" default:"10s"`
	// LogChannelID mirrors operational audit lines into a guild channel when
	// non-zero. Zero disables the mirror.
	LogChannelID int64 `envconfig:"LOG_CHANNEL_ID" default:"0"`
}

// PollerConfig holds the fixed-interval loop tunables for both pollers.
type PollerConfig struct {
	// Reminder dispatch loop. The query window must always include "now":
	// lookback at least the poll interval, lookahead covering scheduling
	// jitter.
	NotifyInterval  time.Duration `envconfig:"NOTIFY_INTERVAL" default:"30s"`
	NotifyLookback  time.Duration `envconfig:"NOTIFY_LOOKBACK" default:"30s"`
	NotifyLookahead time.Duration `envconfig:"NOTIFY_LOOKAHEAD" default:"15s"`

	// Redeem coordination loop.
	RedeemInterval    time.Duration `envconfig:"REDEEM_INTERVAL" default:"15s"`
	RunnerTimeout     time.Duration `envconfig:"RUNNER_TIMEOUT" default:"90s"`
	RunnerConcurrency int           `envconfig:"RUNNER_CONCURRENCY" default:"1" validate:"min=1"`

	// ReportLimit is the maximum payload length, in runes, of an aggregate
	// batch report before code-block framing.
	ReportLimit int `envconfig:"REPORT_LIMIT" default:"1800" validate:"min=1"`
}

// RunnerConfig describes how to invoke the redeem automation script. The
// script receives (code, player_id) as positional arguments and BATCH_ID in
// its environment, and writes one RunnerResult JSON document to stdout.
type RunnerConfig struct {
	Command string `envconfig:"RUNNER_COMMAND" default:"python"`
	Script  string `envconfig:"RUNNER_SCRIPT" default:"redeem.py"`
	WorkDir string `envconfig:"RUNNER_WORKDIR" default:""`
}

// ServerConfig holds the ops HTTP listener settings.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}
