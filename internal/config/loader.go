// loader.go implements the configuration loading lifecycle.
//
// The loading sequence is:
//  1. Enforce UTC timezone so window arithmetic never drifts with host zones.
//  2. Load a .env file via godotenv (non-fatal if absent).
//  3. Process envconfig struct tags against the environment.
//  4. Apply cross-field sanity checks the tag language cannot express.
//  5. Validate the struct using go-playground/validator.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Load loads and validates the worker configuration from the environment.
func Load() (*Config, error) {
	// A host running in a non-UTC zone must not shift reminder windows.
	time.Local = time.UTC

	// Non-fatal if no .env exists; existing env vars are never overridden.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: processing environment: %w", err)
	}

	if err := checkWindows(&cfg); err != nil {
		return nil, err
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}

	return &cfg, nil
}

// checkWindows enforces the poller window invariants: every interval must be
// positive, and the reminder query window must cover the poll interval so a
// due reminder is seen by at least one pass.
func checkWindows(cfg *Config) error {
	p := cfg.Poller
	for name, d := range map[string]time.Duration{
		"NOTIFY_INTERVAL":  p.NotifyInterval,
		"NOTIFY_LOOKBACK":  p.NotifyLookback,
		"NOTIFY_LOOKAHEAD": p.NotifyLookahead,
		"REDEEM_INTERVAL":  p.RedeemInterval,
		"RUNNER_TIMEOUT":   p.RunnerTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if p.NotifyLookback < p.NotifyInterval {
		return fmt.Errorf("config: NOTIFY_LOOKBACK (%s) must be at least NOTIFY_INTERVAL (%s) or reminders can fall between passes",
			p.NotifyLookback, p.NotifyInterval)
	}
	return nil
}
