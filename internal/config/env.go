package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// DaemonEnv is the environment read by warrend.
type DaemonEnv struct {
	ConfigPath   string `env:"WARREN_CONFIG" envDefault:"warren.yml"`
	InstanceName string `env:"WARREN_INSTANCE_NAME"`
	RedisURL     string `env:"REDIS_URL"`
	HealthAddr   string `env:"WARREN_HEALTH_ADDR" envDefault:":8080"`

	// TickInterval is how often Server Tick fires and mailboxes drain. Zero disables ticking.
	TickInterval time.Duration `env:"WARREN_TICK_INTERVAL" envDefault:"100ms"`

	// Partitions are created at startup, after the authority.
	Partitions []string `env:"WARREN_PARTITIONS" envSeparator:","`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
