// Package config reads process settings from the environment and an
// optional YAML policy file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/focusroom/go/internal/realtime"
	"github.com/mcdev12/focusroom/go/internal/timer"
)

// Relay holds relay server settings.
type Relay struct {
	Env            string
	LogLevel       string
	Port           string
	AllowedOrigins []string
	NATSURL        string // empty keeps fanout in-process
	MetricsEnabled bool
	ReadTimeout    time.Duration
	IdleTimeout    time.Duration
	RecentLimit    int
}

// NewRelayFromEnv reads relay settings (with defaults).
func NewRelayFromEnv() Relay {
	return Relay{
		Env:            getEnv("FOCUSROOM_ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		Port:           getEnv("PORT", "3000"),
		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),
		NATSURL:        getEnv("NATS_URL", ""),
		MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		ReadTimeout:    getEnvAsDuration("READ_TIMEOUT", 10*time.Second),
		IdleTimeout:    getEnvAsDuration("IDLE_TIMEOUT", 120*time.Second),
		RecentLimit:    getEnvAsInt("RECENT_LIMIT", 50),
	}
}

// Client holds settings of a headless room participant.
type Client struct {
	Env        string
	LogLevel   string
	APIURL     string
	WSURL      string
	UserName   string
	PolicyFile string
}

// NewClientFromEnv reads client settings (with defaults).
func NewClientFromEnv() Client {
	return Client{
		Env:        getEnv("FOCUSROOM_ENV", "development"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),
		APIURL:     getEnv("FOCUSROOM_API_URL", "http://localhost:3000"),
		WSURL:      getEnv("FOCUSROOM_WS_URL", "ws://localhost:3000"),
		UserName:   getEnv("FOCUSROOM_USER", ""),
		PolicyFile: getEnv("FOCUSROOM_POLICY_FILE", ""),
	}
}

// Policy is the tunable client behaviour loaded from YAML.
type Policy struct {
	Timer   timer.Policy     `yaml:"timer"`
	Backoff realtime.Backoff `yaml:"reconnect"`
}

// DefaultPolicy returns the built-in timer and reconnect policies.
func DefaultPolicy() Policy {
	return Policy{
		Timer:   timer.DefaultPolicy(),
		Backoff: realtime.DefaultBackoff(),
	}
}

// LoadPolicy overlays the YAML file at path on DefaultPolicy. Keys missing
// from the file keep their defaults. An empty path returns the defaults.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()
	if path == "" {
		return policy, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("failed to read policy file: %w", err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("failed to parse policy file: %w", err)
	}
	if err := policy.validate(); err != nil {
		return policy, fmt.Errorf("invalid policy file %s: %w", path, err)
	}
	return policy, nil
}

func (p Policy) validate() error {
	switch {
	case p.Timer.TickInterval <= 0:
		return fmt.Errorf("timer.tick_interval must be positive")
	case p.Timer.DriftTolerance < 0:
		return fmt.Errorf("timer.drift_tolerance must not be negative")
	case p.Timer.DefaultWork <= 0 || p.Timer.DefaultBreak <= 0:
		return fmt.Errorf("timer durations must be positive")
	case p.Backoff.Base <= 0 || p.Backoff.Max < p.Backoff.Base:
		return fmt.Errorf("reconnect.base must be positive and not exceed reconnect.max")
	case p.Backoff.MaxAttempts < 0:
		return fmt.Errorf("reconnect.max_attempts must not be negative")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
