package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "doorlink"
	defaultAppEnv         = "development"
	defaultPort           = "5000"
	defaultLogLevel       = "info"
	defaultCacheTTL       = 60 * time.Second
	defaultForwardTimeout = 10 * time.Second
	defaultShutdownDelay  = 10 * time.Second

	cacheTTLEnvVar         = "CACHE_TTL"
	forwardTimeoutEnvVar   = "FORWARD_TIMEOUT"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName         string
	AppEnv          string
	Port            string
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	GeneralSecret   string
	DeviceSecret    string
	SuperuserSecret string
	Anonymous       bool
	CacheTTL        time.Duration
	ForwardTimeout  time.Duration
	ShutdownPeriod  time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:         getEnv("APP_NAME", defaultAppName),
		AppEnv:          getEnv("APP_ENV", defaultAppEnv),
		Port:            getEnv("PORT", defaultPort),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		GeneralSecret:   os.Getenv("GENERAL_SECRET"),
		DeviceSecret:    os.Getenv("DEVICE_SECRET"),
		SuperuserSecret: os.Getenv("SUPERUSER_SECRET"),
		Anonymous:       os.Getenv("ANONYMOUS") != "false",
		CacheTTL:        defaultCacheTTL,
		ForwardTimeout:  defaultForwardTimeout,
		ShutdownPeriod:  defaultShutdownDelay,
	}

	if v := os.Getenv(cacheTTLEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", cacheTTLEnvVar, err)
		}
		cfg.CacheTTL = d
	}

	if v := os.Getenv(forwardTimeoutEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", forwardTimeoutEnvVar, err)
		}
		cfg.ForwardTimeout = d
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if cfg.GeneralSecret == "" {
		return Config{}, fmt.Errorf("GENERAL_SECRET must be set")
	}

	if cfg.SuperuserSecret == "" {
		return Config{}, fmt.Errorf("SUPERUSER_SECRET must be set")
	}

	// The door controller shares the general secret unless one is provisioned separately.
	if cfg.DeviceSecret == "" {
		cfg.DeviceSecret = cfg.GeneralSecret
	}

	if cfg.DatabaseURL == "" && !cfg.IsDev() {
		return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the process runs in a development environment, where the
// in-memory document store may substitute for Postgres.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
