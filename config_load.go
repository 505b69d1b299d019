package farmauth

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads a YAML file over [DefaultConfig], applies FARMTRAK_*
// environment overrides and validates the result. An empty path skips the file.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Session.Profile = getEnv("FARMTRAK_PROFILE", cfg.Session.Profile)
	cfg.Store.Driver = getEnv("FARMTRAK_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.RedisAddr = getEnv("FARMTRAK_REDIS_ADDR", cfg.Store.RedisAddr)
	cfg.Store.RedisDB = getEnvInt("FARMTRAK_REDIS_DB", cfg.Store.RedisDB)
	cfg.Store.SQLitePath = getEnv("FARMTRAK_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Backend.BaseURL = getEnv("FARMTRAK_BACKEND_URL", cfg.Backend.BaseURL)
	cfg.Backend.Timeout = getEnvDuration("FARMTRAK_BACKEND_TIMEOUT", cfg.Backend.Timeout)
	cfg.Federated.ClientID = getEnv("FARMTRAK_OIDC_CLIENT_ID", cfg.Federated.ClientID)
	cfg.Federated.ClientSecret = getEnv("FARMTRAK_OIDC_CLIENT_SECRET", cfg.Federated.ClientSecret)
	cfg.Federated.Enabled = getEnvBool("FARMTRAK_OIDC_ENABLED", cfg.Federated.Enabled)
	cfg.Logging.Level = getEnv("FARMTRAK_LOG_LEVEL", cfg.Logging.Level)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// NewLogger builds the logrus logger described by cfg, writing to w
// (stderr when w is nil).
func NewLogger(cfg LoggingConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	if w == nil {
		w = os.Stderr
	}
	logger.SetOutput(w)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}
