package farmauth

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the full configuration of the session core and the components
// assembled around it. Start from [DefaultConfig] and override fields.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Store     StoreConfig     `yaml:"store"`
	Backend   BackendConfig   `yaml:"backend"`
	Federated FederatedConfig `yaml:"federated"`
	Flow      FlowConfig      `yaml:"flow"`
	Guard     GuardConfig     `yaml:"guard"`
	Transport TransportConfig `yaml:"transport"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

/*
====================================
SESSION / STORE CONFIG
====================================
*/

// SessionConfig scopes the session to a profile. Processes sharing a profile
// share one session.
type SessionConfig struct {
	Profile   string `yaml:"profile"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Store drivers.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
)

// StoreConfig selects and configures the durable token store.
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	SQLitePath string `yaml:"sqlite_path"`
}

/*
====================================
BACKEND / PROVIDER CONFIG
====================================
*/

// BackendConfig describes the application backend's auth endpoints.
type BackendConfig struct {
	BaseURL            string        `yaml:"base_url"`
	RegisterPath       string        `yaml:"register_path"`
	VerifyPath         string        `yaml:"verify_path"`
	LoginPath          string        `yaml:"login_path"`
	FederatedLoginPath string        `yaml:"federated_login_path"`
	Timeout            time.Duration `yaml:"timeout"` // 0 means no client timeout
	UserEmailHeader    string        `yaml:"user_email_header"`
}

// FederatedConfig configures the OpenID Connect provider used by the popup path.
type FederatedConfig struct {
	Enabled       bool     `yaml:"enabled"`
	IssuerURL     string   `yaml:"issuer_url"`
	ClientID      string   `yaml:"client_id"`
	ClientSecret  string   `yaml:"client_secret"`
	Scopes        []string `yaml:"scopes"`
	VerifyIDToken bool     `yaml:"verify_id_token"`
}

/*
====================================
FLOW / GUARD / TRANSPORT CONFIG
====================================
*/

// FlowConfig tunes the login state machine.
type FlowConfig struct {
	CloseGrace time.Duration `yaml:"close_grace"`
}

// GuardConfig lists the protected route prefixes and the public entry page.
type GuardConfig struct {
	EntryPath         string   `yaml:"entry_path"`
	ProtectedPrefixes []string `yaml:"protected_prefixes"`
}

// TransportConfig tunes the request authenticator.
type TransportConfig struct {
	InvalidateOnUnauthorized bool `yaml:"invalidate_on_unauthorized"`
	Tracing                  bool `yaml:"tracing"`
}

/*
====================================
AUDIT / METRICS / LOGGING CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool `yaml:"enabled"`
	BufferSize int  `yaml:"buffer_size"`
	DropIfFull bool `yaml:"drop_if_full"`
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `yaml:"enabled"`
	EnableLatencyHistograms bool `yaml:"enable_latency_histograms"`
}

// LoggingConfig controls the logrus logger built by [NewLogger].
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Session: SessionConfig{
			Profile:   "default",
			KeyPrefix: "farmtrak",
		},
		Store: StoreConfig{
			Driver:     StoreMemory,
			RedisAddr:  "127.0.0.1:6379",
			SQLitePath: "farmtrak-profile.db",
		},
		Backend: BackendConfig{
			BaseURL:            "http://127.0.0.1:8081",
			RegisterPath:       "/register",
			VerifyPath:         "/verify-and-create",
			LoginPath:          "/login",
			FederatedLoginPath: "/google-login",
			UserEmailHeader:    "X-User-Email",
		},
		Federated: FederatedConfig{
			Enabled:       false,
			IssuerURL:     "https://accounts.google.com",
			Scopes:        []string{"openid", "email", "profile"},
			VerifyIDToken: true,
		},
		Flow: FlowConfig{
			CloseGrace: 300 * time.Millisecond,
		},
		Guard: GuardConfig{
			EntryPath:         "/",
			ProtectedPrefixes: []string{"/dashboard"},
		},
		Transport: TransportConfig{
			InvalidateOnUnauthorized: true,
			Tracing:                  true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Federated.Scopes = cloneStrings(cfg.Federated.Scopes)
	out.Guard.ProtectedPrefixes = cloneStrings(cfg.Guard.ProtectedPrefixes)
	return out
}

func cloneStrings(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks the configuration for values the components cannot work with.
func (c *Config) Validate() error {
	// Session
	if strings.TrimSpace(c.Session.Profile) == "" {
		return errors.New("Session Profile must not be empty")
	}
	if strings.TrimSpace(c.Session.KeyPrefix) == "" {
		return errors.New("Session KeyPrefix must not be empty")
	}

	// Store
	switch c.Store.Driver {
	case StoreMemory:
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return errors.New("Store RedisAddr is required for the redis driver")
		}
		if c.Store.RedisDB < 0 {
			return errors.New("Store RedisDB must be >= 0")
		}
	case StoreSQLite:
		if c.Store.SQLitePath == "" {
			return errors.New("Store SQLitePath is required for the sqlite driver")
		}
	default:
		return errors.New("unsupported Store Driver")
	}

	// Backend
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.New("Backend BaseURL must be an absolute URL")
	}
	for _, p := range []string{
		c.Backend.RegisterPath,
		c.Backend.VerifyPath,
		c.Backend.LoginPath,
		c.Backend.FederatedLoginPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Backend paths must start with /")
		}
	}
	if c.Backend.Timeout < 0 {
		return errors.New("Backend Timeout must be >= 0")
	}

	// Federated
	if c.Federated.Enabled {
		if c.Federated.IssuerURL == "" || c.Federated.ClientID == "" {
			return errors.New("Federated IssuerURL and ClientID are required when enabled")
		}
	}

	// Flow
	if c.Flow.CloseGrace < 0 {
		return errors.New("Flow CloseGrace must be >= 0")
	}

	// Guard
	if !strings.HasPrefix(c.Guard.EntryPath, "/") {
		return errors.New("Guard EntryPath must start with /")
	}
	for _, p := range c.Guard.ProtectedPrefixes {
		if !strings.HasPrefix(p, "/") {
			return errors.New("Guard ProtectedPrefixes must start with /")
		}
		if p == c.Guard.EntryPath {
			return errors.New("Guard EntryPath must not be protected")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	// Logging
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return errors.New("Logging Level is not a valid logrus level")
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return errors.New("Logging Format must be json or text")
	}

	return nil
}
