package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string or bare-number (seconds)
// YAML values.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings
// ("30s", "2m") or bare numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	raw := strings.TrimSpace(value.Value)
	if raw == "" {
		d.Duration = 0
		return nil
	}
	if parsed, err := time.ParseDuration(raw); err == nil {
		d.Duration = parsed
		return nil
	}
	if parsed, err := time.ParseDuration(raw + "s"); err == nil {
		d.Duration = parsed
		return nil
	}
	return fmt.Errorf("invalid duration value %q", raw)
}

// MarshalYAML renders the duration as a human-friendly string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config aggregates all daemon configuration from file and environment.
type Config struct {
	Socket     SocketConfig     `yaml:"socket"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Session    SessionConfig    `yaml:"session"`
	Journal    JournalConfig    `yaml:"journal"`
	Preorder   PreorderConfig   `yaml:"preorder"`
	Account    AccountConfig    `yaml:"account"`
	Stripe     StripeConfig     `yaml:"stripe"`
	PayPal     PayPalConfig     `yaml:"paypal"`
	CurrencyFile string         `yaml:"currency_rate_file"`
}

// SocketConfig controls the Unix socket the daemon listens on.
type SocketConfig struct {
	LivePath     string   `yaml:"live_path"`
	TestPath     string   `yaml:"test_path"`
	Live         bool     `yaml:"live"`
	AllowUID     []int    `yaml:"allow_uid"`
	AdminUID     []int    `yaml:"admin_uid"`
}

// LoggingConfig controls the zerolog setup.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Debug  bool   `yaml:"debug_protocol"`
}

// MetricsConfig controls the loopback-only Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// SessionConfig holds session/alias lifetime and capacity settings, which
// finalize clamps to their limits. The session store does not read them:
// it applies its own fixed DefaultTTL, MaxLifetime, MaxSessions and
// MaxAliasesPerSession.
type SessionConfig struct {
	DefaultTTL   Duration `yaml:"default_ttl"`
	MaxLifetime  Duration `yaml:"max_lifetime"`
	MaxSessions  int      `yaml:"max_sessions"`
	MaxAliases   int      `yaml:"max_aliases_per_session"`
}

// JournalConfig controls the append-only journal writer.
type JournalConfig struct {
	BaseName string `yaml:"basename"`
}

// PreorderConfig controls the SEPA preorder SQLite store.
type PreorderConfig struct {
	DSN string `yaml:"dsn"`
}

// AccountConfig controls the subscription account SQLite store.
type AccountConfig struct {
	DSN             string   `yaml:"dsn"`
	DBKeyFPR        string   `yaml:"db_key_fingerprint"`
	BackofficeKeyFPR string  `yaml:"backoffice_key_fingerprint"`
}

// StripeConfig holds Stripe gateway credentials and behaviour.
type StripeConfig struct {
	SecretKey            string `yaml:"secret_key"`
	StatementDescriptor   string `yaml:"statement_descriptor"`
}

// PayPalConfig holds PayPal gateway credentials and behaviour.
type PayPalConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sandbox      bool   `yaml:"sandbox"`
	ReceiverEmail string `yaml:"receiver_email"`
}
