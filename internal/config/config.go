package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file (path may be empty to use
// defaults only) and applies PAYPROC_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.finalize(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Socket: SocketConfig{
			LivePath: "/var/run/payproc/daemon",
			TestPath: "/var/run/payproc/daemon-test",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: "127.0.0.1:9219",
		},
		Session: SessionConfig{
			DefaultTTL:  Duration{Duration: secs(1800)},
			MaxLifetime: Duration{Duration: secs(6 * 3600)},
			MaxSessions: 65536,
			MaxAliases:  3,
		},
		Journal: JournalConfig{
			BaseName: "/var/log/payproc/journal",
		},
		Preorder: PreorderConfig{
			DSN: "/var/lib/payproc/preorder.db",
		},
		Account: AccountConfig{
			DSN: "/var/lib/payproc/account.db",
		},
	}
}

func (c *Config) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) finalize() error {
	if c.Session.MaxSessions <= 0 || c.Session.MaxSessions > 65536 {
		c.Session.MaxSessions = 65536
	}
	if c.Session.MaxAliases <= 0 || c.Session.MaxAliases > 3 {
		c.Session.MaxAliases = 3
	}
	if c.Session.DefaultTTL.Duration <= 0 {
		c.Session.DefaultTTL = Duration{Duration: secs(1800)}
	}
	if c.Session.MaxLifetime.Duration <= 0 {
		c.Session.MaxLifetime = Duration{Duration: secs(6 * 3600)}
	}
	if c.Socket.LivePath == "" {
		return fmt.Errorf("config: socket.live_path must not be empty")
	}
	if c.Socket.TestPath == "" {
		return fmt.Errorf("config: socket.test_path must not be empty")
	}
	return nil
}

// SocketPath returns the path the daemon should bind, depending on whether
// it's running in live mode.
func (c *Config) SocketPath() string {
	if c.Socket.Live {
		return c.Socket.LivePath
	}
	return c.Socket.TestPath
}

func secs(n int) time.Duration {
	return time.Duration(n) * time.Second
}
