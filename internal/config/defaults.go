package config

import (
	"path/filepath"
	"strings"
	"time"
)

// DefaultLayout is the directory tree expected by the feed producers.
var DefaultLayout = []string{
	"incoming/products",
	"incoming/inventory",
	"incoming/orders",
}

// ApplyDefaults fills any zero values left after unmarshalling and normalizes
// case-insensitive fields.
func ApplyDefaults(cfg *Config) {
	d := GetDefaultConfig()

	cfg.Logging.Level = strings.ToUpper(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = d.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = d.Logging.Format
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = d.Logging.Output
	}

	if cfg.Server.Bind == "" {
		cfg.Server.Bind = d.Server.Bind
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.HostKey == "" {
		cfg.Server.HostKey = d.Server.HostKey
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.Auth.Username == "" {
		cfg.Auth.Username = d.Auth.Username
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = d.Storage.Root
	}
	if cfg.Storage.Layout == nil {
		cfg.Storage.Layout = d.Storage.Layout
	}

	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = d.Metrics.Address
	}
}

// GetDefaultConfig returns the built-in configuration. It has no password and
// no authorized keys, so it does not validate until one is supplied.
func GetDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "INFO",
			Format: "text",
			Output: "stdout",
		},
		Server: ServerConfig{
			Bind:            "0.0.0.0",
			Port:            2222,
			HostKey:         filepath.Join(getConfigDir(), "host_key"),
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: AuthConfig{
			Username: "eagle",
		},
		Storage: StorageConfig{
			Root:   "./sftp-root",
			Layout: append([]string(nil), DefaultLayout...),
		},
		Metrics: MetricsConfig{
			Address: "127.0.0.1:9090",
		},
	}
}
