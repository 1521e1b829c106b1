package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the sftpjail configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (SFTPJAIL_*, plus DATA_DIR, PORT, SFTP_USER, SFTP_PASS)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	// Level is the minimum log level (DEBUG, INFO, WARN, ERROR)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR" yaml:"level"`

	// Format is the output format (text, json)
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// ServerConfig configures the SSH listener.
type ServerConfig struct {
	Bind string `mapstructure:"bind" validate:"required,ip|hostname" yaml:"bind"`
	Port int    `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// HostKey is the path of the OpenSSH private host key; it is generated on
	// first start when missing.
	HostKey string `mapstructure:"host_key" validate:"required" yaml:"host_key"`

	// MaxBytesPerSec throttles each SFTP channel. Accepts "2MiB" style values; 0 disables.
	MaxBytesPerSec ByteSize `mapstructure:"max_bytes_per_sec" yaml:"max_bytes_per_sec"`

	// ShutdownTimeout is the maximum time to wait for sessions on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// Address returns the listen address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Bind, strconv.Itoa(s.Port))
}

// AuthConfig holds the single account allowed to log in. At least one of
// Password and AuthorizedKeys must be set.
type AuthConfig struct {
	Username       string `mapstructure:"username" validate:"required" yaml:"username"`
	Password       string `mapstructure:"password" yaml:"password"`
	AuthorizedKeys string `mapstructure:"authorized_keys" yaml:"authorized_keys"`
}

// StorageConfig locates the served tree.
type StorageConfig struct {
	// Root is the directory clients see as "/"
	Root string `mapstructure:"root" validate:"required" yaml:"root"`

	// Layout lists directories created under Root at startup
	Layout []string `mapstructure:"layout" validate:"dive,required" yaml:"layout"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" validate:"required_if=Enabled true" yaml:"address"`
}

// ByteSize is a byte count that decodes from human-readable strings.
type ByteSize uint64

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}

// MarshalYAML writes sizes the way a user would type them.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	if b == 0 {
		return 0, nil
	}
	return strings.ReplaceAll(b.String(), " ", ""), nil
}

// envAliases are the environment names used by earlier deployments.
var envAliases = map[string]string{
	"storage.root":  "DATA_DIR",
	"server.port":   "PORT",
	"auth.username": "SFTP_USER",
	"auth.password": "SFTP_PASS",
}

// Load loads configuration from file, environment, and defaults, then validates it.
// A missing config file is not an error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	setViperDefaults(v, GetDefaultConfig())

	if _, err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: SFTPJAIL_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SFTPJAIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, alias := range envAliases {
		prefixed := "SFTPJAIL_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, alias)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// setViperDefaults registers every key so environment variables can override
// keys that are absent from the file.
func setViperDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.host_key", d.Server.HostKey)
	v.SetDefault("server.max_bytes_per_sec", uint64(d.Server.MaxBytesPerSec))
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("auth.username", d.Auth.Username)
	v.SetDefault("auth.password", d.Auth.Password)
	v.SetDefault("auth.authorized_keys", d.Auth.AuthorizedKeys)

	v.SetDefault("storage.root", d.Storage.Root)
	v.SetDefault("storage.layout", d.Storage.Layout)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.address", d.Metrics.Address)
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// byteSizeDecodeHook converts strings like "2MiB" or "500 kB" and plain numbers
// to ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			n, err := humanize.ParseBytes(v)
			if err != nil {
				return nil, fmt.Errorf("invalid size %q: %w", v, err)
			}
			return ByteSize(n), nil
		case int:
			return ByteSize(v), nil
		case int64:
			return ByteSize(v), nil
		case uint64:
			return ByteSize(v), nil
		case float64:
			return ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/sftpjail, ~/.config/sftpjail or ".".
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sftpjail")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sftpjail")
}

// GetDefaultConfigPath returns the path used when no --config flag is given.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
