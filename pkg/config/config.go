// Package config loads, validates and indexes the KGB server
// configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (KGB_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration. The supervisor owns the
// live *Config; everything else reads it through an atomic pointer and
// must not retain it across a reload boundary.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// RPC configures the commit ingress endpoint.
	RPC RPCConfig `mapstructure:"rpc" yaml:"rpc"`

	// Networks maps a network name to its IRC connection settings.
	Networks map[string]NetworkConfig `mapstructure:"networks" validate:"required,min=1,dive" yaml:"networks"`

	// Channels lists every IRC channel the bot joins and the
	// repositories announced there.
	Channels []ChannelConfig `mapstructure:"channels" validate:"required,min=1,dive" yaml:"channels"`

	// Repositories maps a repo-id to its shared secret and is the
	// authentication database for incoming commits. An empty password
	// disables authentication for that repository.
	Repositories map[string]RepositoryConfig `mapstructure:"repositories" validate:"required,min=1" yaml:"repositories"`

	// Admins holds glob-style nick!user@host masks allowed to issue
	// bot commands.
	Admins []string `mapstructure:"admins" yaml:"admins,omitempty"`

	// Colors overrides the default message styles. Keys: repository,
	// revision, path, author, branch, module, addition, modification,
	// deletion, replacement, prop_change. Values are style token lists
	// like "bold red" or "teal".
	Colors map[string]string `mapstructure:"colors" yaml:"colors,omitempty"`

	// SmartAnswers is the global pool of replies for non-command
	// messages addressed to the bot. Channels may override it.
	SmartAnswers []string `mapstructure:"smart_answers" yaml:"smart_answers,omitempty"`

	// PidFile is written on startup when set.
	PidFile string `mapstructure:"pid_file" yaml:"pid_file,omitempty"`

	// ShutdownTimeout bounds the graceful-shutdown flush of pending
	// IRC sends.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics contains the Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Telemetry controls OpenTelemetry tracing and Pyroscope profiling.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Derived indexes, populated by buildIndexes at load time.
	channelByName   map[string]*ChannelConfig
	channelsForRepo map[string][]*ChannelConfig
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN or ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// RPCConfig configures the HTTP/XML-RPC ingress.
type RPCConfig struct {
	// Addr is the bind address. Empty means all interfaces.
	Addr string `mapstructure:"addr" yaml:"addr,omitempty"`

	// Port is the TCP port the ingress listens on.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// ServiceName is the value of the ?session= query parameter
	// clients must send. Default "KGB".
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// QueueLimit is the admission-control bound: when the summed IRC
	// send backlog exceeds it, new commits are refused with
	// Client.Slowdown. Default 150.
	QueueLimit int `mapstructure:"queue_limit" validate:"min=1" yaml:"queue_limit"`

	// MinProtocolVer rejects calls below this wire version. The legacy
	// cleartext v0 is only admitted when this is 0.
	MinProtocolVer int `mapstructure:"min_protocol_ver" validate:"min=0,max=2" yaml:"min_protocol_ver"`
}

// SameBind reports whether a reload can keep the live listener.
func (r RPCConfig) SameBind(o RPCConfig) bool {
	return r.Addr == o.Addr && r.Port == o.Port && r.ServiceName == o.ServiceName
}

// NetworkConfig describes one IRC network connection.
type NetworkConfig struct {
	Server   string `mapstructure:"server" validate:"required" yaml:"server"`
	Port     int    `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	Nick     string `mapstructure:"nick" yaml:"nick"`
	Username string `mapstructure:"username" yaml:"username"`
	Ircname  string `mapstructure:"ircname" yaml:"ircname"`

	// Password is the IRC server password (PASS), if any.
	Password string `mapstructure:"password" yaml:"password,omitempty"`

	// NickservPassword triggers one IDENTIFY per registration.
	NickservPassword string `mapstructure:"nickserv_password" yaml:"nickserv_password,omitempty"`
}

// SameIdentity reports whether a reload can keep the live session: any
// change to these fields requires a teardown and respawn.
func (n NetworkConfig) SameIdentity(o NetworkConfig) bool {
	return n.Server == o.Server &&
		n.Port == o.Port &&
		n.Nick == o.Nick &&
		n.Username == o.Username &&
		n.Ircname == o.Ircname &&
		n.Password == o.Password &&
		n.NickservPassword == o.NickservPassword
}

// Addr returns the host:port dial target.
func (n NetworkConfig) Addr() string {
	return fmt.Sprintf("%s:%d", n.Server, n.Port)
}

// ChannelConfig ties an IRC channel to the repositories announced on it.
type ChannelConfig struct {
	Name    string   `mapstructure:"name" validate:"required" yaml:"name"`
	Network string   `mapstructure:"network" validate:"required" yaml:"network"`
	Repos   []string `mapstructure:"repos" yaml:"repos,omitempty"`

	// SmartAnswers overrides the global pool for this channel.
	SmartAnswers []string `mapstructure:"smart_answers" yaml:"smart_answers,omitempty"`

	// SmartAnswersPolygen prefers the output of an external joke
	// oracle over the random pick, when one is wired in.
	SmartAnswersPolygen bool `mapstructure:"smart_answers_polygen" yaml:"smart_answers_polygen,omitempty"`
}

// RepositoryConfig is the per-repository ingress entry.
type RepositoryConfig struct {
	// Password is the shared secret used by the v0 compare and the
	// v1/v2 checksum. Empty means the repository accepts
	// unauthenticated commits.
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port,omitempty"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing and
// Pyroscope continuous profiling. Both are opt-in.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure,omitempty"`
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate,omitempty"`

	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
}

// Load loads configuration from the given file plus environment
// overrides, applies defaults, validates, and builds the derived
// channel indexes.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound || os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %w", err)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Viper flattens the file into leaf keys, so a repository declared
	// with no settings ("docs: {}") has no leaves and is dropped by
	// Unmarshal. Recover those names; an empty entry is a valid
	// repository that accepts unauthenticated commits.
	if raw := v.GetStringMap("repositories"); len(raw) > 0 {
		if cfg.Repositories == nil {
			cfg.Repositories = make(map[string]RepositoryConfig, len(raw))
		}
		for name := range raw {
			if _, ok := cfg.Repositories[name]; !ok {
				cfg.Repositories[name] = RepositoryConfig{}
			}
		}
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	if err := cfg.buildIndexes(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad loads configuration with a user-friendly error when the file
// does not exist.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  kgb-bot init\n\n"+
				"Or specify a custom config file:\n"+
				"  kgb-bot <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the configuration as YAML. Restricted permissions:
// the file holds repository passwords.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func setupViper(v *viper.Viper, configPath string) {
	// Example: KGB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("KGB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// An explicit 0 admits the legacy cleartext protocol, so the
	// default has to be set here rather than patched over zero values
	// after unmarshalling.
	v.SetDefault("rpc.min_protocol_ver", DefaultMinProtocolVer)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook converts config strings like "30s" or "5m" into
// time.Duration values.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "kgb")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "kgb")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks for a config file at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for
// the init command).
func GetConfigDir() string {
	return getConfigDir()
}
