package config

import (
	"strings"
	"time"
)

// Wire protocol defaults.
const (
	DefaultRPCPort        = 9999
	DefaultServiceName    = "KGB"
	DefaultQueueLimit     = 150
	DefaultMinProtocolVer = 1
)

// IRC defaults.
const (
	DefaultIRCPort  = 6667
	DefaultNick     = "KGB"
	DefaultUsername = "kgb"
	DefaultIrcname  = "KGB bot"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyRPCDefaults(&cfg.RPC)
	applyNetworkDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyTelemetryDefaults(&cfg.Telemetry)
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 2 * time.Second
	}
	if len(cfg.SmartAnswers) == 0 {
		cfg.SmartAnswers = []string{"What?"}
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyRPCDefaults(cfg *RPCConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultRPCPort
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.QueueLimit == 0 {
		cfg.QueueLimit = DefaultQueueLimit
	}
	// MinProtocolVer 0 is meaningful (admits legacy v0); its default
	// is installed as a viper default in setupViper instead.
}

func applyNetworkDefaults(cfg *Config) {
	for name, n := range cfg.Networks {
		if n.Port == 0 {
			n.Port = DefaultIRCPort
		}
		if n.Nick == "" {
			n.Nick = DefaultNick
		}
		if n.Username == "" {
			n.Username = DefaultUsername
		}
		if n.Ircname == "" {
			n.Ircname = DefaultIrcname
		}
		cfg.Networks[name] = n
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if cfg.Profiling.Endpoint == "" {
		cfg.Profiling.Endpoint = "http://localhost:4040"
	}
}

// GetDefaultConfig returns a Config with all defaults applied and a
// single example network, channel and repository. Used by `kgb-bot
// init` to seed a starting configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{
		RPC: RPCConfig{
			MinProtocolVer: DefaultMinProtocolVer,
		},
		Networks: map[string]NetworkConfig{
			"oftc": {Server: "irc.oftc.net"},
		},
		Channels: []ChannelConfig{
			{Name: "#commits", Network: "oftc", Repos: []string{"example"}},
		},
		Repositories: map[string]RepositoryConfig{
			"example": {Password: "change-me"},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
