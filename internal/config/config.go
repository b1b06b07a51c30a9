package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Sweep    SweepConfig    `yaml:"sweep"`
	NATS     NATSConfig     `yaml:"nats"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Servers  []GameServer   `yaml:"servers"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
	Disabled   bool   `yaml:"disabled"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path           string `yaml:"path"`
	EventRetention int    `yaml:"event_retention"` // days, 0 disables cleanup
}

// SweepConfig controls the two ingestion sweeps
type SweepConfig struct {
	ServerLogInterval time.Duration `yaml:"server_log_interval"`
	DeathLogInterval  time.Duration `yaml:"death_log_interval"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	Workers           int           `yaml:"workers"`
	KillReward        int64         `yaml:"kill_reward"`
}

// NATSConfig holds the notification broker settings
type NATSConfig struct {
	URL           string `yaml:"url"`
	Embedded      bool   `yaml:"embedded"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// Enabled reports whether notifications are published to NATS
func (n NATSConfig) Enabled() bool {
	return n.Embedded || n.URL != ""
}

// AuthConfig holds operator token settings
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenDuration time.Duration `yaml:"token_duration"`
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// GameServer is a server registration seeded from the config file
type GameServer struct {
	Name            string `yaml:"name"`
	Endpoint        string `yaml:"endpoint"`
	LogPath         string `yaml:"log_path"`
	DeathLogDir     string `yaml:"death_log_dir"`
	LogChannel      string `yaml:"log_channel"`
	KillfeedChannel string `yaml:"killfeed_channel"`
}

// Defaults
const (
	DefaultSweepInterval = 60 * time.Second
	DefaultReadTimeout   = 15 * time.Second
	DefaultWorkers       = 4
	DefaultKillReward    = 10
)

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/killfeed/killfeed.db"
	}
	if cfg.Database.EventRetention == 0 {
		cfg.Database.EventRetention = 14
	}

	if cfg.Sweep.ServerLogInterval == 0 {
		cfg.Sweep.ServerLogInterval = DefaultSweepInterval
	}
	if cfg.Sweep.DeathLogInterval == 0 {
		cfg.Sweep.DeathLogInterval = DefaultSweepInterval
	}
	if cfg.Sweep.ReadTimeout == 0 {
		cfg.Sweep.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Sweep.Workers == 0 {
		cfg.Sweep.Workers = DefaultWorkers
	}
	if cfg.Sweep.KillReward == 0 {
		cfg.Sweep.KillReward = DefaultKillReward
	}

	if cfg.NATS.SubjectPrefix == "" {
		cfg.NATS.SubjectPrefix = "killfeed"
	}
	if cfg.NATS.Embedded {
		if cfg.NATS.Host == "" {
			cfg.NATS.Host = "127.0.0.1"
		}
		if cfg.NATS.Port == 0 {
			cfg.NATS.Port = 4222
		}
	}

	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate checks values that have no sensible default
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Sweep.ServerLogInterval < time.Second {
		errs = append(errs, fmt.Errorf("sweep.server_log_interval must be at least 1s, got %v", cfg.Sweep.ServerLogInterval))
	}
	if cfg.Sweep.DeathLogInterval < time.Second {
		errs = append(errs, fmt.Errorf("sweep.death_log_interval must be at least 1s, got %v", cfg.Sweep.DeathLogInterval))
	}
	if cfg.Sweep.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("sweep.read_timeout must not be negative"))
	}
	if cfg.Sweep.Workers < 0 {
		errs = append(errs, fmt.Errorf("sweep.workers must not be negative"))
	}
	if cfg.Sweep.KillReward < 0 {
		errs = append(errs, fmt.Errorf("sweep.kill_reward must not be negative"))
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid server.http_port: %d", cfg.Server.HTTPPort))
	}
	if strings.ContainsAny(cfg.NATS.SubjectPrefix, " *>") {
		errs = append(errs, fmt.Errorf("invalid nats.subject_prefix %q", cfg.NATS.SubjectPrefix))
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format))
	}

	seen := make(map[string]bool)
	for i, srv := range cfg.Servers {
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: name is required", i))
		}
		if srv.Endpoint == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: endpoint is required", i))
		}
		if srv.LogPath == "" && srv.DeathLogDir == "" {
			errs = append(errs, fmt.Errorf("servers[%d]: log_path or death_log_dir is required", i))
		}
		if seen[srv.Name] {
			errs = append(errs, fmt.Errorf("servers[%d]: duplicate name %q", i, srv.Name))
		}
		seen[srv.Name] = true
	}
	return errors.Join(errs...)
}
