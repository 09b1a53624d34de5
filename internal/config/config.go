package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/schedule2cal/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Backend BackendConfig `yaml:"backend"`
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	History HistoryConfig `yaml:"history"`
	Log     LogConfig     `yaml:"log"`
}

// BackendConfig selects the conversion service provider and its options.
type BackendConfig struct {
	Provider string        `yaml:"provider"` // "http" or "mock"
	BaseURL  string        `yaml:"baseUrl"`  // e.g. https://schedule-backend.example.com
	APIKey   string        `yaml:"apiKey"`   // optional bearer token
	Timeout  time.Duration `yaml:"timeout"`
	Mock     MockSettings  `yaml:"mock"`
}

// MockSettings config for the offline conversion provider.
type MockSettings struct {
	Delay    time.Duration `yaml:"delay"`
	ProdID   string        `yaml:"prodId"`
	Calendar string        `yaml:"calendar"` // optional path to a canned .ics file
}

// ClientConfig holds the upload/convert client behavior and its user-facing messages.
type ClientConfig struct {
	Messages  MessagesConfig `yaml:"messages"`
	OutputDir string         `yaml:"outputDir"`
	Overwrite bool           `yaml:"overwrite"` // replace an existing schedule.ics instead of numbering
	Strict    bool           `yaml:"strict"`    // reject responses that do not parse as a calendar
}

// MessagesConfig holds the status strings shown to the user.
type MessagesConfig struct {
	NoImage string `yaml:"noImage"`
	Success string `yaml:"success"`
	Failure string `yaml:"failure"`
	Busy    string `yaml:"busy"`
}

// ServerConfig holds web front-end settings.
type ServerConfig struct {
	Addr            string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	MaxUploadSize   ByteSize      `yaml:"maxUploadSize"`
	StorageDir      string        `yaml:"storageDir"`
	SessionTTL      time.Duration `yaml:"sessionTTL"`      // idle sessions older than this are closed
	JanitorInterval time.Duration `yaml:"janitorInterval"` // how often idle sessions are swept
	ShutdownGrace   time.Duration `yaml:"shutdownGrace"`
}

// HistoryConfig controls the local conversion history.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"databasePath"` // optional, defaults to storageDir/schedule2cal.db
}

// LogConfig controls logging output.
type LogConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
}

// ByteSize represents a size in bytes that unmarshals from strings like "10Mi", "20MB", "512KiB", "1024".
type ByteSize uint64

// UnmarshalYAML implements yaml unmarshalling for ByteSize.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		str := strings.TrimSpace(value.Value)
		parsed, err := ParseByteSize(str)
		if err != nil {
			return err
		}
		*b = ByteSize(parsed)
		return nil
	}
	return fmt.Errorf("invalid bytesize node kind: %v", value.Kind)
}

var reNumeric = regexp.MustCompile(`^\d+$`)

// ParseByteSize parses a string like "10Mi", "20MB", "512KiB", "1024" into bytes.
// Supports Kubernetes-style quantities for binary units: Ki, Mi, Gi (case-insensitive).
// Also accepts KiB/MiB/GiB and decimal KB/MB/GB, and bare bytes.
func ParseByteSize(s string) (uint64, error) {
	orig := s
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty size")
	}
	if reNumeric.MatchString(s) {
		val, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid size number: %w", err)
		}
		return val, nil
	}

	up := strings.ToUpper(s)

	type unit struct {
		suffix string
		value  uint64
	}
	// Longer suffixes first so "KIB" is not matched as "B".
	units := []unit{
		{"KIB", 1024},
		{"MIB", 1024 * 1024},
		{"GIB", 1024 * 1024 * 1024},
		{"KI", 1024},
		{"MI", 1024 * 1024},
		{"GI", 1024 * 1024 * 1024},
		{"KB", 1000},
		{"MB", 1000 * 1000},
		{"GB", 1000 * 1000 * 1000},
		{"B", 1},
	}
	for _, u := range units {
		if strings.HasSuffix(up, u.suffix) {
			num := strings.TrimSpace(s[:len(s)-len(u.suffix)])
			val, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid size number in %q: %w", orig, err)
			}
			return uint64(val * float64(u.value)), nil
		}
	}
	return 0, fmt.Errorf("unknown size suffix in %q", orig)
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var SCHEDULE2CAL_CONFIG, then default to "config.yaml".
// A missing default file is not an error: every setting then takes its default.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for commands that never contact the backend.
func Read(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		if env := os.Getenv(common.EnvConfigPath); env != "" {
			path = env
			explicit = true
		} else {
			path = "config.yaml"
		}
	}

	var cfg Config
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		// defaults only
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.History.DatabasePath == "" {
		cfg.History.DatabasePath = filepath.Join(cfg.Server.StorageDir, "schedule2cal.db")
	}
	return &cfg, nil
}

// applyEnvOverrides lets the hosting environment supply the backend URL and log level.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(common.EnvBackendURL)); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv(common.EnvLogLevel)); v != "" {
		cfg.Log.Level = v
	}
}

func applyDefaults(cfg *Config) {
	// Backend defaults
	if strings.TrimSpace(cfg.Backend.Provider) == "" {
		cfg.Backend.Provider = "http"
	}
	cfg.Backend.Provider = strings.ToLower(strings.TrimSpace(cfg.Backend.Provider))
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 60 * time.Second
	}
	if cfg.Backend.Mock.ProdID == "" {
		cfg.Backend.Mock.ProdID = "-//schedule2cal//mock//EN"
	}

	// Client defaults
	m := &cfg.Client.Messages
	if m.NoImage == "" {
		m.NoImage = "Please upload an image first."
	}
	if m.Success == "" {
		m.Success = "Calendar downloaded successfully!"
	}
	if m.Failure == "" {
		m.Failure = "Failed to convert schedule. Please try again."
	}
	if m.Busy == "" {
		m.Busy = "A conversion is already in progress."
	}
	if cfg.Client.OutputDir == "" {
		cfg.Client.OutputDir = "."
	}

	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 2 * time.Minute
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadSize == 0 {
		cfg.Server.MaxUploadSize = ByteSize(10 * 1024 * 1024) // 10 MiB default
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.SessionTTL == 0 {
		cfg.Server.SessionTTL = 30 * time.Minute
	}
	if cfg.Server.JanitorInterval == 0 {
		cfg.Server.JanitorInterval = 5 * time.Minute
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}

	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg *Config) error {
	switch cfg.Backend.Provider {
	case "http":
		if cfg.Backend.BaseURL == "" {
			return fmt.Errorf("backend.baseUrl is required (or set %s)", common.EnvBackendURL)
		}
		u, err := url.ParseRequestURI(cfg.Backend.BaseURL)
		if err != nil || u.Host == "" {
			return fmt.Errorf("backend.baseUrl is not an absolute url: %q", cfg.Backend.BaseURL)
		}
	case "mock":
	default:
		return fmt.Errorf("unsupported backend provider %q", cfg.Backend.Provider)
	}
	if cfg.Backend.Timeout < 0 {
		return errors.New("backend.timeout must not be negative")
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level %q", cfg.Log.Level)
	}
	return nil
}
