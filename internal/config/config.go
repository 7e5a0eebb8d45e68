package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/sealbox/backend/internal/crypto"
	"github.com/sealbox/backend/internal/envelope"
	"github.com/sealbox/backend/internal/validation"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds client and daemon configuration
type Config struct {
	// Client
	ServerAddress   string `toml:"server_address"`
	CACertFile      string `toml:"ca_cert_file"`
	SchemeVersion   uint8  `toml:"scheme_version"`
	K1Cost          uint8  `toml:"k1_cost"`
	K2Cost          uint8  `toml:"k2_cost"`
	MaxCost         uint8  `toml:"max_cost"`
	MaxDeclaredSize int64  `toml:"max_declared_size"`
	DownloadDir     string `toml:"download_dir"`
	LogLevel        string `toml:"log_level"`

	// Daemon
	ListenAddress   string  `toml:"listen_address"`
	DataDir         string  `toml:"data_dir"`
	MetricsAddress  string  `toml:"metrics_address"`
	TracingEndpoint string  `toml:"tracing_endpoint"`
	MaxUploadSize   int64   `toml:"max_upload_size"`
	AcceptRate      float64 `toml:"accept_rate"`
	AcceptBurst     int     `toml:"accept_burst"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		ServerAddress:   "127.0.0.1:4433",
		SchemeVersion:   byte(envelope.V00),
		K1Cost:          envelope.DefaultK1Cost,
		K2Cost:          envelope.DefaultK2Cost,
		MaxCost:         envelope.DefaultMaxCost,
		MaxDeclaredSize: envelope.DefaultMaxDeclaredSize,
		DownloadDir:     filepath.Join(homeDir, "Downloads"),
		LogLevel:        "info",

		ListenAddress:  ":4433",
		DataDir:        filepath.Join(dataHome(), "sealbox"),
		MetricsAddress: "127.0.0.1:9464",
		MaxUploadSize:  envelope.DefaultMaxDeclaredSize,
		AcceptRate:     20,
		AcceptBurst:    40,
	}
}

// DefaultConfigPath returns the default config file location.
// On Windows: %APPDATA%\sealbox\config.toml
// On Unix: $XDG_CONFIG_HOME/sealbox/config.toml or ~/.config/sealbox/config.toml
func DefaultConfigPath() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "sealbox", "config.toml")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sealbox", "config.toml")
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config", "sealbox", "config.toml")
}

func dataHome() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return appData
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".local", "share")
}

// LoadConfig reads a TOML file over the defaults. A missing file yields
// the defaults; unknown keys are an error.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	if configPath == "" {
		configPath = DefaultConfigPath()
	}

	md, err := toml.DecodeFile(configPath, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Save writes the configuration as TOML, creating parent directories.
func (c *Config) Save(configPath string) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return err
	}

	file, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	return toml.NewEncoder(file).Encode(c)
}

// Validate checks the fields shared by client and daemon.
func (c *Config) Validate() error {
	if err := validation.ValidateAddr(c.ServerAddress); err != nil {
		return fmt.Errorf("%w: server_address: %v", ErrInvalidConfig, err)
	}
	if _, err := envelope.HeaderSize(envelope.Version(c.SchemeVersion)); err != nil {
		return fmt.Errorf("%w: scheme_version: %v", ErrInvalidConfig, err)
	}
	if err := validation.ValidateRangeInt(int(c.MaxCost), crypto.MinCost, crypto.MaxCost); err != nil {
		return fmt.Errorf("%w: max_cost: %v", ErrInvalidConfig, err)
	}
	if err := validation.ValidateRangeInt(int(c.K1Cost), crypto.MinCost, int(c.MaxCost)); err != nil {
		return fmt.Errorf("%w: k1_cost: %v", ErrInvalidConfig, err)
	}
	if err := validation.ValidateRangeInt(int(c.K2Cost), crypto.MinCost, int(c.MaxCost)); err != nil {
		return fmt.Errorf("%w: k2_cost: %v", ErrInvalidConfig, err)
	}
	if c.MaxDeclaredSize <= 0 {
		return fmt.Errorf("%w: max_declared_size must be positive", ErrInvalidConfig)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: log_level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ValidateDaemon checks the daemon fields on top of Validate.
func (c *Config) ValidateDaemon() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := validation.ValidateAddr(c.ListenAddress); err != nil {
		return fmt.Errorf("%w: listen_address: %v", ErrInvalidConfig, err)
	}
	if c.MetricsAddress != "" {
		if err := validation.ValidateAddr(c.MetricsAddress); err != nil {
			return fmt.Errorf("%w: metrics_address: %v", ErrInvalidConfig, err)
		}
	}
	if err := validation.ValidateStringNonEmpty(c.DataDir); err != nil {
		return fmt.Errorf("%w: data_dir: %v", ErrInvalidConfig, err)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("%w: max_upload_size must be positive", ErrInvalidConfig)
	}
	if c.AcceptRate <= 0 || c.AcceptBurst < 1 {
		return fmt.Errorf("%w: accept_rate and accept_burst must be positive", ErrInvalidConfig)
	}
	return nil
}

// EnvelopeOptions maps the configuration onto engine options. Runtime
// collaborators (counter, clock, logger, metrics) are left at their
// defaults for the caller to fill in.
func (c *Config) EnvelopeOptions() envelope.Options {
	opts := envelope.DefaultOptions()
	opts.Version = envelope.Version(c.SchemeVersion)
	opts.K1Cost = c.K1Cost
	opts.K2Cost = c.K2Cost
	opts.MaxCost = c.MaxCost
	opts.MaxDeclaredSize = c.MaxDeclaredSize
	return opts
}
