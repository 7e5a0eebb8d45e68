package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sealbox/backend/internal/envelope"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if err := cfg.ValidateDaemon(); err != nil {
		t.Fatalf("default daemon config invalid: %v", err)
	}
	if cfg.K1Cost != 20 || cfg.K2Cost != 19 || cfg.MaxCost != 22 {
		t.Errorf("cost defaults = %d/%d/%d, want 20/19/22", cfg.K1Cost, cfg.K2Cost, cfg.MaxCost)
	}
	if cfg.MaxDeclaredSize != 60_000_000_000 {
		t.Errorf("MaxDeclaredSize = %d", cfg.MaxDeclaredSize)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *cfg != *DefaultConfig() {
		t.Errorf("LoadConfig on missing file = %+v, want defaults", cfg)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.ServerAddress = "storage.example.org:4433"
	cfg.K1Cost = 18
	cfg.LogLevel = "debug"
	cfg.AcceptRate = 2.5
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if *got != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, cfg)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("k2_cost = 17\nlog_level = \"warn\"\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.K2Cost != 17 || cfg.LogLevel != "warn" {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.K1Cost != envelope.DefaultK1Cost {
		t.Errorf("K1Cost = %d, want default %d", cfg.K1Cost, envelope.DefaultK1Cost)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("k3_cost = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("LoadConfig with unknown key: got %v, want ErrInvalidConfig", err)
	}
}

func TestLoadRejectsBadSyntax(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("k1_cost = = 4\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted malformed TOML")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad server address", func(c *Config) { c.ServerAddress = "no-port" }},
		{"unknown scheme", func(c *Config) { c.SchemeVersion = 0x01 }},
		{"k1 above max", func(c *Config) { c.K1Cost = 23 }},
		{"k2 zero", func(c *Config) { c.K2Cost = 0 }},
		{"max cost too high", func(c *Config) { c.MaxCost = 31 }},
		{"zero declared size", func(c *Config) { c.MaxDeclaredSize = 0 }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tc := range cases {
		cfg := DefaultConfig()
		tc.mutate(cfg)
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("%s: Validate = %v, want ErrInvalidConfig", tc.name, err)
		}
	}

	cfg := DefaultConfig()
	cfg.AcceptBurst = 0
	if err := cfg.ValidateDaemon(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("zero accept burst: ValidateDaemon = %v", err)
	}
}

func TestEnvelopeOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.K1Cost = 4
	cfg.K2Cost = 3
	cfg.MaxCost = 8
	cfg.MaxDeclaredSize = 1 << 20

	d, err := envelope.NewDispatcher(cfg.EnvelopeOptions())
	if err != nil {
		t.Fatalf("NewDispatcher from config failed: %v", err)
	}
	if d.MaxDeclaredSize() != 1<<20 || d.Version() != envelope.V00 {
		t.Errorf("dispatcher settings not taken from config")
	}
}

func TestDefaultConfigPathXDG(t *testing.T) {
	t.Setenv("APPDATA", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	if got := DefaultConfigPath(); got != filepath.Join("/tmp/xdg", "sealbox", "config.toml") {
		t.Errorf("DefaultConfigPath = %s", got)
	}
}
