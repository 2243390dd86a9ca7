package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

const (
	AppName         = "typing-assistant"
	EnvPathEnvVar   = "TYPING_ASSISTANT"
	DataDirEnvVar   = "DATA_DIR"
	HotkeysFileName = "hotkeys.json"
	AuthFileName    = "auth.json"
	SettingsFile    = "settings.json"
)

type LoadOptions struct {
	DataDirOverride    string
	BackendURLOverride string
}

type Config struct {
	BackendURL        string        `env:"BACKEND_URL" envDefault:"http://127.0.0.1:8000"`
	AIServerURL       string        `env:"AI_SERVER_URL" envDefault:"https://api.typingassistant.app"`
	BridgeAddr        string        `env:"BRIDGE_ADDR" envDefault:"127.0.0.1:8765"`
	EnableFileLogging bool          `env:"ENABLE_FILE_LOGGING"`
	Debug             bool          `env:"DEBUG"`
	DiagnosticHotkey  string        `env:"DIAGNOSTIC_HOTKEY" envDefault:"Ctrl+Shift+F12"`
	CopyDelay         time.Duration `env:"COPY_DELAY" envDefault:"150ms"`
	CopyRetryDelay    time.Duration `env:"COPY_RETRY_DELAY" envDefault:"400ms"`
	RestoreDelay      time.Duration `env:"CLIPBOARD_RESTORE_DELAY" envDefault:"2s"`
	// Zero leaves request timeouts to the transport.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT"`
	DataDir     string        `env:"DATA_DIR"`
	// Loopback range scanned for a running resident; only the start port is bound.
	PortStart int `env:"SINGLEINSTANCE_PORT_START" envDefault:"49500"`
	PortEnd   int `env:"SINGLEINSTANCE_PORT_END" envDefault:"49550"`
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Sources in priority order:
	// 1) process environment
	// 2) .env in the executable directory, or the file named by TYPING_ASSISTANT
	if envPath := resolveEnvPath(); envPath != "" {
		// godotenv.Load never overrides variables that are already set.
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if o := strings.TrimSpace(opts.BackendURLOverride); o != "" {
		cfg.BackendURL = o
	}
	if o := strings.TrimSpace(opts.DataDirOverride); o != "" {
		cfg.DataDir = o
	}
	if cfg.DataDir == "" {
		dir, err := defaultDataDir()
		if err != nil {
			return nil, err
		}
		cfg.DataDir = dir
	}

	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	cfg.AIServerURL = strings.TrimRight(cfg.AIServerURL, "/")
	return cfg, nil
}

// Validate reports the first configuration value the resident cannot run with.
func (c *Config) Validate() error {
	if err := validateURL("BACKEND_URL", c.BackendURL); err != nil {
		return err
	}
	if err := validateURL("AI_SERVER_URL", c.AIServerURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.BridgeAddr) == "" {
		return errors.New("BRIDGE_ADDR is required")
	}
	if c.CopyDelay < 0 || c.CopyRetryDelay < 0 || c.RestoreDelay < 0 {
		return errors.New("clipboard delays must not be negative")
	}
	return nil
}

// Path returns name inside the per-user data directory.
func (c *Config) Path(name string) string {
	return filepath.Join(c.DataDir, name)
}

// EnsureDataDir creates the data directory if it is missing.
func (c *Config) EnsureDataDir() error {
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

func validateURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
	}
	return nil
}

func defaultDataDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("get user config dir: %w", err)
	}
	return filepath.Join(dir, AppName), nil
}

func resolveEnvPath() string {
	if execPath, err := os.Executable(); err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathEnvVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}
