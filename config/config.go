// Package config loads echogent settings from the environment and an
// optional config.yaml in the config directory. Keys present in the file
// override the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/sragss/echogent/agentloop"
	"github.com/sragss/echogent/unifiedllm"
)

const (
	// FileName is the optional settings file inside the config directory.
	FileName = "config.yaml"
	// CredentialFileName holds the saved Echo API key.
	CredentialFileName = "api-key.txt"
)

// Config holds runtime configuration.
type Config struct {
	// Dir is the config directory; it is not itself configurable from the file.
	Dir string `yaml:"-" env:"ECHOGENT_CONFIG_DIR"`

	Provider  string `yaml:"provider" env:"ECHOGENT_PROVIDER" envDefault:"echo" validate:"required"`
	Model     string `yaml:"model" env:"ECHOGENT_MODEL" envDefault:"claude-sonnet-4-20250514" validate:"required"`
	MaxSteps  int    `yaml:"max_steps" env:"ECHOGENT_MAX_STEPS" envDefault:"15" validate:"min=1"`
	MaxTokens int    `yaml:"max_tokens" env:"ECHOGENT_MAX_TOKENS" envDefault:"4096" validate:"min=1"`

	// AppID identifies the Echo app the key and billing belong to.
	AppID        string `yaml:"app_id" env:"ECHOGENT_APP_ID" envDefault:"d4db70fb-4df9-4161-a89b-9ec53125088b" validate:"required"`
	EchoURL      string `yaml:"echo_url" env:"ECHOGENT_ECHO_URL" envDefault:"https://echo.merit.systems" validate:"url"`
	RouterURL    string `yaml:"router_url" env:"ECHOGENT_ROUTER_URL" envDefault:"https://echo.router.merit.systems" validate:"url"`
	AnthropicURL string `yaml:"anthropic_url" env:"ECHOGENT_ANTHROPIC_URL" envDefault:"https://api.anthropic.com/v1" validate:"url"`

	// BalanceThreshold triggers a payment link when the balance is below it.
	BalanceThreshold float64 `yaml:"balance_threshold" env:"ECHOGENT_BALANCE_THRESHOLD" envDefault:"1" validate:"min=0"`
	TopUpAmount      float64 `yaml:"top_up_amount" env:"ECHOGENT_TOP_UP_AMOUNT" envDefault:"10" validate:"gt=0"`

	ShellTimeout        time.Duration `yaml:"shell_timeout" env:"ECHOGENT_SHELL_TIMEOUT" envDefault:"0s" validate:"min=0"`
	ToolOutputLimit     int           `yaml:"tool_output_limit" env:"ECHOGENT_TOOL_OUTPUT_LIMIT" validate:"min=0"`
	ToolLineLimit       int           `yaml:"tool_line_limit" env:"ECHOGENT_TOOL_LINE_LIMIT" validate:"min=0"`
	LoopDetectionWindow int           `yaml:"loop_detection_window" env:"ECHOGENT_LOOP_DETECTION_WINDOW" validate:"min=0"`

	// JournalPath enables the SQLite transcript journal when set.
	JournalPath string `yaml:"journal_path" env:"ECHOGENT_JOURNAL_PATH" validate:"required_with=Resume"`
	// Resume continues a journaled session: its ID, or "last".
	Resume      string `yaml:"resume" env:"ECHOGENT_RESUME"`
	LogLevel    string `yaml:"log_level" env:"ECHOGENT_LOG_LEVEL" envDefault:"warn" validate:"oneof=debug info warn error"`

	// APIKey bypasses the credential file when set.
	APIKey     string `yaml:"api_key" env:"ECHOGENT_API_KEY"`
	WorkingDir string `yaml:"working_dir" env:"ECHOGENT_WORKING_DIR"`
}

// DefaultDir returns ~/.echogent.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".echogent"), nil
}

// Load reads configuration from the environment and then from
// <dir>/config.yaml. An empty dir means ECHOGENT_CONFIG_DIR or DefaultDir.
// A missing file is not an error.
func Load(dir string) (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if dir != "" {
		cfg.Dir = dir
	}
	if cfg.Dir == "" {
		d, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		cfg.Dir = d
	}

	path := filepath.Join(cfg.Dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s fails %s%s", fe.Field(), fe.Tag(), paramSuffix(fe.Param()))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func paramSuffix(p string) string {
	if p == "" {
		return ""
	}
	return "=" + p
}

// CredentialPath is where the Echo API key is saved.
func (c *Config) CredentialPath() string {
	return filepath.Join(c.Dir, CredentialFileName)
}

// IsEcho reports whether requests are billed through Echo.
func (c *Config) IsEcho() bool {
	return c.Provider == "echo"
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// SessionConfig translates the settings that drive the turn loop.
func (c *Config) SessionConfig() agentloop.SessionConfig {
	sc := agentloop.DefaultSessionConfig()
	sc.Model = unifiedllm.ResolveModel(c.Model)
	sc.Provider = c.Provider
	sc.MaxSteps = c.MaxSteps
	sc.MaxTokens = c.MaxTokens
	sc.LoopDetectionWindow = c.LoopDetectionWindow
	sc.Truncation = agentloop.TruncationLimits{Chars: c.ToolOutputLimit, Lines: c.ToolLineLimit}
	return sc
}

// ToolOptions translates the settings for the core tool set.
func (c *Config) ToolOptions() agentloop.ToolOptions {
	return agentloop.ToolOptions{ShellTimeout: c.ShellTimeout}
}
