package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"storybot/internal/logging"
	"storybot/internal/wizard"
)

// Config holds all storybot configuration.
type Config struct {
	// Core settings
	Name string `yaml:"name"`

	// AdminID is the only user allowed to fetch the log file.
	AdminID int64 `yaml:"admin_id"`

	// Generation backend
	Backend BackendConfig `yaml:"backend"`

	// Backend credentials
	Credentials CredentialsConfig `yaml:"credentials"`

	// Usage ceilings
	Quota QuotaConfig `yaml:"quota"`

	// Turn store
	Store StoreConfig `yaml:"store"`

	// Registration catalog
	Story wizard.Catalog `yaml:"story"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// BackendConfig configures the generation backend endpoints.
type BackendConfig struct {
	CompletionURL string  `yaml:"completion_url"`
	TokenizeURL   string  `yaml:"tokenize_url"`
	Model         string  `yaml:"model"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	Timeout       string  `yaml:"timeout"`
}

// Credential modes.
const (
	CredentialsStatic   = "static"
	CredentialsMetadata = "metadata"
)

// CredentialsConfig configures where the bearer token and scope come from.
type CredentialsConfig struct {
	Mode string `yaml:"mode"` // static, metadata

	// static mode
	APIToken string `yaml:"api_token"`
	FolderID string `yaml:"folder_id"`

	// metadata mode
	TokenPath     string `yaml:"token_path"`
	FolderIDPath  string `yaml:"folder_id_path"`
	MetadataURL   string `yaml:"metadata_url"`
	RefreshMargin string `yaml:"refresh_margin"`
}

// QuotaConfig holds the usage ceilings.
type QuotaConfig struct {
	MaxUsers            int `yaml:"max_users"`
	MaxSessions         int `yaml:"max_sessions"`
	MaxTokensPerSession int `yaml:"max_tokens_per_session"`
}

// StoreConfig configures the SQLite turn store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "storybot",

		Backend: BackendConfig{
			CompletionURL: "https://llm.api.cloud.yandex.net/foundationModels/v1/completion",
			TokenizeURL:   "https://llm.api.cloud.yandex.net/foundationModels/v1/tokenizeCompletion",
			Model:         "yandexgpt",
			MaxTokens:     1000,
			Temperature:   0.6,
			Timeout:       "60s",
		},

		Credentials: CredentialsConfig{
			Mode:          CredentialsMetadata,
			TokenPath:     "creds/gpt_token.json",
			FolderIDPath:  "creds/gpt_folder_id.txt",
			MetadataURL:   "http://169.254.169.254/computeMetadata/v1/instance/service-accounts/default/token",
			RefreshMargin: "1m",
		},

		Quota: QuotaConfig{
			MaxUsers:            3,
			MaxSessions:         3,
			MaxTokensPerSession: 2500,
		},

		Store: StoreConfig{
			DatabasePath: "db/storybot.db",
		},

		Story: wizard.DefaultCatalog(),

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   "logs/storybot.log",
		},
	}
}

// Load loads configuration from a YAML file.
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// GetBackendTimeout returns the backend HTTP timeout as a duration.
func (c *Config) GetBackendTimeout() time.Duration {
	d, err := time.ParseDuration(c.Backend.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetRefreshMargin returns how long before expiry a cached token is refreshed.
func (c *Config) GetRefreshMargin() time.Duration {
	d, err := time.ParseDuration(c.Credentials.RefreshMargin)
	if err != nil || d < 0 {
		return time.Minute
	}
	return d
}

// LoggingOptions converts the logging section for the logging package.
func (c *Config) LoggingOptions() logging.Options {
	return logging.Options{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		DebugMode:  c.Logging.DebugMode,
		Categories: c.Logging.Categories,
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Quota.MaxUsers < 1 {
		return fmt.Errorf("quota.max_users must be >= 1")
	}
	if c.Quota.MaxSessions < 1 {
		return fmt.Errorf("quota.max_sessions must be >= 1")
	}
	if c.Quota.MaxTokensPerSession < 1 {
		return fmt.Errorf("quota.max_tokens_per_session must be >= 1")
	}
	if c.Backend.MaxTokens < 1 {
		return fmt.Errorf("backend.max_tokens must be >= 1")
	}
	if c.Backend.Temperature < 0 || c.Backend.Temperature > 1 {
		return fmt.Errorf("backend.temperature must be within [0, 1], got %v", c.Backend.Temperature)
	}
	if c.Backend.CompletionURL == "" || c.Backend.TokenizeURL == "" {
		return fmt.Errorf("backend completion_url and tokenize_url are required")
	}
	if c.Store.DatabasePath == "" {
		return fmt.Errorf("store.database_path is required")
	}

	switch c.Credentials.Mode {
	case CredentialsStatic:
		if c.Credentials.APIToken == "" || c.Credentials.FolderID == "" {
			return fmt.Errorf("static credentials need api_token and folder_id (or STORYBOT_API_TOKEN and STORYBOT_FOLDER_ID)")
		}
	case CredentialsMetadata:
		if c.Credentials.TokenPath == "" || c.Credentials.FolderIDPath == "" || c.Credentials.MetadataURL == "" {
			return fmt.Errorf("metadata credentials need token_path, folder_id_path and metadata_url")
		}
	default:
		return fmt.Errorf("invalid credentials mode: %q (valid: %s, %s)", c.Credentials.Mode, CredentialsStatic, CredentialsMetadata)
	}

	return c.Story.Validate()
}
