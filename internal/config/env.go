package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// envOverrides lists the variables that take precedence over the YAML file.
type envOverrides struct {
	APIToken      string `env:"STORYBOT_API_TOKEN"`
	FolderID      string `env:"STORYBOT_FOLDER_ID"`
	DatabasePath  string `env:"STORYBOT_DB"`
	AdminID       int64  `env:"STORYBOT_ADMIN_ID"`
	LogLevel      string `env:"STORYBOT_LOG_LEVEL"`
	LogFile       string `env:"STORYBOT_LOG_FILE"`
	CompletionURL string `env:"STORYBOT_COMPLETION_URL"`
	TokenizeURL   string `env:"STORYBOT_TOKENIZE_URL"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyEnvOverrides overlays environment variables on the loaded config.
// A static API token switches credentials to static mode.
func (c *Config) applyEnvOverrides() error {
	var e envOverrides
	if err := ParseEnv(&e); err != nil {
		return err
	}

	if e.APIToken != "" {
		c.Credentials.APIToken = e.APIToken
		c.Credentials.Mode = CredentialsStatic
	}
	if e.FolderID != "" {
		c.Credentials.FolderID = e.FolderID
	}
	if e.DatabasePath != "" {
		c.Store.DatabasePath = e.DatabasePath
	}
	if e.AdminID != 0 {
		c.AdminID = e.AdminID
	}
	if e.LogLevel != "" {
		c.Logging.Level = e.LogLevel
	}
	if e.LogFile != "" {
		c.Logging.File = e.LogFile
	}
	if e.CompletionURL != "" {
		c.Backend.CompletionURL = e.CompletionURL
	}
	if e.TokenizeURL != "" {
		c.Backend.TokenizeURL = e.TokenizeURL
	}
	return nil
}
