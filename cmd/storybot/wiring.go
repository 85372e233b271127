package main

import (
	"fmt"

	"go.uber.org/zap"

	"storybot/internal/auth"
	"storybot/internal/backend"
	"storybot/internal/config"
	"storybot/internal/logging"
	"storybot/internal/quota"
	"storybot/internal/session"
	"storybot/internal/store"
)

// app is the wired object graph shared by the subcommands.
type app struct {
	store   *store.LocalStore
	tokens  *auth.TokenManager // nil with static credentials
	backend *backend.Client
	orch    *session.Orchestrator
}

// credentialSource picks the credential source for the configured mode.
func credentialSource(c *config.Config) (auth.Source, *auth.TokenManager) {
	if c.Credentials.Mode == config.CredentialsStatic {
		return auth.StaticSource{Token: c.Credentials.APIToken, Scope: c.Credentials.FolderID}, nil
	}
	tm := auth.NewTokenManager(auth.Options{
		TokenPath:    c.Credentials.TokenPath,
		FolderIDPath: c.Credentials.FolderIDPath,
		MetadataURL:  c.Credentials.MetadataURL,
		Margin:       c.GetRefreshMargin(),
	})
	return tm, tm
}

func backendConfig(c *config.Config) backend.Config {
	return backend.Config{
		CompletionURL: c.Backend.CompletionURL,
		TokenizeURL:   c.Backend.TokenizeURL,
		Model:         c.Backend.Model,
		MaxTokens:     c.Backend.MaxTokens,
		Temperature:   c.Backend.Temperature,
		Timeout:       c.GetBackendTimeout(),
	}
}

// newApp opens the store and wires the orchestrator.
func newApp(c *config.Config) (*app, error) {
	s, err := store.NewLocalStore(c.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	logger.Debug("Turn store opened", zap.String("path", s.Path()))
	if !logging.IsCategoryEnabled(logging.CategoryAudit) {
		logger.Warn("Audit category is disabled; quota and session events will not reach the log file")
	}

	src, tm := credentialSource(c)
	client := backend.NewClient(backendConfig(c), src)

	orch := session.New(session.Deps{
		Store:     s,
		Tokenizer: client,
		Completer: client,
		Limits: quota.Limits{
			MaxUsers:            c.Quota.MaxUsers,
			MaxSessions:         c.Quota.MaxSessions,
			MaxTokensPerSession: c.Quota.MaxTokensPerSession,
		},
		Catalog: c.Story,
		AdminID: c.AdminID,
		LogFile: c.Logging.File,
	})

	return &app{store: s, tokens: tm, backend: client, orch: orch}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
