package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"storybot/internal/logging"
)

// Token is the cached IAM token as written to the token file.
type Token struct {
	AccessToken string  `json:"access_token"`
	TokenType   string  `json:"token_type,omitempty"`
	ExpiresIn   int     `json:"expires_in"`
	ExpiresAt   float64 `json:"expires_at"` // unix seconds
}

// Expiry returns ExpiresAt as a time.
func (t *Token) Expiry() time.Time {
	sec, frac := math.Modf(t.ExpiresAt)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// Options configures a TokenManager.
type Options struct {
	TokenPath    string
	FolderIDPath string
	MetadataURL  string
	// Margin refreshes tokens this long before they expire.
	Margin time.Duration
	Client *http.Client
}

// TokenManager caches an IAM token on disk and refreshes it from the
// instance metadata service when it is missing or about to expire.
type TokenManager struct {
	tokenFile    string
	folderIDFile string
	metadataURL  string
	margin       time.Duration
	client       *http.Client
	now          func() time.Time

	mu       sync.Mutex
	token    *Token
	folderID string

	group singleflight.Group
}

var _ Refresher = (*TokenManager)(nil)

// NewTokenManager creates a token manager and loads any cached token.
func NewTokenManager(o Options) *TokenManager {
	client := o.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	tm := &TokenManager{
		tokenFile:    o.TokenPath,
		folderIDFile: o.FolderIDPath,
		metadataURL:  o.MetadataURL,
		margin:       o.Margin,
		client:       client,
		now:          time.Now,
	}
	if err := tm.LoadToken(); err != nil {
		logging.AuthDebug("No cached token at %s: %v", tm.tokenFile, err)
	}
	return tm
}

// LoadToken loads the token from disk.
func (tm *TokenManager) LoadToken() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	data, err := os.ReadFile(tm.tokenFile)
	if err != nil {
		return err
	}

	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return err
	}
	if token.AccessToken == "" {
		return fmt.Errorf("token file %s has no access_token", tm.tokenFile)
	}
	tm.token = &token
	return nil
}

func (tm *TokenManager) saveLocked() error {
	if tm.token == nil {
		return nil
	}

	data, err := json.MarshalIndent(tm.token, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(tm.tokenFile), 0755); err != nil {
		return err
	}
	return os.WriteFile(tm.tokenFile, data, 0600)
}

// Credentials returns a valid token and the folder id, refreshing if necessary.
func (tm *TokenManager) Credentials(ctx context.Context) (Credentials, error) {
	token, err := tm.validToken(ctx)
	if err != nil {
		return Credentials{}, err
	}
	folder, err := tm.folder()
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Token: token.AccessToken, Scope: folder}, nil
}

func (tm *TokenManager) validToken(ctx context.Context) (*Token, error) {
	tm.mu.Lock()
	if tm.token != nil && tm.now().Add(tm.margin).Before(tm.token.Expiry()) {
		token := tm.token
		tm.mu.Unlock()
		return token, nil
	}
	tm.mu.Unlock()

	logging.AuthDebug("Token missing or expired, refreshing from metadata service")
	v, err, shared := tm.group.Do("refresh", func() (interface{}, error) {
		return tm.refresh(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	if shared {
		logging.AuthDebug("Joined in-flight token refresh")
	}
	return v.(*Token), nil
}

// RefreshToken forces a refresh from the metadata service. The backend
// client calls it when a cached token is rejected before its expiry.
func (tm *TokenManager) RefreshToken(ctx context.Context) error {
	_, err, _ := tm.group.Do("refresh", func() (interface{}, error) {
		return tm.refresh(ctx)
	})
	return err
}

func (tm *TokenManager) refresh(ctx context.Context) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, tm.metadataURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Metadata-Flavor", "Google")

	resp, err := tm.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		logging.Get(logging.CategoryAuth).Error("Token refresh failed: status=%d body=%s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("metadata service returned status %d", resp.StatusCode)
	}

	var fresh Token
	if err := json.NewDecoder(resp.Body).Decode(&fresh); err != nil {
		return nil, fmt.Errorf("decode metadata token: %w", err)
	}
	if fresh.AccessToken == "" {
		return nil, fmt.Errorf("metadata service returned an empty token")
	}
	fresh.ExpiresAt = float64(tm.now().UnixNano())/1e9 + float64(fresh.ExpiresIn)

	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.token = &fresh
	if err := tm.saveLocked(); err != nil {
		logging.Get(logging.CategoryAuth).Warn("Failed to cache token at %s: %v", tm.tokenFile, err)
	}
	logging.Get(logging.CategoryAuth).Info("Token refreshed, expires in %ds", fresh.ExpiresIn)
	return &fresh, nil
}

func (tm *TokenManager) folder() (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.folderID != "" {
		return tm.folderID, nil
	}
	data, err := os.ReadFile(tm.folderIDFile)
	if err != nil {
		return "", fmt.Errorf("read folder id: %w", err)
	}
	id := strings.TrimSpace(string(data))
	if id == "" {
		return "", fmt.Errorf("folder id file %s is empty", tm.folderIDFile)
	}
	tm.folderID = id
	return id, nil
}

// invalidate drops cached state so the next call re-reads or refreshes.
func (tm *TokenManager) invalidate(token, folder bool) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if token {
		tm.token = nil
	}
	if folder {
		tm.folderID = ""
	}
}
