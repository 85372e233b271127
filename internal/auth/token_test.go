package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type metadataServer struct {
	*httptest.Server
	hits  atomic.Int32
	token string
}

func newMetadataServer(t *testing.T, status int) *metadataServer {
	t.Helper()
	ms := &metadataServer{token: "fresh-token"}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ms.hits.Add(1)
		if r.Header.Get("Metadata-Flavor") != "Google" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			w.Write([]byte(`{"error":"nope"}`))
			return
		}
		time.Sleep(20 * time.Millisecond)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": ms.token,
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	}))
	t.Cleanup(ms.Close)
	return ms
}

func newManager(t *testing.T, metadataURL string) (*TokenManager, string, string) {
	t.Helper()
	dir := t.TempDir()
	tokenPath := filepath.Join(dir, "creds", "gpt_token.json")
	folderPath := filepath.Join(dir, "creds", "gpt_folder_id.txt")
	require.NoError(t, os.MkdirAll(filepath.Dir(folderPath), 0755))
	require.NoError(t, os.WriteFile(folderPath, []byte("b1gfolder\n"), 0644))
	return NewTokenManager(Options{
		TokenPath:    tokenPath,
		FolderIDPath: folderPath,
		MetadataURL:  metadataURL,
		Margin:       time.Minute,
	}), tokenPath, folderPath
}

func writeToken(t *testing.T, path, access string, expiresAt time.Time) {
	t.Helper()
	data, err := json.Marshal(Token{AccessToken: access, ExpiresIn: 3600, ExpiresAt: float64(expiresAt.Unix())})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, data, 0600))
}

func TestStaticSource(t *testing.T) {
	creds, err := StaticSource{Token: "t", Scope: "f"}.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Credentials{Token: "t", Scope: "f"}, creds)

	_, err = StaticSource{}.Credentials(context.Background())
	require.ErrorIs(t, err, ErrNoCredentials)
}

func TestCachedTokenIsReused(t *testing.T) {
	ms := newMetadataServer(t, http.StatusOK)
	tm, tokenPath, _ := newManager(t, ms.URL)
	writeToken(t, tokenPath, "cached", time.Now().Add(time.Hour))
	require.NoError(t, tm.LoadToken())

	creds, err := tm.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", creds.Token)
	assert.Equal(t, "b1gfolder", creds.Scope)
	assert.Zero(t, ms.hits.Load())
}

func TestExpiredTokenIsRefreshedAndSaved(t *testing.T) {
	ms := newMetadataServer(t, http.StatusOK)
	tm, tokenPath, _ := newManager(t, ms.URL)
	writeToken(t, tokenPath, "stale", time.Now().Add(30*time.Second))
	require.NoError(t, tm.LoadToken())

	creds, err := tm.Credentials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-token", creds.Token)
	assert.EqualValues(t, 1, ms.hits.Load())

	data, err := os.ReadFile(tokenPath)
	require.NoError(t, err)
	var saved Token
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "fresh-token", saved.AccessToken)
	assert.WithinDuration(t, time.Now().Add(time.Hour), saved.Expiry(), 5*time.Second)

	info, err := os.Stat(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestConcurrentRefreshHitsMetadataOnce(t *testing.T) {
	ms := newMetadataServer(t, http.StatusOK)
	tm, _, _ := newManager(t, ms.URL)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			creds, err := tm.Credentials(context.Background())
			assert.NoError(t, err)
			assert.Equal(t, "fresh-token", creds.Token)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ms.hits.Load())
}

func TestRefreshFailure(t *testing.T) {
	ms := newMetadataServer(t, http.StatusInternalServerError)
	tm, _, _ := newManager(t, ms.URL)

	_, err := tm.Credentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestMissingFolderID(t *testing.T) {
	ms := newMetadataServer(t, http.StatusOK)
	tm, _, folderPath := newManager(t, ms.URL)
	require.NoError(t, os.Remove(folderPath))

	_, err := tm.Credentials(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "folder id")
}

func TestWatchReloadsChangedFiles(t *testing.T) {
	ms := newMetadataServer(t, http.StatusOK)
	tm, tokenPath, folderPath := newManager(t, ms.URL)
	writeToken(t, tokenPath, "first", time.Now().Add(time.Hour))
	require.NoError(t, tm.LoadToken())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tm.Watch(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})

	_, err := tm.Credentials(context.Background())
	require.NoError(t, err)

	// Give the watcher time to register its directories.
	second, err := json.Marshal(Token{AccessToken: "second", ExpiresIn: 3600, ExpiresAt: float64(time.Now().Add(time.Hour).Unix())})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		if os.WriteFile(tokenPath, second, 0600) != nil || os.WriteFile(folderPath, []byte("b1gother"), 0644) != nil {
			return false
		}
		creds, err := tm.Credentials(context.Background())
		return err == nil && creds.Token == "second" && creds.Scope == "b1gother"
	}, 3*time.Second, 50*time.Millisecond)

	assert.Zero(t, ms.hits.Load())
}
