package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storybot/internal/auth"
	"storybot/internal/types"
)

type recorded struct {
	path   string
	auth   string
	body   map[string]any
	status int
}

func newBackend(t *testing.T, handler func(path string) (int, string)) (*Client, *[]recorded) {
	t.Helper()
	var calls []recorded
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		json.Unmarshal(raw, &body)
		status, resp := handler(r.URL.Path)
		calls = append(calls, recorded{path: r.URL.Path, auth: r.Header.Get("Authorization"), body: body, status: status})
		w.WriteHeader(status)
		io.WriteString(w, resp)
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		CompletionURL: srv.URL + "/completion",
		TokenizeURL:   srv.URL + "/tokenizeCompletion",
		Model:         "yandexgpt",
		MaxTokens:     1000,
		Temperature:   0.6,
		Timeout:       5 * time.Second,
	}, auth.StaticSource{Token: "iam-token", Scope: "b1gfolder"})
	return c, &calls
}

var history = []types.Message{
	{Role: types.RoleSystem, Content: "Write a story"},
	{Role: types.RoleUser, Content: "The knight waits"},
}

func TestTokenize(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) {
		return http.StatusOK, `{"tokens":[{"id":"1"},{"id":"2"},{"id":"3"}],"modelVersion":"x"}`
	})

	n, err := c.Tokenize(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, "/tokenizeCompletion", call.path)
	assert.Equal(t, "Bearer iam-token", call.auth)
	assert.Equal(t, "gpt://b1gfolder/yandexgpt/latest", call.body["modelUri"])

	want := []any{
		map[string]any{"role": "system", "text": "Write a story"},
		map[string]any{"role": "user", "text": "The knight waits"},
	}
	if diff := cmp.Diff(want, call.body["messages"]); diff != "" {
		t.Errorf("messages mismatch (-want +got):\n%s", diff)
	}
}

func TestTokenizeSingleMessageStillCallsBackend(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) { return http.StatusOK, `{"tokens":[]}` })

	n, err := c.Tokenize(context.Background(), history[:1])
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, *calls, 1)
}

func TestTokenizeErrors(t *testing.T) {
	t.Run("status", func(t *testing.T) {
		c, _ := newBackend(t, func(string) (int, string) { return http.StatusUnauthorized, `{"error":"bad token"}` })
		_, err := c.Tokenize(context.Background(), history)

		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
		assert.Contains(t, be.Body, "bad token")
	})

	t.Run("missing tokens field", func(t *testing.T) {
		c, _ := newBackend(t, func(string) (int, string) { return http.StatusOK, `{}` })
		_, err := c.Tokenize(context.Background(), history)

		var be *Error
		require.True(t, errors.As(err, &be))
		assert.Zero(t, be.StatusCode)
	})

	t.Run("credentials", func(t *testing.T) {
		c := NewClient(Config{TokenizeURL: "http://127.0.0.1:1"}, auth.StaticSource{})
		_, err := c.Tokenize(context.Background(), history)
		require.ErrorIs(t, err, auth.ErrNoCredentials)
	})
}

func TestComplete(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) {
		return http.StatusOK, `{"result":{"alternatives":[{"message":{"role":"assistant","text":"Once upon a time"},"status":"ALTERNATIVE_STATUS_FINAL"}]}}`
	})

	got, err := c.Complete(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time", got.Text)
	assert.Contains(t, string(got.Raw), "ALTERNATIVE_STATUS_FINAL")

	call := (*calls)[0]
	assert.Equal(t, "/completion", call.path)
	opts := call.body["completionOptions"].(map[string]any)
	assert.Equal(t, false, opts["stream"])
	assert.Equal(t, 0.6, opts["temperature"])
	assert.Equal(t, float64(1000), opts["maxTokens"])
}

func TestCompleteEmptyText(t *testing.T) {
	c, _ := newBackend(t, func(string) (int, string) {
		return http.StatusOK, `{"result":{"alternatives":[{"message":{"role":"assistant","text":""}}]}}`
	})

	got, err := c.Complete(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, "", got.Text)
}

func TestCompleteFailures(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
	}{
		{"server error", http.StatusInternalServerError, `oops`, http.StatusInternalServerError},
		{"rate limited", http.StatusTooManyRequests, `{}`, http.StatusTooManyRequests},
		{"malformed json", http.StatusOK, `{"result":`, 0},
		{"no alternatives", http.StatusOK, `{"result":{"alternatives":[]}}`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newBackend(t, func(string) (int, string) { return tt.status, tt.body })

			got, err := c.Complete(context.Background(), history)
			assert.Nil(t, got)

			var be *Error
			require.True(t, errors.As(err, &be))
			assert.Equal(t, "complete", be.Op)
			assert.Equal(t, tt.wantStatus, be.StatusCode)
		})
	}
}

// rotatingSource hands out "stale" until refreshed, then "fresh".
type rotatingSource struct {
	mu        sync.Mutex
	token     string
	refreshes int
}

func (s *rotatingSource) Credentials(context.Context) (auth.Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return auth.Credentials{Token: s.token, Scope: "b1gfolder"}, nil
}

func (s *rotatingSource) RefreshToken(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	s.token = "fresh"
	return nil
}

func TestUnauthorizedRefreshesOnce(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, `{"tokens":[{"id":"1"}]}`)
	}))
	t.Cleanup(srv.Close)

	src := &rotatingSource{token: "stale"}
	c := NewClient(Config{TokenizeURL: srv.URL, Model: "yandexgpt", Timeout: 5 * time.Second}, src)

	n, err := c.Tokenize(context.Background(), history)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, src.refreshes)
	assert.Equal(t, []string{"Bearer stale", "Bearer fresh"}, seen)
}

func TestUnauthorizedWithStaticSourceIsNotRetried(t *testing.T) {
	c, calls := newBackend(t, func(string) (int, string) { return http.StatusUnauthorized, `{}` })

	_, err := c.Complete(context.Background(), history)
	var be *Error
	require.True(t, errors.As(err, &be))
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
	assert.Len(t, *calls, 1)
}
