// Package backend talks to the hosted text-generation service: one
// endpoint counts tokens, the other produces completions.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"storybot/internal/auth"
	"storybot/internal/logging"
	"storybot/internal/types"
)

// Config configures the backend client.
type Config struct {
	CompletionURL string
	TokenizeURL   string
	Model         string
	MaxTokens     int
	Temperature   float64
	Timeout       time.Duration
}

// Client calls the tokenizer and completion endpoints.
type Client struct {
	cfg        Config
	creds      auth.Source
	httpClient *http.Client
}

// NewClient creates a client that authenticates with creds.
func NewClient(cfg Config, creds auth.Source) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Client{
		cfg:        cfg,
		creds:      creds,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Completion is a successful completion. Text may be empty.
type Completion struct {
	Text string
	Raw  []byte
}

type wireMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type tokenizeRequest struct {
	ModelURI  string        `json:"modelUri"`
	MaxTokens int           `json:"maxTokens"`
	Messages  []wireMessage `json:"messages"`
}

type tokenizeResponse struct {
	Tokens *[]json.RawMessage `json:"tokens"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"maxTokens"`
}

type completionRequest struct {
	ModelURI          string            `json:"modelUri"`
	CompletionOptions completionOptions `json:"completionOptions"`
	Messages          []wireMessage     `json:"messages"`
}

type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message wireMessage `json:"message"`
			Status  string      `json:"status"`
		} `json:"alternatives"`
	} `json:"result"`
}

// ModelURI returns the model identifier for a folder scope.
func (c *Client) ModelURI(scope string) string {
	return fmt.Sprintf("gpt://%s/%s/latest", scope, c.cfg.Model)
}

// Tokenize returns the authoritative token count for msgs. It always
// calls the backend, even for a single message.
func (c *Client) Tokenize(ctx context.Context, msgs []types.Message) (int, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "Tokenize")
	defer timer.Stop()

	body, err := c.call(ctx, "tokenize", c.cfg.TokenizeURL, func(scope string) interface{} {
		return tokenizeRequest{
			ModelURI:  c.ModelURI(scope),
			MaxTokens: c.cfg.MaxTokens,
			Messages:  wireMessages(msgs),
		}
	})
	if err != nil {
		return 0, err
	}

	var resp tokenizeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, &Error{Op: "tokenize", Body: string(body), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if resp.Tokens == nil {
		return 0, &Error{Op: "tokenize", Body: string(body), Err: fmt.Errorf("response has no tokens field")}
	}

	n := len(*resp.Tokens)
	logging.APIDebug("Tokenize: messages=%d tokens=%d", len(msgs), n)
	return n, nil
}

// Complete requests one completion for msgs.
// A non-success status is returned as an *Error with StatusCode set.
func (c *Client) Complete(ctx context.Context, msgs []types.Message) (*Completion, error) {
	timer := logging.StartTimer(logging.CategoryAPI, "Complete")
	defer timer.StopWithThreshold(10 * time.Second)

	body, err := c.call(ctx, "complete", c.cfg.CompletionURL, func(scope string) interface{} {
		return completionRequest{
			ModelURI: c.ModelURI(scope),
			CompletionOptions: completionOptions{
				Stream:      false,
				Temperature: c.cfg.Temperature,
				MaxTokens:   c.cfg.MaxTokens,
			},
			Messages: wireMessages(msgs),
		}
	})
	if err != nil {
		return nil, err
	}

	var resp completionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Op: "complete", Body: string(body), Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	if len(resp.Result.Alternatives) == 0 {
		return nil, &Error{Op: "complete", Body: string(body), Err: fmt.Errorf("no alternatives returned")}
	}

	text := resp.Result.Alternatives[0].Message.Text
	logging.API("Complete: messages=%d response_len=%d", len(msgs), len(text))
	return &Completion{Text: text, Raw: body}, nil
}

// call posts the payload built for the current credential scope. A 401 from
// a refreshable source triggers one refresh and one retry.
func (c *Client) call(ctx context.Context, op, url string, payload func(scope string) interface{}) ([]byte, error) {
	creds, err := c.creds.Credentials(ctx)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("credentials: %w", err)}
	}

	body, err := c.post(ctx, op, url, creds.Token, payload(creds.Scope))
	var be *Error
	if err == nil || !errors.As(err, &be) || be.StatusCode != http.StatusUnauthorized {
		return body, err
	}
	refresher, ok := c.creds.(auth.Refresher)
	if !ok {
		return nil, err
	}

	logging.API("%s rejected with 401, refreshing credentials", op)
	if rerr := refresher.RefreshToken(ctx); rerr != nil {
		logging.APIError("Credential refresh after 401 failed: %v", rerr)
		return nil, err
	}
	if creds, err = c.creds.Credentials(ctx); err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("credentials: %w", err)}
	}
	return c.post(ctx, op, url, creds.Token, payload(creds.Scope))
}

func (c *Client) post(ctx context.Context, op, url, token string, payload interface{}) ([]byte, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logging.APIError("%s request failed: %v", op, err)
		return nil, &Error{Op: op, Err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		logging.APIError("%s failed with status %d: %s", op, resp.StatusCode, string(body))
		return nil, &Error{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func wireMessages(msgs []types.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, wireMessage{Role: string(m.Role), Text: m.Content})
	}
	return out
}
