// Package gateway assembles outbound requests for the generation backend
// and maps its answers to user-facing text.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"storybot/internal/backend"
	"storybot/internal/logging"
	"storybot/internal/types"
)

// Completer produces one completion for a message batch.
type Completer interface {
	Complete(ctx context.Context, msgs []types.Message) (*backend.Completion, error)
}

// Outcome classifies a completion attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeEmpty
	OutcomeStatus
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeStatus:
		return "status"
	case OutcomeFailure:
		return "failure"
	}
	return "unknown"
}

const (
	genericApology = "An unexpected error occurred. See the log for details."
	noPayload      = "Empty message for test mode"
)

// StatusApology is the assistant text stored for a non-success status.
func StatusApology(code int) string {
	return fmt.Sprintf("Status code %d. See the log for details.", code)
}

// GenericApology is the assistant text stored for transport or parse failures.
func GenericApology() string {
	return genericApology
}

// Result is the interpreted answer. Text is what gets persisted; DebugText
// mirrors the request and raw payload for users in test mode.
type Result struct {
	Outcome    Outcome
	Text       string
	DebugText  string
	StatusCode int
	Err        error
}

// Gateway calls the backend for a session.
type Gateway struct {
	completer Completer
}

// New creates a gateway.
func New(c Completer) *Gateway {
	return &Gateway{completer: c}
}

// Complete sends history with the mode cue and interprets the result.
// It never returns an error: failures become apology text.
func (g *Gateway) Complete(ctx context.Context, history []types.Turn, mode types.Mode) Result {
	timer := logging.StartTimer(logging.CategoryGateway, "Complete")
	defer timer.Stop()

	msgs := Messages(history, mode)
	last := ""
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1].Content
	}

	completion, err := g.completer.Complete(ctx, msgs)
	if err != nil {
		var be *backend.Error
		if errors.As(err, &be) && be.StatusCode != 0 {
			logging.Get(logging.CategoryGateway).Warn("Completion rejected: status=%d body=%s", be.StatusCode, be.Body)
			return Result{
				Outcome:    OutcomeStatus,
				Text:       StatusApology(be.StatusCode),
				DebugText:  debugText(last, ""),
				StatusCode: be.StatusCode,
				Err:        err,
			}
		}
		logging.Get(logging.CategoryGateway).Error("Completion failed: %v", err)
		return Result{Outcome: OutcomeFailure, Text: genericApology, DebugText: debugText(last, ""), Err: err}
	}

	if completion.Text == "" {
		logging.Get(logging.CategoryGateway).Warn("Backend returned an empty completion for %d messages", len(msgs))
		return Result{Outcome: OutcomeEmpty, DebugText: debugText(last, string(completion.Raw))}
	}

	logging.Get(logging.CategoryGateway).Debug("Completion ok: mode=%s len=%d", mode, len(completion.Text))
	return Result{Outcome: OutcomeSuccess, Text: completion.Text, DebugText: debugText(last, string(completion.Raw))}
}

func debugText(input, raw string) string {
	if raw == "" {
		raw = noPayload
	}
	return fmt.Sprintf("Input:\n%s\nOutput:\n%s", input, raw)
}
