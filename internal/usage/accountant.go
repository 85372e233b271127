// Package usage counts tokens through the backend tokenizer and derives
// per-turn and lifetime usage from the turn store.
package usage

import (
	"context"

	"storybot/internal/logging"
	"storybot/internal/types"
)

// Tokenizer returns the authoritative token count of a message batch.
type Tokenizer interface {
	Tokenize(ctx context.Context, msgs []types.Message) (int, error)
}

// Ledger is the part of the turn store the accountant reads.
type Ledger interface {
	SessionTokenTotal(ctx context.Context, userID int64, sessionID int) (int, error)
	LifetimeTokenTotal(ctx context.Context) (int64, error)
	UserCount(ctx context.Context) (int, error)
}

// Accountant turns authoritative batch totals into per-turn counts.
type Accountant struct {
	tokenizer Tokenizer
	ledger    Ledger
}

// NewAccountant creates an accountant.
func NewAccountant(tokenizer Tokenizer, ledger Ledger) *Accountant {
	return &Accountant{tokenizer: tokenizer, ledger: ledger}
}

// Measurement is the outcome of counting a session plus one pending turn.
type Measurement struct {
	// Total is the tokenizer's count for the whole batch.
	Total int
	// Delta is the count to store on the pending turn.
	Delta int
}

// Report summarizes usage across all users.
type Report struct {
	LifetimeTokens int64
	Users          int
}

// CountTokens delegates to the tokenizer. There is no local estimate;
// errors are returned as-is so callers never persist a made-up count.
func (a *Accountant) CountTokens(ctx context.Context, msgs []types.Message) (int, error) {
	timer := logging.StartTimer(logging.CategoryUsage, "CountTokens")
	defer timer.Stop()

	n, err := a.tokenizer.Tokenize(ctx, msgs)
	if err != nil {
		logging.Get(logging.CategoryUsage).Warn("Token count failed for %d messages: %v", len(msgs), err)
		return 0, err
	}
	return n, nil
}

// Delta returns the share of total not yet recorded on the session's
// stored turns, floored at zero.
func (a *Accountant) Delta(ctx context.Context, userID int64, sessionID int, total int) (int, error) {
	stored, err := a.ledger.SessionTokenTotal(ctx, userID, sessionID)
	if err != nil {
		return 0, err
	}
	if d := total - stored; d > 0 {
		return d, nil
	}
	return 0, nil
}

// Measure counts history plus next and computes the delta for next.
func (a *Accountant) Measure(ctx context.Context, userID int64, sessionID int, history []types.Turn, next types.Message) (Measurement, error) {
	msgs := append(types.Messages(history), next)
	total, err := a.CountTokens(ctx, msgs)
	if err != nil {
		return Measurement{}, err
	}
	delta, err := a.Delta(ctx, userID, sessionID, total)
	if err != nil {
		return Measurement{}, err
	}
	logging.Get(logging.CategoryUsage).Debug("user=%d session=%d total=%d delta=%d", userID, sessionID, total, delta)
	return Measurement{Total: total, Delta: delta}, nil
}

// Report aggregates lifetime usage from the store.
func (a *Accountant) Report(ctx context.Context) (Report, error) {
	tokens, err := a.ledger.LifetimeTokenTotal(ctx)
	if err != nil {
		return Report{}, err
	}
	users, err := a.ledger.UserCount(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{LifetimeTokens: tokens, Users: users}, nil
}
