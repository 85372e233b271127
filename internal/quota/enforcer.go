// Package quota enforces the session, token and registration ceilings.
package quota

import (
	"context"
	"errors"
	"fmt"

	"storybot/internal/logging"
)

var (
	ErrSessionLimitExceeded = errors.New("session limit exceeded")
	ErrTokenLimitExceeded   = errors.New("token limit exceeded")
)

// Kind names which ceiling was hit.
type Kind string

const (
	KindSessions     Kind = "sessions"
	KindTokens       Kind = "tokens"
	KindRegistration Kind = "registration"
)

// LimitError reports a ceiling and the value that crossed it.
// Registration errors match ErrSessionLimitExceeded.
type LimitError struct {
	Kind   Kind
	Limit  int
	Actual int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s limit exceeded: %d > %d", e.Kind, e.Actual, e.Limit)
}

// Is matches the sentinel for the error's kind.
func (e *LimitError) Is(target error) bool {
	switch target {
	case ErrTokenLimitExceeded:
		return e.Kind == KindTokens
	case ErrSessionLimitExceeded:
		return e.Kind == KindSessions || e.Kind == KindRegistration
	}
	return false
}

// Limits are the configured ceilings.
type Limits struct {
	MaxUsers            int
	MaxSessions         int
	MaxTokensPerSession int
}

// Counter is the part of the turn store the enforcer reads.
type Counter interface {
	SessionCount(ctx context.Context, userID int64) (int, error)
	SessionTokenTotal(ctx context.Context, userID int64, sessionID int) (int, error)
	UserCount(ctx context.Context) (int, error)
}

// Enforcer checks ceilings against counts re-derived from the store on
// every call.
type Enforcer struct {
	limits Limits
	store  Counter
}

// NewEnforcer creates an enforcer.
func NewEnforcer(limits Limits, store Counter) *Enforcer {
	return &Enforcer{limits: limits, store: store}
}

// CheckSessionLimit fails when the user's session count, counting the
// session about to start when startingNew is set, exceeds the ceiling.
func (e *Enforcer) CheckSessionLimit(ctx context.Context, userID int64, startingNew bool) error {
	count, err := e.store.SessionCount(ctx, userID)
	if err != nil {
		return err
	}
	if startingNew {
		count++
	}
	if count > e.limits.MaxSessions {
		logging.Get(logging.CategoryQuota).Info("user=%d session limit: %d > %d", userID, count, e.limits.MaxSessions)
		return &LimitError{Kind: KindSessions, Limit: e.limits.MaxSessions, Actual: count}
	}
	return nil
}

// CheckRegistration gates users who have never written a turn on the
// global user ceiling. Existing users always pass.
func (e *Enforcer) CheckRegistration(ctx context.Context, userID int64) error {
	sessions, err := e.store.SessionCount(ctx, userID)
	if err != nil {
		return err
	}
	if sessions > 0 {
		return nil
	}
	users, err := e.store.UserCount(ctx)
	if err != nil {
		return err
	}
	if users >= e.limits.MaxUsers {
		logging.Get(logging.CategoryQuota).Info("user=%d rejected: %d users registered (max %d)", userID, users, e.limits.MaxUsers)
		return &LimitError{Kind: KindRegistration, Limit: e.limits.MaxUsers, Actual: users + 1}
	}
	return nil
}

// CheckTokenLimit fails when the stored session total plus pending
// exceeds the per-session ceiling. Reaching the ceiling exactly is allowed.
func (e *Enforcer) CheckTokenLimit(ctx context.Context, userID int64, sessionID int, pending int) error {
	stored, err := e.store.SessionTokenTotal(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	total := stored + pending
	if total > e.limits.MaxTokensPerSession {
		logging.Get(logging.CategoryQuota).Info("user=%d session=%d token limit: %d > %d",
			userID, sessionID, total, e.limits.MaxTokensPerSession)
		return &LimitError{Kind: KindTokens, Limit: e.limits.MaxTokensPerSession, Actual: total}
	}
	return nil
}
