// Package auth supplies bearer tokens and the folder scope for the
// generation backend.
package auth

import (
	"context"
	"errors"
)

// ErrNoCredentials is returned when a source has nothing to hand out.
var ErrNoCredentials = errors.New("no backend credentials configured")

// Credentials is a bearer token plus the scope (folder id) it is valid for.
type Credentials struct {
	Token string
	Scope string
}

// Source yields current credentials; implementations may refresh.
type Source interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Refresher is a Source whose credentials can be renewed on demand, for
// example after the backend rejected them.
type Refresher interface {
	Source
	RefreshToken(ctx context.Context) error
}

// StaticSource returns fixed credentials, typically from the environment.
type StaticSource struct {
	Token string
	Scope string
}

// Credentials implements Source.
func (s StaticSource) Credentials(context.Context) (Credentials, error) {
	if s.Token == "" || s.Scope == "" {
		return Credentials{}, ErrNoCredentials
	}
	return Credentials{Token: s.Token, Scope: s.Scope}, nil
}
