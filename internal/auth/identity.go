// Package auth verifies connection credentials. Issuing credentials is out of scope.
package auth

import (
	"context"
	"errors"
)

// ErrUnauthenticated is returned for missing, invalid or expired credentials.
var ErrUnauthenticated = errors.New("unauthenticated")

// Identity is a verified user.
type Identity struct {
	Username string
}

// IdentityProvider verifies an opaque credential token.
type IdentityProvider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Chain tries providers in order and returns the first identity verified.
type Chain []IdentityProvider

// Verify implements IdentityProvider.
func (c Chain) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	for _, p := range c {
		if p == nil {
			continue
		}
		if id, err := p.Verify(ctx, token); err == nil {
			return id, nil
		}
	}
	return Identity{}, ErrUnauthenticated
}
