package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
)

// StaticTokens verifies tokens against a fixed token table.
type StaticTokens struct {
	entries []staticEntry
}

type staticEntry struct {
	token    []byte
	username string
}

// ParseStaticTokens parses "user:token" pairs separated by commas.
func ParseStaticTokens(table string) (*StaticTokens, error) {
	st := &StaticTokens{}
	for _, pair := range strings.Split(table, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		user, token, ok := strings.Cut(pair, ":")
		user, token = strings.TrimSpace(user), strings.TrimSpace(token)
		if !ok || user == "" || token == "" {
			return nil, fmt.Errorf("invalid token entry %q: want user:token", pair)
		}
		st.entries = append(st.entries, staticEntry{token: []byte(token), username: user})
	}
	return st, nil
}

// Len returns the number of configured tokens.
func (s *StaticTokens) Len() int {
	return len(s.entries)
}

// Verify implements IdentityProvider. Every entry is compared in constant time.
func (s *StaticTokens) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrUnauthenticated
	}
	candidate := []byte(token)
	found := ""
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(e.token, candidate) == 1 {
			found = e.username
		}
	}
	if found == "" {
		return Identity{}, ErrUnauthenticated
	}
	return Identity{Username: found}, nil
}
