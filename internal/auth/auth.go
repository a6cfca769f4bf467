// Package auth resolves bearer tokens to scoped principals.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/switchyard/internal/config"
)

// Scopes understood by the API.
const (
	ScopeRead     = "read"
	ScopeDispatch = "dispatch"
	ScopeComplete = "complete"
	// ScopeAdmin grants every other scope.
	ScopeAdmin = "admin"
)

type Principal struct {
	Name   string
	Scopes map[string]struct{}
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func ExtractBearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", errors.New("missing API token")
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the configured
// tokens. Every token is compared so the match position does not leak.
func Authenticate(presented string, tokens []config.APIToken) (Principal, bool) {
	var (
		found Principal
		ok    bool
	)
	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) && !ok {
			found = Principal{Name: t.Name, Scopes: normalizeScopes(t.Scopes)}
			ok = true
		}
	}
	return found, ok
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}

	if _, ok := out[ScopeAdmin]; ok {
		for _, s := range []string{ScopeRead, ScopeDispatch, ScopeComplete} {
			out[s] = struct{}{}
		}
	}
	// Anything that can write can also read.
	if _, ok := out[ScopeDispatch]; ok {
		out[ScopeRead] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAdmin]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}
