// Package auth resolves bearer tokens into scoped principals for the HTTP API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

// Scopes understood by the API. A write scope implies the matching read scope.
const (
	ScopeAll       = "*"
	ScopeUploadsRW = "uploads:rw"
	ScopeUploadsRO = "uploads:ro"
	ScopeEventsRO  = "events:ro"
)

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

type Principal struct {
	Token  string
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

var (
	ErrMissingHeader = errors.New("missing Authorization header")
	ErrBadScheme     = errors.New("invalid Authorization header format")
	ErrEmptyToken    = errors.New("missing API key")
)

func ExtractBearerToken(r *http.Request) (string, error) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", ErrMissingHeader
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", ErrBadScheme
	}
	token := strings.TrimSpace(strings.TrimPrefix(h, prefix))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

func constantTimeEqual(a, b string) bool {
	if a == "" || b == "" || len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// Authenticate matches a presented bearer token against the configured
// tokens. A match on apiKey authenticates with scope "*".
func Authenticate(presented string, apiKey string, tokens []TokenConfig) (Principal, bool) {
	if constantTimeEqual(presented, apiKey) {
		return Principal{Token: presented, Scopes: map[string]struct{}{ScopeAll: {}}}, true
	}
	for _, t := range tokens {
		if constantTimeEqual(presented, t.Token) {
			return Principal{Token: presented, Scopes: normalizeScopes(t.Scopes)}, true
		}
	}
	return Principal{}, false
}

func normalizeScopes(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out[s] = struct{}{}
	}
	if _, ok := out[ScopeUploadsRW]; ok {
		out[ScopeUploadsRO] = struct{}{}
	}
	return out
}

func HasAnyScope(p Principal, required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if _, ok := p.Scopes[ScopeAll]; ok {
		return true
	}
	for _, s := range required {
		if _, ok := p.Scopes[s]; ok {
			return true
		}
	}
	return false
}

// Authenticator guards handlers with bearer-token auth.
type Authenticator struct {
	apiKey  string
	tokens  []TokenConfig
	onError func(w http.ResponseWriter, status int, msg string)
}

// NewAuthenticator returns an Authenticator. onError writes rejections; when
// nil, http.Error is used.
func NewAuthenticator(apiKey string, tokens []TokenConfig, onError func(http.ResponseWriter, int, string)) *Authenticator {
	if onError == nil {
		onError = func(w http.ResponseWriter, status int, msg string) { http.Error(w, msg, status) }
	}
	return &Authenticator{apiKey: apiKey, tokens: tokens, onError: onError}
}

// Require returns middleware admitting principals holding any of scopes.
func (a *Authenticator) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := ExtractBearerToken(r)
			if err != nil {
				a.onError(w, http.StatusUnauthorized, err.Error())
				return
			}
			p, ok := Authenticate(token, a.apiKey, a.tokens)
			if !ok {
				a.onError(w, http.StatusUnauthorized, "invalid API key")
				return
			}
			if !HasAnyScope(p, scopes...) {
				a.onError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}
