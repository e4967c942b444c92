// Package auth issues and verifies session tokens and checks passwords.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserDisabled       = errors.New("user is disabled")
	ErrInvalidToken       = errors.New("invalid or expired token")
	ErrMissingToken       = errors.New("missing credentials")
)

// Principal is the authenticated caller.
type Principal struct {
	UserID  string
	IsAdmin bool
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
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return "", errors.New("missing Authorization header")
	}

	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", errors.New("invalid Authorization header format")
	}

	token := strings.TrimSpace(strings.TrimPrefix(auth, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// TokenFromRequest looks for a session token in the Authorization header,
// then the session cookie, then the "token" query parameter. Browsers cannot
// set headers on websocket upgrades, hence the last two.
func TokenFromRequest(r *http.Request, cookieName string) (string, error) {
	if r.Header.Get("Authorization") != "" {
		return ExtractBearerToken(r)
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value, nil
		}
	}
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t, nil
	}
	return "", ErrMissingToken
}
