// Package authctx is a deliberately thin authentication stub: a static
// bearer-token-to-principal map loaded from configuration. Real
// authentication/authorization (SSO, JWT, SCIM) is out of scope; this
// package exists only so the HTTP surface has something to check against.
package authctx

import (
	"context"
	"net/http"
	"strings"

	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
)

// Principal identifies the caller a bearer token resolved to.
type Principal struct {
	ID   string
	Name string
}

type principalKey struct{}

// Authenticator checks bearer tokens against a fixed token-to-principal map.
type Authenticator struct {
	tokens map[string]Principal
}

// NewAuthenticator builds an Authenticator from a single admin token — the
// fixed contract spec §6 assumes: one configured ADMIN_API_KEY grants full
// access. Additional tokens can be added with AddToken for tests or
// multi-principal deployments.
func NewAuthenticator(adminToken string) *Authenticator {
	a := &Authenticator{tokens: map[string]Principal{}}
	if adminToken != "" {
		a.tokens[adminToken] = Principal{ID: "admin", Name: "admin"}
	}
	return a
}

func (a *Authenticator) AddToken(token string, p Principal) {
	a.tokens[token] = p
}

// Authenticate extracts the bearer token from r and resolves it to a
// Principal, or returns ledgererr.KindUnauthorized.
func (a *Authenticator) Authenticate(r *http.Request) (Principal, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Principal{}, ledgererr.New(ledgererr.KindUnauthorized, "missing bearer token")
	}
	token := strings.TrimPrefix(header, prefix)
	p, ok := a.tokens[token]
	if !ok {
		return Principal{}, ledgererr.New(ledgererr.KindUnauthorized, "unknown token")
	}
	return p, nil
}

// Middleware authenticates every request except those whose path is in
// exemptPaths (e.g. "/health"), storing the resolved Principal in the
// request context.
func (a *Authenticator) Middleware(exemptPaths map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if exemptPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			p, err := a.Authenticate(r)
			if err != nil {
				if lerr, ok := err.(*ledgererr.Error); ok {
					w.Header().Set("Content-Type", "application/problem+json")
					w.WriteHeader(lerr.HTTPStatus())
					_, _ = w.Write([]byte(`{"title":"Unauthorized","status":401,"detail":"` + lerr.Detail + `"}`))
					return
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// FromContext retrieves the Principal stored by Middleware.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
