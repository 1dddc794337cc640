package authctx

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/terryholliday/proveniq-ledger/internal/ledgererr"
)

func TestAuthenticate_ValidAdminToken(t *testing.T) {
	a := NewAuthenticator("secret-token")

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("Authorization", "Bearer secret-token")

	p, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "admin", p.ID)
}

func TestAuthenticate_MissingHeader(t *testing.T) {
	a := NewAuthenticator("secret-token")

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	_, err := a.Authenticate(r)
	require.Error(t, err)

	lerr, ok := err.(*ledgererr.Error)
	require.True(t, ok)
	require.Equal(t, ledgererr.KindUnauthorized, lerr.Kind)
}

func TestAuthenticate_UnknownToken(t *testing.T) {
	a := NewAuthenticator("secret-token")

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("Authorization", "Bearer wrong-token")

	_, err := a.Authenticate(r)
	require.Error(t, err)
}

func TestAddToken_ResolvesAdditionalPrincipal(t *testing.T) {
	a := NewAuthenticator("")
	a.AddToken("svc-token", Principal{ID: "svc-1", Name: "integrator"})

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("Authorization", "Bearer svc-token")

	p, err := a.Authenticate(r)
	require.NoError(t, err)
	require.Equal(t, "svc-1", p.ID)
}

func TestMiddleware_ExemptPathSkipsAuth(t *testing.T) {
	a := NewAuthenticator("secret-token")
	called := false
	h := a.Middleware(map[string]bool{"/health": true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.True(t, called)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RejectsUnauthenticated(t *testing.T) {
	a := NewAuthenticator("secret-token")
	called := false
	h := a.Middleware(map[string]bool{"/health": true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.False(t, called)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMiddleware_StoresPrincipalInContext(t *testing.T) {
	a := NewAuthenticator("secret-token")
	var gotPrincipal Principal
	var gotOK bool
	h := a.Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPrincipal, gotOK = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/stats", nil)
	r.Header.Set("Authorization", "Bearer secret-token")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	require.True(t, gotOK)
	require.Equal(t, "admin", gotPrincipal.ID)
}
