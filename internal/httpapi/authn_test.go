package httpapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"iepp.org/internal/auth"
	"iepp.org/internal/identity"
)

type stubVerifier struct {
	tok identity.Token
	err error
}

func (s stubVerifier) VerifyToken(context.Context, string) (identity.Token, error) {
	return s.tok, s.err
}

func authenticated(v auth.TokenVerifier) (http.Handler, *auth.Caller) {
	var seen auth.Caller
	a := &API{deps: Deps{Resolver: auth.NewResolver(v)}}
	h := a.authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = auth.CallerFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	return h, &seen
}

func TestAuthenticateStoresCaller(t *testing.T) {
	h, seen := authenticated(stubVerifier{tok: identity.Token{
		UID: "u-1", Email: "a@iglesia.org", Claims: identity.Claims{identity.ClaimRole: "admin"},
	}})

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set(authHeader, "Bearer abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if seen.UID != "u-1" || seen.Role != auth.RoleAdmin {
		t.Fatalf("unexpected caller: %+v", *seen)
	}
}

func TestAuthenticateRejectsMissingToken(t *testing.T) {
	h, _ := authenticated(stubVerifier{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/me", nil))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if got := rr.Header().Get("WWW-Authenticate"); got == "" {
		t.Fatalf("expected WWW-Authenticate header set")
	}
}

func TestAuthenticateVerifierOutage(t *testing.T) {
	h, _ := authenticated(stubVerifier{err: errors.New("jwks fetch failed")})

	req := httptest.NewRequest(http.MethodGet, "/v1/me", nil)
	req.Header.Set(authHeader, "Bearer abc")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	if rr.Header().Get("WWW-Authenticate") != "" {
		t.Fatalf("outage must not challenge the client")
	}
}

func TestAuthenticatePassesPreflight(t *testing.T) {
	h, _ := authenticated(stubVerifier{err: identity.ErrInvalidToken})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/v1/users", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected preflight to pass, got %d", rr.Code)
	}
}
