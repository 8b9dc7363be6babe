package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"iepp.org/internal/apierr"
	"iepp.org/internal/audit"
	"iepp.org/internal/auth"
	"iepp.org/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	UID       string    `json:"uid"`
	Role      string    `json:"role"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	if a.deps.Authenticator == nil {
		writeAPIError(w, r, apierr.New(apierr.KindProviderUnavailable, "sign-in is not configured"))
		return
	}
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeAPIError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeAPIError(w, r, apierr.New(apierr.KindMissingFields, "email and password are required"))
		return
	}

	signed, err := a.deps.Authenticator.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		writeAPIError(w, r, signInError(err))
		return
	}

	role, _ := auth.ParseRole(signed.Account.Claims.Role())
	ctx := auth.ContextWithCaller(r.Context(), auth.Caller{UID: signed.Account.UID, Email: signed.Account.Email, Role: role})
	_ = audit.LogEvent(ctx, "auth.login", nil)

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     signed.Token,
		ExpiresAt: signed.ExpiresAt.UTC(),
		UID:       signed.Account.UID,
		Role:      role.String(),
	})
}

func signInError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		return apierr.Wrap(err, apierr.KindInvalidCredentials, "invalid email or password")
	case errors.Is(err, identity.ErrUnavailable):
		return apierr.Wrap(err, apierr.KindProviderUnavailable, "identity provider unavailable")
	default:
		return apierr.Wrap(err, apierr.KindInternal, "sign-in failed")
	}
}

// JWKS serves the RS256 public key set. HMAC deployments have none.
func (a *API) JWKS(w http.ResponseWriter, r *http.Request) {
	if a.deps.Keys == nil {
		writeAPIError(w, r, apierr.New(apierr.KindNotFound, "no public signing keys"))
		return
	}
	body, ok, err := a.deps.Keys.JWKS()
	if err != nil {
		writeAPIError(w, r, apierr.Wrap(err, apierr.KindInternal, "key set unavailable"))
		return
	}
	if !ok {
		writeAPIError(w, r, apierr.New(apierr.KindNotFound, "no public signing keys"))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
