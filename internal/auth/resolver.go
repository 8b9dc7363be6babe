package auth

import (
	"context"
	"errors"
	"strings"

	"iepp.org/internal/apierr"
	"iepp.org/internal/identity"
)

const bearerPrefix = "bearer "

// TokenVerifier is the slice of the identity provider the resolver needs.
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (identity.Token, error)
}

// Resolver turns an Authorization header into a Caller. It never touches the
// directory store.
type Resolver struct {
	verifier TokenVerifier
}

// NewResolver builds a Resolver.
func NewResolver(v TokenVerifier) *Resolver {
	return &Resolver{verifier: v}
}

// Resolve validates header and returns the caller it identifies. A missing or
// unknown role claim resolves to RoleNone rather than an error.
func (r *Resolver) Resolve(ctx context.Context, header string) (Caller, error) {
	token, err := ExtractBearerToken(header)
	if err != nil {
		return Caller{}, err
	}
	tok, err := r.verifier.VerifyToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, identity.ErrTokenExpired):
			return Caller{}, apierr.Wrap(err, apierr.KindInvalidToken, "token expired")
		case errors.Is(err, identity.ErrInvalidToken):
			return Caller{}, apierr.Wrap(err, apierr.KindInvalidToken, "invalid token")
		default:
			return Caller{}, apierr.Wrap(err, apierr.KindProviderUnavailable, "token verification unavailable")
		}
	}
	role, _ := ParseRole(tok.Claims.Role())
	return Caller{UID: tok.UID, Email: tok.Email, Role: role}, nil
}

// ExtractBearerToken returns the token of an "Authorization: Bearer <token>"
// header value.
func ExtractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", apierr.New(apierr.KindUnauthenticated, "missing bearer token")
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", apierr.New(apierr.KindUnauthenticated, "invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", apierr.New(apierr.KindUnauthenticated, "malformed bearer token")
	}
	return token, nil
}
