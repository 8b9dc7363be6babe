// Package identity is the identity provider: it owns accounts, their custom
// claims and the signed ID tokens that carry those claims to callers.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrEmailExists        = errors.New("identity: email already registered")
	ErrInvalidEmail       = errors.New("identity: invalid email")
	ErrWeakPassword       = errors.New("identity: password too weak")
	ErrNotFound           = errors.New("identity: account not found")
	ErrInvalidToken       = errors.New("identity: invalid token")
	ErrTokenExpired       = errors.New("identity: token expired")
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	ErrUnavailable        = errors.New("identity: provider unavailable")
)

// ClaimRole is the custom claim holding the account's role.
const ClaimRole = "role"

// Claims are custom key/value claims attached to an account and embedded into
// every ID token issued for it.
type Claims map[string]string

// Role returns the role claim, or "" when absent.
func (c Claims) Role() string {
	if c == nil {
		return ""
	}
	return c[ClaimRole]
}

// Clone returns an independent copy.
func (c Claims) Clone() Claims {
	if c == nil {
		return nil
	}
	out := make(Claims, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Account is an identity record.
type Account struct {
	UID          string
	Email        string
	DisplayName  string
	PasswordHash string
	Claims       Claims
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount carries the inputs of CreateAccount.
type NewAccount struct {
	Email       string
	Password    string
	DisplayName string
}

// Token is a verified ID token.
type Token struct {
	UID       string
	Email     string
	Name      string
	Claims    Claims
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Provider is the identity provider contract consumed by provisioning and
// request authentication.
type Provider interface {
	CreateAccount(ctx context.Context, in NewAccount) (Account, error)
	LookupByEmail(ctx context.Context, email string) (Account, error)
	SetClaims(ctx context.Context, uid string, claims Claims) error
	DeleteAccount(ctx context.Context, uid string) error
	VerifyToken(ctx context.Context, token string) (Token, error)
}

// SignedToken is a freshly minted ID token.
type SignedToken struct {
	Token     string
	ExpiresAt time.Time
	Account   Account
}

// Authenticator exchanges credentials for an ID token.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (SignedToken, error)
}
