package identity

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"iepp.org/internal/ids"
)

// MinPasswordLength is the provider's password policy floor.
const MinPasswordLength = 6

// maxPasswordBytes is the bcrypt input limit.
const maxPasswordBytes = 72

// dummyHash keeps SignIn timing comparable for unknown emails.
var dummyHash = []byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5BWX4Z4b0E6o6i1sWIY0z4y5e5vG6")

// Local is a Provider backed by an AccountStore and a TokenService.
type Local struct {
	store  AccountStore
	tokens *TokenService
	cost   int
	now    func() time.Time
}

var (
	_ Provider      = (*Local)(nil)
	_ Authenticator = (*Local)(nil)
)

// LocalOption configures Local.
type LocalOption func(*Local)

// WithBcryptCost overrides the hashing cost; tests use bcrypt.MinCost.
func WithBcryptCost(cost int) LocalOption {
	return func(l *Local) {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			l.cost = cost
		}
	}
}

// WithClock overrides the time source for account timestamps.
func WithClock(fn func() time.Time) LocalOption {
	return func(l *Local) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLocal builds a local identity provider.
func NewLocal(store AccountStore, tokens *TokenService, opts ...LocalOption) (*Local, error) {
	if store == nil {
		return nil, errors.New("identity: account store is required")
	}
	if tokens == nil {
		return nil, errors.New("identity: token service is required")
	}
	l := &Local{store: store, tokens: tokens, cost: bcrypt.DefaultCost, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Tokens exposes the signing service, e.g. for JWKS publication.
func (l *Local) Tokens() *TokenService { return l.tokens }

func (l *Local) CreateAccount(ctx context.Context, in NewAccount) (Account, error) {
	email, err := canonicalEmail(in.Email)
	if err != nil {
		return Account{}, err
	}
	if utf8.RuneCountInString(in.Password) < MinPasswordLength || len(in.Password) > maxPasswordBytes {
		return Account{}, ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), l.cost)
	if err != nil {
		return Account{}, err
	}
	now := l.now().UTC()
	acct := Account{
		UID:          ids.NewUID(),
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := l.store.Insert(ctx, acct); err != nil {
		return Account{}, classify(err)
	}
	return acct, nil
}

func (l *Local) LookupByEmail(ctx context.Context, email string) (Account, error) {
	acct, err := l.store.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return Account{}, classify(err)
	}
	return acct, nil
}

func (l *Local) SetClaims(ctx context.Context, uid string, claims Claims) error {
	if strings.TrimSpace(uid) == "" {
		return ErrNotFound
	}
	return classify(l.store.UpdateClaims(ctx, uid, claims, l.now().UTC()))
}

func (l *Local) DeleteAccount(ctx context.Context, uid string) error {
	return classify(l.store.Delete(ctx, uid))
}

// VerifyToken validates the token cryptographically. It does not consult the
// account store.
func (l *Local) VerifyToken(_ context.Context, token string) (Token, error) {
	return l.tokens.Verify(token)
}

func (l *Local) SignIn(ctx context.Context, email, password string) (SignedToken, error) {
	acct, err := l.store.FindByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return SignedToken{}, ErrInvalidCredentials
	}
	if err != nil {
		return SignedToken{}, classify(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return SignedToken{}, ErrInvalidCredentials
	}
	token, exp, err := l.tokens.Sign(acct)
	if err != nil {
		return SignedToken{}, err
	}
	return SignedToken{Token: token, ExpiresAt: exp, Account: acct}, nil
}

func canonicalEmail(raw string) (string, error) {
	email := normalizeEmail(raw)
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// classify keeps the provider's sentinel errors and marks everything else as
// an infrastructure failure.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrEmailExists), errors.Is(err, ErrNotFound):
		return err
	default:
		return errors.Join(ErrUnavailable, err)
	}
}
