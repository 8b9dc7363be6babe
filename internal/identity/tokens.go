package identity

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	defaultIssuer   = "iepp"
	defaultTokenTTL = time.Hour
	clockSkew       = 5 * time.Second
)

// tokenClaims is the JWT payload of an ID token.
type tokenClaims struct {
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
	Custom Claims `json:"claims,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies ID tokens. RS256 is used when an RSA key is
// configured, otherwise HS256 with a shared secret.
type TokenService struct {
	issuer string
	ttl    time.Duration
	now    func() time.Time

	secret []byte
	key    *rsa.PrivateKey
	keyID  string
}

// TokenOption configures a TokenService.
type TokenOption func(*TokenService) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithTokenTTL configures ID token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithHMACSecret enables HS256 signing.
func WithHMACSecret(secret string) TokenOption {
	return func(s *TokenService) error {
		if strings.TrimSpace(secret) == "" {
			return nil
		}
		if len(secret) < 16 {
			return errors.New("identity: hmac secret must be at least 16 bytes")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithRSAKey enables RS256 signing with the given key and key id.
func WithRSAKey(key *rsa.PrivateKey, kid string) TokenOption {
	return func(s *TokenService) error {
		if key == nil {
			return errors.New("identity: rsa key is nil")
		}
		s.key = key
		s.keyID = strings.TrimSpace(kid)
		return nil
	}
}

// NewTokenService builds a TokenService. One signing method must be configured.
func NewTokenService(opts ...TokenOption) (*TokenService, error) {
	s := &TokenService{
		issuer: defaultIssuer,
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.key == nil && len(s.secret) == 0 {
		return nil, errors.New("identity: no token signing key configured")
	}
	return s, nil
}

// Sign mints an ID token for acct embedding its current claims.
func (s *TokenService) Sign(acct Account) (string, time.Time, error) {
	if strings.TrimSpace(acct.UID) == "" {
		return "", time.Time{}, errors.New("identity: uid is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := tokenClaims{
		Email:  acct.Email,
		Name:   acct.DisplayName,
		Custom: acct.Claims.Clone(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   acct.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}

	var (
		signed string
		err    error
	)
	if s.key != nil {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		if s.keyID != "" {
			tok.Header["kid"] = s.keyID
		}
		signed, err = tok.SignedString(s.key)
	} else {
		signed, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	}
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, algorithm, issuer and lifetime of raw. Expired
// tokens yield ErrTokenExpired, every other failure ErrInvalidToken.
func (s *TokenService) Verify(raw string) (Token, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Token{}, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{s.method()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
		jwt.WithTimeFunc(s.now),
	)
	var claims tokenClaims
	parsed, err := parser.ParseWithClaims(raw, &claims, s.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Token{}, ErrTokenExpired
		}
		return Token{}, ErrInvalidToken
	}
	if !parsed.Valid || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAt == nil {
		return Token{}, ErrInvalidToken
	}
	return Token{
		UID:       claims.Subject,
		Email:     claims.Email,
		Name:      claims.Name,
		Claims:    claims.Custom,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

func (s *TokenService) method() string {
	if s.key != nil {
		return jwt.SigningMethodRS256.Alg()
	}
	return jwt.SigningMethodHS256.Alg()
}

func (s *TokenService) keyFunc(t *jwt.Token) (any, error) {
	if s.key != nil {
		if kid, _ := t.Header["kid"].(string); s.keyID != "" && kid != s.keyID {
			return nil, ErrInvalidToken
		}
		return &s.key.PublicKey, nil
	}
	return s.secret, nil
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	Kid string `json:"kid,omitempty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKS returns the public key set. It reports false when tokens are signed
// with a shared secret, which must never be published.
func (s *TokenService) JWKS() ([]byte, bool, error) {
	if s.key == nil {
		return nil, false, nil
	}
	pub := s.key.PublicKey
	set := struct {
		Keys []jwk `json:"keys"`
	}{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Alg: jwt.SigningMethodRS256.Alg(),
		Kid: s.keyID,
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	data, err := json.Marshal(set)
	if err != nil {
		return nil, true, err
	}
	return data, true, nil
}

// ParseRSAPrivateKey decodes a PKCS#1 or PKCS#8 PEM private key.
func ParseRSAPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return rsaKey, nil
		}
		return nil, errors.New("unsupported private key type")
	default:
		return nil, fmt.Errorf("unsupported private key type %s", block.Type)
	}
}
