// Package auth issues and verifies bearer tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Defaults for Tokens.
const (
	DefaultTokenTTL = 24 * time.Hour
	DefaultIssuer   = "dmbox"
	MinSecretLength = 32
)

var (
	// ErrInvalidToken is returned for any token that fails verification:
	// malformed, wrongly signed, expired or issued by someone else.
	ErrInvalidToken = errors.New("auth: invalid token")

	// ErrWeakSecret is returned when the signing secret is too short.
	ErrWeakSecret = errors.New("auth: secret too short")
)

// Claims is the JWT payload. Subject holds the user ID.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// UserID returns the subject claim.
func (c *Claims) UserID() string { return c.Subject }

// Tokens signs and verifies HS256 tokens.
type Tokens struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures Tokens.
type TokenOption func(*Tokens)

// WithTTL sets the token lifetime.
func WithTTL(d time.Duration) TokenOption {
	return func(t *Tokens) {
		if d > 0 {
			t.ttl = d
		}
	}
}

// WithIssuer sets the iss claim written and required.
func WithIssuer(iss string) TokenOption {
	return func(t *Tokens) {
		if iss != "" {
			t.issuer = iss
		}
	}
}

// WithClock sets the time source. Used by tests.
func WithClock(now func() time.Time) TokenOption {
	return func(t *Tokens) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTokens creates a token authority. The secret must be at least
// MinSecretLength bytes.
func NewTokens(secret []byte, opts ...TokenOption) (*Tokens, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrWeakSecret, MinSecretLength, len(secret))
	}
	t := &Tokens{
		secret: append([]byte(nil), secret...),
		ttl:    DefaultTokenTTL,
		issuer: DefaultIssuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Issue signs a token for the user.
func (t *Tokens) Issue(userID, username string) (string, error) {
	now := t.now()
	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token. Every failure is ErrInvalidToken.
func (t *Tokens) Verify(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
