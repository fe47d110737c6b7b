// Package auth mints and verifies the bearer tokens that identify intent
// requesters. The token subject becomes the requester id the authority
// records on orders (TakenBy).
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role limits what a token holder may do.
type Role string

const (
	// RoleStaff may submit intents.
	RoleStaff Role = "staff"
	// RoleObserver may only watch the feed.
	RoleObserver Role = "observer"
)

const minSecretLen = 16

// ErrUnauthorized wraps every token rejection.
var ErrUnauthorized = errors.New("unauthorized")

// Claims are the token claims.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// Signer mints and parses HMAC-SHA256 tokens.
type Signer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// Option configures a Signer.
type Option func(*Signer)

// WithTTL sets the token lifetime. Zero means tokens never expire.
func WithTTL(d time.Duration) Option {
	return func(s *Signer) { s.ttl = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithIssuer sets the iss claim minted and required.
func WithIssuer(iss string) Option {
	return func(s *Signer) { s.issuer = iss }
}

// NewSigner returns a signer for secret.
func NewSigner(secret string, opts ...Option) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", minSecretLen)
	}
	s := &Signer{
		secret: []byte(secret),
		issuer: "cafesync",
		ttl:    12 * time.Hour,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Mint issues a token for subject.
func (s *Signer) Mint(subject string, role Role) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	if role != RoleStaff && role != RoleObserver {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := s.now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies a token and returns its claims.
func (s *Signer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (interface{}, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token", ErrUnauthorized)
	}
	return claims, nil
}

// CanSubmit reports whether the claims allow submitting intents.
func (c *Claims) CanSubmit() bool {
	return c.Role == RoleStaff
}
