// Package session issues and verifies the signed bearer credential that
// web clients hold between logins.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"flhub.app/internal/identity"
)

var (
	ErrInvalidCredential = errors.New("session: invalid credential")
	ErrExpiredCredential = errors.New("session: credential expired")
)

// Claims is the credential payload. Role is a snapshot taken at issuance;
// authorization decisions re-resolve the live role and never trust it.
type Claims struct {
	UserID string        `json:"uid"`
	Role   identity.Role `json:"role"`
	jwt.RegisteredClaims
}

const defaultTTL = 30 * 24 * time.Hour

// Issuer mints and verifies HS256-signed credentials.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures the Issuer.
type Option func(*Issuer)

// WithTTL overrides the credential lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer with the given signing secret.
func NewIssuer(secret []byte, opts ...Option) *Issuer {
	i := &Issuer{
		secret: secret,
		ttl:    defaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue mints a credential for the user. The role baked in is the effective
// role at mint time, decay applied, and is advisory from then on.
func (i *Issuer) Issue(user *identity.User) (string, error) {
	now := i.now().UTC()
	claims := Claims{
		UserID: user.ID,
		Role:   user.Entitlement().Effective(now),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}

// Verify parses and validates a credential, returning its claims.
func (i *Issuer) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredCredential
		}
		return nil, ErrInvalidCredential
	}
	if !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}

type claimsKey struct{}

// WithClaims stashes verified claims on the request context.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFrom retrieves claims placed by WithClaims, if any.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}
