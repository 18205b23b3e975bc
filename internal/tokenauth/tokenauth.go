// Package tokenauth defines the TokenProvider boundary the transport
// consumes, plus a concrete JWT-backed implementation demonstrating it.
// A caller integrating against a different auth scheme (OAuth, API key)
// implements the same interface directly; JWT is an example, not a
// requirement.
package tokenauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthDisabled is returned by JWTProvider when constructed with an empty
// secret.
var ErrAuthDisabled = errors.New("tokenauth: disabled, no secret configured")

// ErrInvalidToken is returned when a token fails signature or claims
// validation.
var ErrInvalidToken = errors.New("tokenauth: invalid token")

// TokenProvider is the boundary interface the Transport consumes. It must
// refresh on expiry and not return an error unless no token can be obtained
// at all — a transient refresh failure should still attempt to return
// whatever token is available so the server can reject it and trigger the
// transport's normal reconnect/backoff loop.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Claims carries the subject identity issued into a JWTProvider token.
type Claims struct {
	Subject string `json:"sub,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider is a TokenProvider backed by locally-signed, short-lived HS256
// JWTs. It caches the last-issued token and re-signs a fresh one once the
// cached token is within refreshSkew of expiring.
type JWTProvider struct {
	secret      []byte
	subject     string
	expiry      time.Duration
	refreshSkew time.Duration

	mu        sync.Mutex
	cached    string
	cachedExp time.Time
}

// NewJWTProvider builds a JWTProvider. expiry is the lifetime of each issued
// token; refreshSkew is how long before expiry a new token is issued on the
// next GetValidToken call (so a reconnect attempt never races against an
// about-to-expire token).
func NewJWTProvider(secret, subject string, expiry, refreshSkew time.Duration) *JWTProvider {
	return &JWTProvider{
		secret:      []byte(secret),
		subject:     subject,
		expiry:      expiry,
		refreshSkew: refreshSkew,
	}
}

// GetValidToken returns a cached token if it still has more than
// refreshSkew left on its lifetime, otherwise signs and caches a new one.
func (p *JWTProvider) GetValidToken(ctx context.Context) (string, error) {
	if p == nil || len(p.secret) == 0 {
		return "", ErrAuthDisabled
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cached != "" && time.Until(p.cachedExp) > p.refreshSkew {
		return p.cached, nil
	}

	now := time.Now()
	exp := now.Add(p.expiry)
	claims := Claims{
		Subject: p.subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", fmt.Errorf("tokenauth: sign token: %w", err)
	}

	p.cached = signed
	p.cachedExp = exp
	return signed, nil
}

// Validate parses and validates a token previously issued by a JWTProvider
// sharing the same secret, returning the embedded subject.
func Validate(secret, token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
