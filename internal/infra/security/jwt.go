package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenInvalid = errors.New("security: invalid token")
	ErrNoSubject    = errors.New("security: token has no subject")
)

// TokenVerifier validates HS256 bearer tokens issued by the marketplace
// auth service and yields the user id from the sub claim.
type TokenVerifier struct {
	secret []byte
	issuer string
	leeway time.Duration
}

type VerifierOption func(*TokenVerifier)

func WithIssuer(issuer string) VerifierOption {
	return func(v *TokenVerifier) { v.issuer = strings.TrimSpace(issuer) }
}

func WithLeeway(d time.Duration) VerifierOption {
	return func(v *TokenVerifier) { v.leeway = d }
}

func NewTokenVerifier(secret string, opts ...VerifierOption) (*TokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("security: jwt secret is required")
	}
	v := &TokenVerifier{secret: []byte(secret), leeway: 30 * time.Second}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Subject verifies the token and returns its sub claim.
func (v *TokenVerifier) Subject(token string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}
	if !parsed.Valid {
		return "", ErrTokenInvalid
	}
	sub := strings.TrimSpace(claims.Subject)
	if sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}

// Issue signs a short-lived token for subject. Used by tests and local tooling.
func (v *TokenVerifier) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    v.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
