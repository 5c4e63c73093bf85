package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const GrantClientCredentials = "client_credentials"

var (
	ErrMissingToken    = errors.New("authentication credentials were not provided")
	ErrTokenExpired    = errors.New("token has expired")
	ErrBadSignature    = errors.New("invalid token signature")
	ErrWrongGrant      = errors.New("invalid grant type")
	ErrMalformedClaims = errors.New("malformed token")
)

// TokenClaims is what the auth service signs for machine clients. Nothing here is persisted.
type TokenClaims struct {
	ClientID  string `json:"client_id"`
	Scope     string `json:"scope,omitempty"`
	GrantType string `json:"grant_type,omitempty"`
	jwt.RegisteredClaims
}

func (c *TokenClaims) Scopes() []string {
	return strings.Fields(c.Scope)
}

type Validator struct {
	secret    []byte
	algorithm string
	now       func() time.Time
}

type Option func(*Validator)

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func NewValidator(secret, algorithm string, opts ...Option) (*Validator, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	if _, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", algorithm)
	}

	v := &Validator{
		secret:    []byte(secret),
		algorithm: algorithm,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// ExtractBearer returns the token of an "Authorization: Bearer <token>" header value.
func ExtractBearer(header string) (string, error) {
	parts := strings.Fields(header)
	if len(parts) == 0 {
		return "", ErrMissingToken
	}
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", fmt.Errorf("%w: invalid authorization header format", ErrMalformedClaims)
	}
	return parts[1], nil
}

func (v *Validator) Validate(tokenString string) (*TokenClaims, error) {
	if tokenString == "" {
		return nil, ErrMissingToken
	}

	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			return v.secret, nil
		},
		jwt.WithValidMethods([]string{v.algorithm}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		return nil, classify(err)
	}

	if claims.ClientID == "" {
		return nil, fmt.Errorf("%w: missing client_id", ErrMalformedClaims)
	}

	if claims.GrantType != "" && claims.GrantType != GrantClientCredentials {
		return nil, fmt.Errorf("%w: %s", ErrWrongGrant, claims.GrantType)
	}

	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformedClaims, err)
	}
}
