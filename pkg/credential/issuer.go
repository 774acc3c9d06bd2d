// Package credential mints and parses the step-up tokens returned when an
// mfa challenge completes.
package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tendant/simple-mfa/pkg/mfa"
)

const (
	DefaultAudience = "mfa"
	DefaultIssuer   = "simple-mfa"
	DefaultExpiry   = 5 * time.Minute
)

var ErrInvalidCredential = errors.New("invalid mfa credential")

// Claims is the payload of a step-up token.
type Claims struct {
	Action mfa.Action     `json:"action"`
	AMR    []mfa.MethodID `json:"amr"`
	jwt.RegisteredClaims
}

// JwtIssuer implements mfa.CredentialIssuer with HS256 tokens.
type JwtIssuer struct {
	Secret   string
	Issuer   string
	Audience string
	Expiry   time.Duration

	now func() time.Time
}

type Option func(*JwtIssuer)

func WithIssuer(issuer string) Option {
	return func(i *JwtIssuer) {
		i.Issuer = issuer
	}
}

func WithExpiry(expiry time.Duration) Option {
	return func(i *JwtIssuer) {
		if expiry > 0 {
			i.Expiry = expiry
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *JwtIssuer) {
		i.now = now
	}
}

func NewJwtIssuer(secret string, opts ...Option) *JwtIssuer {
	i := &JwtIssuer{
		Secret:   secret,
		Issuer:   DefaultIssuer,
		Audience: DefaultAudience,
		Expiry:   DefaultExpiry,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

func (i *JwtIssuer) Issue(ctx context.Context, subjectID string, action mfa.Action, methods []mfa.MethodID) (string, error) {
	if i.Secret == "" {
		return "", fmt.Errorf("credential secret is not configured")
	}
	now := i.now().UTC()
	claims := Claims{
		Action: action,
		AMR:    methods,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(i.Expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    i.Issuer,
			Subject:   subjectID,
			ID:        uuid.New().String(),
			Audience:  jwt.ClaimStrings{i.Audience},
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString([]byte(i.Secret))
	if err != nil {
		slog.Error("Failed to sign mfa credential", "subject", subjectID, "err", err)
		return "", err
	}
	return ss, nil
}

// Parse validates tokenStr and returns its claims.
func (i *JwtIssuer) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(i.Secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(i.Audience),
		jwt.WithIssuer(i.Issuer),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
