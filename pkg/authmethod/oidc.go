package authmethod

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	// ErrInvalidIDToken is returned when an ID token fails signature or claim checks.
	ErrInvalidIDToken = errors.New("invalid id token")
	// ErrUnknownProvider is returned for a provider with no configured verifier.
	ErrUnknownProvider = errors.New("unknown identity provider")
	// ErrProviderKeysUnavailable is returned when the provider's signing keys
	// cannot be fetched. It is transient.
	ErrProviderKeysUnavailable = errors.New("identity provider keys unavailable")
)

// IDTokenClaims are the verified claims the OAuth step relies on.
type IDTokenClaims struct {
	Subject string
	Nonce   string
}

// IDTokenVerifier checks an OpenID Connect ID token issued by provider.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, provider, rawToken string) (IDTokenClaims, error)
}

// OIDCProvider describes one identity provider whose ID tokens are accepted.
type OIDCProvider struct {
	Name     string
	Issuer   string
	ClientID string
	Keyfunc  jwt.Keyfunc
}

type idTokenClaims struct {
	Nonce string `json:"nonce"`
	jwt.RegisteredClaims
}

// OIDCVerifier verifies ID tokens against the issuer, audience and signing
// keys of each configured provider.
type OIDCVerifier struct {
	providers map[string]OIDCProvider
	leeway    time.Duration
	now       func() time.Time
}

func NewOIDCVerifier(providers ...OIDCProvider) *OIDCVerifier {
	v := &OIDCVerifier{
		providers: make(map[string]OIDCProvider, len(providers)),
		leeway:    30 * time.Second,
		now:       time.Now,
	}
	for _, p := range providers {
		v.providers[p.Name] = p
	}
	return v
}

// WithClock replaces the clock used for expiry checks.
func (v *OIDCVerifier) WithClock(now func() time.Time) *OIDCVerifier {
	v.now = now
	return v
}

func (v *OIDCVerifier) VerifyIDToken(ctx context.Context, provider, rawToken string) (IDTokenClaims, error) {
	p, ok := v.providers[provider]
	if !ok {
		return IDTokenClaims{}, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}

	var claims idTokenClaims
	_, err := jwt.ParseWithClaims(rawToken, &claims, p.Keyfunc,
		jwt.WithValidMethods([]string{"RS256", "ES256"}),
		jwt.WithIssuer(p.Issuer),
		jwt.WithAudience(p.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, ErrProviderKeysUnavailable) {
			return IDTokenClaims{}, err
		}
		return IDTokenClaims{}, fmt.Errorf("%w: %v", ErrInvalidIDToken, err)
	}
	if claims.Subject == "" || claims.Nonce == "" {
		return IDTokenClaims{}, fmt.Errorf("%w: missing sub or nonce", ErrInvalidIDToken)
	}
	return IDTokenClaims{Subject: claims.Subject, Nonce: claims.Nonce}, nil
}

// NewJWKSKeyfunc returns a jwt.Keyfunc that resolves the token's kid against
// the provider's JSON Web Key Set at jwksURL. The set is cached and refreshed
// in the background for as long as ctx lives.
func NewJWKSKeyfunc(ctx context.Context, jwksURL string) (jwt.Keyfunc, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL, jwk.WithMinRefreshInterval(15*time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to register jwks url: %w", err)
	}

	return func(token *jwt.Token) (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		set, err := cache.Get(fetchCtx, jwksURL)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderKeysUnavailable, err)
		}

		kid, _ := token.Header["kid"].(string)
		key, ok := set.LookupKeyID(kid)
		if !ok {
			return nil, fmt.Errorf("no signing key for kid %q", kid)
		}
		var raw interface{}
		if err := key.Raw(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode signing key: %w", err)
		}
		return raw, nil
	}, nil
}
