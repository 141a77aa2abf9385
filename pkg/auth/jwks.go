package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog"
)

// JWKSVerifierConfig contains configuration for the JWKS verifier
type JWKSVerifierConfig struct {
	// JWKSURL is the URL to fetch the signing key set from
	JWKSURL string

	// Issuer is the expected iss claim; empty skips the check
	Issuer string

	// Audience is the expected aud claim; empty skips the check
	Audience string
}

// JWKSVerifier validates RS256 tokens against a remote JWKS
type JWKSVerifier struct {
	issuer    string
	audience  string
	jwksURL   string
	jwksCache *jwk.Cache
	logger    zerolog.Logger

	registerMu sync.Mutex
	registered bool
}

// NewJWKSVerifier creates a new JWKS verifier. The context bounds the
// lifetime of the key cache's background refresh. Construction never
// touches the network; the JWKS URL is registered on first use.
func NewJWKSVerifier(ctx context.Context, config JWKSVerifierConfig, logger zerolog.Logger) (*JWKSVerifier, error) {
	if config.JWKSURL == "" {
		return nil, ErrMissingJWKSURL
	}

	// In jwx v3, NewCache requires an httprc.Client
	cache, err := jwk.NewCache(ctx, httprc.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS cache: %w", err)
	}

	return &JWKSVerifier{
		issuer:    config.Issuer,
		audience:  config.Audience,
		jwksURL:   config.JWKSURL,
		jwksCache: cache,
		logger:    logger.With().Str("component", "jwks-verifier").Logger(),
	}, nil
}

// ensureRegistered registers the JWKS URL with the cache on first use.
// A failed registration is retried on the next call, so a brief
// identity-provider outage at boot does not wedge the verifier.
func (v *JWKSVerifier) ensureRegistered(ctx context.Context) error {
	v.registerMu.Lock()
	defer v.registerMu.Unlock()

	if v.registered {
		return nil
	}

	registerCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := v.jwksCache.Register(registerCtx, v.jwksURL); err != nil {
		return fmt.Errorf("failed to register JWKS URL: %w", err)
	}

	v.registered = true
	return nil
}

// Verify validates a token and returns its claims
func (v *JWKSVerifier) Verify(ctx context.Context, tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrNoToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return v.keyFromJWKS(ctx, token)
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("failed to get claims from token")
	}

	if err := v.validateClaims(claims); err != nil {
		return nil, err
	}

	subject, err := claims.GetSubject()
	if err != nil {
		v.logger.Debug().Err(err).Msg("Token carries no subject claim")
	}

	return &Claims{Subject: subject, Raw: claims}, nil
}

// keyFromJWKS resolves the signing key named by the token header
func (v *JWKSVerifier) keyFromJWKS(ctx context.Context, token *jwt.Token) (interface{}, error) {
	if err := v.ensureRegistered(ctx); err != nil {
		return nil, err
	}

	// Validate the signing method
	if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	// Get the key ID from the token header
	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("token header missing kid")
	}

	// In jwx v3, Get is replaced with Lookup
	keySet, err := v.jwksCache.Lookup(ctx, v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup JWKS: %w", err)
	}

	key, found := keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key ID %s not found in JWKS", kid)
	}

	// In jwx v3, the Raw method is replaced with the Export function
	var rawKey interface{}
	if err := jwk.Export(key, &rawKey); err != nil {
		return nil, fmt.Errorf("failed to export raw key: %w", err)
	}

	return rawKey, nil
}

// validateClaims validates the claims in the token
func (v *JWKSVerifier) validateClaims(claims jwt.MapClaims) error {
	// Validate the issuer if configured
	if v.issuer != "" {
		issuer, err := claims.GetIssuer()
		if err != nil || issuer != v.issuer {
			return ErrInvalidIssuer
		}
	}

	// Validate the audience if configured
	if v.audience != "" {
		audiences, err := claims.GetAudience()
		if err != nil {
			return ErrInvalidAudience
		}

		found := false
		for _, aud := range audiences {
			if aud == v.audience {
				found = true
				break
			}
		}
		if !found {
			return ErrInvalidAudience
		}
	}

	// The expiration time must be present. The parser already rejected
	// tokens whose exp lies in the past.
	expirationTime, err := claims.GetExpirationTime()
	if err != nil || expirationTime == nil || expirationTime.Before(time.Now()) {
		return ErrTokenExpired
	}

	return nil
}
