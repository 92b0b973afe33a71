package auth

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// defaultServiceTTL is used when no TTL is configured.
const defaultServiceTTL = 60 * time.Minute

// refreshMargin is how long before expiry a TokenSource mints a new token.
const refreshMargin = time.Minute

// ServiceClaims extends JWT standard claims with the granted scopes.
type ServiceClaims struct {
	jwt.RegisteredClaims
	Scopes []Scope `json:"scp"`
}

// Allows reports whether the claims grant scope s. Write implies read.
func (c *ServiceClaims) Allows(s Scope) bool {
	if slices.Contains(c.Scopes, s) {
		return true
	}
	return s == ScopeRead && slices.Contains(c.Scopes, ScopeWrite)
}

// GenerateServiceToken creates a signed HS256 service token.
// A non-positive ttl selects 60 minutes.
func GenerateServiceToken(secret, issuer, subject string, scopes []Scope, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrNoSecret
	}
	if ttl <= 0 {
		ttl = defaultServiceTTL
	}
	for _, s := range scopes {
		if !ValidScope(s) {
			return "", fmt.Errorf("unknown scope %q", s)
		}
	}

	now := time.Now()
	claims := ServiceClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing service token: %w", err)
	}
	return signed, nil
}

// ParseToken validates a service token and returns its claims.
// It checks the signature, expiry, issuer (when non-empty), and subject.
func ParseToken(tokenString, secret, issuer string) (*ServiceClaims, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &ServiceClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*ServiceClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	return claims, nil
}

// TokenSource mints service tokens and reuses one until it nears expiry.
type TokenSource struct {
	secret  string
	issuer  string
	subject string
	scopes  []Scope
	ttl     time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
	now     func() time.Time
}

// NewTokenSource creates a TokenSource for subject with the given scopes.
func NewTokenSource(secret, issuer, subject string, scopes []Scope, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = defaultServiceTTL
	}
	return &TokenSource{
		secret:  secret,
		issuer:  issuer,
		subject: subject,
		scopes:  slices.Clone(scopes),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Token returns a valid token, minting a new one when needed.
func (s *TokenSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.token != "" && now.Add(refreshMargin).Before(s.expires) {
		return s.token, nil
	}
	tok, err := GenerateServiceToken(s.secret, s.issuer, s.subject, s.scopes, s.ttl)
	if err != nil {
		return "", err
	}
	s.token = tok
	s.expires = now.Add(s.ttl)
	return tok, nil
}
