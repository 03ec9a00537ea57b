package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoToken signals that no session credential has been supplied yet.
	ErrNoToken = errors.New("session: no token")
	// ErrSessionExpired signals the bearer token's exp claim has passed.
	ErrSessionExpired = errors.New("session: token expired")
)

// StaticSource serves a fixed opaque bearer token. The token is issued and
// validated by the external backend; nothing here inspects it.
type StaticSource struct {
	token string
}

func NewStaticSource(token string) *StaticSource {
	return &StaticSource{token: token}
}

func (s *StaticSource) Token() (string, error) {
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// JWTSource serves a bearer token that is known to be a JWT and fails fast
// once its exp claim has passed, sparing a doomed backend round trip. The
// signature is still the backend's to verify; only registered claims are
// read here, and only HMAC-signed tokens are accepted for parsing.
type JWTSource struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewJWTSource(token string) (*JWTSource, error) {
	s := &JWTSource{now: time.Now}
	if token != "" {
		if err := s.Set(token); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set replaces the current token after extracting its expiry.
func (s *JWTSource) Set(token string) error {
	claims := jwt.RegisteredClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	if err != nil {
		return fmt.Errorf("session: parse token: %w", err)
	}
	if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
		return fmt.Errorf("session: unexpected signing method: %v", tok.Header["alg"])
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	s.mu.Lock()
	s.token = token
	s.expiresAt = expiresAt
	s.mu.Unlock()
	return nil
}

func (s *JWTSource) Token() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == "" {
		return "", ErrNoToken
	}
	if !s.expiresAt.IsZero() && !s.now().Before(s.expiresAt) {
		return "", ErrSessionExpired
	}
	return s.token, nil
}

// ExpiresAt reports the token's exp claim; zero when absent or no token.
func (s *JWTSource) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}
