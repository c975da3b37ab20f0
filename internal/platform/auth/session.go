// Package auth manages console sessions. Authentication itself happens in
// the scribe engine (Google sign-in); the console wraps the engine session
// in a signed JWT cookie so route gating needs no engine round-trip.
package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the console session cookie.
const CookieName = "console_session"

// Claims is the console session token payload. EngineSession carries the
// engine's own cookie pair for relay on proxied calls.
type Claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	Name          string `json:"name"`
	Picture       string `json:"picture,omitempty"`
	EngineSession string `json:"engine_session"`
}

// Manager signs and parses console session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager creates a session manager. An empty secret gets replaced by a
// random ephemeral one, which is acceptable only in development.
func NewManager(secret string, ttl time.Duration) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Manager{secret: key, ttl: ttl}
}

// TTL returns the session lifetime, also used for the cookie max-age.
func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue mints a signed session token for the given identity.
func (m *Manager) Issue(email, name, picture, engineSession string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		Email:         email,
		Name:          name,
		Picture:       picture,
		EngineSession: engineSession,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Parse validates a session token and returns its claims.
func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	return claims, nil
}
