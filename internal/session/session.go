// Package session issues and verifies the bearer tokens created by a
// successful vault unlock (spec §3 Session token, §4.11 Control API
// authentication).
package session

import (
	"crypto/rand"
	"errors"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/agenshield/agenshield/internal/model"
)

var (
	ErrExpired         = errors.New("session: token expired")
	ErrInvalid         = errors.New("session: invalid token")
	ErrRefreshTooEarly = errors.New("session: token is not close enough to expiry to refresh")
)

// refreshWindow is how far before expiry a token may be refreshed.
const refreshWindow = 2 * time.Minute

type claims struct {
	Permission string `json:"perm"`
	jwt.RegisteredClaims
}

// Manager issues and verifies HMAC-signed bearer tokens and tracks each
// active session's lock-timeout deadline.
type Manager struct {
	signingKey []byte
	ttl        time.Duration
	lockAfter  time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time // token id -> last-activity timestamp
}

func NewManager(ttl, lockAfter time.Duration) (*Manager, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return &Manager{signingKey: key, ttl: ttl, lockAfter: lockAfter, lastSeen: map[string]time.Time{}}, nil
}

// Issue creates a fresh bearer token for the given permission class,
// called on a successful unlock.
func (m *Manager) Issue(permission model.SessionPermission) (string, error) {
	now := time.Now()
	tokenID := randomID()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Permission: string(permission),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	})
	signed, err := tok.SignedString(m.signingKey)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.lastSeen[tokenID] = now
	m.mu.Unlock()
	return signed, nil
}

// Verify parses and validates a bearer token, returning its permission
// class, and checks the lock-timeout: a session with no activity for
// longer than lockAfter is treated as destroyed even if not yet expired.
func (m *Manager) Verify(token string) (model.SessionPermission, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return "", ErrInvalid
	}

	m.mu.Lock()
	last, seen := m.lastSeen[c.ID]
	now := time.Now()
	if seen && m.lockAfter > 0 && now.Sub(last) > m.lockAfter {
		delete(m.lastSeen, c.ID)
		m.mu.Unlock()
		return "", ErrExpired
	}
	if seen {
		m.lastSeen[c.ID] = now
	}
	m.mu.Unlock()

	if !seen {
		return "", ErrInvalid
	}
	return model.SessionPermission(c.Permission), nil
}

// Refresh re-issues a token carrying the same permission class if the
// presented token is valid, not destroyed or past its lock timeout, and
// within refreshWindow of expiry.
func (m *Manager) Refresh(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalid
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return "", ErrInvalid
	}
	if time.Until(c.ExpiresAt.Time) > refreshWindow {
		return "", ErrRefreshTooEarly
	}

	m.mu.Lock()
	last, seen := m.lastSeen[c.ID]
	delete(m.lastSeen, c.ID)
	m.mu.Unlock()
	if !seen {
		return "", ErrInvalid
	}
	if m.lockAfter > 0 && time.Since(last) > m.lockAfter {
		return "", ErrExpired
	}
	return m.Issue(model.SessionPermission(c.Permission))
}

// Destroy invalidates a token immediately, on lock() or an explicit
// logout.
func (m *Manager) Destroy(token string) {
	parsed, _ := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.signingKey, nil
	})
	if parsed == nil {
		return
	}
	if c, ok := parsed.Claims.(*claims); ok {
		m.mu.Lock()
		delete(m.lastSeen, c.ID)
		m.mu.Unlock()
	}
}

func randomID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	const hex = "0123456789abcdef"
	out := make([]byte, 32)
	for i, v := range b {
		out[i*2] = hex[v>>4]
		out[i*2+1] = hex[v&0xf]
	}
	return string(out)
}
