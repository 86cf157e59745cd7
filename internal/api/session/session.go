// Package session implements the signed cookie that carries an authenticated
// user id and its per-session CSRF secret.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the session cookie issued on token consumption.
const CookieName = "session"

var ErrInvalid = errors.New("invalid session")

// Session is the authenticated state carried by a valid cookie.
type Session struct {
	UserID uint
	CSRF   string
}

type claims struct {
	jwt.RegisteredClaims
	CSRF string `json:"csrf"`
}

// Manager signs and verifies session cookies.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a manager signing with secret; sessions expire after ttl.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Issue mints a cookie value for userID with a fresh CSRF secret. Setting the
// returned value replaces any previous session the client held.
func (m *Manager) Issue(userID uint) (string, *Session, error) {
	csrf, err := randomHex(16)
	if err != nil {
		return "", nil, fmt.Errorf("generate csrf secret: %w", err)
	}
	now := time.Now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(userID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
		CSRF: csrf,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", nil, fmt.Errorf("sign session: %w", err)
	}
	return signed, &Session{UserID: userID, CSRF: csrf}, nil
}

// Parse verifies a cookie value and returns the session it carries.
func (m *Manager) Parse(raw string) (*Session, error) {
	if raw == "" {
		return nil, ErrInvalid
	}
	c := &claims{}
	token, err := jwt.ParseWithClaims(raw, c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalid
	}
	uid, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil || uid == 0 || c.CSRF == "" {
		return nil, ErrInvalid
	}
	return &Session{UserID: uint(uid), CSRF: c.CSRF}, nil
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
